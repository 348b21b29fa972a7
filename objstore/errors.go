package objstore

import "errors"

var (
	ErrNotFound   = errors.New("objstore: not found")
	ErrInvalidID  = errors.New("objstore: invalid object id")
	ErrIDMismatch = errors.New("objstore: object id mismatch")
	ErrImmutable  = errors.New("objstore: immutable object mismatch")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
