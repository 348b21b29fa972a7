// Package ipfsstore implements objstore.Store backed by the local Kubo
// "ipfs" CLI, for peers that want to mirror objects into a content-addressed
// network beyond direct peer-to-peer transport.
package ipfsstore

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/octofork/radlink/objstore"
)

// Store is a content-addressable store backed by the local Kubo "ipfs" CLI.
//
// This is an optional adapter. The core module remains storage-provider
// agnostic; any external store can integrate by implementing objstore.Store.
//
// Properties:
//   - Offline: operates on the local IPFS repo; does not require reaching a
//     remote daemon beyond the one already running locally.
//   - Deterministic: no wall-clock usage; validates bytes against the
//     requested id on both Put and Get.
//   - Best-effort: relies on an external "ipfs" binary (configurable).
//
// Warning: this adapter is not authoritative. Transport/reachability is not
// validity; id verification is.
type Store struct {
	bin string
	env []string
}

type Options struct {
	// Bin is the path to the ipfs binary. If empty, "ipfs" is used.
	Bin string
	// Env optionally overrides the command environment (e.g. to set IPFS_PATH).
	// If nil, the process environment is used.
	Env []string
}

func New(opts Options) *Store {
	bin := opts.Bin
	if bin == "" {
		bin = "ipfs"
	}
	return &Store{bin: bin, env: opts.Env}
}

func (s *Store) Put(data []byte) (objstore.ID, error) {
	id, err := objstore.ComputeID(data)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, objstore.ErrInvalidID
	}

	out, err := s.run(data,
		"block", "put",
		"--quiet",
		"--format=raw",
		"--mhtype=sha2-256",
		"--mhlen=32",
		"--cid-version=1",
		"/dev/stdin",
	)
	if err != nil {
		return cid.Undef, err
	}

	got, err := cid.Decode(strings.TrimSpace(string(out)))
	if err != nil {
		return cid.Undef, fmt.Errorf("ipfsstore: unexpected block put output: %w", err)
	}
	if got.String() != id.String() {
		return cid.Undef, objstore.ErrIDMismatch
	}
	return id, nil
}

func (s *Store) Get(id objstore.ID) ([]byte, error) {
	if !id.Defined() {
		return nil, objstore.ErrInvalidID
	}

	out, err := s.run(nil, "block", "get", id.String())
	if err != nil {
		if isLikelyNotFound(err) {
			return nil, objstore.ErrNotFound
		}
		return nil, err
	}

	got, herr := objstore.ComputeID(out)
	if herr != nil {
		return nil, herr
	}
	if got.String() != id.String() {
		return nil, objstore.ErrIDMismatch
	}
	return out, nil
}

func (s *Store) Has(id objstore.ID) bool {
	if !id.Defined() {
		return false
	}
	_, err := s.run(nil, "block", "stat", id.String())
	return err == nil
}

func (s *Store) run(stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.Command(s.bin, args...)
	if s.env != nil {
		cmd.Env = s.env
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		msg := strings.TrimSpace(string(ee.Stderr))
		if msg == "" {
			return nil, fmt.Errorf("ipfsstore: %v", err)
		}
		return nil, fmt.Errorf("ipfsstore: %s", msg)
	}
	return nil, err
}

func isLikelyNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "block not found")
}
