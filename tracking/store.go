package tracking

import (
	"sort"

	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/urn"
)

// Policy is the CAS-style existence precondition for track/untrack, per
// spec.md §4.5's operation table.
type Policy int

const (
	// Any never fails on existence: track overwrites-or-creates,
	// untrack deletes-or-no-ops.
	Any Policy = iota
	// MustExist requires the entry to already exist: track overwrites
	// only, untrack deletes only.
	MustExist
	// MustNotExist requires the entry to be absent: track creates only.
	MustNotExist
)

// Store is the tracking-configuration CRUD API, backed by an
// objstore.Store for the immutable config blobs and an objstore.RefStore
// for the mutable (urn, peer) -> blob-id pointers.
type Store struct {
	Blobs objstore.Store
	Refs  objstore.RefStore
}

// Track creates or overwrites the entry at key according to policy, per
// the operation table in spec.md §4.5.
func (s *Store) Track(key Key, cfg Config, policy Policy) error {
	return s.apply(key, TrackOp(cfg, policy))
}

// Untrack removes the entry at key according to policy.
func (s *Store) Untrack(key Key, policy Policy) error {
	return s.apply(key, UntrackOp(policy))
}

// RunBatch fuses ops (per Fuse) and applies the result to key in one
// atomic compare-and-swap, so the batch either changes the entry exactly
// as the fused operation describes or changes nothing at all.
func (s *Store) RunBatch(key Key, ops []Op) error {
	fused, err := Fuse(ops)
	if err != nil {
		return err
	}
	return s.apply(key, fused)
}

// apply executes a single effective Op against key's ref with one
// compare-and-swap, enforcing op.policy's precondition against the ref's
// actual current state.
func (s *Store) apply(key Key, op Op) error {
	key = key.normalized()
	name := refName(key.URN, key.Peer)

	curID, exists, err := s.Refs.Get(name)
	if err != nil {
		return errtax.Wrap(errtax.Storage, "TRACKING-REF-GET", "failed to read tracking ref", err)
	}
	switch op.policy {
	case MustExist:
		if !exists {
			return errtax.New(errtax.NotFound, "TRACKING-NOT-FOUND", "tracking entry does not exist")
		}
	case MustNotExist:
		if exists {
			return errtax.New(errtax.Exists, "TRACKING-EXISTS", "tracking entry already exists")
		}
	case Any:
		// no precondition
	}

	oldID := objstore.ID{}
	if exists {
		oldID = curID
	}

	switch op.action {
	case actionTrack:
		blob, err := Encode(op.config)
		if err != nil {
			return err
		}
		newID, err := s.Blobs.Put(blob)
		if err != nil {
			return errtax.Wrap(errtax.Storage, "TRACKING-PUT", "failed to store tracking config", err)
		}
		if err := s.Refs.CompareAndSwap(name, oldID, newID); err != nil {
			return errtax.Wrap(errtax.Storage, "TRACKING-CAS", "tracking ref changed concurrently", err)
		}
		return nil
	case actionUntrack:
		if !exists {
			return nil // Any (the only policy that reaches here unsatisfied): delete-or-no-op
		}
		if err := s.Refs.CompareAndSwap(name, oldID, objstore.ID{}); err != nil {
			return errtax.Wrap(errtax.Storage, "TRACKING-CAS", "tracking ref changed concurrently", err)
		}
		return nil
	default:
		return errtax.New(errtax.Malformed, "TRACKING-BAD-ACTION", "unrecognized batch op action")
	}
}

// Get returns the current config for key, if any.
func (s *Store) Get(key Key) (Config, bool, error) {
	key = key.normalized()
	name := refName(key.URN, key.Peer)
	id, exists, err := s.Refs.Get(name)
	if err != nil {
		return Config{}, false, errtax.Wrap(errtax.Storage, "TRACKING-REF-GET", "failed to read tracking ref", err)
	}
	if !exists {
		return Config{}, false, nil
	}
	blob, err := s.Blobs.Get(id)
	if err != nil {
		return Config{}, false, errtax.Wrap(errtax.Storage, "TRACKING-BLOB-GET", "failed to load tracking config blob", err)
	}
	cfg, err := Decode(blob)
	if err != nil {
		return Config{}, false, err
	}
	return cfg, true, nil
}

// Entry is one enumerated tracking record, as returned by List.
type Entry struct {
	Key    Key
	Config Config
}

// List enumerates tracking entries. If u is non-empty, only entries for
// that URN are returned; otherwise all entries across all URNs are
// returned. Results are sorted by (urn, peer).
func (s *Store) List(u urn.URN) ([]Entry, error) {
	prefix := "rad/remotes/"
	if u != "" {
		prefix = "rad/remotes/" + string(u) + "/"
	}
	names, err := s.Refs.List(prefix)
	if err != nil {
		return nil, errtax.Wrap(errtax.Storage, "TRACKING-LIST", "failed to list tracking refs", err)
	}
	sort.Strings(names)

	out := make([]Entry, 0, len(names))
	for _, name := range names {
		u2, peer, ok := parseRefName(name)
		if !ok {
			continue
		}
		cfg, exists, err := s.Get(Key{URN: u2, Peer: peer})
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		out = append(out, Entry{Key: Key{URN: u2, Peer: peer}, Config: cfg})
	}
	return out, nil
}

func parseRefName(name string) (urn.URN, string, bool) {
	const prefix = "rad/remotes/"
	if len(name) <= len(prefix) {
		return "", "", false
	}
	rest := name[len(prefix):]
	idx := lastSlash(rest)
	if idx < 0 {
		return "", "", false
	}
	return urn.URN(rest[:idx]), rest[idx+1:], true
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
