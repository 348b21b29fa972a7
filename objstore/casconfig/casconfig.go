// Package casconfig provides config-driven runtime selection of a node's
// full local storage topology: one or more objstore.Store backends via
// casregistry (e.g. a local cache plus an IPFS mirror), plus the
// objstore.RefStore a replicate.Engine pins its current ref values in, so a
// host process can describe both halves in a config file instead of
// command-line flags.
package casconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/objstore/casregistry"
	"github.com/octofork/radlink/objstore/fsstore"
)

// Config describes how to open one or more object store backends via
// casregistry, plus (optionally) the ref store a replicate.Engine needs
// alongside them. Callers still need to link desired backend plugins via
// blank imports.
//
// WritePolicy values:
//   - "first" (default): write only to the first backend; reads fall back
//     in order (see objstore.MultiStore).
//   - "all": write to all backends and require id equality (see
//     objstore.ReplicatingStore).
//
// RefsDir, if set, is a filesystem directory opened as an
// objstore.RefStore (objstore/fsstore.NewRefs). There is deliberately no
// multi-backend or registry story for the ref half of the topology:
// CompareAndSwap's whole point is a single authoritative current value per
// name, and mirroring that across backends the way Backends does for
// immutable blobs would just invite two stores disagreeing about which
// compare-and-swap won. A node that only serves blobs (e.g.
// cmd/radlink-objd) leaves RefsDir empty and Open returns a nil RefStore.
//
// Example:
//
//	{
//	  "write_policy": "all",
//	  "backends": [
//	    {"name":"fsstore", "config":{"fsstore-dir":"/tmp/objects"}},
//	    {"name":"ipfsstore", "config":{"ipfsstore-bin":"/usr/local/bin/ipfs"}}
//	  ],
//	  "refs_dir": "/tmp/refs"
//	}
type Config struct {
	WritePolicy string          `json:"write_policy,omitempty"`
	Backends    []BackendConfig `json:"backends"`
	RefsDir     string          `json:"refs_dir,omitempty"`
}

type BackendConfig struct {
	// Name is the casregistry backend name to open (e.g. "grpc", "fsstore", "ipfsstore").
	Name string `json:"name"`
	// ID is an optional stable alias used for identification and per-backend id maps.
	// If empty, Name is used.
	ID     string            `json:"id,omitempty"`
	Config map[string]string `json:"config,omitempty"`
}

func LoadFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("casconfig: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("casconfig: at least one backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return errors.New("casconfig: backend name is required")
		}
		id := b.Name
		if b.ID != "" {
			id = b.ID
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("casconfig: duplicate backend id %q", id)
		}
		seen[id] = struct{}{}
	}
	switch c.WritePolicy {
	case "", "first", "all":
		return nil
	default:
		return fmt.Errorf("casconfig: invalid write_policy %q", c.WritePolicy)
	}
}

// Open opens the blob store and, if RefsDir is set, the ref store a
// replicate.Engine needs to run — the full node-local storage topology
// described by config, in one call.
//
// If preferredBackend is non-empty, blob backends are reordered so
// preferredBackend is first (and thus used for writes when
// WritePolicy=="first"). The returned RefStore is nil iff RefsDir=="".
func (c Config) Open(usage casregistry.Usage, preferredBackend string) (objstore.Store, objstore.RefStore, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, nil, err
	}

	ordered := append([]BackendConfig(nil), c.Backends...)
	if preferredBackend != "" {
		idx := -1
		for i := range ordered {
			if ordered[i].Name == preferredBackend || ordered[i].ID == preferredBackend {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, nil, nil, fmt.Errorf("casconfig: preferred backend %q not found in config", preferredBackend)
		}
		if idx != 0 {
			b := ordered[idx]
			copy(ordered[1:idx+1], ordered[0:idx])
			ordered[0] = b
		}
	}

	named := make([]objstore.NamedStore, 0, len(ordered))
	closers := make([]func() error, 0, len(ordered))
	for _, b := range ordered {
		store, closeFn, err := casregistry.OpenWithConfig(b.Name, usage, b.Config)
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
			return nil, nil, nil, err
		}
		name := b.Name
		if b.ID != "" {
			name = b.ID
		}
		named = append(named, objstore.NamedStore{Name: name, Store: store})
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}

	var refs objstore.RefStore
	if c.RefsDir != "" {
		r, err := fsstore.NewRefs(c.RefsDir)
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
			return nil, nil, nil, err
		}
		refs = r
	}

	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	if len(named) == 1 {
		return named[0].Store, refs, closeAll, nil
	}

	switch c.WritePolicy {
	case "", "first":
		stores := make([]objstore.Store, 0, len(named))
		for _, n := range named {
			stores = append(stores, n.Store)
		}
		return objstore.MultiStore{Stores: stores}, refs, closeAll, nil
	case "all":
		return objstore.ReplicatingStore{Backends: named}, refs, closeAll, nil
	default:
		return nil, nil, nil, fmt.Errorf("casconfig: invalid write_policy %q", c.WritePolicy)
	}
}
