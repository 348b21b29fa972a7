package fsstore

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/octofork/radlink/objstore"
)

// Refs is a filesystem-backed objstore.RefStore. Each ref is a single file
// at root/<name> containing the multibase string of the current id;
// swapping a ref to the zero id removes its file. CompareAndSwap is
// guarded by an in-process mutex only and writes the new value to
// "<path>.tmp" before renaming it into place; there is no cross-process
// lock.
type Refs struct {
	root string
	mu   sync.Mutex
}

func NewRefs(root string) (*Refs, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Refs{root: root}, nil
}

func (r *Refs) pathFor(name string) string {
	return filepath.Join(r.root, filepath.FromSlash(name))
}

func (r *Refs) Get(name string) (objstore.ID, bool, error) {
	b, err := os.ReadFile(r.pathFor(name))
	if err != nil {
		if os.IsNotExist(err) {
			return objstore.ID{}, false, nil
		}
		return objstore.ID{}, false, err
	}
	id, err := cid.Decode(strings.TrimSpace(string(b)))
	if err != nil {
		return objstore.ID{}, false, err
	}
	return id, true, nil
}

func (r *Refs) CompareAndSwap(name string, oldID, newID objstore.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok, err := r.Get(name)
	if err != nil {
		return err
	}
	if ok != oldID.Defined() || (ok && cur != oldID) {
		return objstore.ErrRefMismatch
	}

	if !newID.Defined() {
		if err := os.Remove(r.pathFor(name)); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	path := r.pathFor(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(newID.String()+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (r *Refs) List(prefix string) ([]string, error) {
	var out []string
	base := r.root
	err := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, rerr := filepath.Rel(base, path)
		if rerr != nil {
			return rerr
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
