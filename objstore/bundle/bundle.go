// Package bundle exports and imports deterministic TAR bundles of objects,
// used by the wire transport's GetBundle RPC to transfer many objects in
// one round trip ("thin pack" transfer) instead of one RPC per object.
package bundle

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/octofork/radlink/objstore"
)

// FormatVersion is the current bundle index schema version.
const FormatVersion = 1

var epoch0 = time.Unix(0, 0).UTC()

// ExportOptions controls bundle export behavior.
type ExportOptions struct {
	// Labels is optional, non-authoritative metadata mapping names to ids
	// (e.g. ref name -> tip object id).
	Labels map[string]objstore.ID
	// IncludeIndex controls whether index.json is included.
	IncludeIndex bool
}

// Export writes a deterministic TAR bundle containing the objects for the
// given ids.
//
// The bundle bytes are deterministic: entry order is lexicographic and TAR
// headers are normalized. All exported bytes are validated against their
// ids.
func Export(w io.Writer, store objstore.Store, ids []objstore.ID, opts ExportOptions) error {
	if store == nil {
		return fmt.Errorf("bundle: nil store")
	}

	uniq := make(map[string]objstore.ID, len(ids))
	for _, id := range ids {
		if !id.Defined() {
			return objstore.ErrInvalidID
		}
		uniq[id.String()] = id
	}

	idStrings := make([]string, 0, len(uniq))
	for s := range uniq {
		idStrings = append(idStrings, s)
	}
	sort.Strings(idStrings)

	tw := tar.NewWriter(w)

	blocks := make([]indexBlock, 0, len(idStrings))
	for _, s := range idStrings {
		id := uniq[s]
		b, err := store.Get(id)
		if err != nil {
			_ = tw.Close()
			return err
		}
		got, err := objstore.ComputeID(b)
		if err != nil {
			_ = tw.Close()
			return err
		}
		if got.String() != id.String() {
			_ = tw.Close()
			return objstore.ErrIDMismatch
		}

		entryPath := "blocks/" + id.String()
		if err := writeFile(tw, entryPath, b); err != nil {
			_ = tw.Close()
			return err
		}
		blocks = append(blocks, indexBlock{ID: id.String(), Size: len(b)})
	}

	if opts.IncludeIndex {
		idx := indexJSON{
			Version:   FormatVersion,
			IDCodec:   "raw",
			Multihash: "sha2-256",
			Blocks:    blocks,
			Labels:    nil,
		}

		if len(opts.Labels) > 0 {
			keys := make([]string, 0, len(opts.Labels))
			for k := range opts.Labels {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			labels := make([]indexLabel, 0, len(keys))
			for _, k := range keys {
				if k == "" {
					_ = tw.Close()
					return fmt.Errorf("bundle: empty label key")
				}
				v := opts.Labels[k]
				if !v.Defined() {
					_ = tw.Close()
					return objstore.ErrInvalidID
				}
				labels = append(labels, indexLabel{Name: k, ID: v.String()})
			}
			idx.Labels = labels
		}

		b, err := marshalCanonicalIndexJSON(idx)
		if err != nil {
			_ = tw.Close()
			return err
		}
		if err := writeFile(tw, "index.json", b); err != nil {
			_ = tw.Close()
			return err
		}
	}

	return tw.Close()
}

// ImportOptions controls bundle import behavior.
type ImportOptions struct {
	// IgnoreUnknown controls whether unknown TAR entries are ignored.
	//
	// Default (false) is fail-closed: unknown entries cause Import to
	// return an error.
	IgnoreUnknown bool

	// Require, if non-empty, is the exact set of ids the caller needs out
	// of this bundle. It exists because a replication fetch always knows
	// in advance precisely which ids a ref update depends on (they come
	// straight out of a signed-refs manifest's RefIDs()), so an
	// incomplete bundle — one a size cap truncated, or one built against
	// a store that raced a GC pass — is detectable the moment the stream
	// ends, with objstore.ErrNotFound naming the first id that never
	// showed up, rather than surfacing later as an inexplicable missing
	// object deep in replicate's commit path.
	Require []objstore.ID
}

// Import reads a bundle from r and imports all blocks into store.
//
// Default behavior is fail-closed: unknown entries cause an error. Use
// ImportWithOptions to allow ignoring unknown entries or to require a
// specific id set.
func Import(r io.Reader, store objstore.Store) error {
	return ImportWithOptions(r, store, ImportOptions{})
}

// ImportWithOptions reads a bundle from r and imports all blocks into store.
//
// It validates that each block's bytes match both the filename id and the
// computed id, and, if opts.Require is set, that every required id was
// present in the bundle.
func ImportWithOptions(r io.Reader, store objstore.Store, opts ImportOptions) error {
	if store == nil {
		return fmt.Errorf("bundle: nil store")
	}

	tr := tar.NewReader(r)
	seen := map[string]struct{}{}

	for {
		h, err := tr.Next()
		if err == io.EOF {
			return requireAllPresent(opts.Require, seen)
		}
		if err != nil {
			return err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}

		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}

		if name == "index.json" || strings.HasPrefix(name, "manifests/") {
			_, _ = io.Copy(io.Discard, tr)
			continue
		}

		if !strings.HasPrefix(name, "blocks/") {
			if opts.IgnoreUnknown {
				_, _ = io.Copy(io.Discard, tr)
				continue
			}
			return fmt.Errorf("bundle: unknown entry: %s", name)
		}

		idStr := strings.TrimPrefix(name, "blocks/")
		id, derr := cid.Decode(idStr)
		if derr != nil || !id.Defined() {
			return objstore.ErrInvalidID
		}

		payload, rerr := io.ReadAll(tr)
		if rerr != nil {
			return rerr
		}
		got, herr := objstore.ComputeID(payload)
		if herr != nil {
			return herr
		}
		if got.String() != id.String() {
			return objstore.ErrIDMismatch
		}

		key := id.String()
		if _, ok := seen[key]; ok {
			return fmt.Errorf("bundle: duplicate block entry: %s", key)
		}
		seen[key] = struct{}{}

		putID, perr := store.Put(payload)
		if perr != nil {
			return perr
		}
		if putID.String() != id.String() {
			return objstore.ErrIDMismatch
		}
	}
}

// requireAllPresent checks every id in required against seen (a set of
// id.String() values observed during Import), returning objstore.ErrNotFound
// naming the first one missing.
func requireAllPresent(required []objstore.ID, seen map[string]struct{}) error {
	for _, id := range required {
		if _, ok := seen[id.String()]; !ok {
			return fmt.Errorf("bundle: required object %s missing from bundle: %w", id, objstore.ErrNotFound)
		}
	}
	return nil
}

type indexJSON struct {
	Version   int          `json:"version"`
	IDCodec   string       `json:"idCodec"`
	Multihash string       `json:"multihash"`
	Blocks    []indexBlock `json:"blocks"`
	Labels    []indexLabel `json:"labels,omitempty"`
}

type indexBlock struct {
	ID   string `json:"id"`
	Size int    `json:"size"`
}

type indexLabel struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

func marshalCanonicalIndexJSON(idx indexJSON) ([]byte, error) {
	b, err := json.Marshal(idx)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		Uid:      0,
		Gid:      0,
		Uname:    "",
		Gname:    "",
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}

	parts := strings.Split(name, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." {
			return ""
		}
		if part == ".." {
			return ""
		}
		out = append(out, part)
	}
	return strings.Join(out, "/")
}
