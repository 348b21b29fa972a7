package casconfig

import (
	"path/filepath"
	"testing"

	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/objstore/casregistry"
	"github.com/octofork/radlink/objstore/fsstore"
)

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"no backends", Config{}, true},
		{"missing backend name", Config{Backends: []BackendConfig{{}}}, true},
		{"duplicate id", Config{Backends: []BackendConfig{{Name: "fsstore"}, {Name: "fsstore"}}}, true},
		{"invalid write policy", Config{Backends: []BackendConfig{{Name: "fsstore"}}, WritePolicy: "bogus"}, true},
		{"valid", Config{Backends: []BackendConfig{{Name: "fsstore"}}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("Validate() = nil, want error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestConfig_Open_SingleBackendNoRefs(t *testing.T) {
	cfg := Config{
		Backends: []BackendConfig{
			{Name: "fsstore", Config: map[string]string{"fsstore-dir": t.TempDir()}},
		},
	}

	store, refs, closeFn, err := cfg.Open(casregistry.UsageCLI, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()

	if refs != nil {
		t.Fatalf("refs = %v, want nil when RefsDir is unset", refs)
	}

	id, err := store.Put([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if !store.Has(id) {
		t.Fatal("store.Has returned false for an object just written")
	}
}

func TestConfig_Open_OpensRefsDir(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Backends: []BackendConfig{
			{Name: "fsstore", Config: map[string]string{"fsstore-dir": filepath.Join(dir, "objects")}},
		},
		RefsDir: filepath.Join(dir, "refs"),
	}

	_, refs, closeFn, err := cfg.Open(casregistry.UsageCLI, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()

	if refs == nil {
		t.Fatal("refs = nil, want a RefStore when RefsDir is set")
	}

	id, err := objstore.ComputeID([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if err := refs.CompareAndSwap("heads/main", objstore.ID{}, id); err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	got, ok, err := refs.Get("heads/main")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got != id {
		t.Fatalf("Get(heads/main) = (%v, %v), want (%v, true)", got, ok, id)
	}
}

func TestConfig_Open_PreferredBackendReordersWrites(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	cfg := Config{
		WritePolicy: "first",
		Backends: []BackendConfig{
			{Name: "fsstore", ID: "a", Config: map[string]string{"fsstore-dir": dirA}},
			{Name: "fsstore", ID: "b", Config: map[string]string{"fsstore-dir": dirB}},
		},
	}

	store, _, closeFn, err := cfg.Open(casregistry.UsageCLI, "b")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()

	id, err := store.Put([]byte("prefer-b"))
	if err != nil {
		t.Fatal(err)
	}

	b, err := fsstore.New(dirB)
	if err != nil {
		t.Fatal(err)
	}
	if !b.Has(id) {
		t.Fatal("expected the write to land in the preferred backend's directory")
	}
}
