package bundle_test

import (
	"archive/tar"
	"bytes"
	"testing"
	"time"

	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/objstore/bundle"
	"github.com/octofork/radlink/objstore/fsstore"
)

func TestBundle_ExportIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	store, err := fsstore.New(dir)
	if err != nil {
		t.Fatal(err)
	}

	id1, err := store.Put([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	id2, err := store.Put([]byte("world"))
	if err != nil {
		t.Fatal(err)
	}

	var outA bytes.Buffer
	if err := bundle.Export(&outA, store, []objstore.ID{id2, id1}, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatal(err)
	}
	var outB bytes.Buffer
	if err := bundle.Export(&outB, store, []objstore.ID{id1, id2}, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(outA.Bytes(), outB.Bytes()) {
		t.Fatalf("expected deterministic bundle bytes")
	}
}

func TestBundle_ImportRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	src, err := fsstore.New(srcDir)
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("payload")
	id, err := src.Put(payload)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := bundle.Export(&buf, src, []objstore.ID{id}, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatal(err)
	}

	dstDir := t.TempDir()
	dst, err := fsstore.New(dstDir)
	if err != nil {
		t.Fatal(err)
	}

	if err := bundle.Import(bytes.NewReader(buf.Bytes()), dst); err != nil {
		t.Fatal(err)
	}

	got, err := dst.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestBundle_ImportRequiresEveryRequestedID(t *testing.T) {
	srcDir := t.TempDir()
	src, err := fsstore.New(srcDir)
	if err != nil {
		t.Fatal(err)
	}

	present, err := src.Put([]byte("present"))
	if err != nil {
		t.Fatal(err)
	}
	missing, err := objstore.ComputeID([]byte("never stored"))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := bundle.Export(&buf, src, []objstore.ID{present}, bundle.ExportOptions{}); err != nil {
		t.Fatal(err)
	}

	dstDir := t.TempDir()
	dst, err := fsstore.New(dstDir)
	if err != nil {
		t.Fatal(err)
	}

	err = bundle.ImportWithOptions(bytes.NewReader(buf.Bytes()), dst, bundle.ImportOptions{Require: []objstore.ID{present, missing}})
	if !objstore.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound for a required id absent from the bundle, got %v", err)
	}

	if err := bundle.ImportWithOptions(bytes.NewReader(buf.Bytes()), dst, bundle.ImportOptions{Require: []objstore.ID{present}}); err != nil {
		t.Fatalf("expected success when every required id is present: %v", err)
	}
}

func TestBundle_ImportRejectsIDMismatch(t *testing.T) {
	good := []byte("good")
	goodID, err := objstore.ComputeID(good)
	if err != nil {
		t.Fatal(err)
	}
	otherID, err := objstore.ComputeID([]byte("other"))
	if err != nil {
		t.Fatal(err)
	}
	if goodID.String() == otherID.String() {
		t.Fatal("expected different ids")
	}

	// Name says "otherID" but bytes are "good" => computed id mismatch.
	bundleBytes := makeDeterministicTar(t, "blocks/"+otherID.String(), good)

	dstDir := t.TempDir()
	dst, err := fsstore.New(dstDir)
	if err != nil {
		t.Fatal(err)
	}

	if err := bundle.Import(bytes.NewReader(bundleBytes), dst); err != objstore.ErrIDMismatch {
		t.Fatalf("expected ErrIDMismatch, got %v", err)
	}
}

func makeDeterministicTar(t *testing.T, name string, content []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	h := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		Uid:      0,
		Gid:      0,
		Uname:    "",
		Gname:    "",
		ModTime:  time.Unix(0, 0).UTC(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(h); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
