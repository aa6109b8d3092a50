package store

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
)

func TestFile_WriteThenLoad(t *testing.T) {
	ctx := context.Background()
	b := NewFileBackend(afero.NewMemMapFs(), "/data/docs")

	n, err := b.Target("readme").Write(ctx, "héllo wörld")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 11 {
		t.Fatalf("Write() = %d, want 11", n)
	}
	got, err := b.Source("readme").Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != "héllo wörld" {
		t.Fatalf("Load() = %q, want %q", got, "héllo wörld")
	}

	if _, err := b.Target("readme").Write(ctx, "second"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, _ = b.Source("readme").Load(ctx)
	if got != "second" {
		t.Fatalf("Load() = %q, want %q", got, "second")
	}
}

func TestFile_NoTempFilesLeft(t *testing.T) {
	fsys := afero.NewMemMapFs()
	f := NewFile(fsys, "/docs/a.txt")
	if _, err := f.Write(context.Background(), "abc"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	entries, err := afero.ReadDir(fsys, "/docs")
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "a.txt" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("dir entries = %v, want [a.txt]", names)
	}
}

func TestFile_LoadErrors(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := fsys.MkdirAll("/docs/dir.txt", 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := NewFile(fsys, "/docs/missing.txt").Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}
	if _, err := NewFile(fsys, "/docs/dir.txt").Load(context.Background()); !errors.Is(err, ErrUnreadable) {
		t.Fatalf("Load() error = %v, want ErrUnreadable", err)
	}
}

func TestFile_WriteReadOnly(t *testing.T) {
	mem := afero.NewMemMapFs()
	if err := afero.WriteFile(mem, "/docs/a.txt", []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	f := NewFile(afero.NewReadOnlyFs(mem), "/docs/a.txt")

	if _, err := f.Write(context.Background(), "lost"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Write() error = %v, want ErrPermissionDenied", err)
	}
	got, err := f.Load(context.Background())
	if err != nil || got != "keep" {
		t.Fatalf("Load() = %q, %v, want %q", got, err, "keep")
	}
}

func TestFileBackend_DocIDStaysInDir(t *testing.T) {
	b := NewFileBackend(afero.NewMemMapFs(), "/docs")
	if h := b.Source("../../etc/passwd").Handle(); h != "file:/docs/passwd.txt" {
		t.Fatalf("Handle() = %q, want %q", h, "file:/docs/passwd.txt")
	}
}

func TestStringSource(t *testing.T) {
	s := StringSource{Name: "inline", Content: "abc"}
	got, err := s.Load(context.Background())
	if err != nil || got != "abc" {
		t.Fatalf("Load() = %q, %v", got, err)
	}
	var src Source = s
	if _, ok := src.(Target); ok {
		t.Fatalf("StringSource must not be a Target")
	}
}
