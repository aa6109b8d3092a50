package collab

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"pieceTableServer/backend/internal/ot/delta"
	"pieceTableServer/backend/internal/store"
)

type failingTarget struct{ err error }

func (f failingTarget) Handle() string { return "failing" }

func (f failingTarget) Write(ctx context.Context, content string) (int, error) {
	return 0, f.err
}

func TestDocument_PersistCompacts(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	target := store.NewFile(fsys, "/docs/a.txt")

	doc := NewDocument("a", "Hello world")
	if _, err := doc.Insert(5, ","); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if _, err := doc.Delete(0); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	before, rev := doc.Text()

	n, err := doc.Persist(ctx, target)
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if n != len([]rune(before)) {
		t.Fatalf("Persist() = %d, want %d", n, len([]rune(before)))
	}
	after, afterRev := doc.Text()
	if after != before || afterRev != rev {
		t.Fatalf("Text() = %q@%d, want %q@%d", after, afterRev, before, rev)
	}
	st := doc.Stats(true)
	if st.PieceCount != 1 || st.AppendLen != 0 || st.Pieces[0].Buffer != "original" {
		t.Fatalf("Stats() = %+v, want a single original piece", st)
	}
	if st.Source != target.Handle() {
		t.Fatalf("Source = %q, want %q", st.Source, target.Handle())
	}

	saved, _ := target.Load(ctx)
	if saved != before {
		t.Fatalf("saved = %q, want %q", saved, before)
	}

	// the written file is now the document's source
	if _, err := doc.Insert(0, "¡"); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if _, err := doc.Persist(ctx, nil); err != nil {
		t.Fatalf("Persist(nil) error = %v", err)
	}
	saved, _ = target.Load(ctx)
	if saved != "¡"+before {
		t.Fatalf("saved = %q, want %q", saved, "¡"+before)
	}
}

func TestDocument_PersistWithoutTarget(t *testing.T) {
	ctx := context.Background()
	if _, err := NewDocument("a", "x").Persist(ctx, nil); !errors.Is(err, ErrNoPersistTarget) {
		t.Fatalf("Persist() error = %v, want ErrNoPersistTarget", err)
	}
	doc, err := OpenDocument(ctx, "b", store.StringSource{Name: "b", Content: "x"})
	if err != nil {
		t.Fatalf("OpenDocument() error = %v", err)
	}
	if _, err := doc.Persist(ctx, nil); !errors.Is(err, ErrNoPersistTarget) {
		t.Fatalf("Persist() error = %v, want ErrNoPersistTarget", err)
	}
}

func TestDocument_FailedPersistLeavesTable(t *testing.T) {
	doc := NewDocument("a", "abc")
	_, _ = doc.Insert(1, "XY")
	before := doc.Stats(true)

	_, err := doc.Persist(context.Background(), failingTarget{err: store.ErrWriteFailed})
	if !errors.Is(err, store.ErrWriteFailed) {
		t.Fatalf("Persist() error = %v, want ErrWriteFailed", err)
	}
	after := doc.Stats(true)
	if after.PieceCount != before.PieceCount || after.AppendLen != before.AppendLen {
		t.Fatalf("Stats() = %+v, want %+v", after, before)
	}
	if text, _ := doc.Text(); text != "aXYbc" {
		t.Fatalf("Text() = %q, want %q", text, "aXYbc")
	}
}

func TestOpenDocument_LoadError(t *testing.T) {
	src := store.NewFile(afero.NewMemMapFs(), "/missing.txt")
	doc, err := OpenDocument(context.Background(), "m", src)
	if !errors.Is(err, store.ErrNotFound) || doc != nil {
		t.Fatalf("OpenDocument() = %v, %v, want nil, ErrNotFound", doc, err)
	}
}

func TestDocument_ApplyAtRevision(t *testing.T) {
	doc := NewDocument("a", "Hello")
	rev, err := doc.ApplyAt(0, delta.Delta{delta.Retain(5), delta.Insert("!")})
	if err != nil || rev != 1 {
		t.Fatalf("ApplyAt() = %d, %v, want 1, nil", rev, err)
	}
	if _, err := doc.ApplyAt(0, delta.Delta{delta.Insert("?")}); !errors.Is(err, ErrRevisionConflict) {
		t.Fatalf("ApplyAt() error = %v, want ErrRevisionConflict", err)
	}
	if text, _ := doc.Text(); text != "Hello!" {
		t.Fatalf("Text() = %q, want %q", text, "Hello!")
	}
}

func TestDocument_NoopEditsKeepRevision(t *testing.T) {
	doc := NewDocument("a", "abc")
	if rev, _ := doc.Insert(1, ""); rev != 0 {
		t.Fatalf("Insert(\"\") revision = %d, want 0", rev)
	}
	if rev, _ := doc.DeleteRange(1, 0); rev != 0 {
		t.Fatalf("DeleteRange(1, 0) revision = %d, want 0", rev)
	}
	if _, err := doc.Delete(3); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("Delete() error = %v, want ErrInvalidIndex", err)
	}
}

func TestDocument_ConcurrentInserts(t *testing.T) {
	doc := NewDocument("a", "")
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if _, err := doc.Insert(0, "a"); err != nil {
					t.Errorf("Insert() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	st := doc.Stats(false)
	if st.Length != 800 || st.Revision != 800 {
		t.Fatalf("Length = %d, Revision = %d, want 800, 800", st.Length, st.Revision)
	}
}

func TestDocument_RetainOnlyDeltaKeepsRevision(t *testing.T) {
	doc := NewDocument("a", "Hello")
	for _, ops := range []delta.Delta{{}, {delta.Retain(3)}, {delta.Insert(""), delta.Delete(0)}} {
		rev, err := doc.ApplyAt(0, ops)
		if err != nil || rev != 0 {
			t.Fatalf("ApplyAt(%+v) = %d, %v, want 0, nil", ops, rev, err)
		}
	}
	if rev, _ := doc.ApplyAt(0, delta.Delta{delta.Delete(1)}); rev != 1 {
		t.Fatalf("ApplyAt() revision = %d, want 1", rev)
	}
}

func TestDocument_HugeDeleteIsRejected(t *testing.T) {
	doc := NewDocument("a", "Hello world")
	if _, err := doc.DeleteRange(1, math.MaxInt); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("DeleteRange() error = %v, want ErrInvalidIndex", err)
	}
	if text, rev := doc.Text(); text != "Hello world" || rev != 0 {
		t.Fatalf("Text() = %q@%d, want %q@0", text, rev, "Hello world")
	}
}
