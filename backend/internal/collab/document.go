package collab

import (
	"context"
	"fmt"
	"sync"

	"pieceTableServer/backend/internal/ot/delta"
	"pieceTableServer/backend/internal/store"
)

// Document is a piece table plus the storage it was loaded from. Every
// method takes the document lock, so a Document is safe for concurrent use.
type Document struct {
	mu       sync.Mutex
	id       string
	source   store.Source
	buf      *PieceTable
	revision uint64
}

type Stats struct {
	DocID      string      `json:"docId"`
	Source     string      `json:"source,omitempty"`
	Length     int         `json:"length"`
	Revision   uint64      `json:"revision"`
	PieceCount int         `json:"pieceCount"`
	AppendLen  int         `json:"appendLen"`
	Pieces     []PieceInfo `json:"pieces,omitempty"`
}

// NewDocument creates a document that has no storage behind it. Persist needs
// an explicit target until the first successful write.
func NewDocument(id, content string) *Document {
	return &Document{id: id, buf: NewPieceTable(content)}
}

// OpenDocument loads src. Nothing is created when loading fails.
func OpenDocument(ctx context.Context, id string, src store.Source) (*Document, error) {
	content, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	d := NewDocument(id, content)
	d.source = src
	return d, nil
}

func (d *Document) ID() string { return d.id }

func (d *Document) Insert(pos int, text string) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.buf.Insert(pos, text); err != nil {
		return d.revision, err
	}
	if text != "" {
		d.revision++
	}
	return d.revision, nil
}

func (d *Document) Delete(pos int) (uint64, error) {
	return d.DeleteRange(pos, 1)
}

func (d *Document) DeleteRange(pos, n int) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.buf.DeleteRange(pos, n); err != nil {
		return d.revision, err
	}
	if n > 0 {
		d.revision++
	}
	return d.revision, nil
}

// ApplyAt applies ops only if the document is still at baseRevision. A delta
// that neither inserts nor deletes leaves the revision where it was.
func (d *Document) ApplyAt(baseRevision uint64, ops delta.Delta) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if baseRevision != d.revision {
		return d.revision, fmt.Errorf("%w: base %d, current %d", ErrRevisionConflict, baseRevision, d.revision)
	}
	if err := d.buf.Apply(ops); err != nil {
		return d.revision, err
	}
	if ops.Changes() {
		d.revision++
	}
	return d.revision, nil
}

func (d *Document) Text() (string, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.String(), d.revision
}

func (d *Document) Stats(withPieces bool) Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Stats{
		DocID:      d.id,
		Length:     d.buf.Len(),
		Revision:   d.revision,
		PieceCount: d.buf.PieceCount(),
		AppendLen:  d.buf.AppendLen(),
	}
	if d.source != nil {
		st.Source = d.source.Handle()
	}
	if withPieces {
		st.Pieces = d.buf.Pieces()
	}
	return st
}

// Persist writes the current text to target, or to the document's own source
// when target is nil and that source can be written to. Only a successful
// write compacts the table to a single piece over the written text.
func (d *Document) Persist(ctx context.Context, target store.Target) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if target == nil {
		t, ok := d.source.(store.Target)
		if !ok {
			return 0, fmt.Errorf("persist %s: %w", d.id, ErrNoPersistTarget)
		}
		target = t
	}

	text := d.buf.String()
	n, err := target.Write(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("persist %s: %w", d.id, err)
	}
	d.buf.Reset(text)
	if src, ok := target.(store.Source); ok {
		d.source = src
	}
	return n, nil
}
