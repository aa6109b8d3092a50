package store

import (
	"context"
	"errors"
)

// Load errors.
var (
	ErrNotFound   = errors.New("source not found")
	ErrUnreadable = errors.New("source unreadable")
	ErrMetadata   = errors.New("source metadata unavailable")
)

// Write errors.
var (
	ErrUncreatable      = errors.New("destination cannot be created")
	ErrWriteFailed      = errors.New("destination write failed")
	ErrPermissionDenied = errors.New("destination permission denied")
)

// Source supplies the initial content of a document.
type Source interface {
	Handle() string
	Load(ctx context.Context) (string, error)
}

// Target receives the materialized content of a document. Write replaces the
// previous content in one step and returns the number of runes written.
type Target interface {
	Handle() string
	Write(ctx context.Context, content string) (int, error)
}

// Backend resolves the storage handles of a document.
type Backend interface {
	Name() string
	Source(docID string) Source
	Target(docID string) Target
}

// StringSource is an in-memory Source. It cannot be persisted to.
type StringSource struct {
	Name    string
	Content string
}

func (s StringSource) Handle() string { return "string:" + s.Name }

func (s StringSource) Load(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Content, nil
}
