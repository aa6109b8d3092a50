package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"unicode/utf8"

	"github.com/spf13/afero"
)

// FileBackend keeps one <docID>.txt file per document under dir.
type FileBackend struct {
	fs  afero.Fs
	dir string
}

func NewFileBackend(fsys afero.Fs, dir string) *FileBackend {
	return &FileBackend{fs: fsys, dir: dir}
}

func (b *FileBackend) Name() string { return "file" }

func (b *FileBackend) Source(docID string) Source { return b.file(docID) }

func (b *FileBackend) Target(docID string) Target { return b.file(docID) }

func (b *FileBackend) file(docID string) *File {
	return NewFile(b.fs, filepath.Join(b.dir, filepath.Base(docID)+".txt"))
}

// File is both a Source and a Target.
type File struct {
	fs   afero.Fs
	path string
}

func NewFile(fsys afero.Fs, path string) *File {
	return &File{fs: fsys, path: path}
}

func (f *File) Handle() string { return "file:" + f.path }

func (f *File) Load(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	info, err := f.fs.Stat(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, f.path)
		}
		return "", fmt.Errorf("%w: %s: %v", ErrMetadata, f.path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrUnreadable, f.path)
	}
	data, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnreadable, f.path, err)
	}
	return string(data), nil
}

// Write goes through a temp file in the same directory and a rename, so a
// failed write leaves the previous content in place.
func (f *File) Write(ctx context.Context, content string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dir := filepath.Dir(f.path)
	if err := f.fs.MkdirAll(dir, 0o755); err != nil {
		return 0, writeError(ErrUncreatable, dir, err)
	}
	tmp, err := afero.TempFile(f.fs, dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return 0, writeError(ErrUncreatable, f.path, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = f.fs.Remove(tmpName)
		}
	}()

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return 0, writeError(ErrWriteFailed, f.path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return 0, writeError(ErrWriteFailed, f.path, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, writeError(ErrWriteFailed, f.path, err)
	}
	if err := f.fs.Chmod(tmpName, 0o644); err != nil {
		return 0, writeError(ErrWriteFailed, f.path, err)
	}
	if err := f.fs.Rename(tmpName, f.path); err != nil {
		return 0, writeError(ErrWriteFailed, f.path, err)
	}
	committed = true
	return utf8.RuneCountInString(content), nil
}

func writeError(kind error, path string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		kind = ErrPermissionDenied
	}
	return fmt.Errorf("%w: %s: %v", kind, path, err)
}
