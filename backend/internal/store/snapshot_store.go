package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/go-sql-driver/mysql"
)

// MySQL error numbers mapped to write errors.
const (
	errDupEntry       = 1062
	errTableAccess    = 1142
	errNoSuchTable    = 1146
	errDBAccessDenied = 1044
)

const SnapshotSchema = `CREATE TABLE IF NOT EXISTS document_snapshots (
	document_id VARCHAR(64) NOT NULL,
	revision    BIGINT UNSIGNED NOT NULL,
	content     LONGTEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (document_id, revision)
)`

// SnapshotBackend keeps every persisted version of a document as a row of
// document_snapshots. Loading reads the newest row.
type SnapshotBackend struct{ db *sql.DB }

func NewSnapshotBackend(db *sql.DB) *SnapshotBackend {
	return &SnapshotBackend{db: db}
}

func (b *SnapshotBackend) EnsureSchema(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, SnapshotSchema)
	return err
}

func (b *SnapshotBackend) Name() string { return "mysql" }

func (b *SnapshotBackend) Source(docID string) Source { return &snapshot{db: b.db, docID: docID} }

func (b *SnapshotBackend) Target(docID string) Target { return &snapshot{db: b.db, docID: docID} }

type snapshot struct {
	db    *sql.DB
	docID string
}

func (s *snapshot) Handle() string { return "mysql:document_snapshots/" + s.docID }

func (s *snapshot) Load(ctx context.Context) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM document_snapshots
		WHERE document_id = ?
		ORDER BY revision DESC LIMIT 1`,
		s.docID,
	).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, s.Handle())
		}
		return "", fmt.Errorf("%w: %s: %v", ErrUnreadable, s.Handle(), err)
	}
	return content, nil
}

func (s *snapshot) Write(ctx context.Context, content string) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_snapshots (document_id, revision, content)
		SELECT ?, COALESCE(MAX(revision), 0) + 1, ?
		FROM document_snapshots WHERE document_id = ?`,
		s.docID,
		content,
		s.docID,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) {
			switch mysqlErr.Number {
			case errDupEntry:
				// 另一个进程同时写入了同一 revision
				return 0, fmt.Errorf("%w: concurrent snapshot for %s: %v", ErrWriteFailed, s.docID, err)
			case errTableAccess, errDBAccessDenied:
				return 0, fmt.Errorf("%w: %s: %v", ErrPermissionDenied, s.Handle(), err)
			case errNoSuchTable:
				return 0, fmt.Errorf("%w: %s: %v", ErrUncreatable, s.Handle(), err)
			}
		}
		return 0, fmt.Errorf("%w: %s: %v", ErrWriteFailed, s.Handle(), err)
	}
	return utf8.RuneCountInString(content), nil
}
