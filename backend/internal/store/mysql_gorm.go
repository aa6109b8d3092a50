package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func InitMySQL(dsn string) (*gorm.DB, error) {
	return gorm.Open(mysql.Open(dsn), &gorm.Config{})
}

// DocumentMeta describes the last successful persist of a document.
type DocumentMeta struct {
	DocID       string    `gorm:"primaryKey;type:varchar(64)" json:"docId"`
	Backend     string    `gorm:"type:varchar(16)" json:"backend"`
	Handle      string    `gorm:"type:varchar(255)" json:"handle"`
	Length      int       `json:"length"`
	Revision    uint64    `json:"revision"`
	PersistedAt time.Time `json:"persistedAt"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (DocumentMeta) TableName() string { return "document_meta" }

type MetaRepo struct{ db *gorm.DB }

func NewMetaRepo(db *gorm.DB) *MetaRepo {
	return &MetaRepo{db: db}
}

func (r *MetaRepo) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&DocumentMeta{})
}

// RecordPersist inserts or replaces the row of meta.DocID.
func (r *MetaRepo) RecordPersist(ctx context.Context, meta DocumentMeta) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&meta).Error
}

// Get returns nil, nil when the document was never persisted.
func (r *MetaRepo) Get(ctx context.Context, docID string) (*DocumentMeta, error) {
	var meta DocumentMeta
	err := r.db.WithContext(ctx).Where("doc_id = ?", docID).First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}
