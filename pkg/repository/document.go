package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentI is the data access of the processed PDF documents.
type DocumentI interface {
	// InsertDocumentIfAbsent stores doc unless a record with the same
	// ExternalFileID exists. The returned flag reports whether a row was
	// written; a conflict is not an error.
	InsertDocumentIfAbsent(ctx context.Context, doc *Document) (inserted bool, err error)
	// ListDocuments returns the title, publication date and filename of the
	// stored documents, newest first. A non-empty query keeps only the
	// documents whose title contains it, case-insensitively.
	ListDocuments(ctx context.Context, query string) ([]Document, error)
	// GetLatestProcessedAt returns the most recent ProcessedAt, or the zero
	// time when the store is empty.
	GetLatestProcessedAt(ctx context.Context) (time.Time, error)
}

// Document is a processed PDF attachment.
type Document struct {
	ID              uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Title           *string   `gorm:"column:title" json:"title"`
	PublicationDate *string   `gorm:"column:publication_date" json:"publication_date"`
	Filename        string    `gorm:"column:filename;not null" json:"filename"`
	ExtractedText   string    `gorm:"column:extracted_text;not null" json:"extracted_text"`
	ExternalFileID  string    `gorm:"column:external_file_id;not null;uniqueIndex:pdf_content_external_file_id_key" json:"external_file_id"`
	ProcessedAt     time.Time `gorm:"column:processed_at;not null;autoCreateTime" json:"processed_at"`
}

// TableName overrides the default gorm table name.
func (Document) TableName() string {
	return "pdf_content"
}

// DocumentColumns holds the column names of the pdf_content table.
type DocumentColumns struct {
	ID              string
	Title           string
	PublicationDate string
	Filename        string
	ExtractedText   string
	ExternalFileID  string
	ProcessedAt     string
}

// DocumentColumn is the column map of the pdf_content table.
var DocumentColumn = DocumentColumns{
	ID:              "id",
	Title:           "title",
	PublicationDate: "publication_date",
	Filename:        "filename",
	ExtractedText:   "extracted_text",
	ExternalFileID:  "external_file_id",
	ProcessedAt:     "processed_at",
}

func (r *repository) InsertDocumentIfAbsent(ctx context.Context, doc *Document) (bool, error) {
	if doc == nil || doc.ExternalFileID == "" {
		return false, errors.New("document external file ID is required")
	}

	ignoreOnConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: DocumentColumn.ExternalFileID}},
		DoNothing: true,
	}
	result := r.db.WithContext(ctx).Clauses(ignoreOnConflict).Create(doc)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *repository) ListDocuments(ctx context.Context, query string) ([]Document, error) {
	tx := r.db.WithContext(ctx).
		Model(&Document{}).
		Select(DocumentColumn.Title, DocumentColumn.PublicationDate, DocumentColumn.Filename)

	if query != "" {
		tx = tx.Where("LOWER("+DocumentColumn.Title+") LIKE LOWER(?) ESCAPE '\\'", "%"+escapeLike(query)+"%")
	}

	docs := make([]Document, 0)
	if err := tx.Order(DocumentColumn.ProcessedAt + " DESC").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *repository) GetLatestProcessedAt(ctx context.Context) (time.Time, error) {
	var doc Document
	err := r.db.WithContext(ctx).
		Select(DocumentColumn.ProcessedAt).
		Order(DocumentColumn.ProcessedAt + " DESC").
		Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return doc.ProcessedAt, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes the LIKE wildcards of s match literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
