package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repository is the relational store of processed documents.
type Repository interface {
	DocumentI

	// Ping checks the database connection.
	Ping(ctx context.Context) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a gorm-backed Repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{
		db: db,
	}
}

func (r *repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
