// Package store holds the gorm repositories behind the sync engine: the
// baseline snapshot, remote mappings, the local product mirror,
// registrations, issues and the sync log.
package store

import (
	"context"

	"catalogsync/internal/database"

	"gorm.io/gorm"
)

type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// InTx runs fn against a Store bound to one transaction. Calling InTx on a
// Store that is already inside a transaction opens a savepoint.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	return database.InTx(ctx, s.DB, func(tx *gorm.DB) error {
		return fn(&Store{DB: tx})
	})
}

// WithTx returns a Store that writes through tx.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{DB: tx}
}
