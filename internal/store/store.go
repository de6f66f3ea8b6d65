// internal/store/store.go
package store

import (
	"context"

	"gorm.io/gorm"
)

// Store is the single source of truth for sync state. All components read and
// write through it inside short transactions scoped to one entity or one page;
// nothing here ever performs a network call.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for the HTTP layer's read paths.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a transaction-bound Store so multi-row updates
// (clear markers + resolve conflict, history row + status flip) stay atomic.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}
