// internal/store/locks.go
package store

import (
	"sync"

	"workspace-sync-service/pkg/models"
)

// EntityLocks hands out one mutex per entity so a pull-apply, a push and an
// operation execution against the same entity are mutually exclusive. The map
// only grows with the number of distinct entities seen in-process.
type EntityLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEntityLocks() *EntityLocks {
	return &EntityLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the entity's mutex and returns the unlock func.
func (l *EntityLocks) Lock(kind models.EntityKind, id string) func() {
	key := string(kind) + "/" + id
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
