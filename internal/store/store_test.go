// internal/store/store_test.go
package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"workspace-sync-service/pkg/models"
)

// newTestStore opens an in-memory sqlite database with the sync schema. The
// pool is pinned to one connection because every :memory: connection is its
// own database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, Migrate(db))
	return New(db)
}

// seedIssue inserts one synced issue row the way a pull would: base snapshot
// equal to the typed values, no local modifications.
func seedIssue(t *testing.T, s *Store, id, title, status string, syncedAt time.Time) *models.SyncedEntity {
	t.Helper()
	e := &models.SyncedEntity{
		Kind:            models.KindIssue,
		RemoteID:        id,
		Title:           title,
		Status:          status,
		Priority:        "Medium",
		Space:           "PROJ",
		RemoteUpdatedAt: syncedAt,
	}
	synced := syncedAt
	e.LastSyncedAt = &synced
	require.NoError(t, s.InsertRemote(context.Background(), e))
	return e
}
