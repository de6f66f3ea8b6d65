// internal/store/db.go
package store

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"workspace-sync-service/internal/config"
	"workspace-sync-service/pkg/models"
)

var db *gorm.DB

func InitDB(cfg *config.Config) *gorm.DB {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName, cfg.DBSSLMode,
	)

	var err error
	db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}

	if err := Migrate(db); err != nil {
		log.Fatalf("❌ Failed to migrate: %v", err)
	}

	log.Println("✅ Sync DB connected & migrated")
	return db
}

// Migrate runs AutoMigrate for every sync table. The sqlite-backed tests call
// this against their own connection, so keep it free of postgres-only DDL.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.SyncedEntity{},
		&models.SyncCursor{},
		&models.ConflictRecord{},
		&models.SyncLogEntry{},
		&models.Operation{},
		&models.HistorySnapshot{},
	)
}

func GetDB() *gorm.DB {
	return db
}
