package database

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/cohort/internal/messaging"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsAddsRecentMessagesIndex(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&messaging.MessageRecord{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	existing := messaging.MessageRecord{
		UUID:            "existing-1",
		CollaborationID: "C1",
		EventType:       messaging.EventTypeTabAdded,
		EventTimestamp:  10,
	}
	if err := database.Create(&existing).Error; err != nil {
		testContext.Fatalf("failed to insert message: %v", err)
	}
	if database.Migrator().HasIndex(&messaging.MessageRecord{}, recentMessagesIndexName) {
		testContext.Fatalf("expected the table to start without the recent index")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	if !database.Migrator().HasIndex(&messaging.MessageRecord{}, recentMessagesIndexName) {
		testContext.Fatalf("expected recent index to be created")
	}
	var count int64
	if err := database.Model(&messaging.MessageRecord{}).Where("collaboration_id = ?", "C1").Count(&count).Error; err != nil || count != 1 {
		testContext.Fatalf("expected existing rows to survive, count=%d err=%v", count, err)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationRecentMessagesIndex).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected reapplying migrations to be a no-op: %v", err)
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "cohort.db")

	database, err := Open(DriverSQLite, databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	defer sqlDB.Close()

	if !database.Migrator().HasTable(&messaging.MessageRecord{}) {
		testContext.Fatalf("expected message table to exist")
	}
	if !database.Migrator().HasTable(&migrationRecord{}) {
		testContext.Fatalf("expected migration ledger to exist")
	}
	if !database.Migrator().HasIndex(&messaging.MessageRecord{}, recentMessagesIndexName) {
		testContext.Fatalf("expected recent messages index to exist")
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open("mysql", "dsn", nil); err == nil || !strings.Contains(err.Error(), "unsupported") {
		testContext.Fatalf("expected unsupported driver error, got %v", err)
	}
	if _, err := Open(DriverSQLite, " ", nil); err == nil {
		testContext.Fatalf("expected missing dsn error")
	}
}
