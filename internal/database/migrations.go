package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRecentMessagesIndex = "2026-10-01_collaboration_messages_recent_index"
	recentMessagesIndexName      = "idx_collaboration_messages_recent"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRecentMessagesIndex, apply: createRecentMessagesIndex},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// createRecentMessagesIndex adds the index serving recent-message reads:
// one collaboration, newest first, ties in insertion order.
func createRecentMessagesIndex(db *gorm.DB) error {
	return db.Exec("CREATE INDEX IF NOT EXISTS " + recentMessagesIndexName +
		" ON collaboration_messages (collaboration_id, event_timestamp DESC, seq)").Error
}
