// Package relaystore is the relay's persistence layer: gorm models and
// per-resource stores backing the HTTP surface in §6. The crypto core
// never imports this package — it only ever sees opaque ciphertext and
// wrapped keys, exactly as the relay does.
package relaystore

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open selects the gorm dialector by driver name — "postgres" or
// "sqlite" — a tagged-variant choice made once at process start, per the
// storage-backend re-architecture in §9.
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("relaystore: unknown db driver %q", driver)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("relaystore: open: %w", err)
	}
	return db, nil
}

// Migrate creates or updates every table this package owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Identity{},
		&OneTimePreKey{},
		&Conversation{},
		&ConversationMember{},
		&Message{},
		&MembershipEvent{},
		&PairingRequest{},
	)
}
