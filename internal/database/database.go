package database

import (
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/openmetalab/marketspace/backend/internal/auction"
	"github.com/openmetalab/marketspace/backend/internal/catalog"
	"github.com/openmetalab/marketspace/backend/internal/notification"
	"github.com/openmetalab/marketspace/backend/internal/users"
)

// Config selects the backing store: a postgres DSN when set, otherwise a
// SQLite file path.
type Config struct {
	DSN  string
	Path string
}

// Open establishes the database connection and performs schema migrations.
// Error translation is enabled so unique-constraint violations surface as
// gorm.ErrDuplicatedKey across both drivers.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	gormConfig := &gorm.Config{TranslateError: true}

	var (
		db  *gorm.DB
		err error
	)
	switch {
	case strings.TrimSpace(cfg.DSN) != "":
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormConfig)
	case strings.TrimSpace(cfg.Path) != "":
		db, err = gorm.Open(sqlite.Open(cfg.Path), gormConfig)
	default:
		return nil, fmt.Errorf("database: dsn or path is required")
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized")
	}
	return db, nil
}

// Migrate creates the schema and applies named one-shot migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(
		&users.User{},
		&users.Follow{},
		&catalog.Collection{},
		&catalog.Nft{},
		&catalog.NftLike{},
		&catalog.OwnershipTransfer{},
		&auction.Auction{},
		&auction.Bid{},
		&auction.BidRecord{},
		&notification.Notification{},
		&migrationRecord{},
	); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
