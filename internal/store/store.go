// Package store is the relational adapter for listings, feed events,
// heat records, trade matches and wishlists. All access goes through
// Repository; engines depend on the narrow interfaces they declare.
package store

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sneakloop/hyperlocal/pkg/models"
)

// Sentinel errors surfaced to callers as rejected operations.
var (
	ErrNotFound     = errors.New("record not found")
	ErrAlreadySaved = errors.New("listing already saved")
	ErrDuplicate    = errors.New("duplicate record")
)

// Repository is the GORM-backed store adapter.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRepository wraps an open gorm handle.
func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Open connects to Postgres and migrates the feed schema. A DSN that
// fails to parse or connect is fatal to startup.
func Open(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the feed tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Listing{},
		&models.ListingSave{},
		&models.FeedEvent{},
		&models.CellActivityRecord{},
		&models.NeighborhoodHeatIndex{},
		&models.TradeMatch{},
		&models.UserWishlist{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
