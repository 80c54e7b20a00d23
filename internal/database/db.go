package database

import (
	"fmt"
	"log/slog"

	"libraryapi/internal/config"
	"libraryapi/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewConnection initializes a new connection pool using GORM for the given
// driver ("postgres" or "sqlite") and migrates the schema.
func NewConnection(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case config.DriverPostgres:
		dialector = postgres.Open(dsn)
	case config.DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if driver == config.DriverSQLite {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY between
		// concurrent transactions.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the tables and the partial unique index that
// keeps a single active reservation per book.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.User{},
		&model.Book{},
		&model.Reservation{},
		&model.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate models: %w", err)
	}

	if err := db.Exec(model.ActiveReservationIndexSQL).Error; err != nil {
		return fmt.Errorf("failed to create active reservation index: %w", err)
	}

	slog.Debug("database schema migrated")
	return nil
}
