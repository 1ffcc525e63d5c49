// Package store persists master places, aliases and mentions through gorm.
//
// All coordination between concurrent resolvers goes through the unique
// indexes declared on the model types; the store never takes application locks.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ppiankov/placemaster/internal/logging"
	"github.com/ppiankov/placemaster/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an insert loses a uniqueness race
	ErrConflict = errors.New("store: uniqueness conflict")
)

// Store is the durable master/alias/mention store
type Store struct {
	db    *gorm.DB
	log   *logging.Logger
	now   func() time.Time
	newID func() string
}

// Open connects to the configured database and migrates the schema
func Open(cfg model.DatabaseConfig, log *logging.Logger) (*Store, error) {
	log = logging.OrNop(log).With("component", "store")

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(log, cfg.LogSQL),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driverName(cfg.Driver), err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 && driverName(cfg.Driver) == "sqlite" {
		// SQLite allows one writer; a single connection serializes transactions
		// instead of surfacing SQLITE_BUSY on lock upgrades.
		maxOpen = 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}

	return New(db, log)
}

// New wraps an existing gorm handle and migrates the schema
func New(db *gorm.DB, log *logging.Logger) (*Store, error) {
	if err := db.AutoMigrate(&model.MasterPlace{}, &model.Alias{}, &model.Mention{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{
		db:    db,
		log:   logging.OrNop(log),
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}, nil
}

// DB exposes the underlying gorm handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close releases the database connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func driverName(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return "sqlite"
	case "postgres", "postgresql", "pg":
		return "postgres"
	case "mysql", "mariadb":
		return "mysql"
	default:
		return strings.ToLower(driver)
	}
}

func dialectorFor(cfg model.DatabaseConfig) (gorm.Dialector, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	switch driverName(cfg.Driver) {
	case "sqlite":
		if dsn == "" {
			dsn = "placemaster.db"
		}
		return sqlite.Open(dsn), nil
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres DSN is required")
		}
		return postgres.Open(dsn), nil
	case "mysql":
		if dsn == "" {
			return nil, fmt.Errorf("mysql DSN is required")
		}
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unknown database driver: %s (supported: sqlite, postgres, mysql)", cfg.Driver)
	}
}

func newGormLogger(log *logging.Logger, logSQL bool) gormlogger.Interface {
	level := gormlogger.Silent
	if logSQL {
		level = gormlogger.Info
	}
	return gormlogger.New(log, gormlogger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	default:
		return err
	}
}
