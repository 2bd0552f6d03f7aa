// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and PostgreSQL, plus schema migrations.
package repo

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-video-backend/internal/domain"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Option tweaks how a handle is opened.
type Option func(*openOptions)

type openOptions struct {
	tracing bool
	logger  logger.Interface
}

// WithTracing installs the GORM OpenTelemetry plugin (spans only).
func WithTracing() Option { return func(o *openOptions) { o.tracing = true } }

// WithLogger overrides the GORM logger.
func WithLogger(l logger.Interface) Option { return func(o *openOptions) { o.logger = l } }

func gormConfig(o openOptions) *gorm.Config {
	cfg := &gorm.Config{}
	if o.logger != nil {
		cfg.Logger = o.logger
	}
	return cfg
}

func collect(opts []Option) openOptions {
	var o openOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func instrument(db *gorm.DB, o openOptions) error {
	if !o.tracing {
		return nil
	}
	return db.Use(tracing.NewPlugin(tracing.WithoutMetrics()))
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string, opts ...Option) (*gorm.DB, error) {
	o := collect(opts)

	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, err
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(withPragmas(path)), gormConfig(o))
	if err != nil {
		return nil, err
	}

	// PRAGMAs for the first connection; the DSN carries them for the rest.
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := instrument(db, o); err != nil {
		return nil, err
	}
	return db, nil
}

// withPragmas appends the busy timeout so every pooled connection waits
// on a locked database instead of failing with SQLITE_BUSY.
func withPragmas(path string) string {
	if strings.Contains(path, "_pragma=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)"
}

// OpenPostgres connects to PostgreSQL using a libpq-style DSN or URL.
func OpenPostgres(dsn string, opts ...Option) (*gorm.DB, error) {
	o := collect(opts)
	db, err := gorm.Open(postgres.Open(dsn), gormConfig(o))
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := instrument(db, o); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates the schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.VideoRequest{},
		&domain.Idempotency{},
	)
}

// Open builds a Store for the given driver. Every (re)connect migrates the
// schema, which is a no-op once the tables exist.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	var (
		dial      func(string, ...Option) (*gorm.DB, error)
		transient Classifier
	)
	switch strings.ToLower(driver) {
	case DriverSQLite, "":
		dial, transient = OpenSQLite, SQLiteTransient
	case DriverPostgres, "postgresql", "pg":
		dial, transient = OpenPostgres, PostgresTransient
	default:
		return nil, errors.Newf("repo: unsupported driver %q", driver)
	}

	open := func() (*gorm.DB, error) {
		db, err := dial(dsn, opts...)
		if err != nil {
			return nil, err
		}
		if err := AutoMigrate(db); err != nil {
			if sqlDB, derr := db.DB(); derr == nil {
				_ = sqlDB.Close()
			}
			return nil, errors.Wrap(err, "migrate")
		}
		return db, nil
	}
	return NewStore(open, transient)
}
