package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"github.com/runningman84/zfs-monitor/pkg/models"
)

// Referential errors returned when a record points at something that
// does not exist
var (
	ErrUnknownHost    = errors.New("unknown host")
	ErrUnknownPool    = errors.New("unknown pool")
	ErrUnknownDataset = errors.New("unknown dataset")
	ErrUnknownParent  = errors.New("unknown parent vdev")
)

// Options configures a Store
type Options struct {
	// Driver is "sqlite" or "postgres"
	Driver string
	DSN    string

	// StaleAfter separates active hosts from stale ones
	StaleAfter time.Duration

	// MaxOpenConns limits the connection pool when positive
	MaxOpenConns int

	// LogLevel is "info" or "debug"; debug logs every statement
	LogLevel string
}

// DefaultStaleAfter is used when Options.StaleAfter is zero
const DefaultStaleAfter = time.Hour

// Store persists hosts, pools, vdevs, datasets and snapshots and serves
// the reporting queries over them
type Store struct {
	db         *gorm.DB
	staleAfter time.Duration
	now        func() time.Time
}

// Open connects to the configured database
func Open(opts Options) (*Store, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(sqliteDSN(opts.DSN))
	case "postgres":
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newLogger(opts.LogLevel),
		TranslateError: true,
		NowFunc:        utcNow,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", opts.Driver, err)
	}

	if opts.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access connection pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		sqlDB.SetMaxIdleConns(opts.MaxOpenConns)
	}

	klog.V(1).Infof("Opened %s database", opts.Driver)
	return New(db, opts.StaleAfter), nil
}

// sqliteDSN turns on foreign key enforcement, which sqlite leaves off per
// connection, unless the DSN sets it itself
func sqliteDSN(dsn string) string {
	_, query, _ := strings.Cut(dsn, "?")
	for _, param := range strings.Split(query, "&") {
		key, _, _ := strings.Cut(param, "=")
		if key == "_foreign_keys" || key == "_fk" {
			return dsn
		}
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

// New wraps an open gorm connection
func New(db *gorm.DB, staleAfter time.Duration) *Store {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Store{
		db:         db,
		staleAfter: staleAfter,
		now:        utcNow,
	}
}

// utcNow truncates to microseconds so timestamps survive a round trip
// through every supported database
func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Migrate creates or updates the five tables and their constraints
func (s *Store) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&models.Host{},
		&models.Pool{},
		&models.Vdev{},
		&models.Dataset{},
		&models.Snapshot{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StaleAfter returns the age after which a host counts as stale
func (s *Store) StaleAfter() time.Duration {
	return s.staleAfter
}

// Transaction runs fn against a Store bound to one transaction. The
// transaction is rolled back if fn returns an error.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, staleAfter: s.staleAfter, now: s.now})
	})
}

// saveError turns a failed write into a validation error where the
// database rejected a unique key, and wraps everything else
func saveError(record, key, uniqueField string, err error) error {
	if models.IsValidationError(err) {
		return err
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &models.ValidationError{
			Record: record,
			Key:    key,
			Err:    &models.FieldError{Field: uniqueField, Reason: "already exists"},
		}
	}
	return fmt.Errorf("failed to save %s %s: %w", record, key, err)
}
