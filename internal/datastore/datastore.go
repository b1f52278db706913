// Package datastore persists in-app notifications and notification settings with GORM,
// on SQLite by default or MySQL.
package datastore

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/safetynet-go/internal/conf"
	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/logger"
)

const slowStatementThreshold = 200 * time.Millisecond

// Config selects and configures the database.
type Config struct {
	Type       string // sqlite or mysql
	SQLitePath string
	MySQL      MySQLConfig
}

// ConfigFromSettings maps the database section of the settings.
func ConfigFromSettings(s conf.DatabaseSettings) Config {
	return Config{
		Type:       s.Type,
		SQLitePath: s.SQLite.Path,
		MySQL: MySQLConfig{
			Host:     s.MySQL.Host,
			Port:     s.MySQL.Port,
			Username: s.MySQL.Username,
			Password: s.MySQL.Password,
			Database: s.MySQL.Database,
		},
	}
}

// Store is the GORM backed store.
type Store struct {
	db      *gorm.DB
	dialect string
	log     logger.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	log = log.Module("datastore")

	switch cfg.Type {
	case "", "sqlite":
		return openSQLite(cfg.SQLitePath, log)
	case "mysql":
		return openMySQL(cfg.MySQL, log)
	default:
		return nil, errors.Newf("unsupported database type %q", cfg.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func newStore(dialector gorm.Dialector, dialect string, log logger.Logger) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.NewGormLoggerAdapter(log.Module("gorm"), slowStatementThreshold),
		TranslateError: true,
	})
	if err != nil {
		return nil, dbError(err, "open", errors.PriorityHigh, "dialect", dialect)
	}

	s := &Store{db: db, dialect: dialect, log: log}
	if err := s.migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	start := time.Now()
	if err := s.db.AutoMigrate(&Notification{}, &NotificationSettings{}); err != nil {
		return dbError(err, "migrate", errors.PriorityHigh, "dialect", s.dialect)
	}
	s.log.Debug("schema migrated",
		logger.String("dialect", s.dialect),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "ping", errors.PriorityMedium)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dbError(err, "ping", errors.PriorityMedium, "dialect", s.dialect)
	}
	return nil
}

// Dialect returns sqlite or mysql.
func (s *Store) Dialect() string {
	return s.dialect
}

// SQLDB returns the connection pool, for pool statistics.
func (s *Store) SQLDB() (*sql.DB, error) {
	return s.db.DB()
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close", errors.PriorityLow)
	}
	return sqlDB.Close()
}

// dbError creates a properly categorized database error with context
func dbError(err error, operation, priority string, kv ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Priority(priority).
		Context("operation", operation)

	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			builder = builder.Context(key, kv[i+1])
		}
	}
	return builder.Build()
}

// validationError creates a validation error for bad input.
func validationError(message, field string) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Build()
}
