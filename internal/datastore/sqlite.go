package datastore

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"

	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/logger"
)

const sqliteOptions = "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

func openSQLite(path string, log logger.Logger) (*Store, error) {
	if path == "" {
		return nil, validationError("sqlite path is required", "sqlite.path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, errors.New(err).
				Component("datastore").
				Category(errors.CategoryConfiguration).
				Context("path", path).
				Build()
		}
	}

	store, err := newStore(sqlite.Open(path+sqliteOptions), "sqlite", log)
	if err != nil {
		return nil, err
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY between them.
	if sqlDB, err := store.db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	log.Info("opened sqlite database", logger.String("path", path))
	return store, nil
}
