package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/matheus3301/casesync/internal/store/migrations"
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	From    uint
	Version uint
	Dirty   bool
	Changed bool
}

// migrateLogger adapts zap to migrate.Logger.
type migrateLogger struct {
	logger *zap.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool {
	return l.logger.Core().Enabled(zap.DebugLevel)
}

// Migrate brings the transcript schema up to the latest version. A nil
// logger discards migration output.
func (db *DB) Migrate(logger *zap.Logger) (*MigrateResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("migrate").With(zap.String("db", db.path))

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	m.Log = migrateLogger{logger: logger}

	from, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return nil, fmt.Errorf("schema version %d is dirty; repair or delete %s", from, db.path)
	}

	err = m.Up()
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	result := &MigrateResult{From: from, Version: version, Dirty: dirty, Changed: changed}
	if changed {
		logger.Info("migrations applied", zap.Uint("from", from), zap.Uint("version", version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", version))
	}
	return result, nil
}
