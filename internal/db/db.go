package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
	_ "modernc.org/sqlite"

	"document-qa/internal/config"
)

// NewDB wraps an open connection pool in bun, logging queries when debug is set
func NewDB(sqldb *sql.DB, dialect schema.Dialect, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, dialect)
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the configured SQL database. Drivers: pgdriver (bun's
// native postgres driver), postgres (lib/pq) and sqlite (modernc).
func ConnectDB(cfg *config.DatabaseConfig) (*bun.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required for driver %q", cfg.Driver)
	}
	log.Debug().Str("driver", cfg.Driver).Msg("connecting to database")

	switch cfg.Driver {
	case "pgdriver":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		sqldb := sql.OpenDB(pgdriver.NewConnector(opts...))
		return NewDB(sqldb, pgdialect.New(), cfg.Debug), nil
	case "postgres":
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return NewDB(sqldb, pgdialect.New(), cfg.Debug), nil
	case "sqlite":
		sqldb, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// a single connection keeps ":memory:" databases alive and serializes writes
		sqldb.SetMaxOpenConns(1)
		return NewDB(sqldb, sqlitedialect.New(), cfg.Debug), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
