package store

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/moneymikec/mSIGNA/internal/loggers"
)

// DB is the driver-agnostic persistence handle spec.md section 6
// describes: something that can hand out transactions and, within
// one, be queried by equality/range/NULL on any documented attribute.
type DB struct {
	sqlDB  *sql.DB
	driver string // "sqlite" or "postgres"
}

// Open opens (and, if necessary, creates) the schema on the given
// driver/DSN pair. driver is "sqlite" or "postgres"; the sql.DB driver
// name registered for postgres is "pgx".
func Open(driver, dsn string) (*DB, error) {
	driverName := driver
	if driver == "postgres" {
		driverName = "pgx"
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		// The core's concurrency model is a single global mutex
		// (spec.md section 5): one writer at a time is exactly what
		// SQLite wants too.
		sqlDB.SetMaxOpenConns(1)
	}

	db := &DB{sqlDB: sqlDB, driver: driver}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate() error {
	for _, stmt := range schema(db.driver) {
		if _, err := db.sqlDB.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	loggers.Store.Debugf("schema migrated on %s backend", db.driver)
	return nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	return db.sqlDB.Close()
}

// Begin starts a new Session (one *sql.Tx plus an identity map) for
// the duration of one façade operation.
func (db *DB) Begin() (*Session, error) {
	tx, err := db.sqlDB.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return newSession(tx, db.driver), nil
}
