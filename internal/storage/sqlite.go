package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	*sqlStore
}

var sqliteDialect = sqlDialect{
	driver: "sqlite",
	bind: func(int) string {
		return "?"
	},
	createTable: func(table string) string {
		return fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL,
				data BLOB NOT NULL,
				version INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`, table)
	},
	isUnique: func(err error) bool {
		return strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
}

// NewSQLiteStore opens a database file. path may be ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &SQLiteStore{sqlStore: &sqlStore{
		dsn:       path,
		tableName: defaultTableName,
		dialect:   sqliteDialect,
		openDB:    openSQLite,
	}}, nil
}

func openSQLite(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	return db, nil
}
