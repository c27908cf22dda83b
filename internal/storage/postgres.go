package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

type PostgresStore struct {
	*sqlStore
}

var postgresDialect = sqlDialect{
	driver: "postgres",
	bind: func(n int) string {
		return fmt.Sprintf("$%d", n)
	},
	createTable: func(table string) string {
		return fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL,
				data BYTEA NOT NULL,
				version INTEGER NOT NULL DEFAULT 1,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, table)
	},
	isUnique: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == "23505"
	},
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{sqlStore: &sqlStore{
		dsn:       dsn,
		tableName: defaultTableName,
		dialect:   postgresDialect,
		openDB:    sql.Open,
	}}, nil
}
