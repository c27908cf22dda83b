package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTableName    = "whiteboards"
	sqlOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// sqlDialect captures the few places where Postgres and SQLite disagree.
type sqlDialect struct {
	driver      string
	bind        func(n int) string
	createTable func(table string) string
	isUnique    func(err error) bool
}

// sqlStore is the database/sql implementation shared by the Postgres and
// SQLite backends. The table is created lazily on first use.
type sqlStore struct {
	dsn       string
	tableName string
	dialect   sqlDialect
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func (s *sqlStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB(s.dialect.driver, s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()
		if _, err := db.ExecContext(ctx, s.dialect.createTable(quoteIdentifier(s.tableName))); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *sqlStore) Fetch(ctx context.Context, userID string) (Record, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return Record{}, err
	}
	if err := s.ensureReady(); err != nil {
		return Record{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT id, user_id, name, data, version, created_at, updated_at FROM %s WHERE user_id = %s",
		quoteIdentifier(s.tableName), s.dialect.bind(1),
	)
	var rec Record
	err = s.db.QueryRowContext(ctx, query, userID).Scan(
		&rec.ID, &rec.UserID, &rec.Name, &rec.Data, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func (s *sqlStore) Upsert(ctx context.Context, rec Record) (Record, error) {
	userID, err := normalizeUserID(rec.UserID)
	if err != nil {
		return Record{}, err
	}
	if err := s.ensureReady(); err != nil {
		return Record{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	now := time.Now().UTC()
	b := s.dialect.bind
	// name is only replaced when the caller supplied one.
	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, name, data, version, created_at, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT (user_id)
		DO UPDATE SET
			data = EXCLUDED.data,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at,
			name = CASE WHEN %s = '' THEN %s.name ELSE EXCLUDED.name END`,
		quoteIdentifier(s.tableName), b(1), b(2), b(3), b(4), b(5), b(6), b(7), b(8), quoteIdentifier(s.tableName),
	)
	if _, err := s.db.ExecContext(ctx, query,
		uuid.NewString(), userID, normalizeName(rec.Name), rec.Data, normalizeVersion(rec.Version), now, now,
		strings.TrimSpace(rec.Name),
	); err != nil {
		return Record{}, err
	}
	return s.Fetch(ctx, userID)
}

func (s *sqlStore) Create(ctx context.Context, userID, name string, data []byte) (Record, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return Record{}, err
	}
	if err := s.ensureReady(); err != nil {
		return Record{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	now := time.Now().UTC()
	rec := Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      normalizeName(name),
		Data:      append([]byte(nil), data...),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	b := s.dialect.bind
	query := fmt.Sprintf(
		"INSERT INTO %s (id, user_id, name, data, version, created_at, updated_at) VALUES (%s, %s, %s, %s, %s, %s, %s)",
		quoteIdentifier(s.tableName), b(1), b(2), b(3), b(4), b(5), b(6), b(7),
	)
	_, err = s.db.ExecContext(ctx, query, rec.ID, rec.UserID, rec.Name, rec.Data, rec.Version, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if s.dialect.isUnique != nil && s.dialect.isUnique(err) {
			return Record{}, ErrConflict
		}
		return Record{}, err
	}
	return rec, nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
