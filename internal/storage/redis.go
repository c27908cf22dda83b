package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "clippia:whiteboard:"

// RedisStore keeps each record as a JSON value under one key per user.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(dsn string) (*RedisStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return NewRedisStoreWithClient(redis.NewClient(opts)), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: redisKeyPrefix}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}

func (s *RedisStore) Fetch(ctx context.Context, userID string) (Record, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return Record{}, err
	}
	payload, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *RedisStore) Upsert(ctx context.Context, rec Record) (Record, error) {
	userID, err := normalizeUserID(rec.UserID)
	if err != nil {
		return Record{}, err
	}
	now := time.Now().UTC()
	existing, err := s.Fetch(ctx, userID)
	switch {
	case err == nil:
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		if rec.Name == "" {
			rec.Name = existing.Name
		}
	case errors.Is(err, ErrNotFound):
		rec.ID = uuid.NewString()
		rec.CreatedAt = now
	default:
		return Record{}, err
	}
	rec.UserID = userID
	rec.Name = normalizeName(rec.Name)
	rec.Version = normalizeVersion(rec.Version)
	rec.UpdatedAt = now
	payload, err := json.Marshal(rec)
	if err != nil {
		return Record{}, err
	}
	if err := s.client.Set(ctx, s.key(userID), payload, 0).Err(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *RedisStore) Create(ctx context.Context, userID, name string, data []byte) (Record, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return Record{}, err
	}
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
	payload, err := json.Marshal(rec)
	if err != nil {
		return Record{}, err
	}
	created, err := s.client.SetNX(ctx, s.key(userID), payload, 0).Result()
	if err != nil {
		return Record{}, err
	}
	if !created {
		return Record{}, ErrConflict
	}
	return rec, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
