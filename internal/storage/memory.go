package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}, now: time.Now}
}

func (s *MemoryStore) Fetch(ctx context.Context, userID string) (Record, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.clone(), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, rec Record) (Record, error) {
	userID, err := normalizeUserID(rec.UserID)
	if err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	existing, ok := s.records[userID]
	if ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		if rec.Name == "" {
			rec.Name = existing.Name
		}
	} else {
		rec.ID = uuid.NewString()
		rec.CreatedAt = now
	}
	rec.UserID = userID
	rec.Name = normalizeName(rec.Name)
	rec.Version = normalizeVersion(rec.Version)
	rec.UpdatedAt = now
	s.records[userID] = rec.clone()
	return rec.clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, userID, name string, data []byte) (Record, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[userID]; ok {
		return Record{}, ErrConflict
	}
	now := s.now().UTC()
	rec := Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      normalizeName(name),
		Data:      append([]byte(nil), data...),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.records[userID] = rec
	return rec.clone(), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
