package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

type Logger interface {
	Printf(format string, args ...any)
}

// FileStore keeps every record in one JSON document. Several processes may
// share the file; whoever writes last wins and Watch reports foreign writes.
type FileStore struct {
	path   string
	logger Logger

	mu       sync.Mutex
	lastHash [sha256.Size]byte
}

type fileStoreState struct {
	Records map[string]Record `json:"records"`
}

func NewFileStore(path string, logger Logger) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: file store path is required", ErrInvalidInput)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &FileStore{path: filepath.Clean(path), logger: logger}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Fetch(ctx context.Context, userID string) (Record, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.loadLocked()
	if err != nil {
		return Record{}, err
	}
	rec, ok := state.Records[userID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *FileStore) Upsert(ctx context.Context, rec Record) (Record, error) {
	userID, err := normalizeUserID(rec.UserID)
	if err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.loadLocked()
	if err != nil {
		return Record{}, err
	}
	now := time.Now().UTC()
	if existing, ok := state.Records[userID]; ok {
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
	state.Records[userID] = rec
	if err := s.saveLocked(state); err != nil {
		return Record{}, err
	}
	return rec.clone(), nil
}

func (s *FileStore) Create(ctx context.Context, userID, name string, data []byte) (Record, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.loadLocked()
	if err != nil {
		return Record{}, err
	}
	if _, ok := state.Records[userID]; ok {
		return Record{}, ErrConflict
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
	state.Records[userID] = rec
	if err := s.saveLocked(state); err != nil {
		return Record{}, err
	}
	return rec.clone(), nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) loadLocked() (fileStoreState, error) {
	state := fileStoreState{Records: map[string]Record{}}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, err
	}
	if state.Records == nil {
		state.Records = map[string]Record{}
	}
	return state, nil
}

func (s *FileStore) saveLocked(state fileStoreState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return err
	}
	s.lastHash = sha256.Sum256(data)
	return nil
}

// Watch calls onExternalWrite whenever the backing file changes and the new
// content is not what this store last wrote. It blocks until ctx is done.
func (s *FileStore) Watch(ctx context.Context, onExternalWrite func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return err
	}
	target := filepath.Base(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logf("file store watch error: %v", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if !s.changedExternally() {
				continue
			}
			s.logf("whiteboard file %s changed by another writer; last write wins", s.path)
			if onExternalWrite != nil {
				onExternalWrite()
			}
		}
	}
}

func (s *FileStore) changedExternally() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(data)
	if sum == s.lastHash {
		return false
	}
	s.lastHash = sum
	return true
}

func (s *FileStore) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
