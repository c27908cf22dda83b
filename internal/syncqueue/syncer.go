package syncqueue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/codec"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/storage"
)

type Logger interface {
	Printf(format string, args ...any)
}

// Syncer moves whiteboard snapshots between the codec and a remote store.
type Syncer struct {
	store  storage.Store
	logger Logger
	now    func() time.Time
}

func NewSyncer(store storage.Store, logger Logger) *Syncer {
	return &Syncer{store: store, logger: logger, now: time.Now}
}

// Load returns the user's whiteboard, creating an empty one when the user has
// none. Corrupt stored data yields an empty state together with a fatal
// SyncError so the caller can tell the user.
func (s *Syncer) Load(ctx context.Context, userID string) (codec.State, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return codec.State{}, storage.ErrInvalidInput
	}
	rec, err := s.store.Fetch(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return s.create(ctx, userID)
	}
	if err != nil {
		return codec.State{}, err
	}
	state, err := codec.Decode(rec.Data)
	if err != nil {
		s.logf("whiteboard %s for user %s is unreadable: %v", rec.ID, userID, err)
		return codec.Empty(), &SyncError{Kind: KindFatal, Err: err, At: s.now()}
	}
	return state, nil
}

func (s *Syncer) create(ctx context.Context, userID string) (codec.State, error) {
	empty := codec.Empty()
	blob, err := codec.Encode(empty)
	if err != nil {
		return codec.State{}, err
	}
	_, err = s.store.Create(ctx, userID, storage.DefaultName, blob)
	if errors.Is(err, storage.ErrConflict) {
		// Another writer created it first.
		return s.Load(ctx, userID)
	}
	if err != nil {
		return codec.State{}, err
	}
	s.logf("created whiteboard for user %s", userID)
	return empty, nil
}

func (s *Syncer) Save(ctx context.Context, userID string, state codec.State) error {
	blob, err := codec.Encode(state)
	if err != nil {
		return err
	}
	_, err = s.store.Upsert(ctx, storage.Record{
		UserID:  userID,
		Data:    blob,
		Version: codec.CurrentVersion,
	})
	return err
}

// For binds the syncer to one user so it can back a Queue.
func (s *Syncer) For(userID string) Saver {
	return SaverFunc(func(ctx context.Context, state codec.State) error {
		return s.Save(ctx, userID, state)
	})
}

func (s *Syncer) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
