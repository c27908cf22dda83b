// Package storage is the remote home of whiteboard records: one compressed
// snapshot per user. Backends are selected by DSN.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("whiteboard not found")
	ErrConflict       = errors.New("whiteboard already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

const DefaultName = "My Whiteboard"

// Record is one stored whiteboard. Data is the codec blob.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Data      []byte    `json:"data"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (r Record) clone() Record {
	r.Data = append([]byte(nil), r.Data...)
	return r
}

type Store interface {
	// Fetch returns the user's whiteboard or ErrNotFound.
	Fetch(ctx context.Context, userID string) (Record, error)
	// Upsert replaces the user's whiteboard, creating it when absent. Last
	// write wins.
	Upsert(ctx context.Context, rec Record) (Record, error)
	// Create stores a new whiteboard and fails with ErrConflict if the user
	// already has one.
	Create(ctx context.Context, userID, name string, data []byte) (Record, error)
	Close() error
}

func normalizeUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return userID, nil
}

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultName
	}
	return name
}

func normalizeVersion(v int) int {
	if v <= 0 {
		return 1
	}
	return v
}
