package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/codec"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/storage"
)

var (
	ErrRetryExhausted  = errors.New("save failed after retries")
	ErrNotEntitled     = errors.New("cloud save requires a paid plan")
	ErrUpgradeRequired = errors.New("upgrade required to save to the cloud")
)

type Kind string

const (
	// KindTransient failures are retried.
	KindTransient Kind = "transient"
	// KindFatal failures drop the item.
	KindFatal Kind = "fatal"
	// KindPolicy failures come from the entitlement gate.
	KindPolicy Kind = "policy"
)

// SyncError is a failure surfaced to the user. It is never retried once
// surfaced and can be dismissed.
type SyncError struct {
	Kind     Kind
	Err      error
	Attempts int
	At       time.Time
}

func (e *SyncError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s sync error after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s sync error: %v", e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Classify maps an error from the save path onto the retry taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	switch {
	case errors.Is(err, ErrNotEntitled), errors.Is(err, ErrUpgradeRequired):
		return KindPolicy
	case errors.Is(err, codec.ErrCorrupt),
		errors.Is(err, storage.ErrInvalidInput),
		errors.Is(err, storage.ErrNotImplemented),
		errors.Is(err, context.Canceled):
		return KindFatal
	}
	var httpErr *storage.HTTPError
	if errors.As(err, &httpErr) && !httpErr.Temporary() {
		switch httpErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusPaymentRequired:
			return KindPolicy
		default:
			return KindFatal
		}
	}
	return KindTransient
}
