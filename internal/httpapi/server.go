package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/codec"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/localkv"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/storage"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/syncqueue"
)

type Logger interface {
	Printf(format string, args ...any)
}

// DevSecret verifies tokens when ServerConfig.JWTSecret is empty. It is public,
// so it is only fit for local development and tests.
const DevSecret = "dev-secret"

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	// SaveRetryDelay and SaveMaxRetries configure the save queue of every
	// renderer session.
	SaveRetryDelay time.Duration
	SaveMaxRetries int
	// LocalKV returns the device-local store for a session's backups and
	// prompt cooldown. Nil keeps them in memory for the connection's life.
	LocalKV func(userID string) (localkv.KV, error)
	Logger  Logger
}

type Server struct {
	store       storage.Store
	syncer      *syncqueue.Syncer
	cfg         ServerConfig
	rateLimiter *rateLimiter
	now         func() time.Time

	sessionsMu sync.Mutex
	sessions   int
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(store storage.Store) *Server {
	return NewServerWithConfig(store, ServerConfig{})
}

func NewServerWithConfig(store storage.Store, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = DevSecret
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		store:       store,
		syncer:      syncqueue.NewSyncer(store, cfg.Logger),
		cfg:         cfg,
		rateLimiter: limiter,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.activeSessions()})
		return
	}
	if r.URL.Path == "/v1/session" && r.Method == http.MethodGet {
		s.handleSession(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" || parts[1] != "whiteboards" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	var (
		route       string
		userID      string
		requirePaid bool
	)
	switch {
	case len(parts) == 2 && r.Method == http.MethodPost:
		route = "create"
		requirePaid = true
	case len(parts) == 3 && r.Method == http.MethodGet:
		route = "fetch"
	case len(parts) == 3 && r.Method == http.MethodPut:
		route = "upsert"
		requirePaid = true
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	if len(parts) == 3 {
		unescaped, err := url.PathUnescape(parts[2])
		if err != nil || strings.TrimSpace(unescaped) == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid user id", getCorrelationID(r))
			return
		}
		userID = unescaped
	}

	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, userID, requirePaid, s.now())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return
	}
	if !s.allow(w, claims.Subject, correlationID) {
		return
	}

	switch route {
	case "fetch":
		s.handleFetch(w, r, userID, correlationID)
	case "upsert":
		s.handleUpsert(w, r, userID, correlationID)
	case "create":
		s.handleCreate(w, r, claims.Subject, correlationID)
	}
}

func (s *Server) allow(w http.ResponseWriter, key, correlationID string) bool {
	if s.rateLimiter == nil || s.rateLimiter.allow(key, s.now()) {
		return true
	}
	retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
	return false
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request, userID, correlationID string) {
	rec, err := s.store.Fetch(r.Context(), userID)
	if err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request, userID, correlationID string) {
	var body storage.UpsertRequest
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	if !validBoardData(w, body.Data, correlationID) {
		return
	}
	rec, err := s.store.Upsert(r.Context(), storage.Record{
		UserID:  userID,
		Name:    body.Name,
		Data:    body.Data,
		Version: body.Version,
	})
	if err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, subject, correlationID string) {
	var body storage.CreateRequest
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	userID := strings.TrimSpace(body.UserID)
	if userID == "" {
		userID = subject
	}
	if userID != subject {
		writeError(w, http.StatusForbidden, "forbidden", "user mismatch", correlationID)
		return
	}
	if len(body.Data) > 0 && !validBoardData(w, body.Data, correlationID) {
		return
	}
	rec, err := s.store.Create(r.Context(), userID, body.Name, body.Data)
	if err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// validBoardData refuses payloads that would not load back, so one bad
// client cannot poison a user's board for every other device.
func validBoardData(w http.ResponseWriter, data []byte, correlationID string) bool {
	if _, err := codec.Decode(data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_board", err.Error(), correlationID)
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error(), correlationID)
	case errors.Is(err, storage.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	case errors.Is(err, storage.ErrNotImplemented):
		writeError(w, http.StatusNotImplemented, "not_implemented", err.Error(), correlationID)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
	}
}

func (s *Server) activeSessions() int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return s.sessions
}

func (s *Server) trackSession(delta int) {
	s.sessionsMu.Lock()
	s.sessions += delta
	s.sessionsMu.Unlock()
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func (s *Server) logf(format string, args ...any) {
	if s.cfg.Logger == nil {
		return
	}
	s.cfg.Logger.Printf(format, args...)
}
