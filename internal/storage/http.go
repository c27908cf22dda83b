package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request later may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// UpsertRequest is the body of PUT /v1/whiteboards/{userId}.
type UpsertRequest struct {
	Name    string `json:"name,omitempty"`
	Data    []byte `json:"data"`
	Version int    `json:"version,omitempty"`
}

// CreateRequest is the body of POST /v1/whiteboards.
type CreateRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Data   []byte `json:"data"`
}

// HTTPClient is a Store backed by a remote clippia server.
//
// Only reads are retried here. Writes are sent once; the save queue owns
// their retries so a failing server sees one request per queued attempt.
type HTTPClient struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	readRetries int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:     baseURL,
		token:       strings.TrimSpace(token),
		httpClient:  httpClient,
		readRetries: 3,
		baseDelay:   100 * time.Millisecond,
		maxDelay:    2 * time.Second,
	}
}

func (c *HTTPClient) Fetch(ctx context.Context, userID string) (Record, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return Record{}, err
	}
	var out Record
	err = c.doJSON(ctx, http.MethodGet, "/v1/whiteboards/"+url.PathEscape(userID), nil, &out)
	return out, err
}

func (c *HTTPClient) Upsert(ctx context.Context, rec Record) (Record, error) {
	userID, err := normalizeUserID(rec.UserID)
	if err != nil {
		return Record{}, err
	}
	body := UpsertRequest{Name: rec.Name, Data: rec.Data, Version: rec.Version}
	var out Record
	err = c.doJSON(ctx, http.MethodPut, "/v1/whiteboards/"+url.PathEscape(userID), body, &out)
	return out, err
}

func (c *HTTPClient) Create(ctx context.Context, userID, name string, data []byte) (Record, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return Record{}, err
	}
	body := CreateRequest{UserID: userID, Name: name, Data: data}
	var out Record
	err = c.doJSON(ctx, http.MethodPost, "/v1/whiteboards", body, &out)
	return out, err
}

func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	retries := 0
	if method == http.MethodGet {
		retries = c.readRetries
	}
	for attempt := 1; ; attempt++ {
		resp, err := c.send(ctx, method, requestPath, payload)
		if err == nil && resp.status >= 200 && resp.status <= 299 {
			if out == nil || len(resp.body) == 0 {
				return nil
			}
			return json.Unmarshal(resp.body, out)
		}
		if err == nil {
			err = statusError(resp.status, resp.body)
		}
		if attempt > retries || !retryable(err) {
			return err
		}
		if waitErr := waitWithContext(ctx, c.backoff(attempt, resp.retryAfter)); waitErr != nil {
			return waitErr
		}
	}
}

type response struct {
	status     int
	body       []byte
	retryAfter time.Duration
}

func (c *HTTPClient) send(ctx context.Context, method, requestPath string, payload []byte) (response, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return response{}, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Correlation-Id", correlationID())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, err
	}
	return response{
		status:     resp.StatusCode,
		body:       raw,
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}, nil
}

// statusError maps a non-2xx response onto the store's sentinel errors.
func statusError(status int, body []byte) error {
	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &envelope)
	switch status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidInput, envelope.Message)
	}
	return &HTTPError{StatusCode: status, Code: envelope.Code, Message: envelope.Message}
}

// retryable treats transport failures and temporary statuses as worth
// another read.
func retryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Temporary()
	}
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrConflict) &&
		!errors.Is(err, ErrInvalidInput) && !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func correlationID() string {
	return fmt.Sprintf("clippia_%d", time.Now().UnixNano())
}

// backoff doubles from baseDelay per attempt. A server Retry-After wins but
// is capped at maxDelay.
func (c *HTTPClient) backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, c.maxDelay)
	}
	return min(c.baseDelay<<(attempt-1), c.maxDelay)
}

// parseRetryAfter reads the delta-seconds form of Retry-After.
func parseRetryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
