package board

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrValidation = errors.New("validation failed")

const MaxImageBytes = 5 << 20

var allowedImageTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/gif":  {},
	"image/webp": {},
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ValidateImage rejects images that may not be embedded in a window.
func ValidateImage(contentType string, size int64) error {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	if _, ok := allowedImageTypes[contentType]; !ok {
		return &ValidationError{Field: "image", Reason: fmt.Sprintf("type %q is not allowed", contentType)}
	}
	if size <= 0 {
		return &ValidationError{Field: "image", Reason: "empty image"}
	}
	if size > MaxImageBytes {
		return &ValidationError{Field: "image", Reason: fmt.Sprintf("%d bytes exceeds limit of %d", size, MaxImageBytes)}
	}
	return nil
}

func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &ValidationError{Field: "url", Reason: "empty"}
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Field: "url", Reason: err.Error()}
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return &ValidationError{Field: "url", Reason: fmt.Sprintf("scheme %q is not allowed", parsed.Scheme)}
	}
	if parsed.Host == "" {
		return &ValidationError{Field: "url", Reason: "missing host"}
	}
	return nil
}
