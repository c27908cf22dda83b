package board

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

type Sanitizer interface {
	SanitizeTitle(string) string
	SanitizeContent(string) string
}

type htmlSanitizer struct {
	title   *bluemonday.Policy
	content *bluemonday.Policy
}

// NewSanitizer strips all markup from titles and applies a user-generated
// content policy to editor HTML. Inline base64 images survive.
func NewSanitizer() Sanitizer {
	content := bluemonday.UGCPolicy()
	content.AllowDataURIImages()
	return &htmlSanitizer{
		title:   bluemonday.StrictPolicy(),
		content: content,
	}
}

func (s *htmlSanitizer) SanitizeTitle(in string) string {
	return strings.TrimSpace(s.title.Sanitize(in))
}

func (s *htmlSanitizer) SanitizeContent(in string) string {
	return s.content.Sanitize(in)
}
