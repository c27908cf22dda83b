package board

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateImage(t *testing.T) {
	require.NoError(t, ValidateImage("image/png", 1024))
	require.NoError(t, ValidateImage("Image/JPEG; charset=binary", MaxImageBytes))

	cases := []struct {
		name        string
		contentType string
		size        int64
	}{
		{"svg", "image/svg+xml", 10},
		{"empty", "image/png", 0},
		{"too large", "image/webp", MaxImageBytes + 1},
		{"not an image", "text/html", 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateImage(tc.contentType, tc.size)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, "image", verr.Field)
		})
	}
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://example.com/a?b=c"))
	assert.NoError(t, ValidateURL(" http://localhost:8080 "))

	for _, raw := range []string{"", "javascript:alert(1)", "ftp://host/file", "https://", "data:text/html,hi"} {
		err := ValidateURL(raw)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %q, got %v", raw, err)
		}
	}
}

func TestParseWindowType(t *testing.T) {
	got, err := ParseWindowType(" Assistant3D ")
	require.NoError(t, err)
	assert.Equal(t, TypeAssistant3D, got)

	_, err = ParseWindowType("spreadsheet")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCapabilities(t *testing.T) {
	for _, typ := range WindowTypes {
		caps := typ.Capabilities()
		if caps.DefaultSize.Width < caps.MinSize.Width || caps.DefaultSize.Height < caps.MinSize.Height {
			t.Fatalf("%s default size %+v below minimum %+v", typ, caps.DefaultSize, caps.MinSize)
		}
		if caps.Editable != (typ == TypeText) {
			t.Fatalf("%s editable=%v", typ, caps.Editable)
		}
	}
	assistant := TypeAssistant3D.Capabilities()
	assert.True(t, assistant.Privileged)
	assert.False(t, assistant.Draggable)
}
