package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/board"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/codec"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/geometry"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/httpapi"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/storage"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/syncqueue"
)

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("CLIPPIA_TEST_INT", "42")
	got := (&app{}).intEnv("CLIPPIA_TEST_INT", 7)
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIntEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("CLIPPIA_TEST_INT_BAD", "not-a-number")
	a := &app{}
	got := a.intEnv("CLIPPIA_TEST_INT_BAD", 7)
	if got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
	if len(a.envWarnings) != 1 || !strings.Contains(a.envWarnings[0], "CLIPPIA_TEST_INT_BAD") {
		t.Fatalf("expected one warning about CLIPPIA_TEST_INT_BAD, got %v", a.envWarnings)
	}
}

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("CLIPPIA_TEST_DURATION", "150ms")
	got := (&app{}).durationEnv("CLIPPIA_TEST_DURATION", time.Second)
	if got != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", got)
	}
}

func TestDurationEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("CLIPPIA_TEST_DURATION_BAD", "soon")
	got := (&app{}).durationEnv("CLIPPIA_TEST_DURATION_BAD", 2*time.Second)
	if got != 2*time.Second {
		t.Fatalf("expected fallback 2s, got %s", got)
	}
}

func TestEnvHelpersUseFallbackWhenUnset(t *testing.T) {
	_ = os.Unsetenv("CLIPPIA_TEST_UNSET")
	a := &app{}

	if got := envOrDefault("CLIPPIA_TEST_UNSET", "x"); got != "x" {
		t.Fatalf("expected fallback x, got %q", got)
	}
	if got := a.int64Env("CLIPPIA_TEST_UNSET", 9); got != 9 {
		t.Fatalf("expected fallback 9, got %d", got)
	}
	if got := a.boolEnv("CLIPPIA_TEST_UNSET", true); !got {
		t.Fatalf("expected fallback true")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "WARN", false)
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	printfLogger{logger: &logger}.Printf("hidden %d", 1)
	assert.Empty(t, buf.String(), "info messages are below warn")

	_, err = newLogger(&buf, "loud", false)
	assert.Error(t, err)
}

func TestUserKVDir(t *testing.T) {
	dir, err := userKVDir("/data", "team/alice")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "team%2Falice"), dir)

	for _, bad := range []string{"", " ", ".", ".."} {
		_, err := userKVDir("/data", bad)
		assert.Error(t, err, bad)
	}
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "memory://", redactDSN(""))
	assert.Equal(t, "postgres://app@db:5432/clippia", redactDSN("postgres://app:secret@db:5432/clippia"))
	assert.NotContains(t, redactDSN("https://api.example.com?token=abc"), "abc")
	assert.Equal(t, "/var/lib/boards.json", redactDSN("/var/lib/boards.json"))
}

func TestEnvWarningsUseConfiguredLogger(t *testing.T) {
	t.Setenv("CLIPPIA_RATE_LIMIT_MAX", "lots")
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"token", "user-1", "--jwt-secret", "s3cret", "--log-level", "warn"})
	require.NoError(t, cmd.Execute())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(errOut.Bytes()), &entry), errOut.String())
	assert.Equal(t, "warn", entry["level"])
	assert.Contains(t, entry["message"], "CLIPPIA_RATE_LIMIT_MAX")
}

func TestServeRequiresJWTSecret(t *testing.T) {
	t.Setenv("CLIPPIA_JWT_SECRET", "")
	t.Setenv("CLIPPIA_INSECURE_DEV_SECRET", "")
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--addr", "127.0.0.1:0"})
	err := cmd.Execute()
	assert.ErrorIs(t, err, errMissingJWTSecret)
}

func TestServeSecret(t *testing.T) {
	secret, err := serveSecret("s3cret", false)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", secret)

	_, err = serveSecret(" ", false)
	assert.ErrorIs(t, err, errMissingJWTSecret)

	secret, err = serveSecret("", true)
	require.NoError(t, err)
	assert.Equal(t, httpapi.DevSecret, secret)
}

func TestTokenCommand(t *testing.T) {
	out := runCLI(t, "token", "user-1", "--paid", "--jwt-secret", "s3cret")
	token := strings.TrimSpace(out)
	require.Equal(t, 2, strings.Count(token, "."), "expected a compact JWT, got %q", token)
}

func TestInspectCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boards.json")
	store, err := storage.NewFileStore(path, nil)
	require.NoError(t, err)
	syncer := syncqueue.NewSyncer(store, nil)
	state := codec.State{
		Nodes: []board.Node{
			{ID: "a", Type: board.TypeText, Width: 400, Height: 300, ZIndex: 1},
			{ID: "b", Type: board.TypeText, Width: 400, Height: 300, ZIndex: 2},
		},
		Edges:    []board.Edge{{ID: "a-b", Source: "a", Target: "b"}},
		Viewport: geometry.Viewport{X: 1, Y: 2, Zoom: 1},
	}
	require.NoError(t, syncer.Save(context.Background(), "user-1", state))
	require.NoError(t, store.Close())

	out := runCLI(t, "inspect", "user-1", "--store", path)
	var summary inspectSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "user-1", summary.UserID)
	assert.Equal(t, 2, summary.Windows)
	assert.Equal(t, 1, summary.Edges)
	assert.Equal(t, codec.CurrentVersion, summary.Version)
	assert.Nil(t, summary.State)
}

func TestInspectFile(t *testing.T) {
	data, err := codec.Encode(codec.Empty())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "board.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	out := runCLI(t, "inspect", "--file", path, "--full")
	var summary inspectSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Zero(t, summary.Windows)
	require.NotNil(t, summary.State)
	assert.Equal(t, geometry.DefaultViewport(), summary.Viewport)
}

func TestInspectRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.bin")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"inspect", "--file", path})
	err := cmd.Execute()
	assert.ErrorIs(t, err, codec.ErrCorrupt)
}

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("clippia %s: %v (%s)", strings.Join(args, " "), err, errOut.String())
	}
	return out.String()
}
