package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	StoreDSN   string
	JWTSecret  string
	LogLevel   string
	LogConsole bool

	logger zerolog.Logger
	// envWarnings holds env parse problems found while flags are defined,
	// before the logger exists.
	envWarnings []string
}

// printfLogger adapts zerolog to the Printf logger the internal packages
// accept. Messages go out at info level.
type printfLogger struct {
	logger *zerolog.Logger
}

func (l printfLogger) Printf(format string, args ...any) {
	l.logger.Info().Msgf(format, args...)
}

func (a *app) printf() printfLogger {
	return printfLogger{logger: &a.logger}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:          "clippia",
		Short:        "Whiteboard state and sync server",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Serve the whiteboard API and renderer sessions
  clippia serve --addr :8080 --store sqlite://clippia.db

  # Show what is stored for a user
  clippia inspect user-1 --store file:///var/lib/clippia/boards.json

  # Mint a development token
  clippia token user-1 --paid
`),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), a.LogLevel, a.LogConsole)
			if err != nil {
				return err
			}
			a.logger = logger
			for _, msg := range a.envWarnings {
				a.logger.Warn().Msg(msg)
			}
			a.envWarnings = nil
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&a.StoreDSN, "store", envOrDefault("CLIPPIA_STORE_DSN", ""), "Remote store DSN (memory://, file://, sqlite://, postgres://, redis://, http(s)://)")
	cmd.PersistentFlags().StringVar(&a.JWTSecret, "jwt-secret", envOrDefault("CLIPPIA_JWT_SECRET", ""), "HS256 secret for bearer tokens (required by serve)")
	cmd.PersistentFlags().StringVar(&a.LogLevel, "log-level", envOrDefault("CLIPPIA_LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&a.LogConsole, "log-console", a.boolEnv("CLIPPIA_LOG_CONSOLE", false), "Human-readable console logs instead of JSON")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newInspectCmd(a))
	cmd.AddCommand(newTokenCmd(a))
	return cmd
}

func newLogger(w io.Writer, level string, console bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func envOrDefault(name, fallback string) string {
	if raw := strings.TrimSpace(os.Getenv(name)); raw != "" {
		return raw
	}
	return fallback
}

func (a *app) intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		a.warnf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func (a *app) int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		a.warnf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func (a *app) durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		a.warnf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func (a *app) boolEnv(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		a.warnf("invalid %s=%q, using fallback %t", name, raw, fallback)
		return fallback
	}
	return value
}

func (a *app) warnf(format string, args ...any) {
	a.envWarnings = append(a.envWarnings, fmt.Sprintf(format, args...))
}
