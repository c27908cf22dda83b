package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/httpapi"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/localkv"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/storage"
)

const shutdownTimeout = 15 * time.Second

type serveOptions struct {
	Addr            string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	LocalDir        string
	SaveRetryDelay  time.Duration
	SaveMaxRetries  int

	// InsecureDevSecret lets serve fall back to the public development secret.
	InsecureDevSecret bool
}

var errMissingJWTSecret = errors.New("jwt secret is required: set CLIPPIA_JWT_SECRET or --jwt-secret")

func newServeCmd(a *app) *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the whiteboard API and renderer sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", envOrDefault("CLIPPIA_ADDR", ":8080"), "Listen address")
	cmd.Flags().IntVar(&opts.RateLimitMax, "rate-limit-max", a.intEnv("CLIPPIA_RATE_LIMIT_MAX", 0), "Requests per user per window (0 disables)")
	cmd.Flags().DurationVar(&opts.RateLimitWindow, "rate-limit-window", a.durationEnv("CLIPPIA_RATE_LIMIT_WINDOW", time.Minute), "Rate limit window")
	cmd.Flags().Int64Var(&opts.MaxBodyBytes, "max-body-bytes", a.int64Env("CLIPPIA_MAX_BODY_BYTES", 0), "Request and message size limit (0 uses the default)")
	cmd.Flags().StringVar(&opts.LocalDir, "local-dir", envOrDefault("CLIPPIA_LOCAL_DIR", ""), "Directory for per-user local backups (empty keeps them in memory)")
	cmd.Flags().DurationVar(&opts.SaveRetryDelay, "save-retry-delay", a.durationEnv("CLIPPIA_SAVE_RETRY_DELAY", 0), "Delay between save retries")
	cmd.Flags().IntVar(&opts.SaveMaxRetries, "save-max-retries", a.intEnv("CLIPPIA_SAVE_MAX_RETRIES", 0), "Save attempts before an item is dropped")
	cmd.Flags().BoolVar(&opts.InsecureDevSecret, "insecure-dev-secret", a.boolEnv("CLIPPIA_INSECURE_DEV_SECRET", false), "Accept tokens signed with the public development secret when no secret is set")
	return cmd
}

// serveSecret refuses to run with an empty secret unless the public
// development secret was asked for explicitly.
func serveSecret(secret string, insecureDev bool) (string, error) {
	if strings.TrimSpace(secret) != "" {
		return secret, nil
	}
	if !insecureDev {
		return "", errMissingJWTSecret
	}
	return httpapi.DevSecret, nil
}

func runServe(ctx context.Context, a *app, opts serveOptions) error {
	secret, err := serveSecret(a.JWTSecret, opts.InsecureDevSecret)
	if err != nil {
		return err
	}
	if secret == httpapi.DevSecret {
		a.logger.Warn().Msg("serving with the public development jwt secret; anyone can mint tokens")
	}
	logger := a.printf()
	store, err := storage.BuildFromDSN(a.StoreDSN, logger)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer store.Close()

	if fileStore, ok := store.(*storage.FileStore); ok {
		go func() {
			err := fileStore.Watch(ctx, func() {
				a.logger.Warn().Str("path", fileStore.Path()).Msg("whiteboard file changed by another writer; last write wins")
			})
			if err != nil && ctx.Err() == nil {
				a.logger.Error().Err(err).Msg("watch whiteboard file")
			}
		}()
	}

	cfg := httpapi.ServerConfig{
		JWTSecret:       secret,
		RateLimitMax:    opts.RateLimitMax,
		RateLimitWindow: opts.RateLimitWindow,
		MaxBodyBytes:    opts.MaxBodyBytes,
		SaveRetryDelay:  opts.SaveRetryDelay,
		SaveMaxRetries:  opts.SaveMaxRetries,
		Logger:          logger,
	}
	if opts.LocalDir != "" {
		root := opts.LocalDir
		cfg.LocalKV = func(userID string) (localkv.KV, error) {
			dir, err := userKVDir(root, userID)
			if err != nil {
				return nil, err
			}
			return localkv.NewDir(dir)
		}
	}

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           httpapi.NewServerWithConfig(store, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.logger.Info().Str("addr", opts.Addr).Str("store", redactDSN(a.StoreDSN)).Msg("clippia listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	a.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// userKVDir maps a user id to its own directory under root.
func userKVDir(root, userID string) (string, error) {
	name := url.PathEscape(strings.TrimSpace(userID))
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("invalid user id %q", userID)
	}
	return filepath.Join(root, name), nil
}

// redactDSN hides credentials before a DSN is logged.
func redactDSN(dsn string) string {
	if dsn == "" {
		return "memory://"
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return dsn
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "redacted")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
