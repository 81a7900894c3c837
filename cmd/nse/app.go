package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"nsefetch/pkg/config"
	errs "nsefetch/pkg/errors"
	"nsefetch/pkg/logger"
	"nsefetch/pkg/nse"
	"nsefetch/pkg/retry"
	"nsefetch/pkg/session"
)

// app bundles what every exchange command needs
type app struct {
	cfg     *config.Config
	log     logger.Logger
	session *session.Manager
	client  *nse.Client
}

func loadConfig() (*config.Config, error) {
	flags := map[string]interface{}{
		"log-level": logLevel,
		"engine":    engine,
		"folder":    folder,
	}
	return config.Load(configFile, flags)
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	m, err := session.New(cfg, log)
	if err != nil {
		return nil, err
	}

	client := nse.New(m,
		nse.WithBaseURL(cfg.Session.BaseURL),
		nse.WithArchiveURL(cfg.Session.ArchiveURL),
		nse.WithLogger(log),
	)
	return &app{cfg: cfg, log: log, session: m, client: client}, nil
}

func (a *app) Close() {
	if err := a.session.Close(); err != nil {
		a.log.WithError(err).Warn("failed to close session")
	}
}

// runWithApp adapts an exchange command to cobra, owning the app lifetime
func runWithApp(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a, cmd, args)
	}
}

// fetch retries transient failures of op per the retry configuration
func fetch[T any](ctx context.Context, a *app, op func(ctx context.Context) (T, error)) (T, error) {
	return retry.DoWithResult(func() (T, error) {
		return op(ctx)
	}, retry.NetworkPolicy(ctx, a.cfg.Retry, a.log))
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var dateLayouts = []string{time.DateOnly, nse.ExpiryLayout, "02-01-2006"}

// parseDate accepts 2026-10-16, 16-Oct-2026 or 16-10-2026. An empty
// string yields the zero time.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, nse.IST); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errs.Newf(errs.ErrorTypeInvalidArgument, 0, "invalid date %q, want YYYY-MM-DD", s)
}

func today() time.Time {
	now := time.Now().In(nse.IST)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, nse.IST)
}
