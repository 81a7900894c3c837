package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"nsefetch/pkg/config"
	errs "nsefetch/pkg/errors"
	"nsefetch/pkg/logger"
	"nsefetch/pkg/ratelimit"
	"nsefetch/pkg/retry"
	"nsefetch/pkg/storage"
)

// Manager owns one HTTP engine, its cookie jar and the request limiter.
// It is safe for concurrent use.
type Manager struct {
	cfg        config.SessionConfig
	engine     Engine
	jar        *Jar
	limiter    ratelimit.Limiter
	store      *storage.Manager
	cookieFile string
	log        logger.Logger

	initMu      sync.Mutex
	initialized atomic.Bool
	closed      atomic.Bool

	refreshGroup singleflight.Group
	// generation increments on every successful cookie bootstrap
	generation atomic.Uint64
}

// Option customises a Manager
type Option func(*Manager)

// WithLimiter replaces the default rolling-window limiter
func WithLimiter(l ratelimit.Limiter) Option {
	return func(m *Manager) { m.limiter = l }
}

// WithEngine replaces the engine chosen from configuration. The engine
// must store cookies in its Jar.
func WithEngine(e Engine) Option {
	return func(m *Manager) {
		m.engine = e
		m.jar = e.Jar()
	}
}

// New creates a Manager. Nothing touches the network until Initialize or
// the first request. An invalid cfg yields ErrorTypeInvalidArgument.
func New(cfg *config.Config, log logger.Logger, opts ...Option) (*Manager, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg == nil {
		return nil, errs.New(errs.ErrorTypeInvalidArgument, 0, "configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeInvalidArgument, 0, "invalid configuration", err)
	}

	store, err := storage.NewManager(cfg.Session.DownloadFolder)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg.Session,
		store:   store,
		limiter: ratelimit.NewSlidingWindow(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window),
		log:     log.WithField("component", "session"),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.engine == nil {
		jar, err := NewJar()
		if err != nil {
			return nil, err
		}
		engine, err := NewEngine(cfg.Session, jar, browserHeaders(cfg.Session), m.log)
		if err != nil {
			return nil, errs.Wrap(errs.ErrorTypeInvalidArgument, 0, "failed to build engine", err)
		}
		m.engine = engine
		m.jar = jar
	}

	m.cookieFile = cookieFilePath(cfg.Session.DownloadFolder, m.engine.Name())
	m.log = m.log.WithField("engine", m.engine.Name())
	return m, nil
}

// EngineName reports which engine the manager drives
func (m *Manager) EngineName() string {
	return m.engine.Name()
}

// DownloadFolder is the default destination for Download
func (m *Manager) DownloadFolder() string {
	return m.store.Dir()
}

// Initialize loads persisted cookies if they are fresh, or bootstraps a new
// set from the landing page and persists it. Calling it again after a
// success is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.closed.Load() {
		return errClosed()
	}
	if m.initialized.Load() {
		return nil
	}

	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.initialized.Load() {
		return nil
	}

	cookies, ok, reason := loadCookieFile(m.cookieFile, m.cfg.CookieMaxAge, time.Now())
	if ok {
		if err := m.jar.seed(cookies); err == nil {
			m.generation.Add(1)
			m.initialized.Store(true)
			m.log.InfoWithFields("loaded persisted cookies", map[string]interface{}{
				"file":    m.cookieFile,
				"cookies": len(cookies),
			})
			return nil
		}
		reason = "unusable cookie file"
	}

	m.log.InfoWithFields("bootstrapping session cookies", map[string]interface{}{
		"reason": reason,
	})
	if err := m.bootstrap(ctx); err != nil {
		return err
	}
	m.initialized.Store(true)
	return nil
}

// Get issues a rate limited GET and returns the buffered response. An
// expired session is refreshed once and the request repeated; a second
// rejection is reported as ErrorTypeAuthFailed.
func (m *Manager) Get(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}

	req := &Request{URL: rawURL, Params: params}
	return withSession(ctx, m, func() (*Response, error) {
		resp, err := m.send(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := classify(resp.StatusCode, resp.Body, rawURL); err != nil {
			return nil, err
		}
		return resp, nil
	})
}

// GetJSON performs Get and decodes the body into target
func (m *Manager) GetJSON(ctx context.Context, rawURL string, params url.Values, target interface{}) error {
	resp, err := m.Get(ctx, rawURL, params)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(resp.Body, target); err != nil {
		bodyPreview := string(resp.Body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}
		m.log.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          rawURL,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": bodyPreview,
		})
		return errs.Wrap(errs.ErrorTypeInvalidResponse, resp.StatusCode, "failed to parse JSON", err)
	}
	return nil
}

// Close persists the current cookies and releases idle connections.
// It is safe to call more than once.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer m.engine.Close()

	if !m.initialized.Load() || m.jar.Len() == 0 {
		return nil
	}
	if err := saveCookieFile(m.cookieFile, m.engine.Name(), m.jar.snapshot()); err != nil {
		m.log.WithError(err).Warn("failed to persist cookies on close")
		return err
	}
	return nil
}

func (m *Manager) ready(ctx context.Context) error {
	if m.closed.Load() {
		return errClosed()
	}
	return m.Initialize(ctx)
}

// send waits for a rate limit slot and performs one buffered GET
func (m *Manager) send(ctx context.Context, req *Request) (*Response, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeNetwork, 0, "cancelled while waiting for rate limit", err)
	}

	start := time.Now()
	resp, err := m.engine.Get(ctx, req)
	if err != nil {
		m.log.WarnWithFields("HTTP request failed", map[string]interface{}{
			"url":   req.URL,
			"error": err.Error(),
		})
		return nil, errs.Wrap(errs.ErrorTypeNetwork, 0, "GET "+req.URL, err)
	}
	logger.LogRequest(m.log, http.MethodGet, req.URL, resp.StatusCode, time.Since(start))
	return resp, nil
}

// withSession runs op, and when it fails with an expired session, refreshes
// the cookies once and runs it again.
func withSession[T any](ctx context.Context, m *Manager, op func() (T, error)) (T, error) {
	var (
		zero    T
		attempt int
		seen    uint64
	)

	result, err := retry.DoWithResult(func() (T, error) {
		attempt++
		if attempt > 1 {
			if err := m.refresh(ctx, seen); err != nil {
				return zero, err
			}
		}
		seen = m.generation.Load()
		return op()
	}, &retry.Config{
		MaxAttempts: 2,
		Backoff:     &retry.ConstantBackoff{},
		RetryIf:     errs.IsSessionExpired,
		Context:     ctx,
		Logger:      m.log,
	})

	if err != nil && errs.IsSessionExpired(err) {
		var apiErr *errs.Error
		errors.As(err, &apiErr)
		m.log.ErrorWithFields("session rejected after cookie refresh", map[string]interface{}{
			"status": apiErr.Code,
		})
		return zero, errs.Wrap(errs.ErrorTypeAuthFailed, apiErr.Code, "session rejected after cookie refresh", err)
	}
	return result, err
}

// refresh re-bootstraps cookies. Concurrent callers share one bootstrap,
// and a caller whose failed request predates a completed refresh just
// retries with the new cookies.
func (m *Manager) refresh(ctx context.Context, seen uint64) error {
	_, err, shared := m.refreshGroup.Do("refresh", func() (interface{}, error) {
		if m.generation.Load() != seen {
			return nil, nil
		}
		m.log.Warn("session expired, refreshing cookies")
		return nil, m.bootstrap(ctx)
	})
	if shared {
		m.log.Debug("joined in-flight cookie refresh")
	}
	return err
}

// bootstrap discards every cookie, fetches the landing page and persists
// whatever cookies it sets.
func (m *Manager) bootstrap(ctx context.Context) error {
	if err := m.jar.Reset(); err != nil {
		return errs.Wrap(errs.ErrorTypeUnknown, 0, "failed to reset cookies", err)
	}

	landing := strings.TrimRight(m.cfg.BaseURL, "/") + m.cfg.BootstrapPath
	resp, err := m.send(ctx, &Request{URL: landing})
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errs.Newf(errs.ErrorTypeAuthFailed, resp.StatusCode, "landing page rejected the session bootstrap")
	case resp.StatusCode >= 500:
		return errs.Newf(errs.ErrorTypeServerError, resp.StatusCode, "landing page returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return errs.Newf(errs.ErrorTypeInvalidResponse, resp.StatusCode, "landing page returned %d", resp.StatusCode)
	}

	cookies := m.jar.snapshot()
	if len(cookies) == 0 {
		m.log.WarnWithFields("landing page set no cookies", map[string]interface{}{"url": landing})
	} else if err := saveCookieFile(m.cookieFile, m.engine.Name(), cookies); err != nil {
		m.log.WithError(err).Warn("failed to persist cookies")
	}

	m.generation.Add(1)
	m.log.InfoWithFields("session cookies refreshed", map[string]interface{}{
		"cookies": len(cookies),
	})
	return nil
}

// IsSessionExpired is the single predicate deciding that the exchange
// rejected our cookies: an auth-style status, or a success status with an
// empty body.
func IsSessionExpired(statusCode int, body []byte) bool {
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return true
	}
	return statusCode >= 200 && statusCode < 300 && len(bytes.TrimSpace(body)) == 0
}

// classify turns a completed exchange into a typed error, or nil
func classify(statusCode int, body []byte, rawURL string) error {
	switch {
	case IsSessionExpired(statusCode, body):
		return errs.Newf(errs.ErrorTypeSessionExpired, statusCode, "session expired fetching %s", rawURL)
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return errs.Newf(errs.ErrorTypeNotFound, statusCode, "%s not found", rawURL)
	case statusCode >= 500:
		return errs.Newf(errs.ErrorTypeServerError, statusCode, "server error fetching %s", rawURL)
	case statusCode < 200 || statusCode >= 300:
		return errs.Newf(errs.ErrorTypeInvalidResponse, statusCode, "unexpected status %d fetching %s", statusCode, rawURL)
	}
	return nil
}

func errClosed() error {
	return errs.New(errs.ErrorTypeClosed, 0, "session manager is closed")
}
