// Package nsetest runs an in-process stand-in for the exchange website:
// a landing page that hands out session cookies and API or archive routes
// that can insist on the most recent cookie.
package nsetest

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"nsefetch/pkg/config"
)

const (
	// CookieName is the session cookie issued by the landing page
	CookieName = "nsit"
	// BootstrapPath is the landing page path
	BootstrapPath = "/option-chain"
)

// Server simulates exchange endpoints with session behaviour
type Server struct {
	server *httptest.Server

	mu            sync.Mutex
	routes        map[string]http.HandlerFunc
	hits          map[string]int
	expireNext    map[string]int
	arrivals      []time.Time
	generation    int
	requireCookie bool
	landingStatus int
}

// NewServer starts a fake exchange. It is closed with t.Cleanup.
func NewServer(t testing.TB) *Server {
	s := &Server{
		routes:     make(map[string]http.HandlerFunc),
		hits:       make(map[string]int),
		expireNext: make(map[string]int),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.server.Close)
	return s
}

// URL returns the base URL of the server
func (s *Server) URL() string {
	return s.server.URL
}

// Close shuts the server down; later requests fail at the transport
func (s *Server) Close() {
	s.server.Close()
}

// Config returns a configuration pointing at this server with its own
// download folder
func (s *Server) Config(t testing.TB) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Session.BaseURL = s.URL()
	cfg.Session.ArchiveURL = s.URL()
	cfg.Session.DownloadFolder = t.TempDir()
	cfg.Session.RequestTimeout = 5 * time.Second
	cfg.Session.DownloadTimeout = 5 * time.Second
	cfg.RateLimit.RequestsPerWindow = 1000
	cfg.Logging.Level = "disabled"
	return cfg
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	s.arrivals = append(s.arrivals, time.Now())

	if r.URL.Path == BootstrapPath {
		status := s.landingStatus
		if status == 0 {
			s.generation++
			http.SetCookie(w, &http.Cookie{
				Name:   CookieName,
				Value:  s.cookieValue(),
				Path:   "/",
				MaxAge: 3600,
			})
			status = http.StatusOK
		}
		s.mu.Unlock()
		w.WriteHeader(status)
		fmt.Fprint(w, "<html><body>option chain</body></html>")
		return
	}

	handler, ok := s.routes[r.URL.Path]
	expired := s.expireNext[r.URL.Path] > 0
	if expired {
		s.expireNext[r.URL.Path]--
	}
	if s.requireCookie && !expired {
		c, err := r.Cookie(CookieName)
		expired = err != nil || c.Value != s.cookieValue()
	}
	s.mu.Unlock()

	switch {
	case expired:
		w.WriteHeader(http.StatusUnauthorized)
	case !ok:
		http.NotFound(w, r)
	default:
		handler(w, r)
	}
}

func (s *Server) cookieValue() string {
	return "gen-" + strconv.Itoa(s.generation)
}

// Handle registers a handler for an exact path
func (s *Server) Handle(path string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[path] = h
}

// JSON serves body as application/json on path
func (s *Server) JSON(path, body string) {
	s.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	})
}

// File serves data with an exact Content-Length on path
func (s *Server) File(path string, data []byte) {
	s.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	})
}

// Truncated announces size bytes but sends only data before hanging up
func (s *Server) Truncated(path string, data []byte, size int) {
	s.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(size))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
			}
		}
	})
}

// Status answers path with a bare status code
func (s *Server) Status(path string, code int) {
	s.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

// ExpireNext makes the next n requests to path answer 401
func (s *Server) ExpireNext(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireNext[path] = n
}

// RequireCookie makes every route answer 401 unless the request carries
// the most recently issued cookie
func (s *Server) RequireCookie(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireCookie = on
}

// InvalidateCookies forgets the current cookie, as if the server-side
// session had timed out
func (s *Server) InvalidateCookies() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
}

// FailLanding makes the landing page answer code instead of issuing cookies
func (s *Server) FailLanding(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.landingStatus = code
}

// CurrentCookie is the value the landing page issued last
func (s *Server) CurrentCookie() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cookieValue()
}

// Hits returns how many requests reached path
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Bootstraps returns how many times the landing page was fetched
func (s *Server) Bootstraps() int {
	return s.Hits(BootstrapPath)
}

// Arrivals returns the arrival time of every request, in order
func (s *Server) Arrivals() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.arrivals))
	copy(out, s.arrivals)
	return out
}

// Reset clears counters and arrival times
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = make(map[string]int)
	s.arrivals = nil
}

// Zip builds an in-memory zip archive from name/content pairs
func Zip(t testing.TB, files ...string) []byte {
	t.Helper()
	return buildZip(t, files...)
}

// Gzip compresses data
func Gzip(t testing.TB, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	writeGzip(t, &buf, data)
	return buf.Bytes()
}
