package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
	"nsefetch/pkg/storage"
)

// Jar is a cookie jar that can be emptied in place and remembers every
// cookie it accepted, with its attributes, so the set can be written to
// disk. Both engines share one Jar owned by the Manager.
type Jar struct {
	mu      sync.RWMutex
	jar     *cookiejar.Jar
	records map[string]storedCookie
}

// NewJar creates an empty jar using the public suffix list
func NewJar() (*Jar, error) {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &Jar{jar: inner, records: make(map[string]storedCookie)}, nil
}

// SetCookies implements http.CookieJar
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.jar.SetCookies(u, cookies)

	now := time.Now()
	origin := u.Scheme + "://" + u.Host
	for _, c := range cookies {
		key := c.Name + "|" + c.Domain + "|" + c.Path + "|" + origin
		if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(now)) {
			delete(j.records, key)
			continue
		}
		expires := c.Expires
		if c.MaxAge > 0 {
			expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		j.records[key] = storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
			Origin:   origin,
		}
	}
}

// Cookies implements http.CookieJar
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

// Reset drops every cookie
func (j *Jar) Reset() error {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.jar = inner
	j.records = make(map[string]storedCookie)
	return nil
}

// Len returns the number of cookies the jar has accepted
func (j *Jar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.records)
}

func (j *Jar) snapshot() []storedCookie {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]storedCookie, 0, len(j.records))
	for _, c := range j.records {
		out = append(out, c)
	}
	return out
}

// seed loads persisted cookies back, each against the origin that set it
func (j *Jar) seed(cookies []storedCookie) error {
	for _, c := range cookies {
		u, err := url.Parse(c.Origin)
		if err != nil {
			return fmt.Errorf("invalid cookie origin %q: %w", c.Origin, err)
		}
		j.SetCookies(u, []*http.Cookie{c.httpCookie()})
	}
	return nil
}

type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"http_only"`
	Origin   string    `json:"origin"`
}

func (c storedCookie) httpCookie() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
}

// cookieFile is the on-disk form of a jar
type cookieFile struct {
	SavedAt time.Time      `json:"saved_at"`
	Engine  string         `json:"engine"`
	Cookies []storedCookie `json:"cookies"`
}

// cookieFilePath namespaces the file per engine so switching engines
// never reuses cookies negotiated by the other one.
func cookieFilePath(folder, engine string) string {
	return filepath.Join(folder, "nse_cookies_"+engine+".json")
}

func saveCookieFile(path, engine string, cookies []storedCookie) error {
	data, err := json.MarshalIndent(cookieFile{
		SavedAt: time.Now().UTC(),
		Engine:  engine,
		Cookies: cookies,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}
	return storage.WriteFileAtomic(path, data, 0600)
}

// loadCookieFile returns the persisted cookies when the file is usable.
// A missing, unreadable, stale or expired file yields ok=false and the
// reason, never an error: the caller simply bootstraps again.
func loadCookieFile(path string, maxAge time.Duration, now time.Time) (cookies []storedCookie, ok bool, reason string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, "no cookie file"
		}
		return nil, false, "unreadable cookie file"
	}

	var file cookieFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, false, "corrupt cookie file"
	}

	savedAt := file.SavedAt
	if savedAt.IsZero() {
		if info, err := os.Stat(path); err == nil {
			savedAt = info.ModTime()
		}
	}
	if now.Sub(savedAt) > maxAge {
		return nil, false, "cookie file older than max age"
	}

	if len(file.Cookies) == 0 {
		return nil, false, "cookie file is empty"
	}
	for _, c := range file.Cookies {
		if !c.Expires.IsZero() && !c.Expires.After(now) {
			return nil, false, "cookie " + c.Name + " expired"
		}
	}
	return file.Cookies, true, ""
}
