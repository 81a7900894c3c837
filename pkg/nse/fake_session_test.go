package nse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	errs "nsefetch/pkg/errors"
	"nsefetch/pkg/session"
)

const testBase = "https://nse.test"

type reply struct {
	body string
	err  error
}

type call struct {
	path   string
	params url.Values
}

type downloadCall struct {
	url    string
	folder string
	opts   session.DownloadOptions
}

// fakeSession answers requests from canned replies keyed by URL path. The
// last reply queued for a path repeats.
type fakeSession struct {
	mu        sync.Mutex
	folder    string
	replies   map[string][]reply
	calls     []call
	downloads []downloadCall
	download  func(rawURL string) (string, error)
}

func newFakeSession(t *testing.T) *fakeSession {
	return &fakeSession{
		folder:  t.TempDir(),
		replies: make(map[string][]reply),
	}
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *fakeSession) {
	fs := newFakeSession(t)
	opts = append([]Option{WithBaseURL(testBase), WithArchiveURL(testBase + "/archives")}, opts...)
	return New(fs, opts...), fs
}

func (f *fakeSession) reply(path string, bodies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range bodies {
		f.replies[path] = append(f.replies[path], reply{body: b})
	}
}

func (f *fakeSession) fail(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[path] = append(f.replies[path], reply{err: err})
}

func (f *fakeSession) callsTo(path string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.path == path {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeSession) Get(ctx context.Context, rawURL string, params url.Values) (*session.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{path: u.Path, params: params})

	queue := f.replies[u.Path]
	if len(queue) == 0 {
		return nil, errs.Newf(errs.ErrorTypeNotFound, http.StatusNotFound, "%s not found", rawURL)
	}
	r := queue[0]
	if len(queue) > 1 {
		f.replies[u.Path] = queue[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &session.Response{StatusCode: http.StatusOK, Body: []byte(r.body)}, nil
}

func (f *fakeSession) GetJSON(ctx context.Context, rawURL string, params url.Values, target interface{}) error {
	resp, err := f.Get(ctx, rawURL, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, target); err != nil {
		return errs.Wrap(errs.ErrorTypeInvalidResponse, resp.StatusCode, "failed to parse JSON", err)
	}
	return nil
}

func (f *fakeSession) Download(ctx context.Context, rawURL, folder string, opts *session.DownloadOptions) (string, error) {
	f.mu.Lock()
	rec := downloadCall{url: rawURL, folder: folder}
	if opts != nil {
		rec.opts = *opts
	}
	f.downloads = append(f.downloads, rec)
	fn := f.download
	f.mu.Unlock()

	if fn != nil {
		return fn(rawURL)
	}
	if folder == "" {
		folder = f.folder
	}
	p := filepath.Join(folder, filepath.Base(rawURL))
	return p, os.WriteFile(p, []byte("data"), 0644)
}

func (f *fakeSession) DownloadFolder() string {
	return f.folder
}

// fixedClock returns a clock frozen at the given IST date and time
func fixedClock(year int, month time.Month, day, hour int) func() time.Time {
	t := time.Date(year, month, day, hour, 0, 0, 0, IST)
	return func() time.Time { return t }
}
