package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	errs "nsefetch/pkg/errors"
	"nsefetch/pkg/logger"
	"nsefetch/pkg/storage"
)

// DownloadOptions tunes a single Download call
type DownloadOptions struct {
	// Filename overrides the name taken from the URL path
	Filename string
	// Params are added to the URL query
	Params url.Values
	// SkipExtract keeps zip and gzip payloads as downloaded
	SkipExtract bool
	// KeepArchive keeps the archive next to the extracted files
	KeepArchive bool
	// MinSize rejects smaller payloads as not (yet) published
	MinSize int64
	// Progress, when set, is called once the response headers arrive with
	// the announced length (-1 if unknown) and receives every body byte.
	Progress func(total int64) io.Writer
}

// Download fetches rawURL into folder (the configured download folder when
// empty) and returns the path of the resulting file. Zip archives yield the
// first extracted file and gzip payloads their decompressed form.
func (m *Manager) Download(ctx context.Context, rawURL, folder string, opts *DownloadOptions) (string, error) {
	if opts == nil {
		opts = &DownloadOptions{}
	}
	if err := m.ready(ctx); err != nil {
		return "", err
	}

	name := opts.Filename
	if name == "" {
		name = filenameFromURL(rawURL)
	}
	if name == "" || name != path.Base(name) {
		return "", errs.Newf(errs.ErrorTypeInvalidArgument, 0, "cannot derive a file name from %s", rawURL)
	}

	store := m.store
	if folder != "" && folder != m.store.Dir() {
		var err error
		if store, err = storage.NewManager(folder); err != nil {
			return "", errs.Wrap(errs.ErrorTypeInvalidArgument, 0, "unusable download folder", err)
		}
	}

	req := &Request{URL: rawURL, Params: opts.Params}
	start := time.Now()
	saved, err := withSession(ctx, m, func() (*savedFile, error) {
		return m.stream(ctx, req, store, name, opts)
	})
	if err != nil {
		return "", err
	}

	result := saved.path
	if !opts.SkipExtract {
		if result, err = m.unpack(store, saved.path, opts.KeepArchive); err != nil {
			return "", err
		}
	}

	m.log.InfoWithFields("download completed", map[string]interface{}{
		"url":      rawURL,
		"path":     result,
		"bytes":    saved.size,
		"duration": time.Since(start),
	})
	return result, nil
}

type savedFile struct {
	path string
	size int64
}

// stream performs one attempt: wait for a slot, open the body, save it.
// Bodies that are empty or below opts.MinSize are rejected while still in
// their temporary file, leaving any earlier copy at the final path intact.
func (m *Manager) stream(ctx context.Context, req *Request, store *storage.Manager, name string, opts *DownloadOptions) (*savedFile, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeNetwork, 0, "cancelled while waiting for rate limit", err)
	}

	start := time.Now()
	resp, err := m.engine.Stream(ctx, req)
	if err != nil {
		m.log.WarnWithFields("download request failed", map[string]interface{}{
			"url":   req.URL,
			"error": err.Error(),
		})
		return nil, errs.Wrap(errs.ErrorTypeNetwork, 0, "GET "+req.URL, err)
	}
	defer resp.Body.Close()

	// the body is not buffered, so an empty 2xx is recognised by its length
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || resp.ContentLength == 0 {
		if err := classify(resp.StatusCode, nil, req.URL); err != nil {
			logger.LogRequest(m.log, http.MethodGet, req.URL, resp.StatusCode, time.Since(start))
			return nil, err
		}
	}

	body := &readTracker{r: resp.Body}
	var src io.Reader = body
	if opts.Progress != nil {
		if w := opts.Progress(resp.ContentLength); w != nil {
			src = io.TeeReader(body, w)
		}
	}

	savedPath, n, err := store.SaveAtLeast(src, name, resp.ContentLength, max(opts.MinSize, 1))
	logger.LogRequest(m.log, http.MethodGet, req.URL, resp.StatusCode, time.Since(start))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTooSmall) && n == 0:
			return nil, errs.Newf(errs.ErrorTypeSessionExpired, resp.StatusCode, "empty body downloading %s", req.URL)
		case errors.Is(err, storage.ErrTooSmall):
			m.log.WarnWithFields("download below minimum size", map[string]interface{}{
				"url":      req.URL,
				"bytes":    n,
				"min_size": opts.MinSize,
			})
			return nil, errs.Newf(errs.ErrorTypeNotFound, resp.StatusCode, "%s is %d bytes, below the %d byte minimum", name, n, opts.MinSize)
		case errors.Is(err, storage.ErrTruncated):
			return nil, errs.Wrap(errs.ErrorTypeNetwork, resp.StatusCode, "transfer truncated", err)
		case body.err != nil:
			return nil, errs.Wrap(errs.ErrorTypeNetwork, resp.StatusCode, "transfer interrupted", err)
		default:
			return nil, errs.Wrap(errs.ErrorTypeUnknown, resp.StatusCode, "failed to write download", err)
		}
	}
	return &savedFile{path: savedPath, size: n}, nil
}

// readTracker remembers the first non-EOF read error so a failed save can
// be blamed on the network or on the local disk.
type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}

// unpack extracts archives in place and returns the primary file
func (m *Manager) unpack(store *storage.Manager, archive string, keepArchive bool) (string, error) {
	kind, err := storage.DetectFile(archive)
	if err != nil {
		return "", errs.Wrap(errs.ErrorTypeUnknown, 0, "failed to inspect download", err)
	}

	var primary string
	switch kind {
	case storage.KindZip:
		paths, err := store.ExtractZip(archive)
		if err != nil {
			os.Remove(archive)
			return "", errs.Wrap(errs.ErrorTypeInvalidResponse, 0, "failed to extract zip", err)
		}
		primary = paths[0]
		m.log.DebugWithFields("extracted zip archive", map[string]interface{}{
			"archive": archive,
			"files":   len(paths),
		})
	case storage.KindGzip:
		name := strings.TrimSuffix(filepath.Base(archive), ".gz")
		if name == filepath.Base(archive) {
			name += ".out"
		}
		if primary, err = store.Gunzip(archive, name); err != nil {
			os.Remove(archive)
			return "", errs.Wrap(errs.ErrorTypeInvalidResponse, 0, "failed to decompress gzip", err)
		}
	default:
		return archive, nil
	}

	if !keepArchive && primary != archive {
		if err := os.Remove(archive); err != nil {
			m.log.WithError(err).Warn("failed to remove archive")
		}
	}
	return primary, nil
}

func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return name
}
