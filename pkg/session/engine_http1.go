package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"nsefetch/pkg/config"
)

// http1Engine is plain net/http pinned to HTTP/1.1
type http1Engine struct {
	client          *http.Client
	transport       *http.Transport
	jar             *Jar
	headers         map[string]string
	requestTimeout  time.Duration
	downloadTimeout time.Duration
}

func newHTTP1Engine(cfg config.SessionConfig, jar *Jar, headers map[string]string) *http1Engine {
	transport := newTransport()
	// a non-nil empty map disables the bundled HTTP/2 upgrade
	transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}

	return &http1Engine{
		client:          &http.Client{Transport: transport, Jar: jar},
		transport:       transport,
		jar:             jar,
		headers:         headers,
		requestTimeout:  cfg.RequestTimeout,
		downloadTimeout: cfg.DownloadTimeout,
	}
}

func (e *http1Engine) Name() string { return config.EngineHTTP1 }

func (e *http1Engine) Jar() *Jar { return e.jar }

func (e *http1Engine) Get(ctx context.Context, r *Request) (*Response, error) {
	ctx, cancel := withTimeout(ctx, e.requestTimeout)
	defer cancel()

	resp, err := e.do(ctx, r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (e *http1Engine) Stream(ctx context.Context, r *Request) (*StreamResponse, error) {
	ctx, cancel := withTimeout(ctx, e.downloadTimeout)

	resp, err := e.do(ctx, r)
	if err != nil {
		cancel()
		return nil, err
	}
	return &StreamResponse{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		Body:          &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
	}, nil
}

func (e *http1Engine) do(ctx context.Context, r *Request) (*http.Response, error) {
	target, err := withParams(r.URL, r.Params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range e.headers {
		req.Header.Set(key, value)
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	return e.client.Do(req)
}

func (e *http1Engine) Close() {
	e.transport.CloseIdleConnections()
}

// withParams merges params into the query string of rawURL
func withParams(rawURL string, params url.Values) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
