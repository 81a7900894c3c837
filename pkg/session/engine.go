package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"nsefetch/pkg/config"
	"nsefetch/pkg/logger"
)

// Request describes one outbound GET
type Request struct {
	URL     string
	Params  url.Values
	Headers map[string]string
}

// Response is a fully buffered reply
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StreamResponse is a reply whose body has not been read yet. The caller
// must close Body.
type StreamResponse struct {
	StatusCode int
	Header     http.Header
	// ContentLength is -1 when unknown, including when the transport
	// transparently decompressed the body.
	ContentLength int64
	Body          io.ReadCloser
}

// Engine performs HTTP exchanges for a Manager. Implementations send the
// browser headers they were built with and store cookies in the shared Jar.
// Errors returned are transport failures; HTTP status codes are never
// turned into errors at this level.
type Engine interface {
	Name() string
	Get(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, req *Request) (*StreamResponse, error)
	Jar() *Jar
	Close()
}

// NewEngine builds the engine selected by cfg.Engine
func NewEngine(cfg config.SessionConfig, jar *Jar, headers map[string]string, log logger.Logger) (Engine, error) {
	switch cfg.Engine {
	case config.EngineHTTP1, "":
		return newHTTP1Engine(cfg, jar, headers), nil
	case config.EngineHTTP2:
		return newHTTP2Engine(cfg, jar, headers, log)
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
}

// browserHeaders are sent on every request. Accept-Encoding is left to the
// transport so compressed bodies are decoded transparently.
func browserHeaders(cfg config.SessionConfig) map[string]string {
	headers := map[string]string{
		"User-Agent":      cfg.UserAgent,
		"Accept":          "*/*",
		"Accept-Language": "en-US,en;q=0.5",
		"Connection":      "keep-alive",
	}
	if cfg.Referer != "" {
		headers["Referer"] = cfg.Referer
	}
	return headers
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   6,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// withTimeout bounds ctx by d when d is positive
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// cancelOnClose releases a streaming request's context once the body is done
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
