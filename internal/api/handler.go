// Package api serves exchange data as a small JSON web API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"nsefetch/pkg/config"
	errs "nsefetch/pkg/errors"
	"nsefetch/pkg/logger"
	"nsefetch/pkg/nse"
	"nsefetch/pkg/retry"
)

// Exchange is the part of nse.Client the handlers call
type Exchange interface {
	Status(ctx context.Context) ([]nse.MarketState, error)
	Holidays(ctx context.Context, kind string) (nse.Holidays, error)
	StockQuote(ctx context.Context, symbol string) (*nse.StockQuote, error)
	CompileOptionChain(ctx context.Context, symbol string, expiry time.Time) (*nse.CompiledChain, error)
	Movers(ctx context.Context, index string, count int) (gainers, losers []nse.StockItem, err error)
}

// Handler holds the dependencies shared by all routes
type Handler struct {
	exchange Exchange
	retry    config.RetryConfig
	log      logger.Logger
}

// NewHandler creates a Handler. Upstream calls are retried on network and
// server errors according to rc.
func NewHandler(exchange Exchange, rc config.RetryConfig, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Handler{exchange: exchange, retry: rc, log: log}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps an error kind to the HTTP status returned for it
func StatusFor(err error) int {
	switch errs.TypeOf(err) {
	case errs.ErrorTypeInvalidArgument:
		return http.StatusBadRequest
	case errs.ErrorTypeNotFound:
		return http.StatusNotFound
	case errs.ErrorTypeNetwork, errs.ErrorTypeInvalidResponse:
		return http.StatusBadGateway
	case errs.ErrorTypeAuthFailed, errs.ErrorTypeSessionExpired, errs.ErrorTypeClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	fields := map[string]interface{}{
		"path":   r.URL.Path,
		"status": status,
		"kind":   string(errs.TypeOf(err)),
	}
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).ErrorWithFields("request failed", fields)
	} else {
		h.log.WithError(err).DebugWithFields("request rejected", fields)
	}
	JSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(errs.TypeOf(err)),
	})
}

func call[T any](h *Handler, r *http.Request, op func(ctx context.Context) (T, error)) (T, error) {
	return retry.DoWithResult(func() (T, error) {
		return op(r.Context())
	}, retry.NetworkPolicy(r.Context(), h.retry, h.log))
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type greeting struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
}

type helloResponse struct {
	Success bool     `json:"success"`
	Data    greeting `json:"data"`
}

// Health reports that the server is up without touching the exchange
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, healthResponse{Status: "ok", Message: "NSE Analytics API is running"})
}

// Hello greets ?name=, defaulting to Trader
func (h *Handler) Hello(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = "Trader"
	}
	JSON(w, http.StatusOK, helloResponse{
		Success: true,
		Data: greeting{
			Message:   "Hello " + name + ", welcome to NSE Analytics API 🚀",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Type:      "hello_world",
		},
	})
}

// Status returns the trading status of every market segment
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	states, err := call(h, r, h.exchange.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, states)
}

// Holidays returns exchange holidays; ?type= is trading or clearing
func (h *Handler) Holidays(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("type")
	holidays, err := call(h, r, func(ctx context.Context) (nse.Holidays, error) {
		return h.exchange.Holidays(ctx, kind)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, holidays)
}

// Quote returns the day's OHLCV summary of {symbol}
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	symbol := param(r, "symbol")
	q, err := call(h, r, func(ctx context.Context) (*nse.StockQuote, error) {
		return h.exchange.StockQuote(ctx, symbol)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, q)
}

// OptionChain compiles the option chain of {symbol}. ?expiry= accepts
// 28-Oct-2026 or 2026-10-28; without it the nearest expiry is used.
func (h *Handler) OptionChain(w http.ResponseWriter, r *http.Request) {
	symbol := param(r, "symbol")
	expiry, err := parseExpiry(r.URL.Query().Get("expiry"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	oc, err := call(h, r, func(ctx context.Context) (*nse.CompiledChain, error) {
		return h.exchange.CompileOptionChain(ctx, symbol, expiry)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, oc)
}

// Gainers lists the advancing stocks of {index}; ?count= limits the list
func (h *Handler) Gainers(w http.ResponseWriter, r *http.Request) {
	h.movers(w, r, true)
}

// Losers lists the declining stocks of {index}; ?count= limits the list
func (h *Handler) Losers(w http.ResponseWriter, r *http.Request) {
	h.movers(w, r, false)
}

func (h *Handler) movers(w http.ResponseWriter, r *http.Request, up bool) {
	index := param(r, "index")
	count := 0
	if s := r.URL.Query().Get("count"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.fail(w, r, errs.Newf(errs.ErrorTypeInvalidArgument, 0, "invalid count %q", s))
			return
		}
		count = n
	}

	type pair struct{ gainers, losers []nse.StockItem }
	p, err := call(h, r, func(ctx context.Context) (pair, error) {
		g, l, err := h.exchange.Movers(ctx, index, count)
		return pair{g, l}, err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	stocks := p.losers
	if up {
		stocks = p.gainers
	}
	if stocks == nil {
		stocks = []nse.StockItem{}
	}
	JSON(w, http.StatusOK, stocks)
}

// param returns the unescaped path parameter, so /api/gainers/NIFTY%2050
// names the NIFTY 50 index
func param(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func parseExpiry(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{nse.ExpiryLayout, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errs.Newf(errs.ErrorTypeInvalidArgument, 0, "invalid expiry %q", s)
}
