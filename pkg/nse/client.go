package nse

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	errs "nsefetch/pkg/errors"
	"nsefetch/pkg/logger"
	"nsefetch/pkg/session"
)

// Session is the part of session.Manager the client needs
type Session interface {
	Get(ctx context.Context, rawURL string, params url.Values) (*session.Response, error)
	GetJSON(ctx context.Context, rawURL string, params url.Values, target interface{}) error
	Download(ctx context.Context, rawURL, folder string, opts *session.DownloadOptions) (string, error)
	DownloadFolder() string
}

// IST is the exchange's time zone; trading dates are reckoned in it
var IST = time.FixedZone("IST", 5*60*60+30*60)

// Client wraps the exchange's JSON API and report archives
type Client struct {
	session    Session
	baseURL    string
	archiveURL string
	log        logger.Logger
	now        func() time.Time

	cacheMu sync.Mutex
}

// Option customises a Client
type Option func(*Client)

// WithBaseURL points the API calls at another host
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithArchiveURL points report downloads at another host
func WithArchiveURL(u string) Option {
	return func(c *Client) { c.archiveURL = strings.TrimRight(u, "/") }
}

// WithLogger sets the client logger
func WithLogger(log logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithClock replaces time.Now, for deciding whether a cached expiry passed
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a client on top of an initialised or lazily initialising session
func New(s Session, opts ...Option) *Client {
	c := &Client{
		session:    s,
		baseURL:    BaseURL,
		archiveURL: ArchiveURL,
		log:        logger.NewNopLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "nse")
	return c
}

func (c *Client) api(path string) string {
	return c.baseURL + path
}

// getRaw fetches path and returns the undecoded JSON body
func (c *Client) getRaw(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	resp, err := c.session.Get(ctx, c.api(path), params)
	if err != nil {
		return nil, err
	}
	if !json.Valid(resp.Body) {
		return nil, errs.Newf(errs.ErrorTypeInvalidResponse, resp.StatusCode, "%s did not return JSON", path)
	}
	return json.RawMessage(resp.Body), nil
}

// Status returns the trading status of every market segment
func (c *Client) Status(ctx context.Context) ([]MarketState, error) {
	var resp marketStatusResponse
	if err := c.session.GetJSON(ctx, c.api(pathMarketStatus), nil, &resp); err != nil {
		return nil, err
	}
	return resp.MarketState, nil
}

// Holidays returns the trading or clearing holiday calendar
func (c *Client) Holidays(ctx context.Context, kind string) (Holidays, error) {
	if kind == "" {
		kind = HolidayTrading
	}
	if kind != HolidayTrading && kind != HolidayClearing {
		return nil, errs.Newf(errs.ErrorTypeInvalidArgument, 0, "holiday type must be %q or %q, got %q", HolidayTrading, HolidayClearing, kind)
	}

	var out Holidays
	if err := c.session.GetJSON(ctx, c.api(pathHolidays), url.Values{"type": {kind}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BlockDeals returns the day's block deals
func (c *Client) BlockDeals(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, pathBlockDeals, nil)
}

// BulkDeals returns bulk deals between two dates, inclusive
func (c *Client) BulkDeals(ctx context.Context, from, to time.Time) (json.RawMessage, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	raw, err := c.getRaw(ctx, pathBulkDeals, url.Values{
		"from": {from.Format(apiDate)},
		"to":   {to.Format(apiDate)},
	})
	if err != nil {
		return nil, err
	}
	return dataField(raw, pathBulkDeals)
}

// Actions returns corporate actions for a segment, optionally narrowed to a
// symbol and a date range. Without a range the forthcoming actions are
// returned.
func (c *Client) Actions(ctx context.Context, segment, symbol string, from, to time.Time) (json.RawMessage, error) {
	if segment == "" {
		segment = SegmentEquity
	}
	switch segment {
	case SegmentEquity, SegmentSME, SegmentMF, SegmentDebt:
	default:
		return nil, errs.Newf(errs.ErrorTypeInvalidArgument, 0, "unknown segment %q", segment)
	}

	params := url.Values{"index": {segment}}
	if symbol != "" {
		params.Set("symbol", strings.ToUpper(symbol))
	}
	if err := addRange(params, from, to, "from_date", "to_date"); err != nil {
		return nil, err
	}
	return c.getRaw(ctx, pathActions, params)
}

// Announcements returns corporate announcements
func (c *Client) Announcements(ctx context.Context, segment, symbol string, from, to time.Time) (json.RawMessage, error) {
	if segment == "" {
		segment = SegmentEquity
	}
	params := url.Values{"index": {segment}}
	if symbol != "" {
		params.Set("symbol", strings.ToUpper(symbol))
	}
	if err := addRange(params, from, to, "from_date", "to_date"); err != nil {
		return nil, err
	}
	return c.getRaw(ctx, pathAnnouncements, params)
}

// BoardMeetings returns forthcoming or past board meetings
func (c *Client) BoardMeetings(ctx context.Context, segment, symbol string, from, to time.Time) (json.RawMessage, error) {
	if segment == "" {
		segment = SegmentEquity
	}
	params := url.Values{"index": {segment}}
	if symbol != "" {
		params.Set("symbol", strings.ToUpper(symbol))
	}
	if err := addRange(params, from, to, "from_date", "to_date"); err != nil {
		return nil, err
	}
	return c.getRaw(ctx, pathBoardMeetings, params)
}

// Circulars returns exchange circulars of the last week, optionally those
// whose subject contains subject
func (c *Client) Circulars(ctx context.Context, subject string) (json.RawMessage, error) {
	to := c.now().In(IST)
	from := to.AddDate(0, 0, -7)

	params := url.Values{
		"fromDate": {from.Format(apiDate)},
		"toDate":   {to.Format(apiDate)},
	}
	if subject != "" {
		params.Set("sub", subject)
	}
	return c.getRaw(ctx, pathCirculars, params)
}

// EquityMetaInfo returns listing metadata for a symbol
func (c *Client) EquityMetaInfo(ctx context.Context, symbol string) (json.RawMessage, error) {
	if symbol == "" {
		return nil, errs.New(errs.ErrorTypeInvalidArgument, 0, "symbol is required")
	}
	return c.getRaw(ctx, pathEquityMeta, url.Values{"symbol": {strings.ToUpper(symbol)}})
}

// Quote kinds
const (
	QuoteEquity = "equity"
	QuoteFno    = "fno"

	// SectionTradeInfo selects the trade information section of a quote
	SectionTradeInfo = "trade_info"
)

// Quote returns the price quote of an equity or derivative symbol. section
// may be empty or SectionTradeInfo.
func (c *Client) Quote(ctx context.Context, symbol, kind, section string) (json.RawMessage, error) {
	if symbol == "" {
		return nil, errs.New(errs.ErrorTypeInvalidArgument, 0, "symbol is required")
	}

	var path string
	switch kind {
	case QuoteEquity, "":
		path = pathQuoteEquity
	case QuoteFno:
		path = pathQuoteDerivative
	default:
		return nil, errs.Newf(errs.ErrorTypeInvalidArgument, 0, "quote type must be %q or %q, got %q", QuoteEquity, QuoteFno, kind)
	}

	params := url.Values{"symbol": {strings.ToUpper(symbol)}}
	if section != "" {
		if section != SectionTradeInfo {
			return nil, errs.Newf(errs.ErrorTypeInvalidArgument, 0, "section, if given, must be %q", SectionTradeInfo)
		}
		params.Set("section", section)
	}
	return c.getRaw(ctx, path, params)
}

// ListIndices returns every index with its latest values
func (c *Client) ListIndices(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, pathAllIndices, nil)
}

// ListIndexStocks returns the constituents of an index, e.g. "NIFTY 50"
func (c *Client) ListIndexStocks(ctx context.Context, index string) (*StockList, error) {
	if index == "" {
		return nil, errs.New(errs.ErrorTypeInvalidArgument, 0, "index is required")
	}
	var out StockList
	if err := c.session.GetJSON(ctx, c.api(pathIndexStocks), url.Values{"index": {strings.ToUpper(index)}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFnoStocks returns every stock with derivatives
func (c *Client) ListFnoStocks(ctx context.Context) (*StockList, error) {
	return c.ListIndexStocks(ctx, "SECURITIES IN F&O")
}

// ListSME returns the SME emerge platform listing
func (c *Client) ListSME(ctx context.Context) (*StockList, error) {
	var out StockList
	if err := c.session.GetJSON(ctx, c.api(pathSME), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListEtf returns every listed ETF
func (c *Client) ListEtf(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, pathEtf, nil)
}

// ListSGB returns the listed sovereign gold bonds
func (c *Client) ListSGB(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, pathSGB, nil)
}

// ListCurrentIPO returns issues open for subscription
func (c *Client) ListCurrentIPO(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, pathCurrentIPO, nil)
}

// ListUpcomingIPO returns announced issues not yet open
func (c *Client) ListUpcomingIPO(ctx context.Context) (json.RawMessage, error) {
	raw, err := c.getRaw(ctx, pathUpcomingIPO, url.Values{"category": {"ipo"}})
	if err != nil {
		return nil, err
	}
	return dataField(raw, pathUpcomingIPO)
}

// ListPastIPO returns issues that closed between from and to. Zero dates
// default to the last 90 days.
func (c *Client) ListPastIPO(ctx context.Context, from, to time.Time) (json.RawMessage, error) {
	if to.IsZero() {
		to = c.now().In(IST)
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -90)
	}
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	return c.getRaw(ctx, pathPastIPO, url.Values{
		"from_date": {from.Format(apiDate)},
		"to_date":   {to.Format(apiDate)},
	})
}

func checkRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return errs.New(errs.ErrorTypeInvalidArgument, 0, "both from and to dates are required")
	}
	if to.Before(from) {
		return errs.Newf(errs.ErrorTypeInvalidArgument, 0, "to date %s is before from date %s", to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	return nil
}

// addRange sets both date parameters, or neither when both dates are zero
func addRange(params url.Values, from, to time.Time, fromKey, toKey string) error {
	if from.IsZero() && to.IsZero() {
		return nil
	}
	if err := checkRange(from, to); err != nil {
		return err
	}
	params.Set(fromKey, from.Format(apiDate))
	params.Set(toKey, to.Format(apiDate))
	return nil
}
