package nse

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	errs "nsefetch/pkg/errors"
)

// F&O instrument types accepted by FnoHistory
const (
	InstrumentIndexFutures = "FUTIDX"
	InstrumentStockFutures = "FUTSTK"
	InstrumentIndexOptions = "OPTIDX"
	InstrumentStockOptions = "OPTSTK"
)

// defaultHistoryDays is the look-back used when no from date is given
const defaultHistoryDays = 30

// IndexHistory holds daily index closes and turnover, as published
type IndexHistory struct {
	Price    []json.RawMessage `json:"price"`
	Turnover []json.RawMessage `json:"turnover"`
}

// FnoHistoryQuery selects the contracts FnoHistory returns. Expiry,
// OptionType and StrikePrice are optional; the last two only apply to
// options.
type FnoHistoryQuery struct {
	Instrument  string
	Symbol      string
	From, To    time.Time
	Expiry      time.Time
	OptionType  string
	StrikePrice decimal.Decimal
}

func (q FnoHistoryQuery) params() (url.Values, error) {
	inst := strings.ToUpper(q.Instrument)
	if inst == "" {
		inst = InstrumentIndexFutures
	}
	options := inst == InstrumentIndexOptions || inst == InstrumentStockOptions
	if !options && inst != InstrumentIndexFutures && inst != InstrumentStockFutures {
		return nil, errs.Newf(errs.ErrorTypeInvalidArgument, 0, "unknown instrument %q", q.Instrument)
	}
	if q.Symbol == "" {
		return nil, errs.New(errs.ErrorTypeInvalidArgument, 0, "symbol is required")
	}

	params := url.Values{
		"instrumentType": {inst},
		"symbol":         {strings.ToUpper(q.Symbol)},
	}
	if !q.Expiry.IsZero() {
		params.Set("expiryDate", strings.ToUpper(q.Expiry.Format(ExpiryLayout)))
	}

	if !options {
		if q.OptionType != "" || !q.StrikePrice.IsZero() {
			return nil, errs.Newf(errs.ErrorTypeInvalidArgument, 0, "option type and strike only apply to options, not %s", inst)
		}
		return params, nil
	}
	if ot := strings.ToUpper(q.OptionType); ot != "" {
		if ot != "CE" && ot != "PE" {
			return nil, errs.Newf(errs.ErrorTypeInvalidArgument, 0, "option type must be CE or PE, got %q", q.OptionType)
		}
		params.Set("optionType", ot)
	}
	if !q.StrikePrice.IsZero() {
		params.Set("strikePrice", q.StrikePrice.StringFixed(2))
	}
	return params, nil
}

// VixHistory returns the daily India VIX records between from and to. A
// zero to means today and a zero from the 30 days before it.
func (c *Client) VixHistory(ctx context.Context, from, to time.Time) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := c.history(ctx, pathVixHistory, url.Values{}, from, to, func(raw json.RawMessage) error {
		return appendArray(&out, raw, "data", pathVixHistory)
	})
	return out, err
}

// FnoHistory returns the daily records of the futures or options
// contracts selected by q
func (c *Client) FnoHistory(ctx context.Context, q FnoHistoryQuery) ([]json.RawMessage, error) {
	params, err := q.params()
	if err != nil {
		return nil, err
	}
	var out []json.RawMessage
	err = c.history(ctx, pathFnoHistory, params, q.From, q.To, func(raw json.RawMessage) error {
		return appendArray(&out, raw, "data", pathFnoHistory)
	})
	return out, err
}

// IndexHistory returns the daily closes and turnover of index, such as
// "NIFTY 50"
func (c *Client) IndexHistory(ctx context.Context, index string, from, to time.Time) (*IndexHistory, error) {
	if index == "" {
		return nil, errs.New(errs.ErrorTypeInvalidArgument, 0, "index is required")
	}
	var out IndexHistory
	err := c.history(ctx, pathIndexHistory, url.Values{"indexType": {strings.ToUpper(index)}}, from, to, func(raw json.RawMessage) error {
		if err := appendArray(&out.Price, raw, "data.indexCloseOnlineRecords", pathIndexHistory); err != nil {
			return err
		}
		return appendArray(&out.Turnover, raw, "data.indexTurnoverRecords", pathIndexHistory)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FnoUnderlyings returns the indices and stocks with derivatives, as the
// exchange's IndexList and UnderlyingList
func (c *Client) FnoUnderlyings(ctx context.Context) (json.RawMessage, error) {
	raw, err := c.getRaw(ctx, pathFnoUnderlying, nil)
	if err != nil {
		return nil, err
	}
	return dataField(raw, pathFnoUnderlying)
}

// history fetches path once per year-long window of from..to, newest window
// first, since the exchange rejects longer ranges
func (c *Client) history(ctx context.Context, path string, params url.Values, from, to time.Time, collect func(json.RawMessage) error) error {
	if to.IsZero() {
		to = c.now().In(IST)
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -defaultHistoryDays)
	}
	if err := checkRange(from, to); err != nil {
		return err
	}

	for _, w := range historyWindows(from, to) {
		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		q.Set("from", w[0].Format(apiDate))
		q.Set("to", w[1].Format(apiDate))

		raw, err := c.getRaw(ctx, path, q)
		if err != nil {
			return err
		}
		if err := collect(raw); err != nil {
			return err
		}
	}
	return nil
}

// historyWindows splits from..to into windows of at most a year, newest
// first. Windows share no day.
func historyWindows(from, to time.Time) [][2]time.Time {
	var out [][2]time.Time
	for end := to; !end.Before(from); {
		start := end.AddDate(-1, 0, 1)
		if start.Before(from) {
			start = from
		}
		out = append(out, [2]time.Time{start, end})
		end = start.AddDate(0, 0, -1)
	}
	return out
}

func appendArray(dst *[]json.RawMessage, raw json.RawMessage, field, path string) error {
	arr := gjson.GetBytes(raw, field)
	if !arr.IsArray() {
		return errs.Newf(errs.ErrorTypeInvalidResponse, 0, "%s response has no %s list", path, field)
	}
	for _, rec := range arr.Array() {
		*dst = append(*dst, json.RawMessage(rec.Raw))
	}
	return nil
}
