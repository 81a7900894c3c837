package nse

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	errs "nsefetch/pkg/errors"
)

// StockQuote returns the current day's OHLCV summary for an equity. Close
// falls back to the last traded price while the market is open.
func (c *Client) StockQuote(ctx context.Context, symbol string) (*StockQuote, error) {
	quote, err := c.Quote(ctx, symbol, QuoteEquity, "")
	if err != nil {
		return nil, err
	}
	trade, err := c.Quote(ctx, symbol, QuoteEquity, SectionTradeInfo)
	if err != nil {
		return nil, err
	}

	price := gjson.GetBytes(quote, "priceInfo")
	if !price.Exists() {
		return nil, errs.Newf(errs.ErrorTypeInvalidResponse, 0, "quote for %s has no priceInfo", symbol)
	}

	out := &StockQuote{
		Date:   gjson.GetBytes(quote, "metadata.lastUpdateTime").String(),
		Open:   decimalOf(price.Get("open")),
		High:   decimalOf(price.Get("intraDayHighLow.max")),
		Low:    decimalOf(price.Get("intraDayHighLow.min")),
		Close:  decimalOf(price.Get("close")),
		Volume: gjson.GetBytes(trade, "securityWiseDP.quantityTraded").Int(),
	}
	if out.Close.IsZero() {
		out.Close = decimalOf(price.Get("lastPrice"))
	}
	return out, nil
}

// decimalOf reads a JSON number or numeric string exactly, yielding zero
// for anything else
func decimalOf(r gjson.Result) decimal.Decimal {
	var s string
	switch r.Type {
	case gjson.Number:
		s = r.Raw
	case gjson.String:
		s = r.Str
	default:
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// dataField unwraps the "data" member that several endpoints nest their
// payload in
func dataField(raw json.RawMessage, path string) (json.RawMessage, error) {
	data := gjson.GetBytes(raw, "data")
	if !data.Exists() {
		return nil, errs.Newf(errs.ErrorTypeInvalidResponse, 0, "%s response has no data field", path)
	}
	return json.RawMessage(data.Raw), nil
}
