package nse

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketState is the trading status of one market segment
type MarketState struct {
	Market              string  `json:"market"`
	MarketStatus        string  `json:"marketStatus"`
	TradeDate           string  `json:"tradeDate"`
	Index               string  `json:"index"`
	Last                float64 `json:"last"`
	Variation           float64 `json:"variation"`
	PercentChange       float64 `json:"percentChange"`
	MarketStatusMessage string  `json:"marketStatusMessage"`
}

type marketStatusResponse struct {
	MarketState []MarketState `json:"marketState"`
}

// Holiday is one exchange holiday
type Holiday struct {
	TradingDate string `json:"tradingDate"`
	WeekDay     string `json:"weekDay"`
	Description string `json:"description"`
	Sr          int    `json:"Sr_no"`
}

// Holidays maps segment codes (CM, FO, CD, ...) to their holidays
type Holidays map[string][]Holiday

// StockItem is one row of an index or segment listing
type StockItem struct {
	Symbol            string  `json:"symbol"`
	Identifier        string  `json:"identifier,omitempty"`
	Open              float64 `json:"open"`
	DayHigh           float64 `json:"dayHigh"`
	DayLow            float64 `json:"dayLow"`
	LastPrice         float64 `json:"lastPrice"`
	PreviousClose     float64 `json:"previousClose"`
	Change            float64 `json:"change"`
	PChange           float64 `json:"pChange"`
	TotalTradedVolume float64 `json:"totalTradedVolume"`
	TotalTradedValue  float64 `json:"totalTradedValue"`
}

// StockList is the envelope of the listing endpoints
type StockList struct {
	Name      string      `json:"name,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	Data      []StockItem `json:"data"`
}

// StockQuote is a day's OHLCV summary for an equity
type StockQuote struct {
	Date   string          `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// OptionLeg is the call or put side of one option chain row
type OptionLeg struct {
	StrikePrice       decimal.Decimal `json:"strikePrice"`
	ExpiryDate        string          `json:"expiryDate"`
	Underlying        string          `json:"underlying"`
	OpenInterest      decimal.Decimal `json:"openInterest"`
	ChangeInOI        decimal.Decimal `json:"changeinOpenInterest"`
	TotalTradedVolume decimal.Decimal `json:"totalTradedVolume"`
	ImpliedVolatility decimal.Decimal `json:"impliedVolatility"`
	LastPrice         decimal.Decimal `json:"lastPrice"`
	Change            decimal.Decimal `json:"change"`
}

// OptionRow is one strike of one expiry
type OptionRow struct {
	StrikePrice decimal.Decimal `json:"strikePrice"`
	ExpiryDate  string          `json:"expiryDate"`
	// ExpiryDates is used instead of ExpiryDate by newer responses
	ExpiryDates string     `json:"expiryDates,omitempty"`
	CE          *OptionLeg `json:"CE,omitempty"`
	PE          *OptionLeg `json:"PE,omitempty"`
}

// Expiry returns the row's expiry date as written by the exchange
func (r OptionRow) Expiry() string {
	if r.ExpiryDate != "" {
		return r.ExpiryDate
	}
	return r.ExpiryDates
}

// OptionChain is the raw option chain response
type OptionChain struct {
	Records struct {
		ExpiryDates     []string          `json:"expiryDates"`
		Data            []OptionRow       `json:"data"`
		Timestamp       string            `json:"timestamp"`
		UnderlyingValue decimal.Decimal   `json:"underlyingValue"`
		StrikePrices    []decimal.Decimal `json:"strikePrices,omitempty"`
	} `json:"records"`
	Filtered struct {
		Data []OptionRow `json:"data"`
	} `json:"filtered"`
}

// LegSummary is the compiled view of one option leg
type LegSummary struct {
	Last decimal.Decimal `json:"last"`
	OI   decimal.Decimal `json:"oi"`
	Chg  decimal.Decimal `json:"chg"`
	IV   decimal.Decimal `json:"iv"`
}

// StrikeSummary is one strike of a compiled option chain. PCR is nil
// when either side has no open interest.
type StrikeSummary struct {
	Strike decimal.Decimal  `json:"strike"`
	CE     LegSummary       `json:"ce"`
	PE     LegSummary       `json:"pe"`
	PCR    *decimal.Decimal `json:"pcr"`
}

// CompiledChain summarises one expiry of an option chain
type CompiledChain struct {
	Expiry     string           `json:"expiry"`
	Timestamp  string           `json:"timestamp"`
	Underlying decimal.Decimal  `json:"underlying"`
	ATM        decimal.Decimal  `json:"atm"`
	MaxPain    decimal.Decimal  `json:"maxpain"`
	MaxCOI     decimal.Decimal  `json:"maxCoi"`
	MaxPOI     decimal.Decimal  `json:"maxPoi"`
	COITotal   decimal.Decimal  `json:"coiTotal"`
	POITotal   decimal.Decimal  `json:"poiTotal"`
	PCR        *decimal.Decimal `json:"pcr"`
	Chain      []StrikeSummary  `json:"chain"`
}

// expiryCache maps lower-case symbols to their nearest expiry
type expiryCache map[string]string

const cacheTimeLayout = "2006-01-02T15:04:05"

func parseCacheTime(s string) (time.Time, error) {
	if t, err := time.Parse(cacheTimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
