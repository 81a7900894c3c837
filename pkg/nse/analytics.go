package nse

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	errs "nsefetch/pkg/errors"
)

// Gainers returns the stocks that rose, best first. count <= 0 returns all.
func Gainers(stocks []StockItem, count int) []StockItem {
	out := filterStocks(stocks, func(s StockItem) bool { return s.PChange > 0 })
	sort.SliceStable(out, func(i, j int) bool { return out[i].PChange > out[j].PChange })
	return limit(out, count)
}

// Losers returns the stocks that fell, worst first. count <= 0 returns all.
func Losers(stocks []StockItem, count int) []StockItem {
	out := filterStocks(stocks, func(s StockItem) bool { return s.PChange < 0 })
	sort.SliceStable(out, func(i, j int) bool { return out[i].PChange < out[j].PChange })
	return limit(out, count)
}

func filterStocks(stocks []StockItem, keep func(StockItem) bool) []StockItem {
	out := make([]StockItem, 0, len(stocks))
	for _, s := range stocks {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

func limit(stocks []StockItem, count int) []StockItem {
	if count > 0 && count < len(stocks) {
		return stocks[:count]
	}
	return stocks
}

// rowsFor returns the chain rows of one expiry
func rowsFor(chain *OptionChain, expiry time.Time) []OptionRow {
	want := expiry.Format(ExpiryLayout)
	var rows []OptionRow
	for _, row := range chain.Records.Data {
		if row.Expiry() == want {
			rows = append(rows, row)
		}
	}
	return rows
}

func openInterest(leg *OptionLeg) decimal.Decimal {
	if leg == nil {
		return decimal.Zero
	}
	return leg.OpenInterest
}

// MaxPain returns the strike at which option writers of the given expiry
// lose the least if the underlying settles there.
func MaxPain(chain *OptionChain, expiry time.Time) (decimal.Decimal, error) {
	rows := rowsFor(chain, expiry)
	if len(rows) == 0 {
		return decimal.Zero, errs.Newf(errs.ErrorTypeNotFound, 0, "no option chain rows for expiry %s", expiry.Format(ExpiryLayout))
	}
	return maxPain(rows), nil
}

func maxPain(rows []OptionRow) decimal.Decimal {
	var (
		best     decimal.Decimal
		bestPain decimal.Decimal
	)
	for i, settle := range rows {
		pain := decimal.Zero
		for _, row := range rows {
			diff := settle.StrikePrice.Sub(row.StrikePrice)
			switch diff.Sign() {
			case 1:
				// settled above the strike, call writers pay
				pain = pain.Sub(diff.Mul(openInterest(row.CE)))
			case -1:
				// settled below the strike, put writers pay
				pain = pain.Add(diff.Mul(openInterest(row.PE)))
			}
		}
		if i == 0 || pain.GreaterThan(bestPain) {
			best, bestPain = settle.StrikePrice, pain
		}
	}
	return best
}

func legSummary(leg *OptionLeg) LegSummary {
	if leg == nil {
		return LegSummary{}
	}
	return LegSummary{
		Last: leg.LastPrice,
		OI:   leg.OpenInterest,
		Chg:  leg.Change,
		IV:   leg.ImpliedVolatility,
	}
}

// Compile summarises one expiry of a raw option chain: per-strike call and
// put figures with their put-call ratio, the at-the-money strike, the max
// pain strike and the strikes with the highest open interest.
func Compile(chain *OptionChain, expiry time.Time) (*CompiledChain, error) {
	rows := rowsFor(chain, expiry)
	if len(rows) == 0 {
		return nil, errs.Newf(errs.ErrorTypeNotFound, 0, "no option chain rows for expiry %s", expiry.Format(ExpiryLayout))
	}

	filtered := chain.Filtered.Data
	if len(filtered) < 2 {
		return nil, errs.New(errs.ErrorTypeInvalidResponse, 0, "option chain has fewer than two strikes")
	}
	step := filtered[0].StrikePrice.Sub(filtered[1].StrikePrice).Abs()
	if step.IsZero() {
		return nil, errs.New(errs.ErrorTypeInvalidResponse, 0, "option chain strikes are not distinct")
	}

	underlying := chain.Records.UnderlyingValue
	out := &CompiledChain{
		Expiry:     expiry.Format(ExpiryLayout),
		Timestamp:  chain.Records.Timestamp,
		Underlying: underlying,
		ATM:        step.Mul(underlying.Div(step).RoundBank(0)),
		MaxPain:    maxPain(rows),
	}

	var maxCOI, maxPOI decimal.Decimal
	index := make(map[string]int)
	for _, row := range rows {
		key := row.StrikePrice.String()
		i, ok := index[key]
		if !ok {
			i = len(out.Chain)
			index[key] = i
			out.Chain = append(out.Chain, StrikeSummary{Strike: row.StrikePrice})
		}
		s := &out.Chain[i]

		poi, coi := openInterest(row.PE), openInterest(row.CE)
		if row.PE != nil {
			s.PE = legSummary(row.PE)
			out.POITotal = out.POITotal.Add(poi)
			if poi.GreaterThan(maxPOI) {
				maxPOI = poi
				out.MaxPOI = row.StrikePrice
			}
		}
		if row.CE != nil {
			s.CE = legSummary(row.CE)
			out.COITotal = out.COITotal.Add(coi)
			if coi.GreaterThan(maxCOI) {
				maxCOI = coi
				out.MaxCOI = row.StrikePrice
			}
		}
		s.PCR = ratio(poi, coi)
	}

	sort.SliceStable(out.Chain, func(i, j int) bool {
		return out.Chain[i].Strike.LessThan(out.Chain[j].Strike)
	})
	out.PCR = ratio(out.POITotal, out.COITotal)
	return out, nil
}

// ratio is puts over calls rounded to two places, or nil if either is zero
func ratio(puts, calls decimal.Decimal) *decimal.Decimal {
	if puts.IsZero() || calls.IsZero() {
		return nil
	}
	r := puts.Div(calls).RoundBank(2)
	return &r
}

// CompileOptionChain fetches and compiles the option chain of symbol for
// expiry, or for the nearest expiry when it is zero
func (c *Client) CompileOptionChain(ctx context.Context, symbol string, expiry time.Time) (*CompiledChain, error) {
	if symbol == "" {
		return nil, errs.New(errs.ErrorTypeInvalidArgument, 0, "symbol is required")
	}
	if expiry.IsZero() {
		var err error
		if expiry, err = c.nearestExpiry(ctx, strings.ToLower(symbol)); err != nil {
			return nil, err
		}
	}
	chain, err := c.OptionChain(ctx, symbol, expiry)
	if err != nil {
		return nil, err
	}
	return Compile(chain, expiry)
}

// Movers fetches an index and returns its top gainers and losers
func (c *Client) Movers(ctx context.Context, index string, count int) (gainers, losers []StockItem, err error) {
	list, err := c.ListIndexStocks(ctx, index)
	if err != nil {
		return nil, nil, err
	}
	return Gainers(list.Data, count), Losers(list.Data, count), nil
}
