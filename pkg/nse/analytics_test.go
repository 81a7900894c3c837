package nse

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "nsefetch/pkg/errors"
)

func pchanges(stocks []StockItem) []float64 {
	out := make([]float64, len(stocks))
	for i, s := range stocks {
		out[i] = s.PChange
	}
	return out
}

func TestGainersAndLosers(t *testing.T) {
	var stocks []StockItem
	for i := 0; i < 10; i++ {
		stocks = append(stocks, StockItem{PChange: float64(i)})
	}

	gainers := Gainers(stocks, 0)
	assert.Len(t, gainers, 9, "zero change is neither")
	assert.Equal(t, 9.0, gainers[0].PChange)
	assert.Equal(t, 1.0, gainers[len(gainers)-1].PChange)

	assert.Equal(t, []float64{9, 8, 7}, pchanges(Gainers(stocks, 3)))
	assert.Empty(t, Losers(stocks, 0))

	mixed := []StockItem{{PChange: -1.5}, {PChange: 2}, {PChange: -3.25}, {PChange: 0}, {PChange: -0.5}}
	assert.Equal(t, []float64{-3.25, -1.5, -0.5}, pchanges(Losers(mixed, 0)))
	assert.Equal(t, []float64{-3.25, -1.5}, pchanges(Losers(mixed, 2)))
	assert.Equal(t, []float64{2}, pchanges(Gainers(mixed, 10)))
}

func TestGainersDoesNotReorderInput(t *testing.T) {
	stocks := []StockItem{{Symbol: "A", PChange: 1}, {Symbol: "B", PChange: 5}}
	Gainers(stocks, 0)
	assert.Equal(t, "A", stocks[0].Symbol)
}

// three strikes ten apart; row order is deliberately not by strike
const sampleChain = `{
  "records": {
    "timestamp": "17-Oct-2026 15:30:00",
    "underlyingValue": 114,
    "data": [
      {"strikePrice": 110, "expiryDate": "28-Oct-2026",
       "CE": {"openInterest": 20, "lastPrice": 8, "change": -1, "impliedVolatility": 14.1},
       "PE": {"openInterest": 20, "lastPrice": 4, "change": 0.5, "impliedVolatility": 15.2}},
      {"strikePrice": 100, "expiryDate": "28-Oct-2026",
       "CE": {"openInterest": 10, "lastPrice": 15, "change": -2, "impliedVolatility": 13},
       "PE": {"openInterest": 30, "lastPrice": 1.2, "change": 0.1, "impliedVolatility": 16}},
      {"strikePrice": 120, "expiryDate": "28-Oct-2026",
       "CE": {"openInterest": 30, "lastPrice": 2, "change": -0.4, "impliedVolatility": 12.5},
       "PE": {"openInterest": 10, "lastPrice": 9, "change": 1.1, "impliedVolatility": 14}},
      {"strikePrice": 130, "expiryDate": "28-Oct-2026",
       "CE": {"openInterest": 5, "lastPrice": 0.5, "change": -0.1, "impliedVolatility": 12}},
      {"strikePrice": 100, "expiryDate": "25-Nov-2026",
       "CE": {"openInterest": 999, "lastPrice": 20, "change": 0, "impliedVolatility": 18},
       "PE": {"openInterest": 999, "lastPrice": 3, "change": 0, "impliedVolatility": 18}}
    ]
  },
  "filtered": {
    "data": [
      {"strikePrice": 100, "expiryDate": "28-Oct-2026"},
      {"strikePrice": 110, "expiryDate": "28-Oct-2026"}
    ]
  }
}`

var sampleExpiry = time.Date(2026, time.October, 28, 0, 0, 0, 0, time.UTC)

func loadSampleChain(t *testing.T) *OptionChain {
	t.Helper()
	var chain OptionChain
	require.NoError(t, json.Unmarshal([]byte(sampleChain), &chain))
	return &chain
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMaxPain(t *testing.T) {
	chain := loadSampleChain(t)

	got, err := MaxPain(chain, sampleExpiry)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("110")), "got %s", got)

	_, err = MaxPain(chain, time.Date(2026, time.December, 30, 0, 0, 0, 0, time.UTC))
	assert.True(t, errs.IsNotFound(err))
}

func TestCompile(t *testing.T) {
	oc, err := Compile(loadSampleChain(t), sampleExpiry)
	require.NoError(t, err)

	assert.Equal(t, "28-Oct-2026", oc.Expiry)
	assert.Equal(t, "17-Oct-2026 15:30:00", oc.Timestamp)
	assert.True(t, oc.Underlying.Equal(dec("114")))
	assert.True(t, oc.ATM.Equal(dec("110")), "atm %s", oc.ATM)
	assert.True(t, oc.MaxPain.Equal(dec("110")), "max pain %s", oc.MaxPain)
	assert.True(t, oc.MaxCOI.Equal(dec("120")), "max coi strike %s", oc.MaxCOI)
	assert.True(t, oc.MaxPOI.Equal(dec("100")), "max poi strike %s", oc.MaxPOI)
	assert.True(t, oc.COITotal.Equal(dec("65")))
	assert.True(t, oc.POITotal.Equal(dec("60")))
	require.NotNil(t, oc.PCR)
	assert.True(t, oc.PCR.Equal(dec("0.92")), "pcr %s", oc.PCR)

	require.Len(t, oc.Chain, 4)
	strikes := make([]string, len(oc.Chain))
	for i, s := range oc.Chain {
		strikes[i] = s.Strike.String()
	}
	assert.Equal(t, []string{"100", "110", "120", "130"}, strikes)

	s100 := oc.Chain[0]
	assert.True(t, s100.CE.OI.Equal(dec("10")), "call OI comes from the call leg")
	assert.True(t, s100.PE.OI.Equal(dec("30")))
	assert.True(t, s100.CE.Last.Equal(dec("15")))
	assert.True(t, s100.PE.IV.Equal(dec("16")))
	assert.True(t, s100.PCR.Equal(dec("3")))

	assert.True(t, oc.Chain[2].PCR.Equal(dec("0.33")))

	s130 := oc.Chain[3]
	assert.Nil(t, s130.PCR, "no puts at 130")
	assert.True(t, s130.PE.OI.IsZero())
}

func TestCompileATMRoundsHalfToEven(t *testing.T) {
	chain := loadSampleChain(t)
	chain.Records.UnderlyingValue = dec("115")
	oc, err := Compile(chain, sampleExpiry)
	require.NoError(t, err)
	assert.True(t, oc.ATM.Equal(dec("120")), "atm %s", oc.ATM)

	chain.Records.UnderlyingValue = dec("105")
	oc, err = Compile(chain, sampleExpiry)
	require.NoError(t, err)
	assert.True(t, oc.ATM.Equal(dec("100")), "atm %s", oc.ATM)
}

func TestCompileRejectsDegenerateChains(t *testing.T) {
	chain := loadSampleChain(t)
	chain.Filtered.Data = chain.Filtered.Data[:1]
	_, err := Compile(chain, sampleExpiry)
	assert.True(t, errs.IsInvalidResponse(err))

	chain = loadSampleChain(t)
	_, err = Compile(chain, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, errs.IsNotFound(err))
}

func TestCompileOptionChain(t *testing.T) {
	c, fs := newTestClient(t)
	fs.reply(pathOptionChain, sampleChain)

	oc, err := c.CompileOptionChain(context.Background(), "nifty", sampleExpiry)
	require.NoError(t, err)
	assert.Len(t, oc.Chain, 4)
	assert.Equal(t, "28-Oct-2026", fs.callsTo(pathOptionChain)[0].params.Get("expiry"))

	_, err = c.CompileOptionChain(context.Background(), "", sampleExpiry)
	assert.True(t, errs.Is(err, errs.ErrorTypeInvalidArgument))
}

func TestCompileOptionChainNearestExpiry(t *testing.T) {
	c, fs := newTestClient(t, WithClock(fixedClock(2026, time.October, 18, 10)))
	fs.reply(pathOptionContractInfo, `{"expiryDates":["28-Oct-2026","25-Nov-2026"]}`)
	fs.reply(pathOptionChain, sampleChain)

	oc, err := c.CompileOptionChain(context.Background(), "NIFTY", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "28-Oct-2026", oc.Expiry)
	assert.Equal(t, "NIFTY", fs.callsTo(pathOptionContractInfo)[0].params.Get("symbol"))
}

func TestMovers(t *testing.T) {
	c, fs := newTestClient(t)
	fs.reply(pathIndexStocks, `{"data":[
		{"symbol":"A","pChange":2.5},
		{"symbol":"B","pChange":-1},
		{"symbol":"C","pChange":4},
		{"symbol":"D","pChange":-3}
	]}`)

	gainers, losers, err := c.Movers(context.Background(), "nifty 50", 1)
	require.NoError(t, err)
	assert.Equal(t, "C", gainers[0].Symbol)
	assert.Equal(t, "D", losers[0].Symbol)
	assert.Len(t, gainers, 1)
	assert.Equal(t, "NIFTY 50", fs.callsTo(pathIndexStocks)[0].params.Get("index"))
}
