package nse

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "nsefetch/pkg/errors"
)

func TestStockQuote(t *testing.T) {
	c, fs := newTestClient(t)
	fs.reply(pathQuoteEquity,
		`{"metadata":{"lastUpdateTime":"17-Oct-2026 15:30:00"},"priceInfo":{"open":1490.5,"close":0,"lastPrice":1512.25,"intraDayHighLow":{"min":1480.1,"max":1520}}}`,
		`{"securityWiseDP":{"quantityTraded":4567890}}`,
	)

	q, err := c.StockQuote(context.Background(), "infy")
	require.NoError(t, err)

	assert.Equal(t, "17-Oct-2026 15:30:00", q.Date)
	assert.Equal(t, "1490.5", q.Open.String())
	assert.Equal(t, "1520", q.High.String())
	assert.Equal(t, "1480.1", q.Low.String())
	assert.Equal(t, "1512.25", q.Close.String(), "close falls back to the last price")
	assert.Equal(t, int64(4567890), q.Volume)

	calls := fs.callsTo(pathQuoteEquity)
	require.Len(t, calls, 2)
	assert.Equal(t, SectionTradeInfo, calls[1].params.Get("section"))
}

func TestStockQuoteWithoutPriceInfo(t *testing.T) {
	c, fs := newTestClient(t)
	fs.reply(pathQuoteEquity, `{"info":{}}`)

	_, err := c.StockQuote(context.Background(), "infy")
	assert.True(t, errs.IsInvalidResponse(err))
}

func TestFnoLots(t *testing.T) {
	c, fs := newTestClient(t)
	fs.reply("/archives/content/fo/fo_mktlots.csv",
		"UNDERLYING                                        ,SYMBOL    ,OCT-26 ,NOV-26 \n"+
			"NIFTY 50                                          ,NIFTY     ,75     ,75     \n"+
			"Derivatives on Individual Securities              ,Symbol    ,       ,       \n"+
			"INFOSYS LIMITED                                   ,INFY      ,400    ,400    \n")

	lots, err := c.FnoLots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"NIFTY": 75, "INFY": 400}, lots)
}

func TestFuturesExpiry(t *testing.T) {
	c, fs := newTestClient(t)
	fs.reply(pathFuturesLive, `{"data":[
		{"expiryDate":"25-Nov-2026"},
		{"expiryDate":"28-Oct-2026"},
		{"expiryDate":"30-Dec-2026"},
		{"expiryDate":"28-Oct-2026"},
		{"expiryDate":"-"}
	]}`)

	got, err := c.FuturesExpiry(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"28-Oct-2026", "25-Nov-2026", "30-Dec-2026"}, got)
	assert.Equal(t, "nse50_fut", fs.callsTo(pathFuturesLive)[0].params.Get("index"))

	c, fs = newTestClient(t)
	fs.reply(pathFuturesLive, `{"data":[]}`)
	_, err = c.FuturesExpiry(context.Background(), "")
	assert.True(t, errs.IsInvalidResponse(err))
}

func writeCache(t *testing.T, fs *fakeSession, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(fs.folder, ExpiryCacheFile), []byte(content), 0644))
}

func readCache(t *testing.T, fs *fakeSession) map[string]string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(fs.folder, ExpiryCacheFile))
	require.NoError(t, err)
	var out map[string]string
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

const chainOK = `{"records":{"timestamp":"17-Oct-2026 15:30:00","underlyingValue":24500,"data":[]},"filtered":{"data":[]}}`

func TestOptionChainUsesValidCachedExpiry(t *testing.T) {
	c, fs := newTestClient(t, WithClock(fixedClock(2026, time.October, 18, 10)))
	writeCache(t, fs, `{"nifty":"2099-01-01T00:00:00"}`)
	fs.reply(pathOptionChain, chainOK)

	chain, err := c.OptionChain(context.Background(), "nifty", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "17-Oct-2026 15:30:00", chain.Records.Timestamp)

	assert.Empty(t, fs.callsTo(pathOptionContractInfo))
	calls := fs.callsTo(pathOptionChain)
	require.Len(t, calls, 1)
	assert.Equal(t, "01-Jan-2099", calls[0].params.Get("expiry"))
}

func TestOptionChainCachedExpiryOnItsDayIsValid(t *testing.T) {
	c, fs := newTestClient(t, WithClock(fixedClock(2026, time.October, 28, 14)))
	writeCache(t, fs, `{"nifty":"2026-10-28T00:00:00"}`)
	fs.reply(pathOptionChain, chainOK)

	_, err := c.OptionChain(context.Background(), "NIFTY", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, fs.callsTo(pathOptionContractInfo))
}

func TestOptionChainIgnoresExpiredOrCorruptCache(t *testing.T) {
	for name, cache := range map[string]string{
		"expired": `{"nifty":"2000-01-01T00:00:00"}`,
		"corrupt": `invalid json`,
		"null":    `null`,
	} {
		t.Run(name, func(t *testing.T) {
			c, fs := newTestClient(t, WithClock(fixedClock(2026, time.October, 18, 10)))
			writeCache(t, fs, cache)
			fs.reply(pathOptionContractInfo, `{"expiryDates":["28-Oct-2026","25-Nov-2026"]}`)
			fs.reply(pathOptionChain, chainOK)

			_, err := c.OptionChain(context.Background(), "nifty", time.Time{})
			require.NoError(t, err)

			assert.Len(t, fs.callsTo(pathOptionContractInfo), 1)
			assert.Equal(t, "28-Oct-2026", fs.callsTo(pathOptionChain)[0].params.Get("expiry"))
			assert.Equal(t, "2026-10-28T00:00:00", readCache(t, fs)["nifty"])
		})
	}
}

func TestOptionChainWritesCacheKeepingOtherSymbols(t *testing.T) {
	c, fs := newTestClient(t, WithClock(fixedClock(2026, time.October, 18, 10)))
	writeCache(t, fs, `{"banknifty":"2099-01-01T00:00:00"}`)
	fs.reply(pathOptionContractInfo, `{"expiryDates":["28-Oct-2026"]}`)
	fs.reply(pathOptionChain, chainOK)

	_, err := c.OptionChain(context.Background(), "nifty", time.Time{})
	require.NoError(t, err)

	cache := readCache(t, fs)
	assert.Contains(t, cache, "nifty")
	assert.Contains(t, cache, "banknifty")
}

func TestOptionChainContractInfoErrors(t *testing.T) {
	c, fs := newTestClient(t)
	fs.reply(pathOptionContractInfo, `{}`)

	_, err := c.OptionChain(context.Background(), "nifty", time.Time{})
	require.Error(t, err)
	assert.True(t, errs.IsInvalidResponse(err))
	assert.Contains(t, err.Error(), "expiryDates")

	c, fs = newTestClient(t)
	fs.reply(pathOptionContractInfo, `{"expiryDates":[]}`)

	_, err = c.OptionChain(context.Background(), "nifty", time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No expiry dates")
	assert.Empty(t, fs.callsTo(pathOptionChain))
}

func TestOptionChainType(t *testing.T) {
	tests := map[string]string{
		"nifty":     "Indices",
		"BANKNIFTY": "Indices",
		"reliance":  "Equity",
	}
	for symbol, want := range tests {
		t.Run(symbol, func(t *testing.T) {
			c, fs := newTestClient(t)
			fs.reply(pathOptionChain, chainOK)

			_, err := c.OptionChain(context.Background(), symbol, time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC))
			require.NoError(t, err)

			params := fs.callsTo(pathOptionChain)[0].params
			assert.Equal(t, want, params.Get("type"))
			assert.Equal(t, strings.ToUpper(symbol), params.Get("symbol"))
		})
	}
}

func TestOptionChainExplicitExpirySkipsCache(t *testing.T) {
	c, fs := newTestClient(t)
	fs.reply(pathOptionChain, chainOK)

	chain, err := c.OptionChain(context.Background(), "nifty", time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, chain.Records.UnderlyingValue.Equal(decimal.NewFromInt(24500)))

	assert.Empty(t, fs.callsTo(pathOptionContractInfo))
	_, err = os.Stat(filepath.Join(fs.folder, ExpiryCacheFile))
	assert.True(t, os.IsNotExist(err))
}
