package nse

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nsefetch/internal/nsetest"
	errs "nsefetch/pkg/errors"
	"nsefetch/pkg/logger"
	"nsefetch/pkg/session"
)

func TestVixHistoryDefaultsToLastMonth(t *testing.T) {
	c, fs := newTestClient(t, WithClock(fixedClock(2026, time.October, 18, 10)))
	fs.reply(pathVixHistory, `{"data":[{"TIMESTAMP":"16-10-2026","EOD_CLOSE_INDEX_VAL":12.4},{"TIMESTAMP":"15-10-2026","EOD_CLOSE_INDEX_VAL":12.9}]}`)

	recs, err := c.VixHistory(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.JSONEq(t, `{"TIMESTAMP":"16-10-2026","EOD_CLOSE_INDEX_VAL":12.4}`, string(recs[0]))

	params := fs.callsTo(pathVixHistory)[0].params
	assert.Equal(t, "18-09-2026", params.Get("from"))
	assert.Equal(t, "18-10-2026", params.Get("to"))
}

func TestHistorySplitsLongRanges(t *testing.T) {
	c, fs := newTestClient(t)
	fs.reply(pathVixHistory,
		`{"data":[{"TIMESTAMP":"2026"}]}`,
		`{"data":[{"TIMESTAMP":"2025"}]}`,
		`{"data":[]}`)

	from := time.Date(2024, time.June, 1, 0, 0, 0, 0, IST)
	to := time.Date(2026, time.October, 16, 0, 0, 0, 0, IST)
	recs, err := c.VixHistory(context.Background(), from, to)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	calls := fs.callsTo(pathVixHistory)
	require.Len(t, calls, 3)
	var windows []string
	for _, c := range calls {
		windows = append(windows, c.params.Get("from")+".."+c.params.Get("to"))
	}
	assert.Equal(t, []string{
		"17-10-2025..16-10-2026",
		"17-10-2024..16-10-2025",
		"01-06-2024..16-10-2024",
	}, windows)
}

func TestHistoryWindows(t *testing.T) {
	day := time.Date(2026, time.March, 3, 0, 0, 0, 0, IST)
	assert.Equal(t, [][2]time.Time{{day, day}}, historyWindows(day, day))
	assert.Len(t, historyWindows(day.AddDate(-1, 0, 1), day), 1)
	assert.Len(t, historyWindows(day.AddDate(-1, 0, 0), day), 2)
}

func TestFnoHistory(t *testing.T) {
	c, fs := newTestClient(t)
	fs.reply(pathFnoHistory, `{"data":[{"TIMESTAMP":"16-Oct-2026","FH_SYMBOL":"NIFTY"}]}`)

	from := time.Date(2026, time.October, 1, 0, 0, 0, 0, IST)
	to := time.Date(2026, time.October, 16, 0, 0, 0, 0, IST)
	recs, err := c.FnoHistory(context.Background(), FnoHistoryQuery{
		Instrument:  "optidx",
		Symbol:      "nifty",
		From:        from,
		To:          to,
		Expiry:      time.Date(2026, time.October, 28, 0, 0, 0, 0, IST),
		OptionType:  "ce",
		StrikePrice: decimal.NewFromInt(24500),
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	params := fs.callsTo(pathFnoHistory)[0].params
	assert.Equal(t, "OPTIDX", params.Get("instrumentType"))
	assert.Equal(t, "NIFTY", params.Get("symbol"))
	assert.Equal(t, "28-OCT-2026", params.Get("expiryDate"))
	assert.Equal(t, "CE", params.Get("optionType"))
	assert.Equal(t, "24500.00", params.Get("strikePrice"))
	assert.Equal(t, "01-10-2026", params.Get("from"))
}

func TestFnoHistoryRejectsBadQueries(t *testing.T) {
	c, fs := newTestClient(t)

	tests := []struct {
		name string
		q    FnoHistoryQuery
	}{
		{"no symbol", FnoHistoryQuery{Instrument: InstrumentIndexFutures}},
		{"unknown instrument", FnoHistoryQuery{Instrument: "BOND", Symbol: "NIFTY"}},
		{"option type on futures", FnoHistoryQuery{Instrument: InstrumentStockFutures, Symbol: "INFY", OptionType: "CE"}},
		{"bad option type", FnoHistoryQuery{Instrument: InstrumentStockOptions, Symbol: "INFY", OptionType: "XX"}},
		{"reversed range", FnoHistoryQuery{Symbol: "NIFTY", From: time.Date(2026, 10, 16, 0, 0, 0, 0, IST), To: time.Date(2026, 10, 1, 0, 0, 0, 0, IST)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.FnoHistory(context.Background(), tt.q)
			assert.True(t, errs.Is(err, errs.ErrorTypeInvalidArgument), "got %v", err)
		})
	}
	assert.Empty(t, fs.callsTo(pathFnoHistory))
}

func TestIndexHistory(t *testing.T) {
	c, fs := newTestClient(t)
	fs.reply(pathIndexHistory, `{"data":{
		"indexCloseOnlineRecords":[{"TIMESTAMP":"16-Oct-2026","EOD_CLOSE_INDEX_VAL":24500}],
		"indexTurnoverRecords":[{"TIMESTAMP":"16-Oct-2026","HIT_TRADED_QTY":1000}]}}`)

	day := time.Date(2026, time.October, 16, 0, 0, 0, 0, IST)
	h, err := c.IndexHistory(context.Background(), "Nifty 50", day, day)
	require.NoError(t, err)
	require.Len(t, h.Price, 1)
	require.Len(t, h.Turnover, 1)
	assert.Contains(t, string(h.Price[0]), "TIMESTAMP")
	assert.Equal(t, "NIFTY 50", fs.callsTo(pathIndexHistory)[0].params.Get("indexType"))

	_, err = c.IndexHistory(context.Background(), "", day, day)
	assert.True(t, errs.Is(err, errs.ErrorTypeInvalidArgument))
}

func TestHistoryWithoutRecords(t *testing.T) {
	c, fs := newTestClient(t)
	fs.reply(pathIndexHistory, `{"error":"no data"}`)

	day := time.Date(2026, time.October, 16, 0, 0, 0, 0, IST)
	_, err := c.IndexHistory(context.Background(), "NIFTY 50", day, day)
	assert.True(t, errs.IsInvalidResponse(err))
}

// end to end through a real session manager and a fake exchange
func TestHistoryThroughSession(t *testing.T) {
	srv := nsetest.NewServer(t)
	srv.JSON(pathVixHistory, `{"data":[{"TIMESTAMP":"16-10-2026"}]}`)
	srv.JSON(pathFnoUnderlying, `{"data":{"IndexList":[{"symbol":"NIFTY"}],"UnderlyingList":[{"symbol":"INFY"}]}}`)

	m, err := session.New(srv.Config(t), logger.NewNopLogger())
	require.NoError(t, err)
	defer m.Close()
	c := New(m, WithBaseURL(srv.URL()), WithArchiveURL(srv.URL()))

	day := time.Date(2026, time.October, 16, 0, 0, 0, 0, IST)
	recs, err := c.VixHistory(context.Background(), day, day)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	under, err := c.FnoUnderlyings(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"IndexList":[{"symbol":"NIFTY"}],"UnderlyingList":[{"symbol":"INFY"}]}`, string(under))
	assert.Equal(t, 1, srv.Hits(pathFnoUnderlying))
}
