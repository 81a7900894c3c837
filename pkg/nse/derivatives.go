package nse

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	errs "nsefetch/pkg/errors"
	"nsefetch/pkg/storage"
)

// ExpiryCacheFile holds the nearest expiry per symbol, in the download folder
const ExpiryCacheFile = "opt-expiry.json"

// FnoLots returns the market lot of every derivative underlying, keyed by
// symbol. Rows whose lot is not a number, such as the header, are skipped.
func (c *Client) FnoLots(ctx context.Context) (map[string]int, error) {
	resp, err := c.session.Get(ctx, FnoLotsURL(c.archiveURL), nil)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(bytes.NewReader(resp.Body))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	lots := make(map[string]int)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.ErrorTypeInvalidResponse, resp.StatusCode, "malformed lot size list", err)
		}
		if len(rec) < 4 {
			continue
		}
		lot, err := strconv.Atoi(strings.TrimSpace(rec[3]))
		if err != nil {
			continue
		}
		lots[strings.TrimSpace(rec[1])] = lot
	}
	return lots, nil
}

// FuturesExpiry returns the expiry dates of the index futures contracts in
// chronological order, formatted as the exchange writes them
func (c *Client) FuturesExpiry(ctx context.Context, index string) ([]string, error) {
	if index == "" {
		index = "nse50_fut"
	}
	raw, err := c.getRaw(ctx, pathFuturesLive, url.Values{"index": {index}})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]time.Time)
	for _, v := range gjson.GetBytes(raw, "data.#.expiryDate").Array() {
		t, err := time.Parse(ExpiryLayout, v.String())
		if err != nil {
			continue
		}
		seen[v.String()] = t
	}
	if len(seen) == 0 {
		return nil, errs.New(errs.ErrorTypeInvalidResponse, 0, "no futures expiry dates in response")
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return seen[out[i]].Before(seen[out[j]]) })
	return out, nil
}

// OptionChain returns the option chain of an index or stock for one expiry.
// With a zero expiry the nearest one is used: taken from the expiry cache
// while it has not passed, otherwise looked up and cached.
func (c *Client) OptionChain(ctx context.Context, symbol string, expiry time.Time) (*OptionChain, error) {
	if symbol == "" {
		return nil, errs.New(errs.ErrorTypeInvalidArgument, 0, "symbol is required")
	}
	sym := strings.ToLower(symbol)

	if expiry.IsZero() {
		var err error
		if expiry, err = c.nearestExpiry(ctx, sym); err != nil {
			return nil, err
		}
	}

	typ := "Equity"
	if IsOptionIndex(sym) {
		typ = "Indices"
	}

	var chain OptionChain
	err := c.session.GetJSON(ctx, c.api(pathOptionChain), url.Values{
		"type":   {typ},
		"symbol": {strings.ToUpper(sym)},
		"expiry": {expiry.Format(ExpiryLayout)},
	}, &chain)
	if err != nil {
		return nil, err
	}
	return &chain, nil
}

func (c *Client) nearestExpiry(ctx context.Context, sym string) (time.Time, error) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	cache := c.readExpiryCache()
	if s, ok := cache[sym]; ok {
		if t, err := parseCacheTime(s); err == nil && !dateOnly(t).Before(dateOnly(c.now().In(IST))) {
			c.log.DebugWithFields("using cached expiry", map[string]interface{}{
				"symbol": sym,
				"expiry": t.Format(ExpiryLayout),
			})
			return t, nil
		}
	}

	raw, err := c.getRaw(ctx, pathOptionContractInfo, url.Values{"symbol": {strings.ToUpper(sym)}})
	if err != nil {
		return time.Time{}, err
	}
	dates := gjson.GetBytes(raw, "expiryDates")
	if !dates.Exists() {
		return time.Time{}, errs.Newf(errs.ErrorTypeInvalidResponse, 0, "contract info for %s has no expiryDates", sym)
	}
	list := dates.Array()
	if len(list) == 0 {
		return time.Time{}, errs.Newf(errs.ErrorTypeNotFound, 0, "No expiry dates for %s", sym)
	}
	expiry, err := time.Parse(ExpiryLayout, list[0].String())
	if err != nil {
		return time.Time{}, errs.Wrap(errs.ErrorTypeInvalidResponse, 0, "unparseable expiry date", err)
	}

	cache[sym] = expiry.Format(cacheTimeLayout)
	if err := c.writeExpiryCache(cache); err != nil {
		c.log.WithError(err).Warn("failed to write expiry cache")
	}
	return expiry, nil
}

func (c *Client) expiryCachePath() string {
	return filepath.Join(c.session.DownloadFolder(), ExpiryCacheFile)
}

// readExpiryCache never fails: a missing or corrupt cache is an empty one
func (c *Client) readExpiryCache() expiryCache {
	cache := make(expiryCache)
	data, err := os.ReadFile(c.expiryCachePath())
	if err != nil {
		return cache
	}
	if err := json.Unmarshal(data, &cache); err != nil {
		c.log.WithError(err).Debug("ignoring corrupt expiry cache")
		return make(expiryCache)
	}
	if cache == nil {
		cache = make(expiryCache)
	}
	return cache
}

func (c *Client) writeExpiryCache(cache expiryCache) error {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	return storage.WriteFileAtomic(c.expiryCachePath(), data, 0644)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
