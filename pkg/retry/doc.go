// Package retry provides backoff and retry helpers.
//
// The session manager uses it with a zero delay and a session-expiry
// predicate to get its single post-refresh retry. Callers that want to
// ride out network blips wrap their calls with NetworkPolicy:
//
//	cfg := retry.NetworkPolicy(ctx, appCfg.Retry, log)
//	quote, err := retry.DoWithResult(func() (*nse.StockQuote, error) {
//		return client.StockQuote(ctx, "INFY")
//	}, cfg)
package retry
