// Package session keeps an authenticated browsing session with the
// exchange website alive.
//
// The website only answers API and archive requests that carry cookies
// issued by one of its HTML pages. A Manager obtains those cookies from the
// landing page, persists them in the download folder, reuses them across
// runs while they are fresh, and transparently refreshes them once when a
// request is rejected:
//
//	m, err := session.New(cfg, log)
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//
//	var status map[string]interface{}
//	err = m.GetJSON(ctx, "https://www.nseindia.com/api/marketStatus", nil, &status)
//
// Requests from every goroutine share one rolling-window rate limiter.
// Two engines are available: "http1" (net/http) and "http2" (resty over an
// HTTP/2 transport with a browser-like TLS handshake). Each persists its
// cookies in its own file.
package session
