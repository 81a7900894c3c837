// Package ratelimit provides the request throttles used by the exchange client.
//
// SlidingWindow records the start time of every admitted request and never
// lets more than maxRequests of them fall inside any rolling window. The
// session manager uses it to stay under the exchange's informal limit of
// three requests per second:
//
//	limiter := ratelimit.NewSlidingWindow(3, time.Second)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err // ctx cancelled while queued
//	}
//
// TokenBucket refills its whole capacity once per period. The API server
// uses it as a non-blocking admission check in front of upstream calls.
//
// Both implementations are safe for concurrent use.
package ratelimit
