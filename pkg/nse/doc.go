// Package nse wraps the National Stock Exchange of India's public JSON API
// and daily report archives on top of a session.Manager.
//
// Endpoint methods return typed values where callers compute on the
// result (market status, stock listings, option chains) and the raw JSON
// otherwise. Report downloads pick the archive name for the requested
// date, including the July 2024 switch to UDiFF bhavcopies.
//
// Gainers, Losers, MaxPain and Compile are pure functions over fetched
// data and use exact decimal arithmetic.
package nse
