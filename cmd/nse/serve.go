package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"nsefetch/internal/api"
	"nsefetch/pkg/ratelimit"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve quotes, option chains and market movers as a JSON API",
	Long: `Serve a JSON API backed by one shared exchange session.

Routes:
  GET /                              health
  GET /api/hello?name=
  GET /api/status
  GET /api/holidays?type=
  GET /api/quote/{symbol}
  GET /api/option-chain/{symbol}?expiry=
  GET /api/gainers/{index}?count=
  GET /api/losers/{index}?count=`,
	Args: cobra.NoArgs,
	RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			a.cfg.Server.Addr = serveAddr
		}

		var limiter ratelimit.Limiter
		if n := a.cfg.Server.RequestsPerMinute; n > 0 {
			limiter = ratelimit.NewTokenBucket(n, time.Minute)
		}

		handler := api.NewRouter(api.NewHandler(a.client, a.cfg.Retry, a.log), limiter)
		return api.Run(ctx, a.cfg.Server, handler, a.log)
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, :8080)")
}
