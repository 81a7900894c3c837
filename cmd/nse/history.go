package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	errs "nsefetch/pkg/errors"
	"nsefetch/pkg/nse"
)

var (
	historyFrom       string
	historyTo         string
	historyInstrument string
	historyExpiry     string
	historyOptionType string
	historyStrike     string
)

// historyRange parses --from and --to; zero dates are left to the client
func historyRange() (time.Time, time.Time, error) {
	from, err := parseDate(historyFrom)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDate(historyTo)
	return from, to, err
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Fetch daily historical data for VIX, indices and F&O contracts",
	Long: `Fetch daily historical data. Without --from the last 30 days up to --to
(default today) are returned. Ranges longer than a year are fetched a year
at a time, newest first.`,
}

var historyVixCmd = &cobra.Command{
	Use:   "vix",
	Short: "Daily India VIX values",
	Args:  cobra.NoArgs,
	RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		from, to, err := historyRange()
		if err != nil {
			return err
		}
		recs, err := fetch(ctx, a, func(ctx context.Context) ([]json.RawMessage, error) {
			return a.client.VixHistory(ctx, from, to)
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), recs)
	}),
}

var historyIndexCmd = &cobra.Command{
	Use:     "index <name>",
	Short:   "Daily closes and turnover of an index",
	Example: `  nse history index "NIFTY 50" --from 2026-01-01`,
	Args:    cobra.ExactArgs(1),
	RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		from, to, err := historyRange()
		if err != nil {
			return err
		}
		h, err := fetch(ctx, a, func(ctx context.Context) (*nse.IndexHistory, error) {
			return a.client.IndexHistory(ctx, args[0], from, to)
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), h)
	}),
}

var historyFnoCmd = &cobra.Command{
	Use:   "fno <symbol>",
	Short: "Daily records of futures or options contracts",
	Example: `  nse history fno NIFTY
  nse history fno NIFTY --instrument OPTIDX --expiry 2026-10-28 --option-type CE --strike 24500`,
	Args: cobra.ExactArgs(1),
	RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		from, to, err := historyRange()
		if err != nil {
			return err
		}
		expiry, err := parseDate(historyExpiry)
		if err != nil {
			return err
		}
		var strike decimal.Decimal
		if historyStrike != "" {
			if strike, err = decimal.NewFromString(historyStrike); err != nil {
				return errs.Wrap(errs.ErrorTypeInvalidArgument, 0, "invalid strike price", err)
			}
		}

		q := nse.FnoHistoryQuery{
			Instrument:  historyInstrument,
			Symbol:      args[0],
			From:        from,
			To:          to,
			Expiry:      expiry,
			OptionType:  historyOptionType,
			StrikePrice: strike,
		}
		recs, err := fetch(ctx, a, func(ctx context.Context) ([]json.RawMessage, error) {
			return a.client.FnoHistory(ctx, q)
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), recs)
	}),
}

var underlyingsCmd = &cobra.Command{
	Use:   "underlyings",
	Short: "List the indices and stocks that have derivatives",
	Args:  cobra.NoArgs,
	RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		raw, err := fetch(ctx, a, a.client.FnoUnderlyings)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), raw)
	}),
}

func init() {
	rootCmd.AddCommand(historyCmd, underlyingsCmd)
	historyCmd.AddCommand(historyVixCmd, historyIndexCmd, historyFnoCmd)

	historyCmd.PersistentFlags().StringVar(&historyFrom, "from", "", "start date, YYYY-MM-DD (default 30 days before --to)")
	historyCmd.PersistentFlags().StringVar(&historyTo, "to", "", "end date, YYYY-MM-DD (default today)")

	historyFnoCmd.Flags().StringVar(&historyInstrument, "instrument", nse.InstrumentIndexFutures, "FUTIDX, FUTSTK, OPTIDX or OPTSTK")
	historyFnoCmd.Flags().StringVar(&historyExpiry, "expiry", "", "contract expiry, YYYY-MM-DD or DD-Mon-YYYY")
	historyFnoCmd.Flags().StringVar(&historyOptionType, "option-type", "", "CE or PE, options only")
	historyFnoCmd.Flags().StringVar(&historyStrike, "strike", "", "strike price, options only")
}
