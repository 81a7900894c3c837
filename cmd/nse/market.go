package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
	errs "nsefetch/pkg/errors"
	"nsefetch/pkg/nse"
)

var (
	holidayType  string
	quoteRaw     bool
	quoteType    string
	quoteSection string
	moverCount   int
	dealsFrom    string
	dealsTo      string
	actionsSeg   string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether each market segment is open",
	Args:  cobra.NoArgs,
	RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		states, err := fetch(ctx, a, a.client.Status)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), states)
	}),
}

var holidaysCmd = &cobra.Command{
	Use:   "holidays",
	Short: "List exchange holidays per segment",
	Args:  cobra.NoArgs,
	RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		h, err := fetch(ctx, a, func(ctx context.Context) (nse.Holidays, error) {
			return a.client.Holidays(ctx, holidayType)
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), h)
	}),
}

var quoteCmd = &cobra.Command{
	Use:   "quote <symbol>",
	Short: "Show the day's OHLCV summary of an equity",
	Example: `  nse quote INFY
  nse quote NIFTY --raw --type fno
  nse quote INFY --raw --section trade_info`,
	Args: cobra.ExactArgs(1),
	RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		if quoteRaw {
			raw, err := fetch(ctx, a, func(ctx context.Context) (json.RawMessage, error) {
				return a.client.Quote(ctx, args[0], quoteType, quoteSection)
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		}

		q, err := fetch(ctx, a, func(ctx context.Context) (*nse.StockQuote, error) {
			return a.client.StockQuote(ctx, args[0])
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), q)
	}),
}

func moversCmd(use, short string, gainers bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:     use + " <index>",
		Short:   short,
		Example: "  nse " + use + ` "NIFTY 50" --count 5`,
		Args:    cobra.ExactArgs(1),
		RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			list, err := fetch(ctx, a, func(ctx context.Context) (*nse.StockList, error) {
				return a.client.ListIndexStocks(ctx, args[0])
			})
			if err != nil {
				return err
			}
			stocks := nse.Losers(list.Data, moverCount)
			if gainers {
				stocks = nse.Gainers(list.Data, moverCount)
			}
			if stocks == nil {
				stocks = []nse.StockItem{}
			}
			return printJSON(cmd.OutOrStdout(), stocks)
		}),
	}
	cmd.Flags().IntVar(&moverCount, "count", 0, "limit the list to this many stocks (0 for all)")
	return cmd
}

var dealsCmd = &cobra.Command{
	Use:   "deals <block|bulk>",
	Short: "Show today's block deals or bulk deals over a date range",
	Example: `  nse deals block
  nse deals bulk --from 2026-10-01 --to 2026-10-16`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"block", "bulk"},
	RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		var op func(ctx context.Context) (json.RawMessage, error)
		switch args[0] {
		case "block":
			op = a.client.BlockDeals
		case "bulk":
			from, err := parseDate(dealsFrom)
			if err != nil {
				return err
			}
			to, err := parseDate(dealsTo)
			if err != nil {
				return err
			}
			if to.IsZero() {
				to = today()
			}
			if from.IsZero() {
				from = to.AddDate(0, 0, -7)
			}
			op = func(ctx context.Context) (json.RawMessage, error) {
				return a.client.BulkDeals(ctx, from, to)
			}
		default:
			return errs.Newf(errs.ErrorTypeInvalidArgument, 0, "unknown deal kind %q, want block or bulk", args[0])
		}

		raw, err := fetch(ctx, a, op)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), raw)
	}),
}

var actionsCmd = &cobra.Command{
	Use:   "actions [symbol]",
	Short: "List corporate actions such as dividends, splits and bonuses",
	Args:  cobra.MaximumNArgs(1),
	RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		symbol := ""
		if len(args) == 1 {
			symbol = args[0]
		}
		from, err := parseDate(dealsFrom)
		if err != nil {
			return err
		}
		to, err := parseDate(dealsTo)
		if err != nil {
			return err
		}
		raw, err := fetch(ctx, a, func(ctx context.Context) (json.RawMessage, error) {
			return a.client.Actions(ctx, actionsSeg, symbol, from, to)
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), raw)
	}),
}

func init() {
	rootCmd.AddCommand(statusCmd, holidaysCmd, quoteCmd, dealsCmd, actionsCmd)
	rootCmd.AddCommand(moversCmd("gainers", "List the advancing stocks of an index, best first", true))
	rootCmd.AddCommand(moversCmd("losers", "List the declining stocks of an index, worst first", false))

	holidaysCmd.Flags().StringVar(&holidayType, "type", nse.HolidayTrading, "holiday calendar (trading, clearing)")

	quoteCmd.Flags().BoolVar(&quoteRaw, "raw", false, "print the exchange's quote JSON unchanged")
	quoteCmd.Flags().StringVar(&quoteType, "type", nse.QuoteEquity, "quote type for --raw (equity, fno)")
	quoteCmd.Flags().StringVar(&quoteSection, "section", "", "quote section for --raw (trade_info)")

	for _, c := range []*cobra.Command{dealsCmd, actionsCmd} {
		c.Flags().StringVar(&dealsFrom, "from", "", "start date, YYYY-MM-DD")
		c.Flags().StringVar(&dealsTo, "to", "", "end date, YYYY-MM-DD")
	}
	actionsCmd.Flags().StringVar(&actionsSeg, "segment", nse.SegmentEquity, "market segment (equities, sme, debt, mf)")
}
