package main

import (
	"context"

	"github.com/spf13/cobra"
	"nsefetch/pkg/nse"
)

var (
	chainExpiry string
	chainRaw    bool
	futIndex    string
)

var optionChainCmd = &cobra.Command{
	Use:   "option-chain <symbol>",
	Short: "Summarise the option chain of an index or stock for one expiry",
	Long: `Summarise the option chain of an index or stock: per-strike call and put
prices and open interest, the put-call ratio, max pain and the at-the-money
strike.

Without --expiry the nearest expiry is used. It is cached in the download
folder until it passes.`,
	Example: `  nse option-chain NIFTY
  nse option-chain BANKNIFTY --expiry 2026-10-28
  nse option-chain RELIANCE --raw`,
	Args: cobra.ExactArgs(1),
	RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		expiry, err := parseDate(chainExpiry)
		if err != nil {
			return err
		}

		if chainRaw {
			chain, err := fetch(ctx, a, func(ctx context.Context) (*nse.OptionChain, error) {
				return a.client.OptionChain(ctx, args[0], expiry)
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), chain)
		}

		oc, err := fetch(ctx, a, func(ctx context.Context) (*nse.CompiledChain, error) {
			return a.client.CompileOptionChain(ctx, args[0], expiry)
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), oc)
	}),
}

var lotsCmd = &cobra.Command{
	Use:   "lots",
	Short: "Print the F&O market lot size of every symbol",
	Args:  cobra.NoArgs,
	RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		lots, err := fetch(ctx, a, a.client.FnoLots)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), lots)
	}),
}

var futuresExpiryCmd = &cobra.Command{
	Use:   "futures-expiry",
	Short: "List the expiry dates of live index futures",
	Args:  cobra.NoArgs,
	RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		dates, err := fetch(ctx, a, func(ctx context.Context) ([]string, error) {
			return a.client.FuturesExpiry(ctx, futIndex)
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), dates)
	}),
}

func init() {
	rootCmd.AddCommand(optionChainCmd, lotsCmd, futuresExpiryCmd)

	optionChainCmd.Flags().StringVar(&chainExpiry, "expiry", "", "expiry date, YYYY-MM-DD or DD-Mon-YYYY")
	optionChainCmd.Flags().BoolVar(&chainRaw, "raw", false, "print the exchange's option chain JSON instead of the summary")

	futuresExpiryCmd.Flags().StringVar(&futIndex, "index", "nse50_fut", "futures index key (nse50_fut, nifty_bank_fut, ...)")
}
