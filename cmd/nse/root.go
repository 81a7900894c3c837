package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	engine     string
	folder     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nse",
	Short: "Fetch market data and daily reports from the National Stock Exchange of India",
	Long: `nse talks to the exchange website the way a browser does: it keeps a
session cookie, paces requests to three per second and downloads the daily
report archives.

Output is JSON on stdout; logs go to stderr.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .nse.yaml or $HOME/.config/nse/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error, disabled)")
	rootCmd.PersistentFlags().StringVar(&engine, "engine", "", "HTTP engine (http1, http2)")
	rootCmd.PersistentFlags().StringVar(&folder, "folder", "", "download folder for reports and the cookie file")

	rootCmd.SetVersionTemplate(`nse {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
