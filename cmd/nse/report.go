package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"nsefetch/internal/downloader"
	errs "nsefetch/pkg/errors"
	"nsefetch/pkg/nse"
)

var (
	reportDate     string
	reportTo       string
	reportOut      string
	reportWorkers  int
	reportProgress bool
)

var reportCmd = &cobra.Command{
	Use:   "report <kind>...",
	Short: "Download daily reports such as bhavcopies",
	Long: `Download daily reports from the exchange archives.

Kinds: ` + strings.Join(nse.ReportNames(), ", ") + `

Zip archives are extracted and removed, except the PR archive which is kept
as published. A report the exchange has not published for a date, such as
on a holiday, is reported as missing. With --to every weekday from --date to
--to is fetched; reports already in the folder are skipped.`,
	Example: `  nse report equity
  nse report equity fno --date 2026-10-16
  nse report delivery --date 2026-10-01 --to 2026-10-16 --workers 2`,
	Args:      cobra.MinimumNArgs(1),
	ValidArgs: nse.ReportNames(),
	RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		for _, kind := range args {
			if _, ok := nse.Reports[kind]; !ok {
				return errs.Newf(errs.ErrorTypeInvalidArgument, 0, "unknown report %q, want one of %s", kind, strings.Join(nse.ReportNames(), ", "))
			}
		}

		from, err := parseDate(reportDate)
		if err != nil {
			return err
		}
		if from.IsZero() {
			from = today()
		}
		to, err := parseDate(reportTo)
		if err != nil {
			return err
		}

		if to.IsZero() && len(args) == 1 {
			return downloadOne(ctx, a, cmd, args[0], from)
		}
		if to.IsZero() {
			to = from
		}
		return downloadMany(ctx, a, cmd, downloader.RangeRequest{
			Reports: args,
			From:    from,
			To:      to,
			Folder:  reportOut,
			Workers: reportWorkers,
		})
	}),
}

func downloadOne(ctx context.Context, a *app, cmd *cobra.Command, kind string, date time.Time) error {
	cfg := &nse.DownloadConfig{Folder: reportOut}
	if reportProgress {
		cfg.Progress = func(total int64) io.Writer {
			return progressbar.NewOptions64(total,
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetDescription(kind),
				progressbar.OptionShowBytes(true),
				progressbar.OptionClearOnFinish(),
			)
		}
	}

	path, err := fetch(ctx, a, func(ctx context.Context) (string, error) {
		return a.client.DownloadReport(ctx, kind, date, cfg)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func downloadMany(ctx context.Context, a *app, cmd *cobra.Command, req downloader.RangeRequest) error {
	if reportProgress {
		bar := progressbar.NewOptions(req.Jobs(),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription("reports"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		req.OnResult = func(downloader.DownloadResult) { _ = bar.Add(1) }
	}

	results, err := downloader.DownloadRange(ctx, a.client, req, a.log)
	if results == nil && err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var failed int
	for _, r := range results {
		date := r.Job.Date.Format(time.DateOnly)
		switch {
		case r.Skipped:
			fmt.Fprintf(out, "%s\t%s\tskipped\t%s\n", date, r.Job.Report, r.Path)
		case r.Success:
			fmt.Fprintf(out, "%s\t%s\tok\t%s\n", date, r.Job.Report, r.Path)
		case r.Missing:
			fmt.Fprintf(out, "%s\t%s\tmissing\n", date, r.Job.Report)
		default:
			failed++
			fmt.Fprintf(out, "%s\t%s\tfailed\t%v\n", date, r.Job.Report, r.Error)
		}
	}
	if err != nil {
		return fmt.Errorf("stopped after %d of %d downloads: %w", len(results), req.Jobs(), err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(results))
	}
	return nil
}

var documentCmd = &cobra.Command{
	Use:   "document <url>",
	Short: "Download an archive document such as an annual report",
	Args:  cobra.ExactArgs(1),
	RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		path, err := fetch(ctx, a, func(ctx context.Context) (string, error) {
			return a.client.DownloadDocument(ctx, args[0], reportOut)
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(reportCmd, documentCmd)

	reportCmd.Flags().StringVarP(&reportDate, "date", "d", "", "report date, YYYY-MM-DD (default today)")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "last date of a range, YYYY-MM-DD")
	reportCmd.Flags().IntVarP(&reportWorkers, "workers", "w", 2, "concurrent downloads for ranges")
	reportCmd.Flags().BoolVar(&reportProgress, "progress", true, "show a progress bar on stderr")

	for _, c := range []*cobra.Command{reportCmd, documentCmd} {
		c.Flags().StringVarP(&reportOut, "out", "o", "", "destination folder (default the download folder)")
	}
}
