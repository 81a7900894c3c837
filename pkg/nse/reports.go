package nse

import (
	"context"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	errs "nsefetch/pkg/errors"
	"nsefetch/pkg/session"
)

// ReportFunc builds the archive location of a report for one date
type ReportFunc func(archive string, date time.Time) Report

// Reports lists every daily report by the name the CLI and API use
var Reports = map[string]ReportFunc{
	"equity":    EquityBhavcopyReport,
	"fno":       FnoBhavcopyReport,
	"delivery":  DeliveryBhavcopyReport,
	"indices":   IndicesBhavcopyReport,
	"pr":        PRBhavcopyReport,
	"priceband": PricebandListReport,
	"cm-mii":    CMSecurityReport,
}

// ReportNames returns the keys of Reports, sorted
func ReportNames() []string {
	names := make([]string, 0, len(Reports))
	for name := range Reports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DownloadConfig tunes report downloads
type DownloadConfig struct {
	// Folder overrides the session's download folder
	Folder string
	// Progress receives the body as it is saved
	Progress func(total int64) io.Writer
}

// DownloadReport fetches the named report for date and returns the path of
// the saved (and, unless the report is kept zipped, extracted) file. A
// report that is missing or implausibly small yields ErrorTypeNotFound.
func (c *Client) DownloadReport(ctx context.Context, name string, date time.Time, cfg *DownloadConfig) (string, error) {
	build, ok := Reports[name]
	if !ok {
		return "", errs.Newf(errs.ErrorTypeInvalidArgument, 0, "unknown report %q", name)
	}
	if date.IsZero() {
		return "", errs.New(errs.ErrorTypeInvalidArgument, 0, "report date is required")
	}
	if cfg == nil {
		cfg = &DownloadConfig{}
	}

	report := build(c.archiveURL, date)
	path, err := c.session.Download(ctx, report.URL, cfg.Folder, &session.DownloadOptions{
		SkipExtract: report.Keep,
		MinSize:     report.MinSize,
		Progress:    cfg.Progress,
	})
	if err != nil {
		if errs.IsNotFound(err) {
			c.log.InfoWithFields("report not published", map[string]interface{}{
				"report": name,
				"date":   date.Format(time.DateOnly),
			})
		}
		return "", err
	}
	return path, nil
}

// ReportPath returns the path DownloadReport saves the named report to,
// without touching the network
func (c *Client) ReportPath(name string, date time.Time, folder string) (string, error) {
	build, ok := Reports[name]
	if !ok {
		return "", errs.Newf(errs.ErrorTypeInvalidArgument, 0, "unknown report %q", name)
	}
	report := build(c.archiveURL, date)
	if folder == "" {
		folder = c.session.DownloadFolder()
	}
	file := path.Base(report.URL)
	if !report.Keep {
		file = strings.TrimSuffix(strings.TrimSuffix(file, ".zip"), ".gz")
	}
	return filepath.Join(folder, file), nil
}

// EquityBhavcopy downloads the cash market bhavcopy and returns the CSV path
func (c *Client) EquityBhavcopy(ctx context.Context, date time.Time, folder string) (string, error) {
	return c.DownloadReport(ctx, "equity", date, &DownloadConfig{Folder: folder})
}

// FnoBhavcopy downloads the derivatives bhavcopy and returns the CSV path
func (c *Client) FnoBhavcopy(ctx context.Context, date time.Time, folder string) (string, error) {
	return c.DownloadReport(ctx, "fno", date, &DownloadConfig{Folder: folder})
}

// DeliveryBhavcopy downloads the full bhavcopy with delivery quantities
func (c *Client) DeliveryBhavcopy(ctx context.Context, date time.Time, folder string) (string, error) {
	return c.DownloadReport(ctx, "delivery", date, &DownloadConfig{Folder: folder})
}

// IndicesBhavcopy downloads the index closing values
func (c *Client) IndicesBhavcopy(ctx context.Context, date time.Time, folder string) (string, error) {
	return c.DownloadReport(ctx, "indices", date, &DownloadConfig{Folder: folder})
}

// PRBhavcopy downloads the PR archive and returns the zip path
func (c *Client) PRBhavcopy(ctx context.Context, date time.Time, folder string) (string, error) {
	return c.DownloadReport(ctx, "pr", date, &DownloadConfig{Folder: folder})
}

// PricebandReport downloads the price band list
func (c *Client) PricebandReport(ctx context.Context, date time.Time, folder string) (string, error) {
	return c.DownloadReport(ctx, "priceband", date, &DownloadConfig{Folder: folder})
}

// CMMIISecurityReport downloads and decompresses the CM security master
func (c *Client) CMMIISecurityReport(ctx context.Context, date time.Time, folder string) (string, error) {
	return c.DownloadReport(ctx, "cm-mii", date, &DownloadConfig{Folder: folder})
}

// DownloadDocument saves any archive document, such as an annual report,
// extracting it when it is a zip
func (c *Client) DownloadDocument(ctx context.Context, rawURL, folder string) (string, error) {
	if rawURL == "" {
		return "", errs.New(errs.ErrorTypeInvalidArgument, 0, "document URL is required")
	}
	return c.session.Download(ctx, rawURL, folder, nil)
}
