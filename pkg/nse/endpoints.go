package nse

import (
	"fmt"
	"strings"
	"time"
)

const (
	// BaseURL is the exchange website; API paths live under /api
	BaseURL = "https://www.nseindia.com"

	// ArchiveURL serves the daily report archives
	ArchiveURL = "https://nsearchives.nseindia.com"

	// apiDate is the date layout the JSON API expects in query parameters
	apiDate = "02-01-2006"

	// ExpiryLayout is how the exchange writes derivative expiry dates
	ExpiryLayout = "02-Jan-2006"
)

// Segments accepted by Actions
const (
	SegmentEquity = "equities"
	SegmentSME    = "sme"
	SegmentMF     = "mf"
	SegmentDebt   = "debt"
)

// Holiday list types
const (
	HolidayTrading  = "trading"
	HolidayClearing = "clearing"
)

// Index derivatives whose option chain is served as type=Indices
const (
	FnoNifty     = "nifty"
	FnoBankNifty = "banknifty"
	FnoFinNifty  = "finnifty"
	FnoNiftyIT   = "niftyit"
)

var optionIndices = map[string]bool{
	FnoNifty:     true,
	FnoBankNifty: true,
	FnoFinNifty:  true,
	FnoNiftyIT:   true,
}

// IsOptionIndex reports whether symbol is an index derivative
func IsOptionIndex(symbol string) bool {
	return optionIndices[strings.ToLower(symbol)]
}

// UDiFFCutover is the first trading day published in the UDiFF bhavcopy
// format. Earlier dates are only available under the legacy names.
var UDiFFCutover = time.Date(2024, time.July, 8, 0, 0, 0, 0, time.UTC)

// API paths, relative to BaseURL
const (
	pathMarketStatus       = "/api/marketStatus"
	pathHolidays           = "/api/holiday-master"
	pathBlockDeals         = "/api/block-deal"
	pathBulkDeals          = "/api/historical/bulk-deals"
	pathActions            = "/api/corporates-corporateActions"
	pathAnnouncements      = "/api/corporate-announcements"
	pathBoardMeetings      = "/api/corporate-board-meetings"
	pathCirculars          = "/api/circulars"
	pathEquityMeta         = "/api/equity-meta-info"
	pathQuoteEquity        = "/api/quote-equity"
	pathQuoteDerivative    = "/api/quote-derivative"
	pathAllIndices         = "/api/allIndices"
	pathIndexStocks        = "/api/equity-stockIndices"
	pathEtf                = "/api/etf"
	pathSME                = "/api/live-analysis-emerge"
	pathSGB                = "/api/sovereign-gold-bonds"
	pathCurrentIPO         = "/api/ipo-current-issue"
	pathUpcomingIPO        = "/api/all-upcoming-issues"
	pathPastIPO            = "/api/public-past-issues"
	pathFuturesLive        = "/api/liveEquity-derivatives"
	pathOptionContractInfo = "/api/option-chain-contract-info"
	pathOptionChain        = "/api/option-chain-v3"
	pathFnoUnderlying      = "/api/underlying-information"
	pathVixHistory         = "/api/historicalOR/vixhistory"
	pathFnoHistory         = "/api/historicalOR/foCPV"
	pathIndexHistory       = "/api/historicalOR/indicesHistory"
)

// Report describes one downloadable daily archive
type Report struct {
	// URL is the full archive URL for the requested date
	URL string
	// MinSize is the smallest plausible size of a published report
	MinSize int64
	// Keep leaves the payload as downloaded instead of extracting it
	Keep bool
}

func upperDate(date time.Time) string {
	return strings.ToUpper(date.Format("02Jan2006"))
}

// EquityBhavcopyReport returns the cash market bhavcopy for date
func EquityBhavcopyReport(archive string, date time.Time) Report {
	if dateOnly(date).Before(UDiFFCutover) {
		return Report{
			URL: fmt.Sprintf("%s/content/historical/EQUITIES/%d/%s/cm%sbhav.csv.zip",
				archive, date.Year(), strings.ToUpper(date.Format("Jan")), upperDate(date)),
			MinSize: 5000,
		}
	}
	return Report{
		URL:     fmt.Sprintf("%s/content/cm/BhavCopy_NSE_CM_0_0_0_%s_F_0000.csv.zip", archive, date.Format("20060102")),
		MinSize: 5000,
	}
}

// FnoBhavcopyReport returns the derivatives bhavcopy for date
func FnoBhavcopyReport(archive string, date time.Time) Report {
	if dateOnly(date).Before(UDiFFCutover) {
		return Report{
			URL: fmt.Sprintf("%s/content/historical/DERIVATIVES/%d/%s/fo%sbhav.csv.zip",
				archive, date.Year(), strings.ToUpper(date.Format("Jan")), upperDate(date)),
			MinSize: 5000,
		}
	}
	return Report{
		URL:     fmt.Sprintf("%s/content/fo/BhavCopy_NSE_FO_0_0_0_%s_F_0000.csv.zip", archive, date.Format("20060102")),
		MinSize: 5000,
	}
}

// DeliveryBhavcopyReport returns the full bhavcopy with delivery data
func DeliveryBhavcopyReport(archive string, date time.Time) Report {
	return Report{
		URL:     fmt.Sprintf("%s/products/content/sec_bhavdata_full_%s.csv", archive, date.Format("02012006")),
		MinSize: 50000,
	}
}

// IndicesBhavcopyReport returns the closing values of every index
func IndicesBhavcopyReport(archive string, date time.Time) Report {
	return Report{
		URL:     fmt.Sprintf("%s/content/indices/ind_close_all_%s.csv", archive, date.Format("02012006")),
		MinSize: 5000,
	}
}

// PRBhavcopyReport returns the PR archive, which is kept zipped because it
// bundles many unrelated files
func PRBhavcopyReport(archive string, date time.Time) Report {
	return Report{
		URL:     fmt.Sprintf("%s/archives/equities/bhavcopy/pr/PR%s.zip", archive, date.Format("020106")),
		MinSize: 5000,
		Keep:    true,
	}
}

// PricebandListReport returns the security-wise price band list
func PricebandListReport(archive string, date time.Time) Report {
	return Report{
		URL:     fmt.Sprintf("%s/content/equities/sec_list_%s.csv", archive, date.Format("02012006")),
		MinSize: 5000,
	}
}

// CMSecurityReport returns the gzipped CM security master
func CMSecurityReport(archive string, date time.Time) Report {
	return Report{
		URL:     fmt.Sprintf("%s/content/cm/NSE_CM_security_%s.csv.gz", archive, date.Format("02012006")),
		MinSize: 5000,
	}
}

// FnoLotsURL is the market lot list for derivatives
func FnoLotsURL(archive string) string {
	return archive + "/content/fo/fo_mktlots.csv"
}
