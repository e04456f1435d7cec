package store

// DocumentType is a closed classification tag attached to a document's
// metadata. Wire strings match the original tagging scheme so ingestion
// pipelines built against it don't need to be rewritten.
type DocumentType uint8

const (
	DocumentTypeUnknown DocumentType = iota
	DocumentTypeJournal
	DocumentTypeChart
	DocumentTypeCatalystWatchlist
	DocumentTypeInstitutionalMatrix
	DocumentTypeEconomicCalendar
	DocumentTypeWeeklyRundown
	DocumentTypeThreeMonthReport
	DocumentTypeOneYearReport
	DocumentTypeMonthlyReport
	DocumentTypeYearlyReport
	DocumentTypePreMarket
)

func (t DocumentType) String() string {
	switch t {
	case DocumentTypeJournal:
		return "journal"
	case DocumentTypeChart:
		return "chart"
	case DocumentTypeCatalystWatchlist:
		return "catalyst_watchlist"
	case DocumentTypeInstitutionalMatrix:
		return "institutional_matrix"
	case DocumentTypeEconomicCalendar:
		return "economic_calendar"
	case DocumentTypeWeeklyRundown:
		return "weekly_rundown"
	case DocumentTypeThreeMonthReport:
		return "three_month_report"
	case DocumentTypeOneYearReport:
		return "one_year_report"
	case DocumentTypeMonthlyReport:
		return "monthly_report"
	case DocumentTypeYearlyReport:
		return "yearly_report"
	case DocumentTypePreMarket:
		return "pre_market"
	default:
		return "unknown"
	}
}

// ParseDocumentType converts a wire string back to its enum value. An
// unrecognized string maps to DocumentTypeUnknown rather than erroring,
// matching the original ingestion path's lenient fallback.
func ParseDocumentType(s string) DocumentType {
	switch s {
	case "journal":
		return DocumentTypeJournal
	case "chart":
		return DocumentTypeChart
	case "catalyst_watchlist":
		return DocumentTypeCatalystWatchlist
	case "institutional_matrix":
		return DocumentTypeInstitutionalMatrix
	case "economic_calendar":
		return DocumentTypeEconomicCalendar
	case "weekly_rundown":
		return DocumentTypeWeeklyRundown
	case "three_month_report":
		return DocumentTypeThreeMonthReport
	case "one_year_report":
		return DocumentTypeOneYearReport
	case "monthly_report":
		return DocumentTypeMonthlyReport
	case "yearly_report":
		return DocumentTypeYearlyReport
	case "pre_market":
		return DocumentTypePreMarket
	default:
		return DocumentTypeUnknown
	}
}
