package models

import "time"

// ReportFormat enumerates export formats for validation reports.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ValidationReport describes a rendered validation error report.
type ValidationReport struct {
	ID        string       `json:"id"`
	Format    ReportFormat `json:"format"`
	Entries   int          `json:"entries"`
	Errors    int          `json:"errors"`
	URL       string       `json:"url"`
	ExpiresAt time.Time    `json:"expires_at"`
}
