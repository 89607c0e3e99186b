package model

import (
	"strings"

	"github.com/canopylabs/cropclass/internal/apperr"
)

// ExportFormat identifies an export artifact format.
type ExportFormat string

const (
	FormatCSV     ExportFormat = "csv"
	FormatGeoJSON ExportFormat = "geojson"

	// FormatPDF is kept for contract compatibility with existing clients:
	// the artifact it produces is an HTML report, not PDF bytes.
	FormatPDF ExportFormat = "pdf"
)

// ExportFormats lists the supported formats in canonical order.
func ExportFormats() []ExportFormat {
	return []ExportFormat{FormatCSV, FormatGeoJSON, FormatPDF}
}

// ParseExportFormat validates a format string, case-insensitively.
func ParseExportFormat(s string) (ExportFormat, error) {
	f := ExportFormat(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ExportFormats() {
		if f == known {
			return f, nil
		}
	}
	return "", apperr.Newf(apperr.KindUnsupportedFormat,
		"unsupported export format %q (allowed: csv, geojson, pdf)", s)
}
