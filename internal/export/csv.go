package export

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/canopylabs/cropclass/internal/model"
)

// csvColumns is the fixed 12-column header.
var csvColumns = []string{
	"ID", "PredictedClass", "Confidence", "ConfidenceLevel", "RecommendedAction",
	"NDVI", "EVI", "SAVI", "AreaHa", "Latitude", "Longitude", "Timestamp",
}

// renderCSV serializes results into CSV text: one header row, then one row
// per result with a 1-indexed ID. String fields are always double-quoted;
// missing optional fields degrade to 0. Hand-rolled rather than built on a
// CSV writer because the export contract requires forced quoting of string
// fields, which RFC 4180 writers only apply when necessary.
func renderCSV(results []*model.ClassificationResult) []byte {
	var buf bytes.Buffer
	buf.WriteString(strings.Join(csvColumns, ","))
	buf.WriteByte('\n')

	for i, r := range results {
		lat, lng := 0.0, 0.0
		if r.Coordinates != nil {
			lat, lng = r.Coordinates.Lat, r.Coordinates.Lng
		}
		fields := []string{
			strconv.Itoa(i + 1),
			quote(string(r.Outcome.Label)),
			formatFloat(r.Outcome.Confidence),
			strconv.Itoa(r.Level.Level),
			quote(r.Level.RecommendedAction),
			formatFloat(r.Features.NDVI),
			formatFloat(r.Features.EVI),
			formatFloat(r.Features.SAVI),
			formatFloat(r.Features.AreaHectares),
			fmt.Sprintf("%.6f", lat),
			fmt.Sprintf("%.6f", lng),
			quote(r.Timestamp.UTC().Format(time.RFC3339)),
		}
		buf.WriteString(strings.Join(fields, ","))
		buf.WriteByte('\n')
	}

	return buf.Bytes()
}

// quote wraps s in double quotes, doubling any embedded quotes.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
