package export

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/canopylabs/cropclass/internal/model"
)

// Confidence color bands for the report table.
const (
	bandHigh   = 0.7
	bandMedium = 0.4
)

type reportRow struct {
	Index      int
	Class      string
	Confidence float64
	Band       string
	Level      int
	TierLabel  string
	Action     string
	NDVI       float64
	EVI        float64
	SAVI       float64
	AreaHa     float64
	HasCoords  bool
	Lat        float64
	Lng        float64
	Timestamp  string
}

type labelShare struct {
	Label string
	Count int
	Share float64
}

type reportData struct {
	GeneratedAt    string
	Total          int
	MeanConfidence float64
	DistinctLabels int
	Shares         []labelShare
	Rows           []reportRow
}

// renderHTML builds the static report: summary statistics followed by a
// table of all results with color-banded confidence values.
func renderHTML(results []*model.ClassificationResult, now time.Time) ([]byte, error) {
	data := reportData{
		GeneratedAt: now.Format("2006-01-02 15:04 UTC"),
		Total:       len(results),
	}

	counts := make(map[string]int)
	var confidenceSum float64
	for i, r := range results {
		confidenceSum += r.Outcome.Confidence
		counts[string(r.Outcome.Label)]++

		row := reportRow{
			Index:      i + 1,
			Class:      string(r.Outcome.Label),
			Confidence: r.Outcome.Confidence,
			Band:       confidenceBand(r.Outcome.Confidence),
			Level:      r.Level.Level,
			TierLabel:  r.Level.Label,
			Action:     r.Level.RecommendedAction,
			NDVI:       r.Features.NDVI,
			EVI:        r.Features.EVI,
			SAVI:       r.Features.SAVI,
			AreaHa:     r.Features.AreaHectares,
			Timestamp:  r.Timestamp.UTC().Format(time.RFC3339),
		}
		if r.Coordinates != nil {
			row.HasCoords = true
			row.Lat = r.Coordinates.Lat
			row.Lng = r.Coordinates.Lng
		}
		data.Rows = append(data.Rows, row)
	}

	data.MeanConfidence = confidenceSum / float64(len(results))
	data.DistinctLabels = len(counts)

	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		data.Shares = append(data.Shares, labelShare{
			Label: label,
			Count: counts[label],
			Share: float64(counts[label]) / float64(len(results)),
		})
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return nil, eris.Wrap(err, "execute report template")
	}
	return buf.Bytes(), nil
}

func confidenceBand(c float64) string {
	switch {
	case c > bandHigh:
		return "high"
	case c > bandMedium:
		return "medium"
	default:
		return "low"
	}
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	// pct renders a [0,1] fraction as a percentage.
	"pct": func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Land Cover Classification Report</title>
<style>
body { font-family: sans-serif; margin: 2rem; color: #1a1a1a; }
table { border-collapse: collapse; width: 100%; margin-top: 1rem; }
th, td { border: 1px solid #ccc; padding: 0.4rem 0.6rem; text-align: left; font-size: 0.9rem; }
th { background: #f0f0f0; }
.summary { display: flex; gap: 2rem; margin: 1rem 0; }
.summary div { background: #f7f7f7; padding: 0.8rem 1.2rem; border-radius: 4px; }
.confidence.high { color: #1a7f37; font-weight: bold; }
.confidence.medium { color: #9a6700; font-weight: bold; }
.confidence.low { color: #cf222e; font-weight: bold; }
</style>
</head>
<body>
<h1>Land Cover Classification Report</h1>
<p>Generated {{.GeneratedAt}}</p>
<div class="summary">
<div><strong>{{.Total}}</strong> results</div>
<div>Mean confidence <strong>{{pct .MeanConfidence}}</strong></div>
<div><strong>{{.DistinctLabels}}</strong> distinct classes</div>
</div>
<h2>Class Distribution</h2>
<table>
<tr><th>Class</th><th>Count</th><th>Share</th></tr>
{{range .Shares}}<tr><td>{{.Label}}</td><td>{{.Count}}</td><td>{{pct .Share}}</td></tr>
{{end}}</table>
<h2>Results</h2>
<table>
<tr><th>#</th><th>Class</th><th>Confidence</th><th>Tier</th><th>Action</th><th>NDVI</th><th>EVI</th><th>SAVI</th><th>Area (ha)</th><th>Location</th><th>Timestamp</th></tr>
{{range .Rows}}<tr>
<td>{{.Index}}</td>
<td>{{.Class}}</td>
<td class="confidence {{.Band}}">{{pct .Confidence}}</td>
<td>{{.Level}} ({{.TierLabel}})</td>
<td>{{.Action}}</td>
<td>{{printf "%.4f" .NDVI}}</td>
<td>{{printf "%.4f" .EVI}}</td>
<td>{{printf "%.4f" .SAVI}}</td>
<td>{{printf "%.2f" .AreaHa}}</td>
<td>{{if .HasCoords}}{{printf "%.4f, %.4f" .Lat .Lng}}{{else}}&mdash;{{end}}</td>
<td>{{.Timestamp}}</td>
</tr>
{{end}}</table>
</body>
</html>
`))
