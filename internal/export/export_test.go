package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopylabs/cropclass/internal/apperr"
	"github.com/canopylabs/cropclass/internal/model"
)

func fixedClock() time.Time {
	return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
}

func sampleResults() []*model.ClassificationResult {
	ts := time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC)
	return []*model.ClassificationResult{
		{
			ID: "r-1",
			Features: model.FeatureVector{
				NDVI: 0.85, EVI: 0.95, SAVI: 0.8,
				MeanRed: 0.1, MeanNIR: 0.8, StdRed: 0.02, StdNIR: 0.05,
				AreaHectares: 102.4,
			},
			Outcome: model.PredictionOutcome{
				Label:      model.LabelForest,
				Confidence: 0.91,
				Probabilities: map[model.ClassLabel]float64{
					model.LabelForest: 0.91, model.LabelOilPalm: 0.045, model.LabelCacao: 0.045,
				},
			},
			Level:            model.ConfidenceLevel{Level: 5, Threshold: 0.8, Label: "Very High", RecommendedAction: "Accept classification"},
			Coordinates:      &model.Coordinates{Lat: -2.534, Lng: 111.721},
			Timestamp:        ts,
			ProcessingTimeMs: 42,
		},
		{
			ID: "r-2",
			Features: model.FeatureVector{
				NDVI: 0.42, EVI: 0.3, SAVI: 0.35,
				MeanRed: 0.3, MeanNIR: 0.5, StdRed: 0.07, StdNIR: 0.06,
				AreaHectares: 55.1,
			},
			Outcome: model.PredictionOutcome{
				Label:      model.LabelCacao,
				Confidence: 0.52,
				Probabilities: map[model.ClassLabel]float64{
					model.LabelCacao: 0.52, model.LabelOilPalm: 0.24, model.LabelForest: 0.24,
				},
			},
			Level:            model.ConfidenceLevel{Level: 3, Threshold: 0.4, Label: "Moderate", RecommendedAction: "Manual review recommended"},
			Timestamp:        ts.Add(5 * time.Minute),
			ProcessingTimeMs: 38,
		},
	}
}

func TestRender_CSVRoundTrip(t *testing.T) {
	t.Parallel()

	r := NewRenderer("landcover_results", fixedClock)
	results := sampleResults()

	art, err := r.Render(model.FormatCSV, results)
	require.NoError(t, err)
	assert.Equal(t, "text/csv; charset=utf-8", art.ContentType)
	assert.Equal(t, "landcover_results_20260831.csv", art.Filename)

	rows, err := csv.NewReader(bytes.NewReader(art.Bytes)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, len(results)+1, "header plus one row per result")

	header := rows[0]
	assert.Equal(t, []string{
		"ID", "PredictedClass", "Confidence", "ConfidenceLevel", "RecommendedAction",
		"NDVI", "EVI", "SAVI", "AreaHa", "Latitude", "Longitude", "Timestamp",
	}, header)

	for i, result := range results {
		row := rows[i+1]
		require.Len(t, row, 12)
		assert.Equal(t, strconv.Itoa(i+1), row[0], "1-indexed ID")
		assert.Equal(t, string(result.Outcome.Label), row[1])

		ndvi, err := strconv.ParseFloat(row[5], 64)
		require.NoError(t, err)
		assert.InDelta(t, result.Features.NDVI, ndvi, 1e-4)

		lat, err := strconv.ParseFloat(row[9], 64)
		require.NoError(t, err)
		lng, err := strconv.ParseFloat(row[10], 64)
		require.NoError(t, err)
		if result.Coordinates != nil {
			assert.InDelta(t, result.Coordinates.Lat, lat, 1e-6)
			assert.InDelta(t, result.Coordinates.Lng, lng, 1e-6)
		} else {
			assert.Zero(t, lat)
			assert.Zero(t, lng)
		}
	}
}

func TestRenderCSV_ForcedQuoting(t *testing.T) {
	t.Parallel()

	data := renderCSV(sampleResults())
	assert.Contains(t, string(data), `"forest"`)
	assert.Contains(t, string(data), `"Accept classification"`)
}

func TestRender_GeoJSON(t *testing.T) {
	t.Parallel()

	r := NewRenderer("landcover_results", fixedClock)
	results := sampleResults()

	art, err := r.Render(model.FormatGeoJSON, results)
	require.NoError(t, err)
	assert.Equal(t, "application/geo+json", art.ContentType)
	assert.Equal(t, "landcover_results_20260831.geojson", art.Filename)

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string `json:"type"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(art.Bytes, &fc))

	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, len(results))

	for i, feat := range fc.Features {
		assert.Equal(t, "Feature", feat.Type)
		assert.Equal(t, "Point", feat.Geometry.Type)
		require.Len(t, feat.Geometry.Coordinates, 2)

		if results[i].Coordinates != nil {
			assert.InDelta(t, results[i].Coordinates.Lng, feat.Geometry.Coordinates[0], 1e-9, "coordinates are [lng, lat]")
			assert.InDelta(t, results[i].Coordinates.Lat, feat.Geometry.Coordinates[1], 1e-9)
		} else {
			assert.Equal(t, []float64{0, 0}, feat.Geometry.Coordinates)
		}

		assert.Equal(t, string(results[i].Outcome.Label), feat.Properties["predicted_class"])
		assert.InDelta(t, results[i].Outcome.Confidence, feat.Properties["confidence"].(float64), 1e-9)
		assert.InDelta(t, results[i].Features.NDVI, feat.Properties["ndvi"].(float64), 1e-9)
	}
}

func TestRender_HTMLReport(t *testing.T) {
	t.Parallel()

	r := NewRenderer("landcover_results", fixedClock)
	art, err := r.Render(model.FormatPDF, sampleResults())
	require.NoError(t, err)

	assert.Equal(t, "text/html; charset=utf-8", art.ContentType)
	assert.Equal(t, "landcover_results_20260831.html", art.Filename, "pdf format key yields an HTML report")

	html := string(art.Bytes)
	assert.Contains(t, html, "<strong>2</strong> results")
	assert.Contains(t, html, "Mean confidence")
	assert.Contains(t, html, "71.5%") // (0.91 + 0.52) / 2
	assert.Contains(t, html, `class="confidence high"`)
	assert.Contains(t, html, `class="confidence medium"`)
	assert.Contains(t, html, "forest")
	assert.Contains(t, html, "cacao")
	assert.Contains(t, html, "Manual review recommended")
}

func TestConfidenceBand(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "high", confidenceBand(0.71))
	assert.Equal(t, "medium", confidenceBand(0.7))
	assert.Equal(t, "medium", confidenceBand(0.41))
	assert.Equal(t, "low", confidenceBand(0.4))
	assert.Equal(t, "low", confidenceBand(0.0))
}

func TestRender_EmptyResults(t *testing.T) {
	t.Parallel()

	r := NewRenderer("landcover_results", fixedClock)
	for _, format := range model.ExportFormats() {
		_, err := r.Render(format, nil)
		require.Error(t, err, format)
		assert.Equal(t, apperr.KindEmptyInput, apperr.KindOf(err), format)
	}
}

func TestRender_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	r := NewRenderer("landcover_results", fixedClock)
	_, err := r.Render(model.ExportFormat("xml"), sampleResults())
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnsupportedFormat, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "csv, geojson, pdf")
}
