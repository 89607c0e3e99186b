package model

import (
	"time"

	"github.com/canopylabs/cropclass/internal/apperr"
)

// ClassLabel is a land-cover class. The set of valid labels is configuration,
// not a closed language type; new labels must not require predictor changes.
type ClassLabel string

const (
	LabelOilPalm ClassLabel = "oil_palm"
	LabelCacao   ClassLabel = "cacao"
	LabelForest  ClassLabel = "forest"
)

// DefaultLabels returns the built-in label set.
func DefaultLabels() []ClassLabel {
	return []ClassLabel{LabelOilPalm, LabelCacao, LabelForest}
}

// FeatureVector holds the fixed-shape features derived from one image.
// Created once per classification request and never mutated.
type FeatureVector struct {
	NDVI         float64 `json:"ndvi"`
	EVI          float64 `json:"evi"`
	SAVI         float64 `json:"savi"`
	MeanRed      float64 `json:"mean_red"`
	MeanNIR      float64 `json:"mean_nir"`
	StdRed       float64 `json:"std_red"`
	StdNIR       float64 `json:"std_nir"`
	AreaHectares float64 `json:"area_hectares"`
}

// Validate checks every feature against its declared domain.
func (f FeatureVector) Validate() error {
	for _, idx := range []struct {
		name  string
		value float64
	}{
		{"ndvi", f.NDVI},
		{"evi", f.EVI},
		{"savi", f.SAVI},
	} {
		if idx.value < -1 || idx.value > 1 {
			return apperr.Newf(apperr.KindInvalidFeature, "%s %.4f outside [-1, 1]", idx.name, idx.value)
		}
	}
	if f.MeanRed < 0 || f.MeanNIR < 0 {
		return apperr.Newf(apperr.KindInvalidFeature, "negative band mean (red %.4f, nir %.4f)", f.MeanRed, f.MeanNIR)
	}
	if f.StdRed < 0 || f.StdNIR < 0 {
		return apperr.Newf(apperr.KindInvalidFeature, "negative band std dev (red %.4f, nir %.4f)", f.StdRed, f.StdNIR)
	}
	if f.AreaHectares <= 0 {
		return apperr.Newf(apperr.KindInvalidFeature, "area %.4f ha must be positive", f.AreaHectares)
	}
	return nil
}

// PredictionOutcome is the predictor's output for one feature vector.
//
// Probabilities are relative per-class scores, not a probability simplex:
// they are not normalized to sum to 1. The winning label's entry always
// equals Confidence.
type PredictionOutcome struct {
	Label         ClassLabel             `json:"label"`
	Confidence    float64                `json:"confidence"`
	Probabilities map[ClassLabel]float64 `json:"probabilities"`
}

// ConfidenceLevel is one tier of the confidence grading table. Threshold is
// the inclusive lower bound of the tier.
type ConfidenceLevel struct {
	Level             int     `json:"level" yaml:"level"`
	Threshold         float64 `json:"threshold" yaml:"threshold"`
	Label             string  `json:"label" yaml:"label"`
	RecommendedAction string  `json:"recommended_action" yaml:"action"`
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks the coordinate ranges.
func (c Coordinates) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return apperr.Newf(apperr.KindDomain, "latitude %.6f outside [-90, 90]", c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return apperr.Newf(apperr.KindDomain, "longitude %.6f outside [-180, 180]", c.Lng)
	}
	return nil
}

// ClassificationResult is one finalized classification outcome, immutable
// after assembly.
type ClassificationResult struct {
	ID               string            `json:"id"`
	Features         FeatureVector     `json:"features"`
	Outcome          PredictionOutcome `json:"outcome"`
	Level            ConfidenceLevel   `json:"confidence_level"`
	Coordinates      *Coordinates      `json:"coordinates,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
}

// Session groups results accumulated by one caller.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Upload is a stored image pending classification. Data is kept until
// ExpiresAt and then swept.
type Upload struct {
	Ref       string    `json:"ref"`
	Filename  string    `json:"filename"`
	MIMEType  string    `json:"mime_type"`
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
