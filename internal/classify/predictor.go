package classify

import (
	"math"

	"github.com/canopylabs/cropclass/internal/config"
	"github.com/canopylabs/cropclass/internal/model"
)

// Decision thresholds for the vegetation-index policy.
const (
	denseNDVI = 0.8
	midNDVI   = 0.6
	forestEVI = 0.9
	palmSAVI  = 0.7
)

// offClassScore scales the residual confidence shared by non-winning labels.
// Probabilities are relative scores, not a distribution, so they are not
// normalized to sum to 1.
const offClassScore = 0.5

// Predictor maps a feature vector to a label, confidence, and per-class
// scores. The branch structure is fixed; confidence is a deterministic
// function of the margin between the features and the governing thresholds,
// scaled into the branch's configured band. This is a documented heuristic
// placeholder behind the same contract a trained model would implement.
type Predictor struct {
	bands  config.BandConfig
	labels []model.ClassLabel
}

// NewPredictor creates a Predictor with the given bands and label set. An
// empty label set falls back to the built-in labels.
func NewPredictor(bands config.BandConfig, labels []model.ClassLabel) *Predictor {
	if len(labels) == 0 {
		labels = model.DefaultLabels()
	}
	return &Predictor{bands: bands, labels: labels}
}

// Predict classifies a feature vector. Features outside their declared
// domains fail with an invalid-feature kind.
func (p *Predictor) Predict(f model.FeatureVector) (model.PredictionOutcome, error) {
	if err := f.Validate(); err != nil {
		return model.PredictionOutcome{}, err
	}

	var (
		label  model.ClassLabel
		band   config.Band
		margin float64
	)

	switch {
	case f.NDVI > denseNDVI:
		// Dense vegetation: forest when EVI confirms a closed canopy,
		// otherwise oil palm.
		if f.EVI > forestEVI {
			label = model.LabelForest
			band = p.bands.Forest
			margin = math.Min(unitMargin(f.NDVI, denseNDVI, 1), unitMargin(f.EVI, forestEVI, 1))
		} else {
			label = model.LabelOilPalm
			band = p.bands.DensePalm
			margin = math.Min(unitMargin(f.NDVI, denseNDVI, 1), unitMargin(forestEVI-f.EVI, 0, forestEVI))
		}
	case f.NDVI > midNDVI:
		// Mid vegetation: SAVI separates plantation rows from cacao shade.
		if f.SAVI > palmSAVI {
			label = model.LabelOilPalm
			band = p.bands.MidPalm
			margin = math.Min(unitMargin(f.NDVI, midNDVI, denseNDVI), unitMargin(f.SAVI, palmSAVI, 1))
		} else {
			label = model.LabelCacao
			band = p.bands.MidCacao
			margin = math.Min(unitMargin(f.NDVI, midNDVI, denseNDVI), unitMargin(palmSAVI-f.SAVI, 0, palmSAVI))
		}
	default:
		// Sparse vegetation classifies as cacao unconditionally, with
		// confidence falling as NDVI approaches the decision boundary.
		label = model.LabelCacao
		band = p.bands.SparseCacao
		margin = unitMargin(midNDVI-f.NDVI, 0, midNDVI+1)
	}

	confidence := band.Low + margin*(band.High-band.Low)

	probs := make(map[model.ClassLabel]float64, len(p.labels))
	for _, l := range p.labels {
		if l == label {
			probs[l] = confidence
		} else {
			probs[l] = round4((1 - confidence) * offClassScore)
		}
	}

	return model.PredictionOutcome{
		Label:         label,
		Confidence:    confidence,
		Probabilities: probs,
	}, nil
}

// unitMargin maps v's position in [lo, hi] to [0, 1], clamped.
func unitMargin(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	return math.Max(0, math.Min(1, (v-lo)/(hi-lo)))
}

func round4(v float64) float64 {
	return math.Round(v*10_000) / 10_000
}
