package classify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/canopylabs/cropclass/internal/model"
)

// Assemble combines the stage outputs and request metadata into one result
// record. Pure field copying plus timestamping; no computation.
func Assemble(
	features model.FeatureVector,
	outcome model.PredictionOutcome,
	level model.ConfidenceLevel,
	coords *model.Coordinates,
	now time.Time,
	elapsed time.Duration,
) *model.ClassificationResult {
	return &model.ClassificationResult{
		ID:               uuid.NewString(),
		Features:         features,
		Outcome:          outcome,
		Level:            level,
		Coordinates:      coords,
		Timestamp:        now,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
}

// Pipeline runs extract, predict, grade, and assemble for one image.
// Every stage is synchronous and pure; a classification either fully
// succeeds with one result or fully fails with one error.
type Pipeline struct {
	extractor *Extractor
	predictor *Predictor
	tiers     *TierTable
	clock     func() time.Time
}

// NewPipeline wires the pipeline stages. A nil clock defaults to time.Now.
func NewPipeline(extractor *Extractor, predictor *Predictor, tiers *TierTable, clock func() time.Time) *Pipeline {
	if clock == nil {
		clock = time.Now
	}
	return &Pipeline{
		extractor: extractor,
		predictor: predictor,
		tiers:     tiers,
		clock:     clock,
	}
}

// Run classifies the referenced image and returns one result record.
func (p *Pipeline) Run(ctx context.Context, ref string, coords *model.Coordinates) (*model.ClassificationResult, error) {
	if coords != nil {
		if err := coords.Validate(); err != nil {
			return nil, err
		}
	}

	start := p.clock()

	features, err := p.extractor.Extract(ctx, ref)
	if err != nil {
		return nil, err
	}

	outcome, err := p.predictor.Predict(features)
	if err != nil {
		return nil, err
	}

	level, err := p.tiers.Grade(outcome.Confidence)
	if err != nil {
		return nil, err
	}

	now := p.clock()
	return Assemble(features, outcome, level, coords, now, now.Sub(start)), nil
}

// TierTable exposes the pipeline's configured tier table.
func (p *Pipeline) TierTable() *TierTable {
	return p.tiers
}
