package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/canopylabs/cropclass/internal/classify"
	"github.com/canopylabs/cropclass/internal/model"
	"github.com/canopylabs/cropclass/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "cropclass.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "memory":
		return store.NewMemory(nil), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// classLabels converts the configured label strings, falling back to the
// built-in set when none are configured.
func classLabels() []model.ClassLabel {
	if len(cfg.Classify.Labels) == 0 {
		return model.DefaultLabels()
	}
	labels := make([]model.ClassLabel, len(cfg.Classify.Labels))
	for i, l := range cfg.Classify.Labels {
		labels[i] = model.ClassLabel(l)
	}
	return labels
}

// buildPipeline assembles the classification pipeline over the given image
// source.
func buildPipeline(source classify.ImageSource) (*classify.Pipeline, error) {
	tiers, err := cfg.Classify.Tiers()
	if err != nil {
		return nil, err
	}
	table, err := classify.NewTierTable(tiers)
	if err != nil {
		return nil, err
	}

	extractor := classify.NewExtractor(source, cfg.Classify.GroundResolutionM)
	predictor := classify.NewPredictor(cfg.Classify.Bands, classLabels())

	return classify.NewPipeline(extractor, predictor, table, nil), nil
}
