package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/canopylabs/cropclass/internal/classify"
	"github.com/canopylabs/cropclass/internal/model"
)

var (
	batchOut         string
	batchConcurrency int
	batchSave        bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <directory>",
	Short: "Classify every image in a directory and write a summary CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		paths, err := listImages(args[0], cfg.Upload.AllowedExtensions)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return eris.Errorf("no images found in %s", args[0])
		}

		pipeline, err := buildPipeline(classify.FileSource{})
		if err != nil {
			return err
		}

		zap.L().Info("starting batch classification",
			zap.Int("images", len(paths)),
			zap.Int("concurrency", batchConcurrency))

		rows := make([]*batchRow, len(paths))
		results := make([]*model.ClassificationResult, len(paths))
		var mu sync.Mutex

		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(batchConcurrency)
		for i, path := range paths {
			g.Go(func() error {
				result, err := pipeline.Run(ctx, path, nil)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					zap.L().Warn("classification failed",
						zap.String("image", path),
						zap.Error(err))
					rows[i] = &batchRow{Image: path, Error: err.Error()}
					return nil
				}
				rows[i] = newBatchRow(path, result)
				results[i] = result
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if batchSave {
			if err := saveBatch(cmd, results); err != nil {
				return err
			}
		}

		return writeSummary(batchOut, rows)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchOut, "out", "batch_summary.csv", "summary CSV path")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 4, "max concurrent classifications")
	batchCmd.Flags().BoolVar(&batchSave, "save", false, "persist results to a new session in the store")
	rootCmd.AddCommand(batchCmd)
}

// batchRow is one summary line. Failed images keep their row with the error
// recorded so the summary always covers every input.
type batchRow struct {
	Image            string  `csv:"image"`
	PredictedClass   string  `csv:"predicted_class"`
	Confidence       float64 `csv:"confidence"`
	ConfidenceLevel  int     `csv:"confidence_level"`
	ConfidenceLabel  string  `csv:"confidence_label"`
	NDVI             float64 `csv:"ndvi"`
	EVI              float64 `csv:"evi"`
	SAVI             float64 `csv:"savi"`
	AreaHectares     float64 `csv:"area_ha"`
	ProcessingTimeMs int64   `csv:"processing_ms"`
	Error            string  `csv:"error"`
}

func newBatchRow(path string, r *model.ClassificationResult) *batchRow {
	return &batchRow{
		Image:            path,
		PredictedClass:   string(r.Outcome.Label),
		Confidence:       r.Outcome.Confidence,
		ConfidenceLevel:  r.Level.Level,
		ConfidenceLabel:  r.Level.Label,
		NDVI:             r.Features.NDVI,
		EVI:              r.Features.EVI,
		SAVI:             r.Features.SAVI,
		AreaHectares:     r.Features.AreaHectares,
		ProcessingTimeMs: r.ProcessingTimeMs,
	}
}

// listImages collects files under dir whose extension is allowed, sorted for
// stable output.
func listImages(dir string, allowedExts []string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		for _, allowed := range allowedExts {
			if ext == allowed {
				paths = append(paths, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "walk %s", dir)
	}
	sort.Strings(paths)
	return paths, nil
}

// bulkAppender is the optional bulk-insert capability a store may offer
// beyond the Store interface. The postgres driver implements it via COPY.
type bulkAppender interface {
	AppendResults(ctx context.Context, sessionID string, results []*model.ClassificationResult) error
}

// saveBatch persists the successful results into a fresh session, taking the
// bulk path when the store supports it.
func saveBatch(cmd *cobra.Command, results []*model.ClassificationResult) error {
	ctx := cmd.Context()

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return eris.Wrap(err, "migrate store")
	}

	session, err := st.CreateSession(ctx)
	if err != nil {
		return eris.Wrap(err, "create session")
	}

	batch := make([]*model.ClassificationResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			batch = append(batch, r)
		}
	}

	if ba, ok := st.(bulkAppender); ok {
		if err := ba.AppendResults(ctx, session.ID, batch); err != nil {
			return eris.Wrap(err, "append results")
		}
	} else {
		for _, r := range batch {
			if err := st.AppendResult(ctx, session.ID, r); err != nil {
				return eris.Wrapf(err, "append result %s", r.ID)
			}
		}
	}

	zap.L().Info("batch results saved",
		zap.String("session_id", session.ID),
		zap.Int("results", len(batch)))
	cmd.Println("session:", session.ID)
	return nil
}

func writeSummary(path string, rows []*batchRow) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return eris.Wrap(err, "write summary csv")
	}

	zap.L().Info("batch summary written",
		zap.String("path", path),
		zap.Int("rows", len(rows)))
	return nil
}
