// Package export renders accumulated classification results into
// downloadable artifacts. Formatters are stateless pure functions over the
// result list; delivery of the bytes is the caller's concern.
package export

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/canopylabs/cropclass/internal/apperr"
	"github.com/canopylabs/cropclass/internal/model"
)

// Artifact is one rendered export, ready for delivery.
type Artifact struct {
	Bytes       []byte
	ContentType string
	Filename    string
}

// Renderer dispatches export requests to the per-format serializers.
type Renderer struct {
	prefix string
	now    func() time.Time
}

// NewRenderer creates a Renderer. Filenames are prefix + date + extension.
// A nil clock defaults to time.Now.
func NewRenderer(prefix string, now func() time.Time) *Renderer {
	if prefix == "" {
		prefix = "landcover_results"
	}
	if now == nil {
		now = time.Now
	}
	return &Renderer{prefix: prefix, now: now}
}

// Render produces one artifact for the given format. It fails with an
// unsupported-format kind for unknown formats and an empty-input kind for a
// zero-length result list; it never produces a malformed empty file.
func (r *Renderer) Render(format model.ExportFormat, results []*model.ClassificationResult) (*Artifact, error) {
	if _, err := model.ParseExportFormat(string(format)); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, apperr.New(apperr.KindEmptyInput, "no results to export")
	}

	date := r.now().UTC().Format("20060102")

	switch format {
	case model.FormatCSV:
		data := renderCSV(results)
		return &Artifact{
			Bytes:       data,
			ContentType: "text/csv; charset=utf-8",
			Filename:    r.prefix + "_" + date + ".csv",
		}, nil

	case model.FormatGeoJSON:
		data, err := renderGeoJSON(results)
		if err != nil {
			return nil, eris.Wrap(err, "export: render geojson")
		}
		return &Artifact{
			Bytes:       data,
			ContentType: "application/geo+json",
			Filename:    r.prefix + "_" + date + ".geojson",
		}, nil

	case model.FormatPDF:
		// The pdf format key is historical: the artifact is an HTML report.
		data, err := renderHTML(results, r.now().UTC())
		if err != nil {
			return nil, eris.Wrap(err, "export: render report")
		}
		return &Artifact{
			Bytes:       data,
			ContentType: "text/html; charset=utf-8",
			Filename:    r.prefix + "_" + date + ".html",
		}, nil

	default:
		return nil, apperr.Newf(apperr.KindUnsupportedFormat,
			"unsupported export format %q (allowed: csv, geojson, pdf)", format)
	}
}
