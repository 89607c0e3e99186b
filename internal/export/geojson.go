package export

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/canopylabs/cropclass/internal/model"
)

// renderGeoJSON serializes results into a GeoJSON FeatureCollection: one
// Point feature per result, coordinates [lng, lat] ([0, 0] when absent),
// properties mirroring the CSV columns with numerics unquoted.
func renderGeoJSON(results []*model.ClassificationResult) ([]byte, error) {
	features := make([]*geojson.Feature, 0, len(results))

	for i, r := range results {
		lat, lng := 0.0, 0.0
		if r.Coordinates != nil {
			lat, lng = r.Coordinates.Lat, r.Coordinates.Lng
		}

		point := geom.NewPointFlat(geom.XY, []float64{lng, lat})
		features = append(features, &geojson.Feature{
			ID:       r.ID,
			Geometry: point,
			Properties: map[string]any{
				"id":                 i + 1,
				"predicted_class":    string(r.Outcome.Label),
				"confidence":         r.Outcome.Confidence,
				"confidence_level":   r.Level.Level,
				"recommended_action": r.Level.RecommendedAction,
				"ndvi":               r.Features.NDVI,
				"evi":                r.Features.EVI,
				"savi":               r.Features.SAVI,
				"area_ha":            r.Features.AreaHectares,
				"timestamp":          r.Timestamp.UTC().Format(time.RFC3339),
			},
		})
	}

	fc := &geojson.FeatureCollection{Features: features}
	data, err := json.Marshal(fc)
	if err != nil {
		return nil, eris.Wrap(err, "marshal feature collection")
	}
	return data, nil
}
