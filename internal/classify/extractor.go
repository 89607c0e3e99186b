package classify

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/tiff"

	"github.com/canopylabs/cropclass/internal/apperr"
	"github.com/canopylabs/cropclass/internal/model"
)

// Extractor derives a feature vector from an image reference. Extraction is
// deterministic: the same image always yields the same features.
//
// True NIR reflectance is not available from RGB tiles, so the green and
// blue channels stand in for the NIR band. This is a documented placeholder
// until multispectral input is wired; the index formulas themselves are the
// standard ones.
type Extractor struct {
	source ImageSource

	// groundResM is the assumed ground sample distance per pixel, meters.
	groundResM float64
}

// NewExtractor creates an Extractor reading images from source.
func NewExtractor(source ImageSource, groundResM float64) *Extractor {
	if groundResM <= 0 {
		groundResM = 10.0
	}
	return &Extractor{source: source, groundResM: groundResM}
}

// Extract resolves ref, decodes the image, and computes the feature vector.
func (e *Extractor) Extract(ctx context.Context, ref string) (model.FeatureVector, error) {
	rc, err := e.source.Open(ctx, ref)
	if err != nil {
		return model.FeatureVector{}, err
	}
	defer rc.Close()

	img, _, err := image.Decode(rc)
	if err != nil {
		return model.FeatureVector{}, apperr.Wrap(err, apperr.KindNotFound, "image "+ref+" is not readable image data")
	}

	return e.features(img), nil
}

// features computes band statistics and vegetation indices over all pixels.
func (e *Extractor) features(img image.Image) model.FeatureVector {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	n := float64(w * h)

	var sumRed, sumNIR, sumRedSq, sumNIRSq float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			red := float64(r) / 65535.0
			nir := (float64(g) + float64(b)) / 2 / 65535.0
			sumRed += red
			sumNIR += nir
			sumRedSq += red * red
			sumNIRSq += nir * nir
		}
	}

	meanRed := sumRed / n
	meanNIR := sumNIR / n
	stdRed := math.Sqrt(math.Max(0, sumRedSq/n-meanRed*meanRed))
	stdNIR := math.Sqrt(math.Max(0, sumNIRSq/n-meanNIR*meanNIR))

	// Blue band proxy for the EVI aerosol term.
	meanBlue := meanNIR

	ndvi := safeRatio(meanNIR-meanRed, meanNIR+meanRed)
	evi := clampIndex(2.5 * safeRatio(meanNIR-meanRed, meanNIR+6*meanRed-7.5*meanBlue+1))
	savi := clampIndex(1.5 * safeRatio(meanNIR-meanRed, meanNIR+meanRed+0.5))

	areaHa := float64(w) * float64(h) * e.groundResM * e.groundResM / 10_000

	return model.FeatureVector{
		NDVI:         ndvi,
		EVI:          evi,
		SAVI:         savi,
		MeanRed:      meanRed,
		MeanNIR:      meanNIR,
		StdRed:       stdRed,
		StdNIR:       stdNIR,
		AreaHectares: areaHa,
	}
}

func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// clampIndex keeps derived indices inside the [-1, 1] index domain.
func clampIndex(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
