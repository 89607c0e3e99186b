package classify

import (
	"context"
	"io"
	"os"

	"github.com/canopylabs/cropclass/internal/apperr"
)

// ImageSource resolves an image reference to readable image bytes. The HTTP
// layer backs this with the upload store; the CLI backs it with the
// filesystem.
type ImageSource interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// FileSource resolves references as filesystem paths.
type FileSource struct{}

// Open opens the referenced file. Missing files map to a not-found kind so
// callers can distinguish bad references from real failures.
func (FileSource) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	f, err := os.Open(ref)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Newf(apperr.KindNotFound, "image %s not found", ref)
		}
		return nil, apperr.Wrap(err, apperr.KindNotFound, "open image "+ref)
	}
	return f, nil
}
