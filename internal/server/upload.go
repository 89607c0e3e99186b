package server

import (
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/canopylabs/cropclass/internal/apperr"
	"github.com/canopylabs/cropclass/internal/config"
)

// validateUpload checks a multipart file header against the configured
// upload constraints before any bytes are read.
func validateUpload(header *multipart.FileHeader, cfg config.UploadConfig) error {
	if header.Size > cfg.MaxBytes {
		return apperr.Newf(apperr.KindInvalidUpload,
			"file %s exceeds the %d MiB size limit", header.Filename, cfg.MaxBytes>>20)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !contains(cfg.AllowedExtensions, ext) {
		return apperr.Newf(apperr.KindInvalidUpload,
			"extension %q not allowed (allowed: %s)", ext, strings.Join(cfg.AllowedExtensions, ", "))
	}

	mimeType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if !contains(cfg.AllowedMIMETypes, mimeType) {
		return apperr.Newf(apperr.KindInvalidUpload,
			"content type %q not allowed (allowed: %s)", mimeType, strings.Join(cfg.AllowedMIMETypes, ", "))
	}

	return nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
