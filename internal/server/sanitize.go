package server

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxFilenameLen = 128

// SanitizeFilename normalizes a client-supplied filename to a safe basename:
// NFKC normalization, path components stripped, control and path characters
// replaced, length capped. Never returns an empty string.
func SanitizeFilename(name string) string {
	name = norm.NFKC.String(name)
	name = filepath.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsControl(r):
			// drop
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.TrimSpace(b.String())
	out = strings.TrimLeft(out, ".")
	if len(out) > maxFilenameLen {
		ext := filepath.Ext(out)
		if len(ext) >= maxFilenameLen {
			// The extension alone blows the cap; keep nothing special.
			out = out[:maxFilenameLen]
		} else {
			out = out[:maxFilenameLen-len(ext)] + ext
		}
	}
	if out == "" {
		return "upload"
	}
	return out
}

// SanitizeID keeps only the characters valid in UUIDs and similar opaque
// identifiers, bounding the length. Used on client-supplied session and
// image references before they reach the store.
func SanitizeID(id string) string {
	id = strings.TrimSpace(id)
	var b strings.Builder
	for _, r := range id {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
		if b.Len() >= 64 {
			break
		}
	}
	return b.String()
}
