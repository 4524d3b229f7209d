// Package sniff identifies image payloads by their magic bytes.
package sniff

import (
	"strings"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
)

// Unknown is returned when the payload matches no known signature.
const Unknown = "application/octet-stream"

// MIME returns the detected media type of data, or Unknown.
func MIME(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == types.Unknown {
		return Unknown
	}
	return kind.MIME.Value
}

// Resolve prefers the sniffed type and falls back to the declared one when
// the payload is unrecognised. Parameters on the declared type are dropped.
func Resolve(data []byte, declared string) string {
	if detected := MIME(data); detected != Unknown {
		return detected
	}
	declared = strings.TrimSpace(declared)
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared == "" {
		return Unknown
	}
	return strings.ToLower(declared)
}

// IsImage reports whether data carries an image signature.
func IsImage(data []byte) bool {
	return filetype.IsImage(data)
}
