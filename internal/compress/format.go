package compress

import "strings"

type Format string

const (
	FormatAuto Format = "auto"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

// ParseFormat accepts the requested-format vocabulary. The empty string means auto.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, true
	case "jpeg", "jpg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	case "webp":
		return FormatWebP, true
	default:
		return "", false
	}
}

// FormatFromMIME maps a supported source MIME type to its format.
func FormatFromMIME(mimeType string) (Format, bool) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch mimeType {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return FormatJPEG, true
	case "image/png":
		return FormatPNG, true
	case "image/webp":
		return FormatWebP, true
	default:
		return "", false
	}
}

func (f Format) MIMEType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	case FormatPNG:
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

func (f Format) lossless() bool {
	return f == FormatPNG
}
