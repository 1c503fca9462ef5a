// Package media prepares uploaded images for inference providers: it sniffs
// the real content type and downsizes images that exceed the configured
// dimension or byte limits.
package media

import (
	"errors"

	"github.com/gabriel-vasile/mimetype"
)

// Defaults for Preparer limits
const (
	DefaultMaxDimension = 1600            // Max width or height in pixels
	DefaultMaxBytes     = 4 * 1024 * 1024 // 4MB per image after preparation
	DefaultQuality      = 85              // Starting JPEG quality
)

var (
	// ErrUnsupported is returned for content that is not an accepted image type
	ErrUnsupported = errors.New("unsupported image type")

	// ErrUndecodable is returned when an accepted type fails to decode
	ErrUndecodable = errors.New("image could not be decoded")

	// ErrTooLarge is returned when no re-encoding fits within the byte limit
	ErrTooLarge = errors.New("image could not be reduced below the size limit")

	// ErrEmpty is returned for zero-length input
	ErrEmpty = errors.New("image is empty")
)

// SupportedMIMETypes lists the accepted image types
var SupportedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Image is a prepared attachment.
type Image struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
	Resized  bool
}

// DetectMIME sniffs the MIME type of data from its content
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// IsSupported returns true if the MIME type is an accepted image type
func IsSupported(mimeType string) bool {
	return SupportedMIMETypes[mimeType]
}
