package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	// Register decoders for image.Decode
	_ "image/gif"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// JPEG qualities tried in order when the first encoding is still too large
var qualityLevels = []int{DefaultQuality, 75, 65, 55}

// Fractions of the dimension limit tried in order after the quality ladder
var scaleSteps = []float64{1, 0.8, 0.6, 0.45}

// Preparer normalizes images against size limits.
type Preparer struct {
	MaxDimension int
	MaxBytes     int
}

// NewPreparer returns a Preparer; non-positive limits fall back to the defaults.
func NewPreparer(maxDimension, maxBytes int) *Preparer {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Preparer{MaxDimension: maxDimension, MaxBytes: maxBytes}
}

// Prepare validates data and, when it exceeds a limit, downsizes it with
// Lanczos resampling and re-encodes it. Images within limits are returned
// byte-for-byte unchanged.
func (p *Preparer) Prepare(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	mimeType := DetectMIME(data)
	if !IsSupported(mimeType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}

	// Dimensions first, so oversized but small files skip a full decode
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	if cfg.Width <= p.MaxDimension && cfg.Height <= p.MaxDimension && len(data) <= p.MaxBytes {
		return &Image{
			Data:     data,
			MimeType: mimeType,
			Width:    cfg.Width,
			Height:   cfg.Height,
		}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	return p.shrink(img, mimeType)
}

// shrink walks the scale steps, and for JPEG output the quality ladder at
// each step, returning the first encoding within MaxBytes.
func (p *Preparer) shrink(img image.Image, mimeType string) (*Image, error) {
	asPNG := mimeType == "image/png"
	smallest := 0

	for _, step := range scaleSteps {
		target := int(float64(p.MaxDimension) * step)
		if target < 1 {
			target = 1
		}

		resized := img
		bounds := img.Bounds()
		if bounds.Dx() > target || bounds.Dy() > target {
			resized = imaging.Fit(img, target, target, imaging.Lanczos)
		}

		qualities := qualityLevels
		if asPNG {
			qualities = qualityLevels[:1]
		}

		for _, quality := range qualities {
			encoded, outType, err := encode(resized, asPNG, quality)
			if err != nil {
				return nil, fmt.Errorf("failed to encode image: %w", err)
			}

			if len(encoded) <= p.MaxBytes {
				rb := resized.Bounds()
				return &Image{
					Data:     encoded,
					MimeType: outType,
					Width:    rb.Dx(),
					Height:   rb.Dy(),
					Resized:  true,
				}, nil
			}
			if smallest == 0 || len(encoded) < smallest {
				smallest = len(encoded)
			}
		}
	}

	return nil, fmt.Errorf("%w: %d bytes at best, limit %d", ErrTooLarge, smallest, p.MaxBytes)
}

// encode writes PNG for PNG input and JPEG for everything else; the webp
// package is decode-only.
func encode(img image.Image, asPNG bool, quality int) ([]byte, string, error) {
	var buf bytes.Buffer

	if asPNG {
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err := enc.Encode(&buf, img)
		return buf.Bytes(), "image/png", err
	}

	err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	return buf.Bytes(), "image/jpeg", err
}
