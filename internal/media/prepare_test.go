package media

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	return img
}

func noise(w, h int) *image.RGBA {
	rng := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestNewPreparer_Defaults(t *testing.T) {
	p := NewPreparer(0, -1)
	assert.Equal(t, DefaultMaxDimension, p.MaxDimension)
	assert.Equal(t, DefaultMaxBytes, p.MaxBytes)

	p = NewPreparer(800, 1024)
	assert.Equal(t, 800, p.MaxDimension)
	assert.Equal(t, 1024, p.MaxBytes)
}

func TestPrepare_SmallImagePassesThrough(t *testing.T) {
	data := encodePNG(t, gradient(64, 32))

	img, err := NewPreparer(1600, 1<<20).Prepare(data)
	require.NoError(t, err)

	assert.Equal(t, "image/png", img.MimeType)
	assert.Equal(t, 64, img.Width)
	assert.Equal(t, 32, img.Height)
	assert.False(t, img.Resized)
	assert.True(t, bytes.Equal(data, img.Data))
}

func TestPrepare_DownscalesOversizedJPEG(t *testing.T) {
	data := encodeJPEG(t, gradient(2000, 1000))

	img, err := NewPreparer(1600, 8<<20).Prepare(data)
	require.NoError(t, err)

	assert.True(t, img.Resized)
	assert.Equal(t, "image/jpeg", img.MimeType)
	assert.Equal(t, 1600, img.Width)
	assert.Equal(t, 800, img.Height)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(img.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 1600, cfg.Width)
}

func TestPrepare_PNGStaysPNG(t *testing.T) {
	data := encodePNG(t, gradient(300, 100))

	img, err := NewPreparer(150, 8<<20).Prepare(data)
	require.NoError(t, err)

	assert.True(t, img.Resized)
	assert.Equal(t, "image/png", img.MimeType)
	assert.Equal(t, 150, img.Width)
	assert.Equal(t, 50, img.Height)
}

func TestPrepare_GIFBecomesJPEG(t *testing.T) {
	src := image.NewPaletted(image.Rect(0, 0, 400, 40), color.Palette{color.Black, color.White})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, src, nil))

	img, err := NewPreparer(200, 8<<20).Prepare(buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, "image/jpeg", img.MimeType)
	assert.Equal(t, 200, img.Width)
	assert.Equal(t, 20, img.Height)
}

func TestPrepare_CannotFitByteLimit(t *testing.T) {
	data := encodePNG(t, noise(200, 200))

	_, err := NewPreparer(1600, 2048).Prepare(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestPrepare_Rejections(t *testing.T) {
	valid := encodePNG(t, gradient(8, 8))

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrEmpty},
		{"plain text", []byte("definitely not an image"), ErrUnsupported},
		{"pdf", []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n"), ErrUnsupported},
		{"truncated png", valid[:16], ErrUndecodable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPreparer(0, 0).Prepare(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("image/jpeg"))
	assert.True(t, IsSupported("image/webp"))
	assert.False(t, IsSupported("image/bmp"))
	assert.False(t, IsSupported("application/pdf"))
}
