package layout

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallora-server/core"
)

func encodePNG(t *testing.T, w, h int, fill color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAnalyze_DecodesHeader(t *testing.T) {
	data := encodePNG(t, 300, 100, color.RGBA{R: 255, A: 255})

	a, err := Analyze(data)
	require.NoError(t, err)

	assert.Equal(t, "png", a.Format)
	assert.Equal(t, 300, a.PixelWidth)
	assert.Equal(t, 100, a.PixelHeight)
	assert.InDelta(t, 3.0, a.AspectRatio, 1e-9)
	assert.Equal(t, Horizontal, a.Placement)
	assert.Equal(t, RecommendedSize(len(data), 3), a.RecommendedSize)
	assert.Equal(t, []string{"#ff0000"}, a.DominantColors)
	assert.Equal(t, "low", a.Contrast)
	assert.Equal(t, 0.8, a.Confidence)
	assert.Len(t, a.Suggestions, 2)
}

func TestAnalyze_UnknownFormatFallsBack(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 4000)

	a, err := Analyze(data)
	require.NoError(t, err)

	assert.Empty(t, a.Format)
	assert.Equal(t, 1.0, a.AspectRatio)
	assert.Equal(t, Square, a.Placement)
	assert.Equal(t, Size{Width: 200, Height: 200}, a.RecommendedSize)
	assert.Equal(t, []string{"#FF6B6B", "#4ECDC4", "#45B7D1"}, a.DominantColors)
	assert.Equal(t, "medium", a.Brightness)
}

func TestAnalyze_LargeImageKeepsStockPalette(t *testing.T) {
	defer func(n int) { maxDecodePixels = n }(maxDecodePixels)
	maxDecodePixels = 100

	a, err := Analyze(encodePNG(t, 20, 10, color.RGBA{R: 255, A: 255}))
	require.NoError(t, err)

	assert.Equal(t, 20, a.PixelWidth)
	assert.InDelta(t, 2.0, a.AspectRatio, 1e-9)
	assert.Equal(t, []string{"#FF6B6B", "#4ECDC4", "#45B7D1"}, a.DominantColors)
	assert.Equal(t, "medium", a.Brightness)
}

func TestAnalyze_Empty(t *testing.T) {
	_, err := Analyze(nil)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestPlacementFor(t *testing.T) {
	assert.Equal(t, Horizontal, PlacementFor(1.6))
	assert.Equal(t, Square, PlacementFor(1.5))
	assert.Equal(t, Square, PlacementFor(0.7))
	assert.Equal(t, Vertical, PlacementFor(0.69))
}

func TestRecommendedSize(t *testing.T) {
	got := RecommendedSize(250000, 0.5)
	base := math.Sqrt(250) * 100
	assert.Equal(t, Size{Width: math.Round(base * 0.5), Height: math.Round(base)}, got)
}
