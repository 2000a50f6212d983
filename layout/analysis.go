package layout

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"wallora-server/core"
)

type (
	Orientation string

	// Analysis is a coarse description of an uploaded image used to seed
	// layout inputs.
	Analysis struct {
		Format          string      `json:"format,omitempty"`
		PixelWidth      int         `json:"pixelWidth,omitempty"`
		PixelHeight     int         `json:"pixelHeight,omitempty"`
		AspectRatio     float64     `json:"aspectRatio"`
		DominantColors  []string    `json:"dominantColors"`
		Brightness      string      `json:"brightness"`
		Contrast        string      `json:"contrast"`
		RecommendedSize Size        `json:"recommendedSize"`
		Placement       Orientation `json:"placement"`
		Confidence      float64     `json:"confidence"`
		Suggestions     []string    `json:"suggestions"`
	}
)

const (
	Horizontal Orientation = "horizontal"
	Vertical   Orientation = "vertical"
	Square     Orientation = "square"

	analysisConfidence = 0.8
	paletteSamples     = 4096
)

// maxDecodePixels caps the images decoded for the palette. Larger images
// keep the stock palette.
var maxDecodePixels = 4096 * 4096

var (
	stockColors      = []string{"#FF6B6B", "#4ECDC4", "#45B7D1"}
	stockSuggestions = []string{
		"Try using a contrasting background for better visibility.",
		"Consider resizing for optimal fit.",
	}
)

// Analyze sizes an image from its byte length and its aspect ratio. The
// aspect ratio is read from the image header when the format is known and
// defaults to 1 otherwise. Unknown formats are not an error.
func Analyze(data []byte) (Analysis, error) {
	if len(data) == 0 {
		return Analysis{}, fmt.Errorf("%w: empty image", core.ErrInvalidArgument)
	}

	a := Analysis{
		AspectRatio:    1,
		DominantColors: stockColors,
		Brightness:     "medium",
		Contrast:       "normal",
		Confidence:     analysisConfidence,
		Suggestions:    append([]string(nil), stockSuggestions...),
	}

	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil && cfg.Width > 0 && cfg.Height > 0 {
		a.Format = format
		a.PixelWidth, a.PixelHeight = cfg.Width, cfg.Height
		a.AspectRatio = float64(cfg.Width) / float64(cfg.Height)

		if cfg.Width <= maxDecodePixels/cfg.Height {
			if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
				a.DominantColors, a.Brightness, a.Contrast = palette(img)
			}
		}
	}

	a.RecommendedSize = RecommendedSize(len(data), a.AspectRatio)
	a.Placement = PlacementFor(a.AspectRatio)
	return a, nil
}

// RecommendedSize grows with the square root of the file size.
func RecommendedSize(byteLen int, aspect float64) Size {
	base := math.Sqrt(float64(byteLen)/1000) * 100
	return Size{Width: math.Round(base * aspect), Height: math.Round(base)}
}

func PlacementFor(aspect float64) Orientation {
	switch {
	case aspect > 1.5:
		return Horizontal
	case aspect < 0.7:
		return Vertical
	default:
		return Square
	}
}

// palette samples the image on a regular grid and reports the three most
// frequent coarse colors together with brightness and contrast labels
// derived from CIE L*.
func palette(img image.Image) ([]string, string, string) {
	b := img.Bounds()
	if b.Empty() {
		return stockColors, "medium", "normal"
	}
	step := int(math.Max(1, math.Sqrt(float64(b.Dx()*b.Dy())/paletteSamples)))

	buckets := map[uint16]int{}
	sums := map[uint16][3]float64{}
	var lSum, lSq float64
	var count int

	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			c, ok := colorful.MakeColor(img.At(x, y))
			if !ok {
				continue
			}
			l, _, _ := c.Lab()
			lSum += l
			lSq += l * l
			count++

			r, g, bl := c.RGB255()
			key := uint16(r>>4)<<8 | uint16(g>>4)<<4 | uint16(bl>>4)
			buckets[key]++
			s := sums[key]
			sums[key] = [3]float64{s[0] + c.R, s[1] + c.G, s[2] + c.B}
		}
	}
	if count == 0 {
		return stockColors, "medium", "normal"
	}

	keys := make([]uint16, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if buckets[keys[i]] != buckets[keys[j]] {
			return buckets[keys[i]] > buckets[keys[j]]
		}
		return keys[i] < keys[j]
	})

	colors := make([]string, 0, 3)
	for _, k := range keys {
		if len(colors) == 3 {
			break
		}
		n := float64(buckets[k])
		s := sums[k]
		colors = append(colors, colorful.Color{R: s[0] / n, G: s[1] / n, B: s[2] / n}.Clamped().Hex())
	}

	mean := lSum / float64(count)
	stddev := math.Sqrt(math.Max(0, lSq/float64(count)-mean*mean))

	brightness := "medium"
	switch {
	case mean < 0.35:
		brightness = "dark"
	case mean > 0.7:
		brightness = "bright"
	}
	contrast := "normal"
	switch {
	case stddev < 0.1:
		contrast = "low"
	case stddev > 0.3:
		contrast = "high"
	}
	return colors, brightness, contrast
}
