// Package thumbnail renders a small PNG preview of a wall for session lists.
//
// The preview is schematic: items are drawn as their image (when the source
// is an inline data URI) or as a placeholder box, outlined with their frame
// and border colors. Shapes and filters are not applied.
package thumbnail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"wallora-server/wall"
)

const DefaultWidth = 320

// maxSourcePixels bounds the inline images decoded for a preview. Larger
// images are drawn as placeholders.
var maxSourcePixels = 4096 * 4096

var (
	imageBackdrop = color.NRGBA{R: 0xd9, G: 0xd9, B: 0xd9, A: 0xff}
	placeholder   = color.NRGBA{R: 0xb0, G: 0xb8, B: 0xc4, A: 0xff}
)

// Render draws the wall scaled down to fit a maxWidth square and returns it
// PNG encoded. A non-positive maxWidth uses DefaultWidth.
func Render(w *wall.Wall, maxWidth int) ([]byte, error) {
	if maxWidth <= 0 {
		maxWidth = DefaultWidth
	}
	size := w.Size()
	limit := float64(maxWidth)
	scale := math.Min(1, math.Min(limit/float64(size.Width), limit/float64(size.Height)))
	bounds := image.Rect(0, 0, scaled(float64(size.Width), scale, 1), scaled(float64(size.Height), scale, 1))

	canvas := image.NewNRGBA(bounds)
	draw.Draw(canvas, bounds, image.NewUniform(backgroundColor(w)), image.Point{}, draw.Src)

	for _, it := range w.Items() {
		r := image.Rect(
			int(math.Round(it.Position.X*scale)),
			int(math.Round(it.Position.Y*scale)),
			int(math.Round((it.Position.X+it.Size.Width)*scale)),
			int(math.Round((it.Position.Y+it.Size.Height)*scale)),
		)
		if r.Empty() {
			continue
		}
		drawContent(canvas, r, it)

		if it.Frame.Type != wall.FrameNone && it.Frame.Width > 0 {
			if c, err := wall.ParseColor(it.Frame.Color); err == nil {
				stroke(canvas, r, scaled(it.Frame.Width, scale, 1), c)
			}
		}
		if it.Border.Width > 0 {
			if c, err := wall.ParseColor(it.Border.Color); err == nil {
				stroke(canvas, r, scaled(it.Border.Width, scale, 1), c)
			}
		}
	}

	if b := w.Border(); b.Width > 0 {
		if c, err := wall.ParseColor(b.Color); err == nil {
			stroke(canvas, bounds, scaled(b.Width, scale, 1), c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func backgroundColor(w *wall.Wall) color.Color {
	bg := w.Background()
	if bg.Image != nil {
		return imageBackdrop
	}
	c, err := wall.ParseColor(bg.Color)
	if err != nil {
		return color.White
	}
	return c
}

func drawContent(dst draw.Image, r image.Rectangle, it wall.Item) {
	src, err := decodeDataURI(it.Content.Source())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"item_id": it.ID,
			"error":   err,
		}).Debug("Drawing placeholder for item")
		draw.Draw(dst, r, image.NewUniform(placeholder), image.Point{}, draw.Over)
		return
	}
	draw.ApproxBiLinear.Scale(dst, r, src, src.Bounds(), draw.Over, nil)
}

func decodeDataURI(src string) (image.Image, error) {
	if !strings.HasPrefix(src, "data:image/") {
		return nil, fmt.Errorf("not an inline image")
	}
	meta, payload, ok := strings.Cut(src, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("unsupported data uri")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data uri: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxSourcePixels/cfg.Height {
		return nil, fmt.Errorf("image of %dx%d pixels is too large", cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// stroke draws an inner outline of the given width along r.
func stroke(dst draw.Image, r image.Rectangle, width int, c color.Color) {
	u := image.NewUniform(c)
	width = min(width, r.Dx()/2+1, r.Dy()/2+1)
	for _, edge := range []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	} {
		draw.Draw(dst, edge, u, image.Point{}, draw.Over)
	}
}

func scaled(v, scale float64, floor int) int {
	return max(floor, int(math.Round(v*scale)))
}
