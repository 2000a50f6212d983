package wall

import (
	"fmt"
	"image/color"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"wallora-server/core"
)

var (
	rgbFunc = regexp.MustCompile(`^rgba?\(\s*\d{1,3}\s*,\s*\d{1,3}\s*,\s*\d{1,3}\s*(,\s*(0(\.\d+)?|1(\.0+)?|\.\d+)\s*)?\)$`)
	rgbArgs = regexp.MustCompile(`\d*\.?\d+`)
)

// IsColor reports whether s is a color the renderer understands: #rgb,
// #rrggbb, rgb(), rgba() or transparent.
func IsColor(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case s == "transparent":
		return true
	case strings.HasPrefix(s, "#"):
		if len(s) != 4 && len(s) != 7 {
			return false
		}
		_, err := colorful.Hex(s)
		return err == nil
	default:
		return rgbFunc.MatchString(s)
	}
}

func ValidateColor(s string) error {
	if !IsColor(s) {
		return fmt.Errorf("%w: invalid color %q", core.ErrInvalidArgument, s)
	}
	return nil
}

// ParseColor converts a color string accepted by IsColor to RGBA.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if !IsColor(s) {
		return color.NRGBA{}, fmt.Errorf("%w: invalid color %q", core.ErrInvalidArgument, s)
	}
	switch {
	case s == "transparent":
		return color.NRGBA{}, nil
	case strings.HasPrefix(s, "#"):
		c, err := colorful.Hex(s)
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
		}
		r, g, b := c.Clamped().RGB255()
		return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
	}

	m := rgbArgs.FindAllString(s, -1)
	out := color.NRGBA{A: 255}
	for i, dst := range []*uint8{&out.R, &out.G, &out.B} {
		v, _ := strconv.Atoi(m[i])
		*dst = uint8(min(v, 255))
	}
	if len(m) == 4 {
		a, _ := strconv.ParseFloat(m[3], 64)
		out.A = uint8(a*255 + 0.5)
	}
	return out, nil
}
