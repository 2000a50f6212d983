// Package wall holds the in-memory state of one wall and the items placed on
// it. A Wall is owned by a single caller at a time and is not safe for
// concurrent mutation.
package wall

import (
	"fmt"

	"wallora-server/core"
)

type (
	// Size is the wall surface in pixels.
	Size struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}

	// Fill is how a background image covers the wall.
	Fill string

	// BackgroundOption is a selectable wall background, either preset or
	// uploaded by the user.
	BackgroundOption struct {
		Name  string `json:"name"`
		Value string `json:"value"`
		Fill  Fill   `json:"backgroundSize"`
	}

	// Background is the active wall background. Exactly one of Color and
	// Image is set.
	Background struct {
		Color string
		Image *BackgroundOption
	}

	BorderStyle string

	Border struct {
		Width  float64     `json:"width"`
		Color  string      `json:"color"`
		Style  BorderStyle `json:"style"`
		Radius float64     `json:"radius"`
	}

	Orientation string

	Wall struct {
		size   Size
		color  string
		image  *BackgroundOption
		border Border
		custom []BackgroundOption
		items  []Item
	}
)

const (
	FillCover Fill = "cover"
	FillAuto  Fill = "auto"

	BorderSolid  BorderStyle = "solid"
	BorderDashed BorderStyle = "dashed"
	BorderDotted BorderStyle = "dotted"
	BorderDouble BorderStyle = "double"

	Landscape Orientation = "landscape"
	Portrait  Orientation = "portrait"

	DefaultColor = "#ffffff"
)

var (
	DefaultSize   = Size{Width: 600, Height: 400}
	DefaultBorder = Border{Width: 0, Color: "#000000", Style: BorderSolid, Radius: 0}
)

// New returns a wall with the default size, a white background and no border.
func New() *Wall {
	return &Wall{
		size:   DefaultSize,
		color:  DefaultColor,
		border: DefaultBorder,
	}
}

func (w *Wall) Size() Size { return w.size }

// Color is the wall color. It stays remembered while an image background is
// active.
func (w *Wall) Color() string { return w.color }

func (w *Wall) Border() Border { return w.border }

// Background returns the active background.
func (w *Wall) Background() Background {
	if w.image != nil {
		img := *w.image
		return Background{Image: &img}
	}
	return Background{Color: w.color}
}

// CustomBackgrounds returns the user-uploaded background catalogue.
func (w *Wall) CustomBackgrounds() []BackgroundOption {
	out := make([]BackgroundOption, len(w.custom))
	copy(out, w.custom)
	return out
}

// Orientation is landscape unless the wall is taller than it is wide.
func (w *Wall) Orientation() Orientation {
	if w.size.Width >= w.size.Height {
		return Landscape
	}
	return Portrait
}

func (w *Wall) SetSize(size Size) error {
	if size.Width <= 0 || size.Height <= 0 {
		return fmt.Errorf("%w: wall size must be positive, got %dx%d", core.ErrInvalidArgument, size.Width, size.Height)
	}
	w.size = size
	return nil
}

// SetColor makes a solid color the active background.
func (w *Wall) SetColor(color string) error {
	if err := ValidateColor(color); err != nil {
		return err
	}
	w.color = color
	w.image = nil
	return nil
}

// SetBackground activates a background option. Options whose value is a
// color switch the wall to that color; anything else is an image reference.
func (w *Wall) SetBackground(opt BackgroundOption) error {
	if opt.Value == "" {
		return fmt.Errorf("%w: background value is required", core.ErrInvalidArgument)
	}
	if IsColor(opt.Value) {
		return w.SetColor(opt.Value)
	}
	opt, err := normalizeOption(opt)
	if err != nil {
		return err
	}
	w.image = &opt
	return nil
}

func (w *Wall) SetBorder(b Border) error {
	if b.Width < 0 || b.Radius < 0 {
		return fmt.Errorf("%w: border width and radius must not be negative", core.ErrInvalidArgument)
	}
	if b.Style == "" {
		b.Style = BorderSolid
	}
	switch b.Style {
	case BorderSolid, BorderDashed, BorderDotted, BorderDouble:
	default:
		return fmt.Errorf("%w: unknown wall border style %q", core.ErrInvalidArgument, b.Style)
	}
	if err := ValidateColor(b.Color); err != nil {
		return err
	}
	w.border = b
	return nil
}

// AddCustomBackground appends an uploaded background to the catalogue.
// Adding a value that is already present replaces that entry.
func (w *Wall) AddCustomBackground(opt BackgroundOption) error {
	if opt.Value == "" {
		return fmt.Errorf("%w: background value is required", core.ErrInvalidArgument)
	}
	opt, err := normalizeOption(opt)
	if err != nil {
		return err
	}
	for i := range w.custom {
		if w.custom[i].Value == opt.Value {
			w.custom[i] = opt
			return nil
		}
	}
	w.custom = append(w.custom, opt)
	return nil
}

// RemoveCustomBackground drops an uploaded background. When it was the active
// background the wall falls back to its color.
func (w *Wall) RemoveCustomBackground(value string) {
	kept := w.custom[:0]
	for _, opt := range w.custom {
		if opt.Value != value {
			kept = append(kept, opt)
		}
	}
	w.custom = kept
	if w.image != nil && w.image.Value == value {
		w.image = nil
	}
}

func normalizeOption(opt BackgroundOption) (BackgroundOption, error) {
	switch opt.Fill {
	case "":
		opt.Fill = FillCover
	case FillCover, FillAuto:
	default:
		return opt, fmt.Errorf("%w: unknown background fill %q", core.ErrInvalidArgument, opt.Fill)
	}
	return opt, nil
}
