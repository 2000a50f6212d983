package wall

import (
	"fmt"
	"math"

	"github.com/oklog/ulid/v2"

	"wallora-server/core"
)

type (
	Point struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}

	// Dimensions is the rendered size of an item.
	Dimensions struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}

	// Filters are CSS-style adjustments. Brightness, contrast and saturation
	// are percentages (neutral 100), hue is degrees and blur pixels (neutral 0).
	Filters struct {
		Brightness float64 `json:"brightness"`
		Contrast   float64 `json:"contrast"`
		Saturation float64 `json:"saturation"`
		Hue        float64 `json:"hue"`
		Blur       float64 `json:"blur"`
	}

	Shape     string
	FrameType string

	Frame struct {
		Type  FrameType `json:"type"`
		Width float64   `json:"width"`
		Color string    `json:"color"`
	}

	ItemBorder struct {
		Width float64     `json:"width"`
		Color string      `json:"color"`
		Style BorderStyle `json:"style"`
	}

	// Content is what an item shows: a Single image or a Collage.
	Content interface {
		// Source is the displayed image reference.
		Source() string
		// OriginalSource is the reference before destructive edits.
		OriginalSource() string
		withSource(src string) Content
	}

	Single struct {
		Src         string
		OriginalSrc string
	}

	// Collage bundles several images. Src is the preview shown on the wall.
	Collage struct {
		Src         string
		OriginalSrc string
		Images      []string
	}

	// Item is one placed element on a wall.
	Item struct {
		ID       string
		Content  Content
		Position Point
		Size     Dimensions
		Filters  Filters
		Shape    Shape
		Frame    Frame
		Border   ItemBorder
	}

	PointPatch struct {
		X *float64
		Y *float64
	}

	SizePatch struct {
		Width  *float64
		Height *float64
	}

	FiltersPatch struct {
		Brightness *float64
		Contrast   *float64
		Saturation *float64
		Hue        *float64
		Blur       *float64
	}

	// ItemPatch is a partial update. Position, Size and Filters merge field
	// by field; the remaining fields replace the current value when set.
	ItemPatch struct {
		Src      *string
		Position *PointPatch
		Size     *SizePatch
		Filters  *FiltersPatch
		Shape    *Shape
		Frame    *Frame
		Border   *ItemBorder
	}
)

const (
	ShapeRectangle Shape = "rectangle"
	ShapeCircle    Shape = "circle"
	ShapeOval      Shape = "oval"
	ShapeStar      Shape = "star"
	ShapeHeart     Shape = "heart"

	FrameNone    FrameType = "none"
	FrameClassic FrameType = "classic"
	FrameModern  FrameType = "modern"
	FrameVintage FrameType = "vintage"
	FrameOrnate  FrameType = "ornate"
	FrameRustic  FrameType = "rustic"

	defaultFrameColor = "#8B4513"
)

var (
	NeutralFilters = Filters{Brightness: 100, Contrast: 100, Saturation: 100, Hue: 0, Blur: 0}

	DefaultItemSize     = Dimensions{Width: 200, Height: 200}
	DefaultItemPosition = Point{X: 50, Y: 50}
	DefaultFrame        = Frame{Type: FrameNone, Width: 0, Color: defaultFrameColor}
	DefaultItemBorder   = ItemBorder{Width: 0, Color: "#000000", Style: BorderSolid}

	DefaultCollageSize     = Dimensions{Width: 300, Height: 300}
	DefaultCollagePosition = Point{X: 100, Y: 100}
	DefaultCollageFrame    = Frame{Type: FrameClassic, Width: 8, Color: defaultFrameColor}
)

func (s Single) Source() string         { return s.Src }
func (s Single) OriginalSource() string { return s.OriginalSrc }

func (s Single) withSource(src string) Content {
	s.Src = src
	return s
}

func (c Collage) Source() string         { return c.Src }
func (c Collage) OriginalSource() string { return c.OriginalSrc }

func (c Collage) withSource(src string) Content {
	c.Src = src
	c.Images = append([]string(nil), c.Images...)
	return c
}

// IsCollage reports whether the item bundles several images.
func (it Item) IsCollage() bool {
	_, ok := it.Content.(Collage)
	return ok
}

// NewItem returns a single-image item with default styling. The id is
// freshly generated.
func NewItem(src string) Item {
	return Item{
		ID:       ulid.Make().String(),
		Content:  Single{Src: src, OriginalSrc: src},
		Position: DefaultItemPosition,
		Size:     DefaultItemSize,
		Filters:  NeutralFilters,
		Shape:    ShapeRectangle,
		Frame:    DefaultFrame,
		Border:   DefaultItemBorder,
	}
}

// NewCollage returns a collage item previewing the first source.
func NewCollage(sources []string) (Item, error) {
	if len(sources) < 2 {
		return Item{}, fmt.Errorf("%w: a collage needs at least 2 images, got %d", core.ErrInvalidArgument, len(sources))
	}
	images := append([]string(nil), sources...)
	return Item{
		ID:       ulid.Make().String(),
		Content:  Collage{Src: images[0], OriginalSrc: images[0], Images: images},
		Position: DefaultCollagePosition,
		Size:     DefaultCollageSize,
		Filters:  NeutralFilters,
		Shape:    ShapeRectangle,
		Frame:    DefaultCollageFrame,
		Border:   DefaultItemBorder,
	}, nil
}

// CreateItem places a new single-image item on the wall.
func (w *Wall) CreateItem(src string) Item {
	it := NewItem(src)
	w.items = append(w.items, it)
	return it.clone()
}

// CreateCollage places a new collage item on the wall. Nothing changes when
// fewer than two sources are given.
func (w *Wall) CreateCollage(sources []string) (Item, error) {
	it, err := NewCollage(sources)
	if err != nil {
		return Item{}, err
	}
	w.items = append(w.items, it)
	return it.clone(), nil
}

// AddItem puts an existing item on top of the wall, keeping its id.
func (w *Wall) AddItem(it Item) error {
	if it.ID == "" {
		return fmt.Errorf("%w: item id is required", core.ErrInvalidArgument)
	}
	if w.index(it.ID) >= 0 {
		return fmt.Errorf("%w: duplicate item id %s", core.ErrInvalidArgument, it.ID)
	}
	if it.Content == nil {
		return fmt.Errorf("%w: item %s has no content", core.ErrInvalidArgument, it.ID)
	}
	if err := it.validate(); err != nil {
		return err
	}
	w.items = append(w.items, it.clone())
	return nil
}

// Item returns a copy of the item with the given id.
func (w *Wall) Item(id string) (Item, error) {
	i := w.index(id)
	if i < 0 {
		return Item{}, fmt.Errorf("%w: item %s", core.ErrNotFound, id)
	}
	return w.items[i].clone(), nil
}

// Items returns copies of all items, bottom to top.
func (w *Wall) Items() []Item {
	out := make([]Item, len(w.items))
	for i, it := range w.items {
		out[i] = it.clone()
	}
	return out
}

// UpdateItem merges patch into the item. The item is left untouched when the
// patch is invalid.
func (w *Wall) UpdateItem(id string, patch ItemPatch) error {
	i := w.index(id)
	if i < 0 {
		return fmt.Errorf("%w: item %s", core.ErrNotFound, id)
	}

	it := w.items[i].clone()
	if patch.Src != nil {
		it.Content = it.Content.withSource(*patch.Src)
	}
	if p := patch.Position; p != nil {
		setIf(&it.Position.X, p.X)
		setIf(&it.Position.Y, p.Y)
	}
	if p := patch.Size; p != nil {
		setIf(&it.Size.Width, p.Width)
		setIf(&it.Size.Height, p.Height)
	}
	if p := patch.Filters; p != nil {
		setIf(&it.Filters.Brightness, p.Brightness)
		setIf(&it.Filters.Contrast, p.Contrast)
		setIf(&it.Filters.Saturation, p.Saturation)
		setIf(&it.Filters.Hue, p.Hue)
		setIf(&it.Filters.Blur, p.Blur)
	}
	if patch.Shape != nil {
		it.Shape = *patch.Shape
	}
	if patch.Frame != nil {
		it.Frame = *patch.Frame
	}
	if patch.Border != nil {
		it.Border = *patch.Border
	}

	if err := it.validate(); err != nil {
		return err
	}
	w.items[i] = it
	return nil
}

// RevertSource restores the item's original image, undoing destructive
// edits such as background removal.
func (w *Wall) RevertSource(id string) error {
	i := w.index(id)
	if i < 0 {
		return fmt.Errorf("%w: item %s", core.ErrNotFound, id)
	}
	it := &w.items[i]
	it.Content = it.Content.withSource(it.Content.OriginalSource())
	return nil
}

// DeleteItem removes the item. Unknown ids are ignored.
func (w *Wall) DeleteItem(id string) {
	kept := w.items[:0]
	for _, it := range w.items {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	w.items = kept
}

func (w *Wall) index(id string) int {
	for i := range w.items {
		if w.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (it Item) clone() Item {
	if c, ok := it.Content.(Collage); ok {
		c.Images = append([]string(nil), c.Images...)
		it.Content = c
	}
	return it
}

func (it Item) validate() error {
	for _, v := range []float64{it.Position.X, it.Position.Y, it.Size.Width, it.Size.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: item geometry must be finite", core.ErrInvalidArgument)
		}
	}
	if it.Size.Width <= 0 || it.Size.Height <= 0 {
		return fmt.Errorf("%w: item size must be positive, got %gx%g", core.ErrInvalidArgument, it.Size.Width, it.Size.Height)
	}
	switch it.Shape {
	case ShapeRectangle, ShapeCircle, ShapeOval, ShapeStar, ShapeHeart:
	default:
		return fmt.Errorf("%w: unknown shape %q", core.ErrInvalidArgument, it.Shape)
	}
	switch it.Frame.Type {
	case FrameNone, FrameClassic, FrameModern, FrameVintage, FrameOrnate, FrameRustic:
	default:
		return fmt.Errorf("%w: unknown frame type %q", core.ErrInvalidArgument, it.Frame.Type)
	}
	if it.Frame.Width < 0 || it.Border.Width < 0 {
		return fmt.Errorf("%w: frame and border width must not be negative", core.ErrInvalidArgument)
	}
	switch it.Border.Style {
	case BorderSolid, BorderDashed, BorderDotted:
	default:
		return fmt.Errorf("%w: unknown item border style %q", core.ErrInvalidArgument, it.Border.Style)
	}
	if err := ValidateColor(it.Frame.Color); err != nil {
		return err
	}
	return ValidateColor(it.Border.Color)
}

func setIf(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
