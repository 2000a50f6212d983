// Package layout computes automatic arrangements for the items of a wall.
//
// Strategies are pure functions of the item sizes and the wall size. None of
// them detect or resolve overlap, and the candidate scores are fixed per
// strategy rather than measured from the result.
package layout

import (
	"fmt"
	"math"
	"sort"

	"wallora-server/core"
)

type (
	Size struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}

	// Input is an item to arrange with its recommended size.
	Input struct {
		ID     string  `json:"id"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}

	Placement struct {
		ID     string  `json:"id"`
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}

	// Candidate is one ranked proposal. It is never persisted.
	Candidate struct {
		Name       string      `json:"name"`
		Type       string      `json:"type"`
		Score      float64     `json:"score"`
		Placements []Placement `json:"positions"`
	}

	Func func(items []Input, wall Size) []Placement

	strategy struct {
		kind  string
		name  string
		score float64
		place Func
	}
)

const (
	Grid   = "grid"
	Mosaic = "mosaic"
	Flow   = "flow"

	flowMargin = 50.0
	flowGutter = 20.0

	mosaicRadius = 0.3
)

var strategies = []strategy{
	{kind: Grid, name: "Grid Layout", score: 0.8, place: GridPositions},
	{kind: Mosaic, name: "Mosaic Layout", score: 0.7, place: MosaicPositions},
	{kind: Flow, name: "Flow Layout", score: 0.9, place: FlowPositions},
}

// Suggest runs every strategy and returns the candidates best score first.
func Suggest(items []Input, wall Size) ([]Candidate, error) {
	if err := validate(items, wall); err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(strategies))
	for _, s := range strategies {
		out = append(out, s.run(items, wall))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// Apply runs the named strategy.
func Apply(kind string, items []Input, wall Size) (Candidate, error) {
	for _, s := range strategies {
		if s.kind == kind {
			if err := validate(items, wall); err != nil {
				return Candidate{}, err
			}
			return s.run(items, wall), nil
		}
	}
	return Candidate{}, fmt.Errorf("%w: unknown layout strategy %q", core.ErrInvalidArgument, kind)
}

// Kinds lists the strategy identifiers accepted by Apply.
func Kinds() []string {
	out := make([]string, len(strategies))
	for i, s := range strategies {
		out[i] = s.kind
	}
	return out
}

func (s strategy) run(items []Input, wall Size) Candidate {
	return Candidate{Name: s.name, Type: s.kind, Score: s.score, Placements: s.place(items, wall)}
}

// GridPositions centers each item in the cell of a near-square grid filled
// row by row.
func GridPositions(items []Input, wall Size) []Placement {
	n := len(items)
	out := make([]Placement, 0, n)
	if n == 0 {
		return out
	}
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := int(math.Ceil(float64(n) / float64(cols)))
	cellW := wall.Width / float64(cols)
	cellH := wall.Height / float64(rows)

	for i, it := range items {
		row, col := i/cols, i%cols
		out = append(out, Placement{
			ID:     it.ID,
			X:      float64(col)*cellW + (cellW-it.Width)/2,
			Y:      float64(row)*cellH + (cellH-it.Height)/2,
			Width:  it.Width,
			Height: it.Height,
		})
	}
	return out
}

// MosaicPositions spreads items evenly on a circle around the wall center.
// Item centers land on the circle.
func MosaicPositions(items []Input, wall Size) []Placement {
	n := len(items)
	out := make([]Placement, 0, n)
	cx, cy := wall.Width/2, wall.Height/2
	radius := math.Min(wall.Width, wall.Height) * mosaicRadius

	for i, it := range items {
		angle := float64(i) / float64(n) * 2 * math.Pi
		out = append(out, Placement{
			ID:     it.ID,
			X:      cx + math.Cos(angle)*radius - it.Width/2,
			Y:      cy + math.Sin(angle)*radius - it.Height/2,
			Width:  it.Width,
			Height: it.Height,
		})
	}
	return out
}

// FlowPositions packs items left to right and wraps to a new row when the
// next item would pass the right margin. The wrap check also applies to the
// first item, so an item wider than the usable width starts one gap lower.
func FlowPositions(items []Input, wall Size) []Placement {
	out := make([]Placement, 0, len(items))
	x, y, rowHeight := flowMargin, flowMargin, 0.0

	for _, it := range items {
		if x+it.Width > wall.Width-flowMargin {
			x = flowMargin
			y += rowHeight + flowGutter
			rowHeight = 0
		}
		out = append(out, Placement{ID: it.ID, X: x, Y: y, Width: it.Width, Height: it.Height})
		x += it.Width + flowGutter
		rowHeight = math.Max(rowHeight, it.Height)
	}
	return out
}

func validate(items []Input, wall Size) error {
	if !finite(wall.Width) || !finite(wall.Height) || wall.Width <= 0 || wall.Height <= 0 {
		return fmt.Errorf("%w: wall size must be positive and finite, got %gx%g", core.ErrInvalidArgument, wall.Width, wall.Height)
	}
	for _, it := range items {
		if !finite(it.Width) || !finite(it.Height) || it.Width < 0 || it.Height < 0 {
			return fmt.Errorf("%w: item %s has invalid size %gx%g", core.ErrInvalidArgument, it.ID, it.Width, it.Height)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
