package layout

import "wallora-server/wall"

// ForWall returns the layout inputs of w's items in z-order and the wall
// size.
func ForWall(w *wall.Wall) ([]Input, Size) {
	items := w.Items()
	inputs := make([]Input, len(items))
	for i, it := range items {
		inputs[i] = Input{ID: it.ID, Width: it.Size.Width, Height: it.Size.Height}
	}
	size := w.Size()
	return inputs, Size{Width: float64(size.Width), Height: float64(size.Height)}
}

// Arrange moves every item of w to the position the named strategy picks.
// Item sizes are kept.
func Arrange(w *wall.Wall, strategy string) (Candidate, error) {
	items, size := ForWall(w)
	candidate, err := Apply(strategy, items, size)
	if err != nil {
		return Candidate{}, err
	}
	for _, p := range candidate.Placements {
		x, y := p.X, p.Y
		if err := w.UpdateItem(p.ID, wall.ItemPatch{Position: &wall.PointPatch{X: &x, Y: &y}}); err != nil {
			return Candidate{}, err
		}
	}
	return candidate, nil
}
