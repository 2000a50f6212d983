// Package codec converts a wall to and from the session document that is
// persisted by the stores.
package codec

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"wallora-server/core"
	"wallora-server/wall"
)

// Meta is the audit information stored next to the visual state. UserID is
// the owner; EditedBy is whoever wrote this version and defaults to the owner.
type Meta struct {
	Name      string
	UserID    string
	EditedBy  string
	Timestamp time.Time
}

func (m Meta) editor() string {
	if m.EditedBy != "" {
		return m.EditedBy
	}
	return m.UserID
}

const (
	blockBackground = "transparent"
	blockTransform  = "none"
)

// Encode flattens the wall into a document. Blocks are written bottom to top
// with increasing zIndex.
func Encode(w *wall.Wall, meta Meta) Document {
	ts := ""
	if !meta.Timestamp.IsZero() {
		ts = meta.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	size := w.Size()
	border := w.Border()
	doc := Document{
		Name:              meta.Name,
		UserID:            meta.UserID,
		LastEditedBy:      meta.EditedBy,
		Timestamp:         ts,
		WallSize:          &size,
		Orientation:       w.Orientation(),
		WallColor:         w.Color(),
		Background:        w.Background().Image,
		CustomBackgrounds: w.CustomBackgrounds(),
		WallBorder:        &border,
		Blocks:            make([]Block, 0, len(w.Items())),
	}

	for i, it := range w.Items() {
		b := Block{
			ID:          BlockID(it.ID),
			Src:         it.Content.Source(),
			OriginalSrc: it.Content.OriginalSource(),
			Position:    it.Position,
			Size:        it.Size,
			Border:      it.Border,
			Background:  blockBackground,
			ZIndex:      i,
			Shape:       it.Shape,
			Frame:       it.Frame,
			Filters:     it.Filters,
			Transform:   blockTransform,
			Timestamp:   ts,
			UserID:      meta.editor(),
		}
		if c, ok := it.Content.(wall.Collage); ok {
			b.IsCollage = true
			b.CollageImages = append([]string(nil), c.Images...)
		}
		doc.Blocks = append(doc.Blocks, b)
	}
	return doc
}

func Marshal(w *wall.Wall, meta Meta) ([]byte, error) {
	return json.Marshal(Encode(w, meta))
}

// Decode rebuilds a wall from a document. Item ids are kept. Blocks are
// stacked by zIndex; equal values keep document order.
func Decode(doc Document) (*wall.Wall, error) {
	if doc.WallSize == nil {
		return nil, fmt.Errorf("%w: missing wallSize", core.ErrMalformedSession)
	}

	w := wall.New()
	if err := w.SetSize(*doc.WallSize); err != nil {
		return nil, malformed(err)
	}
	if doc.WallColor != "" {
		if err := w.SetColor(doc.WallColor); err != nil {
			return nil, malformed(err)
		}
	}
	for _, opt := range doc.CustomBackgrounds {
		if err := w.AddCustomBackground(opt); err != nil {
			return nil, malformed(err)
		}
	}
	if doc.Background != nil {
		if err := w.SetBackground(*doc.Background); err != nil {
			return nil, malformed(err)
		}
	}
	if doc.WallBorder != nil {
		if err := w.SetBorder(*doc.WallBorder); err != nil {
			return nil, malformed(err)
		}
	}

	blocks := append([]Block(nil), doc.Blocks...)
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].ZIndex < blocks[j].ZIndex })

	for i, b := range blocks {
		it, err := b.item()
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		if err := w.AddItem(it); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, malformed(err))
		}
	}
	return w, nil
}

// Unmarshal parses and decodes a stored document.
func Unmarshal(data []byte) (*wall.Wall, Meta, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, Meta{}, fmt.Errorf("%w: %v", core.ErrMalformedSession, err)
	}
	w, err := Decode(doc)
	if err != nil {
		return nil, Meta{}, err
	}
	meta := Meta{Name: doc.Name, UserID: doc.UserID, EditedBy: doc.LastEditedBy}
	if ts, err := time.Parse(time.RFC3339Nano, doc.Timestamp); err == nil {
		meta.Timestamp = ts
	}
	return w, meta, nil
}

func (b Block) item() (wall.Item, error) {
	if b.ID == "" {
		return wall.Item{}, fmt.Errorf("%w: block without id", core.ErrMalformedSession)
	}
	if b.Src == "" {
		return wall.Item{}, fmt.Errorf("%w: block %s without src", core.ErrMalformedSession, b.ID)
	}

	original := b.OriginalSrc
	if original == "" {
		original = b.Src
	}

	var content wall.Content = wall.Single{Src: b.Src, OriginalSrc: original}
	if b.IsCollage {
		if len(b.CollageImages) < 2 {
			return wall.Item{}, fmt.Errorf("%w: collage %s has %d images", core.ErrMalformedSession, b.ID, len(b.CollageImages))
		}
		content = wall.Collage{Src: b.Src, OriginalSrc: original, Images: append([]string(nil), b.CollageImages...)}
	}

	return wall.Item{
		ID:       string(b.ID),
		Content:  content,
		Position: b.Position,
		Size:     b.Size,
		Filters:  b.Filters,
		Shape:    b.Shape,
		Frame:    b.Frame,
		Border:   b.Border,
	}, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", core.ErrMalformedSession, err)
}
