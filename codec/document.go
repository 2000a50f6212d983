package codec

import (
	"encoding/json"
	"fmt"

	"wallora-server/wall"
)

type (
	// Document is the persisted form of a session: wall-level settings plus
	// one flattened block per item.
	Document struct {
		Name              string                  `json:"name"`
		UserID            string                  `json:"userId,omitempty"`
		LastEditedBy      string                  `json:"lastEditedBy,omitempty"`
		Timestamp         string                  `json:"timestamp,omitempty"`
		WallSize          *wall.Size              `json:"wallSize"`
		Orientation       wall.Orientation        `json:"orientation,omitempty"`
		WallColor         string                  `json:"wallColor,omitempty"`
		Background        *wall.BackgroundOption  `json:"background,omitempty"`
		CustomBackgrounds []wall.BackgroundOption `json:"customBackgrounds"`
		WallBorder        *wall.Border            `json:"wallBorder,omitempty"`
		Blocks            []Block                 `json:"blocks"`
	}

	// Block is an item as stored. Size and Border carry what the editor
	// calls style and borderStyle.
	Block struct {
		ID            BlockID         `json:"id"`
		Src           string          `json:"src"`
		OriginalSrc   string          `json:"originalSrc,omitempty"`
		Position      wall.Point      `json:"position"`
		Size          wall.Dimensions `json:"size"`
		Border        wall.ItemBorder `json:"border"`
		Background    string          `json:"background,omitempty"`
		ZIndex        int             `json:"zIndex"`
		Shape         wall.Shape      `json:"shape"`
		Frame         wall.Frame      `json:"frame"`
		Filters       wall.Filters    `json:"filters"`
		Transform     string          `json:"transform,omitempty"`
		IsCollage     bool            `json:"isCollage,omitempty"`
		CollageImages []string        `json:"collageImages,omitempty"`
		Timestamp     string          `json:"timestamp,omitempty"`
		UserID        string          `json:"userId,omitempty"`
	}

	// BlockID accepts both strings and the numeric ids written by older
	// editors. Numbers keep their textual form.
	BlockID string
)

func (id *BlockID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = BlockID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("block id must be a string or a number: %w", err)
	}
	*id = BlockID(n.String())
	return nil
}

// UnmarshalJSON fills fields absent from older documents with the item
// defaults before decoding. Collage blocks get the collage defaults.
func (b *Block) UnmarshalJSON(data []byte) error {
	var kind struct {
		IsCollage bool `json:"isCollage"`
	}
	if err := json.Unmarshal(data, &kind); err != nil {
		return err
	}

	type plain Block
	p := plain{
		Position: wall.DefaultItemPosition,
		Size:     wall.DefaultItemSize,
		Border:   wall.DefaultItemBorder,
		Shape:    wall.ShapeRectangle,
		Frame:    wall.DefaultFrame,
		Filters:  wall.NeutralFilters,
	}
	if kind.IsCollage {
		p.Position = wall.DefaultCollagePosition
		p.Size = wall.DefaultCollageSize
		p.Frame = wall.DefaultCollageFrame
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = Block(p)
	return nil
}
