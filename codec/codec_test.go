package codec

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallora-server/core"
	"wallora-server/wall"
)

func ptr[T any](v T) *T { return &v }

func buildWall(t *testing.T) *wall.Wall {
	t.Helper()
	w := wall.New()
	require.NoError(t, w.SetSize(wall.Size{Width: 800, Height: 1200}))
	require.NoError(t, w.SetColor("#fafafa"))
	require.NoError(t, w.AddCustomBackground(wall.BackgroundOption{Name: "upload", Value: "blob:abc", Fill: wall.FillAuto}))
	require.NoError(t, w.SetBackground(wall.BackgroundOption{Name: "Brick", Value: "/walls/brick.jpg"}))
	require.NoError(t, w.SetBorder(wall.Border{Width: 6, Color: "#222222", Style: wall.BorderDouble, Radius: 10}))

	a := w.CreateItem("data:image/png;base64,AAAA")
	require.NoError(t, w.UpdateItem(a.ID, wall.ItemPatch{
		Src:      ptr("data:image/png;base64,BBBB"),
		Position: &wall.PointPatch{X: ptr(-15.5), Y: ptr(900.0)},
		Size:     &wall.SizePatch{Width: ptr(320.0)},
		Filters:  &wall.FiltersPatch{Brightness: ptr(120.0), Blur: ptr(2.0)},
		Shape:    ptr(wall.ShapeStar),
		Frame:    &wall.Frame{Type: wall.FrameVintage, Width: 14, Color: "rgb(10, 20, 30)"},
		Border:   &wall.ItemBorder{Width: 3, Color: "#fff", Style: wall.BorderDotted},
	}))
	_, err := w.CreateCollage([]string{"https://cdn/x.jpg", "https://cdn/y.jpg", "https://cdn/z.jpg"})
	require.NoError(t, err)
	w.CreateItem("/uploads/plain.png")
	return w
}

func TestRoundTrip(t *testing.T) {
	w := buildWall(t)
	meta := Meta{Name: "Living room", UserID: "user-1", EditedBy: "user-2", Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}

	data, err := Marshal(w, meta)
	require.NoError(t, err)

	got, gotMeta, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, meta, gotMeta)
	assert.Equal(t, w.Size(), got.Size())
	assert.Equal(t, w.Color(), got.Color())
	assert.Equal(t, w.Background(), got.Background())
	assert.Equal(t, w.Border(), got.Border())
	assert.Equal(t, w.CustomBackgrounds(), got.CustomBackgrounds())
	assert.Equal(t, w.Items(), got.Items())
}

func TestRoundTrip_EmptyWall(t *testing.T) {
	w := wall.New()

	got, err := Decode(Encode(w, Meta{}))
	require.NoError(t, err)
	assert.Equal(t, w.Size(), got.Size())
	assert.Equal(t, w.Background(), got.Background())
	assert.Empty(t, got.Items())
}

func TestEncode_DocumentShape(t *testing.T) {
	w := buildWall(t)

	doc := Encode(w, Meta{Name: "n", UserID: "u"})

	assert.Equal(t, wall.Portrait, doc.Orientation)
	assert.Equal(t, "#fafafa", doc.WallColor)
	require.NotNil(t, doc.Background)
	assert.Equal(t, "/walls/brick.jpg", doc.Background.Value)
	require.Len(t, doc.Blocks, 3)
	for i, b := range doc.Blocks {
		assert.Equal(t, i, b.ZIndex)
		assert.Equal(t, "u", b.UserID)
	}
	assert.Empty(t, doc.LastEditedBy)

	edited := Encode(w, Meta{Name: "n", UserID: "u", EditedBy: "e"})
	assert.Equal(t, "u", edited.UserID)
	assert.Equal(t, "e", edited.LastEditedBy)
	for _, b := range edited.Blocks {
		assert.Equal(t, "e", b.UserID)
	}
	assert.Equal(t, "data:image/png;base64,AAAA", doc.Blocks[0].OriginalSrc)
	assert.True(t, doc.Blocks[1].IsCollage)
	assert.Equal(t, "https://cdn/x.jpg", doc.Blocks[1].Src)

	var raw map[string]any
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"wallSize", "wallColor", "background", "customBackgrounds", "wallBorder", "orientation", "blocks"} {
		assert.Contains(t, raw, key)
	}
	block := raw["blocks"].([]any)[0].(map[string]any)
	for _, key := range []string{"id", "src", "position", "size", "border", "zIndex", "shape", "frame", "filters"} {
		assert.Contains(t, block, key)
	}
}

func TestEncode_ColorWallOmitsBackground(t *testing.T) {
	data, err := Marshal(wall.New(), Meta{})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "background")
	assert.Equal(t, "#ffffff", raw["wallColor"])
}

func TestUnmarshal_OlderDocumentDefaults(t *testing.T) {
	data := []byte(`{
		"name": "old",
		"wallSize": {"width": 600, "height": 400},
		"blocks": [
			{"id": 1712345678901.123, "src": "a.png", "zIndex": 2, "filters": {"brightness": 140}},
			{"id": "c1", "src": "x.png", "zIndex": 1, "isCollage": true, "collageImages": ["x.png", "y.png"]},
			{"id": "b", "src": "b.png", "size": {"width": 300}}
		]
	}`)

	w, meta, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, "old", meta.Name)
	assert.True(t, meta.Timestamp.IsZero())
	assert.Equal(t, wall.Background{Color: wall.DefaultColor}, w.Background())
	assert.Equal(t, wall.DefaultBorder, w.Border())

	items := w.Items()
	require.Len(t, items, 3)
	assert.Equal(t, []string{"b", "c1", "1712345678901.123"}, []string{items[0].ID, items[1].ID, items[2].ID})

	assert.Equal(t, wall.Dimensions{Width: 300, Height: 200}, items[0].Size)
	assert.Equal(t, wall.DefaultItemPosition, items[0].Position)
	assert.Equal(t, "b.png", items[0].Content.OriginalSource())

	assert.True(t, items[1].IsCollage())
	assert.Equal(t, wall.DefaultCollageSize, items[1].Size)
	assert.Equal(t, wall.DefaultCollageFrame, items[1].Frame)

	assert.Equal(t, wall.Filters{Brightness: 140, Contrast: 100, Saturation: 100}, items[2].Filters)
	assert.Equal(t, wall.ShapeRectangle, items[2].Shape)
	assert.Equal(t, wall.DefaultFrame, items[2].Frame)
	assert.Equal(t, wall.DefaultItemBorder, items[2].Border)
}

func TestUnmarshal_Malformed(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"not json", `{"wallSize":`},
		{"missing wallSize", `{"blocks": []}`},
		{"zero wallSize", `{"wallSize": {"width": 0, "height": 400}}`},
		{"block without id", `{"wallSize": {"width": 600, "height": 400}, "blocks": [{"src": "a.png"}]}`},
		{"block without src", `{"wallSize": {"width": 600, "height": 400}, "blocks": [{"id": "a"}]}`},
		{"bool id", `{"wallSize": {"width": 600, "height": 400}, "blocks": [{"id": true, "src": "a.png"}]}`},
		{"duplicate ids", `{"wallSize": {"width": 600, "height": 400}, "blocks": [{"id": "a", "src": "a.png"}, {"id": "a", "src": "b.png"}]}`},
		{"collage of one", `{"wallSize": {"width": 600, "height": 400}, "blocks": [{"id": "a", "src": "a.png", "isCollage": true, "collageImages": ["a.png"]}]}`},
		{"bad shape", `{"wallSize": {"width": 600, "height": 400}, "blocks": [{"id": "a", "src": "a.png", "shape": "blob"}]}`},
		{"bad wall color", `{"wallSize": {"width": 600, "height": 400}, "wallColor": "chartreuse"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Unmarshal([]byte(tc.data))
			assert.ErrorIs(t, err, core.ErrMalformedSession)
		})
	}
}

func TestDecode_EqualZIndexKeepsDocumentOrder(t *testing.T) {
	doc := Document{
		WallSize: &wall.Size{Width: 600, Height: 400},
		Blocks: []Block{
			{ID: "first", Src: "1.png", Size: wall.DefaultItemSize, Shape: wall.ShapeRectangle, Frame: wall.DefaultFrame, Border: wall.DefaultItemBorder},
			{ID: "second", Src: "2.png", Size: wall.DefaultItemSize, Shape: wall.ShapeRectangle, Frame: wall.DefaultFrame, Border: wall.DefaultItemBorder},
		},
	}

	w, err := Decode(doc)
	require.NoError(t, err)
	items := w.Items()
	assert.Equal(t, "first", items[0].ID)
	assert.Equal(t, "second", items[1].ID)
}
