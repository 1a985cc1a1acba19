package canvas

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRender_Empty(t *testing.T) {
	_, ok := Render(nil)
	require.False(t, ok)
}

func TestRender_BoundsAndImage(t *testing.T) {
	shapes := []Shape{
		{ID: "shape:g", Type: "geo", X: 10, Y: 20, Props: GeoProps("ellipse", "red", 50, 40)},
		{ID: "shape:a", Type: "arrow", X: 100, Y: 100, Props: ArrowProps("green", 80)},
		{ID: "shape:t", Type: "text", X: 0, Y: 200, Props: TextProps("x < 2", "white", "m")},
	}

	snap, ok := Render(shapes)
	require.True(t, ok)

	require.Equal(t, 0.0, snap.Bounds.X)
	require.Equal(t, 20.0, snap.Bounds.Y)
	require.Equal(t, 180.0, snap.Bounds.W, "arrow end reaches x=180")
	require.InDelta(t, 200+24*1.35-20, snap.Bounds.H, 1e-9)

	require.True(t, strings.HasPrefix(snap.Image, SVGDataURLPrefix))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(snap.Image, SVGDataURLPrefix))
	require.NoError(t, err)

	svg := string(raw)
	require.Contains(t, svg, "<ellipse")
	require.Contains(t, svg, "<line")
	require.Contains(t, svg, "x &lt; 2")
}

func TestExtent_Defaults(t *testing.T) {
	b := Extent(Shape{Type: "geo", X: 1, Y: 2})
	require.Equal(t, 100.0, b.W)
	require.Equal(t, 60.0, b.H)

	b = Extent(Shape{Type: "text", Props: map[string]interface{}{"text": "abcd", "size": "xl"}})
	require.InDelta(t, 4*48*0.6, b.W, 1e-9)
}
