package canvas

import (
	"encoding/base64"
	"fmt"
	"html"
	"math"
	"strings"

	"github.com/lexiqai/tutor-client/internal/protocol"
)

// SVGDataURLPrefix is the data URL prefix of rendered snapshots.
const SVGDataURLPrefix = "data:image/svg+xml;base64,"

const snapshotPadding = 16

var paletteHex = map[string]string{
	"black": "#1d1d1d", "grey": "#9fa8b2", "light-violet": "#e085f4",
	"violet": "#ae3ec9", "blue": "#4465e9", "light-blue": "#4ba1f1",
	"yellow": "#f1ac4b", "orange": "#e16919", "green": "#099268",
	"light-green": "#4cb05e", "light-red": "#f87777", "red": "#e03131",
	"white": "#f8f9fa",
}

// Extent returns the page-space rectangle a shape occupies.
func Extent(shape Shape) protocol.Bounds {
	switch shape.Type {
	case "text", "note":
		size := FontSizes[NormalizeSize(stringProp(shape.Props, "size"))]
		lines := strings.Split(PlainText(shape.Props), "\n")
		longest := 1
		for _, l := range lines {
			if n := len([]rune(l)); n > longest {
				longest = n
			}
		}
		return protocol.Bounds{X: shape.X, Y: shape.Y, W: float64(longest) * size * 0.6, H: float64(len(lines)) * size * 1.35}
	case "arrow", "line":
		end, _ := shape.Props["end"].(map[string]interface{})
		ex, _ := toFloat(end["x"])
		ey, _ := toFloat(end["y"])
		x0, y0 := math.Min(shape.X, shape.X+ex), math.Min(shape.Y, shape.Y+ey)
		return protocol.Bounds{X: x0, Y: y0, W: math.Max(math.Abs(ex), 1), H: math.Max(math.Abs(ey), 1)}
	default:
		w, okW := toFloat(shape.Props["w"])
		h, okH := toFloat(shape.Props["h"])
		if !okW || w <= 0 {
			w = 100
		}
		if !okH || h <= 0 {
			h = 60
		}
		return protocol.Bounds{X: shape.X, Y: shape.Y, W: w, H: h}
	}
}

// Union returns the smallest rectangle containing every shape.
func Union(shapes []Shape) protocol.Bounds {
	if len(shapes) == 0 {
		return protocol.Bounds{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, s := range shapes {
		b := Extent(s)
		minX = math.Min(minX, b.X)
		minY = math.Min(minY, b.Y)
		maxX = math.Max(maxX, b.X+b.W)
		maxY = math.Max(maxY, b.Y+b.H)
	}
	return protocol.Bounds{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

// Render draws shapes as an SVG data URL on a dark board. It returns false
// for an empty canvas.
func Render(shapes []Shape) (Snapshot, bool) {
	if len(shapes) == 0 {
		return Snapshot{}, false
	}
	bounds := Union(shapes)
	vx, vy := bounds.X-snapshotPadding, bounds.Y-snapshotPadding
	vw, vh := bounds.W+2*snapshotPadding, bounds.H+2*snapshotPadding

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="%.1f %.1f %.1f %.1f" width="%.0f" height="%.0f">`, vx, vy, vw, vh, vw, vh)
	fmt.Fprintf(&b, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="#1e2a24"/>`, vx, vy, vw, vh)
	for _, s := range shapes {
		renderShape(&b, s)
	}
	b.WriteString(`</svg>`)

	return Snapshot{
		Image:  SVGDataURLPrefix + base64.StdEncoding.EncodeToString([]byte(b.String())),
		Bounds: bounds,
	}, true
}

func renderShape(b *strings.Builder, s Shape) {
	color := paletteHex[NormalizeColor(stringProp(s.Props, "color"))]
	ext := Extent(s)

	switch s.Type {
	case "text", "note":
		size := FontSizes[NormalizeSize(stringProp(s.Props, "size"))]
		for i, line := range strings.Split(PlainText(s.Props), "\n") {
			fmt.Fprintf(b, `<text x="%.1f" y="%.1f" font-size="%.0f" font-family="cursive" fill="%s">%s</text>`,
				s.X, s.Y+size*(float64(i)+1), size, color, html.EscapeString(line))
		}
	case "geo":
		switch stringProp(s.Props, "geo") {
		case "ellipse":
			fmt.Fprintf(b, `<ellipse cx="%.1f" cy="%.1f" rx="%.1f" ry="%.1f" fill="none" stroke="%s" stroke-width="3"/>`,
				ext.X+ext.W/2, ext.Y+ext.H/2, ext.W/2, ext.H/2, color)
		case "triangle":
			fmt.Fprintf(b, `<polygon points="%.1f,%.1f %.1f,%.1f %.1f,%.1f" fill="none" stroke="%s" stroke-width="3"/>`,
				ext.X+ext.W/2, ext.Y, ext.X+ext.W, ext.Y+ext.H, ext.X, ext.Y+ext.H, color)
		default:
			fmt.Fprintf(b, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="none" stroke="%s" stroke-width="3"/>`,
				ext.X, ext.Y, ext.W, ext.H, color)
		}
	case "arrow", "line":
		end, _ := s.Props["end"].(map[string]interface{})
		ex, _ := toFloat(end["x"])
		ey, _ := toFloat(end["y"])
		fmt.Fprintf(b, `<line x1="%.1f" y1="%.1f" x2="%.1f" y2="%.1f" stroke="%s" stroke-width="3"/>`,
			s.X, s.Y, s.X+ex, s.Y+ey, color)
	default:
		fmt.Fprintf(b, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="none" stroke="%s" stroke-dasharray="6 4"/>`,
			ext.X, ext.Y, ext.W, ext.H, color)
	}
}

func stringProp(props map[string]interface{}, key string) string {
	v, _ := props[key].(string)
	return v
}
