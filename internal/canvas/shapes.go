package canvas

import (
	"github.com/google/uuid"
)

// Palette is the set of colour names the canvas accepts.
var Palette = map[string]bool{
	"black": true, "grey": true, "light-violet": true, "violet": true,
	"blue": true, "light-blue": true, "yellow": true, "orange": true,
	"green": true, "light-green": true, "light-red": true, "red": true,
	"white": true,
}

// FontSizes maps size names to point sizes.
var FontSizes = map[string]float64{"s": 16, "m": 24, "l": 36, "xl": 48}

const (
	DefaultColor = "white"
	DefaultSize  = "m"
)

// NewShapeID returns a fresh "shape:<uuid>" identifier.
func NewShapeID() string {
	return "shape:" + uuid.NewString()
}

// NormalizeColor falls back to white for anything outside the palette.
func NormalizeColor(color string) string {
	if Palette[color] {
		return color
	}
	return DefaultColor
}

// NormalizeSize falls back to "m" for unknown size names.
func NormalizeSize(size string) string {
	if _, ok := FontSizes[size]; ok {
		return size
	}
	return DefaultSize
}

// TextProps builds props for a chalk-style text shape.
func TextProps(text, color, size string) map[string]interface{} {
	return map[string]interface{}{
		"richText":  RichText(text),
		"color":     NormalizeColor(color),
		"size":      NormalizeSize(size),
		"font":      "draw",
		"textAlign": "start",
	}
}

// GeoProps builds props for an outlined geometric shape.
func GeoProps(geo, color string, w, h float64) map[string]interface{} {
	if geo == "" || geo == "geo" {
		geo = "rectangle"
	}
	if w <= 0 {
		w = 100
	}
	if h <= 0 {
		h = 60
	}
	return map[string]interface{}{
		"geo":   geo,
		"color": NormalizeColor(color),
		"fill":  "none",
		"w":     w,
		"h":     h,
	}
}

// ArrowProps builds props for a horizontal arrow of the given length.
func ArrowProps(color string, length float64) map[string]interface{} {
	if length <= 0 {
		length = 100
	}
	return map[string]interface{}{
		"color": NormalizeColor(color),
		"start": map[string]interface{}{"x": 0.0, "y": 0.0},
		"end":   map[string]interface{}{"x": length, "y": 0.0},
	}
}
