package canvas

import (
	"fmt"
	"strings"
	"unicode"
)

// Summarize describes the canvas for the tutor in plain sentences.
func Summarize(shapes []Shape) string {
	if len(shapes) == 0 {
		return "The canvas is empty."
	}

	lines := make([]string, 0, len(shapes))
	for _, shape := range shapes {
		if line := describeShape(shape); line != "" {
			lines = append(lines, line)
		}
	}
	return fmt.Sprintf("Canvas contains %d element(s):\n- %s", len(shapes), strings.Join(lines, "\n- "))
}

func describeShape(shape Shape) string {
	at := fmt.Sprintf("at (%.0f, %.0f)", shape.X, shape.Y)

	switch shape.Type {
	case "draw":
		return "Freehand drawing " + at
	case "text":
		if text := PlainText(shape.Props); text != "" {
			return fmt.Sprintf("Text \"%s\" %s", text, at)
		}
		return ""
	case "geo":
		geo, _ := shape.Props["geo"].(string)
		if geo == "" {
			geo = "rectangle"
		}
		return capitalize(geo) + " shape " + at
	case "arrow":
		return "Arrow " + at
	case "line":
		return "Line " + at
	case "note":
		if text := PlainText(shape.Props); text != "" {
			return fmt.Sprintf("Note \"%s\" %s", text, at)
		}
		return "Empty note " + at
	case "frame":
		if name, _ := shape.Props["name"].(string); name != "" {
			return fmt.Sprintf("Frame \"%s\" %s", name, at)
		}
		return "Frame " + at
	default:
		return shape.Type + " " + at
	}
}

// DescribeChanges summarizes one batch of student edits.
func DescribeChanges(added, modified []Shape, deleted []string) string {
	var parts []string

	if len(added) > 0 {
		types := make([]string, len(added))
		for i, s := range added {
			types[i] = s.Type
		}
		parts = append(parts, "Added: "+strings.Join(types, ", "))
	}
	if len(modified) > 0 {
		parts = append(parts, fmt.Sprintf("Modified: %d element(s)", len(modified)))
	}
	if len(deleted) > 0 {
		parts = append(parts, fmt.Sprintf("Deleted: %d element(s)", len(deleted)))
	}

	if len(parts) == 0 {
		return "No changes detected."
	}
	return strings.Join(parts, "; ")
}

// MathContent returns text shapes that look like math work.
func MathContent(shapes []Shape) []string {
	var out []string
	for _, shape := range shapes {
		if shape.Type != "text" {
			continue
		}
		if text := PlainText(shape.Props); text != "" && looksLikeMath(text) {
			out = append(out, text)
		}
	}
	return out
}

func looksLikeMath(text string) bool {
	hasDigit := strings.IndexFunc(text, unicode.IsDigit) >= 0
	if !hasDigit {
		return false
	}
	lower := strings.ToLower(text)
	for _, ind := range []string{"+", "-", "*", "/", "=", "^", "x", "y", "z", "(", ")", "sqrt", "sin", "cos", "tan", "log"} {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
