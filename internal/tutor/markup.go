package tutor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/lexiqai/tutor-client/internal/canvas"
	"github.com/lexiqai/tutor-client/internal/protocol"
)

// Reply is one tutor response split into speech and canvas work.
type Reply struct {
	Speech    string
	Commands  []protocol.Command
	Celebrate string // "", "small" or "big"
}

// Canvas markup the model is prompted to emit, e.g.
//
//	[DRAW: type=text, x=100, y=200, text="x^2 + 3x = 0", color=white, size=m]
//	[WRITE: text="= 4", anchor=shape:abc, dx=120]
//	[HIGHLIGHT: ids="shape:a,shape:b"]
//	[POINT: x=300, y=220, label="here"]
//	[PAN_TO: x=0, y=400]
//	[CLEAR_CANVAS] [CLEAR_POINTER] [CELEBRATE: big]
var (
	tagPattern   = regexp.MustCompile(`(?i)\[(DRAW|WRITE|HIGHLIGHT|POINT|PAN_TO|CLEAR_CANVAS|CLEAR_POINTER|CELEBRATE)(?::\s*([^\]]*))?\]`)
	paramPattern = regexp.MustCompile(`(\w+)\s*=\s*(?:"([^"]*)"|([^,\s\]]+))`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// ParseReply strips markup tags from text and turns them into canvas
// commands in the order they appear. Malformed tags are dropped silently.
func ParseReply(text string) Reply {
	var reply Reply

	for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
		tag := strings.ToUpper(m[1])
		params := parseParams(m[2])

		switch tag {
		case "DRAW":
			if cmd, ok := drawCommand(params); ok {
				reply.Commands = append(reply.Commands, cmd)
			}
		case "WRITE":
			if cmd, ok := writeCommand(params); ok {
				reply.Commands = append(reply.Commands, cmd)
			}
		case "HIGHLIGHT":
			if ids := splitIDs(params["ids"]); len(ids) > 0 {
				reply.Commands = append(reply.Commands, protocol.Highlight{ShapeIDs: ids})
			}
		case "POINT":
			x, y := number(params, "x", 0), number(params, "y", 0)
			reply.Commands = append(reply.Commands, protocol.AttentionTo{
				X:      x,
				Y:      y,
				Label:  params["label"],
				Anchor: anchor(params),
			})
		case "PAN_TO":
			_, hasX := params["x"]
			_, hasY := params["y"]
			if hasX && hasY {
				reply.Commands = append(reply.Commands, protocol.PanTo{X: number(params, "x", 0), Y: number(params, "y", 0)})
			}
		case "CLEAR_CANVAS":
			reply.Commands = append(reply.Commands, protocol.ClearCanvas{})
		case "CLEAR_POINTER":
			reply.Commands = append(reply.Commands, protocol.ClearAttention{})
		case "CELEBRATE":
			reply.Celebrate = "small"
			if strings.EqualFold(strings.TrimSpace(m[2]), "big") || strings.EqualFold(params["intensity"], "big") {
				reply.Celebrate = "big"
			}
		}
	}

	cleaned := tagPattern.ReplaceAllString(text, " ")
	reply.Speech = strings.TrimSpace(spacePattern.ReplaceAllString(cleaned, " "))
	return reply
}

func parseParams(s string) map[string]string {
	params := make(map[string]string)
	for _, m := range paramPattern.FindAllStringSubmatch(s, -1) {
		key := strings.ToLower(m[1])
		if _, seen := params[key]; seen {
			continue
		}
		if m[2] != "" || strings.Contains(m[0], `"`) {
			params[key] = m[2]
		} else {
			params[key] = m[3]
		}
	}
	return params
}

func number(params map[string]string, key string, fallback float64) float64 {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func anchor(params map[string]string) *protocol.Anchor {
	id := params["anchor"]
	if id == "" {
		return nil
	}
	return &protocol.Anchor{ShapeID: id, DX: number(params, "dx", 0), DY: number(params, "dy", 0)}
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func drawCommand(params map[string]string) (protocol.Command, bool) {
	shape := protocol.Shape{
		ID: canvas.NewShapeID(),
		X:  number(params, "x", protocol.DefaultTextX),
		Y:  number(params, "y", protocol.DefaultTextY),
	}
	color := canvas.NormalizeColor(strings.ToLower(params["color"]))

	switch kind := strings.ToLower(params["type"]); kind {
	case "", "text":
		text := params["text"]
		if text == "" {
			return nil, false
		}
		shape.Type = "text"
		shape.Props = map[string]interface{}{
			"text":      text,
			"color":     color,
			"size":      canvas.NormalizeSize(strings.ToLower(params["size"])),
			"font":      "draw",
			"textAlign": "start",
		}
	case "geo", "rectangle", "ellipse", "triangle":
		shape.Type = "geo"
		shape.Props = canvas.GeoProps(kind, color, number(params, "width", 0), number(params, "height", 0))
		if text := params["text"]; text != "" {
			shape.Props["text"] = text
		}
	case "arrow":
		shape.Type = "arrow"
		shape.Props = canvas.ArrowProps(color, number(params, "length", 0))
	default:
		return nil, false
	}

	return protocol.AddShape{Shape: shape, Anchor: anchor(params)}, true
}

func writeCommand(params map[string]string) (protocol.Command, bool) {
	text := params["text"]
	if text == "" {
		return nil, false
	}
	return protocol.AddAnimatedText{
		Text:   text,
		X:      number(params, "x", protocol.DefaultTextX),
		Y:      number(params, "y", protocol.DefaultTextY),
		Color:  canvas.NormalizeColor(strings.ToLower(params["color"])),
		Size:   canvas.NormalizeSize(strings.ToLower(params["size"])),
		Anchor: anchor(params),
	}, true
}
