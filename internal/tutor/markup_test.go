package tutor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lexiqai/tutor-client/internal/protocol"
)

func TestParseReplyStripsTagsInOrder(t *testing.T) {
	reply := ParseReply(`Let's write it down. [WRITE: text="2 + 2", x=100, y=120, color=yellow, size=l] Now what is the answer? [HIGHLIGHT: ids="shape:a, shape:b"]`)

	require.Equal(t, "Let's write it down. Now what is the answer?", reply.Speech)
	require.Len(t, reply.Commands, 2)

	write, ok := reply.Commands[0].(protocol.AddAnimatedText)
	require.True(t, ok)
	require.Equal(t, "2 + 2", write.Text)
	require.Equal(t, 100.0, write.X)
	require.Equal(t, 120.0, write.Y)
	require.Equal(t, "yellow", write.Color)
	require.Equal(t, "l", write.Size)
	require.Nil(t, write.Anchor)

	highlight, ok := reply.Commands[1].(protocol.Highlight)
	require.True(t, ok)
	require.Equal(t, []string{"shape:a", "shape:b"}, highlight.ShapeIDs)
}

func TestParseReplyDrawText(t *testing.T) {
	reply := ParseReply(`[DRAW: type=text, x=40, y=-10, text="x = 5, y = 2", color=purple, size=huge]`)

	require.Empty(t, reply.Speech)
	require.Len(t, reply.Commands, 1)

	add := reply.Commands[0].(protocol.AddShape)
	require.True(t, strings.HasPrefix(add.Shape.ID, "shape:"))
	require.Equal(t, "text", add.Shape.Type)
	require.Equal(t, 40.0, add.Shape.X)
	require.Equal(t, -10.0, add.Shape.Y)
	require.Equal(t, "x = 5, y = 2", add.Shape.Props["text"])
	require.Equal(t, "white", add.Shape.Props["color"])
	require.Equal(t, "m", add.Shape.Props["size"])
	require.Equal(t, "draw", add.Shape.Props["font"])
}

func TestParseReplyDrawGeoAndArrow(t *testing.T) {
	reply := ParseReply(`[draw: type=ellipse, x=10, y=20, width=50, height=30, color=red][DRAW: type=arrow, length=80][DRAW: type=star]`)

	require.Len(t, reply.Commands, 2)

	geo := reply.Commands[0].(protocol.AddShape)
	require.Equal(t, "geo", geo.Shape.Type)
	require.Equal(t, "ellipse", geo.Shape.Props["geo"])
	require.Equal(t, "red", geo.Shape.Props["color"])
	require.Equal(t, 50.0, geo.Shape.Props["w"])
	require.Equal(t, 30.0, geo.Shape.Props["h"])

	arrow := reply.Commands[1].(protocol.AddShape)
	require.Equal(t, "arrow", arrow.Shape.Type)
	require.Equal(t, float64(protocol.DefaultTextX), arrow.Shape.X)
	end := arrow.Shape.Props["end"].(map[string]interface{})
	require.Equal(t, 80.0, end["x"])
}

func TestParseReplyAnchors(t *testing.T) {
	reply := ParseReply(`[WRITE: text="= 4", anchor=shape:eq1, dx=120] [POINT: label="here", anchor=shape:eq1, dy=-30]`)

	require.Len(t, reply.Commands, 2)

	write := reply.Commands[0].(protocol.AddAnimatedText)
	require.Equal(t, &protocol.Anchor{ShapeID: "shape:eq1", DX: 120}, write.Anchor)

	point := reply.Commands[1].(protocol.AttentionTo)
	require.Equal(t, "here", point.Label)
	require.Equal(t, &protocol.Anchor{ShapeID: "shape:eq1", DY: -30}, point.Anchor)
}

func TestParseReplyCanvasControl(t *testing.T) {
	reply := ParseReply(`Great job! [CELEBRATE: big] [CLEAR_CANVAS] [PAN_TO: x=0, y=400] [PAN_TO: x=5] [CLEAR_POINTER]`)

	require.Equal(t, "Great job!", reply.Speech)
	require.Equal(t, "big", reply.Celebrate)
	require.Equal(t, []protocol.Command{
		protocol.ClearCanvas{},
		protocol.PanTo{X: 0, Y: 400},
		protocol.ClearAttention{},
	}, reply.Commands)
}

func TestParseReplyDropsEmptyText(t *testing.T) {
	reply := ParseReply(`Hmm. [WRITE: x=10] [DRAW: type=text] [HIGHLIGHT: ids=""] [CELEBRATE]`)

	require.Equal(t, "Hmm.", reply.Speech)
	require.Empty(t, reply.Commands)
	require.Equal(t, "small", reply.Celebrate)
}

func TestParseReplyPlainText(t *testing.T) {
	reply := ParseReply("  What do you\n think  comes next?  ")

	require.Equal(t, "What do you think comes next?", reply.Speech)
	require.Empty(t, reply.Commands)
	require.Empty(t, reply.Celebrate)
}

func TestBuildTurnPrompt(t *testing.T) {
	prompt := buildTurnPrompt("is it 4?", "Text \"2+2\" at (100, 100)", []string{"Added: Text \"4\""})

	require.Equal(t, "Current canvas state:\nText \"2+2\" at (100, 100)\n\n"+
		"The student just changed the canvas:\n- Added: Text \"4\"\n\n"+
		"Student: is it 4?", prompt)
	require.Equal(t, "Student: hi", buildTurnPrompt("hi", "", nil))
}
