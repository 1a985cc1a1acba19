package canvas

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	require.Equal(t, "The canvas is empty.", Summarize(nil))

	shapes := []Shape{
		{Type: "text", X: 10, Y: 20, Props: TextProps("2x + 3 = 7", "white", "m")},
		{Type: "geo", X: 0, Y: 0, Props: map[string]interface{}{"geo": "ellipse"}},
		{Type: "arrow", X: 5, Y: 5},
		{Type: "note", X: 1, Y: 1},
	}
	want := "Canvas contains 4 element(s):\n" +
		"- Text \"2x + 3 = 7\" at (10, 20)\n" +
		"- Ellipse shape at (0, 0)\n" +
		"- Arrow at (5, 5)\n" +
		"- Empty note at (1, 1)"
	require.Equal(t, want, Summarize(shapes))
}

func TestDescribeChanges(t *testing.T) {
	require.Equal(t, "No changes detected.", DescribeChanges(nil, nil, nil))

	got := DescribeChanges(
		[]Shape{{Type: "draw"}, {Type: "text"}},
		[]Shape{{Type: "geo"}},
		[]string{"shape:x", "shape:y"},
	)
	require.Equal(t, "Added: draw, text; Modified: 1 element(s); Deleted: 2 element(s)", got)
}

func TestMathContent(t *testing.T) {
	shapes := []Shape{
		{Type: "text", Props: map[string]interface{}{"text": "3 + 4 = 7"}},
		{Type: "text", Props: map[string]interface{}{"text": "hello"}},
		{Type: "text", Props: map[string]interface{}{"text": "page 12"}},
		{Type: "geo", Props: map[string]interface{}{"text": "1+1"}},
	}
	require.Equal(t, []string{"3 + 4 = 7"}, MathContent(shapes))
}

func TestRichTextRoundTrip(t *testing.T) {
	props := TextProps("first\nsecond", "blue", "xxl")
	require.Equal(t, "first second", PlainText(props))
	require.Equal(t, "m", props["size"])
	require.Equal(t, "blue", props["color"])

	require.Equal(t, "plain", PlainText(map[string]interface{}{"text": "plain", "richText": RichText("rich")}))
	require.Equal(t, "", PlainText(nil))
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "white", NormalizeColor("chartreuse"))
	require.Equal(t, "violet", NormalizeColor("violet"))
	require.Equal(t, "l", NormalizeSize("l"))
	require.Contains(t, NewShapeID(), "shape:")
}
