package canvas

import "strings"

// RichText wraps plain text in the TipTap document the canvas stores for
// text shapes. Each line becomes a paragraph.
func RichText(text string) map[string]interface{} {
	lines := strings.Split(text, "\n")
	content := make([]interface{}, 0, len(lines))
	for _, line := range lines {
		para := map[string]interface{}{"type": "paragraph"}
		if line != "" {
			para["content"] = []interface{}{
				map[string]interface{}{"type": "text", "text": line},
			}
		}
		content = append(content, para)
	}
	return map[string]interface{}{
		"type":    "doc",
		"content": content,
	}
}

// PlainText extracts text from shape props, preferring a plain "text" prop
// over the rich text document.
func PlainText(props map[string]interface{}) string {
	if text, ok := props["text"].(string); ok && text != "" {
		return text
	}
	switch rich := props["richText"].(type) {
	case string:
		return rich
	case map[string]interface{}:
		var parts []string
		collectText(rich, &parts)
		return strings.Join(parts, " ")
	}
	return ""
}

func collectText(node map[string]interface{}, parts *[]string) {
	if node["type"] == "text" {
		if text, ok := node["text"].(string); ok {
			*parts = append(*parts, text)
		}
	}
	children, _ := node["content"].([]interface{})
	for _, child := range children {
		if m, ok := child.(map[string]interface{}); ok {
			collectText(m, parts)
		}
	}
}
