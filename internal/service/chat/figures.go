package chat

import (
	"net/url"
	"strings"

	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
)

// RenderFigures turns attachment references into the inline markdown image
// references appended to an answer. Live CONTEXT events and resumed history
// go through this one function so both render identically.
func RenderFigures(figures []chat.Figure) string {
	var b strings.Builder
	for _, f := range figures {
		b.WriteString(" \n ![")
		b.WriteString(f.ContentType)
		b.WriteString("](/")
		b.WriteString(encodeURIComponent(f.FigurePath))
		b.WriteString(")")
	}
	return b.String()
}

var componentUnescapes = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// encodeURIComponent escapes s the way browsers do for a URI component, so
// links match the ones the web portal produces for the same path.
func encodeURIComponent(s string) string {
	return componentUnescapes.Replace(url.QueryEscape(s))
}
