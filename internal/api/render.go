// ABOUTME: Markdown-to-HTML rendering for message bodies
// ABOUTME: Produces the text_html field browser clients display directly

package api

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// renderMessageHTML renders message text as markdown HTML. On render failure
// it returns an empty string and clients fall back to the plain text field.
func renderMessageHTML(text string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return ""
	}
	return buf.String()
}
