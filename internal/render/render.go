// Package render converts bot markdown to HTML and HTML back to plain text.
package render

import (
	"bytes"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	xhtml "golang.org/x/net/html"
)

// Markdown renders bot replies. GFM is enabled and single newlines become
// <br>, matching what visitors see in the widget.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown creates a markdown renderer.
func NewMarkdown() *Markdown {
	return &Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				html.WithUnsafe(),
			),
		),
	}
}

// Render converts markdown to HTML. When conversion fails the input is
// returned unchanged so the message is still shown.
func (m *Markdown) Render(text string) string {
	if text == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(text), &buf); err != nil {
		return text
	}
	return buf.String()
}

// StripHTML returns the text content of an HTML fragment, the way a browser
// element's textContent would read it. Script and style bodies are dropped.
func StripHTML(s string) string {
	if !strings.Contains(s, "<") && !strings.Contains(s, "&") {
		return s
	}

	z := xhtml.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			if z.Err() == io.EOF {
				return b.String()
			}
			return s
		case xhtml.StartTagToken:
			if name, _ := z.TagName(); isRawTag(name) {
				skip++
			}
		case xhtml.EndTagToken:
			if name, _ := z.TagName(); isRawTag(name) && skip > 0 {
				skip--
			}
		case xhtml.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isRawTag(name []byte) bool {
	return string(name) == "script" || string(name) == "style"
}
