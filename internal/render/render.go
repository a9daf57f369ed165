// Package render turns lightweight markup (Markdown) into displayable output.
//
// Every function here is a pure transformation of its input text: calling it
// repeatedly on growing prefixes of a streamed reply is how live updates are
// drawn, so no call may depend on a previous one.
package render

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/zhouzirui/tavern-chat/internal/model/chat"
)

// DefaultTerminalStyle is the glamour style used by Terminal.
const DefaultTerminalStyle = "dark"

// Both engines are immutable after construction and safe for concurrent use.
var (
	markdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		// Raw HTML in the source is dropped, never passed through.
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)
	policy = newPolicy()
)

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[\w+-]+$`)).OnElements("code")
	p.RequireNoFollowOnLinks(true)
	return p
}

// HTML renders Markdown text as sanitized HTML. When conversion fails the raw
// text is returned escaped inside a <pre> block.
func HTML(text string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		log.Warn().Err(err).Str("component", "render").Msg("markdown conversion failed, showing raw text")
		return Raw(text)
	}
	return policy.Sanitize(buf.String())
}

// Raw escapes text for display without interpreting any markup.
func Raw(text string) string {
	return "<pre>" + html.EscapeString(text) + "</pre>"
}

// TurnHTML renders each part of a turn and concatenates the results.
func TurnHTML(turn chat.Turn) string {
	var b strings.Builder
	for _, part := range turn.Parts {
		b.WriteString(HTML(part.Text))
	}
	return b.String()
}

// Terminal renders Markdown for an ANSI terminal wrapped at width columns.
// It falls back to the unmodified text on error.
func Terminal(text string, width int) string {
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(DefaultTerminalStyle),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		log.Warn().Err(err).Str("component", "render").Msg("terminal renderer unavailable")
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return out
}
