// Package markdown renders Markdown to sanitized HTML as a templ component.
// Post bodies and assistant replies both pass through here.
package markdown

import (
	"bytes"
	"context"
	"html"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/a-h/templ"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

var (
	md = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)
	policy = newPolicy()
)

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[a-zA-Z0-9+#-]+$`)).OnElements("code")
	p.AllowAttrs("loading", "decoding").OnElements("img")
	p.RequireNoFollowOnFullyQualifiedLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// Markdown returns a templ.Component that renders content as HTML.
func Markdown(content string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var buf bytes.Buffer
		RenderMarkdown(&buf, content)
		_, err := w.Write(buf.Bytes())
		return err
	})
}

// RenderMarkdown writes the sanitized HTML representation of src to buf.
// If conversion fails the source is written escaped inside a paragraph.
func RenderMarkdown(buf *bytes.Buffer, src string) {
	var raw bytes.Buffer
	if err := md.Convert([]byte(src), &raw); err != nil {
		buf.WriteString("<p>")
		buf.WriteString(html.EscapeString(src))
		buf.WriteString("</p>")
		return
	}
	buf.Write(policy.SanitizeBytes(raw.Bytes()))
}

// HTML renders src and returns the result as a string.
func HTML(src string) string {
	var buf bytes.Buffer
	RenderMarkdown(&buf, src)
	return buf.String()
}

// SafeURL validates a URL for use in an href attribute. Relative paths and
// http(s), mailto and tel URLs pass; anything else yields "".
func SafeURL(raw string) string {
	val := strings.TrimSpace(html.UnescapeString(raw))
	if val == "" {
		return ""
	}
	if strings.HasPrefix(val, "/") || strings.HasPrefix(val, "#") {
		return val
	}
	parsed, err := url.Parse(val)
	if err != nil || parsed.Scheme == "" {
		return ""
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https", "mailto", "tel":
		return val
	default:
		return ""
	}
}
