package markdown

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func render(input string) string {
	var buf bytes.Buffer
	RenderMarkdown(&buf, input)
	return buf.String()
}

func TestRenderMarkdownHeadings(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"# Heading 1", "<h1>Heading 1</h1>"},
		{"## Heading 2", "<h2>Heading 2</h2>"},
		{"### Heading 3", "<h3>Heading 3</h3>"},
	}
	for _, tt := range tests {
		got := render(tt.input)
		if !strings.Contains(got, tt.expected) {
			t.Errorf("RenderMarkdown(%q) = %q, want it to contain %q", tt.input, got, tt.expected)
		}
	}
}

func TestRenderMarkdownInline(t *testing.T) {
	got := render("text **bold** and *italic* and `code`")
	for _, want := range []string{"<strong>bold</strong>", "<em>italic</em>", "<code>code</code>"} {
		if !strings.Contains(got, want) {
			t.Errorf("RenderMarkdown inline = %q, missing %q", got, want)
		}
	}
}

func TestRenderMarkdownCodeBlockWithLanguage(t *testing.T) {
	got := render("```go\nfmt.Println(\"hello\")\n```")
	if !strings.Contains(got, `class="language-go"`) {
		t.Errorf("code block should keep language-go class: %q", got)
	}
	if !strings.Contains(got, "<pre>") {
		t.Errorf("code block should render <pre>: %q", got)
	}
}

func TestRenderMarkdownExternalLinkOpensNewTab(t *testing.T) {
	got := render("[edge](https://example.com/edge_computing)")
	if !strings.Contains(got, `href="https://example.com/edge_computing"`) {
		t.Errorf("link href mangled: %q", got)
	}
	if !strings.Contains(got, `target="_blank"`) {
		t.Errorf("external link should open in a new tab: %q", got)
	}
}

func TestRenderMarkdownStripsScripts(t *testing.T) {
	got := render("hello <script>alert(1)</script>\n\n[x](javascript:alert(1))")
	if strings.Contains(got, "<script") {
		t.Errorf("script tag leaked: %q", got)
	}
	if strings.Contains(got, "javascript:") {
		t.Errorf("javascript URL leaked: %q", got)
	}
}

func TestRenderMarkdownTable(t *testing.T) {
	got := render("| a | b |\n|---|---|\n| 1 | 2 |")
	if !strings.Contains(got, "<table>") || !strings.Contains(got, "<td>1</td>") {
		t.Errorf("table not rendered: %q", got)
	}
}

func TestMarkdownComponent(t *testing.T) {
	var buf bytes.Buffer
	if err := Markdown("- one\n- two").Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "<li>one</li>") {
		t.Errorf("list not rendered: %q", buf.String())
	}
}

func TestSafeURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/blog/2/", "/blog/2/"},
		{"#chat", "#chat"},
		{"https://example.com", "https://example.com"},
		{"mailto:hi@example.com", "mailto:hi@example.com"},
		{"javascript:alert(1)", ""},
		{"example.com", ""},
		{"  ", ""},
	}
	for _, tt := range tests {
		if got := SafeURL(tt.input); got != tt.want {
			t.Errorf("SafeURL(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
