package views

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/aether/activity"
	"github.com/eringen/aether/chat"
	"github.com/eringen/aether/content"
	"github.com/eringen/aether/imagegen"
)

func renderString(t *testing.T, c templ.Component) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Render(context.Background(), &buf))
	return buf.String()
}

func testPage(t *testing.T) (Page, *content.Site) {
	t.Helper()
	site, err := content.Load()
	require.NoError(t, err)
	return Page{
		Site: SiteConfig{Name: "Aether", URL: "https://aether.example"},
		Meta: PageMeta{Title: "Aether", URL: "https://aether.example/", OGType: "website"},
		CSRF: "tok",
		Copy: site,
	}, site
}

func findPost(t *testing.T, site *content.Site, id string) content.BlogPost {
	t.Helper()
	for _, p := range site.Posts {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("post %s not found", id)
	return content.BlogPost{}
}

func TestHomeRendersAllSections(t *testing.T) {
	p, site := testPage(t)
	out := renderString(t, Home(HomeData{
		Page:  p,
		Posts: site.Posts,
		Chat: ChatData{
			Copy:     site.Chat,
			Messages: []chat.Message{{ID: "m1", Role: chat.RoleAssistant, Content: site.Chat.Greeting}},
			CSRF:     "tok",
		},
		Image:      ImageData{Copy: site.Image, CSRF: "tok"},
		Newsletter: NewsletterData{Copy: site.Newsletter, CSRF: "tok"},
	}))

	assert.Contains(t, out, "<!doctype html>")
	assert.Contains(t, out, `<meta name="csrf-token" content="tok">`)
	for _, id := range []string{`id="hero"`, `id="features"`, `id="blog"`, `id="chat"`, `id="design"`, `id="pricing"`, `id="contact"`} {
		assert.Contains(t, out, id)
	}
	assert.Contains(t, out, `href="/blog/2/"`)
	assert.Contains(t, out, "Latest Insights")
	assert.Contains(t, out, `data-message="m1"`)
	assert.Contains(t, out, "/assets/aether.js")
}

func TestSectionsPartialHasNoLayout(t *testing.T) {
	p, site := testPage(t)
	out := renderString(t, Sections(HomeData{Page: p, Posts: site.Posts}))
	assert.Contains(t, out, `id="sections"`)
	assert.NotContains(t, out, "<html")
}

func TestPostTwoRendersTitleAndBody(t *testing.T) {
	p, site := testPage(t)
	post := findPost(t, site, "2")
	data := PostData{Page: p, Post: post, Related: content.Related(post, site.Posts, 3)}

	full := renderString(t, Post(data))
	assert.Contains(t, full, "Glassmorphism vs. Neomorphism: The Visual War")
	assert.Contains(t, full, "Glassmorphism provides the depth needed for")
	assert.Contains(t, full, `"@type":"BlogPosting"`)
	assert.Contains(t, full, "<html")

	partial := renderString(t, PostPartial(data))
	assert.Contains(t, partial, `data-post-detail="2"`)
	assert.Contains(t, partial, "Sep 12, 2025")
	assert.NotContains(t, partial, "<html")
}

func TestNotFoundPage(t *testing.T) {
	p, _ := testPage(t)
	out := renderString(t, NotFound(p))
	assert.Contains(t, out, "Page not found")
	out = renderString(t, ServerError(Page{Site: SiteConfig{Name: "Aether"}}))
	assert.Contains(t, out, "Something went wrong")
}

func TestChatMessageRendering(t *testing.T) {
	out := renderString(t, ChatPanel(ChatData{
		Messages: []chat.Message{
			{ID: "u", Role: chat.RoleUser, Content: "<b>hi</b>"},
			{ID: "a", Role: chat.RoleAssistant, Content: "**bold**", Sources: []chat.Source{{Title: "Docs", URL: "https://example.com"}}},
		},
		Cooldown: 12,
	}))
	assert.Contains(t, out, "&lt;b&gt;hi&lt;/b&gt;")
	assert.Contains(t, out, "<strong>bold</strong>")
	assert.Contains(t, out, `href="https://example.com"`)
	assert.Contains(t, out, "disabled")
	assert.Contains(t, out, "12s")
}

func TestChatSourceLinksAreSanitized(t *testing.T) {
	out := renderString(t, ChatPanel(ChatData{
		Messages: []chat.Message{{ID: "a", Role: chat.RoleAssistant, Content: "x", Sources: []chat.Source{{Title: "bad", URL: "javascript:alert(1)"}}}},
	}))
	assert.NotContains(t, out, "javascript:")
	assert.Contains(t, out, string(templ.FailedSanitizationURL))
}

func TestFragmentsStopOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, c := range map[string]templ.Component{
		"sections":   Sections(HomeData{}),
		"image":      ImagePanel(ImageData{Unlocked: true}),
		"newsletter": Newsletter(NewsletterData{}),
		"post":       PostPartial(PostData{}),
	} {
		var buf bytes.Buffer
		assert.ErrorIs(t, c.Render(ctx, &buf), context.Canceled, name)
		assert.Zero(t, buf.Len(), name)
	}
}

func TestLockedImagePanelHidesControls(t *testing.T) {
	out := renderString(t, ImagePanel(ImageData{Unlocked: false, GateError: "Invalid access code."}))
	assert.Contains(t, out, "data-image-unlock")
	assert.Contains(t, out, "Invalid access code.")
	assert.NotContains(t, out, "data-image-form")
	assert.NotContains(t, out, `name="prompt"`)
}

func TestUnlockedImagePanel(t *testing.T) {
	cur := imagegen.Record{ID: "b", URL: "/api/image/b", ThumbURL: "/api/image/b/thumb", Prompt: "nebula"}
	older := imagegen.Record{ID: "a", URL: "/api/image/a", ThumbURL: "/api/image/a/thumb", Prompt: "city"}
	defaults := imagegen.Params{}
	defaults.Normalize()

	out := renderString(t, ImagePanel(ImageData{
		Unlocked: true,
		State: imagegen.PanelState{
			Current: &cur,
			Error:   "Rate limited. Please wait a moment.",
			History: []imagegen.Record{cur, older},
		},
		Models:   imagegen.Models,
		Defaults: defaults,
	}))
	assert.Contains(t, out, "data-image-form")
	assert.NotContains(t, out, "data-image-unlock")
	assert.Contains(t, out, `class="thumb active" data-select="b"`)
	assert.Contains(t, out, `class="thumb" data-select="a"`)
	assert.Contains(t, out, `<option value="flux-1-schnell" selected>`)
	assert.Contains(t, out, "Rate limited")
}

func TestNewsletterStates(t *testing.T) {
	out := renderString(t, Newsletter(NewsletterData{Email: "bad", Error: "Please enter a valid email address."}))
	assert.Contains(t, out, "data-newsletter-form")
	assert.Contains(t, out, `value="bad"`)
	assert.Contains(t, out, "valid email")

	out = renderString(t, Newsletter(NewsletterData{Message: "Thanks!"}))
	assert.NotContains(t, out, "data-newsletter-form")
	assert.Contains(t, out, "Thanks!")
}

func TestAdminDashboard(t *testing.T) {
	p, site := testPage(t)
	out := renderString(t, AdminDashboard(AdminData{
		Page:        p,
		Posts:       site.Posts,
		Subscribers: []Subscriber{{Email: "a@example.com", Since: "Oct 01, 2025"}},
	}))
	assert.Contains(t, out, "a@example.com")
	assert.Contains(t, out, "Activity tracking is disabled.")

	out = renderString(t, AdminDashboard(AdminData{
		Page: p,
		Stats: &activity.Stats{
			From:     time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
			Total:    3,
			Visitors: 2,
			ByKind:   []activity.KindStat{{Kind: activity.KindChatSent, Count: 3, Visitors: 2}},
		},
	}))
	assert.Contains(t, out, "3 events from 2 visitors since Oct 01, 2025.")
	assert.Contains(t, out, "chat_sent")
}

func TestAdminLogin(t *testing.T) {
	p, _ := testPage(t)
	out := renderString(t, AdminLogin(AdminLoginData{Page: p, ShowError: true}))
	assert.Contains(t, out, `action="/admin/login/"`)
	assert.Contains(t, out, "Invalid password")
}

func TestBlogPostingJsonLDUsesID(t *testing.T) {
	got := BlogPostingJsonLD(SiteConfig{Name: "Aether", URL: "https://aether.example"}, content.BlogPost{ID: "2", Title: "T"})
	assert.Contains(t, got, `"url":"https://aether.example/blog/2/"`)
}

func TestNavHref(t *testing.T) {
	assert.Equal(t, "/#blog", navHref("#blog"))
	assert.Equal(t, "https://example.com", navHref("https://example.com"))
	assert.Equal(t, "", navHref("javascript:alert(1)"))
}
