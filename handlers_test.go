package aether

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/aether/views"
)

func TestHomeRendersAllSections(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	rec := b.get("/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, want := range []string{
		`id="hero"`, `id="features"`, `id="blog"`, `data-chat`, `data-image-panel`,
		`data-newsletter`, `id="contact"`, `class="site-footer"`,
		`href="/blog/2/"`, "Glassmorphism vs. Neomorphism: The Visual War",
	} {
		assert.Contains(t, body, want)
	}
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, body, "Access code required", "panel starts locked")
}

func TestHomeSectionsPartial(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	rec := b.partial("/?partial=sections")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<!doctype html>")
	assert.Contains(t, rec.Body.String(), `id="sections"`)
}

func TestPostDetail(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	rec := b.get("/blog/2/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Glassmorphism vs. Neomorphism: The Visual War")
	assert.Contains(t, body, "Glassmorphism provides the depth needed for")
	assert.Contains(t, body, `"@type":"BlogPosting"`)
	assert.Contains(t, body, "<!doctype html>")

	rec = b.partial("/blog/2/?partial=post")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<!doctype html>")
	assert.Contains(t, rec.Body.String(), `data-post-detail="2"`)
}

func TestUnknownPostIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	for _, path := range []string{"/blog/999/", "/blog/nope/", "/no-such-page/"} {
		rec := b.get(path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "Page not found", path)
	}
}

func TestPostTrailingSlashRedirect(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	rec := b.get("/blog/2")
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/blog/2/", rec.Header().Get("Location"))
}

func TestFeedAndSitemap(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	rec := b.get("/feed.xml")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/rss+xml")
	assert.Contains(t, rec.Body.String(), "<link>https://aether.example.com/blog/2/</link>")

	rec = b.get("/sitemap.xml")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<loc>https://aether.example.com/blog/4/</loc>")

	rec = b.get("/robots.txt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sitemap: https://aether.example.com/sitemap.xml")
}

func TestAssetsAreServed(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	for _, path := range []string{"/assets/aether.js", "/assets/aether.css", "/favicon.svg"} {
		rec := b.get(path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Body.Bytes(), path)
	}
}

func TestSubscribe(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	rec := b.postForm("/subscribe/", url.Values{"email": {"not-an-email"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "valid email")

	for i := 0; i < 2; i++ {
		rec = b.postForm("/subscribe/", url.Values{"email": {"reader@example.com"}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `role="status"`)
		assert.NotContains(t, rec.Body.String(), "data-newsletter-form")
	}

	subs, err := env.app.Store.ListSubscribers(t.Context())
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestSubscribeIsRateLimitedPerIP(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	for i := range 5 {
		rec := b.postForm("/subscribe/", url.Values{"email": {fmt.Sprintf("reader%d@example.com", i)}})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := b.postForm("/subscribe/", url.Values{"email": {"late@example.com"}})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "600", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "Too many sign-ups")

	env.clock.Advance(10*time.Minute + time.Second)
	rec = b.postForm("/subscribe/", url.Values{"email": {"late@example.com"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPostWithoutCSRFIsRejected(t *testing.T) {
	env := newTestEnv(t)

	body := strings.NewReader(url.Values{"email": {"reader@example.com"}}.Encode())
	r := httptest.NewRequest(http.MethodPost, "/subscribe/", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := (&browser{t: t, app: env.app, cookies: map[string]*http.Cookie{}}).do(r)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCustomRoutesAndViews(t *testing.T) {
	vf := DefaultViews()
	vf.NotFound = func(p views.Page) templ.Component {
		return templ.Raw("<p>lost in the aether</p>")
	}
	env := newTestEnv(t,
		WithViews(vf),
		WithCustomRoutes(func(a *App) {
			a.Echo.GET("/healthz/", func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			})
		}),
	)
	b := env.browser(t)

	rec := b.get("/healthz/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = b.get("/blog/nope/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "lost in the aether")
}
