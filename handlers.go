package aether

import (
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/eringen/aether/activity"
	"github.com/eringen/aether/content"
	"github.com/eringen/aether/imagegen"
	"github.com/eringen/aether/views"
)

func isPartial(c echo.Context, name string) bool {
	return c.Request().Header.Get("HX-Request") == "true" && c.QueryParam("partial") == name
}

func (a *App) siteView() views.SiteConfig {
	return views.SiteConfig{
		Name:        a.Config.Name,
		URL:         a.Config.URL,
		Description: a.Config.Description,
	}
}

func (a *App) page(c echo.Context, meta views.PageMeta) views.Page {
	if meta.Description == "" {
		meta.Description = a.Config.Description
	}
	if meta.OGType == "" {
		meta.OGType = "website"
	}
	return views.Page{
		Site: a.siteView(),
		Meta: meta,
		CSRF: CsrfToken(c),
		Copy: a.Content,
	}
}

func (a *App) handleHome(c echo.Context) error {
	sid, err := visitorID(c)
	if err != nil {
		return err
	}
	posts, err := a.Cache.ListPosts()
	if err != nil {
		return err
	}

	// A fresh page load starts a fresh conversation; the image panel survives.
	conv := a.conversations.Get(sid)
	if !conv.Busy() {
		conv.Reset(a.Content.Chat.Greeting)
	}

	data := views.HomeData{
		Page: a.page(c, views.PageMeta{
			Title: a.Config.Name + " | " + a.Content.Tagline,
			URL:   BuildURL(a.Config.URL),
		}),
		Posts: posts,
		Chat: views.ChatData{
			Copy:     a.Content.Chat,
			Messages: conv.Messages(),
			Provider: a.Chat.ProviderName(),
			Cooldown: seconds(a.cooldowns.Remaining(chatKey(sid))),
			CSRF:     CsrfToken(c),
		},
		Image:      a.imageData(c, sid, ""),
		Newsletter: views.NewsletterData{Copy: a.Content.Newsletter, CSRF: CsrfToken(c)},
	}
	if isPartial(c, "sections") {
		return Render(c, a.Views.Sections(data))
	}
	return Render(c, a.Views.Home(data))
}

func (a *App) imageData(c echo.Context, sid, gateErr string) views.ImageData {
	gate := imagegen.NewGate(sessionCodeStore{c}, a.Config.Image.AccessCode)
	var defaults imagegen.Params
	defaults.Normalize()
	return views.ImageData{
		Copy:      a.Content.Image,
		Unlocked:  gate.Unlocked(),
		State:     a.panels.Get(sid).Snapshot(),
		Models:    imagegen.Models,
		Defaults:  defaults,
		Cooldown:  seconds(a.cooldowns.Remaining(imageKey(sid))),
		GateError: gateErr,
		CSRF:      CsrfToken(c),
	}
}

func (a *App) handlePost(c echo.Context) error {
	id := c.Param("id")
	post, err := a.Cache.GetPost(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RenderStatus(c, http.StatusNotFound, a.Views.NotFound(a.page(c, views.PageMeta{Title: "Not found"})))
		}
		return err
	}
	posts, err := a.Cache.ListPosts()
	if err != nil {
		return err
	}
	data := views.PostData{
		Page: a.page(c, views.PageMeta{
			Title:       post.Title + " | " + a.Config.Name,
			Description: post.Excerpt,
			URL:         BuildURL(a.Config.URL, "blog", post.ID),
			OGType:      "article",
		}),
		Post:    post,
		Related: content.Related(post, posts, 3),
	}
	if isPartial(c, "post") {
		return Render(c, a.Views.PostPartial(data))
	}
	return Render(c, a.Views.Post(data))
}

func (a *App) handleSubscribe(c echo.Context) error {
	email := strings.TrimSpace(c.FormValue("email"))
	data := views.NewsletterData{Copy: a.Content.Newsletter, Email: email, CSRF: CsrfToken(c)}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		data.Error = "Please enter a valid email address."
		return RenderStatus(c, http.StatusBadRequest, a.Views.Newsletter(data))
	}
	if !a.subLimiter.Allow(c.RealIP()) {
		c.Response().Header().Set("Retry-After", strconv.Itoa(seconds(a.subLimiter.Remaining(c.RealIP()))))
		data.Error = "Too many sign-ups from your network. Try again later."
		return RenderStatus(c, http.StatusTooManyRequests, a.Views.Newsletter(data))
	}
	switch err := a.Store.Subscribe(c.Request().Context(), addr.Address); {
	case err == nil:
		a.record(c, activity.KindSubscribed, "")
	case errors.Is(err, ErrAlreadySubscribed):
	default:
		return err
	}
	data.Email = ""
	data.Message = a.Content.Newsletter.Success
	return Render(c, a.Views.Newsletter(data))
}

func (a *App) handleSitemap(c echo.Context) error {
	posts, err := a.Cache.ListPosts()
	if err != nil {
		return err
	}
	return a.renderSitemap(c, posts)
}

func (a *App) handleFeed(c echo.Context) error {
	posts, err := a.Cache.ListPosts()
	if err != nil {
		return err
	}
	return a.renderRSS(c, posts)
}

func handleBlogRedirect(c echo.Context) error {
	return c.Redirect(http.StatusMovedPermanently, "/#blog")
}

// record logs an activity event for the current visitor. Tracking failures
// never fail the request.
func (a *App) record(c echo.Context, kind activity.Kind, detail string) {
	if a.Activity == nil {
		return
	}
	ev := activity.Event{
		Kind:        kind,
		VisitorHash: activity.HashVisitor(c.RealIP(), c.Request().UserAgent()),
		Detail:      detail,
		Timestamp:   a.now(),
	}
	if err := a.Activity.Record(c.Request().Context(), ev); err != nil {
		a.Log.Warn("record activity", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	ok := errors.As(err, &he)
	if ok && he.Code == http.StatusNotFound && !strings.HasPrefix(c.Request().URL.Path, "/api/") {
		_ = RenderStatus(c, http.StatusNotFound, a.Views.NotFound(a.page(c, views.PageMeta{Title: "Not found"})))
		return
	}
	code := http.StatusInternalServerError
	if ok {
		code = he.Code
	}
	if code >= 500 {
		a.Log.Error("server error",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Error(err),
		)
		if strings.HasPrefix(c.Request().URL.Path, "/api/") {
			_ = c.JSON(code, map[string]string{"error": http.StatusText(code)})
			return
		}
		_ = RenderStatus(c, code, a.Views.ServerError(a.page(c, views.PageMeta{Title: "Error"})))
		return
	}
	a.Echo.DefaultHTTPErrorHandler(err, c)
}
