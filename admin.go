package aether

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/eringen/aether/activity"
	"github.com/eringen/aether/content"
	"github.com/eringen/aether/views"
)

const statsWindow = 30 * 24 * time.Hour

func (a *App) handleAdmin(c echo.Context) error {
	if !IsAdmin(c) {
		return Render(c, a.Views.AdminLogin(views.AdminLoginData{Page: a.adminPage(c, "Sign in")}))
	}
	return a.renderAdminDashboard(c, c.QueryParam("msg"))
}

func (a *App) handleAdminLogin(c echo.Context) error {
	if !a.loginLimiter.Allow(c.RealIP()) {
		return c.String(http.StatusTooManyRequests, "Too many login attempts. Try again later.")
	}
	pass := c.FormValue("password")
	if subtle.ConstantTimeCompare([]byte(pass), []byte(a.Config.AdminPassword)) == 1 {
		if err := setAdminSession(c); err != nil {
			return err
		}
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	return RenderStatus(c, http.StatusUnauthorized, a.Views.AdminLogin(views.AdminLoginData{
		Page:      a.adminPage(c, "Sign in"),
		ShowError: true,
	}))
}

func handleAdminLogout(c echo.Context) error {
	if err := clearAdminSession(c); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/admin/")
}

// handleAdminReseed reloads the bundled content into the posts table.
func (a *App) handleAdminReseed(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	site, err := content.Load()
	if err != nil {
		return err
	}
	n, err := content.Seed(a.Store, site.Posts)
	if err != nil {
		return err
	}
	a.Cache.Invalidate()
	a.Log.Info("posts reseeded", zap.Int("count", n))
	return a.renderAdminDashboard(c, fmt.Sprintf("Reloaded %d posts.", n))
}

func (a *App) handleAdminActivity(c echo.Context) error {
	if !IsAdmin(c) {
		return c.JSON(http.StatusUnauthorized, apiError{Error: "unauthorized"})
	}
	if a.Activity == nil {
		return c.JSON(http.StatusNotFound, apiError{Error: "activity tracking is disabled"})
	}
	stats, err := a.activityStats(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (a *App) activityStats(c echo.Context) (*activity.Stats, error) {
	to := a.now()
	return a.Activity.Stats(c.Request().Context(), to.Add(-statsWindow), to)
}

func (a *App) adminPage(c echo.Context, title string) views.Page {
	return a.page(c, views.PageMeta{Title: title + " | " + a.Config.Name})
}

func (a *App) renderAdminDashboard(c echo.Context, msg string) error {
	posts, err := a.Store.ListAllPosts()
	if err != nil {
		return err
	}
	subs, err := a.Store.ListSubscribers(c.Request().Context())
	if err != nil {
		return err
	}
	rows := make([]views.Subscriber, len(subs))
	for i, s := range subs {
		rows[i] = views.Subscriber{Email: s.Email, Since: s.CreatedAt.Format("Jan 02, 2006")}
	}
	data := views.AdminData{
		Page:        a.adminPage(c, "Dashboard"),
		Posts:       posts,
		Subscribers: rows,
		Message:     msg,
	}
	if a.Activity != nil {
		if data.Stats, err = a.activityStats(c); err != nil {
			return err
		}
	}
	return Render(c, a.Views.AdminDashboard(data))
}
