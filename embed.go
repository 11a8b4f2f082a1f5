package aether

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// EmbeddedAssets contains the static files served under /assets/:
// aether.css, aether.js and favicon.svg.
//
//go:embed assets/*
var EmbeddedAssets embed.FS

func assetsFS() fs.FS {
	sub, err := fs.Sub(EmbeddedAssets, "assets")
	if err != nil {
		panic(err)
	}
	return sub
}

func handleFavicon(c echo.Context) error {
	data, err := EmbeddedAssets.ReadFile("assets/favicon.svg")
	if err != nil {
		return err
	}
	c.Response().Header().Set("Cache-Control", "public, max-age=86400")
	return c.Blob(http.StatusOK, "image/svg+xml", data)
}

func (a *App) handleRobots(c echo.Context) error {
	var b strings.Builder
	b.WriteString("User-agent: *\n")
	b.WriteString("Disallow: /admin/\n")
	b.WriteString("Disallow: /api/\n")
	b.WriteString("\nSitemap: " + strings.TrimRight(a.Config.URL, "/") + "/sitemap.xml\n")
	return c.String(http.StatusOK, b.String())
}
