package views

import (
	"github.com/eringen/aether/activity"
	"github.com/eringen/aether/chat"
	"github.com/eringen/aether/content"
	"github.com/eringen/aether/imagegen"
)

// SiteConfig holds the site-wide settings templates need.
type SiteConfig struct {
	Name        string
	URL         string
	Description string
}

// PageMeta carries per-page OpenGraph and SEO metadata into the <head> template.
type PageMeta struct {
	Title       string
	Description string
	URL         string // canonical + og:url
	OGType      string // "website" or "article"
}

// Page is embedded by every full-page data struct.
type Page struct {
	Site SiteConfig
	Meta PageMeta
	CSRF string
	Copy *content.Site
}

// ChatData drives the chat panel.
type ChatData struct {
	Copy     content.Section
	Messages []chat.Message
	Provider string
	Cooldown int // seconds left before another message may be sent
	CSRF     string
}

// ImageData drives the image panel. With Unlocked false only the access-code
// prompt is rendered.
type ImageData struct {
	Copy      content.Section
	Unlocked  bool
	State     imagegen.PanelState
	Models    []string
	Defaults  imagegen.Params
	Cooldown  int
	GateError string
	CSRF      string
}

// NewsletterData drives the newsletter call to action.
type NewsletterData struct {
	Copy    content.Newsletter
	Email   string
	Message string
	Error   string
	CSRF    string
}

type HomeData struct {
	Page
	Posts      []content.BlogPost
	Chat       ChatData
	Image      ImageData
	Newsletter NewsletterData
}

type PostData struct {
	Page
	Post    content.BlogPost
	Related []content.BlogPost
}

type AdminLoginData struct {
	Page
	ShowError bool
}

// Subscriber is one newsletter row on the dashboard.
type Subscriber struct {
	Email string
	Since string
}

type AdminData struct {
	Page
	Posts       []content.BlogPost
	Subscribers []Subscriber
	Stats       *activity.Stats
	Message     string
}
