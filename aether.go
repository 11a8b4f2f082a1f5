// Package aether serves the Aether site: server-rendered marketing sections
// and blog, a streaming chat panel backed by a hosted LLM, and an image panel
// that proxies an external rendering worker behind an access code.
//
// Templates are supplied through the ViewFuncs struct (DefaultViews wires the
// bundled ones); aether owns handlers, middleware, sessions and storage.
package aether

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eringen/aether/activity"
	"github.com/eringen/aether/chat"
	"github.com/eringen/aether/content"
	"github.com/eringen/aether/imagegen"
	"github.com/eringen/aether/views"
)

// DefaultSystemPrompt is sent to the chat provider when none is configured.
const DefaultSystemPrompt = "You are Aether, an architectural consultant for digital products. " +
	"Answer concisely in Markdown. Prefer concrete, practical advice about design systems, " +
	"web architecture and edge deployment."

// ViewFuncs holds the templ components the App calls when rendering pages.
type ViewFuncs struct {
	Home           func(d views.HomeData) templ.Component
	Sections       func(d views.HomeData) templ.Component
	Post           func(d views.PostData) templ.Component
	PostPartial    func(d views.PostData) templ.Component
	ImagePanel     func(d views.ImageData) templ.Component
	Newsletter     func(d views.NewsletterData) templ.Component
	AdminLogin     func(d views.AdminLoginData) templ.Component
	AdminDashboard func(d views.AdminData) templ.Component
	NotFound       func(p views.Page) templ.Component
	ServerError    func(p views.Page) templ.Component
}

// DefaultViews returns the bundled templates.
func DefaultViews() ViewFuncs {
	return ViewFuncs{
		Home:           views.Home,
		Sections:       views.Sections,
		Post:           views.Post,
		PostPartial:    views.PostPartial,
		ImagePanel:     views.ImagePanel,
		Newsletter:     views.Newsletter,
		AdminLogin:     views.AdminLogin,
		AdminDashboard: views.AdminDashboard,
		NotFound:       views.NotFound,
		ServerError:    views.ServerError,
	}
}

// App is the central application. It wires together the store, cache,
// panels, handlers, middleware and templates.
type App struct {
	Config   SiteConfig
	Echo     *echo.Echo
	Log      *zap.Logger
	Store    *Store
	Cache    *PostCache
	Views    ViewFuncs
	Content  *content.Site
	Chat     *chat.Service
	Images   *imagegen.Client
	Activity *activity.Store

	chatProvider  chat.Provider
	conversations *Registry[*chat.Conversation]
	panels        *Registry[*imagegen.Panel]
	cooldowns     *Cooldowns
	loginLimiter  *Limiter
	subLimiter    *Limiter
	customRoutes  []func(*App)
	now           func() time.Time
	ready         bool
}

// New creates an App with the given configuration.
func New(cfg SiteConfig, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config: cfg,
		Echo:   echo.New(),
		Log:    zap.NewNop(),
		Views:  DefaultViews(),
		now:    time.Now,
	}
	a.Echo.HideBanner = true
	a.Echo.HidePort = true

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Setup validates the configuration, opens the databases, seeds content,
// builds the upstream clients and registers middleware and routes. Start
// calls it; tests call it directly and drive a.Echo with httptest.
func (a *App) Setup(ctx context.Context) error {
	if a.ready {
		return nil
	}
	if a.Config.Chat.SystemPrompt == "" {
		a.Config.Chat.SystemPrompt = DefaultSystemPrompt
	}
	if err := a.Config.Validate(); err != nil {
		return err
	}

	site, err := content.Load()
	if err != nil {
		return fmt.Errorf("aether: load content: %w", err)
	}
	a.Content = site

	store, err := NewStore(a.Config.DatabasePath)
	if err != nil {
		return fmt.Errorf("aether: init store: %w", err)
	}
	a.Store = store
	if _, err := content.Seed(store, site.Posts); err != nil {
		return fmt.Errorf("aether: %w", err)
	}
	// Panel history lives in memory, so renders from a previous run are unreachable.
	if n, err := store.DeleteImagesBefore(ctx, a.now()); err != nil {
		return fmt.Errorf("aether: drop stale images: %w", err)
	} else if n > 0 {
		a.Log.Info("dropped stale renders", zap.Int64("count", n))
	}

	a.Cache = NewPostCache(a.Store, a.Config.PostCacheTTL)

	if a.chatProvider == nil {
		p, err := newChatProvider(ctx, a.Config.Chat, a.Log.Named("chat"))
		if err != nil {
			return fmt.Errorf("aether: init chat: %w", err)
		}
		a.chatProvider = p
	}
	a.Chat = chat.NewService(a.chatProvider, a.Log.Named("chat"))

	if a.Images == nil {
		a.Images = imagegen.NewClient(a.Config.Image.Endpoint, a.Config.Image.Timeout, a.Log.Named("imagegen"))
	}

	if a.Config.ActivityEnabled {
		as, err := activity.NewStore(a.Config.ActivityDatabasePath)
		if err != nil {
			return fmt.Errorf("aether: init activity: %w", err)
		}
		a.Activity = as
		if err := activity.InitSalt(as); err != nil {
			return fmt.Errorf("aether: init activity salt: %w", err)
		}
	}

	if site.Chat.Greeting == "" {
		site.Chat.Greeting = chat.DefaultGreeting
	}
	a.conversations = NewRegistry(a.Config.SessionTTL, func() *chat.Conversation {
		return chat.NewConversation(site.Chat.Greeting)
	}, a.now)
	a.panels = NewRegistry(a.Config.SessionTTL, func() *imagegen.Panel {
		return &imagegen.Panel{}
	}, a.now)
	a.panels.OnEvict(func(sid string, _ *imagegen.Panel) {
		if _, err := a.Store.DeleteSessionImages(context.Background(), sid); err != nil {
			a.Log.Warn("delete session images", zap.String("session", sid), zap.Error(err))
		}
	})
	a.cooldowns = NewCooldowns(a.now)
	a.loginLimiter = NewLimiter(5, time.Minute, a.now)
	a.subLimiter = NewLimiter(5, 10*time.Minute, a.now)

	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}
	a.ready = true
	return nil
}

func newChatProvider(ctx context.Context, cfg ChatConfig, log *zap.Logger) (chat.Provider, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		p, err := chat.NewOpenAIProvider(chat.OpenAIConfig{
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			BaseURL:      cfg.BaseURL,
			SystemPrompt: cfg.SystemPrompt,
		}, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		p, err := chat.NewGeminiProvider(ctx, chat.GeminiConfig{
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			BaseURL:      cfg.BaseURL,
			SystemPrompt: cfg.SystemPrompt,
			GoogleSearch: cfg.GoogleSearch,
		}, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Start sets the App up and serves until ctx is cancelled. Background
// sweepers run alongside the server and stop with it.
func (a *App) Start(ctx context.Context) error {
	if err := a.Setup(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.loginLimiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.subLimiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.cooldowns.Run(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		a.conversations.Run(gctx, 10*time.Minute)
		return nil
	})
	g.Go(func() error {
		a.panels.Run(gctx, 10*time.Minute)
		return nil
	})
	if a.Activity != nil {
		done := a.Activity.StartCleanupScheduler(gctx, a.Config.ActivityRetentionDays, 24*time.Hour, a.Log.Named("activity"))
		g.Go(func() error {
			<-done
			return nil
		})
	}
	g.Go(func() error {
		a.Log.Info("listening", zap.String("addr", a.Config.Addr), zap.String("chat", a.Chat.ProviderName()))
		if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("aether: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.Log.Info("shutting down")
		return a.Echo.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) setupRoutes() {
	e := a.Echo

	e.GET("/assets/*", echo.WrapHandler(http.StripPrefix("/assets/", http.FileServer(http.FS(assetsFS())))))
	e.GET("/favicon.svg", handleFavicon)
	e.GET("/robots.txt", a.handleRobots)

	// Public routes
	e.GET("/sitemap.xml", a.handleSitemap)
	e.GET("/feed.xml", a.handleFeed)
	e.GET("/blog", handleBlogRedirect)
	e.GET("/blog/", handleBlogRedirect)
	e.GET("/", a.handleHome)
	e.GET("/blog/:id/", a.handlePost)
	e.POST("/subscribe/", a.handleSubscribe)

	// Chat panel
	e.POST("/api/chat", a.handleChatSend)
	e.GET("/api/chat/messages", a.handleChatMessages)

	// Image panel
	e.POST("/api/image/unlock", a.handleImageUnlock)
	e.POST("/api/image/lock", a.handleImageLock)
	e.POST("/api/image/generate", a.handleImageGenerate)
	e.POST("/api/image/select/:id", a.handleImageSelect)
	e.GET("/api/image/state", a.handleImageState)
	e.GET("/api/image/:id", a.handleImageFile)
	e.GET("/api/image/:id/thumb", a.handleImageThumb)

	// Admin routes
	e.GET("/admin/", a.handleAdmin)
	e.POST("/admin/login/", a.handleAdminLogin)
	e.POST("/admin/logout/", handleAdminLogout)
	e.POST("/admin/reseed/", a.handleAdminReseed)
	e.GET("/admin/activity/", a.handleAdminActivity)
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Activity != nil {
		errs = append(errs, a.Activity.Close())
	}
	return errors.Join(errs...)
}
