package aether

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eringen/aether/chat"
	"github.com/eringen/aether/imagegen"
)

// Chat providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// ChatConfig configures the chat panel.
type ChatConfig struct {
	Provider     string        // CHAT_PROVIDER: "gemini" (default) or "openai"
	APIKey       string        // GEMINI_API_KEY or OPENAI_API_KEY, by provider
	Model        string        // CHAT_MODEL
	BaseURL      string        // CHAT_BASE_URL
	SystemPrompt string        // CHAT_SYSTEM_PROMPT
	GoogleSearch bool          // CHAT_GOOGLE_SEARCH (gemini only)
	Cooldown     time.Duration // CHAT_COOLDOWN (default 30s)
}

// ImageConfig configures the image panel.
type ImageConfig struct {
	Endpoint   string        // IMAGE_ENDPOINT: the rendering worker
	AccessCode string        // IMAGE_ACCESS_CODE: checked locally when set
	Timeout    time.Duration // IMAGE_TIMEOUT (default 30s)
	Cooldown   time.Duration // IMAGE_COOLDOWN (default 60s)
}

// SiteConfig holds all configuration for an Aether site.
type SiteConfig struct {
	Name        string // Site name (default "Aether")
	URL         string // Canonical URL (default "http://localhost:3000")
	Description string // Site description for RSS and meta tags

	Addr         string // Listen address (default ":3000")
	DatabasePath string // SQLite path (default "data/aether.db")

	ActivityEnabled       bool   // Record panel activity (default true)
	ActivityDatabasePath  string // Activity SQLite path (default "data/activity.db")
	ActivityRetentionDays int    // Days of activity to keep (default 365)

	AdminPassword string // Required: admin login password
	SessionSecret string // Required: session signing secret
	CookieSecure  bool   // Set true for HTTPS

	PostCacheTTL time.Duration // Post cache TTL (default 5min)
	SessionTTL   time.Duration // Idle time before panel state is dropped (default 12h)

	Chat  ChatConfig
	Image ImageConfig

	LogLevel  string // debug, info, warn, error (default info)
	LogFormat string // json or console (default json)
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "Aether"
	}
	if c.URL == "" {
		c.URL = "http://localhost:3000"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/aether.db"
	}
	if c.ActivityDatabasePath == "" {
		c.ActivityDatabasePath = "data/activity.db"
	}
	if c.ActivityRetentionDays == 0 {
		c.ActivityRetentionDays = 365
	}
	if c.PostCacheTTL == 0 {
		c.PostCacheTTL = 5 * time.Minute
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = 12 * time.Hour
	}
	if c.Chat.Provider == "" {
		c.Chat.Provider = ProviderGemini
	}
	if c.Chat.Cooldown == 0 {
		c.Chat.Cooldown = 30 * time.Second
	}
	if c.Image.Timeout == 0 {
		c.Image.Timeout = 30 * time.Second
	}
	if c.Image.Cooldown == 0 {
		c.Image.Cooldown = 60 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
}

// Validate reports every missing or malformed setting at once.
func (c *SiteConfig) Validate() error {
	var errs []error
	if c.AdminPassword == "" {
		errs = append(errs, errors.New("ADMIN_PASSWORD is required"))
	}
	if c.SessionSecret == "" {
		errs = append(errs, errors.New("SESSION_SECRET is required"))
	}
	switch c.Chat.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("CHAT_PROVIDER %q is not one of gemini, openai", c.Chat.Provider))
	}
	if c.Image.Endpoint == "" {
		errs = append(errs, errors.New("IMAGE_ENDPOINT is required"))
	} else if u, err := url.Parse(c.Image.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("IMAGE_ENDPOINT %q is not an http(s) URL", c.Image.Endpoint))
	}
	if c.Chat.Cooldown < 0 || c.Image.Cooldown < 0 || c.Image.Timeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q is not one of json, console", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("aether: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// LoadConfig reads a SiteConfig from the environment. Unset values are left
// for setDefaults; malformed values are errors.
func LoadConfig() (SiteConfig, error) {
	var errs []error
	cfg := SiteConfig{
		Name:                 os.Getenv("SITE_NAME"),
		URL:                  os.Getenv("SITE_URL"),
		Description:          os.Getenv("SITE_DESCRIPTION"),
		Addr:                 os.Getenv("ADDR"),
		DatabasePath:         os.Getenv("DATABASE_PATH"),
		ActivityDatabasePath: os.Getenv("ACTIVITY_DATABASE_PATH"),
		AdminPassword:        os.Getenv("ADMIN_PASSWORD"),
		SessionSecret:        os.Getenv("SESSION_SECRET"),
		LogLevel:             os.Getenv("LOG_LEVEL"),
		LogFormat:            os.Getenv("LOG_FORMAT"),
		Chat: ChatConfig{
			Provider:     strings.ToLower(os.Getenv("CHAT_PROVIDER")),
			Model:        os.Getenv("CHAT_MODEL"),
			BaseURL:      os.Getenv("CHAT_BASE_URL"),
			SystemPrompt: os.Getenv("CHAT_SYSTEM_PROMPT"),
		},
		Image: ImageConfig{
			Endpoint:   os.Getenv("IMAGE_ENDPOINT"),
			AccessCode: os.Getenv("IMAGE_ACCESS_CODE"),
		},
	}
	if cfg.Chat.Provider == ProviderOpenAI {
		cfg.Chat.APIKey = os.Getenv("OPENAI_API_KEY")
	} else {
		cfg.Chat.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	cfg.CookieSecure = envBool("COOKIE_SECURE", false, &errs)
	cfg.ActivityEnabled = envBool("ACTIVITY_ENABLED", true, &errs)
	cfg.Chat.GoogleSearch = envBool("CHAT_GOOGLE_SEARCH", false, &errs)
	cfg.Chat.Cooldown = envDuration("CHAT_COOLDOWN", &errs)
	cfg.Image.Timeout = envDuration("IMAGE_TIMEOUT", &errs)
	cfg.Image.Cooldown = envDuration("IMAGE_COOLDOWN", &errs)
	cfg.PostCacheTTL = envDuration("POST_CACHE_TTL", &errs)
	cfg.SessionTTL = envDuration("SESSION_TTL", &errs)
	if v := os.Getenv("ACTIVITY_RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("ACTIVITY_RETENTION_DAYS %q is not a positive integer", v))
		}
		cfg.ActivityRetentionDays = n
	}
	if len(errs) > 0 {
		return cfg, fmt.Errorf("aether: load config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func envBool(key string, fallback bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s %q is not a boolean", key, v))
		return fallback
	}
	return b
}

func envDuration(key string, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s %q is not a duration", key, v))
		return 0
	}
	return d
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Option configures additional App behavior.
type Option func(*App)

// WithLogger sets the application logger (default zap.NewNop()).
func WithLogger(log *zap.Logger) Option {
	return func(a *App) {
		a.Log = log
	}
}

// WithChatProvider replaces the provider built from ChatConfig.
func WithChatProvider(p chat.Provider) Option {
	return func(a *App) {
		a.chatProvider = p
	}
}

// WithImageClient replaces the worker client built from ImageConfig.
func WithImageClient(c *imagegen.Client) Option {
	return func(a *App) {
		a.Images = c
	}
}

// WithViews replaces the default templates.
func WithViews(v ViewFuncs) Option {
	return func(a *App) {
		a.Views = v
	}
}

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback receives the App after the built-in routes are registered.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithClock overrides time.Now for cooldowns and session expiry.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		a.now = now
	}
}
