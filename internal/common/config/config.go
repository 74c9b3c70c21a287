// Package config provides configuration management for the Zulip MCP bridge.
// It supports loading configuration from command-line bindings, environment
// variables, a YAML config file, a ~/.zuliprc credentials file, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zulipmcp/zulipmcp/internal/common/logger"
)

// Config holds all configuration sections for the bridge.
type Config struct {
	Site      SiteConfig      `mapstructure:"site"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Client    ClientConfig    `mapstructure:"client"`
	Listener  ListenerConfig  `mapstructure:"listener"`
	Bus       BusConfig       `mapstructure:"bus"`
	Logging   logger.Config   `mapstructure:"logging"`
	DevMode   bool            `mapstructure:"devMode"`
}

// SiteConfig holds the Zulip realm URL and the credential pairs.
type SiteConfig struct {
	URL         string `mapstructure:"url"`
	UserEmail   string `mapstructure:"userEmail"`
	UserAPIKey  string `mapstructure:"userApiKey"`
	BotEmail    string `mapstructure:"botEmail"`
	BotAPIKey   string `mapstructure:"botApiKey"`
	BotName     string `mapstructure:"botName"`
	AdminEmail  string `mapstructure:"adminEmail"`
	AdminAPIKey string `mapstructure:"adminApiKey"`
}

// DatabaseConfig holds the embedded store location.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ClientConfig holds REST client tuning.
type ClientConfig struct {
	TimeoutSeconds  int `mapstructure:"timeoutSeconds"`
	MaxRetries      int `mapstructure:"maxRetries"`
	RateLimitPerMin int `mapstructure:"rateLimitPerMin"`
	RateLimitBurst  int `mapstructure:"rateLimitBurst"`
	MaxIdleConns    int `mapstructure:"maxIdleConns"`
	MaxConns        int `mapstructure:"maxConns"`
}

// ListenerConfig holds event listener tuning.
type ListenerConfig struct {
	TickSeconds          int    `mapstructure:"tickSeconds"`
	AgentChannel         string `mapstructure:"agentChannel"`
	FallbackWindowMinutes int   `mapstructure:"fallbackWindowMinutes"`
}

// BusConfig holds event fanout configuration. An empty URL selects the
// in-memory bus.
type BusConfig struct {
	NATSURL string `mapstructure:"natsUrl"`
}

// HasUser reports whether user credentials are configured.
func (s *SiteConfig) HasUser() bool {
	return s.URL != "" && s.UserEmail != "" && s.UserAPIKey != ""
}

// HasBot reports whether bot credentials are configured.
func (s *SiteConfig) HasBot() bool {
	return s.BotEmail != "" && s.BotAPIKey != ""
}

// HasAdmin reports whether admin credentials are configured.
func (s *SiteConfig) HasAdmin() bool {
	return s.AdminEmail != "" && s.AdminAPIKey != ""
}

// Timeout returns the per-call HTTP timeout as a duration.
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Tick returns the controller tick interval as a duration.
func (l *ListenerConfig) Tick() time.Duration {
	return time.Duration(l.TickSeconds) * time.Second
}

// FallbackWindow returns the correlation fallback recency window.
func (l *ListenerConfig) FallbackWindow() time.Duration {
	return time.Duration(l.FallbackWindowMinutes) * time.Minute
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("site.url", "")
	v.SetDefault("site.userEmail", "")
	v.SetDefault("site.userApiKey", "")
	v.SetDefault("site.botEmail", "")
	v.SetDefault("site.botApiKey", "")
	v.SetDefault("site.botName", "")
	v.SetDefault("site.adminEmail", "")
	v.SetDefault("site.adminApiKey", "")

	v.SetDefault("database.path", filepath.Join(".", "zulip-mcp.db"))

	v.SetDefault("client.timeoutSeconds", 30)
	v.SetDefault("client.maxRetries", 3)
	v.SetDefault("client.rateLimitPerMin", 100)
	v.SetDefault("client.rateLimitBurst", 10)
	v.SetDefault("client.maxIdleConns", 10)
	v.SetDefault("client.maxConns", 20)

	v.SetDefault("listener.tickSeconds", 5)
	v.SetDefault("listener.agentChannel", "agent-bridge")
	v.SetDefault("listener.fallbackWindowMinutes", 10)

	v.SetDefault("bus.natsUrl", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stderr")

	v.SetDefault("devMode", false)
}

// Load reads configuration from environment variables, config file,
// ~/.zuliprc, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified directory or default
// locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ZULIP_MCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The Zulip credential variables predate this tool and carry no prefix;
	// bind them explicitly alongside the prefixed forms.
	_ = v.BindEnv("site.url", "ZULIP_SITE", "ZULIP_MCP_SITE_URL")
	_ = v.BindEnv("site.userEmail", "ZULIP_EMAIL", "ZULIP_MCP_SITE_USER_EMAIL")
	_ = v.BindEnv("site.userApiKey", "ZULIP_API_KEY", "ZULIP_MCP_SITE_USER_API_KEY")
	_ = v.BindEnv("site.botEmail", "ZULIP_BOT_EMAIL", "ZULIP_MCP_SITE_BOT_EMAIL")
	_ = v.BindEnv("site.botApiKey", "ZULIP_BOT_API_KEY", "ZULIP_MCP_SITE_BOT_API_KEY")
	_ = v.BindEnv("site.botName", "ZULIP_BOT_NAME", "ZULIP_MCP_SITE_BOT_NAME")
	_ = v.BindEnv("site.adminEmail", "ZULIP_ADMIN_EMAIL")
	_ = v.BindEnv("site.adminApiKey", "ZULIP_ADMIN_API_KEY")
	_ = v.BindEnv("database.path", "ZULIP_MCP_DB_PATH", "ZULIP_MCP_DATABASE_PATH")
	_ = v.BindEnv("bus.natsUrl", "ZULIP_MCP_NATS_URL")
	_ = v.BindEnv("devMode", "ZULIP_MCP_ALWAYS_NOTIFY", "ZULIP_MCP_DEV_MODE")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/zulip-mcp/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// The zuliprc file is the lowest-priority credential source: it fills
	// only fields left empty by flags, env, and config file.
	if !cfg.Site.HasUser() {
		applyZuliprc(&cfg.Site)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyZuliprc fills empty credential fields from ~/.zuliprc (INI format with
// an [api] section), the file the official Zulip clients write.
func applyZuliprc(site *SiteConfig) {
	path := os.Getenv("ZULIPRC")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		path = filepath.Join(home, ".zuliprc")
	}
	if _, err := os.Stat(path); err != nil {
		return
	}

	rc := viper.New()
	rc.SetConfigFile(path)
	rc.SetConfigType("ini")
	if err := rc.ReadInConfig(); err != nil {
		return
	}

	if site.UserEmail == "" {
		site.UserEmail = rc.GetString("api.email")
	}
	if site.UserAPIKey == "" {
		site.UserAPIKey = rc.GetString("api.key")
	}
	if site.URL == "" {
		site.URL = rc.GetString("api.site")
	}
}

// validate checks that required configuration fields are set. Missing user
// credentials are fatal; bot credentials are checked by the caller so it can
// degrade with a warning instead.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Site.URL == "" {
		errs = append(errs, "site.url is required (ZULIP_SITE or ~/.zuliprc)")
	} else if !strings.HasPrefix(cfg.Site.URL, "http://") && !strings.HasPrefix(cfg.Site.URL, "https://") {
		errs = append(errs, "site.url must include the scheme, e.g. https://chat.example.com")
	}
	if cfg.Site.UserEmail == "" || cfg.Site.UserAPIKey == "" {
		errs = append(errs, "user credentials are required (ZULIP_EMAIL and ZULIP_API_KEY)")
	}
	if (cfg.Site.BotEmail != "") != (cfg.Site.BotAPIKey != "") {
		errs = append(errs, "bot credentials must include both ZULIP_BOT_EMAIL and ZULIP_BOT_API_KEY")
	}

	if cfg.Database.Path == "" {
		errs = append(errs, "database.path must not be empty")
	}

	if cfg.Client.TimeoutSeconds <= 0 {
		errs = append(errs, "client.timeoutSeconds must be positive")
	}
	if cfg.Client.RateLimitPerMin <= 0 {
		errs = append(errs, "client.rateLimitPerMin must be positive")
	}
	if cfg.Listener.TickSeconds <= 0 {
		errs = append(errs, "listener.tickSeconds must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
