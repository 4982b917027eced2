package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Defaults of the production bot deployment. The credential has no default.
const (
	DefaultBotEndpoint       = "https://interim-cab-module-api.ispgnet.com/bot/message"
	DefaultBotBrand          = "chery"
	DefaultBotUserID         = "rht"
	DefaultBotChatHeadID     = "658d0c508a09c124daca92b6"
	DefaultBotInputMessageID = "668166a2ccf371c56d8697dd"
	DefaultBotTimeout        = 30 * time.Second
	DefaultContainerID       = "chatbot"
	DefaultTeaserDuration    = 10 * time.Second
)

// Config aggregates the settings of the widget service.
type Config struct {
	Env     string        `yaml:"env" envconfig:"CHATWIDGET_ENV"`
	Server  ServerConfig  `yaml:"server"`
	Bot     BotConfig     `yaml:"bot"`
	Widget  WidgetConfig  `yaml:"widget"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr           string   `yaml:"addr" envconfig:"PORT"`
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// BotConfig describes the remote bot-message endpoint and the fixed request fields it expects.
type BotConfig struct {
	Endpoint       string        `yaml:"endpoint" envconfig:"BOT_ENDPOINT"`
	Username       string        `yaml:"username" envconfig:"BOT_USERNAME"`
	Password       string        `yaml:"password" envconfig:"BOT_PASSWORD"`
	Brand          string        `yaml:"brand" envconfig:"BOT_BRAND"`
	UserID         string        `yaml:"user_id" envconfig:"BOT_USER_ID"`
	ChatHeadID     string        `yaml:"chat_head_id" envconfig:"BOT_CHAT_HEAD_ID"`
	InputMessageID string        `yaml:"input_message_id" envconfig:"BOT_INPUT_MESSAGE_ID"`
	Timeout        time.Duration `yaml:"timeout" envconfig:"BOT_TIMEOUT"`
}

// HasCredential reports whether a basic-auth credential was supplied.
func (c BotConfig) HasCredential() bool {
	return c.Username != "" || c.Password != ""
}

// WidgetConfig describes how widgets are hosted.
type WidgetConfig struct {
	// Containers lists the container ids widgets may be mounted into.
	Containers     []string      `yaml:"containers" envconfig:"WIDGET_CONTAINERS"`
	TeaserDuration time.Duration `yaml:"teaser_duration" envconfig:"WIDGET_TEASER_DURATION"`
	// SilentEmptyReply keeps the transcript unchanged when the bot answers without output.text.
	SilentEmptyReply bool `yaml:"silent_empty_reply" envconfig:"WIDGET_SILENT_EMPTY_REPLY"`
}

// LoggingConfig selects slog level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Load reads an optional YAML file, overlays environment variables and normalises the result.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config

	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize applies defaults and validates the configuration.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	env := strings.ToLower(strings.TrimSpace(cfg.Env))
	switch env {
	case "", "dev":
		env = EnvDevelopment
	case "prod":
		env = EnvProduction
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("invalid env %q; allowed: development, production", cfg.Env)
	}
	cfg.Env = env

	addr, err := normalizeAddr(cfg.Server.Addr)
	if err != nil {
		return err
	}
	cfg.Server.Addr = addr
	cfg.Server.AllowedOrigins = compact(cfg.Server.AllowedOrigins)

	if err := normalizeBot(&cfg.Bot); err != nil {
		return err
	}

	cfg.Widget.Containers = compact(cfg.Widget.Containers)
	if len(cfg.Widget.Containers) == 0 {
		cfg.Widget.Containers = []string{DefaultContainerID}
	}
	if cfg.Widget.TeaserDuration < 0 {
		return fmt.Errorf("widget.teaser_duration must be >= 0")
	}
	if cfg.Widget.TeaserDuration == 0 {
		cfg.Widget.TeaserDuration = DefaultTeaserDuration
	}

	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	switch cfg.Logging.Level {
	case "":
		cfg.Logging.Level = "info"
		if cfg.IsDevelopment() {
			cfg.Logging.Level = "debug"
		}
	case "debug", "info", "warn", "error":
	case "warning":
		cfg.Logging.Level = "warn"
	default:
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}

	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	switch cfg.Logging.Format {
	case "":
		cfg.Logging.Format = "text"
		if cfg.IsProduction() {
			cfg.Logging.Format = "json"
		}
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format %q; allowed: json, text", cfg.Logging.Format)
	}

	return nil
}

func normalizeBot(bot *BotConfig) error {
	bot.Endpoint = getOrDefault(bot.Endpoint, DefaultBotEndpoint)
	if !strings.HasPrefix(bot.Endpoint, "http://") && !strings.HasPrefix(bot.Endpoint, "https://") {
		return fmt.Errorf("invalid bot.endpoint %q: must be an http(s) URL", bot.Endpoint)
	}
	bot.Brand = getOrDefault(bot.Brand, DefaultBotBrand)
	bot.UserID = getOrDefault(bot.UserID, DefaultBotUserID)
	bot.ChatHeadID = getOrDefault(bot.ChatHeadID, DefaultBotChatHeadID)
	bot.InputMessageID = getOrDefault(bot.InputMessageID, DefaultBotInputMessageID)
	if bot.Timeout < 0 {
		return fmt.Errorf("bot.timeout must be >= 0")
	}
	if bot.Timeout == 0 {
		bot.Timeout = DefaultBotTimeout
	}
	return nil
}

// normalizeAddr accepts "8080", ":8080" or "127.0.0.1:8080".
func normalizeAddr(raw string) (string, error) {
	port := strings.TrimSpace(raw)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

func getOrDefault(value, defaultValue string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return defaultValue
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
