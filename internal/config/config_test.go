package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CHATWIDGET_ENV", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, DefaultBotEndpoint, cfg.Bot.Endpoint)
	assert.Equal(t, DefaultBotBrand, cfg.Bot.Brand)
	assert.Equal(t, DefaultBotUserID, cfg.Bot.UserID)
	assert.Equal(t, DefaultBotChatHeadID, cfg.Bot.ChatHeadID)
	assert.Equal(t, DefaultBotInputMessageID, cfg.Bot.InputMessageID)
	assert.Equal(t, DefaultBotTimeout, cfg.Bot.Timeout)
	assert.Equal(t, []string{DefaultContainerID}, cfg.Widget.Containers)
	assert.Equal(t, DefaultTeaserDuration, cfg.Widget.TeaserDuration)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadYAMLWithEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widget.yaml")
	content := `
env: production
server:
  addr: "127.0.0.1:9000"
bot:
  endpoint: "http://bot.internal/message"
  username: "svc"
  password: "from-file"
widget:
  containers: ["support", "sales"]
  teaser_duration: 5s
  silent_empty_reply: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("BOT_PASSWORD", "from-env")
	t.Setenv("BOT_TIMEOUT", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, EnvProduction, cfg.Env)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "http://bot.internal/message", cfg.Bot.Endpoint)
	assert.Equal(t, "svc", cfg.Bot.Username)
	assert.Equal(t, "from-env", cfg.Bot.Password)
	assert.Equal(t, 2*time.Second, cfg.Bot.Timeout)
	assert.True(t, cfg.Bot.HasCredential())
	assert.Equal(t, []string{"support", "sales"}, cfg.Widget.Containers)
	assert.Equal(t, 5*time.Second, cfg.Widget.TeaserDuration)
	assert.True(t, cfg.Widget.SilentEmptyReply)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestNormalizeRejectsInvalidValues(t *testing.T) {
	cases := map[string]Config{
		"env":      {Env: "staging"},
		"port":     {Server: ServerConfig{Addr: "80 80"}},
		"endpoint": {Bot: BotConfig{Endpoint: "ftp://bot"}},
		"timeout":  {Bot: BotConfig{Timeout: -time.Second}},
		"teaser":   {Widget: WidgetConfig{TeaserDuration: -time.Second}},
		"level":    {Logging: LoggingConfig{Level: "loud"}},
		"format":   {Logging: LoggingConfig{Format: "xml"}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := cfg
			assert.Error(t, Normalize(&cfg))
		})
	}
}

func TestNormalizeCompactsLists(t *testing.T) {
	cfg := Config{
		Server: ServerConfig{Addr: "3000", AllowedOrigins: []string{" https://a.example ", "", "https://a.example"}},
		Widget: WidgetConfig{Containers: []string{"chat", " chat ", ""}},
	}
	require.NoError(t, Normalize(&cfg))

	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, []string{"https://a.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, []string{"chat"}, cfg.Widget.Containers)
	assert.False(t, cfg.Bot.HasCredential())
}
