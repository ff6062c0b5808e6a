package cmd

import (
	"fmt"
	"github.com/arcward/recollect/recollect"
	"github.com/bwmarrin/discordgo"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				_ = os.Setenv(parts[0], parts[1])
			}
		},
	)
	os.Clearenv()

	tmpdir := t.TempDir()
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

RC_DATABASE=/home/foo/recollect.sqlite3
RC_DATABASE_TYPE=sqlite
RC_DATABASE_LOG_LEVEL=INFO
RC_DATABASE_SLOW_THRESHOLD=200ms
RC_LOG_LEVEL=INFO
RC_STARTUP_TIMEOUT=30s
RC_SHUTDOWN_TIMEOUT=60s

# OpenAI config

RC_OPENAI_TOKEN=your-openai-token
RC_OPENAI_LOG_LEVEL=INFO
RC_OPENAI_MODEL=gpt-4o-mini
RC_OPENAI_VISION_MODEL=gpt-4o
RC_OPENAI_REQUEST_TIMEOUT=45s
RC_OPENAI_MAX_REQUESTS_PER_SECOND=2

# Discord bot config

RC_DISCORD_TOKEN=your-discord-bot-token
RC_DISCORD_APPLICATION_ID=your-discord-bot-app-id
RC_DISCORD_GUILD_ID=
RC_DISCORD_LOG_LEVEL=WARN
RC_DISCORD_DISCORDGO_LOG_LEVEL=WARN
RC_DISCORD_CUSTOM_STATUS="ask me anything"
RC_DISCORD_GATEWAY_INTENTS=3243773
RC_DISCORD_EDIT_WINDOW=90s

# Memory

RC_MEMORY_USER_SUMMARY_CADENCE=5
RC_MEMORY_SUMMARY_STALENESS=12h
RC_RATE_LIMIT_COOLDOWN=2s
RC_TURNS_MAX_TURNS=8
RC_MEDIA_MAX_IMAGES=2
RC_POLICY_BANNED_TERMS=foo bar
RC_MAINTENANCE_MESSAGE_RETENTION=720h

# API server

RC_API_ENABLED=true
RC_API_LISTEN=127.0.0.1:5000
RC_API_SSL_CERT=/etc/ssl/cert.pem
RC_API_SSL_KEY=/etc/ssl/key.pem
RC_API_SSL_TLS_MIN_VERSION=771
RC_API_SECRET=your-api-secret
RC_API_ADMIN_USERNAME=admin
RC_API_LOG_LEVEL=DEBUG
RC_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
RC_API_CORS_ALLOW_METHODS=GET POST PUT PATCH DELETE OPTIONS HEAD
RC_API_CORS_ALLOW_CREDENTIALS=true
RC_API_CORS_MAX_AGE=12h
RC_API_SESSION_MAX_AGE=6h
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	require.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/recollect.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", viper.GetString("database_type"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("database_log_level"))
	assert.Equal(t, 200*time.Millisecond, viper.GetDuration("database_slow_threshold"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assert.Equal(t, 3243773, viper.GetInt("discord.gateway_intents"))
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		viper.GetStringSlice("api.cors.allow_origins"),
	)

	assert.Equal(t, "/home/foo/recollect.sqlite3", cfg.Database)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, slog.LevelInfo, cfg.DatabaseLogLevel.Level())
	assert.Equal(t, 200*time.Millisecond, cfg.DatabaseSlowThreshold)
	assert.Equal(t, 30*time.Second, cfg.StartupTimeout)
	assert.Equal(t, 60*time.Second, cfg.ShutdownTimeout)

	assert.Equal(t, "your-openai-token", cfg.OpenAI.Token)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.VisionModel)
	assert.Equal(t, 45*time.Second, cfg.OpenAI.RequestTimeout)
	assert.Equal(t, 2.0, cfg.OpenAI.MaxRequestsPerSecond)
	assert.Equal(t, recollect.DefaultOpenAIPersona, cfg.OpenAI.Persona)

	assert.Equal(t, "your-discord-bot-token", cfg.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", cfg.Discord.ApplicationID)
	assert.Equal(t, "", cfg.Discord.GuildID)
	assert.Equal(t, slog.LevelWarn, cfg.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelWarn, cfg.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, "ask me anything", cfg.Discord.CustomStatus)
	assert.Equal(t, discordgo.Intent(3243773), cfg.Discord.GatewayIntents)
	assert.Equal(t, 90*time.Second, cfg.Discord.EditWindow)
	assert.Equal(t, recollect.DefaultDiscordEditThrottle, cfg.Discord.EditThrottle)

	assert.Equal(t, 5, cfg.Memory.UserSummaryCadence)
	assert.Equal(t, recollect.DefaultChannelSummaryCadence, cfg.Memory.ChannelSummaryCadence)
	assert.Equal(t, 12*time.Hour, cfg.Memory.SummaryStaleness)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.Cooldown)
	assert.Equal(t, 8, cfg.Turns.MaxTurns)
	assert.Equal(t, 2, cfg.Media.MaxImages)
	assert.Equal(t, []string{"foo", "bar"}, cfg.Policy.BannedTerms)
	assert.Equal(t, 720*time.Hour, cfg.Maintenance.MessageRetention)

	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:5000", cfg.API.Listen)
	assert.Equal(t, "/etc/ssl/cert.pem", cfg.API.SSL.Cert)
	assert.Equal(t, "/etc/ssl/key.pem", cfg.API.SSL.Key)
	assert.Equal(t, uint16(771), cfg.API.SSL.TLSMinVersion)
	assert.Equal(t, "your-api-secret", cfg.API.Secret)
	assert.Equal(t, "admin", cfg.API.AdminUsername)
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		cfg.API.CORS.AllowOrigins,
	)
	assert.Equal(
		t,
		[]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		cfg.API.CORS.AllowMethods,
	)
	assert.Equal(t, recollect.DefaultCORSAllowHeaders, cfg.API.CORS.AllowHeaders)
	assert.True(t, cfg.API.CORS.AllowCredentials)
	assert.Equal(t, 12*time.Hour, cfg.API.CORS.MaxAge)
	assert.Equal(t, 6*time.Hour, cfg.API.SessionMaxAge)
}

func TestLevelToStringHookFunc(t *testing.T) {
	var c recollect.Config
	v := viper.New()
	v.Set("log_level", "WARN")
	v.Set("database_log_level", "ERROR")

	hook := LevelToStringHookFunc()
	require.NotNil(t, hook)

	lvl, err := getLogLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	_, err = getLogLevel("LOUD")
	assert.Error(t, err)

	err = v.Unmarshal(&c, viper.DecodeHook(hook))
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, c.LogLevel.Level())
	assert.Equal(t, slog.LevelError, c.DatabaseLogLevel.Level())
}

func TestInitConfig_RunTwice(t *testing.T) {
	currentConfigFile := configFile
	t.Cleanup(func() { configFile = currentConfigFile })
	configFile = ""

	t.Setenv("RC_LOG_LEVEL", "WARN")
	t.Setenv("RC_API_CORS_ALLOW_ORIGINS", "https://a.example")
	initConfig()
	assertLogLevel(t, slog.LevelWarn, viper.Get("log_level"))
	assert.Equal(t, []string{"https://a.example"}, viper.GetStringSlice("api.cors.allow_origins"))

	t.Setenv("RC_LOG_LEVEL", "DEBUG")
	t.Setenv("RC_API_CORS_ALLOW_ORIGINS", "https://b.example https://c.example")
	initConfig()
	assertLogLevel(t, slog.LevelDebug, viper.Get("log_level"))
	assert.Equal(
		t,
		[]string{"https://b.example", "https://c.example"},
		viper.GetStringSlice("api.cors.allow_origins"),
	)
}

func TestToLevelVar(t *testing.T) {
	existing := &slog.LevelVar{}
	existing.Set(slog.LevelError)
	lvl, err := toLevelVar(existing)
	require.NoError(t, err)
	assert.Same(t, existing, lvl)

	lvl, err = toLevelVar(slog.LevelWarn)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl.Level())

	lvl, err = toLevelVar("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl.Level())

	_, err = toLevelVar("LevelVar(INFO)")
	assert.Error(t, err)
}
