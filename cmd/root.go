package cmd

import (
	"context"
	"fmt"
	"github.com/arcward/recollect/recollect"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = recollect.DefaultConfig()
	configFile string
)

// logLevelKeys are config keys holding a *slog.LevelVar
var logLevelKeys = []string{
	"log_level",
	"database_log_level",
	"openai.log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"api.log_level",
}

// stringSliceKeys are config keys whose env values are space-separated lists
var stringSliceKeys = []string{
	"api.cors.allow_headers",
	"api.cors.allow_origins",
	"api.cors.allow_methods",
	"api.cors.expose_headers",
	"policy.banned_terms",
}

var rootCmd = &cobra.Command{
	Use: "recollect [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := unmarshalConfig(cfg); err != nil {
			log.Fatalln(err)
		}
	},
}

func unmarshalConfig(c *recollect.Config) error {
	return viper.Unmarshal(
		c,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
}

func getLogLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
	return lvl, nil
}

// LevelToStringHookFunc decodes a level name (ex: 'DEBUG') into a
// *slog.LevelVar.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}
		if t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setDefaults() {
	viper.SetDefault("database", recollect.DefaultDatabase)
	viper.SetDefault("database_type", recollect.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", recollect.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", recollect.DefaultDatabaseLogLevel.String())

	viper.SetDefault("log_level", recollect.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", recollect.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", recollect.DefaultShutdownTimeout)

	// OpenAI config
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.base_url", "")
	viper.SetDefault("openai.log_level", recollect.DefaultOpenAILogLevel.String())
	viper.SetDefault("openai.model", recollect.DefaultOpenAIModel)
	viper.SetDefault("openai.vision_model", recollect.DefaultOpenAIVisionModel)
	viper.SetDefault("openai.temperature", recollect.DefaultOpenAITemperature)
	viper.SetDefault("openai.max_tokens", recollect.DefaultOpenAIMaxTokens)
	viper.SetDefault("openai.request_timeout", recollect.DefaultOpenAIRequestTimeout)
	viper.SetDefault("openai.retry_delay", recollect.DefaultOpenAIRetryDelay)
	viper.SetDefault(
		"openai.max_requests_per_second",
		recollect.DefaultOpenAIMaxRequestsPerSecond,
	)
	viper.SetDefault("openai.persona", recollect.DefaultOpenAIPersona)
	viper.SetDefault("openai.fallback_message", recollect.DefaultOpenAIFallbackMessage)
	viper.SetDefault(
		"openai.vision_unsupported_message",
		recollect.DefaultOpenAIVisionUnsupportedMessage,
	)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.register_commands", true)
	viper.SetDefault("discord.log_level", recollect.DefaultDiscordLogLevel.String())
	viper.SetDefault(
		"discord.discordgo_log_level",
		recollect.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault("discord.gateway_intents", int(recollect.DefaultDiscordGatewayIntent))
	viper.SetDefault("discord.custom_status", recollect.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.ephemeral_default", false)
	viper.SetDefault("discord.error_message", recollect.DefaultDiscordErrorMessage)
	viper.SetDefault("discord.edit_window", recollect.DefaultDiscordEditWindow)
	viper.SetDefault("discord.edit_throttle", recollect.DefaultDiscordEditThrottle)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", recollect.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.admin_username", "")
	viper.SetDefault("api.admin_password_hash", "")
	viper.SetDefault("api.log_level", recollect.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", recollect.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", recollect.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", recollect.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", recollect.DefaultIdleTimeout)
	viper.SetDefault("api.session_max_age", recollect.DefaultAPISessionMaxAge)
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.ssl.cert", "")
	viper.SetDefault("api.ssl.key", "")
	viper.SetDefault("api.ssl.tls_min_version", recollect.DefaultAPITLSMinVersion)

	// API: CORS config
	viper.SetDefault("api.cors.allow_headers", recollect.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", recollect.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", recollect.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", recollect.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", recollect.DefaultAPICORSAllowCredentials)

	// Memory config
	viper.SetDefault("memory.user_summary_cadence", recollect.DefaultUserSummaryCadence)
	viper.SetDefault("memory.channel_summary_cadence", recollect.DefaultChannelSummaryCadence)
	viper.SetDefault("memory.guild_summary_cadence", recollect.DefaultGuildSummaryCadence)
	viper.SetDefault("memory.summary_staleness", recollect.DefaultSummaryStaleness)
	viper.SetDefault("memory.known_user_window", recollect.DefaultKnownUserWindow)
	viper.SetDefault("memory.recent_message_limit", recollect.DefaultRecentMessageLimit)
	viper.SetDefault("memory.channel_message_limit", recollect.DefaultChannelMessageLimit)
	viper.SetDefault("memory.known_user_limit", recollect.DefaultKnownUserLimit)

	// Rate limit config
	viper.SetDefault("rate_limit.cooldown", recollect.DefaultRateLimitCooldown)
	viper.SetDefault("rate_limit.idle_ttl", recollect.DefaultRateLimitIdleTTL)
	viper.SetDefault("rate_limit.max_identities", recollect.DefaultRateLimitMaxIdentities)
	viper.SetDefault("rate_limit.slow_down_message", recollect.DefaultRateLimitSlowDown)
	viper.SetDefault("rate_limit.spam_message", recollect.DefaultRateLimitSpam)

	// Turn cache config
	viper.SetDefault("turns.max_turns", recollect.DefaultTurnCacheMaxTurns)
	viper.SetDefault("turns.ttl", recollect.DefaultTurnCacheTTL)
	viper.SetDefault("turns.max_identities", recollect.DefaultTurnCacheMaxIdentities)

	// Media config
	viper.SetDefault("media.max_images", recollect.DefaultMediaMaxImages)
	viper.SetDefault("media.max_image_bytes", recollect.DefaultMediaMaxImageBytes)
	viper.SetDefault("media.fetch_timeout", recollect.DefaultMediaFetchTimeout)
	viper.SetDefault("media.allow_private", false)

	// Content policy config
	viper.SetDefault("policy.banned_terms", []string{})
	viper.SetDefault("policy.refusal_message", recollect.DefaultPolicyRefusalMessage)

	// Maintenance config
	viper.SetDefault("maintenance.enabled", true)
	viper.SetDefault(
		"maintenance.edit_purge_schedule",
		recollect.DefaultMaintenanceEditPurgeSchedule,
	)
	viper.SetDefault(
		"maintenance.retention_schedule",
		recollect.DefaultMaintenanceRetentionSchedule,
	)
	viper.SetDefault("maintenance.message_retention", recollect.DefaultMessageRetention)
	viper.SetDefault("maintenance.guild_user_retention", recollect.DefaultGuildUserRetention)
}

func initConfig() {
	// values converted with viper.Set below would otherwise shadow the
	// environment on later runs in the same process
	viper.Reset()

	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("error loading %s: %v", configFile, err)
		}
	}

	setDefaults()

	envPrefix := os.Getenv(recollect.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = recollect.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	for _, key := range stringSliceKeys {
		viper.Set(key, viper.GetStringSlice(key))
	}
	for _, key := range logLevelKeys {
		logLevelVar, err := toLevelVar(viper.Get(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func toLevelVar(v any) (*slog.LevelVar, error) {
	switch lvl := v.(type) {
	case *slog.LevelVar:
		return lvl, nil
	case slog.Level:
		level := &slog.LevelVar{}
		level.Set(lvl)
		return level, nil
	default:
		return levelStringToLevelVar(fmt.Sprint(v))
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
