//nolint:lll // struct tags can't be split
package recollect

import (
	"crypto/tls"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
	"log/slog"
	"net/http"
	"time"
)

const (
	EnvvarSetEnvPrefix     = "RECOLLECT_ENV_PREFIX"
	DefaultEnvPrefix       = "RC"
	DefaultDatabaseType    = "sqlite"
	DefaultDatabase        = "recollect.sqlite3"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultOpenAIModel                    = "gpt-4o-mini"
	DefaultOpenAIVisionModel              = "gpt-4o"
	DefaultOpenAITemperature      float32 = 0.7
	DefaultOpenAIMaxTokens                = 800
	DefaultOpenAIRequestTimeout           = 60 * time.Second
	DefaultOpenAIRetryDelay               = time.Second
	DefaultOpenAIMaxRequestsPerSecond     = 5.0
	DefaultOpenAIPersona                  = "You are a friendly, concise assistant in a Discord server. " +
		"Use the context you are given about the server, the channel and the user when it is relevant, " +
		"and never invent facts about people."
	DefaultOpenAIFallbackMessage          = "Sorry, I couldn't come up with an answer right now. Try again in a bit!"
	DefaultOpenAIVisionUnsupportedMessage = "The model I'm using can't look at images. Try describing it in text instead."

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DiscordSlashCommandChat        = "chat"
	DiscordSlashCommandMemory      = "memory"
	DiscordSlashCommandChannel     = "channel"
	DiscordSlashCommandResetServer = "resetserver"
	DiscordSlashCommandPurge       = "purge"

	DefaultDiscordLogLevel      = slog.LevelInfo
	DefaultDiscordgoLogLevel    = slog.LevelWarn
	DefaultDiscordErrorMessage  = "sorry, something went wrong!"
	DefaultDiscordCustomStatus  = "@ me to chat!"
	DefaultDiscordEditWindow    = 60 * time.Second
	DefaultDiscordEditThrottle  = 2 * time.Second
	DefaultDiscordGatewayIntent = discordgo.IntentGuilds |
		discordgo.IntentGuildMembers |
		discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent
	discordMaxMessageLength = 2000

	DefaultAPIListen               = "127.0.0.1:5000"
	DefaultAPITLSMinVersion        = tls.VersionTLS12
	DefaultAPISessionMaxAge        = 6 * time.Hour
	DefaultAPICORSAllowCredentials = true
	defaultListenNetwork           = "tcp"

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelWarn
	DefaultOpenAILogLevel        = slog.LevelInfo
	DefaultAPILogLevel           = slog.LevelInfo

	DefaultUserSummaryCadence    = 20
	DefaultChannelSummaryCadence = 20
	DefaultGuildSummaryCadence   = 30
	DefaultSummaryStaleness      = 24 * time.Hour
	DefaultKnownUserWindow       = 30 * 24 * time.Hour
	DefaultRecentMessageLimit    = 3
	DefaultChannelMessageLimit   = 3
	DefaultKnownUserLimit        = 12

	DefaultRateLimitCooldown      = 3 * time.Second
	DefaultRateLimitIdleTTL       = time.Hour
	DefaultRateLimitMaxIdentities = 10_000
	DefaultRateLimitSlowDown      = "Slow down a little! Give me a few seconds between messages."
	DefaultRateLimitSpam          = "Please stop spamming the same message."

	DefaultTurnCacheMaxTurns      = 6
	DefaultTurnCacheTTL           = time.Hour
	DefaultTurnCacheMaxIdentities = 5_000

	DefaultMediaMaxImages     = 4
	DefaultMediaMaxImageBytes = 5 * 1024 * 1024
	DefaultMediaFetchTimeout  = 10 * time.Second

	DefaultPolicyRefusalMessage = "I can't help with that."

	DefaultMaintenanceEditPurgeSchedule = "@every 1m"
	DefaultMaintenanceRetentionSchedule = "@daily"
	DefaultMessageRetention             = 90 * 24 * time.Hour
	DefaultGuildUserRetention           = 180 * 24 * time.Hour
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
		"Location",
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database" binding:"required"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// connect and register commands. If this is passed, startup is aborted.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	OpenAI      *OpenAIConfig      `yaml:"openai" mapstructure:"openai" json:"openai"`
	Discord     *DiscordConfig     `yaml:"discord" mapstructure:"discord" json:"discord"`
	API         *APIConfig         `yaml:"api" mapstructure:"api" json:"api"`
	Memory      *MemoryConfig      `yaml:"memory" mapstructure:"memory" json:"memory"`
	RateLimit   *RateLimitConfig   `yaml:"rate_limit" mapstructure:"rate_limit" json:"rate_limit"`
	Turns       *TurnCacheConfig   `yaml:"turns" mapstructure:"turns" json:"turns"`
	Media       *MediaConfig       `yaml:"media" mapstructure:"media" json:"media"`
	Policy      *PolicyConfig      `yaml:"policy" mapstructure:"policy" json:"policy"`
	Maintenance *MaintenanceConfig `yaml:"maintenance" mapstructure:"maintenance" json:"maintenance"`

	HTTPClient *http.Client `mapstructure:"-" json:"-" log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// OpenAIConfig configures the chat completion endpoint and the model
// parameters used for every request.
type OpenAIConfig struct {
	// API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// BaseURL overrides the API base URL, for OpenAI-compatible endpoints.
	// Empty uses the OpenAI default.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"omitempty,url"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Model used for text-only requests
	Model string `yaml:"model" mapstructure:"model" json:"model" binding:"required"`

	// VisionModel is used instead of Model when a request carries images.
	// Empty falls back to Model.
	VisionModel string `yaml:"vision_model" mapstructure:"vision_model" json:"vision_model"`

	Temperature float32 `yaml:"temperature" mapstructure:"temperature" json:"temperature" binding:"min=0,max=2"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens" binding:"min=0"`

	// RequestTimeout bounds each completion attempt
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" binding:"min=1s"`

	// RetryDelay is the pause before the single retry of a failed request
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay" json:"retry_delay" binding:"min=0"`

	// MaxRequestsPerSecond paces outgoing completion requests. 0=unlimited
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"min=0"`

	// Persona is the system message sent first with every request
	Persona string `yaml:"persona" mapstructure:"persona" json:"persona" binding:"required"`

	FallbackMessage          string `yaml:"fallback_message" mapstructure:"fallback_message" json:"fallback_message" binding:"required"`
	VisionUnsupportedMessage string `yaml:"vision_unsupported_message" mapstructure:"vision_unsupported_message" json:"vision_unsupported_message" binding:"required"`
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// RegisterCommands overwrites the application's slash commands on startup
	RegisterCommands bool `yaml:"register_commands" mapstructure:"register_commands" json:"register_commands"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. Message content and guild members are
	// privileged, and must be enabled for the bot in the dev portal.
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CustomStatus is set on the bot user after connecting
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// EphemeralDefault is the default for the /chat 'private' option,
	// when the user doesn't set it.
	EphemeralDefault bool `yaml:"ephemeral_default" mapstructure:"ephemeral_default" json:"ephemeral_default"`

	// ErrorMessage is sent when handling a message fails unexpectedly
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message" binding:"required"`

	// EditWindow is how long after a reply is sent that an edit of the
	// original message will re-answer it
	EditWindow time.Duration `yaml:"edit_window" mapstructure:"edit_window" json:"edit_window" binding:"min=0"`

	// EditThrottle is the minimum time between re-answers of the same message
	EditThrottle time.Duration `yaml:"edit_throttle" mapstructure:"edit_throttle" json:"edit_throttle" binding:"min=0"`
}

// APIConfig configures the backend admin API server
type APIConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Secret used for signing cookies
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	// AdminUsername and AdminPasswordHash are the credentials accepted by
	// the login endpoint. Generate the hash with the 'init' command.
	AdminUsername     string `yaml:"admin_username" mapstructure:"admin_username" json:"admin_username" binding:"required_if=Enabled true"`
	AdminPasswordHash string `yaml:"admin_password_hash" mapstructure:"admin_password_hash" json:"admin_password_hash" log:"[redacted]" binding:"required_if=Enabled true"`

	// Configuration for SSL/TLS. Plain HTTP is served when no cert is set.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`

	// Max age for session cookies
	SessionMaxAge time.Duration `yaml:"session_max_age" mapstructure:"session_max_age" json:"session_max_age" binding:"required_if=Enabled true"`

	// Development relaxes cookie SameSite rules and CORS, and registers pprof
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// MemoryConfig tunes summarization and how much stored context is
// injected into each request.
type MemoryConfig struct {
	// Summaries are refreshed when facts were extracted and the scope's
	// message count is a multiple of its cadence
	UserSummaryCadence    int `yaml:"user_summary_cadence" mapstructure:"user_summary_cadence" json:"user_summary_cadence" binding:"min=1"`
	ChannelSummaryCadence int `yaml:"channel_summary_cadence" mapstructure:"channel_summary_cadence" json:"channel_summary_cadence" binding:"min=1"`
	GuildSummaryCadence   int `yaml:"guild_summary_cadence" mapstructure:"guild_summary_cadence" json:"guild_summary_cadence" binding:"min=1"`

	// SummaryStaleness forces a refresh when this much time has passed
	// since the scope's last refresh
	SummaryStaleness time.Duration `yaml:"summary_staleness" mapstructure:"summary_staleness" json:"summary_staleness" binding:"min=0"`

	// KnownUserWindow limits 'known users' to those seen within the window
	KnownUserWindow time.Duration `yaml:"known_user_window" mapstructure:"known_user_window" json:"known_user_window" binding:"min=0"`

	RecentMessageLimit  int `yaml:"recent_message_limit" mapstructure:"recent_message_limit" json:"recent_message_limit" binding:"min=0"`
	ChannelMessageLimit int `yaml:"channel_message_limit" mapstructure:"channel_message_limit" json:"channel_message_limit" binding:"min=0"`
	KnownUserLimit      int `yaml:"known_user_limit" mapstructure:"known_user_limit" json:"known_user_limit" binding:"min=0"`
}

type RateLimitConfig struct {
	// Cooldown is the minimum time between accepted requests from one user
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown" json:"cooldown" binding:"min=0"`

	// IdleTTL drops a user's limiter state after this much inactivity
	IdleTTL time.Duration `yaml:"idle_ttl" mapstructure:"idle_ttl" json:"idle_ttl" binding:"min=1s"`

	// MaxIdentities caps how many users are tracked at once
	MaxIdentities int `yaml:"max_identities" mapstructure:"max_identities" json:"max_identities" binding:"min=1"`

	SlowDownMessage string `yaml:"slow_down_message" mapstructure:"slow_down_message" json:"slow_down_message" binding:"required"`
	SpamMessage     string `yaml:"spam_message" mapstructure:"spam_message" json:"spam_message" binding:"required"`
}

type TurnCacheConfig struct {
	MaxTurns      int           `yaml:"max_turns" mapstructure:"max_turns" json:"max_turns" binding:"min=2"`
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl" json:"ttl" binding:"min=1s"`
	MaxIdentities int           `yaml:"max_identities" mapstructure:"max_identities" json:"max_identities" binding:"min=1"`
}

// MediaConfig bounds image downloads for vision requests
type MediaConfig struct {
	MaxImages     int           `yaml:"max_images" mapstructure:"max_images" json:"max_images" binding:"min=0"`
	MaxImageBytes int64         `yaml:"max_image_bytes" mapstructure:"max_image_bytes" json:"max_image_bytes" binding:"min=1"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout" json:"fetch_timeout" binding:"min=1s"`

	// AllowPrivate disables the private network checks. Only useful for
	// local development.
	AllowPrivate bool `yaml:"allow_private" mapstructure:"allow_private" json:"allow_private"`
}

type PolicyConfig struct {
	// BannedTerms are refused before anything is stored or sent to the model
	BannedTerms    []string `yaml:"banned_terms" mapstructure:"banned_terms" json:"banned_terms" log:"[redacted]"`
	RefusalMessage string   `yaml:"refusal_message" mapstructure:"refusal_message" json:"refusal_message" binding:"required"`
}

// MaintenanceConfig schedules background cleanup. Schedules use cron
// syntax, including descriptors like '@daily' and '@every 5m'.
type MaintenanceConfig struct {
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	EditPurgeSchedule string `yaml:"edit_purge_schedule" mapstructure:"edit_purge_schedule" json:"edit_purge_schedule" binding:"required_if=Enabled true"`
	RetentionSchedule string `yaml:"retention_schedule" mapstructure:"retention_schedule" json:"retention_schedule" binding:"required_if=Enabled true"`

	// MessageRetention deletes recorded messages older than this. 0=keep forever
	MessageRetention time.Duration `yaml:"message_retention" mapstructure:"message_retention" json:"message_retention" binding:"min=0"`

	// GuildUserRetention deletes cached guild users not seen for this long. 0=keep forever
	GuildUserRetention time.Duration `yaml:"guild_user_retention" mapstructure:"guild_user_retention" json:"guild_user_retention" binding:"min=0"`
}

var structValidator = validator.New()

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	openaiLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	openaiLogLevel.Set(DefaultOpenAILogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		OpenAI: &OpenAIConfig{
			LogLevel:                 openaiLogLevel,
			Model:                    DefaultOpenAIModel,
			VisionModel:              DefaultOpenAIVisionModel,
			Temperature:              DefaultOpenAITemperature,
			MaxTokens:                DefaultOpenAIMaxTokens,
			RequestTimeout:           DefaultOpenAIRequestTimeout,
			RetryDelay:               DefaultOpenAIRetryDelay,
			MaxRequestsPerSecond:     DefaultOpenAIMaxRequestsPerSecond,
			Persona:                  DefaultOpenAIPersona,
			FallbackMessage:          DefaultOpenAIFallbackMessage,
			VisionUnsupportedMessage: DefaultOpenAIVisionUnsupportedMessage,
		},
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			CustomStatus:      DefaultDiscordCustomStatus,
			ErrorMessage:      DefaultDiscordErrorMessage,
			EditWindow:        DefaultDiscordEditWindow,
			EditThrottle:      DefaultDiscordEditThrottle,
			RegisterCommands:  true,
		},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			SessionMaxAge:     DefaultAPISessionMaxAge,
			CORS:              DefaultCORSConfig(),
		},
		Memory: &MemoryConfig{
			UserSummaryCadence:    DefaultUserSummaryCadence,
			ChannelSummaryCadence: DefaultChannelSummaryCadence,
			GuildSummaryCadence:   DefaultGuildSummaryCadence,
			SummaryStaleness:      DefaultSummaryStaleness,
			KnownUserWindow:       DefaultKnownUserWindow,
			RecentMessageLimit:    DefaultRecentMessageLimit,
			ChannelMessageLimit:   DefaultChannelMessageLimit,
			KnownUserLimit:        DefaultKnownUserLimit,
		},
		RateLimit: &RateLimitConfig{
			Cooldown:        DefaultRateLimitCooldown,
			IdleTTL:         DefaultRateLimitIdleTTL,
			MaxIdentities:   DefaultRateLimitMaxIdentities,
			SlowDownMessage: DefaultRateLimitSlowDown,
			SpamMessage:     DefaultRateLimitSpam,
		},
		Turns: &TurnCacheConfig{
			MaxTurns:      DefaultTurnCacheMaxTurns,
			TTL:           DefaultTurnCacheTTL,
			MaxIdentities: DefaultTurnCacheMaxIdentities,
		},
		Media: &MediaConfig{
			MaxImages:     DefaultMediaMaxImages,
			MaxImageBytes: DefaultMediaMaxImageBytes,
			FetchTimeout:  DefaultMediaFetchTimeout,
		},
		Policy: &PolicyConfig{
			RefusalMessage: DefaultPolicyRefusalMessage,
		},
		Maintenance: &MaintenanceConfig{
			Enabled:            true,
			EditPurgeSchedule:  DefaultMaintenanceEditPurgeSchedule,
			RetentionSchedule:  DefaultMaintenanceRetentionSchedule,
			MessageRetention:   DefaultMessageRetention,
			GuildUserRetention: DefaultGuildUserRetention,
		},
	}
}

func init() {
	structValidator.SetTagName("binding")
}
