package recollect

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	pprofPrefix          = "/debug"
	apiPrefix            = "/api"
	apiPathLogin         = "/login"
	apiPathLogout        = "/logout"
	apiPathHealth        = "/health"
	apiPathLoggedIn      = "/logged_in"
	apiPathChannels      = "/channels"
	apiPathChannel       = "/channels/:id"
	apiPathChannelMemory = "/channels/:id/memory"
	apiPathUser          = "/users/:id"
	apiPathUserMemory    = "/users/:id/memory"
	apiPathGuildMemory   = "/guilds/:id/memory"
	apiPathGuildUsers    = "/guilds/:id/users"
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"

	// updatedByAPI is recorded as the author of changes made via the API
	updatedByAPI = "api"
)

// API is the admin HTTP server. It manages the channel allowlist, user
// memory settings and stored memory.
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	store               CookieStore
	loginRequestLimiter *rate.Limiter
	logger              *slog.Logger

	handlers *APIHandlers
}

func newAPI(bot *Recollect, config *APIConfig) (*API, error) {
	logger := newComponentLogger(config.LogLevel, "api")

	r := gin.New()
	api := &API{
		config:              config,
		engine:              r,
		logger:              logger,
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
	}
	handlers := newAPIHandlers(bot, api, logger)
	api.handlers = handlers
	api.store = handlers.store
	r.Use(sessions.Sessions(sessionVarName, handlers.store))

	var tlsCfg *tls.Config
	if config.SSL.Cert != "" {
		var err error
		tlsCfg, err = tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 && config.Development {
		corsConfig.AllowOrigins = []string{"*"}
		corsConfig.AllowCredentials = false
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = false
		corsConfig.AllowOriginFunc = func(string) bool { return false }
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		cors.New(corsConfig),
	)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	public := r.Group(apiPrefix)
	public.POST(apiPathLogin, handlers.loginHandler)
	public.POST(apiPathLogout, handlers.logoutHandler)
	public.GET(apiPathHealth, handlers.healthCheck)

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(handlers.store, logger))

	protected.GET(apiPathLoggedIn, handlers.loggedIn)
	protected.GET(apiPathChannels, handlers.listChannels)
	protected.PUT(apiPathChannel, handlers.allowChannel)
	protected.DELETE(apiPathChannel, handlers.denyChannel)
	protected.DELETE(apiPathChannelMemory, handlers.resetChannelMemory)
	protected.GET(apiPathUser, handlers.getUser)
	protected.PATCH(apiPathUser, handlers.updateUser)
	protected.DELETE(apiPathUserMemory, handlers.forgetUser)
	protected.DELETE(apiPathGuildMemory, handlers.resetGuildMemory)
	protected.GET(apiPathGuildUsers, handlers.getGuildUsers)

	return api, nil
}

// Serve listens on the configured address until the server is shut down.
// TLS is used when a certificate is configured.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "api listening", "addr", a.listener.Addr().String())
	err := a.httpServer.Serve(a.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// APIHandlers implements the admin API endpoints.
type APIHandlers struct {
	bot    *Recollect
	api    *API
	logger *slog.Logger
	store  CookieStore
}

func newAPIHandlers(bot *Recollect, api *API, logger *slog.Logger) *APIHandlers {
	config := api.config

	var secretKey []byte
	switch sk := config.Secret; {
	case sk == "":
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	default:
		secretKey = derive64ByteKey(sk)
	}

	store := NewCookieStore(secretKey)
	store.Options(sessionOptions(config))
	return &APIHandlers{bot: bot, api: api, logger: logger, store: store}
}

func sessionOptions(config *APIConfig) sessions.Options {
	sameSite := http.SameSiteStrictMode
	if config.Development {
		sameSite = http.SameSiteNoneMode
	}
	return sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   config.SSL.Cert != "" || config.Development,
		MaxAge:   int(config.SessionMaxAge.Seconds()),
		SameSite: sameSite,
	}
}

// loginHandler checks the posted credentials against the configured admin
// credentials, and starts a session if they match.
//
// Responses:
//   - 200 OK: logged in
//   - 400 Bad Request: invalid payload
//   - 401 Unauthorized: wrong credentials
//   - 429 Too Many Requests: login attempts are rate limited
func (h *APIHandlers) loginHandler(c *gin.Context) {
	logger := ginContextLogger(c, h.logger)
	if !h.api.loginRequestLimiter.Allow() {
		logger.Warn("login rate limited")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, httpError{Error: "too many requests"})
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	config := h.api.config
	if config.AdminUsername == "" || config.AdminPasswordHash == "" {
		logger.Warn("admin username and password not set")
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	validUser := subtle.ConstantTimeCompare(
		[]byte(login.Username),
		[]byte(config.AdminUsername),
	) == 1
	validPassword, err := VerifyPassword(config.AdminPasswordHash, login.Password)
	if err != nil {
		logger.Error("error verifying password", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	if !validUser || !validPassword {
		logger.Warn("invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}

	session, err := h.store.New(c.Request, sessionVarName)
	if err != nil {
		// an invalid existing cookie still returns a new session
		logger.Warn("error decoding existing session", tint.Err(err))
	}
	if session == nil {
		ginReplyError(c, "internal server error")
		return
	}
	opts := sessionOptions(config)
	session.Options = opts.ToGorillaOptions()
	session.Values[sessionVarField] = login.Username
	if err = session.Save(c.Request, c.Writer); err != nil {
		logger.Error("error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	logger.Info("saved user session", "username", login.Username)
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
}

func (h *APIHandlers) logoutHandler(c *gin.Context) {
	logger := ginContextLogger(c, h.logger)
	session, err := h.store.Get(c.Request, sessionVarName)
	if err != nil {
		logger.Warn("error getting session", tint.Err(err))
	}
	if session != nil {
		session.Values[sessionVarField] = ""
		session.Options.MaxAge = -1
		if err = session.Save(c.Request, c.Writer); err != nil {
			logger.Error("error saving cookie", tint.Err(err))
		}
	}
	ginReplyMessage(c, "logged out")
}

func (h *APIHandlers) loggedIn(c *gin.Context) {
	username, _ := c.Get(sessionVarField)
	name, _ := username.(string)
	c.JSON(http.StatusOK, loggedInResponse{Username: name})
}

// healthCheck reports whether the gateway is connected and the database
// is reachable.
//
// Responses:
//   - 200 OK: database reachable
//   - 503 Service Unavailable: database unreachable
func (h *APIHandlers) healthCheck(c *gin.Context) {
	resp := healthCheckResponse{Version: Version, DatabaseOK: true}
	if h.bot.discord != nil {
		resp.DiscordGatewayConnected = h.bot.discord.connected.Load()
	}
	status := http.StatusOK
	if err := h.bot.db.Read(
		c.Request.Context(), func(db *gorm.DB) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(c.Request.Context())
		},
	); err != nil {
		ginContextLogger(c, h.logger).Error("database ping failed", tint.Err(err))
		resp.DatabaseOK = false
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// listChannels returns the channels where memory is enabled, optionally
// filtered by the 'guild_id' query parameter.
func (h *APIHandlers) listChannels(c *gin.Context) {
	var query channelListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	entries, err := h.bot.store.ListChannels(c.Request.Context(), query.GuildID)
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error listing channels")
		return
	}
	if entries == nil {
		entries = []ChannelAllowlistEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

// allowChannel enables memory in the channel.
//
// Responses:
//   - 200 OK: channel allowed
//   - 400 Bad Request: missing guild_id
func (h *APIHandlers) allowChannel(c *gin.Context) {
	var payload apiChannelPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	channelID := c.Param("id")
	logger := ginContextLogger(c, h.logger)
	if err := h.bot.store.AllowChannel(
		c.Request.Context(),
		channelID,
		payload.GuildID,
		updatedByAPI,
	); err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error allowing channel")
		return
	}
	logger.Info("channel allowed", columnChannelID, channelID, columnGuildID, payload.GuildID)
	ginReplyMessage(c, "channel allowed")
}

// denyChannel disables memory in the channel. Recorded messages are kept.
func (h *APIHandlers) denyChannel(c *gin.Context) {
	channelID := c.Param("id")
	if err := h.bot.store.DenyChannel(
		c.Request.Context(),
		channelID,
		c.Query(columnGuildID),
		updatedByAPI,
	); err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error denying channel")
		return
	}
	ginContextLogger(c, h.logger).Info("channel denied", columnChannelID, channelID)
	ginReplyMessage(c, "channel denied")
}

func (h *APIHandlers) resetChannelMemory(c *gin.Context) {
	deleted, err := h.bot.store.ResetChannelMemory(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error resetting channel memory")
		return
	}
	c.JSON(http.StatusOK, deletedResponse{Deleted: deleted})
}

func (h *APIHandlers) getUser(c *gin.Context) {
	settings, err := h.bot.store.UserSettings(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error getting user")
		return
	}
	c.JSON(http.StatusOK, settings)
}

// updateUser changes a user's memory setting. Turning memory off also
// clears their conversation window.
//
// Responses:
//   - 200 OK: returns the updated settings
//   - 400 Bad Request: invalid payload
func (h *APIHandlers) updateUser(c *gin.Context) {
	var payload apiPatchUser
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	ctx := c.Request.Context()
	userID := c.Param("id")
	if err := h.bot.store.SetMemoryEnabled(ctx, userID, *payload.MemoryEnabled); err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error updating user")
		return
	}
	if !*payload.MemoryEnabled {
		h.bot.clearTurns(ctx, userID)
	}
	ginContextLogger(c, h.logger).Info(
		"updated user",
		columnUserID, userID,
		columnMemoryEnabled, *payload.MemoryEnabled,
	)
	settings, err := h.bot.store.UserSettings(ctx, userID)
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error getting user")
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *APIHandlers) forgetUser(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("id")
	deleted, err := h.bot.store.ForgetUser(ctx, userID)
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error forgetting user")
		return
	}
	h.bot.clearTurns(ctx, userID)
	c.JSON(http.StatusOK, deletedResponse{Deleted: deleted})
}

func (h *APIHandlers) resetGuildMemory(c *gin.Context) {
	deleted, err := h.bot.store.ResetGuildMemory(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error resetting guild memory")
		return
	}
	c.JSON(http.StatusOK, deletedResponse{Deleted: deleted})
}

func (h *APIHandlers) getGuildUsers(c *gin.Context) {
	users, err := h.bot.store.GuildUsers(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error getting guild users")
		return
	}
	if users == nil {
		users = []GuildUser{}
	}
	c.JSON(http.StatusOK, users)
}

type loggedInResponse struct {
	Username string `json:"username"`
}

type healthCheckResponse struct {
	Version                 string `json:"version"`
	DiscordGatewayConnected bool   `json:"discord_gateway_connected"`
	DatabaseOK              bool   `json:"database_ok"`
}

type deletedResponse struct {
	Deleted int64 `json:"deleted"`
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

type userLogin struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type channelListQuery struct {
	GuildID string `form:"guild_id" binding:"omitempty,numeric"`
}

type apiChannelPayload struct {
	GuildID string `json:"guild_id" binding:"required,numeric"`
}

// apiPatchUser is the payload for updating a user. MemoryEnabled is a
// pointer so an explicit false can be told apart from a missing field.
type apiPatchUser struct {
	MemoryEnabled *bool `json:"memory_enabled" binding:"required"`
}

// authMiddleware aborts the request with 401 unless the session carries
// a username.
func authMiddleware(store CookieStore, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := store.Get(c.Request, sessionVarName)
		if err != nil || session == nil {
			ginContextLogger(c, logger).Warn("error getting session", tint.Err(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		username, _ := session.Values[sessionVarField].(string)
		if username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		c.Set(sessionVarField, username)
		c.Next()
	}
}

// requestIDMiddleware assigns each request an ID, returned in the
// X-Request-ID header and included in the request's log entries.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request's logger, creating it from base
// with the request details on first use.
func ginContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	if v, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, ok := v.(*slog.Logger); ok {
			return requestLogger
		}
	}
	if base == nil {
		base = slog.Default()
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}
	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request when it finishes, with any
// errors attached to the gin context.
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestLogger := ginContextLogger(c, base)
		c.Request = c.Request.WithContext(WithLogger(c.Request.Context(), requestLogger))
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		errs := c.Errors.ByType(gin.ErrorTypePrivate)
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
