package recollect

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/arcward/recollect/recollect.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// Recollect is the bot: it owns the database, the memory and context
// components, the discord session, the admin API and the maintenance
// scheduler.
type Recollect struct {
	config *Config
	logger *slog.Logger

	db    DBI
	store *MemoryStore

	turns      *TurnCache
	limiter    *RateLimiter
	policy     *ContentPolicy
	media      *MediaFetcher
	completion *CompletionClient
	assembler  *Assembler
	router     *IntentRouter
	edits      *EditTracker
	notifier   TurnsNotifier

	discord     *Discord
	api         *API
	maintenance *Maintenance

	// prevents concurrent runs
	runMu sync.Mutex
}

// New creates a Recollect from config. The database is opened by Run,
// or by InitDB.
func New(config *Config) (*Recollect, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	logger := slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)
	slog.SetDefault(logger)

	r := &Recollect{
		config:  config,
		logger:  logger,
		turns:   NewTurnCache(config.Turns),
		limiter: NewRateLimiter(config.RateLimit),
		policy:  NewContentPolicy(config.Policy),
		media:   NewMediaFetcher(config.Media, nil, logger),
		edits:   NewEditTracker(config.Discord.EditWindow, config.Discord.EditThrottle),
	}
	r.completion = NewCompletionClient(
		config.OpenAI,
		NewOpenAIClient(config.OpenAI, config.HTTPClient),
		newComponentLogger(config.OpenAI.LogLevel, "openai"),
	)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)
	r.discord = newDiscord(
		config.Discord,
		r,
		newComponentLogger(config.Discord.LogLevel, "discord"),
	)

	if config.API.Enabled {
		api, err := newAPI(r, config.API)
		errs = append(errs, err)
		r.api = api
	}

	return r, errors.Join(errs...)
}

func (r *Recollect) ValidateConfig() error {
	return structValidator.Struct(r.config)
}

// InitDB opens and migrates the database, and creates the components
// backed by it.
func (r *Recollect) InitDB(ctx context.Context) error {
	handler := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     r.config.DatabaseLogLevel,
			AddSource: true,
		},
	)
	db, err := createDB(
		ctx,
		r.config.DatabaseType,
		r.config.Database,
		handler,
		r.config.DatabaseSlowThreshold,
	)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	r.useDB(NewDatabase(db, r.logger, r.config.DatabaseType == dbTypePostgres))
	return nil
}

func (r *Recollect) useDB(db DBI) {
	r.db = db
	r.store = NewMemoryStore(db, r.config.Memory, r.logger.With(loggerNameKey, "memory"))
	r.assembler = NewAssembler(
		r.store,
		r.turns,
		r.limiter,
		r.policy,
		r.media,
		r.completion,
		r.config.Memory,
		r.logger.With(loggerNameKey, "assembler"),
	)
	r.router = NewIntentRouter(r.store, r.logger.With(loggerNameKey, "intent"))
	r.notifier = newTurnsNotifier(
		r.config.DatabaseType,
		r.config.Database,
		db,
		r.turns,
		r.logger.With(loggerNameKey, "notifier"),
	)
}

// clearTurns clears the user's conversation window here and on any other
// instance sharing the database.
func (r *Recollect) clearTurns(ctx context.Context, userID string) {
	r.turns.Clear(userID)
	if err := r.notifier.NotifyTurnsCleared(ctx, userID); err != nil {
		contextLoggerOr(ctx, r.logger).WarnContext(ctx, "error notifying other instances", tint.Err(err))
	}
}

// Run connects to discord and serves until ctx is canceled, then shuts
// down gracefully.
func (r *Recollect) Run(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	logger := r.logger
	if err := r.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}
	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", r.config))

	startCtx, startCancel := context.WithTimeout(ctx, r.config.StartupTimeout)
	defer startCancel()
	if err := r.initRun(startCtx, ctx); err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if r.api != nil {
		g.Go(func() error { return r.api.Serve(gctx) })
	}
	if r.maintenance != nil {
		g.Go(func() error { return r.maintenance.Run(gctx) })
	}
	g.Go(func() error { return r.notifier.Listen(gctx) })
	g.Go(
		func() error {
			<-gctx.Done()
			return r.shutdown(ctx)
		},
	)
	return g.Wait()
}

// initRun opens the database and the discord session, and registers
// slash commands, within the startup timeout.
func (r *Recollect) initRun(startCtx context.Context, ctx context.Context) error {
	if r.db == nil {
		if err := r.InitDB(startCtx); err != nil {
			return err
		}
	}

	if r.config.Maintenance.Enabled {
		m, err := newMaintenance(
			r.config.Maintenance,
			r.store,
			r.edits,
			r.logger.With(loggerNameKey, "maintenance"),
		)
		if err != nil {
			return err
		}
		r.maintenance = m
	}

	if r.discord.session == nil {
		session, err := r.discord.newSession(r.config.HTTPClient)
		if err != nil {
			return err
		}
		r.discord.session = session
	}
	r.discord.addHandlers(ctx)

	opened := make(chan error, 1)
	go func() { opened <- r.discord.session.Open() }()
	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out: %w", startCtx.Err())
	case err := <-opened:
		if err != nil {
			return fmt.Errorf("error opening discord session: %w", err)
		}
	}

	if r.config.Discord.RegisterCommands {
		cmds, err := r.discord.registerCommands(discordgo.WithContext(startCtx))
		if err != nil {
			return err
		}
		r.logger.InfoContext(ctx, "registered commands", "count", len(cmds))
	}
	r.logger.InfoContext(ctx, "init complete")
	return nil
}

// shutdown closes the discord session and the API, then waits for
// in-flight event handlers until the shutdown timeout.
func (r *Recollect) shutdown(ctx context.Context) error {
	shutdownStart := time.Now()
	r.logger.WarnContext(
		ctx,
		"shutting down",
		"shutdown_timeout", r.config.ShutdownTimeout,
	)
	closeCtx, closeCancel := context.WithTimeout(
		context.WithoutCancel(ctx),
		r.config.ShutdownTimeout,
	)
	defer closeCancel()

	var errs []error
	for _, remove := range r.discord.removeHandlerFuncs {
		remove()
	}
	if err := r.discord.session.Close(); err != nil {
		errs = append(errs, fmt.Errorf("error closing discord session: %w", err))
	}
	if r.api != nil {
		if err := r.api.Shutdown(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("error shutting down api: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		r.discord.eventWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.InfoContext(
			ctx,
			"finished handling in-flight events",
			"shutdown_duration", time.Since(shutdownStart),
		)
	case <-closeCtx.Done():
		errs = append(errs, errors.New("in-flight events did not finish before the shutdown timeout"))
	}

	if r.db != nil {
		if sqlDB, err := r.db.DB().DB(); err == nil {
			if e := sqlDB.Close(); e != nil {
				errs = append(errs, fmt.Errorf("error closing database: %w", e))
			}
		}
	}
	return errors.Join(errs...)
}
