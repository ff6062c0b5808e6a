package recollect

import (
	"context"
	"fmt"
	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
	"log/slog"
	"time"
)

// Maintenance runs scheduled cleanup: expiring tracked replies, and
// deleting recorded messages and cached guild users past their retention.
type Maintenance struct {
	config *MaintenanceConfig
	store  *MemoryStore
	edits  *EditTracker
	logger *slog.Logger
	cron   *cron.Cron
	now    func() time.Time
}

func newMaintenance(
	config *MaintenanceConfig,
	store *MemoryStore,
	edits *EditTracker,
	logger *slog.Logger,
) (*Maintenance, error) {
	cl := cronLogger{logger: logger}
	m := &Maintenance{
		config: config,
		store:  store,
		edits:  edits,
		logger: logger,
		now:    time.Now,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	if _, err := m.cron.AddFunc(config.EditPurgeSchedule, m.purgeEdits); err != nil {
		return nil, fmt.Errorf("invalid edit purge schedule %q: %w", config.EditPurgeSchedule, err)
	}
	_, err := m.cron.AddFunc(
		config.RetentionSchedule,
		func() { _, _, _ = m.enforceRetention(context.Background()) },
	)
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", config.RetentionSchedule, err)
	}
	return m, nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (m *Maintenance) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "starting maintenance scheduler")
	m.cron.Start()
	<-ctx.Done()
	<-m.cron.Stop().Done()
	m.logger.Info("maintenance scheduler stopped")
	return nil
}

func (m *Maintenance) purgeEdits() {
	if n := m.edits.Purge(); n > 0 {
		m.logger.Debug("purged tracked replies", "count", n)
	}
}

// enforceRetention deletes messages and guild users older than their
// configured retention. A retention of 0 keeps everything.
func (m *Maintenance) enforceRetention(ctx context.Context) (
	messages int64,
	guildUsers int64,
	err error,
) {
	now := m.now()
	if m.config.MessageRetention > 0 {
		messages, err = m.store.PruneMessages(ctx, now.Add(-m.config.MessageRetention))
		if err != nil {
			m.logger.ErrorContext(ctx, "error pruning messages", tint.Err(err))
			return messages, guildUsers, err
		}
	}
	if m.config.GuildUserRetention > 0 {
		guildUsers, err = m.store.PruneGuildUsers(ctx, now.Add(-m.config.GuildUserRetention))
		if err != nil {
			m.logger.ErrorContext(ctx, "error pruning guild users", tint.Err(err))
			return messages, guildUsers, err
		}
	}
	m.logger.InfoContext(
		ctx,
		"retention enforced",
		"messages_deleted", messages,
		"guild_users_deleted", guildUsers,
	)
	return messages, guildUsers, nil
}

// cronLogger adapts slog to the scheduler's logger
type cronLogger struct {
	logger *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error(msg, append(keysAndValues, tint.Err(err))...)
}
