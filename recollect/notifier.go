package recollect

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"log/slog"
	"strings"
	"time"
)

const (
	postgresNotifyChannelTurnsCleared = "recollect_turns_cleared"
	notifierRetryDelay                = 5 * time.Second
)

// TurnsNotifier tells other bot instances sharing the database that a
// user's conversation window was cleared, so they clear theirs too.
type TurnsNotifier interface {
	NotifyTurnsCleared(ctx context.Context, userID string) error

	// Listen blocks, applying notifications from other instances, until
	// ctx is canceled.
	Listen(ctx context.Context) error
}

// newTurnsNotifier returns a postgres LISTEN/NOTIFY notifier, or a no-op
// notifier for sqlite, which only ever has one instance.
func newTurnsNotifier(
	dbType string,
	dsn string,
	db DBI,
	turns *TurnCache,
	logger *slog.Logger,
) TurnsNotifier {
	if dbType != dbTypePostgres {
		return localNotifier{}
	}
	return newPostgresNotifier(dsn, db, turns.Clear, logger)
}

type localNotifier struct{}

func (localNotifier) NotifyTurnsCleared(context.Context, string) error {
	return nil
}

func (localNotifier) Listen(context.Context) error {
	return nil
}

// postgresNotifier sends and receives turn-clear notifications with
// pg_notify. Payloads are "<instance id>:<user id>", and an instance
// ignores its own.
type postgresNotifier struct {
	id         string
	dsn        string
	db         DBI
	onClear    func(userID string)
	logger     *slog.Logger
	retryDelay time.Duration
}

func newPostgresNotifier(
	dsn string,
	db DBI,
	onClear func(userID string),
	logger *slog.Logger,
) *postgresNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &postgresNotifier{
		id:         id,
		dsn:        dsn,
		db:         db,
		onClear:    onClear,
		logger:     logger.With("pg_notify_id", id),
		retryDelay: notifierRetryDelay,
	}
}

func (p *postgresNotifier) NotifyTurnsCleared(ctx context.Context, userID string) error {
	err := p.db.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		postgresNotifyChannelTurnsCleared,
		p.payload(userID),
	).Error
	if err != nil {
		return fmt.Errorf("error sending turns cleared notification: %w", err)
	}
	return nil
}

func (p *postgresNotifier) payload(userID string) string {
	return p.id + ":" + userID
}

// Listen opens a dedicated connection pool and waits for notifications,
// reconnecting after errors until ctx is canceled.
func (p *postgresNotifier) Listen(ctx context.Context) error {
	config, err := pgxpool.ParseConfig(p.dsn)
	if err != nil {
		return fmt.Errorf("error parsing database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("error creating connection pool: %w", err)
	}
	defer pool.Close()

	for ctx.Err() == nil {
		err = p.listen(ctx, pool)
		if err == nil || ctx.Err() != nil {
			break
		}
		p.logger.ErrorContext(ctx, "notification listener error", tint.Err(err))
		select {
		case <-ctx.Done():
		case <-time.After(p.retryDelay):
		}
	}
	return nil
}

func (p *postgresNotifier) listen(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("error acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+postgresNotifyChannelTurnsCleared); err != nil {
		return fmt.Errorf("error setting up listener: %w", err)
	}
	p.logger.InfoContext(ctx, "listening", "channel", postgresNotifyChannelTurnsCleared)

	for {
		notification, e := conn.Conn().WaitForNotification(ctx)
		if e != nil {
			return e
		}
		p.handlePayload(ctx, notification.Payload)
	}
}

func (p *postgresNotifier) handlePayload(ctx context.Context, payload string) {
	sender, userID, ok := strings.Cut(payload, ":")
	if !ok || userID == "" {
		p.logger.WarnContext(ctx, "invalid notification payload", "payload", payload)
		return
	}
	if sender == p.id {
		return
	}
	p.logger.DebugContext(ctx, "clearing turns from notification", columnUserID, userID, "sender", sender)
	p.onClear(userID)
}
