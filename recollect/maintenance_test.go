package recollect

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
	"time"
)

func TestMaintenance_EnforceRetention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, db := newTestStore(t)
	clock, now := fixedClock(testClockStart)
	store.now = clock

	_, err := store.RecordMessage(
		ctx,
		RecordMessageInput{UserID: "u1", ChannelID: "c1", GuildID: "g1", Content: "old", DisplayName: "Alex"},
	)
	require.NoError(t, err)

	*now = testClockStart.Add(100 * 24 * time.Hour)
	_, err = store.RecordMessage(
		ctx,
		RecordMessageInput{UserID: "u2", ChannelID: "c1", GuildID: "g1", Content: "newer", DisplayName: "Sam"},
	)
	require.NoError(t, err)

	m, err := newMaintenance(DefaultConfig().Maintenance, store, NewEditTracker(time.Minute, time.Second), slog.Default())
	require.NoError(t, err)
	m.now = func() time.Time { return testClockStart.Add(120 * 24 * time.Hour) }

	messages, guildUsers, err := m.enforceRetention(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), messages)
	assert.Equal(t, int64(0), guildUsers)

	m.now = func() time.Time { return testClockStart.Add(200 * 24 * time.Hour) }
	messages, guildUsers, err = m.enforceRetention(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), messages)
	assert.Equal(t, int64(1), guildUsers)

	gu, err := store.GuildUser(ctx, "g1", "u2")
	require.NoError(t, err)
	assert.NotNil(t, gu)
	assert.Equal(t, int64(0), countRows(t, db, &UserMessage{}))
}

func TestMaintenance_RetentionDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, db := newTestStore(t)
	clock, _ := fixedClock(testClockStart)
	store.now = clock
	_, err := store.RecordMessage(
		ctx,
		RecordMessageInput{UserID: "u1", ChannelID: "c1", GuildID: "g1", Content: "old", DisplayName: "Alex"},
	)
	require.NoError(t, err)

	config := DefaultConfig().Maintenance
	config.MessageRetention = 0
	config.GuildUserRetention = 0
	m, err := newMaintenance(config, store, NewEditTracker(time.Minute, time.Second), slog.Default())
	require.NoError(t, err)

	messages, guildUsers, err := m.enforceRetention(ctx)
	require.NoError(t, err)
	assert.Zero(t, messages)
	assert.Zero(t, guildUsers)
	assert.Equal(t, int64(1), countRows(t, db, &UserMessage{}))
	assert.Equal(t, int64(1), countRows(t, db, &GuildUser{}))
}

func TestMaintenance_SyncedMembersKept(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, db := newTestStore(t)
	require.NoError(t, store.SyncGuild(ctx, testGuildSnapshot()))

	m, err := newMaintenance(DefaultConfig().Maintenance, store, NewEditTracker(time.Minute, time.Second), slog.Default())
	require.NoError(t, err)
	m.now = func() time.Time { return time.Now().Add(10 * 365 * 24 * time.Hour) }

	_, guildUsers, err := m.enforceRetention(ctx)
	require.NoError(t, err)
	assert.Zero(t, guildUsers)
	assert.Equal(t, int64(3), countRows(t, db, &GuildUser{}))
}

func TestMaintenance_PurgeEdits(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	edits := NewEditTracker(time.Minute, time.Second)
	clock, now := fixedClock(testClockStart)
	edits.now = clock
	edits.Track("m1", "c1", "r1")

	m, err := newMaintenance(DefaultConfig().Maintenance, store, edits, slog.Default())
	require.NoError(t, err)

	m.purgeEdits()
	assert.Equal(t, 1, edits.Len())

	*now = now.Add(2 * time.Minute)
	m.purgeEdits()
	assert.Equal(t, 0, edits.Len())
}

func TestMaintenance_InvalidSchedule(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	edits := NewEditTracker(time.Minute, time.Second)

	config := DefaultConfig().Maintenance
	config.EditPurgeSchedule = "every now and then"
	_, err := newMaintenance(config, store, edits, slog.Default())
	assert.ErrorContains(t, err, "edit purge schedule")

	config = DefaultConfig().Maintenance
	config.RetentionSchedule = "* * *"
	_, err = newMaintenance(config, store, edits, slog.Default())
	assert.ErrorContains(t, err, "retention schedule")
}

func TestMaintenance_Run(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	m, err := newMaintenance(
		DefaultConfig().Maintenance,
		store,
		NewEditTracker(time.Minute, time.Second),
		slog.Default(),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()

	select {
	case err = <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler didn't stop")
	}
}
