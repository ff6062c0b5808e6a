package recollect

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newTestDB creates and migrates a sqlite database in a temp directory.
func newTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	handler := tint.NewHandler(defaultLogWriter, &tint.Options{Level: slog.LevelWarn})
	db, err := createDB(
		context.Background(),
		dbTypeSQLite,
		filepath.Join(t.TempDir(), "test.sqlite3"),
		handler,
		DefaultDatabaseSlowThreshold,
	)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			if sqlDB, e := db.DB(); e == nil {
				_ = sqlDB.Close()
			}
		},
	)
	return db
}

// newTestStore returns a MemoryStore over a fresh database, with the
// default memory config.
func newTestStore(t testing.TB) (*MemoryStore, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	store := NewMemoryStore(NewDatabase(db, nil, false), DefaultConfig().Memory, nil)
	return store, db
}

// fixedClock returns a clock function that reports the time held in
// the returned pointer.
func fixedClock(start time.Time) (func() time.Time, *time.Time) {
	now := start
	return func() time.Time { return now }, &now
}

func countRows(t testing.TB, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestShortenString(t *testing.T) {
	t.Parallel()

	t.Run(
		"short", func(t *testing.T) {
			assert.Equal(t, "hello", shortenString("hello", 10))
		},
	)
	t.Run(
		"collapses double newlines", func(t *testing.T) {
			assert.Equal(t, "a\nb", shortenString("a\n\nb", 3))
		},
	)
	t.Run(
		"removes bold", func(t *testing.T) {
			assert.Equal(t, "ab", shortenString("**ab**", 4))
		},
	)
	t.Run(
		"truncates with suffix", func(t *testing.T) {
			s := strings.Repeat("x", 3000)
			shortened := shortenString(s, discordMaxMessageLength)
			assert.LessOrEqual(t, len([]rune(shortened)), discordMaxMessageLength)
			assert.True(t, strings.HasSuffix(shortened, "**(output limit reached)**"))
		},
	)
	t.Run(
		"limit below suffix length", func(t *testing.T) {
			assert.Equal(t, "xxxxx", shortenString(strings.Repeat("x", 50), 5))
		},
	)
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "héll", truncate("héllo", 4))
	assert.Equal(t, "hi", truncate("hi", 4))
}

func TestHashPassword(t *testing.T) {
	t.Parallel()
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))

	valid, err := VerifyPassword(hash, "hunter2")
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = VerifyPassword(hash, "hunter3")
	require.NoError(t, err)
	assert.False(t, valid)

	other, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "expected a unique salt per hash")
}

func TestVerifyPassword_InvalidHash(t *testing.T) {
	t.Parallel()
	_, err := VerifyPassword("not-a-hash", "password")
	assert.Error(t, err)

	_, err = VerifyPassword("$argon2id$v=19$m=x,t=1,p=4$c2FsdA$aGFzaA", "password")
	assert.Error(t, err)
}

func TestUnixMilliTime(t *testing.T) {
	t.Parallel()
	assert.True(t, unixMilliTime(0).IsZero())

	ts := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, ts, unixMilliTime(ts.UnixMilli()))
}

func TestDiscordGoLogLevels(t *testing.T) {
	t.Parallel()
	assert.Equal(t, slog.LevelDebug, discordGoLogLevels[discordgo.LogDebug])
	assert.Equal(t, slog.LevelInfo, discordGoLogLevels[discordgo.LogInformational])
	assert.Equal(t, slog.LevelWarn, discordGoLogLevels[discordgo.LogWarning])
	assert.Equal(t, slog.LevelError, discordGoLogLevels[discordgo.LogError])
}

func TestContextLogger(t *testing.T) {
	t.Parallel()
	_, ok := ContextLogger(context.Background())
	assert.False(t, ok)

	fallback := slog.Default().With("fallback", true)
	assert.Same(t, fallback, contextLoggerOr(context.Background(), fallback))

	logger := slog.Default().With("ctx", true)
	ctx := WithLogger(context.Background(), logger)
	got, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.Same(t, logger, got)
	assert.Same(t, logger, contextLoggerOr(ctx, fallback))
}

func TestDerive64ByteKey(t *testing.T) {
	t.Parallel()
	key := derive64ByteKey("secret")
	assert.Len(t, key, 64)
	assert.Equal(t, key, derive64ByteKey("secret"))
	assert.NotEqual(t, key, derive64ByteKey("other"))
}
