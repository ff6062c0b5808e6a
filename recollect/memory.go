package recollect

import (
	"context"
	"errors"
	"fmt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"log/slog"
	"strings"
	"time"
)

const (
	tableUserMessages   = "user_messages"
	tableUserSettings   = "user_settings"
	tableChannelProfile = "channel_profiles"
	tableGuildProfile   = "guild_profiles"
	tableGuildUsers     = "guild_users"
	tableMemberRoles    = "member_roles"

	messageTimestampLayout = "2006-01-02 15:04 UTC"
	maxContextLineLength   = 300
	maxGuildUserCandidates = 1000
	maxInfoCardRoles       = 15
	unknownAuthorName      = "someone"
)

var errMissingUserID = errors.New("user id is required")

// MemoryStore is the persistent memory: user settings, the channel
// allowlist, the message log, user/channel/guild summaries and the guild
// member/role cache.
//
// Every method that writes does so in a single transaction, so a failure
// never leaves partially applied counters or deletions behind.
type MemoryStore struct {
	db     DBI
	config *MemoryConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewMemoryStore(db DBI, config *MemoryConfig, logger *slog.Logger) *MemoryStore {
	if config == nil {
		config = DefaultConfig().Memory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		db:     db,
		config: config,
		logger: logger.With(loggerNameKey, "memory"),
		now:    time.Now,
	}
}

// RecordMessageInput describes a message to record. GuildID is empty for
// direct messages. DisplayName, if set with a GuildID, updates the guild's
// user cache.
type RecordMessageInput struct {
	UserID      string
	ChannelID   string
	GuildID     string
	Content     string
	DisplayName string
}

// profileScope identifies one profile row to bump in RecordMessage.
type profileScope struct {
	table         string
	keyColumn     string
	key           string
	summaryColumn string
	cadence       int

	// seed is inserted if no row exists yet
	seed any
}

type profileState struct {
	Summary       string
	MessageCount  int64
	LastSummaryAt int64
}

// RecordMessage appends a message to the log and, in the same transaction,
// updates the user's settings, the channel profile (for guild channels),
// the guild profile (if GuildID is set) and the guild user cache (if
// DisplayName and GuildID are set), in that order.
//
// Facts extracted from the content are merged into each scope's summary
// when the scope's refresh gate passes. Channel and guild summaries
// attribute facts to the author.
func (m *MemoryStore) RecordMessage(
	ctx context.Context,
	in RecordMessageInput,
) (*UserMessage, error) {
	if in.UserID == "" {
		return nil, errMissingUserID
	}
	now := m.now().UTC()
	notes := ExtractFacts(in.Content)

	author := in.DisplayName
	if author == "" {
		author = in.UserID
	}
	sharedNotes := attributeNotes(notes, author)

	msg := &UserMessage{
		UserID:    in.UserID,
		ChannelID: in.ChannelID,
		GuildID:   in.GuildID,
		Content:   in.Content,
		CreatedAt: now.UnixMilli(),
	}

	err := m.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			if err := tx.Create(msg).Error; err != nil {
				return fmt.Errorf("error inserting message: %w", err)
			}

			userScope := profileScope{
				table:         tableUserSettings,
				keyColumn:     columnUserID,
				key:           in.UserID,
				summaryColumn: columnProfileSummary,
				cadence:       m.config.UserSummaryCadence,
				seed:          &UserSettings{UserID: in.UserID, MemoryEnabled: true},
			}
			if err := m.bumpProfile(tx, userScope, notes, now); err != nil {
				return err
			}

			if in.ChannelID != "" && in.GuildID != "" {
				channelScope := profileScope{
					table:         tableChannelProfile,
					keyColumn:     columnChannelID,
					key:           in.ChannelID,
					summaryColumn: columnSummary,
					cadence:       m.config.ChannelSummaryCadence,
					seed:          &ChannelProfile{ChannelID: in.ChannelID, GuildID: in.GuildID},
				}
				if err := m.bumpProfile(tx, channelScope, sharedNotes, now); err != nil {
					return err
				}
			}

			if in.GuildID != "" {
				guildScope := profileScope{
					table:         tableGuildProfile,
					keyColumn:     columnGuildID,
					key:           in.GuildID,
					summaryColumn: columnSummary,
					cadence:       m.config.GuildSummaryCadence,
					seed:          &GuildProfile{GuildID: in.GuildID},
				}
				if err := m.bumpProfile(tx, guildScope, sharedNotes, now); err != nil {
					return err
				}
			}

			if in.GuildID != "" && in.DisplayName != "" {
				if err := upsertGuildUserSeen(tx, in.GuildID, in.UserID, in.DisplayName, now); err != nil {
					return err
				}
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	m.logger.DebugContext(ctx, "recorded message", "message", msg, "notes", len(notes))
	return msg, nil
}

// bumpProfile creates the scope's row if needed, increments its message
// count and refreshes its summary when the gate passes. The increment is
// done in SQL so that concurrent updates to the same row serialize in the
// database rather than overwrite each other.
func (m *MemoryStore) bumpProfile(
	tx *gorm.DB,
	scope profileScope,
	notes []Note,
	now time.Time,
) error {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(scope.seed).Error; err != nil {
		return fmt.Errorf("error creating %s row: %w", scope.table, err)
	}

	where := scope.keyColumn + " = ?"
	rv := tx.Table(scope.table).Where(where, scope.key).UpdateColumn(
		columnMessageCount,
		gorm.Expr(columnMessageCount+" + ?", 1),
	)
	if rv.Error != nil {
		return fmt.Errorf("error incrementing %s count: %w", scope.table, rv.Error)
	}

	var state profileState
	err := tx.Table(scope.table).
		Select(
			scope.summaryColumn+" AS summary",
			columnMessageCount,
			columnLastSummaryAt,
		).
		Where(where, scope.key).
		Take(&state).Error
	if err != nil {
		return fmt.Errorf("error reading %s row: %w", scope.table, err)
	}

	if !shouldRefreshSummary(
		len(notes) > 0,
		state.MessageCount,
		scope.cadence,
		state.LastSummaryAt,
		now,
		m.config.SummaryStaleness,
	) {
		return nil
	}

	nowMilli := now.UnixMilli()
	rv = tx.Table(scope.table).Where(where, scope.key).UpdateColumns(
		map[string]any{
			scope.summaryColumn: MergeSummary(state.Summary, notes),
			columnLastSummaryAt: nowMilli,
			columnUpdatedAt:     nowMilli,
		},
	)
	if rv.Error != nil {
		return fmt.Errorf("error updating %s summary: %w", scope.table, rv.Error)
	}
	return nil
}

// upsertGuildUserSeen sets a guild member's display name and last-seen
// time. JoinedAt is only set when the row is created.
func upsertGuildUserSeen(
	tx *gorm.DB,
	guildID string,
	userID string,
	displayName string,
	now time.Time,
) error {
	gu := GuildUser{
		GuildID:     guildID,
		UserID:      userID,
		DisplayName: displayName,
		LastSeenAt:  now.UnixMilli(),
		JoinedAt:    now.UnixMilli(),
	}
	err := tx.Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: columnGuildID}, {Name: columnUserID}},
			DoUpdates: clause.AssignmentColumns([]string{columnDisplayName, columnLastSeenAt}),
		},
	).Create(&gu).Error
	if err != nil {
		return fmt.Errorf("error upserting guild user: %w", err)
	}
	return nil
}

// ProfileSummary returns the user's summary, or an empty string.
func (m *MemoryStore) ProfileSummary(ctx context.Context, userID string) (string, error) {
	s, err := m.UserSettings(ctx, userID)
	return s.ProfileSummary, err
}

// ChannelSummary returns the channel's summary, or an empty string.
func (m *MemoryStore) ChannelSummary(ctx context.Context, channelID string) (string, error) {
	var p ChannelProfile
	err := m.db.Read(
		ctx, func(db *gorm.DB) error {
			return db.Where(columnChannelID+" = ?", channelID).Limit(1).Find(&p).Error
		},
	)
	return p.Summary, err
}

// GuildSummary returns the guild's summary, or an empty string.
func (m *MemoryStore) GuildSummary(ctx context.Context, guildID string) (string, error) {
	var p GuildProfile
	err := m.db.Read(
		ctx, func(db *gorm.DB) error {
			return db.Where(columnGuildID+" = ?", guildID).Limit(1).Find(&p).Error
		},
	)
	return p.Summary, err
}

// RecentMessages returns the user's most recent messages, newest first,
// each prefixed with its timestamp.
func (m *MemoryStore) RecentMessages(
	ctx context.Context,
	userID string,
	limit int,
) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	var msgs []UserMessage
	err := m.db.Read(
		ctx, func(db *gorm.DB) error {
			return db.Where(columnUserID+" = ?", userID).
				Order("created_at DESC, id DESC").
				Limit(limit).
				Find(&msgs).Error
		},
	)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		lines = append(
			lines,
			fmt.Sprintf(
				"[%s] %s",
				unixMilliTime(msg.CreatedAt).Format(messageTimestampLayout),
				truncate(msg.Content, maxContextLineLength),
			),
		)
	}
	return lines, nil
}

// RecentChannelMessages returns the channel's most recent messages from
// users other than excludingUserID, newest first. Each line carries the
// timestamp and the author's cached display name.
func (m *MemoryStore) RecentChannelMessages(
	ctx context.Context,
	channelID string,
	excludingUserID string,
	limit int,
) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	type row struct {
		UserID      string
		Content     string
		CreatedAt   int64
		DisplayName *string
	}
	var rows []row
	err := m.db.Read(
		ctx, func(db *gorm.DB) error {
			q := db.Table(tableUserMessages+" AS m").
				Select("m.user_id, m.content, m.created_at, gu.display_name").
				Joins(
					"LEFT JOIN "+tableGuildUsers+" gu ON gu.guild_id = m.guild_id AND gu.user_id = m.user_id",
				).
				Where("m.channel_id = ?", channelID)
			if excludingUserID != "" {
				q = q.Where("m.user_id <> ?", excludingUserID)
			}
			return q.Order("m.created_at DESC, m.id DESC").Limit(limit).Scan(&rows).Error
		},
	)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		name := unknownAuthorName
		if r.DisplayName != nil && *r.DisplayName != "" {
			name = *r.DisplayName
		}
		lines = append(
			lines,
			fmt.Sprintf(
				"[%s] %s: %s",
				unixMilliTime(r.CreatedAt).Format(messageTimestampLayout),
				name,
				truncate(r.Content, maxContextLineLength),
			),
		)
	}
	return lines, nil
}

// GuildUserNames returns display names of guild members seen within the
// configured window, most recently seen first.
func (m *MemoryStore) GuildUserNames(
	ctx context.Context,
	guildID string,
	limit int,
) ([]string, error) {
	if limit <= 0 || guildID == "" {
		return nil, nil
	}
	cutoff := m.now().Add(-m.config.KnownUserWindow).UnixMilli()
	var names []string
	err := m.db.Read(
		ctx, func(db *gorm.DB) error {
			return db.Model(&GuildUser{}).
				Where(columnGuildID+" = ? AND "+columnLastSeenAt+" >= ?", guildID, cutoff).
				Order(columnLastSeenAt+" DESC").
				Limit(limit).
				Pluck(columnDisplayName, &names).Error
		},
	)
	return names, err
}

// AllowChannel allows messages in the channel to be recorded. Repeated
// calls have no further effect.
func (m *MemoryStore) AllowChannel(ctx context.Context, channelID, guildID, updatedBy string) error {
	return m.setChannelAllowed(ctx, channelID, guildID, updatedBy, true)
}

// DenyChannel stops messages in the channel from being recorded. Messages
// already recorded are kept; see ResetChannelMemory.
func (m *MemoryStore) DenyChannel(ctx context.Context, channelID, guildID, updatedBy string) error {
	return m.setChannelAllowed(ctx, channelID, guildID, updatedBy, false)
}

func (m *MemoryStore) setChannelAllowed(
	ctx context.Context,
	channelID string,
	guildID string,
	updatedBy string,
	enabled bool,
) error {
	entry := ChannelAllowlistEntry{
		ChannelID: channelID,
		GuildID:   guildID,
		Enabled:   enabled,
		UpdatedBy: updatedBy,
	}
	updateColumns := []string{columnEnabled, columnUpdatedBy, columnUpdatedAt}
	if guildID != "" {
		updateColumns = append(updateColumns, columnGuildID)
	}
	err := m.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(
				clause.OnConflict{
					Columns:   []clause.Column{{Name: columnChannelID}},
					DoUpdates: clause.AssignmentColumns(updateColumns),
				},
			).Create(&entry).Error
		},
	)
	if err != nil {
		return fmt.Errorf("error updating channel allowlist: %w", err)
	}
	m.logger.InfoContext(
		ctx,
		"channel allowlist updated",
		"channel_id", channelID,
		"guild_id", guildID,
		"enabled", enabled,
		"updated_by", updatedBy,
	)
	return nil
}

// IsChannelAllowed reports whether messages in the channel may be recorded.
func (m *MemoryStore) IsChannelAllowed(ctx context.Context, channelID string) (bool, error) {
	var entries []ChannelAllowlistEntry
	err := m.db.Read(
		ctx, func(db *gorm.DB) error {
			return db.Where(columnChannelID+" = ?", channelID).Limit(1).Find(&entries).Error
		},
	)
	if err != nil {
		return false, err
	}
	return len(entries) == 1 && entries[0].Enabled, nil
}

// ListChannels returns the allowed channels. If guildID is set, only that
// guild's channels are returned.
func (m *MemoryStore) ListChannels(ctx context.Context, guildID string) ([]ChannelAllowlistEntry, error) {
	var entries []ChannelAllowlistEntry
	err := m.db.Read(
		ctx, func(db *gorm.DB) error {
			q := db.Where(columnEnabled+" = ?", true)
			if guildID != "" {
				q = q.Where(columnGuildID+" = ?", guildID)
			}
			return q.Order(columnChannelID).Find(&entries).Error
		},
	)
	return entries, err
}

// UserSettings returns the user's settings. If the user has no row yet,
// the defaults are returned (memory enabled, empty summary).
func (m *MemoryStore) UserSettings(ctx context.Context, userID string) (UserSettings, error) {
	var found []UserSettings
	err := m.db.Read(
		ctx, func(db *gorm.DB) error {
			return db.Where(columnUserID+" = ?", userID).Limit(1).Find(&found).Error
		},
	)
	if err != nil {
		return UserSettings{UserID: userID, MemoryEnabled: true}, err
	}
	if len(found) == 0 {
		return UserSettings{UserID: userID, MemoryEnabled: true}, nil
	}
	return found[0], nil
}

// MemoryEnabled reports whether the user allows their messages to be
// remembered.
func (m *MemoryStore) MemoryEnabled(ctx context.Context, userID string) (bool, error) {
	s, err := m.UserSettings(ctx, userID)
	return s.MemoryEnabled, err
}

// SetMemoryEnabled turns the user's memory on or off, creating their
// settings row if needed.
func (m *MemoryStore) SetMemoryEnabled(ctx context.Context, userID string, enabled bool) error {
	if userID == "" {
		return errMissingUserID
	}
	settings := UserSettings{UserID: userID, MemoryEnabled: enabled}
	err := m.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(
				clause.OnConflict{
					Columns:   []clause.Column{{Name: columnUserID}},
					DoUpdates: clause.AssignmentColumns([]string{columnMemoryEnabled, columnUpdatedAt}),
				},
			).Create(&settings).Error
		},
	)
	if err != nil {
		return fmt.Errorf("error updating memory setting: %w", err)
	}
	return nil
}

// ForgetUser deletes the user's recorded messages and clears their
// summary and message count. The memory setting is kept.
func (m *MemoryStore) ForgetUser(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, errMissingUserID
	}
	var deleted int64
	err := m.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			rv := tx.Where(columnUserID+" = ?", userID).Delete(&UserMessage{})
			if rv.Error != nil {
				return fmt.Errorf("error deleting messages: %w", rv.Error)
			}
			deleted = rv.RowsAffected
			rv = tx.Model(&UserSettings{}).Where(columnUserID+" = ?", userID).UpdateColumns(
				map[string]any{
					columnProfileSummary: "",
					columnMessageCount:   0,
					columnLastSummaryAt:  0,
					columnUpdatedAt:      m.now().UnixMilli(),
				},
			)
			if rv.Error != nil {
				return fmt.Errorf("error clearing user summary: %w", rv.Error)
			}
			return nil
		},
	)
	if err != nil {
		return 0, err
	}
	m.logger.InfoContext(ctx, "forgot user", "user_id", userID, "messages_deleted", deleted)
	return deleted, nil
}

// ResetChannelMemory deletes the channel's recorded messages and its profile.
func (m *MemoryStore) ResetChannelMemory(ctx context.Context, channelID string) (int64, error) {
	var deleted int64
	err := m.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			rv := tx.Where(columnChannelID+" = ?", channelID).Delete(&UserMessage{})
			if rv.Error != nil {
				return fmt.Errorf("error deleting channel messages: %w", rv.Error)
			}
			deleted = rv.RowsAffected
			if err := tx.Where(columnChannelID+" = ?", channelID).Delete(&ChannelProfile{}).Error; err != nil {
				return fmt.Errorf("error deleting channel profile: %w", err)
			}
			return nil
		},
	)
	if err != nil {
		return 0, err
	}
	m.logger.InfoContext(ctx, "reset channel memory", "channel_id", channelID, "messages_deleted", deleted)
	return deleted, nil
}

// ResetGuildMemory deletes the guild's recorded messages, its channel and
// guild profiles, and its user-name cache. The role mirror and guild
// metadata are left alone, as they're re-synced from the gateway.
func (m *MemoryStore) ResetGuildMemory(ctx context.Context, guildID string) (int64, error) {
	if guildID == "" {
		return 0, errors.New("guild id is required")
	}
	var deleted int64
	err := m.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			where := columnGuildID + " = ?"
			rv := tx.Where(where, guildID).Delete(&UserMessage{})
			if rv.Error != nil {
				return fmt.Errorf("error deleting guild messages: %w", rv.Error)
			}
			deleted = rv.RowsAffected
			if err := tx.Where(where, guildID).Delete(&ChannelProfile{}).Error; err != nil {
				return fmt.Errorf("error deleting channel profiles: %w", err)
			}
			if err := tx.Where(where, guildID).Delete(&GuildProfile{}).Error; err != nil {
				return fmt.Errorf("error deleting guild profile: %w", err)
			}
			if err := tx.Where(where, guildID).Delete(&GuildUser{}).Error; err != nil {
				return fmt.Errorf("error deleting guild users: %w", err)
			}
			return nil
		},
	)
	if err != nil {
		return 0, err
	}
	m.logger.InfoContext(ctx, "reset guild memory", "guild_id", guildID, "messages_deleted", deleted)
	return deleted, nil
}

// TrackBotMessage records a message sent by the bot.
func (m *MemoryStore) TrackBotMessage(ctx context.Context, rec BotMessageRecord) error {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = m.now().UnixMilli()
	}
	return m.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
		},
	)
}

// BotMessagesInChannel returns tracked bot messages in the channel,
// newest first.
func (m *MemoryStore) BotMessagesInChannel(
	ctx context.Context,
	channelID string,
	limit int,
) ([]BotMessageRecord, error) {
	var records []BotMessageRecord
	err := m.db.Read(
		ctx, func(db *gorm.DB) error {
			return db.Where(columnChannelID+" = ?", channelID).
				Order("created_at DESC").
				Limit(limit).
				Find(&records).Error
		},
	)
	return records, err
}

// DeleteBotMessageRecord stops tracking a bot message.
func (m *MemoryStore) DeleteBotMessageRecord(ctx context.Context, messageID string) error {
	_, err := m.db.Delete(ctx, &BotMessageRecord{}, columnMessageID+" = ?", messageID)
	return err
}

// PruneMessages deletes recorded messages created before cutoff. Summaries
// and counts are kept.
func (m *MemoryStore) PruneMessages(ctx context.Context, cutoff time.Time) (int64, error) {
	return m.db.Delete(ctx, &UserMessage{}, columnCreatedAt+" < ?", cutoff.UnixMilli())
}

// PruneGuildUsers deletes cached guild users last seen before cutoff.
// Members synced from the gateway that have never been seen speaking are
// kept.
func (m *MemoryStore) PruneGuildUsers(ctx context.Context, cutoff time.Time) (int64, error) {
	return m.db.Delete(
		ctx,
		&GuildUser{},
		columnLastSeenAt+" > 0 AND "+columnLastSeenAt+" < ?",
		cutoff.UnixMilli(),
	)
}

// formatNameList joins names for a context block, e.g. "Alex, Sam, Kim".
func formatNameList(names []string) string {
	return strings.Join(names, ", ")
}
