package recollect

import (
	"log/slog"
)

var (
	columnUserID           = "user_id"
	columnChannelID        = "channel_id"
	columnGuildID          = "guild_id"
	columnRoleID           = "role_id"
	columnMessageID        = "message_id"
	columnCreatedAt        = "created_at"
	columnMessageCount     = "message_count"
	columnMemoryEnabled    = "memory_enabled"
	columnProfileSummary   = "profile_summary"
	columnSummary          = "summary"
	columnLastSummaryAt    = "last_summary_at"
	columnEnabled          = "enabled"
	columnUpdatedBy        = "updated_by"
	columnUpdatedAt        = "updated_at"
	columnDisplayName      = "display_name"
	columnLastSeenAt       = "last_seen_at"
	columnGuildRoleName    = "name"
	columnGuildRolePos     = "position"
	columnGuildName        = "name"
	columnGuildOwnerID     = "owner_id"
	columnGuildMemberCount = "member_count"
	columnGuildDescription = "description"
)

// UserSettings holds a user's memory preference and their profile summary.
// A row is created the first time one of the user's messages is recorded,
// or when they change their memory setting.
type UserSettings struct {
	UserID         string `gorm:"primaryKey" json:"user_id"`
	MemoryEnabled  bool   `gorm:"not null" json:"memory_enabled"`
	ProfileSummary string `gorm:"type:text" json:"profile_summary"`
	MessageCount   int64  `gorm:"not null;default:0" json:"message_count"`

	// LastSummaryAt is the unix millisecond timestamp of the last summary
	// refresh. 0 if the summary has never been refreshed.
	LastSummaryAt int64 `json:"last_summary_at"`

	ModelUnixTime
}

func (u UserSettings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", u.UserID),
		slog.Bool("memory_enabled", u.MemoryEnabled),
		slog.Int64("message_count", u.MessageCount),
		slog.Int64("last_summary_at", u.LastSummaryAt),
	)
}

// ChannelAllowlistEntry allows (or denies) persisting messages from a
// guild channel. A channel without an entry is not allowed.
type ChannelAllowlistEntry struct {
	ChannelID string `gorm:"primaryKey" json:"channel_id"`
	GuildID   string `gorm:"index" json:"guild_id,omitempty"`
	Enabled   bool   `gorm:"not null" json:"enabled"`

	// UpdatedBy is the ID of the user (or 'api') that last changed the entry
	UpdatedBy string `json:"updated_by,omitempty"`

	ModelUnixTime
}

// UserMessage is one recorded message. GuildID is empty for direct messages.
type UserMessage struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	UserID    string `gorm:"index;not null" json:"user_id"`
	ChannelID string `gorm:"index;not null" json:"channel_id"`
	GuildID   string `gorm:"index" json:"guild_id,omitempty"`
	Content   string `gorm:"type:text" json:"content"`
	CreatedAt int64  `gorm:"autoCreateTime:milli;index" json:"created_at"`
}

func (m UserMessage) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("id", m.ID),
		slog.String("user_id", m.UserID),
		slog.String("channel_id", m.ChannelID),
		slog.String("guild_id", m.GuildID),
		slog.Int("content_length", len(m.Content)),
	)
}

// ChannelProfile is the aggregate summary for one channel, across all users.
type ChannelProfile struct {
	ChannelID     string `gorm:"primaryKey" json:"channel_id"`
	GuildID       string `gorm:"index" json:"guild_id,omitempty"`
	Summary       string `gorm:"type:text" json:"summary"`
	MessageCount  int64  `gorm:"not null;default:0" json:"message_count"`
	LastSummaryAt int64  `json:"last_summary_at"`

	ModelUnixTime
}

// GuildProfile is the aggregate summary for one guild.
type GuildProfile struct {
	GuildID       string `gorm:"primaryKey" json:"guild_id"`
	Summary       string `gorm:"type:text" json:"summary"`
	MessageCount  int64  `gorm:"not null;default:0" json:"message_count"`
	LastSummaryAt int64  `json:"last_summary_at"`

	ModelUnixTime
}

// GuildUser caches a member's display name and activity within a guild.
type GuildUser struct {
	GuildID     string `gorm:"primaryKey" json:"guild_id"`
	UserID      string `gorm:"primaryKey" json:"user_id"`
	DisplayName string `gorm:"not null" json:"display_name"`
	LastSeenAt  int64  `gorm:"index" json:"last_seen_at"`

	// JoinedAt is set when the row is created and never overwritten
	JoinedAt int64 `json:"joined_at"`
}

// GuildInfo caches guild metadata from the gateway.
type GuildInfo struct {
	GuildID     string `gorm:"primaryKey" json:"guild_id"`
	Name        string `json:"name"`
	OwnerID     string `json:"owner_id"`
	MemberCount int    `json:"member_count"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	UpdatedAt   int64  `gorm:"autoUpdateTime:milli" json:"updated_at"`
}

// GuildRole caches a guild role.
type GuildRole struct {
	GuildID  string `gorm:"primaryKey" json:"guild_id"`
	RoleID   string `gorm:"primaryKey" json:"role_id"`
	Name     string `gorm:"not null" json:"name"`
	Position int    `json:"position"`
}

// MemberRole associates a guild member with a role.
type MemberRole struct {
	GuildID string `gorm:"primaryKey" json:"guild_id"`
	UserID  string `gorm:"primaryKey" json:"user_id"`
	RoleID  string `gorm:"primaryKey" json:"role_id"`
}

// BotMessageRecord tracks a message sent by the bot, so it can be purged.
type BotMessageRecord struct {
	MessageID string `gorm:"primaryKey" json:"message_id"`
	ChannelID string `gorm:"index;not null" json:"channel_id"`
	GuildID   string `gorm:"index" json:"guild_id,omitempty"`
	CreatedAt int64  `gorm:"autoCreateTime:milli;index" json:"created_at"`
}
