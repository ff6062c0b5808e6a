package recollect

import (
	"context"
	"fmt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"strings"
	"time"
)

// GuildMember is a member as reported by the gateway.
type GuildMember struct {
	UserID      string
	DisplayName string
	RoleIDs     []string
	JoinedAt    time.Time
}

// GuildSnapshot is the state of a guild as reported by the gateway on
// GUILD_CREATE.
type GuildSnapshot struct {
	Info    GuildInfo
	Roles   []GuildRole
	Members []GuildMember
}

// SyncGuild replaces the cached metadata, roles and member roles for a
// guild with the snapshot, and upserts the display names of its members.
// Members not in the snapshot keep their cached names.
func (m *MemoryStore) SyncGuild(ctx context.Context, snapshot GuildSnapshot) error {
	guildID := snapshot.Info.GuildID
	if guildID == "" {
		return fmt.Errorf("guild id is required")
	}
	err := m.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			if err := upsertGuildInfo(tx, snapshot.Info); err != nil {
				return err
			}
			if err := replaceGuildRoles(tx, guildID, snapshot.Roles); err != nil {
				return err
			}
			for _, member := range snapshot.Members {
				if err := upsertGuildMember(tx, guildID, member); err != nil {
					return err
				}
			}
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("error syncing guild: %w", err)
	}
	m.logger.InfoContext(
		ctx,
		"synced guild",
		"guild_id", guildID,
		"roles", len(snapshot.Roles),
		"members", len(snapshot.Members),
	)
	return nil
}

// UpsertGuildInfo creates or replaces the cached metadata for a guild.
func (m *MemoryStore) UpsertGuildInfo(ctx context.Context, info GuildInfo) error {
	return m.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return upsertGuildInfo(tx, info)
		},
	)
}

func upsertGuildInfo(tx *gorm.DB, info GuildInfo) error {
	err := tx.Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: columnGuildID}},
			DoUpdates: clause.AssignmentColumns(
				[]string{
					columnGuildName,
					columnGuildOwnerID,
					columnGuildMemberCount,
					columnGuildDescription,
					columnUpdatedAt,
				},
			),
		},
	).Create(&info).Error
	if err != nil {
		return fmt.Errorf("error upserting guild info: %w", err)
	}
	return nil
}

// ReplaceGuildRoles replaces every cached role for the guild.
func (m *MemoryStore) ReplaceGuildRoles(ctx context.Context, guildID string, roles []GuildRole) error {
	return m.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return replaceGuildRoles(tx, guildID, roles)
		},
	)
}

func replaceGuildRoles(tx *gorm.DB, guildID string, roles []GuildRole) error {
	if err := tx.Where(columnGuildID+" = ?", guildID).Delete(&GuildRole{}).Error; err != nil {
		return fmt.Errorf("error deleting guild roles: %w", err)
	}
	if len(roles) == 0 {
		return nil
	}
	for i := range roles {
		roles[i].GuildID = guildID
	}
	if err := tx.CreateInBatches(roles, 100).Error; err != nil {
		return fmt.Errorf("error inserting guild roles: %w", err)
	}
	return nil
}

// UpsertGuildRole creates or updates one cached role.
func (m *MemoryStore) UpsertGuildRole(ctx context.Context, role GuildRole) error {
	return m.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{{Name: columnGuildID}, {Name: columnRoleID}},
					DoUpdates: clause.AssignmentColumns(
						[]string{columnGuildRoleName, columnGuildRolePos},
					),
				},
			).Create(&role).Error
		},
	)
}

// DeleteGuildRole removes a cached role and its member associations.
func (m *MemoryStore) DeleteGuildRole(ctx context.Context, guildID, roleID string) error {
	return m.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			where := columnGuildID + " = ? AND " + columnRoleID + " = ?"
			if err := tx.Where(where, guildID, roleID).Delete(&MemberRole{}).Error; err != nil {
				return err
			}
			return tx.Where(where, guildID, roleID).Delete(&GuildRole{}).Error
		},
	)
}

// UpsertGuildMember caches a member's display name and replaces their
// roles. The member's last-seen time isn't changed.
func (m *MemoryStore) UpsertGuildMember(ctx context.Context, guildID string, member GuildMember) error {
	return m.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return upsertGuildMember(tx, guildID, member)
		},
	)
}

func upsertGuildMember(tx *gorm.DB, guildID string, member GuildMember) error {
	if member.DisplayName != "" {
		gu := GuildUser{
			GuildID:     guildID,
			UserID:      member.UserID,
			DisplayName: member.DisplayName,
		}
		if !member.JoinedAt.IsZero() {
			gu.JoinedAt = member.JoinedAt.UnixMilli()
		}
		err := tx.Clauses(
			clause.OnConflict{
				Columns:   []clause.Column{{Name: columnGuildID}, {Name: columnUserID}},
				DoUpdates: clause.AssignmentColumns([]string{columnDisplayName}),
			},
		).Create(&gu).Error
		if err != nil {
			return fmt.Errorf("error upserting guild member: %w", err)
		}
	}

	where := columnGuildID + " = ? AND " + columnUserID + " = ?"
	if err := tx.Where(where, guildID, member.UserID).Delete(&MemberRole{}).Error; err != nil {
		return fmt.Errorf("error deleting member roles: %w", err)
	}
	if len(member.RoleIDs) == 0 {
		return nil
	}
	memberRoles := make([]MemberRole, 0, len(member.RoleIDs))
	for _, roleID := range member.RoleIDs {
		memberRoles = append(
			memberRoles,
			MemberRole{GuildID: guildID, UserID: member.UserID, RoleID: roleID},
		)
	}
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&memberRoles).Error
	if err != nil {
		return fmt.Errorf("error inserting member roles: %w", err)
	}
	return nil
}

// RemoveGuildMember removes a member's role associations. Their cached
// name and recorded messages are kept.
func (m *MemoryStore) RemoveGuildMember(ctx context.Context, guildID, userID string) error {
	_, err := m.db.Delete(
		ctx,
		&MemberRole{},
		columnGuildID+" = ? AND "+columnUserID+" = ?",
		guildID,
		userID,
	)
	return err
}

// GuildInfo returns the cached metadata for the guild, or nil.
func (m *MemoryStore) GuildInfo(ctx context.Context, guildID string) (*GuildInfo, error) {
	var infos []GuildInfo
	err := m.db.Read(
		ctx, func(db *gorm.DB) error {
			return db.Where(columnGuildID+" = ?", guildID).Limit(1).Find(&infos).Error
		},
	)
	if err != nil || len(infos) == 0 {
		return nil, err
	}
	return &infos[0], nil
}

// GuildRoles returns the guild's cached roles, highest position first.
func (m *MemoryStore) GuildRoles(ctx context.Context, guildID string) ([]GuildRole, error) {
	var roles []GuildRole
	err := m.db.Read(
		ctx, func(db *gorm.DB) error {
			return db.Where(columnGuildID+" = ?", guildID).
				Order(columnGuildRolePos + " DESC").
				Find(&roles).Error
		},
	)
	return roles, err
}

// GuildUsers returns the guild's cached users, most recently seen first.
func (m *MemoryStore) GuildUsers(ctx context.Context, guildID string) ([]GuildUser, error) {
	var users []GuildUser
	err := m.db.Read(
		ctx, func(db *gorm.DB) error {
			return db.Where(columnGuildID+" = ?", guildID).
				Order(columnLastSeenAt + " DESC").
				Limit(maxGuildUserCandidates).
				Find(&users).Error
		},
	)
	return users, err
}

// GuildUser returns the cached user, or nil.
func (m *MemoryStore) GuildUser(ctx context.Context, guildID, userID string) (*GuildUser, error) {
	var users []GuildUser
	err := m.db.Read(
		ctx, func(db *gorm.DB) error {
			return db.Where(
				columnGuildID+" = ? AND "+columnUserID+" = ?",
				guildID,
				userID,
			).Limit(1).Find(&users).Error
		},
	)
	if err != nil || len(users) == 0 {
		return nil, err
	}
	return &users[0], nil
}

// RoleMemberNames returns the display names of cached members holding
// the role, alphabetically.
func (m *MemoryStore) RoleMemberNames(
	ctx context.Context,
	guildID string,
	roleID string,
	limit int,
) ([]string, error) {
	var names []string
	err := m.db.Read(
		ctx, func(db *gorm.DB) error {
			return db.Table(tableMemberRoles+" AS mr").
				Joins(
					"JOIN "+tableGuildUsers+" gu ON gu.guild_id = mr.guild_id AND gu.user_id = mr.user_id",
				).
				Where("mr.guild_id = ? AND mr.role_id = ?", guildID, roleID).
				Order("gu.display_name").
				Limit(limit).
				Pluck("gu.display_name", &names).Error
		},
	)
	return names, err
}

// memberRoleNames returns the names of the member's cached roles, highest
// position first.
func (m *MemoryStore) memberRoleNames(ctx context.Context, guildID, userID string) ([]string, error) {
	var names []string
	err := m.db.Read(
		ctx, func(db *gorm.DB) error {
			return db.Table(tableMemberRoles+" AS mr").
				Joins("JOIN guild_roles gr ON gr.guild_id = mr.guild_id AND gr.role_id = mr.role_id").
				Where("mr.guild_id = ? AND mr.user_id = ?", guildID, userID).
				Order("gr.position DESC").
				Pluck("gr.name", &names).Error
		},
	)
	return names, err
}

// GuildInfoCard renders the cached guild metadata as a short block of
// "Label: value" lines. It's empty if nothing is cached for the guild.
func (m *MemoryStore) GuildInfoCard(ctx context.Context, guildID string) (string, error) {
	info, err := m.GuildInfo(ctx, guildID)
	if err != nil || info == nil {
		return "", err
	}
	lines := []string{fmt.Sprintf("Server name: %s", info.Name)}
	if info.OwnerID != "" {
		owner := info.OwnerID
		if gu, e := m.GuildUser(ctx, guildID, info.OwnerID); e == nil && gu != nil {
			owner = gu.DisplayName
		}
		lines = append(lines, fmt.Sprintf("Owner: %s", owner))
	}
	if info.MemberCount > 0 {
		lines = append(lines, fmt.Sprintf("Members: %d", info.MemberCount))
	}
	if info.Description != "" {
		lines = append(lines, fmt.Sprintf("Description: %s", truncate(info.Description, maxContextLineLength)))
	}

	roles, err := m.GuildRoles(ctx, guildID)
	if err != nil {
		return "", err
	}
	var roleNames []string
	for _, r := range roles {
		if r.Name == "@everyone" {
			continue
		}
		roleNames = append(roleNames, r.Name)
		if len(roleNames) == maxInfoCardRoles {
			break
		}
	}
	if len(roleNames) > 0 {
		lines = append(lines, fmt.Sprintf("Roles: %s", formatNameList(roleNames)))
	}
	return strings.Join(lines, "\n"), nil
}

// UserInfoCard renders what's cached about a guild member. It's empty if
// the member isn't cached.
func (m *MemoryStore) UserInfoCard(ctx context.Context, guildID, userID string) (string, error) {
	gu, err := m.GuildUser(ctx, guildID, userID)
	if err != nil || gu == nil {
		return "", err
	}
	lines := []string{fmt.Sprintf("Display name: %s", gu.DisplayName)}
	if gu.JoinedAt > 0 {
		lines = append(
			lines,
			fmt.Sprintf("Joined: %s", unixMilliTime(gu.JoinedAt).Format(time.DateOnly)),
		)
	}
	if gu.LastSeenAt > 0 {
		lines = append(
			lines,
			fmt.Sprintf("Last active: %s", unixMilliTime(gu.LastSeenAt).Format(messageTimestampLayout)),
		)
	}
	roles, err := m.memberRoleNames(ctx, guildID, userID)
	if err != nil {
		return "", err
	}
	if len(roles) > 0 {
		lines = append(lines, fmt.Sprintf("Roles: %s", formatNameList(roles)))
	}
	return strings.Join(lines, "\n"), nil
}
