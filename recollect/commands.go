package recollect

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"log/slog"
	"strings"
)

// slashCommands returns the application commands registered on startup.
func slashCommands() []*discordgo.ApplicationCommand {
	dmPerm := true
	noDMPerm := false
	manageGuild := discordPermissionManage
	minLength := 1
	minPurge := float64(1)

	return []*discordgo.ApplicationCommand{
		{
			Name:         DiscordSlashCommandChat,
			Description:  "Chat with the bot",
			Type:         discordgo.ChatApplicationCommand,
			DMPermission: &dmPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        chatCommandPromptOption,
					Description: "What do you want to say?",
					Required:    true,
					MinLength:   &minLength,
					MaxLength:   discordMaxMessageLength,
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        chatCommandPrivateOption,
					Description: "Only show the answer to you",
				},
			},
		},
		{
			Name:         DiscordSlashCommandMemory,
			Description:  "Manage what the bot remembers about you",
			Type:         discordgo.ChatApplicationCommand,
			DMPermission: &dmPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandActionOption,
					Description: "What to do",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Turn memory on", Value: memoryActionOn},
						{Name: "Turn memory off", Value: memoryActionOff},
						{Name: "Forget everything about me", Value: memoryActionForget},
						{Name: "Show my memory status", Value: memoryActionStatus},
					},
				},
			},
		},
		{
			Name:                     DiscordSlashCommandChannel,
			Description:              "Manage whether the bot remembers messages in this channel",
			Type:                     discordgo.ChatApplicationCommand,
			DMPermission:             &noDMPerm,
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandActionOption,
					Description: "What to do",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Allow memory in this channel", Value: channelActionAllow},
						{Name: "Deny memory in this channel", Value: channelActionDeny},
						{Name: "Show this channel's status", Value: channelActionStatus},
						{Name: "List allowed channels", Value: channelActionList},
						{Name: "Forget this channel's messages", Value: channelActionReset},
					},
				},
			},
		},
		{
			Name:                     DiscordSlashCommandResetServer,
			Description:              "Forget everything remembered in this server",
			Type:                     discordgo.ChatApplicationCommand,
			DMPermission:             &noDMPerm,
			DefaultMemberPermissions: &manageGuild,
		},
		{
			Name:                     DiscordSlashCommandPurge,
			Description:              "Delete the bot's messages in this channel",
			Type:                     discordgo.ChatApplicationCommand,
			DMPermission:             &noDMPerm,
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        purgeCommandLimitOption,
					Description: "How many messages to delete",
					MinValue:    &minPurge,
					MaxValue:    maxPurgeLimit,
				},
			},
		},
	}
}

// registerCommands sends the bot's commands to the discord bulk overwrite
// endpoint
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		slashCommands(),
		options...,
	)
	if err != nil {
		return created, fmt.Errorf("error registering commands: %w", err)
	}
	return created, nil
}

// handleInteraction dispatches a slash command.
func (d *Discord) handleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	user := getDiscordUser(i)
	if user == nil {
		return
	}
	logger := d.logger.With(
		"event_id", uuid.NewString(),
		slog.Group("interaction", interactionLogAttrs(*i)...),
		"user_id", user.ID,
	)
	ctx = WithLogger(ctx, logger)

	defer func() {
		if rc := recover(); rc != nil {
			handleRecover(ctx, logger, rc)
			d.respondEphemeral(ctx, i.Interaction, d.config.ErrorMessage)
		}
	}()

	name := i.ApplicationCommandData().Name
	logger.InfoContext(ctx, "handling command", "command", name)

	switch name {
	case DiscordSlashCommandChat:
		d.commandChat(ctx, i, user)
	case DiscordSlashCommandMemory:
		d.commandMemory(ctx, i, user)
	case DiscordSlashCommandChannel:
		if d.requireManager(ctx, i) {
			d.commandChannel(ctx, i, user)
		}
	case DiscordSlashCommandResetServer:
		if d.requireManager(ctx, i) {
			d.commandResetServer(ctx, i)
		}
	case DiscordSlashCommandPurge:
		if d.requireManager(ctx, i) {
			d.commandPurge(ctx, i)
		}
	default:
		logger.WarnContext(ctx, "unknown command", "command", name)
		d.respondEphemeral(ctx, i.Interaction, "I don't know that command.")
	}
}

func (d *Discord) commandChat(ctx context.Context, i *discordgo.InteractionCreate, user *discordgo.User) {
	logger := contextLoggerOr(ctx, d.logger)
	options := discordInteractionOptions(i)

	var prompt string
	if opt, ok := options[chatCommandPromptOption]; ok {
		prompt = strings.TrimSpace(opt.StringValue())
	}
	private := d.config.EphemeralDefault
	if opt, ok := options[chatCommandPrivateOption]; ok {
		private = opt.BoolValue()
	}

	var flags discordgo.MessageFlags
	if private {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := d.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: flags},
		},
	); err != nil {
		d.logDeliveryError(ctx, "error acknowledging interaction", err)
		return
	}

	isDM := i.GuildID == ""
	allowMemory, err := d.memoryAllowed(ctx, user.ID, i.ChannelID, isDM)
	if err != nil {
		logger.ErrorContext(ctx, "error checking memory settings", tint.Err(err))
		d.editResponse(ctx, i.Interaction, d.config.ErrorMessage)
		return
	}

	req := ChatRequest{
		UserID:      user.ID,
		DisplayName: memberDisplayName(i.Member, user),
		GuildID:     i.GuildID,
		ChannelID:   i.ChannelID,
		Content:     prompt,
		AllowMemory: allowMemory,
	}

	reply, err := d.bot.assembler.Respond(ctx, req)
	if err != nil {
		logger.ErrorContext(ctx, "error responding to command", tint.Err(err))
		d.editResponse(ctx, i.Interaction, d.config.ErrorMessage)
		return
	}
	logger.InfoContext(ctx, "responding", "kind", reply.Kind.String(), "model", reply.Model)

	msg := d.editResponse(ctx, i.Interaction, reply.Text)
	if msg != nil && !private {
		if err = d.bot.store.TrackBotMessage(
			ctx,
			BotMessageRecord{MessageID: msg.ID, ChannelID: i.ChannelID, GuildID: i.GuildID},
		); err != nil {
			logger.ErrorContext(ctx, "error tracking bot message", tint.Err(err))
		}
	}
}

func (d *Discord) commandMemory(ctx context.Context, i *discordgo.InteractionCreate, user *discordgo.User) {
	logger := contextLoggerOr(ctx, d.logger)
	store := d.bot.store
	action := optionString(i, commandActionOption)

	var reply string
	var err error
	switch action {
	case memoryActionOn:
		err = store.SetMemoryEnabled(ctx, user.ID, true)
		reply = "Memory is on. I'll remember what you tell me in allowed channels and DMs."
	case memoryActionOff:
		err = store.SetMemoryEnabled(ctx, user.ID, false)
		d.bot.clearTurns(ctx, user.ID)
		reply = "Memory is off. I won't remember anything new you say."
	case memoryActionForget:
		var deleted int64
		deleted, err = store.ForgetUser(ctx, user.ID)
		d.bot.clearTurns(ctx, user.ID)
		reply = fmt.Sprintf("Done. I forgot %d of your messages and everything I knew about you.", deleted)
	case memoryActionStatus:
		var settings UserSettings
		settings, err = store.UserSettings(ctx, user.ID)
		reply = memoryStatusText(settings)
	default:
		reply = "Unknown action."
	}
	if err != nil {
		logger.ErrorContext(ctx, "error handling memory command", "action", action, tint.Err(err))
		reply = d.config.ErrorMessage
	}
	d.respondEphemeral(ctx, i.Interaction, reply)
}

func memoryStatusText(s UserSettings) string {
	state := "off"
	if s.MemoryEnabled {
		state = "on"
	}
	text := fmt.Sprintf("Memory is %s. I've seen %d of your messages.", state, s.MessageCount)
	if s.ProfileSummary != "" {
		text += "\nWhat I remember about you:\n" + s.ProfileSummary
	}
	return shortenString(text, discordMaxMessageLength)
}

func (d *Discord) commandChannel(ctx context.Context, i *discordgo.InteractionCreate, user *discordgo.User) {
	logger := contextLoggerOr(ctx, d.logger)
	store := d.bot.store
	action := optionString(i, commandActionOption)

	var reply string
	var err error
	switch action {
	case channelActionAllow:
		err = store.AllowChannel(ctx, i.ChannelID, i.GuildID, user.ID)
		reply = "I'll remember messages in this channel from users with memory on."
	case channelActionDeny:
		err = store.DenyChannel(ctx, i.ChannelID, i.GuildID, user.ID)
		reply = "I'll stop remembering messages in this channel."
	case channelActionStatus:
		var allowed bool
		allowed, err = store.IsChannelAllowed(ctx, i.ChannelID)
		if allowed {
			reply = "Memory is allowed in this channel."
		} else {
			reply = "Memory isn't allowed in this channel."
		}
	case channelActionList:
		var entries []ChannelAllowlistEntry
		entries, err = store.ListChannels(ctx, i.GuildID)
		reply = channelListText(entries)
	case channelActionReset:
		var deleted int64
		deleted, err = store.ResetChannelMemory(ctx, i.ChannelID)
		reply = fmt.Sprintf("Done. I forgot %d messages from this channel.", deleted)
	default:
		reply = "Unknown action."
	}
	if err != nil {
		logger.ErrorContext(ctx, "error handling channel command", "action", action, tint.Err(err))
		reply = d.config.ErrorMessage
	}
	d.respondEphemeral(ctx, i.Interaction, reply)
}

func channelListText(entries []ChannelAllowlistEntry) string {
	if len(entries) == 0 {
		return "No channels are allowed yet."
	}
	mentions := make([]string, len(entries))
	for idx, e := range entries {
		mentions[idx] = fmt.Sprintf("<#%s>", e.ChannelID)
	}
	return shortenString("Memory is allowed in: "+strings.Join(mentions, ", "), discordMaxMessageLength)
}

func (d *Discord) commandResetServer(ctx context.Context, i *discordgo.InteractionCreate) {
	deleted, err := d.bot.store.ResetGuildMemory(ctx, i.GuildID)
	if err != nil {
		contextLoggerOr(ctx, d.logger).ErrorContext(ctx, "error resetting guild memory", tint.Err(err))
		d.respondEphemeral(ctx, i.Interaction, d.config.ErrorMessage)
		return
	}
	d.respondEphemeral(
		ctx,
		i.Interaction,
		fmt.Sprintf("Done. I forgot %d messages and everything I knew about this server.", deleted),
	)
}

// commandPurge deletes the bot's tracked messages in the channel, newest
// first. Messages already deleted by someone else count as purged.
func (d *Discord) commandPurge(ctx context.Context, i *discordgo.InteractionCreate) {
	logger := contextLoggerOr(ctx, d.logger)
	limit := defaultPurgeLimit
	if opt, ok := discordInteractionOptions(i)[purgeCommandLimitOption]; ok {
		limit = int(opt.IntValue())
	}
	limit = max(1, min(limit, maxPurgeLimit))

	if err := d.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
		},
	); err != nil {
		d.logDeliveryError(ctx, "error acknowledging interaction", err)
		return
	}

	records, err := d.bot.store.BotMessagesInChannel(ctx, i.ChannelID, limit)
	if err != nil {
		logger.ErrorContext(ctx, "error listing bot messages", tint.Err(err))
		d.editResponse(ctx, i.Interaction, d.config.ErrorMessage)
		return
	}

	purged := 0
	for _, rec := range records {
		err = d.session.ChannelMessageDelete(rec.ChannelID, rec.MessageID)
		if err != nil && !isDiscordErrorCode(err, discordErrUnknownMessage) {
			logger.WarnContext(ctx, "error deleting message", "message_id", rec.MessageID, tint.Err(err))
			continue
		}
		if e := d.bot.store.DeleteBotMessageRecord(ctx, rec.MessageID); e != nil {
			logger.ErrorContext(ctx, "error deleting bot message record", tint.Err(e))
		}
		purged++
	}
	logger.InfoContext(ctx, "purged messages", "purged", purged, "found", len(records))
	d.editResponse(ctx, i.Interaction, fmt.Sprintf("Deleted %d message(s).", purged))
}

// requireManager responds with an error and returns false if the
// interaction wasn't sent by a guild member with the Manage Server
// permission.
func (d *Discord) requireManager(ctx context.Context, i *discordgo.InteractionCreate) bool {
	if i.GuildID == "" || i.Member == nil {
		d.respondEphemeral(ctx, i.Interaction, "This command only works in a server.")
		return false
	}
	if i.Member.Permissions&(discordPermissionAdmin|discordPermissionManage) == 0 {
		d.respondEphemeral(ctx, i.Interaction, "You need the Manage Server permission to do that.")
		return false
	}
	return true
}

func (d *Discord) respondEphemeral(ctx context.Context, interaction *discordgo.Interaction, content string) {
	err := d.session.InteractionRespond(
		interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: shortenString(content, discordMaxMessageLength),
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		d.logDeliveryError(ctx, "error responding to interaction", err)
	}
}

// editResponse replaces a deferred interaction response, returning the
// resulting message, or nil if it couldn't be delivered.
func (d *Discord) editResponse(
	ctx context.Context,
	interaction *discordgo.Interaction,
	content string,
) *discordgo.Message {
	content = shortenString(content, discordMaxMessageLength)
	msg, err := d.session.InteractionResponseEdit(
		interaction,
		&discordgo.WebhookEdit{Content: &content},
	)
	if err != nil {
		d.logDeliveryError(ctx, "error editing interaction response", err)
		return nil
	}
	return msg
}

// logDeliveryError logs a failed delivery. An expired interaction or
// missing message is expected, and only logged at warn.
func (d *Discord) logDeliveryError(ctx context.Context, msg string, err error) {
	logger := contextLoggerOr(ctx, d.logger)
	if isDiscordErrorCode(err, discordErrUnknownInteraction, discordErrUnknownMessage, discordErrUnknownChannel) {
		logger.WarnContext(ctx, msg, tint.Err(err))
		return
	}
	logger.ErrorContext(ctx, msg, tint.Err(err))
}

func optionString(i *discordgo.InteractionCreate, name string) string {
	if opt, ok := discordInteractionOptions(i)[name]; ok {
		return opt.StringValue()
	}
	return ""
}
