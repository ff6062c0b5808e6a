package recollect

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	chatCommandPromptOption  = "prompt"
	chatCommandPrivateOption = "private"
	commandActionOption      = "action"
	purgeCommandLimitOption  = "limit"
	defaultPurgeLimit        = 50
	maxPurgeLimit            = 100
	maxReplyContextLength    = 500

	memoryActionOn     = "on"
	memoryActionOff    = "off"
	memoryActionForget = "forget"
	memoryActionStatus = "status"

	channelActionAllow  = "allow"
	channelActionDeny   = "deny"
	channelActionStatus = "status"
	channelActionList   = "list"
	channelActionReset  = "reset"

	discordPermissionAdmin  = int64(1 << 3)
	discordPermissionManage = int64(1 << 5)

	// JSON error codes from the discord API
	discordErrUnknownChannel     = 10003
	discordErrUnknownMessage     = 10008
	discordErrUnknownInteraction = 10062
)

// Discord handles gateway events and slash commands.
type Discord struct {
	session            DiscordSessionHandler
	config             *DiscordConfig
	logger             *slog.Logger
	connected          atomic.Bool
	botUserID          atomic.Value
	removeHandlerFuncs []func()
	bot                *Recollect

	// eventWG tracks in-flight event handlers, so shutdown can wait on them
	eventWG sync.WaitGroup
}

func newDiscord(config *DiscordConfig, bot *Recollect, logger *slog.Logger) *Discord {
	d := &Discord{
		config:             config,
		bot:                bot,
		logger:             logger,
		removeHandlerFuncs: []func(){},
	}
	d.botUserID.Store("")
	return d
}

// newSession creates a discordgo session for the configured bot token.
func (d *Discord) newSession(httpClient *http.Client) (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = false
	session.session = disc
	if httpClient != nil {
		disc.Client = httpClient
	}
	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}
	return session, nil
}

// BotUserID is the bot's user ID, set once the gateway is ready.
func (d *Discord) BotUserID() string {
	id, _ := d.botUserID.Load().(string)
	return id
}

// addHandlers registers gateway event handlers. Each event is handled on
// its own goroutine, tracked by eventWG.
func (d *Discord) addHandlers(ctx context.Context) {
	for _, remove := range d.removeHandlerFuncs {
		remove()
	}
	d.session.SetIdentify(
		discordgo.Identify{
			Intents:  d.config.GatewayIntents,
			Presence: discordgo.GatewayStatusUpdate{Status: string(discordgo.StatusOnline)},
		},
	)

	d.removeHandlerFuncs = []func(){
		d.session.AddHandler(d.handlerConnect()),
		d.session.AddHandler(d.handlerDisconnect()),
		d.session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.Ready) {
				d.handleReady(ctx, r)
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				d.goEvent(ctx, func() { d.handleMessageCreate(ctx, m) })
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
				d.goEvent(ctx, func() { d.handleMessageUpdate(ctx, m) })
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				d.goEvent(ctx, func() { d.handleInteraction(ctx, i) })
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, g *discordgo.GuildCreate) {
				d.goEvent(ctx, func() { d.handleGuildCreate(ctx, g) })
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, g *discordgo.GuildUpdate) {
				d.goEvent(ctx, func() { d.handleGuildUpdate(ctx, g) })
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.GuildRoleCreate) {
				d.goEvent(ctx, func() { d.handleGuildRole(ctx, r.GuildRole) })
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.GuildRoleUpdate) {
				d.goEvent(ctx, func() { d.handleGuildRole(ctx, r.GuildRole) })
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.GuildRoleDelete) {
				d.goEvent(ctx, func() { d.handleGuildRoleDelete(ctx, r) })
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
				d.goEvent(ctx, func() { d.handleGuildMember(ctx, m.Member) })
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) {
				d.goEvent(ctx, func() { d.handleGuildMember(ctx, m.Member) })
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
				d.goEvent(ctx, func() { d.handleGuildMemberRemove(ctx, m) })
			},
		),
	}
}

// goEvent runs fn on a new goroutine, recovering from any panic so one
// event can't take down the others.
func (d *Discord) goEvent(ctx context.Context, fn func()) {
	d.eventWG.Add(1)
	go func() {
		defer d.eventWG.Done()
		defer func() {
			if rc := recover(); rc != nil {
				handleRecover(ctx, d.logger, rc)
			}
		}()
		fn()
	}()
}

func (d *Discord) handlerConnect() func(s *discordgo.Session, r *discordgo.Connect) {
	return func(_ *discordgo.Session, _ *discordgo.Connect) {
		d.connected.Store(true)
		d.logger.Info("connected")
	}
}

func (d *Discord) handlerDisconnect() func(s *discordgo.Session, r *discordgo.Disconnect) {
	return func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.logger.Info("disconnected")
	}
}

func (d *Discord) handleReady(ctx context.Context, r *discordgo.Ready) {
	if r.User != nil {
		d.botUserID.Store(r.User.ID)
		d.logger.InfoContext(
			ctx,
			"ready",
			"session_id", r.SessionID,
			slog.Group("user", "id", r.User.ID, "username", r.User.Username),
			"guilds", len(r.Guilds),
		)
	}
	if d.config.CustomStatus != "" {
		if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
			d.logger.WarnContext(ctx, "error updating custom status", tint.Err(err))
		}
	}
}

// handleMessageCreate handles a new message.
//
// In allowlisted guild channels (and DMs), messages from users with memory
// enabled are recorded even when the bot isn't addressed. When the bot is
// addressed (DM, mention or reply to the bot), the message is answered.
func (d *Discord) handleMessageCreate(ctx context.Context, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}
	botID := d.BotUserID()
	if m.Author.ID == botID {
		return
	}

	logger := d.logger.With(
		"event_id", uuid.NewString(),
		slog.Group("message", messageLogAttrs(m.Message)...),
	)
	ctx = WithLogger(ctx, logger)

	defer func() {
		if rc := recover(); rc != nil {
			handleRecover(ctx, logger, rc)
			d.replyError(ctx, m.Message)
		}
	}()

	store := d.bot.store
	isDM := m.GuildID == ""
	triggered := isDM || messageMentionsUser(m.Message, botID) || repliesToUser(m.Message, botID)

	allowMemory, err := d.memoryAllowed(ctx, m.Author.ID, m.ChannelID, isDM)
	if err != nil {
		logger.ErrorContext(ctx, "error checking memory settings", tint.Err(err))
		if triggered {
			d.replyError(ctx, m.Message)
		}
		return
	}

	if !triggered {
		if !allowMemory {
			return
		}
		req := chatRequestFromMessage(m.Message, botID)
		content := describeMessage(req.Content, len(req.ImageURLs), req.VideoCount)
		if content == "" {
			return
		}
		if _, err = store.RecordMessage(
			ctx,
			RecordMessageInput{
				UserID:      req.UserID,
				ChannelID:   req.ChannelID,
				GuildID:     req.GuildID,
				Content:     content,
				DisplayName: req.DisplayName,
			},
		); err != nil {
			logger.ErrorContext(ctx, "error recording message", tint.Err(err))
		}
		return
	}

	req := chatRequestFromMessage(m.Message, botID)
	req.AllowMemory = allowMemory

	if reply, ok := d.bot.assembler.Gate(ctx, req); !ok {
		logger.InfoContext(ctx, "responding", "kind", reply.Kind.String())
		d.sendReply(ctx, m.Message, reply.Text)
		return
	}
	req.Gated = true

	if !isDM {
		if reply, ok := d.bot.router.Route(
			ctx,
			req.Content,
			RouteScope{GuildID: req.GuildID, ChannelID: req.ChannelID, UserID: req.UserID},
		); ok {
			d.sendReply(ctx, m.Message, reply)
			return
		}
	}

	if err = d.session.ChannelTyping(m.ChannelID); err != nil {
		logger.DebugContext(ctx, "error sending typing indicator", tint.Err(err))
	}

	reply, err := d.bot.assembler.Respond(ctx, req)
	if err != nil {
		logger.ErrorContext(ctx, "error responding to message", tint.Err(err))
		d.replyError(ctx, m.Message)
		return
	}
	logger.InfoContext(ctx, "responding", "kind", reply.Kind.String(), "model", reply.Model)
	d.sendReply(ctx, m.Message, reply.Text)
}

// handleMessageUpdate re-answers an edited message, editing the earlier
// reply in place, if the edit is within the edit window.
func (d *Discord) handleMessageUpdate(ctx context.Context, m *discordgo.MessageUpdate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}
	tracked, ok := d.bot.edits.Reanswer(m.ID)
	if !ok {
		return
	}
	logger := d.logger.With(
		"event_id", uuid.NewString(),
		slog.Group("message", messageLogAttrs(m.Message)...),
		"reply_id", tracked.ReplyID,
	)
	ctx = WithLogger(ctx, logger)

	defer func() {
		if rc := recover(); rc != nil {
			handleRecover(ctx, logger, rc)
		}
	}()

	isDM := m.GuildID == ""
	allowMemory, err := d.memoryAllowed(ctx, m.Author.ID, m.ChannelID, isDM)
	if err != nil {
		logger.ErrorContext(ctx, "error checking memory settings", tint.Err(err))
		return
	}

	req := chatRequestFromMessage(m.Message, d.BotUserID())
	req.AllowMemory = allowMemory
	req.AlreadyRecorded = true

	reply, err := d.bot.assembler.Respond(ctx, req)
	if err != nil {
		logger.ErrorContext(ctx, "error responding to edit", tint.Err(err))
		return
	}
	if reply.Kind == ReplyRateLimited {
		return
	}

	_, err = d.session.ChannelMessageEdit(
		tracked.ChannelID,
		tracked.ReplyID,
		shortenString(reply.Text, discordMaxMessageLength),
	)
	switch {
	case err == nil:
		logger.InfoContext(ctx, "edited reply", "kind", reply.Kind.String())
	case isDiscordErrorCode(err, discordErrUnknownMessage, discordErrUnknownChannel):
		logger.WarnContext(ctx, "reply no longer exists", tint.Err(err))
		d.bot.edits.Forget(m.ID)
	default:
		logger.ErrorContext(ctx, "error editing reply", tint.Err(err))
	}
}

// memoryAllowed reports whether the user's message may be remembered:
// the user must have memory enabled, and guild channels must be
// allowlisted.
func (d *Discord) memoryAllowed(
	ctx context.Context,
	userID string,
	channelID string,
	isDM bool,
) (bool, error) {
	enabled, err := d.bot.store.MemoryEnabled(ctx, userID)
	if err != nil || !enabled {
		return false, err
	}
	if isDM {
		return true, nil
	}
	return d.bot.store.IsChannelAllowed(ctx, channelID)
}

// sendReply replies to m, and tracks the reply for purging and edits.
func (d *Discord) sendReply(ctx context.Context, m *discordgo.Message, text string) {
	logger := contextLoggerOr(ctx, d.logger)
	sent, err := d.session.ChannelMessageSendReply(
		m.ChannelID,
		shortenString(text, discordMaxMessageLength),
		m.Reference(),
	)
	if err != nil {
		if isDiscordErrorCode(err, discordErrUnknownMessage, discordErrUnknownChannel) {
			logger.WarnContext(ctx, "unable to reply, message is gone", tint.Err(err))
			return
		}
		logger.ErrorContext(ctx, "error sending reply", tint.Err(err))
		return
	}
	d.bot.edits.Track(m.ID, m.ChannelID, sent.ID)
	if err = d.bot.store.TrackBotMessage(
		ctx,
		BotMessageRecord{MessageID: sent.ID, ChannelID: sent.ChannelID, GuildID: m.GuildID},
	); err != nil {
		logger.ErrorContext(ctx, "error tracking bot message", tint.Err(err))
	}
}

func (d *Discord) replyError(ctx context.Context, m *discordgo.Message) {
	_, err := d.session.ChannelMessageSendReply(m.ChannelID, d.config.ErrorMessage, m.Reference())
	if err != nil {
		contextLoggerOr(ctx, d.logger).WarnContext(ctx, "error sending error reply", tint.Err(err))
	}
}

func (d *Discord) handleGuildCreate(ctx context.Context, g *discordgo.GuildCreate) {
	if g == nil || g.Guild == nil || g.Unavailable {
		return
	}
	snapshot := GuildSnapshot{Info: guildInfoFromGuild(g.Guild)}
	for _, role := range g.Roles {
		snapshot.Roles = append(snapshot.Roles, guildRoleFromRole(g.ID, role))
	}
	for _, member := range g.Members {
		if member == nil || member.User == nil || member.User.Bot {
			continue
		}
		snapshot.Members = append(snapshot.Members, guildMemberFromMember(member))
	}
	if err := d.bot.store.SyncGuild(ctx, snapshot); err != nil {
		d.logger.ErrorContext(ctx, "error syncing guild", "guild_id", g.ID, tint.Err(err))
	}
}

func (d *Discord) handleGuildUpdate(ctx context.Context, g *discordgo.GuildUpdate) {
	if g == nil || g.Guild == nil {
		return
	}
	if err := d.bot.store.UpsertGuildInfo(ctx, guildInfoFromGuild(g.Guild)); err != nil {
		d.logger.ErrorContext(ctx, "error updating guild", "guild_id", g.ID, tint.Err(err))
	}
}

func (d *Discord) handleGuildRole(ctx context.Context, r *discordgo.GuildRole) {
	if r == nil || r.Role == nil {
		return
	}
	if err := d.bot.store.UpsertGuildRole(ctx, guildRoleFromRole(r.GuildID, r.Role)); err != nil {
		d.logger.ErrorContext(ctx, "error updating role", "guild_id", r.GuildID, tint.Err(err))
	}
}

func (d *Discord) handleGuildRoleDelete(ctx context.Context, r *discordgo.GuildRoleDelete) {
	if r == nil {
		return
	}
	if err := d.bot.store.DeleteGuildRole(ctx, r.GuildID, r.RoleID); err != nil {
		d.logger.ErrorContext(ctx, "error deleting role", "guild_id", r.GuildID, tint.Err(err))
	}
}

func (d *Discord) handleGuildMember(ctx context.Context, m *discordgo.Member) {
	if m == nil || m.User == nil || m.User.Bot || m.GuildID == "" {
		return
	}
	if err := d.bot.store.UpsertGuildMember(ctx, m.GuildID, guildMemberFromMember(m)); err != nil {
		d.logger.ErrorContext(ctx, "error updating guild member", "guild_id", m.GuildID, tint.Err(err))
	}
}

func (d *Discord) handleGuildMemberRemove(ctx context.Context, m *discordgo.GuildMemberRemove) {
	if m == nil || m.Member == nil || m.User == nil {
		return
	}
	if err := d.bot.store.RemoveGuildMember(ctx, m.GuildID, m.User.ID); err != nil {
		d.logger.ErrorContext(ctx, "error removing guild member", "guild_id", m.GuildID, tint.Err(err))
	}
}

// chatRequestFromMessage builds a ChatRequest from a message, with the
// bot's mention stripped from the content. AllowMemory isn't set.
func chatRequestFromMessage(m *discordgo.Message, botID string) ChatRequest {
	req := ChatRequest{
		UserID:    m.Author.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Content:   stripMention(m.Content, botID),
	}
	req.DisplayName = memberDisplayName(m.Member, m.Author)
	req.ImageURLs, req.VideoCount = messageMedia(m)

	if ref := m.ReferencedMessage; ref != nil && strings.TrimSpace(ref.Content) != "" {
		author := unknownAuthorName
		if ref.Author != nil {
			author = memberDisplayName(ref.Member, ref.Author)
		}
		req.ReplyContext = fmt.Sprintf(
			"%s: %s",
			author,
			truncate(strings.TrimSpace(ref.Content), maxReplyContextLength),
		)
	}
	return req
}

// stripMention removes mentions of userID from content.
func stripMention(content string, userID string) string {
	if userID != "" {
		content = strings.ReplaceAll(content, "<@"+userID+">", "")
		content = strings.ReplaceAll(content, "<@!"+userID+">", "")
	}
	return strings.TrimSpace(content)
}

// messageMedia returns the URLs of images attached or embedded in m, and
// the number of videos.
func messageMedia(m *discordgo.Message) ([]string, int) {
	var images []string
	videos := 0
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		contentType := a.ContentType
		if contentType == "" {
			contentType = mime.TypeByExtension(strings.ToLower(path.Ext(a.Filename)))
		}
		switch {
		case strings.HasPrefix(contentType, "image/"):
			images = append(images, a.URL)
		case strings.HasPrefix(contentType, "video/"):
			videos++
		}
	}
	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		switch e.Type {
		case discordgo.EmbedTypeImage:
			switch {
			case e.Image != nil && e.Image.URL != "":
				images = append(images, e.Image.URL)
			case e.Thumbnail != nil && e.Thumbnail.URL != "":
				images = append(images, e.Thumbnail.URL)
			case e.URL != "":
				images = append(images, e.URL)
			}
		case discordgo.EmbedTypeVideo, discordgo.EmbedTypeGifv:
			videos++
		}
	}
	return images, videos
}

// memberDisplayName returns the member's nickname, falling back to the
// user's global name and then their username.
func memberDisplayName(member *discordgo.Member, user *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user == nil && member != nil {
		user = member.User
	}
	if user == nil {
		return ""
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}

// messageMentionsUser checks if a given discord message mentions the
// given user ID (does not indicate if the message content itself contains
// the user, just if the message mentions the user via @).
func messageMentionsUser(m *discordgo.Message, userID string) bool {
	if m == nil || userID == "" {
		return false
	}
	for _, mention := range m.Mentions {
		if mention != nil && mention.ID == userID {
			return true
		}
	}
	return false
}

// repliesToUser reports whether m is a reply to a message by userID.
func repliesToUser(m *discordgo.Message, userID string) bool {
	if m == nil || userID == "" || m.ReferencedMessage == nil {
		return false
	}
	author := m.ReferencedMessage.Author
	return author != nil && author.ID == userID
}

func guildInfoFromGuild(g *discordgo.Guild) GuildInfo {
	return GuildInfo{
		GuildID:     g.ID,
		Name:        g.Name,
		OwnerID:     g.OwnerID,
		MemberCount: g.MemberCount,
		Description: g.Description,
	}
}

func guildRoleFromRole(guildID string, r *discordgo.Role) GuildRole {
	return GuildRole{
		GuildID:  guildID,
		RoleID:   r.ID,
		Name:     r.Name,
		Position: r.Position,
	}
}

func guildMemberFromMember(m *discordgo.Member) GuildMember {
	return GuildMember{
		UserID:      m.User.ID,
		DisplayName: memberDisplayName(m, m.User),
		RoleIDs:     m.Roles,
		JoinedAt:    m.JoinedAt,
	}
}

// isDiscordErrorCode reports whether err is a discord API error with one
// of the given JSON error codes.
func isDiscordErrorCode(err error, codes ...int) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Message == nil {
		return false
	}
	for _, code := range codes {
		if restErr.Message.Code == code {
			return true
		}
	}
	return false
}

// getDiscordUser returns the [discordgo.User] associated with the interaction.
// Users don't always appear in the same place in the interaction object, so
// this checks known areas.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	u := i.User
	if u == nil && i.Member != nil {
		u = i.Member.User
	}
	return u
}

// DiscordSessionHandler defines the methods of `discordgo.Session` used in
// this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// ChannelMessageSendReply sends a message to the given channel, as a
	// reply to the referenced message
	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageEdit replaces the content of a message
	ChannelMessageEdit(
		channelID string,
		messageID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageDelete(
		channelID string,
		messageID string,
		options ...discordgo.RequestOption,
	) error

	// ChannelTyping shows the typing indicator in the channel
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error

	// ApplicationCommandBulkOverwrite overwrites Discord application commands in bulk.
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponseEdit modifies the given interaction
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// UpdateCustomStatus sets the bot's user status to the given string.
	// If empty, sets the bot user to active and removes any existing
	// custom status.
	UpdateCustomStatus(status string) error

	// SetIdentify sets the identify object that's sent during the initial
	// handshake with the discord gateway
	SetIdentify(discordgo.Identify)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendReply(channelID, content, reference, options...)
	if err != nil {
		d.logger.Error(
			"error sending message reply",
			tint.Err(err),
			"channel_id", channelID,
			"reference", reference,
		)
	} else {
		d.logger.Debug(
			"sent message reply",
			"channel_id", channelID,
			"message_id", msg.ID,
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageEdit(
	channelID string,
	messageID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageEdit(channelID, messageID, content, options...)
}

func (d DiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.ChannelMessageDelete(channelID, messageID, options...)
}

func (d DiscordSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	return d.session.ChannelTyping(channelID, options...)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("created command", "command", c.Name, "id", c.ID)
	}
	return created, nil
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}
