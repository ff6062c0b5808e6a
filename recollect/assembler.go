package recollect

import (
	"context"
	"fmt"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"strings"
)

// ReplyKind describes how a Reply was produced.
type ReplyKind int

const (
	// ReplyCompletion is a reply generated by the model
	ReplyCompletion ReplyKind = iota
	// ReplyFallback is a canned reply sent because the model request failed
	ReplyFallback
	// ReplyRateLimited means the request was throttled, and nothing was
	// stored or sent to the model
	ReplyRateLimited
	// ReplyRefused means the request was refused by the content policy, and
	// nothing was stored or sent to the model
	ReplyRefused
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyCompletion:
		return "completion"
	case ReplyFallback:
		return "fallback"
	case ReplyRateLimited:
		return "rate_limited"
	case ReplyRefused:
		return "refused"
	default:
		return fmt.Sprintf("ReplyKind(%d)", int(k))
	}
}

// ChatRequest is one prompt to answer.
type ChatRequest struct {
	UserID      string
	DisplayName string

	// GuildID is empty for direct messages
	GuildID   string
	ChannelID string

	Content string

	// ReplyContext is the text of the message being replied to, if any
	ReplyContext string

	ImageURLs  []string
	VideoCount int

	// AllowMemory enables reading and writing stored memory and the
	// conversation window. When false, only Content is sent.
	AllowMemory bool

	// AlreadyRecorded is set when the message was stored before the
	// request was made, so it isn't recorded twice
	AlreadyRecorded bool

	// Gated is set when the request already passed [Assembler.Gate], so
	// Respond doesn't count it against the rate limit again
	Gated bool
}

func (r ChatRequest) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", r.UserID),
		slog.String("guild_id", r.GuildID),
		slog.String("channel_id", r.ChannelID),
		slog.Int("content_length", len(r.Content)),
		slog.Int("images", len(r.ImageURLs)),
		slog.Int("videos", r.VideoCount),
		slog.Bool("allow_memory", r.AllowMemory),
		slog.Bool("already_recorded", r.AlreadyRecorded),
		slog.Bool("gated", r.Gated),
	)
}

// Reply is the text to send back, and how it came about.
type Reply struct {
	Kind  ReplyKind
	Text  string
	Model string
}

// ContextStore is the persistent memory used to build a request.
// [MemoryStore] implements it.
type ContextStore interface {
	RecordMessage(ctx context.Context, in RecordMessageInput) (*UserMessage, error)
	ProfileSummary(ctx context.Context, userID string) (string, error)
	RecentMessages(ctx context.Context, userID string, limit int) ([]string, error)
	RecentChannelMessages(
		ctx context.Context,
		channelID string,
		excludingUserID string,
		limit int,
	) ([]string, error)
	ChannelSummary(ctx context.Context, channelID string) (string, error)
	GuildSummary(ctx context.Context, guildID string) (string, error)
	GuildUserNames(ctx context.Context, guildID string, limit int) ([]string, error)
	GuildInfoCard(ctx context.Context, guildID string) (string, error)
	UserInfoCard(ctx context.Context, guildID string, userID string) (string, error)
}

// Assembler answers a ChatRequest: it applies the rate limit and content
// policy, records the message, gathers stored context and images, and
// requests a completion.
type Assembler struct {
	store      ContextStore
	turns      *TurnCache
	limiter    *RateLimiter
	policy     *ContentPolicy
	media      *MediaFetcher
	completion *CompletionClient
	config     *MemoryConfig
	logger     *slog.Logger
}

func NewAssembler(
	store ContextStore,
	turns *TurnCache,
	limiter *RateLimiter,
	policy *ContentPolicy,
	media *MediaFetcher,
	completion *CompletionClient,
	config *MemoryConfig,
	logger *slog.Logger,
) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		store:      store,
		turns:      turns,
		limiter:    limiter,
		policy:     policy,
		media:      media,
		completion: completion,
		config:     config,
		logger:     logger,
	}
}

// Respond produces the reply for req. An error is only returned if the
// message couldn't be recorded. Rate limiting, refusals and model failures
// are reported through Reply.Kind.
func (a *Assembler) Respond(ctx context.Context, req ChatRequest) (Reply, error) {
	if !req.Gated {
		if reply, ok := a.Gate(ctx, req); !ok {
			return reply, nil
		}
	}
	derived := describeMessage(req.Content, len(req.ImageURLs), req.VideoCount)

	recorded := false
	if req.AllowMemory && !req.AlreadyRecorded && derived != "" {
		_, err := a.store.RecordMessage(
			ctx,
			RecordMessageInput{
				UserID:      req.UserID,
				ChannelID:   req.ChannelID,
				GuildID:     req.GuildID,
				Content:     derived,
				DisplayName: req.DisplayName,
			},
		)
		if err != nil {
			return Reply{}, fmt.Errorf("error recording message: %w", err)
		}
		recorded = true
	}

	var cc CompletionContext
	if req.AllowMemory {
		cc = a.gatherContext(ctx, req, recorded)
		if recorded {
			cc.RecentMessages = dropRecordedPrompt(cc.RecentMessages, derived, a.config.RecentMessageLimit)
		}
	}
	cc.ReplyContext = req.ReplyContext
	cc.Images = a.media.FetchAll(ctx, req.ImageURLs)
	cc.Prompt = effectivePrompt(req)

	if req.AllowMemory {
		turns := a.turns.AddTurn(req.UserID, TurnRoleUser, cc.Prompt)
		cc.History = turns[:len(turns)-1]
	}

	completion := a.completion.Complete(ctx, cc)
	if completion.Fallback {
		return Reply{Kind: ReplyFallback, Text: completion.Text, Model: completion.Model}, nil
	}
	if req.AllowMemory {
		a.turns.AddTurn(req.UserID, TurnRoleAssistant, completion.Text)
	}
	return Reply{Kind: ReplyCompletion, Text: completion.Text, Model: completion.Model}, nil
}

// Gate applies the rate limit and content policy to req. If the request
// may not proceed, ok is false and reply is the message to send instead.
// Callers that answer some requests without Respond gate them first, then
// set ChatRequest.Gated before handing the rest to Respond.
func (a *Assembler) Gate(ctx context.Context, req ChatRequest) (reply Reply, ok bool) {
	logger := contextLoggerOr(ctx, a.logger)
	derived := describeMessage(req.Content, len(req.ImageURLs), req.VideoCount)

	if rl := a.limiter.Check(req.UserID, derived); !rl.Allowed {
		logger.InfoContext(ctx, "request rate limited", "request", req)
		return Reply{Kind: ReplyRateLimited, Text: rl.Message}, false
	}
	if a.policy.Violates(req.Content) {
		logger.WarnContext(ctx, "request refused by content policy", "request", req)
		return Reply{Kind: ReplyRefused, Text: a.policy.RefusalMessage()}, false
	}
	return Reply{}, true
}

// dropRecordedPrompt removes the message recorded for the current request
// from the head of msgs, which was read with one extra row, and trims the
// result to limit.
func dropRecordedPrompt(msgs []string, content string, limit int) []string {
	if len(msgs) > 0 && strings.HasSuffix(msgs[0], "] "+truncate(content, maxContextLineLength)) {
		msgs = msgs[1:]
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs
}

// gatherContext reads stored context concurrently. A failed read is
// logged and left empty. If the prompt was just recorded, one extra recent
// message is read so it can be dropped.
func (a *Assembler) gatherContext(ctx context.Context, req ChatRequest, recorded bool) CompletionContext {
	logger := contextLoggerOr(ctx, a.logger)
	var cc CompletionContext
	var g errgroup.Group

	load := func(name string, fn func() error) {
		g.Go(
			func() error {
				if err := fn(); err != nil {
					logger.WarnContext(ctx, "error loading context", "context", name, tint.Err(err))
				}
				return nil
			},
		)
	}

	load(
		"profile_summary", func() error {
			s, err := a.store.ProfileSummary(ctx, req.UserID)
			if err != nil {
				return err
			}
			cc.ProfileSummary = s
			return nil
		},
	)
	load(
		"recent_messages", func() error {
			limit := a.config.RecentMessageLimit
			if recorded && limit > 0 {
				limit++
			}
			msgs, err := a.store.RecentMessages(ctx, req.UserID, limit)
			if err != nil {
				return err
			}
			cc.RecentMessages = msgs
			return nil
		},
	)

	if req.GuildID != "" {
		load(
			"channel_messages", func() error {
				msgs, err := a.store.RecentChannelMessages(
					ctx,
					req.ChannelID,
					req.UserID,
					a.config.ChannelMessageLimit,
				)
				if err != nil {
					return err
				}
				cc.ChannelMessages = msgs
				return nil
			},
		)
		load(
			"channel_summary", func() error {
				s, err := a.store.ChannelSummary(ctx, req.ChannelID)
				if err != nil {
					return err
				}
				cc.ChannelSummary = s
				return nil
			},
		)
		load(
			"guild_summary", func() error {
				s, err := a.store.GuildSummary(ctx, req.GuildID)
				if err != nil {
					return err
				}
				cc.GuildSummary = s
				return nil
			},
		)
		load(
			"known_users", func() error {
				names, err := a.store.GuildUserNames(ctx, req.GuildID, a.config.KnownUserLimit)
				if err != nil {
					return err
				}
				cc.KnownUsers = names
				return nil
			},
		)
		load(
			"server_info", func() error {
				s, err := a.store.GuildInfoCard(ctx, req.GuildID)
				if err != nil {
					return err
				}
				cc.ServerInfo = s
				return nil
			},
		)
		load(
			"user_info", func() error {
				s, err := a.store.UserInfoCard(ctx, req.GuildID, req.UserID)
				if err != nil {
					return err
				}
				cc.UserInfo = s
				return nil
			},
		)
	}

	_ = g.Wait()
	return cc
}

// describeMessage is the text recorded for a message. Attachments are
// described, followed by the message text.
func describeMessage(content string, images int, videos int) string {
	text := strings.TrimSpace(content)
	var descriptions []string
	if images > 0 {
		descriptions = append(descriptions, fmt.Sprintf("User sent %d image(s)", images))
	}
	if videos > 0 {
		descriptions = append(descriptions, fmt.Sprintf("User sent %d video(s)", videos))
	}
	if len(descriptions) == 0 {
		return text
	}
	described := strings.Join(descriptions, ", ")
	if text == "" {
		return described
	}
	return described + ": " + text
}

// effectivePrompt is the prompt sent to the model: the message text, or
// when there's none, a description of what was sent instead. Images take
// priority over videos, and videos over the replied-to message.
func effectivePrompt(req ChatRequest) string {
	if text := strings.TrimSpace(req.Content); text != "" {
		return text
	}
	switch {
	case len(req.ImageURLs) > 0:
		return fmt.Sprintf(
			"The user sent %d image(s) without any text. Respond to what you see.",
			len(req.ImageURLs),
		)
	case req.VideoCount > 0:
		return fmt.Sprintf(
			"The user sent %d video(s) without any text. You can't watch videos, so respond briefly.",
			req.VideoCount,
		)
	case strings.TrimSpace(req.ReplyContext) != "":
		return "The user replied to a message without adding any text. Respond to the message they replied to."
	default:
		return "The user mentioned you without saying anything else. Greet them briefly."
	}
}
