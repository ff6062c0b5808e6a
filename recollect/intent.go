package recollect

import (
	"context"
	"fmt"
	"github.com/lmittmann/tint"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
)

const maxRoleMemberNames = 25

// GuildDirectory is the cached guild data the IntentRouter answers from.
// [MemoryStore] implements it.
type GuildDirectory interface {
	GuildInfo(ctx context.Context, guildID string) (*GuildInfo, error)
	GuildUser(ctx context.Context, guildID, userID string) (*GuildUser, error)
	GuildUsers(ctx context.Context, guildID string) ([]GuildUser, error)
	GuildRoles(ctx context.Context, guildID string) ([]GuildRole, error)
	RoleMemberNames(ctx context.Context, guildID, roleID string, limit int) ([]string, error)
}

// RouteScope is where a routed message was sent.
type RouteScope struct {
	GuildID   string
	ChannelID string
	UserID    string
}

type intentHandler func(
	ctx context.Context,
	r *IntentRouter,
	scope RouteScope,
	match []string,
) (string, bool, error)

// intentRule answers a question if pattern matches. A handler returning
// false passes the message on to the next rule.
type intentRule struct {
	name    string
	pattern *regexp.Regexp
	handle  intentHandler
}

var intentRules = []intentRule{
	{
		name:    "owner",
		pattern: regexp.MustCompile(`(?i)\b(?:who(?:'s| is)\s+(?:the\s+)?(?:server\s+)?owner|who\s+owns\s+(?:this|the)\s+(?:server|guild))\b`),
		handle:  answerOwner,
	},
	{
		name:    "user_search",
		pattern: regexp.MustCompile(`(?i)\b(?:is there|do we have|find)\s+(?:a\s+|an\s+)?(?:user|member|someone|anyone|somebody)\s+(?:named|called)\s+@?([^?!.,\n]{1,64})`),
		handle:  answerUserSearch,
	},
	{
		name:    "role_members",
		pattern: regexp.MustCompile(`(?i)\bwho\s+(?:has|have|is in|are in|is|are)\s+(?:the\s+)?@?([^?!.,\n]{1,64}?)\s+role\b`),
		handle:  answerRoleMembers,
	},
	{
		name:    "random_member",
		pattern: regexp.MustCompile(`(?i)\b(?:pick|choose)\s+(?:a\s+)?random\s+(?:member|user|person|someone)\b`),
		handle:  answerRandomMember,
	},
}

// IntentRouter answers a few questions about a guild straight from the
// cache, without a completion request.
type IntentRouter struct {
	directory GuildDirectory
	logger    *slog.Logger
	intn      func(n int) int
}

func NewIntentRouter(directory GuildDirectory, logger *slog.Logger) *IntentRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentRouter{
		directory: directory,
		logger:    logger,
		intn:      rand.IntN,
	}
}

// Route returns a reply if text matches a known question and the cache can
// answer it. Otherwise it returns false, and the message should be sent
// to the Assembler. Direct messages are never routed.
func (r *IntentRouter) Route(ctx context.Context, text string, scope RouteScope) (string, bool) {
	if scope.GuildID == "" {
		return "", false
	}
	logger := contextLoggerOr(ctx, r.logger)
	for _, rule := range intentRules {
		match := rule.pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		reply, ok, err := rule.handle(ctx, r, scope, match)
		if err != nil {
			logger.WarnContext(ctx, "intent failed", "intent", rule.name, tint.Err(err))
			continue
		}
		if ok {
			logger.InfoContext(ctx, "answered from cache", "intent", rule.name)
			return reply, true
		}
	}
	return "", false
}

func answerOwner(
	ctx context.Context,
	r *IntentRouter,
	scope RouteScope,
	_ []string,
) (string, bool, error) {
	info, err := r.directory.GuildInfo(ctx, scope.GuildID)
	if err != nil || info == nil || info.OwnerID == "" {
		return "", false, err
	}
	owner := fmt.Sprintf("<@%s>", info.OwnerID)
	if gu, e := r.directory.GuildUser(ctx, scope.GuildID, info.OwnerID); e == nil && gu != nil {
		owner = gu.DisplayName
	}
	if info.Name != "" {
		return fmt.Sprintf("%s is the owner of %s.", owner, info.Name), true, nil
	}
	return fmt.Sprintf("%s is the owner of this server.", owner), true, nil
}

func answerUserSearch(
	ctx context.Context,
	r *IntentRouter,
	scope RouteScope,
	match []string,
) (string, bool, error) {
	search := strings.TrimSpace(match[1])
	users, err := r.directory.GuildUsers(ctx, scope.GuildID)
	if err != nil || len(users) == 0 {
		return "", false, err
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.DisplayName
	}
	idx, ok := fuzzyBestMatch(search, names)
	if !ok {
		return "", false, nil
	}
	if foldText(names[idx]) == foldText(search) {
		return fmt.Sprintf("Yes, %s is here.", names[idx]), true, nil
	}
	return fmt.Sprintf("The closest match I know of is %s.", names[idx]), true, nil
}

func answerRoleMembers(
	ctx context.Context,
	r *IntentRouter,
	scope RouteScope,
	match []string,
) (string, bool, error) {
	roles, err := r.directory.GuildRoles(ctx, scope.GuildID)
	if err != nil || len(roles) == 0 {
		return "", false, err
	}
	roleNames := make([]string, len(roles))
	for i, role := range roles {
		roleNames[i] = role.Name
	}
	idx, ok := fuzzyBestMatch(strings.TrimSpace(match[1]), roleNames)
	if !ok {
		return "", false, nil
	}
	role := roles[idx]
	members, err := r.directory.RoleMemberNames(ctx, scope.GuildID, role.RoleID, maxRoleMemberNames)
	if err != nil {
		return "", false, err
	}
	if len(members) == 0 {
		return fmt.Sprintf("Nobody I know of has the %s role.", role.Name), true, nil
	}
	return fmt.Sprintf(
		"Members with the %s role: %s",
		role.Name,
		formatNameList(members),
	), true, nil
}

func answerRandomMember(
	ctx context.Context,
	r *IntentRouter,
	scope RouteScope,
	_ []string,
) (string, bool, error) {
	users, err := r.directory.GuildUsers(ctx, scope.GuildID)
	if err != nil || len(users) == 0 {
		return "", false, err
	}
	picked := users[r.intn(len(users))]
	return fmt.Sprintf("I pick %s!", picked.DisplayName), true, nil
}
