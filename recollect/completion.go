package recollect

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrImageInputUnsupported is returned when the endpoint rejects a request
// because the model can't take image input. Retrying won't help.
var ErrImageInputUnsupported = errors.New("model does not support image input")

var errEmptyCompletion = errors.New("completion response had no content")

const maxCompletionAttempts = 2

// imageUnsupportedPhrases are fragments of the errors OpenAI-compatible
// endpoints return for image parts sent to a text-only model.
var imageUnsupportedPhrases = []string{
	"does not support image",
	"doesn't support image",
	"image input is not supported",
	"image_url is only supported",
	"images are not supported",
	"image content is not supported",
	"invalid content type. image_url",
	"vision is not supported",
	"does not support vision",
}

// ChatCompletionClient is the subset of the go-openai client used here,
// for mocking in tests.
type ChatCompletionClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (response openai.ChatCompletionResponse, err error)
}

// CompletionContext is everything sent to the model for one reply. Empty
// fields are left out of the request.
type CompletionContext struct {
	ServerInfo      string
	UserInfo        string
	ReplyContext    string
	ProfileSummary  string
	RecentMessages  []string
	ChannelSummary  string
	GuildSummary    string
	KnownUsers      []string
	ChannelMessages []string

	// History is the recent conversation, oldest first, not including
	// the current prompt
	History []Turn

	Prompt string
	Images []FetchedImage
}

// Completion is the result of CompletionClient.Complete. When Fallback is
// set, Text is a canned message and Err holds the last error.
type Completion struct {
	Text     string
	Model    string
	Fallback bool
	Err      error
}

// CompletionClient sends chat completion requests, retrying a failed
// request once. It never returns an error: failures resolve to one of the
// configured fallback messages.
type CompletionClient struct {
	client         ChatCompletionClient
	config         *OpenAIConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter
}

// NewOpenAIClient returns a go-openai client for the configured endpoint.
func NewOpenAIClient(config *OpenAIConfig, httpClient *http.Client) *openai.Client {
	clientCfg := openai.DefaultConfig(config.Token)
	if config.BaseURL != "" {
		clientCfg.BaseURL = config.BaseURL
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	return openai.NewClientWithConfig(clientCfg)
}

func NewCompletionClient(
	config *OpenAIConfig,
	client ChatCompletionClient,
	logger *slog.Logger,
) *CompletionClient {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if config.MaxRequestsPerSecond > 0 {
		limit = rate.Limit(config.MaxRequestsPerSecond)
	}
	return &CompletionClient{
		client:         client,
		config:         config,
		logger:         logger,
		requestLimiter: rate.NewLimiter(limit, 1),
	}
}

// Complete requests a reply for cc. The vision model is used when images
// are attached.
func (c *CompletionClient) Complete(ctx context.Context, cc CompletionContext) Completion {
	logger := contextLoggerOr(ctx, c.logger)

	model := c.config.Model
	if len(cc.Images) > 0 && c.config.VisionModel != "" {
		model = c.config.VisionModel
	}
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    c.buildMessages(cc),
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	}

	var lastErr error
	for attempt := 1; attempt <= maxCompletionAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepContext(ctx, c.config.RetryDelay); err != nil {
				lastErr = errors.Join(lastErr, err)
				break
			}
		}

		start := time.Now()
		text, err := c.createCompletion(ctx, req, len(cc.Images) > 0)
		if err == nil {
			logger.InfoContext(
				ctx,
				"completion received",
				"model", model,
				"attempt", attempt,
				"duration", time.Since(start),
			)
			return Completion{Text: text, Model: model}
		}

		if errors.Is(err, ErrImageInputUnsupported) {
			logger.WarnContext(ctx, "model rejected image input", "model", model, tint.Err(err))
			return Completion{
				Text:     c.config.VisionUnsupportedMessage,
				Model:    model,
				Fallback: true,
				Err:      err,
			}
		}
		logger.WarnContext(
			ctx,
			"completion request failed",
			"model", model,
			"attempt", attempt,
			"duration", time.Since(start),
			tint.Err(err),
		)
		lastErr = err
	}

	logger.ErrorContext(ctx, "completion failed, using fallback", tint.Err(lastErr))
	return Completion{
		Text:     c.config.FallbackMessage,
		Model:    model,
		Fallback: true,
		Err:      lastErr,
	}
}

func (c *CompletionClient) createCompletion(
	ctx context.Context,
	req openai.ChatCompletionRequest,
	hasImages bool,
) (string, error) {
	if err := c.requestLimiter.Wait(ctx); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if hasImages && isImageInputUnsupported(err) {
			return "", fmt.Errorf("%w: %w", ErrImageInputUnsupported, err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errEmptyCompletion
	}
	return text, nil
}

// buildMessages lays out the request: the persona, then each non-empty
// context block as its own system message, then the history, then the
// current prompt.
func (c *CompletionClient) buildMessages(cc CompletionContext) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: c.config.Persona},
	}

	addBlock := func(header string, body string) {
		body = strings.TrimSpace(body)
		if body == "" {
			return
		}
		messages = append(
			messages,
			openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: header + "\n" + body,
			},
		)
	}

	addBlock("Server info:", cc.ServerInfo)
	addBlock("About the user you're talking to:", cc.UserInfo)
	addBlock("The user is replying to this message:", cc.ReplyContext)
	addBlock("What you remember about this user:", cc.ProfileSummary)
	addBlock("The user's recent messages (newest first):", bulletList(cc.RecentMessages))
	addBlock("What you know about this channel:", cc.ChannelSummary)
	addBlock("What you know about this server:", cc.GuildSummary)
	addBlock("People you know in this server:", formatNameList(cc.KnownUsers))
	addBlock(
		"Recent messages from others in this channel (newest first):",
		bulletList(cc.ChannelMessages),
	)

	for _, turn := range cc.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == TurnRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(
			messages,
			openai.ChatCompletionMessage{Role: role, Content: turn.Content},
		)
	}

	current := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(cc.Images) == 0 {
		current.Content = cc.Prompt
	} else {
		current.MultiContent = append(
			current.MultiContent,
			openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: cc.Prompt},
		)
		for _, img := range cc.Images {
			current.MultiContent = append(
				current.MultiContent,
				openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    img.DataURL,
						Detail: openai.ImageURLDetailAuto,
					},
				},
			)
		}
	}
	return append(messages, current)
}

// isImageInputUnsupported reports whether err is the endpoint refusing
// image parts.
func isImageInputUnsupported(err error) bool {
	var messages []string
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		messages = append(messages, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		messages = append(messages, reqErr.Error())
	}
	messages = append(messages, err.Error())

	for _, msg := range messages {
		msg = strings.ToLower(msg)
		for _, phrase := range imageUnsupportedPhrases {
			if strings.Contains(msg, phrase) {
				return true
			}
		}
	}
	return false
}

func bulletList(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return "- " + strings.Join(lines, "\n- ")
}

// sleepContext waits for d, or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
