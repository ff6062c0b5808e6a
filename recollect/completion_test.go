package recollect

import (
	"context"
	"errors"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

// mockChatClient returns whatever the test programs it to, in order
type mockChatClient struct {
	mock.Mock
}

func (m *mockChatClient) CreateChatCompletion(
	ctx context.Context,
	req openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(openai.ChatCompletionResponse), args.Error(1)
}

func chatResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: content,
				},
			},
		},
	}
}

func newTestCompletionClient(t testing.TB) (*CompletionClient, *mockChatClient) {
	t.Helper()
	client := &mockChatClient{}
	return NewCompletionClient(DefaultTestConfig(t).OpenAI, client, nil), client
}

var testImage = FetchedImage{
	SourceURL:   "https://cdn.example.com/a.png",
	ContentType: "image/png",
	Size:        3,
	DataURL:     "data:image/png;base64,AAAA",
}

func TestCompletionClient_Complete(t *testing.T) {
	t.Parallel()
	cc, client := newTestCompletionClient(t)
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(chatResponse("  hi there!  "), nil).Once()

	completion := cc.Complete(context.Background(), CompletionContext{Prompt: "hello"})
	assert.Equal(t, "hi there!", completion.Text)
	assert.Equal(t, DefaultOpenAIModel, completion.Model)
	assert.False(t, completion.Fallback)
	assert.NoError(t, completion.Err)
	client.AssertNumberOfCalls(t, "CreateChatCompletion", 1)
}

func TestCompletionClient_Retry(t *testing.T) {
	t.Parallel()
	cc, client := newTestCompletionClient(t)
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(openai.ChatCompletionResponse{}, errors.New("connection reset")).Once()
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(chatResponse("second time lucky"), nil).Once()

	completion := cc.Complete(context.Background(), CompletionContext{Prompt: "hello"})
	assert.Equal(t, "second time lucky", completion.Text)
	assert.False(t, completion.Fallback)
	client.AssertNumberOfCalls(t, "CreateChatCompletion", 2)
}

func TestCompletionClient_Fallback(t *testing.T) {
	t.Parallel()
	cc, client := newTestCompletionClient(t)
	apiErr := &openai.APIError{HTTPStatusCode: 500, Message: "server error"}
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(openai.ChatCompletionResponse{}, apiErr)

	completion := cc.Complete(context.Background(), CompletionContext{Prompt: "hello"})
	assert.True(t, completion.Fallback)
	assert.Equal(t, DefaultOpenAIFallbackMessage, completion.Text)
	assert.ErrorIs(t, completion.Err, apiErr)
	client.AssertNumberOfCalls(t, "CreateChatCompletion", maxCompletionAttempts)
}

func TestCompletionClient_EmptyResponse(t *testing.T) {
	t.Parallel()
	cc, client := newTestCompletionClient(t)
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(openai.ChatCompletionResponse{}, nil).Once()
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(chatResponse("   "), nil).Once()

	completion := cc.Complete(context.Background(), CompletionContext{Prompt: "hello"})
	assert.True(t, completion.Fallback)
	assert.ErrorIs(t, completion.Err, errEmptyCompletion)
}

func TestCompletionClient_VisionUnsupported(t *testing.T) {
	t.Parallel()
	cc, client := newTestCompletionClient(t)

	var sent openai.ChatCompletionRequest
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Run(
			func(args mock.Arguments) {
				sent = args.Get(1).(openai.ChatCompletionRequest)
			},
		).
		Return(
			openai.ChatCompletionResponse{},
			&openai.APIError{HTTPStatusCode: 400, Message: "This model does not support image input."},
		)

	completion := cc.Complete(
		context.Background(),
		CompletionContext{Prompt: "what is this?", Images: []FetchedImage{testImage}},
	)
	assert.True(t, completion.Fallback)
	assert.Equal(t, DefaultOpenAIVisionUnsupportedMessage, completion.Text)
	assert.ErrorIs(t, completion.Err, ErrImageInputUnsupported)
	assert.Equal(t, DefaultOpenAIVisionModel, completion.Model)
	assert.Equal(t, DefaultOpenAIVisionModel, sent.Model)
	client.AssertNumberOfCalls(t, "CreateChatCompletion", 1)
}

func TestCompletionClient_VisionPhraseWithoutImages(t *testing.T) {
	t.Parallel()
	cc, client := newTestCompletionClient(t)
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(
			openai.ChatCompletionResponse{},
			&openai.APIError{HTTPStatusCode: 400, Message: "vision is not supported"},
		)

	completion := cc.Complete(context.Background(), CompletionContext{Prompt: "hello"})
	assert.True(t, completion.Fallback)
	assert.Equal(t, DefaultOpenAIFallbackMessage, completion.Text)
	assert.NotErrorIs(t, completion.Err, ErrImageInputUnsupported)
	client.AssertNumberOfCalls(t, "CreateChatCompletion", maxCompletionAttempts)
}

func TestCompletionClient_CanceledDuringRetry(t *testing.T) {
	t.Parallel()
	config := DefaultTestConfig(t).OpenAI
	config.RetryDelay = time.Hour
	client := &mockChatClient{}
	cc := NewCompletionClient(config, client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Run(func(_ mock.Arguments) { cancel() }).
		Return(openai.ChatCompletionResponse{}, errors.New("timeout"))

	completion := cc.Complete(ctx, CompletionContext{Prompt: "hello"})
	assert.True(t, completion.Fallback)
	assert.ErrorIs(t, completion.Err, context.Canceled)
	client.AssertNumberOfCalls(t, "CreateChatCompletion", 1)
}

func TestCompletionClient_BuildMessages(t *testing.T) {
	t.Parallel()
	cc, _ := newTestCompletionClient(t)

	messages := cc.buildMessages(
		CompletionContext{
			ServerInfo:     "Server name: Test Server",
			ProfileSummary: "Name: Alex",
			RecentMessages: []string{"second", "first"},
			ChannelSummary: "  ",
			KnownUsers:     []string{"Alex", "Sam"},
			History: []Turn{
				{Role: TurnRoleUser, Content: "earlier question"},
				{Role: TurnRoleAssistant, Content: "earlier answer"},
			},
			Prompt: "what's my name?",
		},
	)

	require.Len(t, messages, 8)
	assert.Equal(t, openai.ChatMessageRoleSystem, messages[0].Role)
	assert.Equal(t, DefaultOpenAIPersona, messages[0].Content)
	assert.Equal(t, "Server info:\nServer name: Test Server", messages[1].Content)
	assert.Equal(t, "What you remember about this user:\nName: Alex", messages[2].Content)
	assert.Equal(t, "The user's recent messages (newest first):\n- second\n- first", messages[3].Content)
	assert.Equal(t, "People you know in this server:\nAlex, Sam", messages[4].Content)
	for _, m := range messages[1:5] {
		assert.Equal(t, openai.ChatMessageRoleSystem, m.Role)
	}
	assert.Equal(t, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: "earlier question"}, messages[5])
	assert.Equal(
		t,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "earlier answer"},
		messages[6],
	)
	assert.Equal(t, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: "what's my name?"}, messages[7])
}

func TestCompletionClient_BuildMessagesWithImages(t *testing.T) {
	t.Parallel()
	cc, _ := newTestCompletionClient(t)

	messages := cc.buildMessages(
		CompletionContext{Prompt: "what is this?", Images: []FetchedImage{testImage, testImage}},
	)
	require.Len(t, messages, 2)
	current := messages[1]
	assert.Empty(t, current.Content)
	require.Len(t, current.MultiContent, 3)
	assert.Equal(t, openai.ChatMessagePartTypeText, current.MultiContent[0].Type)
	assert.Equal(t, "what is this?", current.MultiContent[0].Text)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, current.MultiContent[1].Type)
	assert.Equal(t, testImage.DataURL, current.MultiContent[1].ImageURL.URL)
}

func TestIsImageInputUnsupported(t *testing.T) {
	t.Parallel()
	assert.True(t, isImageInputUnsupported(&openai.APIError{Message: "Image input is not supported for this model"}))
	assert.True(t, isImageInputUnsupported(errors.New("Invalid content type. image_url is only supported by certain models")))
	assert.False(t, isImageInputUnsupported(&openai.APIError{Message: "rate limit exceeded"}))
}
