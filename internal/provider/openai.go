package provider

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/resumeforge/aiqueue/pkg/types"
)

const ProviderOpenAI = "openai"

type OpenAIConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string
}

type OpenAIAdapter struct {
	client *openai.Client
	config OpenAIConfig
}

func NewOpenAIAdapter(config OpenAIConfig) (*OpenAIAdapter, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := openai.NewClient(opts...)

	return &OpenAIAdapter{
		client: &client,
		config: config,
	}, nil
}

func (a *OpenAIAdapter) Name() string {
	return ProviderOpenAI
}

func (a *OpenAIAdapter) Complete(ctx context.Context, req *types.Request) (*Completion, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if system := systemFromContext(req.Context); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(a.config.Model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(a.config.MaxTokens)),
	}

	completion, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apierr *openai.Error
		if errors.As(err, &apierr) {
			return nil, newError(ProviderOpenAI, apierr.StatusCode, err)
		}
		return nil, newError(ProviderOpenAI, 0, err)
	}

	if len(completion.Choices) == 0 {
		return nil, &Error{Provider: ProviderOpenAI, Message: "empty completion", Retryable: true}
	}

	return &Completion{
		Content: completion.Choices[0].Message.Content,
		Model:   completion.Model,
		Usage: types.TokenUsage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}, nil
}
