package provider

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/resumeforge/aiqueue/pkg/types"
)

const ProviderAnthropic = "anthropic"

type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string
}

type AnthropicAdapter struct {
	client *anthropic.Client
	config AnthropicConfig
}

func NewAnthropicAdapter(config AnthropicConfig) (*AnthropicAdapter, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
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

	client := anthropic.NewClient(opts...)

	return &AnthropicAdapter{
		client: &client,
		config: config,
	}, nil
}

func (a *AnthropicAdapter) Name() string {
	return ProviderAnthropic
}

func (a *AnthropicAdapter) Complete(ctx context.Context, req *types.Request) (*Completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.config.Model),
		MaxTokens: int64(a.config.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	if system := systemFromContext(req.Context); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apierr *anthropic.Error
		if errors.As(err, &apierr) {
			return nil, newError(ProviderAnthropic, apierr.StatusCode, err)
		}
		return nil, newError(ProviderAnthropic, 0, err)
	}

	var content string
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += text.Text
		}
	}

	return &Completion{
		Content: content,
		Model:   string(msg.Model),
		Usage: types.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

// systemFromContext serializes the caller-supplied context payload
// into a system prompt. The queue never interprets it.
func systemFromContext(context map[string]interface{}) string {
	if len(context) == 0 {
		return ""
	}
	data, err := json.Marshal(context)
	if err != nil {
		return ""
	}
	return "Additional context for this request:\n" + string(data)
}
