// Package anthropic implements model.ChatModel on the official Anthropic SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/agentgraph-go/graph/model"
)

const (
	// DefaultModel is used when NewChatModel gets an empty model name.
	DefaultModel = "claude-3-5-haiku-latest"

	defaultMaxTokens = 4096
)

// ChatModel calls the Messages API. System messages are joined into the
// request's system prompt.
type ChatModel struct {
	client    anthropic.Client
	modelName string
	maxTokens int64
	retry     model.RetryPolicy
}

// Option configures a ChatModel.
type Option func(*ChatModel, *[]option.RequestOption)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(url string) Option {
	return func(_ *ChatModel, opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithBaseURL(url))
	}
}

// WithMaxTokens caps the reply length. Defaults to 4096.
func WithMaxTokens(n int) Option {
	return func(m *ChatModel, _ *[]option.RequestOption) { m.maxTokens = int64(n) }
}

// WithRetryPolicy overrides model.DefaultRetryPolicy.
func WithRetryPolicy(p model.RetryPolicy) Option {
	return func(m *ChatModel, _ *[]option.RequestOption) { m.retry = p }
}

// NewChatModel creates a ChatModel.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	m := &ChatModel{
		modelName: modelName,
		maxTokens: defaultMaxTokens,
		retry:     model.DefaultRetryPolicy,
	}
	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	for _, opt := range opts {
		opt(m, &clientOpts)
	}
	m.client = anthropic.NewClient(clientOpts...)
	return m
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	system, rest := model.SplitSystem(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: m.maxTokens,
		Messages:  convertMessages(rest),
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	return m.retry.Do(ctx, "Anthropic", classify, func(ctx context.Context) (model.ChatOut, error) {
		msg, err := m.client.Messages.New(ctx, params)
		if err != nil {
			return model.ChatOut{}, err
		}
		return convertResponse(msg)
	})
}

func convertMessages(messages []model.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func convertTools(tools []model.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.Schema["properties"],
				},
			},
		})
	}
	return out
}

func convertResponse(msg *anthropic.Message) (model.ChatOut, error) {
	out := model.ChatOut{
		Model: string(msg.Model),
		Usage: model.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			var input map[string]interface{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return model.ChatOut{}, fmt.Errorf("invalid input for tool %s: %w", block.Name, err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: block.Name, Input: input})
		}
	}
	return out, nil
}

// classify treats 529 (overloaded) like a rate limit.
func classify(err error) model.ErrorClass {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 529 {
			return model.RateLimited
		}
		return model.ClassifyStatus(apiErr.StatusCode)
	}
	return model.ClassifyMessage(err)
}
