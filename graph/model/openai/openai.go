// Package openai implements model.ChatModel on the official OpenAI SDK.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/agentgraph-go/graph/model"
)

// DefaultModel is used when NewChatModel gets an empty model name.
const DefaultModel = "gpt-4o-mini"

// ChatModel calls the Chat Completions API. It is safe for concurrent use.
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o")
//	agents["ask"] = agents.ChatAgent(m, tracker)
type ChatModel struct {
	client    openai.Client
	modelName string
	retry     model.RetryPolicy
}

// Option configures a ChatModel.
type Option func(*config)

type config struct {
	baseURL string
	retry   model.RetryPolicy
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithRetryPolicy overrides model.DefaultRetryPolicy.
func WithRetryPolicy(p model.RetryPolicy) Option {
	return func(c *config) { c.retry = p }
}

// NewChatModel creates a ChatModel. The SDK's own retries are disabled;
// retries follow the configured model.RetryPolicy.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	cfg := config{retry: model.DefaultRetryPolicy}
	for _, opt := range opts {
		opt(&cfg)
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &ChatModel{
		client:    openai.NewClient(clientOpts...),
		modelName: modelName,
		retry:     cfg.retry,
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.modelName),
		Messages: convertMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	return m.retry.Do(ctx, "OpenAI", classify, func(ctx context.Context) (model.ChatOut, error) {
		completion, err := m.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return model.ChatOut{}, err
		}
		return convertResponse(completion)
	})
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func convertTools(tools []model.ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Schema),
			},
		})
	}
	return out
}

func convertResponse(completion *openai.ChatCompletion) (model.ChatOut, error) {
	if len(completion.Choices) == 0 {
		return model.ChatOut{}, errors.New("no choices in OpenAI response")
	}
	msg := completion.Choices[0].Message
	out := model.ChatOut{
		Text:  msg.Content,
		Model: completion.Model,
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	for _, call := range msg.ToolCalls {
		var input map[string]interface{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return model.ChatOut{}, fmt.Errorf("invalid arguments for tool %s: %w", call.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: call.Function.Name, Input: input})
	}
	return out, nil
}

func classify(err error) model.ErrorClass {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return model.ClassifyStatus(apiErr.StatusCode)
	}
	return model.ClassifyMessage(err)
}
