// Package google implements model.ChatModel on the Gemini SDK.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dshills/agentgraph-go/graph/model"
)

// DefaultModel is used when NewChatModel gets an empty model name.
const DefaultModel = "gemini-2.5-flash"

// generator sends one request. The SDK client talks gRPC, so tests swap it
// for a fake that returns canned responses.
type generator interface {
	generate(ctx context.Context, req request) (*genai.GenerateContentResponse, error)
}

type request struct {
	model   string
	system  string
	history []*genai.Content
	parts   []genai.Part
	tools   []*genai.Tool
}

// ChatModel calls Gemini. Close releases the underlying client.
type ChatModel struct {
	modelName string
	gen       generator
	closer    func() error
	retry     model.RetryPolicy
}

// NewChatModel dials the Gemini API with apiKey.
func NewChatModel(ctx context.Context, apiKey, modelName string, opts ...option.ClientOption) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("google API key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	return &ChatModel{
		modelName: modelName,
		gen:       &sdkGenerator{client: client},
		closer:    client.Close,
		retry:     model.DefaultRetryPolicy,
	}, nil
}

// Close closes the client.
func (m *ChatModel) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer()
}

// Chat implements model.ChatModel. Earlier turns become chat history and
// the last turn is sent as the new message.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	system, rest := model.SplitSystem(messages)
	if len(rest) == 0 {
		return model.ChatOut{}, errors.New("no user message to send")
	}

	req := request{
		model:  m.modelName,
		system: strings.Join(system, "\n\n"),
		parts:  []genai.Part{genai.Text(rest[len(rest)-1].Content)},
	}
	for _, msg := range rest[:len(rest)-1] {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		req.history = append(req.history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	if len(tools) > 0 {
		req.tools = convertTools(tools)
	}

	return m.retry.Do(ctx, "Google", classify, func(ctx context.Context) (model.ChatOut, error) {
		resp, err := m.gen.generate(ctx, req)
		if err != nil {
			var blocked *genai.BlockedError
			if errors.As(err, &blocked) {
				return model.ChatOut{}, newSafetyFilterError(blocked)
			}
			return model.ChatOut{}, err
		}
		out := convertResponse(resp)
		out.Model = m.modelName
		return out, nil
	})
}

type sdkGenerator struct {
	client *genai.Client
}

func (g *sdkGenerator) generate(ctx context.Context, req request) (*genai.GenerateContentResponse, error) {
	gm := g.client.GenerativeModel(req.model)
	if req.system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.system)}}
	}
	gm.Tools = req.tools
	session := gm.StartChat()
	session.History = req.history
	return session.SendMessage(ctx, req.parts...)
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchema(t.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func convertSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{Type: genai.TypeObject}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			prop, ok := val.(map[string]interface{})
			if !ok {
				continue
			}
			s := &genai.Schema{}
			if typ, ok := prop["type"].(string); ok {
				s.Type = convertType(typ)
			}
			if desc, ok := prop["description"].(string); ok {
				s.Description = desc
			}
			out.Properties[key] = s
		}
	}
	switch req := schema["required"].(type) {
	case []string:
		out.Required = req
	case []interface{}:
		for _, v := range req {
			if s, ok := v.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out
}

func convertType(typ string) genai.Type {
	switch typ {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	var out model.ChatOut
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: p.Name, Input: p.Args})
		}
	}
	return out
}

func classify(err error) model.ErrorClass {
	var safety *SafetyFilterError
	if errors.As(err, &safety) {
		return model.Permanent
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return model.ClassifyStatus(apiErr.Code)
	}
	return model.ClassifyMessage(err)
}

// SafetyFilterError reports a prompt or reply blocked by Gemini's safety
// filters. It is never retried.
type SafetyFilterError struct {
	reason string
}

func newSafetyFilterError(blocked *genai.BlockedError) *SafetyFilterError {
	return &SafetyFilterError{reason: blocked.Error()}
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.reason
}

// Reason returns the SDK's description of the block.
func (e *SafetyFilterError) Reason() string {
	return e.reason
}
