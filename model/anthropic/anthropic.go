// Package anthropic implements model.Model on the Anthropic Messages API.
//
// System contents and instructions are merged into the system prompt, tool
// responses travel as tool_result blocks in a user turn, and a JSON response
// format is requested through an extra system instruction. HTTP 4xx failures
// other than rate limits are reported as model.ErrPermanent.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key, base URL).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(key))
	}
	if url := strings.TrimSpace(opts.BaseURL); url != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(url))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Generate sends one Messages API request, streaming when req.Stream is set.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		var err error
		if req.Stream {
			err = m.stream(ctx, m.buildParams(req), out)
		} else {
			err = m.complete(ctx, m.buildParams(req), out)
		}
		if err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    buildMessages(req.Contents),
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}
	if system := systemBlocks(req); len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	return params
}

func (m *Model) complete(ctx context.Context, params anthropic.MessageNewParams, out chan<- model.Response) error {
	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return classify("message", err)
	}
	return send(ctx, out, finalResponse(resp))
}

// stream accumulates the event stream into one message, forwarding text
// deltas as partial responses along the way.
func (m *Model) stream(ctx context.Context, params anthropic.MessageNewParams, out chan<- model.Response) error {
	s := m.client.Messages.NewStreaming(ctx, params)
	defer s.Close()

	var msg anthropic.Message
	for s.Next() {
		event := s.Current()
		if err := msg.Accumulate(event); err != nil {
			return fmt.Errorf("anthropic stream accumulate: %w", err)
		}
		ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
			partial := model.Response{
				Partial: true,
				Content: core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: delta.Text}}},
			}
			if err := send(ctx, out, partial); err != nil {
				return err
			}
		}
	}
	if err := s.Err(); err != nil {
		return classify("streaming", err)
	}
	return send(ctx, out, finalResponse(&msg))
}

func send(ctx context.Context, out chan<- model.Response, resp model.Response) error {
	select {
	case out <- resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classify wraps API errors, marking non-retryable statuses permanent.
func classify(op string, err error) error {
	wrapped := fmt.Errorf("anthropic %s: %w", op, err)
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && model.IsPermanentStatus(apiErr.StatusCode) {
		return model.Permanent(wrapped)
	}
	return wrapped
}

// finalResponse converts a complete message into the final chunk.
func finalResponse(resp *anthropic.Message) model.Response {
	var parts []core.Part
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := "{}"
			if toolBlock.Input != nil {
				if argsBytes, err := json.Marshal(toolBlock.Input); err == nil {
					args = string(argsBytes)
				}
			}
			parts = append(parts, core.FunctionCallPart{
				FunctionCall: core.FunctionCall{
					ID:        toolBlock.ID,
					Name:      toolBlock.Name,
					Arguments: args,
				},
			})
		}
	}
	if text.Len() > 0 {
		parts = append([]core.Part{core.TextPart{Text: text.String()}}, parts...)
	}

	finishReason := "stop"
	if resp.StopReason != "" {
		finishReason = string(resp.StopReason)
	}

	return model.Response{
		ID:           resp.ID,
		Content:      core.Content{Role: "assistant", Parts: parts},
		FinishReason: finishReason,
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
}

// buildMessages converts contents to Anthropic messages. Tool responses are
// sent as tool_result blocks in the user turn that follows the assistant's
// tool_use blocks.
func buildMessages(contents []core.Content) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	for _, c := range contents {
		switch c.Role {
		case "system":
			continue
		case "assistant":
			if content := buildAssistantContent(c.Parts); len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
		case "tool":
			var results []anthropic.ContentBlockParamUnion
			for _, p := range c.Parts {
				if fr, ok := p.(core.FunctionResponsePart); ok && fr.FunctionResponse.ID != "" {
					results = append(results, anthropic.NewToolResultBlock(
						fr.FunctionResponse.ID,
						model.ResponseText(fr.FunctionResponse),
						fr.FunctionResponse.Error != "",
					))
				}
			}
			if len(results) > 0 {
				messages = append(messages, anthropic.NewUserMessage(results...))
			}
		default:
			if content := buildUserContent(c.Parts); len(content) > 0 {
				messages = append(messages, anthropic.NewUserMessage(content...))
			}
		}
	}

	return messages
}

// systemBlocks merges request instructions and system contents.
func systemBlocks(req model.Request) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	if strings.TrimSpace(req.Instructions) != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: req.Instructions})
	}
	for _, c := range req.Contents {
		if c.Role != "system" {
			continue
		}
		if text := c.Text(); text != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: text})
		}
	}
	if req.ResponseFormat == model.FormatJSONObject {
		blocks = append(blocks, anthropic.TextBlockParam{Text: "Respond with a single JSON object and nothing else."})
	}
	return blocks
}

func buildUserContent(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		if tp, ok := p.(core.TextPart); ok && tp.Text != "" {
			content = append(content, anthropic.NewTextBlock(tp.Text))
		}
	}
	return content
}

func buildAssistantContent(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				content = append(content, anthropic.NewTextBlock(part.Text))
			}
		case core.FunctionCallPart:
			var input any = map[string]any{}
			if part.FunctionCall.Arguments != "" {
				if err := json.Unmarshal([]byte(part.FunctionCall.Arguments), &input); err != nil {
					input = part.FunctionCall.Arguments
				}
			}
			content = append(content, anthropic.NewToolUseBlock(
				part.FunctionCall.ID,
				input,
				part.FunctionCall.Name,
			))
		}
	}
	return content
}

// buildTools converts tool declarations to Anthropic tools.
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if params := tool.Function.Parameters; params != nil {
			if properties, exists := params["properties"]; exists {
				inputSchema.Properties = properties
			}
			inputSchema.Required = requiredFields(params["required"])
		}

		param := anthropic.ToolParam{
			Name:        tool.Function.Name,
			Description: anthropic.String(tool.Function.Description),
			InputSchema: inputSchema,
		}
		anthropicTools[i] = anthropic.ToolUnionParam{OfTool: &param}
	}

	return anthropicTools
}

func requiredFields(raw any) []string {
	switch req := raw.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
