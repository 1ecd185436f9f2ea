// Package openai implements model.Model on the OpenAI Chat Completions API.
//
// Contents are flattened into chat messages: instructions and system contents
// become system messages, assistant tool calls are followed directly by the
// matching tool messages, and streamed tool-call deltas are reassembled by
// index. HTTP 4xx failures other than rate limits are reported as
// model.ErrPermanent so the retry wrapper gives up immediately.
package openai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/model"
)

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	// APIKey and BaseURL default to the SDK's OPENAI_* environment lookup.
	APIKey  string
	BaseURL string
}

// Model wraps the OpenAI Chat Completions API.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a model backed by a new SDK client.
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
	client := openai.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a model around an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.2,
		MaxCompletionTokens: 4096,
	}
}

// Generate sends one chat completion request, streaming when req.Stream is set.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)

		params := m.buildParams(req, buildMessages(req, collectToolResponses(req)))
		var err error
		if req.Stream {
			err = m.stream(ctx, params, out)
		} else {
			err = m.complete(ctx, params, out)
		}
		if err != nil {
			errCh <- err
		}
	}()
	return out, errCh
}

// toolResults holds tool responses by call id in first-seen order. Only the
// first response for an id is kept.
type toolResults struct {
	byID  map[string]string
	order []string
}

func collectToolResponses(req model.Request) *toolResults {
	tr := &toolResults{byID: map[string]string{}}
	for _, c := range req.Contents {
		if c.Role != "tool" {
			continue
		}
		for _, p := range c.Parts {
			fr, ok := p.(core.FunctionResponsePart)
			if !ok || fr.FunctionResponse.ID == "" {
				continue
			}
			if _, seen := tr.byID[fr.FunctionResponse.ID]; seen {
				continue
			}
			tr.byID[fr.FunctionResponse.ID] = model.ResponseText(fr.FunctionResponse)
			tr.order = append(tr.order, fr.FunctionResponse.ID)
		}
	}
	return tr
}

// take removes and returns the response for id.
func (tr *toolResults) take(id string) (string, bool) {
	text, ok := tr.byID[id]
	if ok {
		delete(tr.byID, id)
	}
	return text, ok
}

// rest returns tool messages for responses no assistant call claimed.
func (tr *toolResults) rest() []openai.ChatCompletionMessageParamUnion {
	var msgs []openai.ChatCompletionMessageParamUnion
	for _, id := range tr.order {
		if text, ok := tr.take(id); ok {
			msgs = append(msgs, openai.ToolMessage(text, id))
		}
	}
	return msgs
}

func buildMessages(req model.Request, results *toolResults) []openai.ChatCompletionMessageParamUnion {
	var msgs []openai.ChatCompletionMessageParamUnion
	if strings.TrimSpace(req.Instructions) != "" {
		msgs = append(msgs, openai.SystemMessage(req.Instructions))
	}
	for _, c := range req.Contents {
		text := c.Text()
		switch c.Role {
		case "tool":
			continue
		case "system":
			msgs = append(msgs, openai.SystemMessage(text))
		case "assistant":
			calls := functionCalls(c)
			if len(calls) == 0 {
				msgs = append(msgs, openai.AssistantMessage(text))
				continue
			}
			msgs = append(msgs, assistantWithCalls(text, calls))
			for _, fc := range calls {
				if resp, ok := results.take(fc.ID); ok && fc.ID != "" {
					msgs = append(msgs, openai.ToolMessage(resp, fc.ID))
				}
			}
		default:
			if text != "" {
				msgs = append(msgs, openai.UserMessage(text))
			}
		}
	}
	return append(msgs, results.rest()...)
}

func functionCalls(c core.Content) []core.FunctionCall {
	var calls []core.FunctionCall
	for _, p := range c.Parts {
		if fc, ok := p.(core.FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

func assistantWithCalls(text string, calls []core.FunctionCall) openai.ChatCompletionMessageParamUnion {
	assistant := &openai.ChatCompletionAssistantMessageParam{Role: "assistant"}
	if text != "" {
		assistant.Content.OfString = openai.String(text)
	}
	for _, fc := range calls {
		assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   fc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      fc.Name,
				Arguments: fc.Arguments,
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: assistant}
}

func (m *Model) buildParams(req model.Request, msgs []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            msgs,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	if req.Stream {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	}
	if req.ResponseFormat == model.FormatJSONObject {
		obj := shared.NewResponseFormatJSONObjectParam()
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &obj}
	}
	for _, tdef := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Function.Name,
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		})
	}
	return params
}

// stream forwards text deltas as partial responses and emits one final
// response once the stream is drained, carrying usage when the API sent it.
func (m *Model) stream(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- model.Response) error {
	s := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer s.Close()

	var (
		text   strings.Builder
		calls  = map[int64]*pendingCall{}
		id     string
		finish string
		usage  *model.TokenUsage
	)
	for s.Next() {
		chunk := s.Current()
		if chunk.ID != "" {
			id = chunk.ID
		}
		if chunk.Usage.TotalTokens > 0 {
			usage = tokenUsage(chunk.Usage)
		}
		for _, choice := range chunk.Choices {
			if delta := choice.Delta.Content; delta != "" {
				text.WriteString(delta)
				partial := model.Response{Partial: true, Content: assistantText(delta)}
				if err := send(ctx, out, partial); err != nil {
					return err
				}
			}
			aggregateToolCallDeltas(choice, calls)
			if choice.FinishReason != "" {
				finish = choice.FinishReason
			}
		}
	}
	if err := s.Err(); err != nil {
		return classify("streaming", err)
	}
	if finish == "" {
		return errors.New("openai stream ended without a finish reason")
	}
	final := finalChunk(finish, text.String(), calls)
	final.ID, final.Usage = id, usage
	return send(ctx, out, final)
}

func (m *Model) complete(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- model.Response) error {
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return classify("completion", err)
	}
	if len(resp.Choices) == 0 {
		return errors.New("openai returned no choices")
	}
	choice := resp.Choices[0]
	parts := make([]core.Part, 0, len(choice.Message.ToolCalls)+1)
	if choice.Message.Content != "" {
		parts = append(parts, core.TextPart{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}})
	}
	return send(ctx, out, model.Response{
		ID:           resp.ID,
		Content:      core.Content{Role: "assistant", Parts: parts},
		FinishReason: choice.FinishReason,
		Usage:        tokenUsage(resp.Usage),
	})
}

// pendingCall accumulates the streamed fragments of one tool call.
type pendingCall struct{ id, name, args string }

func aggregateToolCallDeltas(ch openai.ChatCompletionChunkChoice, calls map[int64]*pendingCall) {
	for _, tc := range ch.Delta.ToolCalls {
		pc, ok := calls[tc.Index]
		if !ok {
			pc = &pendingCall{}
			calls[tc.Index] = pc
		}
		if tc.ID != "" {
			pc.id = tc.ID
		}
		if tc.Function.Name != "" {
			pc.name = tc.Function.Name
		}
		pc.args += tc.Function.Arguments
	}
}

// finalChunk orders tool calls by their stream index.
func finalChunk(finishReason, text string, calls map[int64]*pendingCall) model.Response {
	indices := make([]int64, 0, len(calls))
	for idx := range calls {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	parts := make([]core.Part, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, core.TextPart{Text: text})
	}
	for _, idx := range indices {
		pc := calls[idx]
		parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:        pc.id,
			Name:      pc.name,
			Arguments: pc.args,
		}})
	}
	return model.Response{
		Content:      core.Content{Role: "assistant", Parts: parts},
		FinishReason: finishReason,
	}
}

func assistantText(text string) core.Content {
	return core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: text}}}
}

func tokenUsage(u openai.CompletionUsage) *model.TokenUsage {
	return &model.TokenUsage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	}
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
	wrapped := fmt.Errorf("openai %s: %w", op, err)
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && model.IsPermanentStatus(apiErr.StatusCode) {
		return model.Permanent(wrapped)
	}
	return wrapped
}

// Info describes the adapter.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
