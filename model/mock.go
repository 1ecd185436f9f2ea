package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/finmesh/core"
)

// MockTurn is one scripted model reply.
type MockTurn struct {
	Text      string
	ToolCalls []core.FunctionCall
	Err       error
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Replies are chosen in this order: the Respond function, the scripted turns
// (consumed in order), the Repeat turn, canned AddResponse answers, and
// finally an echo of the last user text.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses map[string]string
	script    []MockTurn
	repeat    *MockTurn
	respond   func(Request) MockTurn
	requests  []Request
	callSeq   int
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Script appends turns consumed one per Generate call (chainable).
func (m *MockModel) Script(turns ...MockTurn) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, turns...)
	return m
}

// Repeat sets the turn returned once the script is exhausted (chainable).
func (m *MockModel) Repeat(turn MockTurn) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repeat = &turn
	return m
}

// Respond computes replies from the request (chainable).
func (m *MockModel) Respond(fn func(Request) MockTurn) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respond = fn
	return m
}

// Requests returns every request received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Generate calls.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockModel) next(req Request) MockTurn {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	respond := m.respond
	var turn MockTurn
	switch {
	case respond != nil:
	case len(m.script) > 0:
		turn = m.script[0]
		m.script = m.script[1:]
	case m.repeat != nil:
		turn = *m.repeat
	default:
		input := lastUserText(req)
		full := m.responses[input]
		if full == "" {
			full = fmt.Sprintf("Mock response to: %s", input)
		}
		turn = MockTurn{Text: full}
	}
	m.mu.Unlock()

	if respond != nil {
		turn = respond(req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]core.FunctionCall, len(turn.ToolCalls))
	for i, c := range turn.ToolCalls {
		if c.ID == "" {
			m.callSeq++
			c.ID = fmt.Sprintf("call_%d", m.callSeq)
		}
		if c.Arguments == "" {
			c.Arguments = "{}"
		}
		calls[i] = c
	}
	turn.ToolCalls = calls
	return turn
}

// Generate implements Model; emits word chunks when streaming, then the final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		turn := m.next(req)
		if turn.Err != nil {
			errCh <- turn.Err
			return
		}

		if req.Stream && turn.Text != "" {
			for _, chunk := range strings.SplitAfter(turn.Text, " ") {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{
					Partial: true,
					Content: core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: chunk}}},
				}:
				}
			}
		}

		parts := make([]core.Part, 0, len(turn.ToolCalls)+1)
		if turn.Text != "" {
			parts = append(parts, core.TextPart{Text: turn.Text})
		}
		for _, c := range turn.ToolCalls {
			parts = append(parts, core.FunctionCallPart{FunctionCall: c})
		}
		finish := "stop"
		if len(turn.ToolCalls) > 0 {
			finish = "tool_calls"
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{
			Content:      core.Content{Role: "assistant", Parts: parts},
			FinishReason: finish,
		}:
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

func lastUserText(req Request) string {
	for i := len(req.Contents) - 1; i >= 0; i-- {
		if req.Contents[i].Role == "user" {
			return req.Contents[i].Text()
		}
	}
	return ""
}
