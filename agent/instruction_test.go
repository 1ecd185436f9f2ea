package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/finmesh/core"
)

type mockProvider struct {
	text string
	err  error
}

func (m mockProvider) Instruction(context.Context) (string, error) { return m.text, m.err }

func TestInstruction_Static(t *testing.T) {
	inst := NewInstructionFromText("static instruction")
	assert.True(t, inst.IsStatic())
	got, err := inst.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static instruction", got)
}

func TestInstruction_Provider(t *testing.T) {
	inst := NewInstructionFromProvider(mockProvider{text: "dynamic"})
	assert.False(t, inst.IsStatic())
	got, err := inst.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dynamic", got)

	boom := errors.New("boom")
	_, err = NewInstructionFromProvider(mockProvider{err: boom}).Resolve(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSystemPrompt(t *testing.T) {
	ec := core.ExecutionContext{
		FullName:     "Ada Lovelace",
		BaseCurrency: "SEK",
		Timezone:     "Europe/Stockholm",
		City:         "Stockholm",
		Now:          time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC),
	}

	p, err := SystemPrompt(ec, PromptOptions{})
	require.NoError(t, err)
	assert.Contains(t, p, "Ada now and then")
	assert.Contains(t, p, "Base currency: SEK")
	assert.Contains(t, p, "User city: Stockholm")
	assert.Contains(t, p, "User country: unknown")
	assert.Contains(t, p, "2025-06-15T12:00:00+02:00")
	assert.NotContains(t, p, "INSTRUCTIONS")
	assert.NotContains(t, p, "web search")

	p, err = SystemPrompt(ec, PromptOptions{
		ToolCall:  &ForcedToolCall{ToolName: "getNetWorthAnalysis", ToolParams: map[string]any{"currency": "EUR"}},
		WebSearch: true,
	})
	require.NoError(t, err)
	assert.Contains(t, p, `Call the getNetWorthAnalysis tool with these parameters: {"currency":"EUR"}`)
	assert.Contains(t, p, "web search tool")

	p, err = SystemPrompt(core.ExecutionContext{}, PromptOptions{ToolCall: &ForcedToolCall{ToolName: "getAccounts"}})
	require.NoError(t, err)
	assert.Contains(t, p, "Call the getAccounts tool with its default parameters")
	assert.Contains(t, p, "Address the user as there")
	assert.Contains(t, p, "User timezone: UTC")
	assert.Contains(t, p, "Base currency: EUR")
}

func TestNewSystemInstruction(t *testing.T) {
	inst := NewSystemInstruction(PromptOptions{})

	_, err := inst.Resolve(context.Background())
	assert.ErrorIs(t, err, core.ErrContextNotSet)

	ctx, release := core.WithExecutionContext(context.Background(), core.ExecutionContext{FullName: "Grace Hopper"})
	defer release()
	got, err := inst.Resolve(ctx)
	require.NoError(t, err)
	assert.Contains(t, got, "User full name: Grace Hopper")
}
