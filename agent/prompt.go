package agent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/internal/util"
)

// ForcedToolCall asks the model to call a specific tool, as when the user
// picks an analysis from a menu instead of typing.
type ForcedToolCall struct {
	ToolName   string         `json:"toolName"`
	ToolParams map[string]any `json:"toolParams,omitempty"`
}

// PromptOptions adds per-turn instructions to the system prompt.
type PromptOptions struct {
	ToolCall  *ForcedToolCall
	WebSearch bool
}

const basePrompt = `You are the assistant of a personal finance management app.
You help the user track expenses and income, understand transactions and accounts,
plan budgets and savings goals, and make sense of assets and liabilities.

You can call tools that read the user's real financial data.

TOOLS
- Use a tool whenever the question can be answered from the user's data.
- Tool parameters have sensible defaults; call tools without parameters when that fits.
- Do not ask for clarification when a tool can answer with its defaults.
- Use data tools (getAccounts, getTransactions, getInstitutions, getTransactionsCategories) for direct questions such as a balance or a spending total.
- Use analysis tools (getNetWorthAnalysis, getExpensesBreakdown) for trends, insights and advice.

ANSWERS
- Answer simple data questions with the data and stop.
- For analysis or advice, continue with personal insights and next steps.
- Explain what the numbers mean for the user's financial health in plain language.
- Refer to charts and metrics when an analysis produced them.
- Use markdown for tables and lists of structured data.
- Address the user as {{.firstName}} now and then, not in every answer.
- Be warm and encouraging, acknowledge setbacks and celebrate progress.

Current date and time: {{.now}}
User full name: {{.fullName}}
User city: {{.city}}
User country: {{.country}}
User timezone: {{.timezone}}
Base currency: {{.currency}}`

const forcedToolPrompt = `

INSTRUCTIONS:
1. Call the {{.tool}} tool {{if .params}}with these parameters: {{.params}}{{else}}with its default parameters{{end}}
2. Present the results naturally and conversationally
3. Explain what the data represents
4. Refer to the visual elements when available`

const webSearchPrompt = `

IMPORTANT: The user asked for current information from the web. Use a web search tool if one is available before answering. If none is available, say that your answer may not reflect the latest information.`

// SystemPrompt renders the system prompt for ec.
func SystemPrompt(ec core.ExecutionContext, opts PromptOptions) (string, error) {
	first := "there"
	if f := strings.Fields(ec.FullName); len(f) > 0 {
		first = f[0]
	}
	tz := ec.Timezone
	if tz == "" {
		tz = "UTC"
	}

	prompt, err := util.RenderTemplate(basePrompt, map[string]any{
		"firstName": first,
		"now":       ec.Clock().Format(time.RFC3339),
		"fullName":  orUnknown(ec.FullName),
		"city":      orUnknown(ec.City),
		"country":   orUnknown(ec.Country),
		"timezone":  tz,
		"currency":  ec.Currency(),
	})
	if err != nil {
		return "", err
	}

	if tc := opts.ToolCall; tc != nil && tc.ToolName != "" {
		params := ""
		if len(tc.ToolParams) > 0 {
			b, err := json.Marshal(tc.ToolParams)
			if err != nil {
				return "", err
			}
			params = string(b)
		}
		forced, err := util.RenderTemplate(forcedToolPrompt, map[string]any{"tool": tc.ToolName, "params": params})
		if err != nil {
			return "", err
		}
		prompt += forced
	}
	if opts.WebSearch {
		prompt += webSearchPrompt
	}
	return prompt, nil
}

// NewSystemInstruction renders SystemPrompt from the execution context bound
// to the resolving context.
func NewSystemInstruction(opts PromptOptions) Instruction {
	return NewInstructionFromFunc(func(ctx context.Context) (string, error) {
		ec, err := core.CurrentExecutionContext(ctx)
		if err != nil {
			return "", err
		}
		return SystemPrompt(ec, opts)
	})
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
