package fintools

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/hupe1980/finmesh/artifact"
	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/finance"
	"github.com/hupe1980/finmesh/internal/util"
	"github.com/hupe1980/finmesh/logging"
	"github.com/hupe1980/finmesh/model"
	"github.com/hupe1980/finmesh/tool"
)

// analysisSteps is the number of toast steps of an analysis artifact.
const analysisSteps = 4

const dateLayout = "2006-01-02"

// errStopped ends a staged run once the consumer stops ranging.
var errStopped = errors.New("consumer stopped")

// progress accumulates the cumulative text of a staged run and yields it.
type progress struct {
	yield  func(tool.Partial, error) bool
	text   string
	logger logging.Logger
}

// emit yields the current text.
func (p *progress) emit() error {
	if !p.yield(tool.Partial{Text: p.text}, nil) {
		return errStopped
	}
	return nil
}

// finish yields the final chunk.
func (p *progress) finish(data any, forceStop bool) {
	p.yield(tool.Partial{Text: p.text, Data: data, ForceStop: forceStop}, nil)
}

// streamText appends a model completion to the text, yielding as tokens
// arrive. Without a model, or when the model fails before producing
// anything, fallback is appended instead.
func (p *progress) streamText(ctx context.Context, m model.Model, instructions, prompt, fallback string) error {
	before := p.text
	if m != nil {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		respCh, errCh := m.Generate(ctx, model.Request{
			Instructions: instructions,
			Contents:     []core.Content{{Role: "user", Parts: []core.Part{core.TextPart{Text: prompt}}}},
			Stream:       true,
		})
		resp, err := model.Collect(ctx, respCh, errCh, func(r model.Response) {
			if stopped {
				return
			}
			p.text += r.Content.Text()
			if !p.yield(tool.Partial{Text: p.text}, nil) {
				stopped = true
				cancel()
			}
		})
		switch {
		case stopped:
			return errStopped
		case err == nil && p.text == before:
			p.text += strings.TrimSpace(resp.Content.Text())
			return p.emit()
		case err == nil:
			return nil
		case p.text != before:
			p.logger.Warn("tool.text.interrupted", "error", err.Error())
			return nil
		default:
			p.logger.Warn("tool.text.fallback", "error", err.Error())
		}
	}
	p.text += fallback
	return p.emit()
}

// stagedRun is the body of an analysis tool.
type stagedRun func(tc *core.ToolContext, args map[string]any, p *progress) error

func staged(logger logging.Logger, run stagedRun) tool.StagedFunc {
	return func(tc *core.ToolContext, args map[string]any) iter.Seq2[tool.Partial, error] {
		return func(yield func(tool.Partial, error) bool) {
			p := &progress{yield: yield, logger: logging.OrNoOp(logger)}
			if err := run(tc, args, p); err != nil && !errors.Is(err, errStopped) {
				yield(tool.Partial{Text: p.text}, err)
			}
		}
	}
}

// summarize asks the model for a short summary and recommendations. The
// first non-empty line is the summary, the next three are recommendations.
func summarize(ctx context.Context, m model.Model, logger logging.Logger, prompt, fallback string) (string, []string) {
	if m == nil {
		return fallback, []string{}
	}
	text, err := model.GenerateText(ctx, m, "", prompt)
	if err != nil {
		logger.Warn("tool.summary.fallback", "error", err.Error())
		return fallback, []string{}
	}

	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return fallback, []string{}
	}
	recs := []string{}
	for _, l := range lines[1:min(len(lines), 4)] {
		recs = append(recs, strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(l), "-•* ")))
	}
	return strings.TrimSpace(lines[0]), recs
}

// analysisInput is the shared input of the analysis tools.
type analysisInput struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	Currency *string `json:"currency"`
}

func analysisInputSchema(currencyExample string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"from": map[string]any{
				"type":        "string",
				"format":      "date-time",
				"description": "The start date when to retrieve data from. Defaults to 12 months ago. ISO-8601 format.",
			},
			"to": map[string]any{
				"type":        "string",
				"format":      "date-time",
				"description": "The end date when to retrieve data to. Defaults to the end of the current month. ISO-8601 format.",
			},
			"currency": map[string]any{
				"type":        []any{"string", "null"},
				"description": "Optional currency code (e.g., " + currencyExample + ").",
			},
		},
	}
}

// period resolves the requested range in the user's timezone. Missing bounds
// default to the start of the month twelve months ago and the end of the
// current month.
func (in analysisInput) period(toolName string, ec core.ExecutionContext) (finance.Period, error) {
	loc := ec.Location()
	now := ec.Clock()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)

	p := finance.Period{
		From: monthStart.AddDate(0, -12, 0),
		To:   monthStart.AddDate(0, 1, 0).Add(-time.Nanosecond),
	}
	if in.From != "" {
		t, err := time.Parse(time.RFC3339, in.From)
		if err != nil {
			return p, invalidArg(toolName, "from must be an ISO-8601 date-time")
		}
		p.From = t.In(loc)
	}
	if in.To != "" {
		t, err := time.Parse(time.RFC3339, in.To)
		if err != nil {
			return p, invalidArg(toolName, "to must be an ISO-8601 date-time")
		}
		p.To = t.In(loc)
	}
	if p.From.After(p.To) {
		return p, invalidArg(toolName, "from must not be after to")
	}
	return p, nil
}

func (in analysisInput) currency(ec core.ExecutionContext) string {
	if in.Currency != nil && strings.TrimSpace(*in.Currency) != "" {
		return strings.ToUpper(strings.TrimSpace(*in.Currency))
	}
	return ec.Currency()
}

func stepToast(step int, label, description string) *artifact.Toast {
	return &artifact.Toast{
		Visible:     true,
		CurrentStep: step,
		TotalSteps:  analysisSteps,
		Label:       label,
		Description: description,
	}
}

func doneToast(message string) *artifact.Toast {
	return &artifact.Toast{
		CurrentStep:      analysisSteps,
		TotalSteps:       analysisSteps,
		Label:            "Analysis complete",
		Description:      message,
		Completed:        true,
		CompletedMessage: message,
	}
}

// firstName returns the first word of the user's name, or "there".
func firstName(ec core.ExecutionContext) string {
	if f := strings.Fields(ec.FullName); len(f) > 0 {
		return f[0]
	}
	return "there"
}

// periodLabel describes the span between two YYYY-MM-DD dates in days.
func periodLabel(from, to string) string {
	f, err1 := time.Parse(dateLayout, from)
	t, err2 := time.Parse(dateLayout, to)
	if err1 != nil || err2 != nil {
		return "0 days"
	}
	return fmt.Sprintf("%d days", int(t.Sub(f).Hours()/24))
}

func formatAmount(amount float64, currency string) string {
	return fmt.Sprintf("%.2f %s", amount, currency)
}

func render(tmpl string, state map[string]any) string {
	out, err := util.RenderTemplate(tmpl, state)
	if err != nil {
		return ""
	}
	return out
}
