package fintools

import (
	"github.com/hupe1980/finmesh/artifact"
	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/finance"
	"github.com/hupe1980/finmesh/internal/util"
	"github.com/hupe1980/finmesh/tool"
)

const expensesDescription = "Generate an expenses breakdown with visualizations, category analysis, and insights on spending distribution."

// expenseCategoryLimit is the number of categories charted.
const expenseCategoryLimit = 10

type amountShare struct {
	Amount     float64 `json:"amount"`
	Percentage float64 `json:"percentage"`
}

// expensesMetrics is the metrics section of the expenses artifact.
type expensesMetrics struct {
	Total                     float64                 `json:"total"`
	TopCategory               finance.CategoryExpense `json:"topCategory"`
	RecurringExpenses         amountShare             `json:"recurringExpenses"`
	UncategorizedTransactions amountShare             `json:"uncategorizedTransactions"`
}

func newExpensesTool(opts Options) *tool.StagedTool {
	return tool.NewStagedTool(NameGetExpensesBreakdown, expensesDescription, analysisInputSchema("'USD', 'SEK'"),
		staged(opts.Logger, func(tc *core.ToolContext, args map[string]any, p *progress) error {
			return runExpenses(tc, opts, args, p)
		}))
}

func runExpenses(tc *core.ToolContext, opts Options, args map[string]any, p *progress) error {
	ec, err := tc.Exec()
	if err != nil {
		return err
	}
	in, err := util.Decode[analysisInput](args)
	if err != nil {
		return err
	}
	period, err := in.period(NameGetExpensesBreakdown, ec)
	if err != nil {
		return err
	}
	currency := in.currency(ec)
	ctx := tc.Context()

	h, err := tc.StreamArtifact(artifact.TypeExpensesBreakdown, artifact.Patch{
		Stage:    artifact.StageLoading,
		Sections: map[string]any{"currency": currency},
		Toast:    stepToast(0, "Loading expenses data", "Fetching categorized expenses"),
	})
	if err != nil {
		return err
	}

	intro := map[string]any{
		"analysis": "an expenses breakdown",
		"subject":  "expenses",
		"from":     period.From.Format(dateLayout),
		"to":       period.To.Format(dateLayout),
		"doing":    "gathering expenses by category",
		"insights": "your expenses by category and spending distribution",
		"name":     firstName(ec),
	}
	if err := p.streamText(ctx, opts.Model, render(introInstructions, intro), render(introPrompt, intro), render(introFallback, intro)); err != nil {
		return err
	}
	p.text += "\n"
	if err := p.emit(); err != nil {
		return err
	}

	expenses, err := ec.DB.ExpensesByCategory(ctx, ec.OrganizationID, period, expenseCategoryLimit)
	if err != nil {
		return &tool.ToolError{Tool: NameGetExpensesBreakdown, Message: "failed to load expenses", Code: tool.CodeExecution, Err: err}
	}

	if len(expenses) == 0 {
		const summary = "No expenses data available for this period."
		if err := h.Update(ctx, artifact.Patch{
			Stage: artifact.StageAnalysisReady,
			Sections: map[string]any{
				"chart":   map[string]any{"categoryData": []finance.CategoryExpense{}},
				"metrics": expensesMetrics{TopCategory: finance.CategoryExpense{Name: "No data"}},
				"analysis": map[string]any{
					"summary":         summary,
					"recommendations": []string{"Check accounts", "Verify categories"},
				},
			},
			Toast: doneToast("Expenses breakdown complete"),
		}); err != nil {
			return err
		}
		if err := h.Complete(ctx); err != nil {
			return err
		}
		p.text += summary
		p.finish(map[string]any{"summary": "No data available"}, false)
		return nil
	}

	chart := map[string]any{"categoryData": expenses}
	if err := h.Update(ctx, artifact.Patch{
		Stage:    artifact.StageChartReady,
		Sections: map[string]any{"chart": chart},
		Toast:    stepToast(1, "Preparing chart", "Building expense categories visualization"),
	}); err != nil {
		return err
	}
	if err := p.emit(); err != nil {
		return err
	}

	var total float64
	var uncategorized amountShare
	for _, e := range expenses {
		total += e.Amount
		if e.Slug == "uncategorized" {
			uncategorized = amountShare{Amount: e.Amount, Percentage: e.Percentage}
		}
	}
	metrics := expensesMetrics{
		Total:                     total,
		TopCategory:               expenses[0],
		UncategorizedTransactions: uncategorized,
	}

	if err := h.Update(ctx, artifact.Patch{
		Stage: artifact.StageMetricsReady,
		Sections: map[string]any{
			"metrics": metrics,
			"analysis": map[string]any{
				"summary":         "Loading analysis...",
				"recommendations": []string{},
			},
		},
		Toast: stepToast(2, "Metrics ready", "Generating visual charts and analytics"),
	}); err != nil {
		return err
	}
	if err := p.emit(); err != nil {
		return err
	}

	if err := h.Update(ctx, artifact.Patch{
		Toast: stepToast(3, "Generating insights", "Running AI analysis and generating insights"),
	}); err != nil {
		return err
	}
	if err := p.emit(); err != nil {
		return err
	}

	data := map[string]any{
		"total":          formatAmount(total, currency),
		"topCategory":    metrics.TopCategory.Name,
		"topCategoryPct": metrics.TopCategory.Percentage,
		"categories":     len(expenses),
	}
	summary, recs := summarize(ctx, opts.Model, p.logger, render(expensesSummaryPrompt, data),
		"Total expenses: "+formatAmount(total, currency)+".")

	if err := h.Update(ctx, artifact.Patch{
		Stage: artifact.StageAnalysisReady,
		Sections: map[string]any{
			"analysis": map[string]any{
				"summary":         summary,
				"recommendations": recs,
			},
		},
		Toast: doneToast("Expenses breakdown complete"),
	}); err != nil {
		return err
	}
	if err := h.Complete(ctx); err != nil {
		return err
	}

	if err := p.streamText(ctx, opts.Model, expensesAnalysisInstructions,
		"Generate an expenses breakdown using this data: "+render(expensesAnalysisFallback, data),
		render(expensesAnalysisFallback, data)); err != nil {
		return err
	}

	publishFollowups(tc, GenerateFollowups(ctx, opts.Model, p.logger, NameGetExpensesBreakdown, p.text), artifact.TypeExpensesBreakdown)

	p.finish(map[string]any{
		"total":                 data["total"],
		"topCategory":           metrics.TopCategory.Name,
		"topCategoryPercentage": metrics.TopCategory.Percentage,
	}, true)
	return nil
}
