package fintools

import (
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/finmesh/artifact"
	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/finance"
	"github.com/hupe1980/finmesh/internal/util"
	"github.com/hupe1980/finmesh/tool"
)

const netWorthDescription = "Generate comprehensive net worth analysis with interactive visualizations, asset/liability breakdowns, historical trends, and actionable insights."

// netWorthMetrics is the metrics section of the net worth artifact.
type netWorthMetrics struct {
	CurrentNetWorth          float64              `json:"currentNetWorth"`
	AverageNetWorth          float64              `json:"averageNetWorth"`
	NetWorthChange           float64              `json:"netWorthChange"`
	NetWorthChangePercentage float64              `json:"netWorthChangePercentage"`
	TopAsset                 finance.AccountShare `json:"topAsset"`
	TopLiability             finance.AccountShare `json:"topLiability"`
}

type chartPoint struct {
	Date    string  `json:"date"`
	Amount  float64 `json:"amount"`
	Average float64 `json:"average"`
}

type netWorthChange struct {
	Percentage float64 `json:"percentage"`
	Period     string  `json:"period"`
	StartValue float64 `json:"startValue"`
	EndValue   float64 `json:"endValue"`
}

func newNetWorthTool(opts Options) *tool.StagedTool {
	return tool.NewStagedTool(NameGetNetWorthAnalysis, netWorthDescription, analysisInputSchema("'EUR', 'USD'"),
		staged(opts.Logger, func(tc *core.ToolContext, args map[string]any, p *progress) error {
			return runNetWorth(tc, opts, args, p)
		}))
}

func runNetWorth(tc *core.ToolContext, opts Options, args map[string]any, p *progress) error {
	ec, err := tc.Exec()
	if err != nil {
		return err
	}
	in, err := util.Decode[analysisInput](args)
	if err != nil {
		return err
	}
	period, err := in.period(NameGetNetWorthAnalysis, ec)
	if err != nil {
		return err
	}
	currency := in.currency(ec)
	ctx := tc.Context()

	h, err := tc.StreamArtifact(artifact.TypeNetWorth, artifact.Patch{
		Stage:    artifact.StageLoading,
		Sections: map[string]any{"currency": currency},
		Toast:    stepToast(0, "Loading net worth data", "Fetching assets and liabilities"),
	})
	if err != nil {
		return err
	}

	from, to := period.From.Format(dateLayout), period.To.Format(dateLayout)
	intro := map[string]any{
		"analysis": "a net worth analysis",
		"subject":  "net worth",
		"from":     from,
		"to":       to,
		"doing":    "gathering assets and liabilities",
		"insights": "your net worth trend, asset allocation and liabilities",
		"name":     firstName(ec),
	}
	if err := p.streamText(ctx, opts.Model, render(introInstructions, intro), render(introPrompt, intro), render(introFallback, intro)); err != nil {
		return err
	}
	p.text += "\n"
	if err := p.emit(); err != nil {
		return err
	}

	var (
		trend       []finance.TrendPoint
		assets      []finance.AccountShare
		liabilities []finance.AccountShare
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		trend, err = ec.DB.NetWorthTrend(gctx, ec.OrganizationID, period)
		return err
	})
	g.Go(func() (err error) {
		assets, err = ec.DB.Assets(gctx, ec.OrganizationID)
		return err
	})
	g.Go(func() (err error) {
		liabilities, err = ec.DB.Liabilities(gctx, ec.OrganizationID)
		return err
	})
	if err := g.Wait(); err != nil {
		return &tool.ToolError{Tool: NameGetNetWorthAnalysis, Message: "failed to load net worth data", Code: tool.CodeExecution, Err: err}
	}

	if len(trend) == 0 {
		const summary = "No net worth data available for the selected period."
		none := finance.AccountShare{Name: "No data"}
		if err := h.Update(ctx, artifact.Patch{
			Stage: artifact.StageAnalysisReady,
			Sections: map[string]any{
				"chart":   map[string]any{"dailyData": []chartPoint{}},
				"metrics": netWorthMetrics{TopAsset: none, TopLiability: none},
				"analysis": map[string]any{
					"summary":         summary,
					"recommendations": []string{"Ensure accounts are linked", "Check date range"},
					"netWorthChange":  netWorthChange{Period: "0 days"},
				},
			},
			Toast: doneToast("Net worth analysis complete"),
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

	var sum float64
	for _, pt := range trend {
		sum += pt.Amount
	}
	average := math.Round(sum / float64(len(trend)))
	dailyData := make([]chartPoint, len(trend))
	for i, pt := range trend {
		dailyData[i] = chartPoint{Date: pt.Date, Amount: pt.Amount, Average: average}
	}
	chart := map[string]any{"dailyData": dailyData}

	if err := h.Update(ctx, artifact.Patch{
		Stage:    artifact.StageChartReady,
		Sections: map[string]any{"chart": chart},
		Toast:    stepToast(1, "Preparing chart data", "Processing balances and calculating metrics"),
	}); err != nil {
		return err
	}
	if err := p.emit(); err != nil {
		return err
	}

	start, current := trend[0].Amount, trend[len(trend)-1].Amount
	changePct := 0.0
	if start > 0 {
		changePct = math.Round((current - start) / start * 100)
	}
	metrics := netWorthMetrics{
		CurrentNetWorth:          current,
		AverageNetWorth:          average,
		NetWorthChange:           current - start,
		NetWorthChangePercentage: changePct,
		TopAsset:                 topShare(assets),
		TopLiability:             topShare(liabilities),
	}
	change := netWorthChange{
		Percentage: changePct,
		Period:     periodLabel(trend[0].Date, trend[len(trend)-1].Date),
		StartValue: start,
		EndValue:   current,
	}

	if err := h.Update(ctx, artifact.Patch{
		Stage: artifact.StageMetricsReady,
		Sections: map[string]any{
			"metrics": metrics,
			"analysis": map[string]any{
				"summary":         "Loading analysis...",
				"recommendations": []string{},
				"netWorthChange":  change,
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
		"current":            formatAmount(current, currency),
		"changePct":          changePct,
		"points":             len(trend),
		"topAsset":           metrics.TopAsset.Name,
		"topAssetPct":        metrics.TopAsset.Percentage,
		"topLiability":       metrics.TopLiability.Name,
		"topLiabilityAmount": formatAmount(metrics.TopLiability.Balance, currency),
	}
	summary, recs := summarize(ctx, opts.Model, p.logger, render(netWorthSummaryPrompt, data),
		"Current net worth: "+formatAmount(current, currency)+".")

	if err := h.Update(ctx, artifact.Patch{
		Stage: artifact.StageAnalysisReady,
		Sections: map[string]any{
			"analysis": map[string]any{
				"summary":         summary,
				"recommendations": recs,
				"netWorthChange":  change,
			},
		},
		Toast: doneToast("Net worth analysis complete"),
	}); err != nil {
		return err
	}
	if err := h.Complete(ctx); err != nil {
		return err
	}

	if err := p.streamText(ctx, opts.Model, netWorthAnalysisInstructions,
		"Generate a net worth analysis using this exact data: "+render(netWorthAnalysisFallback, data),
		render(netWorthAnalysisFallback, data)); err != nil {
		return err
	}

	publishFollowups(tc, GenerateFollowups(ctx, opts.Model, p.logger, NameGetNetWorthAnalysis, p.text), artifact.TypeNetWorth)

	p.finish(map[string]any{
		"currentNetWorth":          data["current"],
		"netWorthChange":           metrics.NetWorthChange,
		"netWorthChangePercentage": changePct,
		"topAsset":                 metrics.TopAsset,
		"topLiability":             metrics.TopLiability,
	}, true)
	return nil
}

func topShare(shares []finance.AccountShare) finance.AccountShare {
	if len(shares) == 0 {
		return finance.AccountShare{Name: "None"}
	}
	return shares[0]
}
