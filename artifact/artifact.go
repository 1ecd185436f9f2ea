package artifact

import (
	"maps"
	"slices"
)

// Stage is a named milestone in an artifact's lifecycle.
type Stage string

// Stages of the analysis artifacts, in order, plus the single stage used by
// one-shot artifacts.
const (
	StageLoading       Stage = "loading"
	StageChartReady    Stage = "chart_ready"
	StageMetricsReady  Stage = "metrics_ready"
	StageAnalysisReady Stage = "analysis_ready"
	StageReady         Stage = "ready"
)

// AnalysisStages is the stage order of staged analysis artifacts.
var AnalysisStages = []Stage{StageLoading, StageChartReady, StageMetricsReady, StageAnalysisReady}

// Artifact types published by finmesh.
const (
	TypeNetWorth          = "net_worth_analysis"
	TypeExpensesBreakdown = "expenses_breakdown"
	TypeFollowupQuestions = "followup_questions"
	TypeTitle             = "title"
)

// Toast is the progress indicator shown alongside an artifact.
type Toast struct {
	Visible          bool   `json:"visible"`
	CurrentStep      int    `json:"currentStep"`
	TotalSteps       int    `json:"totalSteps"`
	Label            string `json:"currentLabel"`
	Description      string `json:"stepDescription,omitempty"`
	Completed        bool   `json:"completed"`
	CompletedMessage string `json:"completedMessage,omitempty"`
}

// Artifact is the current state of a typed, staged payload.
type Artifact struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Stage     Stage          `json:"stage"`
	Payload   map[string]any `json:"payload"`
	Toast     *Toast         `json:"toast,omitempty"`
	Completed bool           `json:"completed"`
	Version   int            `json:"version"`
}

func (a Artifact) clone() Artifact {
	out := a
	out.Payload = maps.Clone(a.Payload)
	if out.Payload == nil {
		out.Payload = map[string]any{}
	}
	if a.Toast != nil {
		t := *a.Toast
		out.Toast = &t
	}
	return out
}

// Patch is a partial update. Zero Stage keeps the current stage; nil Toast
// keeps the current toast; Sections are merged with the Definition's MergeFunc.
type Patch struct {
	Stage    Stage
	Sections map[string]any
	Toast    *Toast
}

// MergeFunc combines the current payload with patch sections and returns the
// new payload. It must not mutate its arguments.
type MergeFunc func(current, sections map[string]any) map[string]any

// ShallowMerge replaces each top-level key present in sections and keeps the rest.
func ShallowMerge(current, sections map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(sections))
	maps.Copy(out, current)
	maps.Copy(out, sections)
	return out
}

// Definition declares an artifact type: its ordered stages and merge rule.
type Definition struct {
	Type   string
	Stages []Stage
	Merge  MergeFunc
}

func (d Definition) stageIndex(s Stage) int {
	return slices.Index(d.Stages, s)
}

func (d Definition) merge() MergeFunc {
	if d.Merge == nil {
		return ShallowMerge
	}
	return d.Merge
}

// DefaultDefinitions returns the artifact types used by the finance tools.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Type: TypeNetWorth, Stages: AnalysisStages},
		{Type: TypeExpensesBreakdown, Stages: AnalysisStages},
		{Type: TypeFollowupQuestions, Stages: []Stage{StageReady}},
		{Type: TypeTitle, Stages: []Stage{StageReady}},
	}
}
