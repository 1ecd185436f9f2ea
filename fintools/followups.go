package fintools

import (
	"context"
	"strings"

	"github.com/hupe1980/finmesh/artifact"
	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/logging"
	"github.com/hupe1980/finmesh/model"
)

// MaxFollowups caps the number of suggested questions.
const MaxFollowups = 4

const maxFollowupInput = 2000

// GenerateFollowups asks the model for follow-up questions about a tool's
// output. It never fails: any error yields an empty list.
func GenerateFollowups(ctx context.Context, m model.Model, logger logging.Logger, toolName, output string) []string {
	logger = logging.OrNoOp(logger)
	if m == nil {
		return []string{}
	}

	info := toolCatalog[toolName]
	related := make([]string, 0, len(info.related))
	for _, r := range info.related {
		related = append(related, r+": "+toolCatalog[r].description)
	}
	if cut := truncateRunes(output, maxFollowupInput); cut != output {
		output = cut + " ..."
	}

	var res struct {
		Questions []string `json:"questions"`
	}
	instructions := render(followupInstructions, map[string]any{
		"tool":        toolName,
		"description": info.description,
		"related":     related,
	})
	if err := model.GenerateObject(ctx, m, instructions, render(followupPrompt, map[string]any{"output": output}), &res); err != nil {
		logger.Warn("tool.followups.failed", "tool", toolName, "error", err.Error())
		return []string{}
	}

	questions := make([]string, 0, MaxFollowups)
	for _, q := range res.Questions {
		if q = strings.TrimSpace(q); q != "" && len(questions) < MaxFollowups {
			questions = append(questions, q)
		}
	}
	return questions
}

// publishFollowups creates and completes the follow-up questions artifact.
// Failures are logged; they never fail the tool.
func publishFollowups(tc *core.ToolContext, questions []string, about string) {
	h, err := tc.StreamArtifact(artifact.TypeFollowupQuestions, artifact.Patch{
		Stage: artifact.StageReady,
		Sections: map[string]any{
			"questions": questions,
			"context":   about,
		},
	})
	if err == nil {
		err = h.Complete(tc.Context())
	}
	if err != nil {
		tc.Logger().Warn("tool.followups.publish_failed", "tool", tc.ToolName(), "error", err.Error())
	}
}
