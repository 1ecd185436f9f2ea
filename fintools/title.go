package fintools

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hupe1980/finmesh/artifact"
	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/logging"
	"github.com/hupe1980/finmesh/model"
)

// Title limits.
const (
	MinTitleContext = 10
	MaxTitleLength  = 50
)

// GenerateTitle derives a chat title from the first user message. Messages
// shorter than MinTitleContext produce no title. When the model fails the
// trimmed message is used instead.
func GenerateTitle(ctx context.Context, m model.Model, logger logging.Logger, ec core.ExecutionContext, message string) (string, bool) {
	logger = logging.OrNoOp(logger)
	if utf8.RuneCountInString(message) < MinTitleContext {
		return "", false
	}

	if m != nil {
		var res struct {
			Title string `json:"title"`
		}
		instructions := render(titleInstructions, map[string]any{
			"now":      ec.Clock().Format(time.RFC3339),
			"currency": ec.Currency(),
			"name":     ec.FullName,
			"city":     ec.City,
			"country":  ec.Country,
			"timezone": ec.Location().String(),
		})
		err := model.GenerateObject(ctx, m, instructions, message, &res)
		if err == nil && strings.TrimSpace(res.Title) != "" {
			return truncateRunes(strings.TrimSpace(res.Title), MaxTitleLength), true
		}
		if err != nil {
			logger.Warn("title.generate.failed", "turn_id", ec.TurnID, "error", err.Error())
		}
	}

	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return "", false
	}
	return truncateRunes(trimmed, MaxTitleLength), true
}

// PublishTitle creates and completes the title artifact of a turn.
func PublishTitle(ctx context.Context, ch *artifact.Channel, title string) error {
	h, err := ch.Stream(ctx, artifact.TypeTitle, artifact.Patch{
		Stage:    artifact.StageReady,
		Sections: map[string]any{"title": title},
	})
	if err != nil {
		return err
	}
	return h.Complete(ctx)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
