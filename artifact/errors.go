package artifact

import "errors"

var (
	// ErrNotFound is returned when no artifact (or stored snapshot) matches.
	ErrNotFound = errors.New("artifact not found")

	// ErrUnknownType is returned by Stream for a type without a Definition.
	ErrUnknownType = errors.New("unknown artifact type")

	// ErrUnknownStage is returned when a patch names a stage the type does not declare.
	ErrUnknownStage = errors.New("unknown artifact stage")

	// ErrStageRegression is returned when a patch moves an artifact back to an earlier stage.
	ErrStageRegression = errors.New("artifact stage regression")

	// ErrArtifactActive is returned by Stream while another artifact of the
	// same type is still open in the turn.
	ErrArtifactActive = errors.New("artifact of this type already active")

	// ErrArtifactAlreadyComplete is returned by Update/Complete on a completed
	// artifact in strict mode.
	ErrArtifactAlreadyComplete = errors.New("artifact already complete")

	// ErrChannelClosed is returned once the turn closed its channel.
	ErrChannelClosed = errors.New("artifact channel closed")
)
