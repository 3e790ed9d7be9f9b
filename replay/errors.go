package replay

import (
	"net/http"

	"github.com/goliatone/go-dispatch/core"
	goerrors "github.com/goliatone/go-errors"
)

const (
	MessageReplayRequiresFailedRun = "replay requires failed run"
	MessageRunNotFound             = "run not found"
	MessageDeadLetterNotFound      = "dead letter not found"
)

func replayNotFound(message string, traceID string) error {
	return core.NewError(message, goerrors.CategoryNotFound, http.StatusNotFound, core.ErrorNotFound,
		map[string]any{"trace_id": traceID})
}

func replayConflict(message string, metadata map[string]any) error {
	return core.NewError(message, goerrors.CategoryConflict, http.StatusConflict, core.ErrorConflict, metadata)
}

func replayUnprocessable(source error, traceID string, deadLetterID int64) error {
	return core.WrapError(source, goerrors.CategoryValidation, "dead letter payload is not a valid task",
		http.StatusUnprocessableEntity, core.ErrorInvalidPayload,
		map[string]any{"trace_id": traceID, "dead_letter_id": deadLetterID})
}

func replayFailed(source error, message string, metadata map[string]any) error {
	return core.WrapError(source, goerrors.CategoryOperation, message,
		http.StatusInternalServerError, core.ErrorOperationFailed, metadata)
}
