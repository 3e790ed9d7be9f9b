package inbound

import (
	"net/http"

	"github.com/goliatone/go-dispatch/core"
	goerrors "github.com/goliatone/go-errors"
)

func inboundError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	return core.NewError(message, category, code, textCode, metadata)
}

func inboundWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	return core.WrapError(source, category, message, code, textCode, metadata)
}

func inboundBadInput(message string, metadata map[string]any) error {
	return inboundError(
		message,
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		core.ErrorInvalidPayload,
		metadata,
	)
}

func inboundInternal(message string, metadata map[string]any) error {
	return inboundError(
		message,
		goerrors.CategoryInternal,
		http.StatusInternalServerError,
		core.ErrorInternal,
		metadata,
	)
}

func inboundUnauthorized(source error, metadata map[string]any) error {
	return inboundWrapError(
		source,
		goerrors.CategoryAuth,
		"inbound: request authorization failed",
		http.StatusUnauthorized,
		core.ErrorUnauthorized,
		metadata,
	)
}

// routeNotFound is shared by unknown and disabled routes so callers cannot
// tell them apart.
func routeNotFound(routePath string) error {
	return inboundError(
		"inbound: route not found",
		goerrors.CategoryNotFound,
		http.StatusNotFound,
		core.ErrorRouteNotFound,
		map[string]any{"route_path": routePath},
	)
}
