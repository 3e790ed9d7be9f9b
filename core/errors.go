package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput             = "DISPATCH_BAD_INPUT"
	ErrorUnauthorized         = "DISPATCH_UNAUTHORIZED"
	ErrorRouteNotFound        = "DISPATCH_ROUTE_NOT_FOUND"
	ErrorNotFound             = "DISPATCH_NOT_FOUND"
	ErrorRateLimited          = "DISPATCH_RATE_LIMITED"
	ErrorConflict             = "DISPATCH_CONFLICT"
	ErrorInvalidPayload       = "DISPATCH_INVALID_PAYLOAD"
	ErrorManifestInvalid      = "DISPATCH_MANIFEST_INVALID"
	ErrorUnregisteredHandler  = "DISPATCH_UNREGISTERED_HANDLER"
	ErrorExecutionTimeout     = "DISPATCH_EXECUTION_TIMEOUT"
	ErrorOperationFailed      = "DISPATCH_OPERATION_FAILED"
	ErrorInternal             = "DISPATCH_INTERNAL_ERROR"
	HandlerErrorCode          = "handler_error"
	HandlerErrorDefaultStatus = http.StatusInternalServerError
)

// NewError builds a rich error with explicit HTTP and text codes.
func NewError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func WrapError(source error, category goerrors.Category, message string, code int, textCode string, metadata map[string]any) *goerrors.Error {
	if source == nil {
		return NewError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// NewHandlerError is what business handlers return to control the error
// envelope code, status and details.
func NewHandlerError(code string, status int, message string, details map[string]any) *goerrors.Error {
	code = strings.TrimSpace(code)
	if code == "" {
		code = HandlerErrorCode
	}
	if status <= 0 {
		status = HandlerErrorDefaultStatus
	}
	return NewError(message, categoryForStatus(status), status, code, details)
}

// MapError normalizes any error into a rich error with code and text code.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case errors.Is(err, ErrRunNotFound), errors.Is(err, ErrDeadLetterNotFound):
		return ensureEnvelope(goerrors.New(err.Error(), goerrors.CategoryNotFound).WithTextCode(ErrorNotFound))
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "throttl"):
		return ensureEnvelope(goerrors.New(err.Error(), goerrors.CategoryRateLimit).WithTextCode(ErrorRateLimited))
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "signature"):
		return ensureEnvelope(goerrors.New(err.Error(), goerrors.CategoryAuth).WithTextCode(ErrorUnauthorized))
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureEnvelope(mapped)
}

// ToEnvelope converts an execution error into its wire envelope and status.
// Errors that carry no explicit text code become handler_error/500.
func ToEnvelope(err error) (ErrorEnvelope, int) {
	if err == nil {
		return ErrorEnvelope{}, http.StatusOK
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return ErrorEnvelope{Code: HandlerErrorCode, Message: err.Error()}, HandlerErrorDefaultStatus
	}
	code := strings.TrimSpace(richErr.TextCode)
	if code == "" {
		code = HandlerErrorCode
	}
	status := richErr.Code
	if status <= 0 {
		status = HandlerErrorDefaultStatus
	}
	return ErrorEnvelope{
		Code:    code,
		Message: ErrorText(err),
		Details: RedactDetails(richErr.Metadata),
	}, status
}

// FromEnvelope rebuilds a rich error from a decoded envelope.
func FromEnvelope(envelope ErrorEnvelope, status int) *goerrors.Error {
	message := strings.TrimSpace(envelope.Message)
	if message == "" {
		message = fmt.Sprintf("execution failed with status %d", status)
	}
	return NewHandlerError(envelope.Code, status, message, envelope.Details)
}

// ErrorText is the human message of an error without the category prefix
// that rich errors add to Error(). Run records and dead letters store it.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && strings.TrimSpace(richErr.Message) != "" {
		if richErr.Source != nil {
			return richErr.Message + ": " + ErrorText(richErr.Source)
		}
		return richErr.Message
	}
	return err.Error()
}

func ensureEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = HTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput:
		return ErrorBadInput
	case goerrors.CategoryValidation:
		return ErrorInvalidPayload
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorUnauthorized
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryOperation, goerrors.CategoryExternal:
		return ErrorOperationFailed
	default:
		return ErrorInternal
	}
}

func HTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryValidation:
		return http.StatusUnprocessableEntity
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func categoryForStatus(status int) goerrors.Category {
	switch {
	case status == http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case status == http.StatusForbidden:
		return goerrors.CategoryAuthz
	case status == http.StatusNotFound:
		return goerrors.CategoryNotFound
	case status == http.StatusConflict:
		return goerrors.CategoryConflict
	case status == http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	case status == http.StatusUnprocessableEntity:
		return goerrors.CategoryValidation
	case status >= 400 && status < 500:
		return goerrors.CategoryBadInput
	default:
		return goerrors.CategoryOperation
	}
}
