package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/goliatone/go-dispatch/core"
	goerrors "github.com/goliatone/go-errors"
)

// ToResult converts a handler return value into an execution result. A value
// whose JSON form carries responseType=http_passthrough becomes a passthrough.
func ToResult(value any) (core.ExecutionResult, error) {
	switch typed := value.(type) {
	case nil:
		return core.ExecutionResult{Output: json.RawMessage("null")}, nil
	case core.Passthrough:
		return passthroughResult(typed)
	case *core.Passthrough:
		if typed == nil {
			return core.ExecutionResult{Output: json.RawMessage("null")}, nil
		}
		return passthroughResult(*typed)
	}

	data, err := marshalOutput(value)
	if err != nil {
		return core.ExecutionResult{}, core.WrapError(
			err,
			goerrors.CategoryInternal,
			"executor: handler result is not JSON serializable",
			http.StatusInternalServerError,
			core.ErrorInternal,
			nil,
		)
	}
	return DecodeResult(data)
}

// DecodeResult interprets raw handler output the same way ToResult does.
func DecodeResult(data []byte) (core.ExecutionResult, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return core.ExecutionResult{Output: json.RawMessage("null")}, nil
	}
	if !json.Valid(trimmed) {
		return core.ExecutionResult{}, core.NewError(
			"executor: handler result is not valid JSON",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			core.ErrorInternal,
			nil,
		)
	}
	if trimmed[0] == '{' {
		var probe struct {
			ResponseType string `json:"responseType"`
		}
		if err := json.Unmarshal(trimmed, &probe); err == nil && probe.ResponseType == core.ResponseTypeHTTPPassthrough {
			var passthrough core.Passthrough
			if err := json.Unmarshal(trimmed, &passthrough); err != nil {
				return core.ExecutionResult{}, core.WrapError(
					err,
					goerrors.CategoryInternal,
					"executor: invalid passthrough result",
					http.StatusInternalServerError,
					core.ErrorInternal,
					nil,
				)
			}
			return passthroughResult(passthrough)
		}
	}
	return core.ExecutionResult{Output: append(json.RawMessage(nil), trimmed...)}, nil
}

func passthroughResult(p core.Passthrough) (core.ExecutionResult, error) {
	p.ResponseType = core.ResponseTypeHTTPPassthrough
	if p.Status == 0 {
		p.Status = http.StatusOK
	}
	if p.Status < 100 || p.Status > 999 {
		return core.ExecutionResult{}, core.NewError(
			fmt.Sprintf("executor: passthrough status %d is invalid", p.Status),
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			core.ErrorInternal,
			nil,
		)
	}
	headers := make(map[string]string, len(p.Headers))
	for key, value := range p.Headers {
		headers[key] = value
	}
	p.Headers = headers
	p.Body = append(json.RawMessage(nil), p.Body...)
	output, err := json.Marshal(p)
	if err != nil {
		return core.ExecutionResult{}, err
	}
	return core.ExecutionResult{Output: output, Passthrough: &p}, nil
}

func marshalOutput(value any) ([]byte, error) {
	switch typed := value.(type) {
	case json.RawMessage:
		return typed, nil
	case []byte:
		if json.Valid(typed) {
			return typed, nil
		}
		return json.Marshal(string(typed))
	default:
		return json.Marshal(value)
	}
}

// WrapBody returns {"body": payload}.
func WrapBody(payload json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage("null")
	}
	wrapped, _ := json.Marshal(map[string]json.RawMessage{"body": payload})
	return wrapped
}
