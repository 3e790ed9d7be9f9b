package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestToEnvelope_UntypedErrorIsHandlerError(t *testing.T) {
	envelope, status := ToEnvelope(errors.New("boom"))
	if status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", status)
	}
	if envelope.Code != HandlerErrorCode || envelope.Message != "boom" {
		t.Fatalf("unexpected envelope %#v", envelope)
	}
}

func TestToEnvelope_HandlerErrorKeepsCodeStatusAndDetails(t *testing.T) {
	err := NewHandlerError("slack_unavailable", http.StatusBadGateway, "slack is down", map[string]any{"channel": "ops"})
	envelope, status := ToEnvelope(fmt.Errorf("wrapped: %w", err))
	if status != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", status)
	}
	if envelope.Code != "slack_unavailable" || envelope.Message != "slack is down" {
		t.Fatalf("unexpected envelope %#v", envelope)
	}
	if envelope.Details["channel"] != "ops" {
		t.Fatalf("expected details, got %#v", envelope.Details)
	}

	rebuilt := FromEnvelope(envelope, status)
	if rebuilt.TextCode != "slack_unavailable" || rebuilt.Code != http.StatusBadGateway {
		t.Fatalf("unexpected rebuilt error %#v", rebuilt)
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		category goerrors.Category
		status   int
	}{
		{name: "run not found", err: fmt.Errorf("%w: trace x", ErrRunNotFound), category: goerrors.CategoryNotFound, status: http.StatusNotFound},
		{name: "rate limit", err: errors.New("rate limit exceeded"), category: goerrors.CategoryRateLimit, status: http.StatusTooManyRequests},
		{name: "conflict rich", err: NewError("replay requires failed run", goerrors.CategoryConflict, http.StatusConflict, ErrorConflict, nil), category: goerrors.CategoryConflict, status: http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := MapError(tc.err)
			if mapped == nil {
				t.Fatalf("expected mapped error")
			}
			if mapped.Category != tc.category || mapped.Code != tc.status {
				t.Fatalf("expected %s/%d, got %s/%d", tc.category, tc.status, mapped.Category, mapped.Code)
			}
			if mapped.TextCode == "" {
				t.Fatalf("expected text code")
			}
		})
	}
}

func TestErrorText_StripsCategoryPrefix(t *testing.T) {
	err := WrapError(errors.New("dial tcp: refused"), goerrors.CategoryExternal, "executor: call failed", http.StatusBadGateway, ErrorOperationFailed, nil)
	if got := ErrorText(err); got != "executor: call failed: dial tcp: refused" {
		t.Fatalf("unexpected error text %q", got)
	}
	if got := ErrorText(errors.New("plain")); got != "plain" {
		t.Fatalf("unexpected plain text %q", got)
	}
}
