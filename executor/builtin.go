package executor

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/goliatone/go-dispatch/core"
)

const (
	TargetWebhookEcho     = "flows/webhook_echo"
	TargetPassthroughDemo = "flows/passthrough_demo"
	TargetHeartbeat       = "flows/heartbeat"
)

func Builtins() map[string]Handler {
	return map[string]Handler{
		TargetWebhookEcho:     HandlerFunc(webhookEcho),
		TargetPassthroughDemo: HandlerFunc(passthroughDemo),
		TargetHeartbeat:       HandlerFunc(heartbeat),
	}
}

func webhookEcho(_ context.Context, req Request) (any, error) {
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return map[string]any{
		"echo":    payload,
		"traceId": req.Task.TraceID,
	}, nil
}

func passthroughDemo(_ context.Context, req Request) (any, error) {
	body, err := json.Marshal(map[string]any{
		"received": req.Payload,
		"traceId":  req.Task.TraceID,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"responseType": core.ResponseTypeHTTPPassthrough,
		"status":       http.StatusCreated,
		"headers": map[string]string{
			"Content-Type":  "application/json",
			"X-Passthrough": "demo",
		},
		"body": json.RawMessage(body),
	}, nil
}

func heartbeat(_ context.Context, req Request) (any, error) {
	return map[string]any{
		"status":     "ok",
		"scheduleId": req.Task.ScheduleID,
		"at":         req.Task.EnqueuedAt.UTC(),
	}, nil
}
