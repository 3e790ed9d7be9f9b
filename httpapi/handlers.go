package httpapi

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-dispatch/command"
	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/inbound"
	"github.com/goliatone/go-dispatch/query"
	"github.com/goliatone/go-dispatch/replay"
	goerrors "github.com/goliatone/go-errors"
)

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": a.deps.ServiceName,
		"time":    a.deps.Now().Format(time.RFC3339),
	})
}

func (a *API) notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r.Header.Get(inbound.HeaderTraceID), core.NewError(
		"not found", goerrors.CategoryNotFound, http.StatusNotFound, core.ErrorNotFound, nil,
	))
}

func (a *API) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r.Header.Get(inbound.HeaderTraceID), core.NewError(
		"method not allowed", goerrors.CategoryBadInput, http.StatusMethodNotAllowed, core.ErrorBadInput,
		map[string]any{"method": r.Method},
	))
}

func (a *API) dispatch(w http.ResponseWriter, r *http.Request) {
	traceID := strings.TrimSpace(r.Header.Get(inbound.HeaderTraceID))
	body, err := a.readBody(w, r)
	if err != nil {
		writeError(w, traceID, err)
		return
	}
	resp, err := a.deps.Gateway.Admit(r.Context(), inbound.Request{
		RoutePath:   chi.URLParam(r, "*"),
		TraceID:     traceID,
		WorkspaceID: r.Header.Get(inbound.HeaderWorkspaceID),
		ClientAddr:  r.RemoteAddr,
		Headers:     flattenHeaders(r.Header),
		Body:        body,
	})
	applyHeaders(w, resp.Headers)
	if resp.TraceID != "" {
		traceID = resp.TraceID
		w.Header().Set(inbound.HeaderTraceID, traceID)
	}
	if err != nil {
		writeError(w, traceID, err)
		return
	}
	if resp.Passthrough != nil {
		writePassthrough(w, resp.Passthrough)
		return
	}
	writeJSON(w, resp.Status, resp.Envelope())
}

func (a *API) retry(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceId")
	collector := gocmd.NewResult[replay.Result]()
	ctx := gocmd.ContextWithResult(r.Context(), collector)
	if err := a.deps.Retry.Execute(ctx, command.RetryMessage{TraceID: traceID}); err != nil {
		writeError(w, traceID, err)
		return
	}
	result, _ := collector.Load()
	writeReadmitted(w, result)
}

func (a *API) replay(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceId")
	collector := gocmd.NewResult[replay.Result]()
	ctx := gocmd.ContextWithResult(r.Context(), collector)
	if err := a.deps.Replay.Execute(ctx, command.ReplayMessage{TraceID: traceID}); err != nil {
		writeError(w, traceID, err)
		return
	}
	result, _ := collector.Load()
	writeReadmitted(w, result)
}

func writeReadmitted(w http.ResponseWriter, result replay.Result) {
	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok":            true,
		"parentTraceId": result.ParentTraceID,
		"newTraceId":    result.NewTraceID,
		"retryCount":    result.RetryCount,
		"deadLetterId":  result.DeadLetterID,
	})
}

func (a *API) getRun(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceId")
	run, err := a.deps.GetRun.Query(r.Context(), query.GetRunMessage{TraceID: traceID})
	if err != nil {
		writeError(w, traceID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "run": run})
}

func (a *API) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	filter := core.DeadLetterFilter{
		TraceID:     values.Get("traceId"),
		WorkspaceID: values.Get("workspaceId"),
	}
	var err error
	if filter.Limit, err = intParam(values.Get("limit")); err != nil {
		writeError(w, "", err)
		return
	}
	if filter.Offset, err = intParam(values.Get("offset")); err != nil {
		writeError(w, "", err)
		return
	}
	rows, err := a.deps.DeadLetters.Query(r.Context(), query.ListDeadLettersMessage{Filter: filter})
	if err != nil {
		writeError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": rows})
}

func (a *API) listLineage(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceId")
	edges, err := a.deps.Lineage.Query(r.Context(), query.ListLineageMessage{ParentTraceID: traceID})
	if err != nil {
		writeError(w, traceID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": edges})
}

// execute answers the internal execution protocol used by executor.HTTPClient:
// the raw result on success, the bare error envelope otherwise.
func (a *API) execute(w http.ResponseWriter, r *http.Request) {
	if !a.executorAuthorized(r) {
		envelope, status := core.ToEnvelope(core.NewError(
			"unauthorized", goerrors.CategoryAuth, http.StatusUnauthorized, core.ErrorUnauthorized, nil,
		))
		writeJSON(w, status, envelope)
		return
	}
	body, err := a.readBody(w, r)
	if err != nil {
		envelope, status := core.ToEnvelope(core.MapError(err))
		writeJSON(w, status, envelope)
		return
	}
	task, err := core.UnmarshalTask(body)
	if err != nil {
		envelope, status := core.ToEnvelope(core.WrapError(
			err, goerrors.CategoryBadInput, "invalid task", http.StatusBadRequest, core.ErrorInvalidPayload, nil,
		))
		writeJSON(w, status, envelope)
		return
	}
	startedAt := time.Now()
	result, err := a.deps.Executor.Execute(r.Context(), task)
	a.deps.Observer.Observe(r.Context(), startedAt, "internal.execute", err, map[string]any{
		"trace_id":     task.TraceID,
		"kind":         string(task.Kind),
		"route_path":   task.RoutePath,
		"schedule_id":  task.ScheduleID,
		"workspace_id": task.WorkspaceID,
	})
	if err != nil {
		envelope, status := core.ToEnvelope(err)
		writeJSON(w, status, envelope)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(result.Output) > 0 {
		_, _ = w.Write(result.Output)
		return
	}
	_, _ = w.Write([]byte("null"))
}

// executorAuthorized accepts any caller when no executor token is configured.
func (a *API) executorAuthorized(r *http.Request) bool {
	expected := strings.TrimSpace(a.deps.ExecutorToken)
	if expected == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return false
	}
	token := strings.TrimSpace(header[7:])
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

func (a *API) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	reader := http.MaxBytesReader(w, r.Body, a.deps.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, core.NewError("request body too large", goerrors.CategoryBadInput,
				http.StatusRequestEntityTooLarge, core.ErrorBadInput, map[string]any{"limit": tooLarge.Limit})
		}
		return nil, core.WrapError(err, goerrors.CategoryBadInput, "read request body",
			http.StatusBadRequest, core.ErrorBadInput, nil)
	}
	return body, nil
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}

func intParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, core.NewError("query parameter must be an integer", goerrors.CategoryBadInput,
			http.StatusBadRequest, core.ErrorBadInput, map[string]any{"value": raw})
	}
	return value, nil
}
