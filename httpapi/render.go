package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/goliatone/go-dispatch/core"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders {"ok":false,"traceId","error":{code,message,details}}.
func writeError(w http.ResponseWriter, traceID string, err error) {
	envelope, status := core.ToEnvelope(core.MapError(err))
	body := map[string]any{"ok": false, "error": envelope}
	if traceID != "" {
		body["traceId"] = traceID
	}
	writeJSON(w, status, body)
}

func applyHeaders(w http.ResponseWriter, headers map[string]string) {
	for key, value := range headers {
		w.Header().Set(key, value)
	}
}

// writePassthrough hands the response to the handler: a JSON string body is
// written as its decoded text, anything else as raw JSON.
func writePassthrough(w http.ResponseWriter, p *core.Passthrough) {
	applyHeaders(w, p.Headers)
	status := p.Status
	if status == 0 {
		status = http.StatusOK
	}
	body := bytes.TrimSpace(p.Body)
	var payload []byte
	if len(body) > 0 && body[0] == '"' {
		var text string
		if err := json.Unmarshal(body, &text); err == nil {
			payload = []byte(text)
			if w.Header().Get("Content-Type") == "" {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			}
		}
	}
	if payload == nil && len(body) > 0 {
		payload = body
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
	}
	w.WriteHeader(status)
	if len(payload) > 0 {
		_, _ = w.Write(payload)
	}
}
