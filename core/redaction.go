package core

import "strings"

const RedactedValue = "[REDACTED]"

// RedactDetails returns a copy of details with credential-like keys masked.
// Nested maps and slices are walked; correlation keys stay visible.
func RedactDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	return redactMap(details)
}

func redactMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if sensitiveKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactValue(value)
	}
	return target
}

func redactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactValue(typed[i])
		}
		return out
	default:
		return value
	}
}

var sensitiveTokens = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"api_key",
	"apikey",
	"signature",
	"credential",
}

func sensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || correlationKey(key) {
		return false
	}
	for _, token := range sensitiveTokens {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

func correlationKey(key string) bool {
	switch key {
	case "trace_id", "traceid",
		"parent_trace_id", "new_trace_id",
		"route_path", "schedule_id", "workspace_id",
		"dead_letter_id", "request_id":
		return true
	default:
		return false
	}
}
