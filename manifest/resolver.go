package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	goerrors "github.com/goliatone/go-errors"
	"github.com/robfig/cron/v3"
)

const (
	InputRoutes    = "routes_json"
	InputSchedules = "schedules_json"
)

type Resolver interface {
	Resolve(ctx context.Context, cfg core.Config) (Manifest, error)
}

type ResolverFunc func(ctx context.Context, cfg core.Config) (Manifest, error)

func (f ResolverFunc) Resolve(ctx context.Context, cfg core.Config) (Manifest, error) {
	return f(ctx, cfg)
}

// DefaultResolver parses the manifest on every call.
var DefaultResolver Resolver = ResolverFunc(func(_ context.Context, cfg core.Config) (Manifest, error) {
	return Resolve(cfg)
})

// Resolve returns the legacy table in legacy mode, or the strictly validated
// JSON inputs in config mode. Any invalid element fails the whole resolve.
func Resolve(cfg core.Config) (Manifest, error) {
	switch cfg.ManifestMode() {
	case core.ManifestModeLegacy:
		return Legacy(), nil
	case core.ManifestModeConfig:
		routes, err := ParseRoutes(cfg.Manifest.RoutesJSON)
		if err != nil {
			return Manifest{}, err
		}
		schedules, err := ParseSchedules(cfg.Manifest.SchedulesJSON)
		if err != nil {
			return Manifest{}, err
		}
		return Manifest{Mode: core.ManifestModeConfig, Routes: routes, Schedules: schedules}, nil
	default:
		return Manifest{}, manifestError(
			fmt.Sprintf("manifest: unsupported mode %q", cfg.Manifest.Mode),
			map[string]any{"mode": cfg.Manifest.Mode},
		)
	}
}

func ParseRoutes(input string) ([]Route, error) {
	elements, err := splitArray(InputRoutes, input)
	if err != nil {
		return nil, err
	}
	routes := make([]Route, 0, len(elements))
	seen := map[string]struct{}{}
	for index, element := range elements {
		route, fieldErrs := decodeRoute(element)
		if len(fieldErrs) == 0 {
			if _, exists := seen[route.RoutePath]; exists {
				fieldErrs = append(fieldErrs, fieldError("routePath", fmt.Sprintf("duplicate route %q", route.RoutePath)))
			}
		}
		if len(fieldErrs) > 0 {
			return nil, elementError(InputRoutes, index, fieldErrs)
		}
		seen[route.RoutePath] = struct{}{}
		routes = append(routes, route)
	}
	return routes, nil
}

func ParseSchedules(input string) ([]Schedule, error) {
	elements, err := splitArray(InputSchedules, input)
	if err != nil {
		return nil, err
	}
	schedules := make([]Schedule, 0, len(elements))
	seen := map[string]struct{}{}
	for index, element := range elements {
		schedule, fieldErrs := decodeSchedule(element)
		if len(fieldErrs) == 0 {
			if _, exists := seen[schedule.ID]; exists {
				fieldErrs = append(fieldErrs, fieldError("id", fmt.Sprintf("duplicate schedule %q", schedule.ID)))
			}
		}
		if len(fieldErrs) > 0 {
			return nil, elementError(InputSchedules, index, fieldErrs)
		}
		seen[schedule.ID] = struct{}{}
		schedules = append(schedules, schedule)
	}
	return schedules, nil
}

func splitArray(input string, raw string) ([]json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elements); err != nil {
		return nil, manifestWrapError(err, fmt.Sprintf("manifest: %s must be a JSON array", input), map[string]any{
			"input": input,
		})
	}
	return elements, nil
}

var routeFields = map[string]struct{}{
	"routePath": {}, "requestType": {}, "flowPath": {}, "wrapBody": {},
}

var scheduleFields = map[string]struct{}{
	"id": {}, "cron": {}, "enabled": {}, "target": {}, "timeZone": {},
}

func decodeRoute(element json.RawMessage) (Route, []goerrors.FieldError) {
	fields, errs := decodeObject(element, routeFields)
	if fields == nil {
		return Route{}, errs
	}
	route := Route{}
	var ok bool
	if route.RoutePath, ok = requiredString(fields, "routePath", &errs); ok {
		route.RoutePath = core.NormalizeRoutePath(route.RoutePath)
		if route.RoutePath == "" {
			errs = append(errs, fieldError("routePath", "must not be empty"))
		}
	}
	var requestType string
	if requestType, ok = requiredString(fields, "requestType", &errs); ok {
		route.RequestType = RequestType(strings.ToLower(strings.TrimSpace(requestType)))
		if !route.RequestType.Valid() {
			errs = append(errs, fieldError("requestType", `must be "sync" or "async"`))
		}
	}
	if route.FlowPath, ok = requiredString(fields, "flowPath", &errs); ok && strings.TrimSpace(route.FlowPath) == "" {
		errs = append(errs, fieldError("flowPath", "must not be empty"))
	}
	route.WrapBody, _ = optionalBool(fields, "wrapBody", false, &errs)
	return route, errs
}

func decodeSchedule(element json.RawMessage) (Schedule, []goerrors.FieldError) {
	fields, errs := decodeObject(element, scheduleFields)
	if fields == nil {
		return Schedule{}, errs
	}
	schedule := Schedule{}
	var ok bool
	if schedule.ID, ok = requiredString(fields, "id", &errs); ok {
		schedule.ID = strings.TrimSpace(schedule.ID)
		if schedule.ID == "" {
			errs = append(errs, fieldError("id", "must not be empty"))
		}
	}
	if schedule.Cron, ok = requiredString(fields, "cron", &errs); ok {
		schedule.Cron = NormalizeCron(schedule.Cron)
		if _, err := cron.ParseStandard(schedule.Cron); err != nil {
			errs = append(errs, fieldError("cron", "invalid cron expression: "+err.Error()))
		}
	}
	if schedule.Target, ok = requiredString(fields, "target", &errs); ok && strings.TrimSpace(schedule.Target) == "" {
		errs = append(errs, fieldError("target", "must not be empty"))
	}
	schedule.Enabled, _ = optionalBool(fields, "enabled", true, &errs)
	schedule.TimeZone, _ = optionalString(fields, "timeZone", "UTC", &errs)
	if _, err := time.LoadLocation(schedule.TimeZone); err != nil {
		errs = append(errs, fieldError("timeZone", "unknown time zone"))
	}
	return schedule, errs
}

func decodeObject(element json.RawMessage, allowed map[string]struct{}) (map[string]json.RawMessage, []goerrors.FieldError) {
	trimmed := bytes.TrimSpace(element)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, []goerrors.FieldError{fieldError("", "must be a JSON object")}
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, []goerrors.FieldError{fieldError("", "must be a JSON object")}
	}
	var errs []goerrors.FieldError
	for key := range fields {
		if _, ok := allowed[key]; !ok {
			errs = append(errs, fieldError(key, "unknown field"))
		}
	}
	return fields, errs
}

func requiredString(fields map[string]json.RawMessage, key string, errs *[]goerrors.FieldError) (string, bool) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		*errs = append(*errs, fieldError(key, "is required"))
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		*errs = append(*errs, fieldError(key, "must be a string"))
		return "", false
	}
	return value, true
}

func optionalString(fields map[string]json.RawMessage, key string, fallback string, errs *[]goerrors.FieldError) (string, bool) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return fallback, true
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		*errs = append(*errs, fieldError(key, "must be a string"))
		return fallback, false
	}
	if strings.TrimSpace(value) == "" {
		return fallback, true
	}
	return strings.TrimSpace(value), true
}

func optionalBool(fields map[string]json.RawMessage, key string, fallback bool, errs *[]goerrors.FieldError) (bool, bool) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return fallback, true
	}
	var value bool
	if err := json.Unmarshal(raw, &value); err != nil {
		*errs = append(*errs, fieldError(key, "must be a boolean"))
		return fallback, false
	}
	return value, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func fieldError(field string, message string) goerrors.FieldError {
	return goerrors.FieldError{Field: field, Message: message}
}

func elementError(input string, index int, fieldErrs []goerrors.FieldError) error {
	qualified := make([]goerrors.FieldError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		path := fmt.Sprintf("%s[%d]", input, index)
		if fe.Field != "" {
			path += "." + fe.Field
		}
		qualified = append(qualified, goerrors.FieldError{Field: path, Message: fe.Message})
	}
	return goerrors.NewValidation(
		fmt.Sprintf("manifest: invalid %s element at index %d", input, index),
		qualified...,
	).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorManifestInvalid).
		WithMetadata(map[string]any{"input": input, "index": index})
}

func manifestError(message string, metadata map[string]any) error {
	return core.NewError(message, goerrors.CategoryValidation, http.StatusInternalServerError, core.ErrorManifestInvalid, metadata)
}

func manifestWrapError(source error, message string, metadata map[string]any) error {
	return core.WrapError(source, goerrors.CategoryValidation, message, http.StatusInternalServerError, core.ErrorManifestInvalid, metadata)
}
