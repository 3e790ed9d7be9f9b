package manifest

import (
	"strings"

	"github.com/goliatone/go-dispatch/core"
)

const (
	ReasonEnabled             = "enabled"
	ReasonMissingTarget       = "missing target"
	ReasonRouteNotRegistered  = "route not registered"
	ReasonRouteNotAllowed     = "route not in enabled list"
	ReasonRouteDisabled       = "route disabled"
	ReasonScheduleNotFound    = "schedule not registered"
	ReasonScheduleOff         = "schedule disabled in manifest"
	ReasonScheduleNotAllowed  = "schedule not in enabled list"
	ReasonScheduleDisabled    = "schedule disabled"
	ReasonUnsupportedTaskKind = "unsupported task kind"
)

type Decision struct {
	Enabled bool
	Reason  string
}

// Gate answers whether a task may run under the active manifest and the
// configured allow and deny lists. An empty allow list admits everything
// registered; the deny list always wins.
type Gate struct {
	enabledRoutes     map[string]struct{}
	disabledRoutes    map[string]struct{}
	enabledSchedules  map[string]struct{}
	disabledSchedules map[string]struct{}
}

func NewGate(cfg core.EnablementConfig) Gate {
	return Gate{
		enabledRoutes:     routeSet(cfg.EnabledRoutes),
		disabledRoutes:    routeSet(cfg.DisabledRoutes),
		enabledSchedules:  idSet(cfg.EnabledSchedules),
		disabledSchedules: idSet(cfg.DisabledSchedules),
	}
}

func (g Gate) IsEnabled(task core.Task, m Manifest) Decision {
	switch task.Kind {
	case core.TaskKindHTTPRoute:
		return g.RouteEnabled(task.RoutePath, m)
	case core.TaskKindScheduledJob:
		return g.ScheduleEnabled(task.ScheduleID, m)
	default:
		return Decision{Reason: ReasonUnsupportedTaskKind}
	}
}

func (g Gate) RouteEnabled(routePath string, m Manifest) Decision {
	routePath = core.NormalizeRoutePath(routePath)
	if routePath == "" {
		return Decision{Reason: ReasonMissingTarget}
	}
	if _, ok := m.Route(routePath); !ok {
		return Decision{Reason: ReasonRouteNotRegistered}
	}
	if _, denied := g.disabledRoutes[routePath]; denied {
		return Decision{Reason: ReasonRouteDisabled}
	}
	if len(g.enabledRoutes) > 0 {
		if _, allowed := g.enabledRoutes[routePath]; !allowed {
			return Decision{Reason: ReasonRouteNotAllowed}
		}
	}
	return Decision{Enabled: true, Reason: ReasonEnabled}
}

func (g Gate) ScheduleEnabled(scheduleID string, m Manifest) Decision {
	scheduleID = strings.TrimSpace(scheduleID)
	if scheduleID == "" {
		return Decision{Reason: ReasonMissingTarget}
	}
	schedule, ok := m.Schedule(scheduleID)
	if !ok {
		return Decision{Reason: ReasonScheduleNotFound}
	}
	if !schedule.Enabled {
		return Decision{Reason: ReasonScheduleOff}
	}
	if _, denied := g.disabledSchedules[scheduleID]; denied {
		return Decision{Reason: ReasonScheduleDisabled}
	}
	if len(g.enabledSchedules) > 0 {
		if _, allowed := g.enabledSchedules[scheduleID]; !allowed {
			return Decision{Reason: ReasonScheduleNotAllowed}
		}
	}
	return Decision{Enabled: true, Reason: ReasonEnabled}
}

func routeSet(values []string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, value := range values {
		if normalized := core.NormalizeRoutePath(value); normalized != "" {
			out[normalized] = struct{}{}
		}
	}
	return out
}

func idSet(values []string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out[trimmed] = struct{}{}
		}
	}
	return out
}
