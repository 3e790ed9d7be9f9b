package manifest

import (
	"strings"

	"github.com/goliatone/go-dispatch/core"
)

type RequestType string

const (
	RequestTypeSync  RequestType = "sync"
	RequestTypeAsync RequestType = "async"
)

func (r RequestType) Valid() bool {
	return r == RequestTypeSync || r == RequestTypeAsync
}

type Route struct {
	RoutePath   string      `json:"routePath"`
	RequestType RequestType `json:"requestType"`
	FlowPath    string      `json:"flowPath"`
	WrapBody    bool        `json:"wrapBody"`
}

type Schedule struct {
	ID       string `json:"id"`
	Cron     string `json:"cron"`
	Enabled  bool   `json:"enabled"`
	Target   string `json:"target"`
	TimeZone string `json:"timeZone"`
}

// Manifest is the active set of route and schedule definitions.
type Manifest struct {
	Mode      string     `json:"mode"`
	Routes    []Route    `json:"routes"`
	Schedules []Schedule `json:"schedules"`
}

func (m Manifest) Route(path string) (Route, bool) {
	path = core.NormalizeRoutePath(path)
	if path == "" {
		return Route{}, false
	}
	for _, route := range m.Routes {
		if route.RoutePath == path {
			return route, true
		}
	}
	return Route{}, false
}

func (m Manifest) Schedule(id string) (Schedule, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Schedule{}, false
	}
	for _, schedule := range m.Schedules {
		if schedule.ID == id {
			return schedule, true
		}
	}
	return Schedule{}, false
}

// SchedulesForCron returns the schedules whose cron expression matches expr
// after whitespace normalization.
func (m Manifest) SchedulesForCron(expr string) []Schedule {
	expr = NormalizeCron(expr)
	if expr == "" {
		return nil
	}
	out := make([]Schedule, 0, len(m.Schedules))
	for _, schedule := range m.Schedules {
		if NormalizeCron(schedule.Cron) == expr {
			out = append(out, schedule)
		}
	}
	return out
}

func (m Manifest) Clone() Manifest {
	return Manifest{
		Mode:      m.Mode,
		Routes:    append([]Route(nil), m.Routes...),
		Schedules: append([]Schedule(nil), m.Schedules...),
	}
}

func NormalizeCron(expr string) string {
	return strings.Join(strings.Fields(expr), " ")
}
