package gologger

import (
	"strings"

	"github.com/goliatone/go-dispatch/core"
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// Logging is the resolved logger set for one dispatch process, with the
// go-job bridges derived from it.
type Logging struct {
	Name      string
	Provider  glog.LoggerProvider
	Logger    glog.Logger
	Job       job.LoggerProvider
	JobLogger job.Logger
}

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) Logging {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "dispatch"
	}
	resolvedProvider, resolvedLogger := glog.Resolve(name, provider, logger)
	out := Logging{Name: name, Provider: resolvedProvider, Logger: resolvedLogger}
	if resolvedProvider != nil {
		out.Job = job.GoLoggerProvider(resolvedProvider)
	}
	if resolvedLogger != nil {
		out.JobLogger = job.GoLogger(resolvedLogger)
	}
	return out
}

// Named returns the logger for one component, e.g. "dispatch.consumer".
func (l Logging) Named(component string) glog.Logger {
	component = strings.TrimSpace(component)
	if component == "" {
		return l.Logger
	}
	if l.Provider == nil {
		if l.Logger == nil {
			return glog.Nop()
		}
		return l.Logger
	}
	return l.Provider.GetLogger(l.Name + "." + component)
}

// Observer builds a component observer over Named(component).
func (l Logging) Observer(component string, metrics core.MetricsRecorder) core.Observer {
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	return core.Observer{Logger: l.Named(component), Metrics: metrics}
}
