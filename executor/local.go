package executor

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/manifest"
	goerrors "github.com/goliatone/go-errors"
)

// Local runs tasks in-process against the registry.
type Local struct {
	registry *Registry
	resolver manifest.Resolver
	config   core.Config
}

func NewLocal(registry *Registry, resolver manifest.Resolver, cfg core.Config) *Local {
	if registry == nil {
		registry = NewDefaultRegistry()
	}
	if resolver == nil {
		resolver = manifest.DefaultResolver
	}
	return &Local{registry: registry, resolver: resolver, config: cfg.Clone()}
}

func (l *Local) Registry() *Registry {
	if l == nil {
		return nil
	}
	return l.registry
}

func (l *Local) Execute(ctx context.Context, task core.Task) (core.ExecutionResult, error) {
	if l == nil {
		return core.ExecutionResult{}, fmt.Errorf("executor: local executor is nil")
	}
	if err := task.Validate(); err != nil {
		return core.ExecutionResult{}, core.WrapError(err, goerrors.CategoryBadInput, "executor: invalid task", http.StatusBadRequest, core.ErrorBadInput, nil)
	}
	m, err := l.resolver.Resolve(ctx, l.config)
	if err != nil {
		return core.ExecutionResult{}, err
	}

	req := Request{Task: task, Payload: task.Payload}
	switch task.Kind {
	case core.TaskKindHTTPRoute:
		route, ok := m.Route(task.RoutePath)
		if !ok {
			return core.ExecutionResult{}, routeNotFound(task.RoutePath)
		}
		req.Target = route.FlowPath
		if route.WrapBody {
			req.Payload = WrapBody(task.Payload)
		}
	case core.TaskKindScheduledJob:
		schedule, ok := m.Schedule(task.ScheduleID)
		if !ok {
			return core.ExecutionResult{}, core.NewError(
				fmt.Sprintf("executor: schedule %q not registered", task.ScheduleID),
				goerrors.CategoryNotFound,
				http.StatusNotFound,
				core.ErrorNotFound,
				map[string]any{"schedule_id": task.ScheduleID},
			)
		}
		req.Target = schedule.Target
	}

	handler, err := l.registry.Resolve(req.Target)
	if err != nil {
		return core.ExecutionResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return core.ExecutionResult{}, err
	}
	value, err := handler.Handle(ctx, req)
	if err != nil {
		return core.ExecutionResult{}, err
	}
	return ToResult(value)
}

func routeNotFound(routePath string) error {
	return core.NewError(
		fmt.Sprintf("executor: route %q not registered", routePath),
		goerrors.CategoryNotFound,
		http.StatusNotFound,
		core.ErrorRouteNotFound,
		map[string]any{"route_path": routePath},
	)
}

var _ core.Executor = (*Local)(nil)
