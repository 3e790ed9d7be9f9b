package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-dispatch/core"
	goerrors "github.com/goliatone/go-errors"
)

// Request is what a handler receives. Payload already has wrapBody applied.
type Request struct {
	Task    core.Task
	Target  string
	Payload json.RawMessage
}

type Handler interface {
	Handle(ctx context.Context, req Request) (any, error)
}

type HandlerFunc func(ctx context.Context, req Request) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}

// UnregisteredError reports a target with no handler behind it.
type UnregisteredError struct {
	Target string
}

func (e *UnregisteredError) Error() string {
	return fmt.Sprintf("executor: no handler registered for %q", e.Target)
}

func (e *UnregisteredError) Unwrap() error {
	return core.NewError(
		e.Error(),
		goerrors.CategoryNotFound,
		http.StatusInternalServerError,
		core.ErrorUnregisteredHandler,
		map[string]any{"target": e.Target},
	)
}

func IsUnregistered(err error) bool {
	var target *UnregisteredError
	return errors.As(err, &target)
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// NewDefaultRegistry returns a registry with the built-in flows installed.
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()
	for target, handler := range Builtins() {
		_ = registry.Register(target, handler)
	}
	return registry
}

func (r *Registry) Register(target string, handler Handler) error {
	if r == nil {
		return fmt.Errorf("executor: registry is nil")
	}
	target = normalizeTarget(target)
	if target == "" {
		return fmt.Errorf("executor: handler target is required")
	}
	if handler == nil {
		return fmt.Errorf("executor: handler is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[target]; exists {
		return fmt.Errorf("executor: handler %q already registered", target)
	}
	r.handlers[target] = handler
	return nil
}

func (r *Registry) RegisterFunc(target string, fn HandlerFunc) error {
	if fn == nil {
		return r.Register(target, nil)
	}
	return r.Register(target, fn)
}

func (r *Registry) Resolve(target string) (Handler, error) {
	target = normalizeTarget(target)
	if r == nil {
		return nil, &UnregisteredError{Target: target}
	}
	r.mu.RLock()
	handler, ok := r.handlers[target]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnregisteredError{Target: target}
	}
	return handler, nil
}

func (r *Registry) Has(target string) bool {
	_, err := r.Resolve(target)
	return err == nil
}

func (r *Registry) Targets() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for target := range r.handlers {
		out = append(out, target)
	}
	sort.Strings(out)
	return out
}

func normalizeTarget(target string) string {
	return strings.Trim(strings.TrimSpace(target), "/")
}
