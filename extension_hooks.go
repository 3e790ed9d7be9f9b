package dispatch

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-dispatch/executor"
)

// HandlerPack is a named set of executor handlers keyed by target, e.g.
// "flows/slack_notify". Hosts ship business flows as packs.
type HandlerPack struct {
	Name     string
	Handlers map[string]executor.Handler
}

type ExtensionHooks struct {
	mu    sync.RWMutex
	packs map[string]HandlerPack
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{packs: map[string]HandlerPack{}}
}

func (h *ExtensionHooks) RegisterHandlerPack(pack HandlerPack) error {
	if h == nil {
		return fmt.Errorf("dispatch: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("dispatch: handler pack name is required")
	}
	if len(pack.Handlers) == 0 {
		return fmt.Errorf("dispatch: handler pack %q has no handlers", name)
	}
	handlers := make(map[string]executor.Handler, len(pack.Handlers))
	for target, handler := range pack.Handlers {
		if handler == nil {
			return fmt.Errorf("dispatch: handler pack %q has nil handler for %q", name, target)
		}
		handlers[target] = handler
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.packs[name]; exists {
		return fmt.Errorf("dispatch: handler pack %q already registered", name)
	}
	h.packs[name] = HandlerPack{Name: name, Handlers: handlers}
	return nil
}

// ApplyHandlerPacks registers every pack in name order. A target claimed by
// two packs fails on the second registration.
func (h *ExtensionHooks) ApplyHandlerPacks(registry *executor.Registry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("dispatch: handler registry is required")
	}
	for _, pack := range h.HandlerPacks() {
		targets := make([]string, 0, len(pack.Handlers))
		for target := range pack.Handlers {
			targets = append(targets, target)
		}
		sort.Strings(targets)
		for _, target := range targets {
			if err := registry.Register(target, pack.Handlers[target]); err != nil {
				return fmt.Errorf("dispatch: handler pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) HandlerPacks() []HandlerPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.packs))
	for name := range h.packs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]HandlerPack, 0, len(names))
	for _, name := range names {
		pack := h.packs[name]
		handlers := make(map[string]executor.Handler, len(pack.Handlers))
		for target, handler := range pack.Handlers {
			handlers[target] = handler
		}
		out = append(out, HandlerPack{Name: pack.Name, Handlers: handlers})
	}
	return out
}
