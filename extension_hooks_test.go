package dispatch

import (
	"context"
	"testing"

	"github.com/goliatone/go-dispatch/executor"
)

func noopHandler() executor.Handler {
	return executor.HandlerFunc(func(context.Context, executor.Request) (any, error) {
		return map[string]any{"ok": true}, nil
	})
}

func TestExtensionHooks_RegisterValidatesPacks(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterHandlerPack(HandlerPack{Name: " ", Handlers: map[string]executor.Handler{"a": noopHandler()}}); err == nil {
		t.Fatalf("expected empty name to fail")
	}
	if err := hooks.RegisterHandlerPack(HandlerPack{Name: "empty"}); err == nil {
		t.Fatalf("expected empty pack to fail")
	}
	if err := hooks.RegisterHandlerPack(HandlerPack{Name: "nil", Handlers: map[string]executor.Handler{"a": nil}}); err == nil {
		t.Fatalf("expected nil handler to fail")
	}
	if err := hooks.RegisterHandlerPack(HandlerPack{Name: "github", Handlers: map[string]executor.Handler{"flows/github_issue": noopHandler()}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := hooks.RegisterHandlerPack(HandlerPack{Name: "github", Handlers: map[string]executor.Handler{"flows/other": noopHandler()}}); err == nil {
		t.Fatalf("expected duplicate pack name to fail")
	}
}

func TestExtensionHooks_ApplyRegistersTargets(t *testing.T) {
	hooks := NewExtensionHooks()
	for _, pack := range []HandlerPack{
		{Name: "slack", Handlers: map[string]executor.Handler{"flows/slack_notify": noopHandler()}},
		{Name: "ai", Handlers: map[string]executor.Handler{"flows/openai_summarize": noopHandler()}},
	} {
		if err := hooks.RegisterHandlerPack(pack); err != nil {
			t.Fatalf("register %s: %v", pack.Name, err)
		}
	}
	packs := hooks.HandlerPacks()
	if len(packs) != 2 || packs[0].Name != "ai" || packs[1].Name != "slack" {
		t.Fatalf("expected packs in name order, got %#v", packs)
	}

	registry := executor.NewDefaultRegistry()
	if err := hooks.ApplyHandlerPacks(registry); err != nil {
		t.Fatalf("apply: %v", err)
	}
	for _, target := range []string{"flows/slack_notify", "flows/openai_summarize", "flows/webhook_echo"} {
		if !registry.Has(target) {
			t.Fatalf("expected %s registered, got %v", target, registry.Targets())
		}
	}
	if err := hooks.ApplyHandlerPacks(registry); err == nil {
		t.Fatalf("expected re-applying packs to conflict")
	}
}

func TestExtensionHooks_NilIsNoop(t *testing.T) {
	var hooks *ExtensionHooks
	if err := hooks.ApplyHandlerPacks(executor.NewRegistry()); err != nil {
		t.Fatalf("expected nil hooks to be a no-op, got %v", err)
	}
	if err := hooks.RegisterHandlerPack(HandlerPack{Name: "x"}); err == nil {
		t.Fatalf("expected nil hooks to reject registration")
	}
}
