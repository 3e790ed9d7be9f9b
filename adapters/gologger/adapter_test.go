package gologger

import (
	"context"
	"testing"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

func TestResolve_ProviderTakesPrecedence(t *testing.T) {
	loggerOnly := &capturingLogger{id: "logger"}
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	logging := Resolve("dispatch", provider, loggerOnly)
	if got := logging.Logger.(*capturingLogger); got.id != "provider" {
		t.Fatalf("expected provider logger precedence, got %q", got.id)
	}

	logging = Resolve("dispatch", nil, loggerOnly)
	if got := logging.Logger.(*capturingLogger); got.id != "logger" {
		t.Fatalf("expected direct logger when provider is nil, got %q", got.id)
	}
	if logging.Provider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	logging = Resolve(" ", nil, nil)
	if logging.Logger == nil || logging.Name != "dispatch" {
		t.Fatalf("expected nop fallback with default name, got %#v", logging)
	}
}

func TestResolve_BridgesGoJob(t *testing.T) {
	providerLogger := &capturingLogger{id: "provider"}
	logging := Resolve("dispatch", &capturingProvider{logger: providerLogger}, nil)
	if logging.Job == nil || logging.JobLogger == nil {
		t.Fatalf("expected go-job bridges")
	}

	logging.Job.GetLogger("dispatch.worker").Info("hello", "k", "v")
	if providerLogger.lastInfo.msg != "hello" {
		t.Fatalf("expected bridged message, got %q", providerLogger.lastInfo.msg)
	}
	if providerLogger.lastInfo.args[0] != "k" || providerLogger.lastInfo.args[1] != "v" {
		t.Fatalf("expected bridged args, got %#v", providerLogger.lastInfo.args)
	}
}

func TestLogging_NamedAndObserver(t *testing.T) {
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}
	logging := Resolve("dispatch", provider, nil)

	logging.Named("consumer")
	if provider.lastName != "dispatch.consumer" {
		t.Fatalf("expected component logger name, got %q", provider.lastName)
	}

	observer := logging.Observer("replay", nil)
	observer.Observe(context.Background(), time.Now(), "replay.retry", nil, map[string]any{"trace_id": "t1"})
	if providerLogger.lastInfo.msg != "replay.retry succeeded" {
		t.Fatalf("expected observer log, got %q", providerLogger.lastInfo.msg)
	}
}

var (
	_ glog.Logger         = (*capturingLogger)(nil)
	_ glog.LoggerProvider = (*capturingProvider)(nil)
)

type capturingProvider struct {
	logger   *capturingLogger
	lastName string
}

func (p *capturingProvider) GetLogger(name string) glog.Logger {
	p.lastName = name
	if p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type infoCall struct {
	msg  string
	args []any
}

type capturingLogger struct {
	id       string
	lastInfo infoCall
}

func (l *capturingLogger) Trace(string, ...any) {}
func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Info(msg string, args ...any) {
	l.lastInfo = infoCall{msg: msg, args: append([]any(nil), args...)}
}
func (l *capturingLogger) Warn(string, ...any)  {}
func (l *capturingLogger) Error(string, ...any) {}
func (l *capturingLogger) Fatal(string, ...any) {}
func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}
