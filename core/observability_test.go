package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func TestObserver_RecordsSuccessMetricsAndLog(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	observer := NewObserver("dispatch", nil, logger, metrics)

	observer.Observe(context.Background(), time.Now().Add(-5*time.Millisecond), "Ingress Admit", nil, map[string]any{
		"route_path":   "webhook_echo",
		"workspace_id": "default",
	})

	if len(metrics.counters) != 1 || metrics.counters[0].name != "dispatch.ingress_admit.total" {
		t.Fatalf("expected ingress_admit counter, got %#v", metrics.counters)
	}
	if metrics.counters[0].tags["status"] != "success" || metrics.counters[0].tags["route_path"] != "webhook_echo" {
		t.Fatalf("unexpected counter tags: %#v", metrics.counters[0].tags)
	}
	if len(metrics.histograms) != 1 || metrics.histograms[0].name != "dispatch.ingress_admit.duration_ms" {
		t.Fatalf("expected duration histogram, got %#v", metrics.histograms)
	}
	logs := logger.snapshot()
	if len(logs) != 1 || logs[0].level != "info" || logs[0].msg != "ingress_admit succeeded" {
		t.Fatalf("unexpected logs: %#v", logs)
	}
	if logs[0].fields["event_type"] != "ingress_admit" {
		t.Fatalf("expected event_type field, got %#v", logs[0].fields)
	}
}

func TestObserver_FailureUsesErrorTextWithoutCategoryPrefix(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	observer := NewObserver("dispatch", nil, logger, metrics)

	richErr := NewHandlerError("", 0, "OPENAI_API_KEY is required", nil)
	observer.Observe(context.Background(), time.Now(), "consumer.handle", richErr, nil)

	logs := logger.snapshot()
	if len(logs) != 1 || logs[0].level != "error" {
		t.Fatalf("expected one error log, got %#v", logs)
	}
	if logs[0].fields["error"] != "OPENAI_API_KEY is required" {
		t.Fatalf("expected plain error text, got %#v", logs[0].fields["error"])
	}
	if metrics.counters[0].tags["status"] != "failure" {
		t.Fatalf("expected failure tag, got %#v", metrics.counters[0].tags)
	}
}

func TestObserver_ZeroValueIsSafe(t *testing.T) {
	var observer Observer
	observer.Observe(context.Background(), time.Now(), "noop", errors.New("boom"), nil)
	observer.Info(context.Background(), "hello", nil)
}
