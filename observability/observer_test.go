package observability_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tailored-agentic-units/mesh/observability"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		name  string
		level observability.Level
		want  string
	}{
		{name: "trace range", level: 1, want: "TRACE"},
		{name: "verbose maps to DEBUG", level: observability.LevelVerbose, want: "DEBUG"},
		{name: "info maps to INFO", level: observability.LevelInfo, want: "INFO"},
		{name: "warning maps to WARN", level: observability.LevelWarning, want: "WARN"},
		{name: "error maps to ERROR", level: observability.LevelError, want: "ERROR"},
		{name: "fatal range", level: 21, want: "FATAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func TestLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level observability.Level
		want  slog.Level
	}{
		{level: observability.LevelVerbose, want: slog.LevelDebug},
		{level: observability.LevelInfo, want: slog.LevelInfo},
		{level: observability.LevelWarning, want: slog.LevelWarn},
		{level: observability.LevelError, want: slog.LevelError},
	}

	for _, tt := range tests {
		if got := tt.level.SlogLevel(); got != tt.want {
			t.Errorf("Level(%d).SlogLevel() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestEmit_NilObserver(t *testing.T) {
	observability.Emit(context.Background(), nil, "test.event", observability.LevelInfo, "test", nil)
}

func TestEmit_StampsEvent(t *testing.T) {
	rec := observability.NewRecorder()
	before := time.Now()

	observability.Emit(context.Background(), rec, "hub.post", observability.LevelVerbose, "hub", map[string]any{"target": "app/1"})

	events := rec.Events()
	if len(events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(events))
	}
	if events[0].Timestamp.Before(before) {
		t.Errorf("Timestamp = %v, want after %v", events[0].Timestamp, before)
	}
	if events[0].Source != "hub" {
		t.Errorf("Source = %q, want %q", events[0].Source, "hub")
	}
	if rec.Count("hub.post") != 1 {
		t.Errorf("Count(hub.post) = %d, want 1", rec.Count("hub.post"))
	}
}

func TestMultiObserver_NilFiltering(t *testing.T) {
	rec1 := observability.NewRecorder()
	rec2 := observability.NewRecorder()

	multi := observability.NewMultiObserver(nil, rec1, nil, rec2)
	if multi.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", multi.Len())
	}

	multi.OnEvent(context.Background(), observability.Event{Type: "test.event", Level: observability.LevelInfo})

	if len(rec1.Events()) != 1 || len(rec2.Events()) != 1 {
		t.Errorf("events = (%d, %d), want (1, 1)", len(rec1.Events()), len(rec2.Events()))
	}
}

func TestSlogObserver_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     observability.Level
		minLevel  slog.Level
		expectLog bool
	}{
		{name: "verbose at debug handler", level: observability.LevelVerbose, minLevel: slog.LevelDebug, expectLog: true},
		{name: "verbose at info handler", level: observability.LevelVerbose, minLevel: slog.LevelInfo, expectLog: false},
		{name: "warning at warn handler", level: observability.LevelWarning, minLevel: slog.LevelWarn, expectLog: true},
		{name: "info at error handler", level: observability.LevelInfo, minLevel: slog.LevelError, expectLog: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: tt.minLevel}))

			observability.NewSlogObserver(logger).OnEvent(context.Background(), observability.Event{
				Type:   "test.event",
				Level:  tt.level,
				Source: "test",
			})

			if got := buf.Len() > 0; got != tt.expectLog {
				t.Errorf("log output = %v, want %v (buf: %q)", got, tt.expectLog, buf.String())
			}
		})
	}
}

func TestSlogObserver_Attributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	observability.NewSlogObserver(logger).OnEvent(context.Background(), observability.Event{
		Type:   "routing.activate",
		Level:  observability.LevelInfo,
		Source: "routing.Deliver",
		Data:   map[string]any{"address": "app/todo"},
	})

	output := buf.String()
	for _, want := range []string{"routing.activate", "source=routing.Deliver", "address=app/todo"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q: %s", want, output)
		}
	}
}

func TestRegistry_GetObserver(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{key: "noop"},
		{key: "slog"},
		{key: "nonexistent", wantErr: true},
	}

	for _, tt := range tests {
		obs, err := observability.GetObserver(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("GetObserver(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
		if !tt.wantErr && obs == nil {
			t.Errorf("GetObserver(%q) returned nil observer", tt.key)
		}
		if tt.wantErr && !errors.Is(err, observability.ErrUnknownObserver) {
			t.Errorf("GetObserver(%q) error = %v, want ErrUnknownObserver", tt.key, err)
		}
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	rec := observability.NewRecorder()
	observability.RegisterObserver("test-recorder", rec)

	obs, err := observability.GetObserver("test-recorder")
	if err != nil {
		t.Fatalf("GetObserver() error = %v", err)
	}
	obs.OnEvent(context.Background(), observability.Event{Type: "test.event"})

	if len(rec.Events()) != 1 {
		t.Errorf("received %d events, want 1", len(rec.Events()))
	}

	found := false
	for _, name := range observability.ObserverNames() {
		if name == "test-recorder" {
			found = true
		}
	}
	if !found {
		t.Errorf("ObserverNames() = %v, missing test-recorder", observability.ObserverNames())
	}
}

func TestMetricsObserver_CountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()

	obs, err := observability.NewMetricsObserver(reg, "mesh")
	if err != nil {
		t.Fatalf("NewMetricsObserver() error = %v", err)
	}

	for range 3 {
		obs.OnEvent(context.Background(), observability.Event{Type: "hub.post", Source: "hub", Level: observability.LevelVerbose})
	}

	got := testutil.ToFloat64(obs.Collector().WithLabelValues("hub.post", "hub", "DEBUG"))
	if got != 3 {
		t.Errorf("events_total = %v, want 3", got)
	}
}

func TestMetricsObserver_ReusesRegisteredCollector(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := observability.NewMetricsObserver(reg, "mesh")
	if err != nil {
		t.Fatalf("first NewMetricsObserver() error = %v", err)
	}
	second, err := observability.NewMetricsObserver(reg, "mesh")
	if err != nil {
		t.Fatalf("second NewMetricsObserver() error = %v", err)
	}

	first.OnEvent(context.Background(), observability.Event{Type: "a", Source: "s", Level: observability.LevelInfo})
	second.OnEvent(context.Background(), observability.Event{Type: "a", Source: "s", Level: observability.LevelInfo})

	if got := testutil.ToFloat64(first.Collector().WithLabelValues("a", "s", "INFO")); got != 2 {
		t.Errorf("shared events_total = %v, want 2", got)
	}
}
