package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"qms/queue-engine/internal/config"
	"qms/queue-engine/internal/events"
	"qms/queue-engine/internal/store/memory"
)

func TestBuildSinks(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	journal := memory.NewStore()
	tests := []struct {
		name  string
		kind  string
		names []string
	}{
		{"log", "log", []string{"journal", "log"}},
		{"noop", "noop", []string{"journal", "noop"}},
		{"journal only", "journal", []string{"journal"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sinks, closeAll, err := buildSinks(config.Config{EventSink: tc.kind}, journal, nil, logger)
			if err != nil {
				t.Fatalf("build sinks: %v", err)
			}
			defer closeAll()
			if len(sinks) != len(tc.names) {
				t.Fatalf("expected %d sinks, got %d", len(tc.names), len(sinks))
			}
			for i, sink := range sinks {
				if sink.Name() != tc.names[i] {
					t.Fatalf("sink %d: expected %s, got %s", i, tc.names[i], sink.Name())
				}
			}
		})
	}
}

func TestOpenBackendInMemory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b, err := openBackend(context.Background(), config.Config{}, logger)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	defer b.close()
	if _, ok := b.snapshots.(*memory.Store); !ok {
		t.Fatalf("expected memory snapshots, got %T", b.snapshots)
	}
	if b.redis != nil {
		t.Fatalf("expected no redis client")
	}
	var _ events.Sink = events.JournalSink{Journal: b.journal}
}

func TestDefaultSettings(t *testing.T) {
	cfg := config.Config{QueueCapacity: 40, AvgServiceMinutes: 7, AllowSwaps: true, SwapDailyLimit: 3}
	settings := defaultSettings(cfg)
	if settings.Capacity != 40 || settings.AverageServiceMinutes != 7 || !settings.AllowSwaps || settings.SwapLimit != 3 {
		t.Fatalf("unexpected settings: %+v", settings)
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("shown", "location_id", "clinic")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "shown" || entry["service"] != serviceName || entry["location_id"] != "clinic" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}
