package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"qms/queue-engine/internal/events"
	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestOutcome(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{store.ErrReasonRequired, "validation"},
		{store.ErrNoSuchVacancy, "not_found"},
		{store.ErrQuotaExceeded, "quota"},
		{store.ErrVacancyAlreadyClaimed, "conflict"},
		{fmt.Errorf("save snapshot: %w", errors.New("disk")), "error"},
	}
	for _, tt := range cases {
		if got := Outcome(tt.err); got != tt.want {
			t.Fatalf("Outcome(%v)=%s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestRecordCommand(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.RecordCommand("perform_swap", nil)
	c.RecordCommand("perform_swap", store.ErrQuotaExceeded)
	c.RecordCommand("perform_swap", store.ErrQuotaExceeded)

	if got := counterValue(t, c.commands.WithLabelValues("perform_swap", "quota")); got != 2 {
		t.Fatalf("expected 2 quota outcomes, got %v", got)
	}
	if got := counterValue(t, c.commands.WithLabelValues("perform_swap", "ok")); got != 1 {
		t.Fatalf("expected 1 ok outcome, got %v", got)
	}
}

func TestNilCollectorsAreSafe(t *testing.T) {
	var c *Collectors
	c.RecordCommand("enqueue", nil)
	c.ObserveLocation("loc-1", 3, 1)
	c.PersistFailed()
	sink := c.InstrumentSink(events.NoopSink{})
	if _, ok := sink.(events.NoopSink); !ok {
		t.Fatalf("expected sink returned unchanged")
	}
}

type failingSink struct{}

func (failingSink) Name() string { return "broken" }

func (failingSink) Deliver(ctx context.Context, event models.Event) error {
	return errors.New("down")
}

func TestInstrumentSinkAndEmitterDrops(t *testing.T) {
	c := New(prometheus.NewRegistry())
	sink := c.InstrumentSink(failingSink{})
	if err := sink.Deliver(context.Background(), models.Event{Type: models.EventTokenIssued}); err == nil {
		t.Fatalf("expected error passed through")
	}
	if got := counterValue(t, c.deliveries.WithLabelValues("broken", "error")); got != 1 {
		t.Fatalf("expected 1 failed delivery, got %v", got)
	}

	emitter := events.NewEmitter(1, nil)
	c.WatchEmitter(emitter)
	emitter.Subscribe(events.Filter{})
	emitter.Publish([]models.Event{{Type: models.EventTokenIssued}, {Type: models.EventServeAdvanced}})
	if got := counterValue(t, c.dropped.WithLabelValues(models.EventServeAdvanced)); got != 1 {
		t.Fatalf("expected 1 drop recorded, got %v", got)
	}
}
