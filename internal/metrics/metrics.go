package metrics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"qms/queue-engine/internal/events"
	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/store"

	"github.com/prometheus/client_golang/prometheus"
)

type Collectors struct {
	commands     *prometheus.CounterVec
	deliveries   *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	waiting      *prometheus.GaugeVec
	vacancies    *prometheus.GaugeVec
	persistFails prometheus.Counter
}

func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_engine_commands_total",
			Help: "Engine commands by operation and outcome.",
		}, []string{"operation", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_engine_sink_deliveries_total",
			Help: "Event deliveries to external sinks.",
		}, []string{"sink", "outcome"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_engine_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full.",
		}, []string{"type"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_engine_http_requests_total",
			Help: "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "queue_engine_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		waiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_engine_waiting_tokens",
			Help: "Waiting tokens per location.",
		}, []string{"location_id"}),
		vacancies: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_engine_open_vacancies",
			Help: "Unclaimed vacancies per location.",
		}, []string{"location_id"}),
		persistFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_engine_persist_failures_total",
			Help: "Failed snapshot flushes.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.commands, c.deliveries, c.dropped, c.requests, c.latency, c.waiting, c.vacancies, c.persistFails)
	}
	return c
}

// Outcome names the error category of err for metric labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrValidation):
		return "validation"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, store.ErrStateConflict):
		return "conflict"
	default:
		return "error"
	}
}

func (c *Collectors) RecordCommand(operation string, err error) {
	if c == nil {
		return
	}
	c.commands.WithLabelValues(operation, Outcome(err)).Inc()
}

func (c *Collectors) ObserveLocation(locationID string, waiting, vacancies int) {
	if c == nil {
		return
	}
	c.waiting.WithLabelValues(locationID).Set(float64(waiting))
	c.vacancies.WithLabelValues(locationID).Set(float64(vacancies))
}

func (c *Collectors) ForgetLocation(locationID string) {
	if c == nil {
		return
	}
	c.waiting.DeleteLabelValues(locationID)
	c.vacancies.DeleteLabelValues(locationID)
}

func (c *Collectors) ObserveHTTP(method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.latency.WithLabelValues(method).Observe(duration.Seconds())
}

func (c *Collectors) PersistFailed() {
	if c == nil {
		return
	}
	c.persistFails.Inc()
}

// WatchEmitter counts dropped deliveries by event type.
func (c *Collectors) WatchEmitter(emitter *events.Emitter) {
	if c == nil {
		return
	}
	emitter.OnDrop(func(eventType string) {
		c.dropped.WithLabelValues(eventType).Inc()
	})
}

// InstrumentSink counts deliveries through sink.
func (c *Collectors) InstrumentSink(sink events.Sink) events.Sink {
	if c == nil {
		return sink
	}
	return instrumentedSink{Sink: sink, deliveries: c.deliveries}
}

type instrumentedSink struct {
	events.Sink
	deliveries *prometheus.CounterVec
}

func (s instrumentedSink) Deliver(ctx context.Context, event models.Event) error {
	err := s.Sink.Deliver(ctx, event)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.deliveries.WithLabelValues(s.Sink.Name(), outcome).Inc()
	return err
}
