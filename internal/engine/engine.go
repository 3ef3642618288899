package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"qms/queue-engine/internal/events"
	"qms/queue-engine/internal/metrics"
	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/queue"
	"qms/queue-engine/internal/quota"
	"qms/queue-engine/internal/store"
	"qms/queue-engine/internal/swap"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
)

type Options struct {
	// Defaults fill zero fields of the settings passed to Activate.
	Defaults    models.LocationSettings
	Consent     string
	ProposalTTL time.Duration
	Now         func() time.Time
	NewID       func() string
	Snapshots   store.SnapshotStore
	// Journal, when set, is consulted on Activate so the sequence resumes
	// after the last journaled event.
	Journal store.Journal
	Logger  *slog.Logger
	Metrics *metrics.Collectors
}

type location struct {
	queue *queue.Store
	swaps *swap.Negotiator

	flushMu sync.Mutex
	flushed atomic.Uint64
}

// Engine owns every active location. Commands on different locations never
// contend; commands on one location are serialized by its queue store.
type Engine struct {
	mu        sync.RWMutex
	locations map[string]*location

	emitter   *events.Emitter
	tracker   *quota.Tracker
	snapshots store.SnapshotStore
	opts      Options
	logger    *slog.Logger
	metrics   *metrics.Collectors
	tracer    trace.Tracer
}

func New(emitter *events.Emitter, tracker *quota.Tracker, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		locations: make(map[string]*location),
		emitter:   emitter,
		tracker:   tracker,
		snapshots: opts.Snapshots,
		opts:      opts,
		logger:    logger,
		metrics:   opts.Metrics,
		tracer:    otel.Tracer("qms/queue-engine/engine"),
	}
}

func (e *Engine) Events() *events.Emitter {
	return e.emitter
}

// Activate brings a location online, restoring its last snapshot when one
// exists.
func (e *Engine) Activate(ctx context.Context, settings models.LocationSettings) (models.LocationView, error) {
	if settings.LocationID == "" {
		return models.LocationView{}, fmt.Errorf("%w: location id required", store.ErrValidation)
	}
	settings = e.withDefaults(settings)

	e.mu.RLock()
	_, exists := e.locations[settings.LocationID]
	e.mu.RUnlock()
	if exists {
		return models.LocationView{}, store.ErrLocationActive
	}

	var (
		snapshot store.Snapshot
		found    bool
	)
	if e.snapshots != nil {
		var err error
		snapshot, found, err = e.snapshots.LoadSnapshot(ctx, settings.LocationID)
		if err != nil {
			return models.LocationView{}, fmt.Errorf("load snapshot %s: %w", settings.LocationID, err)
		}
	}

	qopts := queue.Options{Now: e.opts.Now, NewID: e.opts.NewID, Publish: e.publish}
	if e.opts.Journal != nil {
		lastSeq, err := e.opts.Journal.LastSeq(ctx, settings.LocationID)
		if err != nil {
			return models.LocationView{}, fmt.Errorf("read journal head %s: %w", settings.LocationID, err)
		}
		qopts.MinSeq = lastSeq
	}
	var q *queue.Store
	if found {
		snapshot.Settings = settings
		q = queue.Restore(snapshot, qopts)
	} else {
		q = queue.New(settings, qopts)
	}
	loc := &location{
		queue: q,
		swaps: swap.New(q, e.tracker, swap.Options{Consent: e.opts.Consent, ProposalTTL: e.opts.ProposalTTL}),
	}
	loc.flushed.Store(q.Snapshot().Version())

	e.mu.Lock()
	if _, ok := e.locations[settings.LocationID]; ok {
		e.mu.Unlock()
		return models.LocationView{}, store.ErrLocationActive
	}
	e.locations[settings.LocationID] = loc
	e.mu.Unlock()

	snap := q.Snapshot()
	e.metrics.ObserveLocation(settings.LocationID, len(snap.Waiting()), len(snap.Vacancies()))
	e.logger.Info("location activated", "location_id", settings.LocationID, "restored", found, "waiting", len(snap.Waiting()))
	return locationView(snap), nil
}

// Deactivate flushes the location one last time and drops it.
func (e *Engine) Deactivate(ctx context.Context, locationID string) error {
	e.mu.Lock()
	loc, ok := e.locations[locationID]
	if ok {
		delete(e.locations, locationID)
	}
	e.mu.Unlock()
	if !ok {
		return store.ErrLocationNotFound
	}
	e.metrics.ForgetLocation(locationID)
	// Commands that found loc before it left the map fail from here on.
	loc.queue.Seal()
	if err := e.flush(ctx, loc); err != nil {
		return err
	}
	e.logger.Info("location deactivated", "location_id", locationID)
	return nil
}

// Locations lists every active location for discovery, ordered by id.
func (e *Engine) Locations() []models.LocationView {
	e.mu.RLock()
	out := make([]models.LocationView, 0, len(e.locations))
	for _, loc := range e.locations {
		out = append(out, locationView(loc.queue.Snapshot()))
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out
}

func (e *Engine) withDefaults(settings models.LocationSettings) models.LocationSettings {
	d := e.opts.Defaults
	if settings.Name == "" {
		settings.Name = settings.LocationID
	}
	if settings.Capacity <= 0 {
		settings.Capacity = d.Capacity
	}
	if settings.AverageServiceMinutes <= 0 {
		settings.AverageServiceMinutes = d.AverageServiceMinutes
	}
	if settings.AverageServiceMinutes <= 0 {
		settings.AverageServiceMinutes = 5
	}
	if settings.SwapLimit <= 0 {
		settings.SwapLimit = d.SwapLimit
	}
	if settings.SwapLimit <= 0 {
		settings.SwapLimit = e.tracker.Limit()
	}
	return settings
}

func (e *Engine) publish(batch []models.Event) {
	if e.emitter != nil {
		e.emitter.Publish(batch)
	}
}

func (e *Engine) location(locationID string) (*location, error) {
	e.mu.RLock()
	loc, ok := e.locations[locationID]
	e.mu.RUnlock()
	if !ok {
		return nil, store.ErrLocationNotFound
	}
	return loc, nil
}

func (e *Engine) each() []*location {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*location, 0, len(e.locations))
	for _, loc := range e.locations {
		out = append(out, loc)
	}
	return out
}

// command wraps one engine operation with tracing, metrics and logging.
func (e *Engine) command(ctx context.Context, op, locationID string, fn func(loc *location) error) error {
	_, span := e.tracer.Start(ctx, "engine."+op, trace.WithAttributes(attribute.String("location_id", locationID)))
	defer span.End()

	loc, err := e.location(locationID)
	if err == nil {
		err = fn(loc)
	}
	e.metrics.RecordCommand(op, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if metrics.Outcome(err) == "error" {
			e.logger.Error("command failed", "operation", op, "location_id", locationID, "error", err)
		} else {
			e.logger.Info("command rejected", "operation", op, "location_id", locationID, "outcome", metrics.Outcome(err), "error", err)
		}
		return err
	}
	snap := loc.queue.Snapshot()
	e.metrics.ObserveLocation(locationID, len(snap.Waiting()), len(snap.Vacancies()))
	e.logger.Debug("command applied", "operation", op, "location_id", locationID, "version", snap.Version())
	return nil
}

func locationView(snap queue.Snapshot) models.LocationView {
	settings := snap.Settings()
	cursor := snap.Cursor()
	waiting := snap.Waiting()
	view := models.LocationView{
		LocationID:            settings.LocationID,
		Name:                  settings.Name,
		ServingNumber:         cursor.ServingNumber,
		Waiting:               len(waiting),
		Crowd:                 models.CrowdLevel(len(waiting)),
		Paused:                cursor.Paused,
		Closed:                cursor.Closed,
		AverageServiceMinutes: settings.AverageServiceMinutes,
		Tokens:                waiting,
		Vacancies:             snap.Vacancies(),
	}
	if serving, ok := snap.Serving(); ok {
		view.Serving = &serving
	}
	if view.Tokens == nil {
		view.Tokens = []models.Token{}
	}
	if view.Vacancies == nil {
		view.Vacancies = []models.Vacancy{}
	}
	return view
}

func (e *Engine) tokenView(snap queue.Snapshot, tok models.Token) models.TokenView {
	settings := snap.Settings()
	view := models.TokenView{
		TokenID:       tok.TokenID,
		LocationID:    tok.LocationID,
		Number:        tok.Number,
		Status:        tok.Status,
		Position:      models.NoPosition,
		ServingNumber: snap.Cursor().ServingNumber,
		Quota:         e.tracker.Usage(snap, tok.OwnerID),
	}
	if tok.Status == models.StatusWaiting {
		view.Position = tok.Position
		view.PeopleAhead = tok.Position
		view.EstimatedWaitMinutes = tok.Position * settings.AverageServiceMinutes
	}
	return view
}
