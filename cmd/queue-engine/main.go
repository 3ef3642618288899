package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/queue-engine/internal/broker"
	"qms/queue-engine/internal/config"
	"qms/queue-engine/internal/engine"
	"qms/queue-engine/internal/events"
	"qms/queue-engine/internal/httpapi"
	"qms/queue-engine/internal/idempotency"
	"qms/queue-engine/internal/metrics"
	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/quota"
	"qms/queue-engine/internal/store"
	"qms/queue-engine/internal/store/memory"
	"qms/queue-engine/internal/store/postgres"
	"qms/queue-engine/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const serviceName = "queue-engine"

func main() {
	envFile := pflag.String("env-file", "", "dotenv file to load before reading the environment")
	port := pflag.String("port", "", "listen port, overrides PORT")
	pflag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load env file: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()
	if *port != "" {
		cfg.Port = *port
	}

	logger := newLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("queue-engine stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})).With("service", serviceName)
}

// backend bundles the storage the process runs on. Postgres when DB_DSN is
// set, otherwise everything stays in memory.
type backend struct {
	snapshots store.SnapshotStore
	journal   store.Journal
	commands  store.CommandStore
	redis     *redis.Client
	close     func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	var b backend
	var closers []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return backend{}, fmt.Errorf("db connect: %w", err)
		}
		closers = append(closers, pool.Close)
		pg := postgres.NewStore(pool)
		b.snapshots, b.journal, b.commands = pg, pg, pg
		logger.Info("using postgres store")
	} else {
		mem := memory.NewStore()
		b.snapshots, b.journal, b.commands = mem, mem, mem
		logger.Warn("DB_DSN not set, state is kept in memory only")
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			for _, closeFn := range closers {
				closeFn()
			}
			return backend{}, fmt.Errorf("redis ping: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		b.redis = client
		b.commands = idempotency.NewRedisStore(client, "queue-engine:cmd:")
		logger.Info("using redis for request deduplication", "addr", cfg.RedisAddr)
	}

	b.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return b, nil
}

type closableSink interface {
	events.Sink
	Close() error
}

// buildSinks returns the journal sink, the configured in-process sink and a
// sink per configured broker.
func buildSinks(cfg config.Config, journal store.Journal, redisClient *redis.Client, logger *slog.Logger) ([]events.Sink, func(), error) {
	sinks := []events.Sink{events.JournalSink{Journal: journal}}
	if cfg.EventSink != "journal" {
		sinks = append(sinks, events.NewSink(cfg.EventSink, journal, logger))
	}

	var closables []closableSink
	closeAll := func() {
		for _, sink := range closables {
			if err := sink.Close(); err != nil {
				logger.Warn("close sink", "sink", sink.Name(), "error", err)
			}
		}
	}

	if cfg.NATSURL != "" {
		sink, err := broker.DialNATS(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("nats connect: %w", err)
		}
		closables = append(closables, sink)
		sinks = append(sinks, sink)
	}
	if cfg.AMQPURL != "" {
		sink, err := broker.DialAMQP(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("amqp connect: %w", err)
		}
		closables = append(closables, sink)
		sinks = append(sinks, sink)
	}
	if redisClient != nil {
		sinks = append(sinks, broker.NewRedisSink(redisClient, ""))
	}
	return sinks, closeAll, nil
}

func defaultSettings(cfg config.Config) models.LocationSettings {
	return models.LocationSettings{
		Capacity:              cfg.QueueCapacity,
		AverageServiceMinutes: cfg.AvgServiceMinutes,
		AllowSwaps:            cfg.AllowSwaps,
		SwapLimit:             cfg.SwapDailyLimit,
	}
}

func newServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTelemetry := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	}, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collectorSet := metrics.New(registry)

	emitter := events.NewEmitter(cfg.EventBuffer, logger)
	collectorSet.WatchEmitter(emitter)
	tracker := quota.NewTracker(cfg.SwapDailyLimit, cfg.QuotaTimezone, nil)
	eng := engine.New(emitter, tracker, engine.Options{
		Defaults:    defaultSettings(cfg),
		Consent:     cfg.SwapConsent,
		ProposalTTL: cfg.SwapProposalTTL,
		Snapshots:   b.snapshots,
		Journal:     b.journal,
		Logger:      logger,
		Metrics:     collectorSet,
	})

	sinks, closeSinks, err := buildSinks(cfg, b.journal, b.redis, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	// Subscriptions are taken before any location activates so restored
	// and new events reach every sink.
	group, groupCtx := errgroup.WithContext(ctx)
	for i, sink := range sinks {
		instrumented := collectorSet.InstrumentSink(sink)
		if i == 0 {
			// The journal must see every sequence number.
			sub := emitter.SubscribeReliable(events.Filter{})
			group.Go(func() error {
				err := events.Forward(groupCtx, sub, instrumented, logger)
				emitter.Unsubscribe(sub)
				drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if derr := events.Forward(drainCtx, sub, instrumented, logger); derr != nil {
					logger.Error("drain journal backlog", "error", derr)
				}
				if err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
			continue
		}
		sub := emitter.Subscribe(events.Filter{})
		group.Go(func() error {
			defer emitter.Unsubscribe(sub)
			if err := events.Forward(groupCtx, sub, instrumented, logger); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	for _, locationID := range cfg.Locations {
		if _, err := eng.Activate(ctx, models.LocationSettings{LocationID: locationID}); err != nil {
			return fmt.Errorf("activate %s: %w", locationID, err)
		}
		logger.Info("location active", "location_id", locationID)
	}

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})
	handler := httpapi.NewHandler(eng, httpapi.Options{
		Guard:             idempotency.NewGuard(b.commands, cfg.IdempotencyTTL),
		Journal:           b.journal,
		AllowSwapsDefault: cfg.AllowSwaps,
		Logger:            logger,
	})

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/realtime/", httpapi.NewRealtimeHandler("/realtime", emitter, logger))

	server := newServer(cfg.Port, otelhttp.NewHandler(
		httpapi.LoggingMiddleware(logger, collectorSet, limiter.Middleware(mux)),
		serviceName,
	))

	group.Go(func() error {
		logger.Info("queue-engine listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		return engine.NewPersister(eng, cfg.PersistInterval, logger).Run(groupCtx)
	})
	group.Go(func() error {
		return engine.NewSweeper(eng, cfg.SweepInterval, cfg.CallGrace, logger).Run(groupCtx)
	})
	group.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				limiter.Prune()
			}
		}
	})

	return group.Wait()
}
