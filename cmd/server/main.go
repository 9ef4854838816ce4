// Package main is the entry point of the accafreeze engine: it runs the daily
// pipeline on a schedule and serves the results read-only over HTTP.
package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/accafreeze-engine/internal/accumulator"
	"github.com/yourorg/accafreeze-engine/internal/cache"
	"github.com/yourorg/accafreeze-engine/internal/circuitbreaker"
	"github.com/yourorg/accafreeze-engine/internal/config"
	"github.com/yourorg/accafreeze-engine/internal/evaluate"
	"github.com/yourorg/accafreeze-engine/internal/export"
	"github.com/yourorg/accafreeze-engine/internal/fetch"
	"github.com/yourorg/accafreeze-engine/internal/goalmodel"
	"github.com/yourorg/accafreeze-engine/internal/ledger"
	"github.com/yourorg/accafreeze-engine/internal/metrics"
	"github.com/yourorg/accafreeze-engine/internal/odds"
	"github.com/yourorg/accafreeze-engine/internal/otel"
	"github.com/yourorg/accafreeze-engine/internal/pipeline"
	"github.com/yourorg/accafreeze-engine/internal/security"
	"github.com/yourorg/accafreeze-engine/internal/storage"
	"github.com/yourorg/accafreeze-engine/internal/validation"
)

// main is the entry point for the application
func main() {
	cfg := config.Load()
	setupLogging(cfg.LogFormat, cfg.LogLevel)

	shutdownTracer := otel.InitTracer(otel.Options{
		Endpoint:    cfg.OtelEndpoint,
		SampleRatio: cfg.OtelSampleRatio,
		Version:     version,
	})
	defer shutdownTracer()

	engineCfg, err := config.LoadEngine(cfg.ConfigFile)
	if err != nil {
		logrus.Fatalf("Invalid engine configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := buildDependencies(ctx, cfg, engineCfg)
	if err != nil {
		logrus.Fatalf("Failed to initialise: %v", err)
	}
	defer cleanup()

	server := NewServer(cfg, deps)

	sched, err := newScheduler(cfg.RunAt, deps.Engine)
	if err != nil {
		logrus.Fatalf("Invalid RUN_AT: %v", err)
	}
	go sched.Run(ctx, cfg.RunOnStartup)

	if err := server.Start(ctx); err != nil {
		logrus.Fatalf("Server failed: %v", err)
	}
}

// setupLogging configures the logging for the application
func setupLogging(format, level string) {
	switch strings.ToLower(format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch strings.ToLower(level) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

// buildDependencies wires storage, caches, the provider client and the
// pipeline. The returned cleanup releases connections and flushes exports.
func buildDependencies(ctx context.Context, cfg config.Config, engineCfg config.Engine) (Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	algo, err := security.ParseAlgorithm(cfg.ChecksumAlgorithm)
	if err != nil {
		return Dependencies{}, nil, err
	}

	var store storage.HistoryStore
	if cfg.DatabaseURL != "" {
		pg, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return Dependencies{}, nil, err
		}
		closers = append(closers, func() { pg.Close() })
		store = pg
	} else {
		logrus.Warn("DATABASE_URL not set, predictions are kept in memory only")
		store = storage.NewMemoryStore()
	}
	l := ledger.New(store, ledger.Options{Algorithm: algo, Metrics: m})

	var cacheStore cache.Store
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			cleanup()
			return Dependencies{}, nil, err
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			logrus.WithError(err).Warn("Redis unreachable, cache reads will miss until it recovers")
		}
		closers = append(closers, func() { client.Close() })
		cacheStore = cache.NewRedisStore(client, cfg.CacheRetention)
	} else {
		cacheStore = cache.NewMemoryStore()
	}

	httpProvider := fetch.NewHTTPProvider(fetch.Options{
		BaseURL:      cfg.ProviderURL,
		APIKey:       cfg.ProviderAPIKey,
		Timeout:      cfg.RequestTimeout,
		RateLimit:    cfg.ProviderRateLimit,
		Burst:        cfg.ProviderBurst,
		RetryMax:     3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 3 * time.Second,
		Breaker: circuitbreaker.Thresholds{
			MaxConsecutiveFailures: cfg.CircuitMaxFailures,
			MaxPrice:               cfg.CircuitMaxPrice,
		},
		ResetDelay: cfg.CircuitResetDelay,
		Metrics:    m,
	})
	for _, cb := range httpProvider.Breakers() {
		cb.WithTripCallback(func(name, reason string) {
			logrus.WithFields(logrus.Fields{
				"endpoint": name,
				"reason":   reason,
			}).Error("Provider circuit breaker tripped")
		})
	}
	provider := fetch.NewCachedProvider(httpProvider, fetch.Caches{
		Odds:      cache.New("odds", cacheStore, cache.WithMetrics(m)),
		Form:      cache.New("form", cacheStore, cache.WithMetrics(m)),
		Standings: cache.New("standings", cacheStore, cache.WithMetrics(m)),
	})

	evaluator := evaluate.New(
		goalmodel.New(engineCfg.GoalModel),
		odds.NewMatcher(engineCfg.MappingTable()),
		engineCfg.Evaluator,
	)
	risk := validation.NewBookmakerRiskAssessor(engineCfg.Risk.Blocklist, engineCfg.Risk.MaxExposureOdds)
	gate := validation.NewGate(engineCfg.Gate, risk)
	builder := accumulator.NewBuilder(engineCfg.Accumulator)

	exporter, closeSinks, err := buildExporter(cfg, m)
	if err != nil {
		cleanup()
		return Dependencies{}, nil, err
	}
	closers = append(closers, closeSinks)
	exporter.Start()
	closers = append(closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := exporter.Stop(ctx); err != nil {
			logrus.WithError(err).Warn("Final signal export failed")
		}
	})

	popts := pipeline.DefaultOptions()
	popts.Workers = cfg.Workers
	popts.Metrics = m
	popts.Exporter = exporter
	engine := pipeline.New(provider, evaluator, gate, l, builder, popts)

	return Dependencies{
		Engine:   engine,
		Ledger:   l,
		Breakers: httpProvider.Breakers(),
		Exporter: exporter,
		Metrics:  m,
		Gatherer: reg,
	}, cleanup, nil
}

// buildExporter creates the signal exporter with the configured sinks. The
// returned func closes the broker connection.
func buildExporter(cfg config.Config, m *metrics.Metrics) (*export.Exporter, func(), error) {
	closeSinks := func() {}

	var sinks []export.Sink
	if cfg.WebhookURL != "" {
		sinks = append(sinks, export.NewWebhookSink(cfg.WebhookURL, cfg.WebhookAPIKey, cfg.RequestTimeout))
	}
	if cfg.AMQPURL != "" {
		sink, err := export.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			logrus.WithError(err).Warn("AMQP sink disabled")
		} else {
			sinks = append(sinks, sink)
			closeSinks = func() {
				if err := sink.Close(); err != nil {
					logrus.WithError(err).Warn("Failed to close AMQP sink")
				}
			}
		}
	}

	var signer *security.Signer
	if cfg.SigningKey != "" {
		s, err := security.NewSigner(cfg.SigningKey)
		if err != nil {
			closeSinks()
			return nil, nil, err
		}
		signer = s
		logrus.WithField("signer", s.Address()).Info("Signal batches will be signed")
	}

	return export.NewExporter(export.Options{
		BatchSize: cfg.ExportBatchSize,
		Interval:  cfg.ExportInterval,
		Signer:    signer,
		Metrics:   m,
	}, sinks...), closeSinks, nil
}
