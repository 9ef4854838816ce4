// Package pipeline runs the daily evaluation: fetch fixtures, evaluate every
// fixture in parallel, gate the markets, publish one prediction per fixture
// and build the accumulators.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/accafreeze-engine/internal/accumulator"
	"github.com/yourorg/accafreeze-engine/internal/evaluate"
	"github.com/yourorg/accafreeze-engine/internal/export"
	"github.com/yourorg/accafreeze-engine/internal/fetch"
	"github.com/yourorg/accafreeze-engine/internal/ledger"
	"github.com/yourorg/accafreeze-engine/internal/metrics"
	"github.com/yourorg/accafreeze-engine/internal/model"
	"github.com/yourorg/accafreeze-engine/internal/otel"
	"github.com/yourorg/accafreeze-engine/internal/validation"
)

// ErrRunning is returned when a run is requested while another is active
var ErrRunning = errors.New("pipeline run already in progress")

// DateLayout is the layout of Report.Date
const DateLayout = "2006-01-02"

// Failure stages
const (
	StageTeamStats = "team_stats"
	StageEvaluate  = "evaluate"
	StagePublish   = "publish"
)

// FixtureFailure records a fixture that could not be fully processed
type FixtureFailure struct {
	FixtureID string `json:"fixture_id"`
	Stage     string `json:"stage"`
	Error     string `json:"error"`
}

// Report is the output of one daily run
type Report struct {
	Date        string                      `json:"date"`
	GeneratedAt time.Time                   `json:"generated_at"`
	Fixtures    int                         `json:"fixtures"`
	Markets     []model.EvaluatedMarket     `json:"markets"`
	Published   []model.PublishedPrediction `json:"published"`
	Rejections  []validation.Rejection      `json:"rejections"`
	Accas       []model.AccaFreeze          `json:"accas"`
	Failures    []FixtureFailure            `json:"failures"`
}

// Options configures the engine
type Options struct {
	// Workers bounds the number of fixtures evaluated concurrently
	Workers int

	// FixtureTimeout bounds the upstream calls of one fixture
	FixtureTimeout time.Duration

	Metrics  *metrics.Metrics
	Exporter *export.Exporter
	Now      func() time.Time
}

// DefaultOptions returns the default engine options
func DefaultOptions() Options {
	return Options{
		Workers:        8,
		FixtureTimeout: 30 * time.Second,
		Now:            time.Now,
	}
}

// Engine wires the pipeline stages together
type Engine struct {
	provider  fetch.Provider
	evaluator *evaluate.Evaluator
	gate      *validation.Gate
	ledger    *ledger.Ledger
	builder   *accumulator.Builder
	opts      Options

	running atomic.Bool

	mu     sync.RWMutex
	latest *Report
}

// New creates an engine
func New(provider fetch.Provider, evaluator *evaluate.Evaluator, gate *validation.Gate, l *ledger.Ledger, builder *accumulator.Builder, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.FixtureTimeout <= 0 {
		opts.FixtureTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		provider:  provider,
		evaluator: evaluator,
		gate:      gate,
		ledger:    l,
		builder:   builder,
		opts:      opts,
	}
}

// Latest returns the report of the last successful run
func (e *Engine) Latest() (*Report, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest, e.latest != nil
}

// Running reports whether a run is in progress
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run evaluates every fixture of date. A failing fixture is recorded in
// Report.Failures and never aborts the run; only a failure to list the
// fixtures does.
func (e *Engine) Run(ctx context.Context, date time.Time) (*Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunning
	}
	defer e.running.Store(false)

	start := e.opts.Now()
	day := date.UTC().Format(DateLayout)

	ctx, span := otel.Tracer().Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("date", day)))
	defer span.End()

	log := logrus.WithField("date", day)
	log.Info("Pipeline run started")

	fixtures, err := e.provider.Fixtures(ctx, date)
	if err != nil {
		otel.RecordError(ctx, err)
		e.opts.Metrics.PipelineRun("error", time.Since(start).Seconds(), 0)
		return nil, fmt.Errorf("failed to list fixtures for %s: %w", day, err)
	}

	ranks := e.standings(ctx, fixtures)
	evals, failures := e.evaluateAll(ctx, fixtures, ranks)

	report := &Report{
		Date:     day,
		Fixtures: len(fixtures),
		Failures: failures,
	}
	for _, ev := range evals {
		for _, m := range ev.Markets {
			e.opts.Metrics.MarketEvaluated(m.Priced)
		}
		report.Markets = append(report.Markets, ev.Markets...)
	}

	approved, rejections := e.gate.Filter(ctx, report.Markets)
	report.Rejections = rejections
	for range approved {
		e.opts.Metrics.GateDecision(string(validation.StatePublished), "")
	}
	for _, r := range rejections {
		e.opts.Metrics.GateDecision(string(validation.StateRejected), r.Rule)
	}

	// Risk verdicts were written into report.Markets by Filter
	evaluate.Rank(report.Markets)
	evaluate.Rank(approved)

	var fresh []model.PublishedPrediction
	report.Published, fresh, report.Failures = e.publish(ctx, approved, report.Failures)

	legs := make([]*model.EvaluatedMarket, len(approved))
	for i := range approved {
		legs[i] = &approved[i]
	}
	report.Accas = e.builder.Build(legs)

	e.export(ctx, fresh, report.Accas)

	sort.SliceStable(report.Failures, func(i, j int) bool {
		return report.Failures[i].FixtureID < report.Failures[j].FixtureID
	})

	report.GeneratedAt = e.opts.Now().UTC()
	e.mu.Lock()
	e.latest = report
	e.mu.Unlock()

	status := "success"
	if len(report.Failures) > 0 {
		status = "partial"
	}
	e.opts.Metrics.PipelineRun(status, time.Since(start).Seconds(), len(report.Accas))
	span.SetAttributes(
		attribute.Int("fixtures", len(fixtures)),
		attribute.Int("published", len(report.Published)),
		attribute.Int("accas", len(report.Accas)),
		attribute.Int("failures", len(report.Failures)),
	)

	log.WithFields(logrus.Fields{
		"fixtures":  len(fixtures),
		"markets":   len(report.Markets),
		"approved":  len(approved),
		"published": len(report.Published),
		"accas":     len(report.Accas),
		"failures":  len(report.Failures),
		"duration":  time.Since(start).String(),
	}).Info("Pipeline run finished")

	return report, nil
}

// standings fetches the league table of every season once. A failing season
// leaves its teams unranked.
func (e *Engine) standings(ctx context.Context, fixtures []model.Fixture) map[string]map[string]int {
	out := make(map[string]map[string]int)
	for _, f := range fixtures {
		if f.SeasonID == "" {
			continue
		}
		if _, done := out[f.SeasonID]; done {
			continue
		}
		table, err := e.provider.Standings(ctx, f.SeasonID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"season": f.SeasonID,
				"error":  err,
			}).Warn("Standings unavailable, ranks unknown")
			table = nil
		}
		out[f.SeasonID] = table
	}
	return out
}

func (e *Engine) evaluateAll(ctx context.Context, fixtures []model.Fixture, ranks map[string]map[string]int) ([]evaluate.FixtureEvaluation, []FixtureFailure) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		evals    []evaluate.FixtureEvaluation
		failures []FixtureFailure
	)

	sem := make(chan struct{}, e.opts.Workers)
	for _, f := range fixtures {
		wg.Add(1)
		go func(f model.Fixture) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				failures = append(failures, FixtureFailure{FixtureID: f.ID, Stage: StageEvaluate, Error: ctx.Err().Error()})
				mu.Unlock()
				e.opts.Metrics.FixtureEvaluated("failed")
				return
			}
			defer func() { <-sem }()

			ev, failure := e.evaluateFixture(ctx, f, ranks[f.SeasonID])

			mu.Lock()
			defer mu.Unlock()
			if failure != nil {
				failures = append(failures, *failure)
				e.opts.Metrics.FixtureEvaluated("failed")
				return
			}
			evals = append(evals, ev)
			e.opts.Metrics.FixtureEvaluated("ok")
		}(f)
	}
	wg.Wait()

	sort.Slice(evals, func(i, j int) bool {
		return evals[i].FixtureID < evals[j].FixtureID
	})
	return evals, failures
}

// evaluateFixture fetches the inputs of one fixture and evaluates it. A panic
// is recovered and reported as the fixture's failure.
func (e *Engine) evaluateFixture(ctx context.Context, f model.Fixture, table map[string]int) (ev evaluate.FixtureEvaluation, failure *FixtureFailure) {
	ctx, span := otel.Tracer().Start(ctx, "pipeline.fixture", trace.WithAttributes(attribute.String("fixture", f.ID)))
	defer span.End()

	log := logrus.WithField("fixture", f.ID)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			otel.RecordError(ctx, err)
			log.WithFields(logrus.Fields{
				"error": err,
				"stack": string(debug.Stack()),
			}).Error("Fixture evaluation panicked")
			failure = &FixtureFailure{FixtureID: f.ID, Stage: StageEvaluate, Error: err.Error()}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.opts.FixtureTimeout)
	defer cancel()

	home, err := e.teamStats(ctx, f.HomeTeam, f.SeasonID)
	if err != nil {
		otel.RecordError(ctx, err)
		return ev, &FixtureFailure{FixtureID: f.ID, Stage: StageTeamStats, Error: err.Error()}
	}
	away, err := e.teamStats(ctx, f.AwayTeam, f.SeasonID)
	if err != nil {
		otel.RecordError(ctx, err)
		return ev, &FixtureFailure{FixtureID: f.ID, Stage: StageTeamStats, Error: err.Error()}
	}

	quotes, err := e.provider.Odds(ctx, f.ID)
	if err != nil {
		// No price available; markets are still evaluated and shown unpriced
		log.WithError(err).Warn("Odds unavailable, fixture degraded")
		quotes = nil
	}

	ev = e.evaluator.EvaluateFixture(evaluate.FixtureInput{
		Fixture:  f,
		Home:     home,
		Away:     away,
		HomeRank: table[f.HomeTeam],
		AwayRank: table[f.AwayTeam],
		Quotes:   quotes,
	})
	span.SetAttributes(
		attribute.Float64("lambda_home", ev.Lambdas.Home),
		attribute.Float64("lambda_away", ev.Lambdas.Away),
	)
	return ev, nil
}

// teamStats treats a team the provider has no statistics for as unknown so
// the goal model falls back to its defaults.
func (e *Engine) teamStats(ctx context.Context, teamID, seasonID string) (model.TeamStats, error) {
	stats, err := e.provider.TeamStats(ctx, teamID, seasonID)
	if errors.Is(err, fetch.ErrNotFound) {
		logrus.WithFields(logrus.Fields{
			"team":   teamID,
			"season": seasonID,
		}).Warn("Team statistics unavailable, using defaults")
		return model.TeamStats{TeamID: teamID}, nil
	}
	if err != nil {
		return model.TeamStats{}, fmt.Errorf("team %s: %w", teamID, err)
	}
	return stats, nil
}

// publish writes the best approved market of each fixture to the ledger.
// approved must already be ranked. It returns every prediction of the run,
// those newly created, and the failures extended with publish errors.
func (e *Engine) publish(ctx context.Context, approved []model.EvaluatedMarket, failures []FixtureFailure) ([]model.PublishedPrediction, []model.PublishedPrediction, []FixtureFailure) {
	var all, fresh []model.PublishedPrediction
	seen := make(map[string]bool)

	for _, m := range approved {
		if seen[m.FixtureID] {
			continue
		}
		seen[m.FixtureID] = true

		p, created, err := e.ledger.Publish(ctx, m.FixtureID, m)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"fixture": m.FixtureID,
				"market":  m.MarketID,
				"error":   err,
			}).Error("Failed to publish prediction")
			failures = append(failures, FixtureFailure{FixtureID: m.FixtureID, Stage: StagePublish, Error: err.Error()})
			continue
		}
		all = append(all, p)
		if created {
			fresh = append(fresh, p)
		}
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].FixtureID < all[j].FixtureID
	})
	return all, fresh, failures
}

func (e *Engine) export(ctx context.Context, fresh []model.PublishedPrediction, accas []model.AccaFreeze) {
	if e.opts.Exporter == nil || (len(fresh) == 0 && len(accas) == 0) {
		return
	}

	signals := make([]export.Signal, 0, len(fresh)+len(accas))
	for _, p := range fresh {
		signals = append(signals, export.PredictionSignal(p))
	}
	for _, a := range accas {
		signals = append(signals, export.AccaSignal(a))
	}
	if err := e.opts.Exporter.Add(ctx, signals...); err != nil {
		logrus.WithError(err).Warn("Signal export failed")
	}
}
