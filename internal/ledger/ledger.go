// Package ledger is the tamper-evident record of published predictions:
// one idempotent publication per fixture, a write-once freeze and checksum
// verification.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/accafreeze-engine/internal/markets"
	"github.com/yourorg/accafreeze-engine/internal/metrics"
	"github.com/yourorg/accafreeze-engine/internal/model"
	"github.com/yourorg/accafreeze-engine/internal/security"
	"github.com/yourorg/accafreeze-engine/internal/storage"
)

// ErrNotPublished is returned for fixtures without a published prediction
var ErrNotPublished = errors.New("no prediction published for fixture")

// ErrInvalidSettlement wraps settlement input the ledger cannot grade
var ErrInvalidSettlement = errors.New("invalid settlement")

const lockStripes = 64

// Options configures the ledger
type Options struct {
	Algorithm security.Algorithm
	Metrics   *metrics.Metrics

	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

// Ledger serializes writes per fixture id and relies on the store's
// conditional writes for cross-process safety.
type Ledger struct {
	store   storage.HistoryStore
	algo    security.Algorithm
	metrics *metrics.Metrics
	now     func() time.Time
	locks   [lockStripes]sync.Mutex
}

// New creates a ledger on top of store
func New(store storage.HistoryStore, opts Options) *Ledger {
	if opts.Algorithm == "" {
		opts.Algorithm = security.DefaultAlgorithm
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{
		store:   store,
		algo:    opts.Algorithm,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

func (l *Ledger) lock(fixtureID string) func() {
	h := fnv.New32a()
	h.Write([]byte(fixtureID))
	mu := &l.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Publish records m as the prediction of fixtureID. If a prediction already
// exists it is returned unchanged with created=false.
func (l *Ledger) Publish(ctx context.Context, fixtureID string, m model.EvaluatedMarket) (model.PublishedPrediction, bool, error) {
	if fixtureID == "" {
		return model.PublishedPrediction{}, false, fmt.Errorf("fixture id is required")
	}
	if !m.Priced {
		return model.PublishedPrediction{}, false, fmt.Errorf("cannot publish unpriced market %s for fixture %s", m.MarketID, fixtureID)
	}

	unlock := l.lock(fixtureID)
	defer unlock()

	existing, err := l.store.Get(ctx, fixtureID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return model.PublishedPrediction{}, false, fmt.Errorf("failed to check existing prediction: %w", err)
	}

	p := model.PublishedPrediction{
		FixtureID:   fixtureID,
		LambdaHome:  m.Lambdas.Home,
		LambdaAway:  m.Lambdas.Away,
		MarketID:    m.MarketID,
		Probability: m.Probability,
		Odds:        m.Odds,
		EVAdjusted:  m.EVAdjusted,
		Confidence:  m.Confidence,
		PublishedAt: l.now().UTC().Truncate(time.Second),
	}
	p.Checksum, err = security.Checksum(security.FieldsOf(p), l.algo)
	if err != nil {
		return model.PublishedPrediction{}, false, fmt.Errorf("failed to compute checksum: %w", err)
	}

	stored, created, err := l.store.PutIfAbsent(ctx, p)
	if err != nil {
		return model.PublishedPrediction{}, false, fmt.Errorf("failed to store prediction: %w", err)
	}
	if created {
		l.metrics.Published()
		logrus.WithFields(logrus.Fields{
			"fixture":  fixtureID,
			"market":   p.MarketID,
			"odds":     p.Odds,
			"checksum": p.Checksum,
		}).Info("Prediction published")
	}
	return stored, created, nil
}

// Freeze writes the result of a published prediction exactly once. Later
// calls return the frozen record unchanged.
func (l *Ledger) Freeze(ctx context.Context, fixtureID, result string, profitLoss float64) (model.PublishedPrediction, error) {
	switch result {
	case model.ResultWon, model.ResultLost, model.ResultVoid:
	default:
		return model.PublishedPrediction{}, fmt.Errorf("invalid result %q", result)
	}

	unlock := l.lock(fixtureID)
	defer unlock()

	stored, updated, err := l.store.UpdateFreeze(ctx, fixtureID, result, profitLoss, l.now())
	if errors.Is(err, storage.ErrNotFound) {
		return model.PublishedPrediction{}, fmt.Errorf("%w: %s", ErrNotPublished, fixtureID)
	}
	if err != nil {
		return model.PublishedPrediction{}, fmt.Errorf("failed to freeze prediction: %w", err)
	}

	if updated {
		l.metrics.Settled(result)
		logrus.WithFields(logrus.Fields{
			"fixture":     fixtureID,
			"result":      result,
			"profit_loss": profitLoss,
		}).Info("Prediction frozen")
	} else {
		logrus.WithField("fixture", fixtureID).Debug("Prediction already frozen")
	}
	return stored, nil
}

// Settle grades the published market against the final score, computes the
// profit or loss for stake and freezes the record.
func (l *Ledger) Settle(ctx context.Context, fixtureID string, homeGoals, awayGoals int, stake float64) (model.PublishedPrediction, error) {
	if stake < 0 {
		return model.PublishedPrediction{}, fmt.Errorf("%w: stake must not be negative", ErrInvalidSettlement)
	}

	p, err := l.Get(ctx, fixtureID)
	if err != nil {
		return model.PublishedPrediction{}, err
	}
	if p.IsFrozen {
		return p, nil
	}

	won, err := markets.Grade(p.MarketID, homeGoals, awayGoals)
	if err != nil {
		return model.PublishedPrediction{}, fmt.Errorf("%w: fixture %s: %v", ErrInvalidSettlement, fixtureID, err)
	}

	result, pl := model.ResultLost, ProfitLoss(false, p.Odds, stake)
	if won {
		result, pl = model.ResultWon, ProfitLoss(true, p.Odds, stake)
	}
	return l.Freeze(ctx, fixtureID, result, pl)
}

// ProfitLoss returns stake*(odds-1) for a win and -stake for a loss, rounded
// to two decimal places.
func ProfitLoss(won bool, odds, stake float64) float64 {
	s := decimal.NewFromFloat(stake)
	if !won {
		return s.Neg().Round(2).InexactFloat64()
	}
	return s.Mul(decimal.NewFromFloat(odds).Sub(decimal.NewFromInt(1))).Round(2).InexactFloat64()
}

// Get returns the prediction for a fixture
func (l *Ledger) Get(ctx context.Context, fixtureID string) (model.PublishedPrediction, error) {
	p, err := l.store.Get(ctx, fixtureID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.PublishedPrediction{}, fmt.Errorf("%w: %s", ErrNotPublished, fixtureID)
	}
	return p, err
}

// List returns every stored prediction
func (l *Ledger) List(ctx context.Context) ([]model.PublishedPrediction, error) {
	return l.store.List(ctx)
}

// Verify recomputes the checksum of a stored prediction. A mismatch is
// logged, counted and returned as *security.IntegrityError.
func (l *Ledger) Verify(ctx context.Context, fixtureID string) error {
	p, err := l.Get(ctx, fixtureID)
	if err != nil {
		return err
	}
	return l.verify(p)
}

// VerifyAll checks every stored prediction and returns the integrity errors
// found. The error return is reserved for store failures.
func (l *Ledger) VerifyAll(ctx context.Context) ([]error, error) {
	all, err := l.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}

	var violations []error
	for _, p := range all {
		if err := l.verify(p); err != nil {
			violations = append(violations, err)
		}
	}
	return violations, nil
}

func (l *Ledger) verify(p model.PublishedPrediction) error {
	err := security.Verify(p.Checksum, security.FieldsOf(p))
	if err == nil {
		return nil
	}

	var ie *security.IntegrityError
	if errors.As(err, &ie) {
		l.metrics.IntegrityViolation()
		logrus.WithFields(logrus.Fields{
			"fixture":  p.FixtureID,
			"stored":   ie.Stored,
			"computed": ie.Computed,
		}).Error("Integrity violation detected")
	}
	return err
}
