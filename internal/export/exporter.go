// Package export pushes published predictions and accumulators to external
// consumers in signed batches.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/accafreeze-engine/internal/metrics"
	"github.com/yourorg/accafreeze-engine/internal/model"
	"github.com/yourorg/accafreeze-engine/internal/security"
)

// Signal kinds
const (
	KindPrediction = "prediction"
	KindAcca       = "acca"
)

// Signal is one exported record
type Signal struct {
	Kind       string                     `json:"kind"`
	Prediction *model.PublishedPrediction `json:"prediction,omitempty"`
	Acca       *model.AccaFreeze          `json:"acca,omitempty"`
}

// PredictionSignal wraps a published prediction
func PredictionSignal(p model.PublishedPrediction) Signal {
	return Signal{Kind: KindPrediction, Prediction: &p}
}

// AccaSignal wraps an accumulator
func AccaSignal(a model.AccaFreeze) Signal {
	return Signal{Kind: KindAcca, Acca: &a}
}

// Batch is the unit delivered to a sink
type Batch struct {
	Signals    []Signal `json:"signals"`
	ExportTime string   `json:"export_time"`
	Count      int      `json:"count"`
}

// Envelope is an encoded batch with its optional signature
type Envelope struct {
	Body      []byte
	Signature *security.Signature
}

// Sink delivers envelopes to one destination
type Sink interface {
	Name() string
	Send(ctx context.Context, env Envelope) error
}

// Options configures the exporter
type Options struct {
	BatchSize int
	Interval  time.Duration
	Signer    *security.Signer
	Metrics   *metrics.Metrics
}

// Exporter buffers signals and flushes them to every sink when the batch is
// full, on every interval tick and on Stop.
type Exporter struct {
	opts  Options
	sinks []Sink

	mu         sync.Mutex
	batch      []Signal
	lastExport time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewExporter creates an exporter. With no sinks it only discards.
func NewExporter(opts Options, sinks ...Sink) *Exporter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Exporter{
		opts:  opts,
		sinks: sinks,
		batch: make([]Signal, 0, opts.BatchSize),
	}
}

// Start runs periodic flushing until Stop
func (e *Exporter) Start() {
	if e.opts.Interval <= 0 || e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := e.Flush(ctx); err != nil {
					logrus.WithError(err).Error("Periodic signal export failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	logrus.WithFields(logrus.Fields{
		"sinks":    len(e.sinks),
		"interval": e.opts.Interval,
	}).Info("Signal exporter started")
}

// Add queues signals. A full batch is flushed synchronously.
func (e *Exporter) Add(ctx context.Context, signals ...Signal) error {
	if len(e.sinks) == 0 || len(signals) == 0 {
		return nil
	}

	e.mu.Lock()
	e.batch = append(e.batch, signals...)
	full := len(e.batch) >= e.opts.BatchSize
	e.mu.Unlock()

	if full {
		return e.Flush(ctx)
	}
	return nil
}

// Flush sends the current batch to every sink. The batch is dropped even
// if some sinks fail; the returned error names them.
func (e *Exporter) Flush(ctx context.Context) error {
	e.mu.Lock()
	if len(e.batch) == 0 {
		e.mu.Unlock()
		return nil
	}
	signals := e.batch
	e.batch = make([]Signal, 0, e.opts.BatchSize)
	e.lastExport = time.Now()
	e.mu.Unlock()

	env, err := e.encode(signals)
	if err != nil {
		return err
	}

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		failed []string
	)
	for _, sink := range e.sinks {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()
			if err := sink.Send(ctx, env); err != nil {
				e.opts.Metrics.Export(sink.Name(), "error")
				logrus.WithFields(logrus.Fields{
					"sink":  sink.Name(),
					"error": err,
				}).Error("Failed to export signals")
				errMu.Lock()
				failed = append(failed, sink.Name())
				errMu.Unlock()
				return
			}
			e.opts.Metrics.Export(sink.Name(), "ok")
		}(sink)
	}
	wg.Wait()

	if len(failed) > 0 {
		return fmt.Errorf("export failed for sinks %v", failed)
	}
	logrus.WithField("count", len(signals)).Info("Exported signals")
	return nil
}

func (e *Exporter) encode(signals []Signal) (Envelope, error) {
	body, err := json.Marshal(Batch{
		Signals:    signals,
		ExportTime: time.Now().UTC().Format(time.RFC3339),
		Count:      len(signals),
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal signals: %w", err)
	}

	env := Envelope{Body: body}
	if e.opts.Signer != nil {
		sig, err := e.opts.Signer.Sign(body)
		if err != nil {
			return Envelope{}, err
		}
		env.Signature = &sig
	}
	return env, nil
}

// Stop ends periodic flushing and exports what is left
func (e *Exporter) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
		<-e.done
		e.cancel = nil
	}
	return e.Flush(ctx)
}

// Status reports the exporter state
func (e *Exporter) Status() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.sinks))
	for _, s := range e.sinks {
		names = append(names, s.Name())
	}
	status := map[string]interface{}{
		"sinks":         names,
		"batch_size":    e.opts.BatchSize,
		"interval":      e.opts.Interval.String(),
		"current_batch": len(e.batch),
		"signed":        e.opts.Signer != nil,
	}
	if !e.lastExport.IsZero() {
		status["last_export"] = e.lastExport.Format(time.RFC3339)
	}
	return status
}
