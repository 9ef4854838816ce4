// Package circuitbreaker protects the engine against a failing or corrupt
// upstream data feed.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/accafreeze-engine/internal/model"
)

// ErrOpen is returned while the circuit rejects calls
var ErrOpen = errors.New("circuit breaker open")

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, no new calls allowed
	StateHalfOpen              // Testing if the feed has recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Thresholds defines the limits that will trip the circuit breaker
type Thresholds struct {
	// Consecutive failed calls before the circuit opens
	MaxConsecutiveFailures int `json:"max_consecutive_failures" yaml:"max_consecutive_failures"`

	// Quotes priced above this are treated as corrupt feed data (0 disables)
	MaxPrice float64 `json:"max_price,omitempty" yaml:"max_price"`
}

// DefaultThresholds returns the default thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxConsecutiveFailures: 5,
		MaxPrice:               1000,
	}
}

// CircuitBreaker implements the circuit breaker pattern for one upstream
// endpoint.
type CircuitBreaker struct {
	name       string
	thresholds Thresholds

	state    State
	lastTrip time.Time
	reason   string

	// Duration before a half-open attempt
	resetDelay time.Duration

	mu sync.RWMutex

	failures         int
	successCount     int
	successThreshold int

	now            func() time.Time
	onTripCallback func(name, reason string)
}

// New creates a new CircuitBreaker with the provided thresholds
func New(name string, t Thresholds) *CircuitBreaker {
	if t.MaxConsecutiveFailures <= 0 {
		t.MaxConsecutiveFailures = 1
	}
	return &CircuitBreaker{
		name:             name,
		thresholds:       t,
		state:            StateClosed,
		resetDelay:       5 * time.Minute,
		successThreshold: 3,
		now:              time.Now,
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithSuccessThreshold sets the number of successful calls needed to close the circuit
func (cb *CircuitBreaker) WithSuccessThreshold(threshold int) *CircuitBreaker {
	cb.successThreshold = threshold
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(name, reason string)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// WithClock replaces time.Now
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a call may proceed. An open circuit moves to
// half-open once the reset delay has passed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	if cb.now().Sub(cb.lastTrip) > cb.resetDelay {
		cb.state = StateHalfOpen
		cb.successCount = 0
		logrus.WithField("breaker", cb.name).Info("Circuit breaker half-open: testing feed recovery")
		return nil
	}
	return fmt.Errorf("%w: %s (%s)", ErrOpen, cb.name, cb.reason)
}

// RecordSuccess registers a successful call
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.successCount = 0
			logrus.WithField("breaker", cb.name).Info("Circuit breaker closed: feed has recovered")
		}
	}
}

// RecordFailure registers a failed call. A failure while half-open trips the
// circuit again immediately.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.trip(fmt.Sprintf("failure while half-open: %v", err))
	case cb.state == StateClosed && cb.failures >= cb.thresholds.MaxConsecutiveFailures:
		cb.trip(fmt.Sprintf("%d consecutive failures, last: %v", cb.failures, err))
	}
}

// CheckQuotes trips the circuit when the feed returns implausible prices
func (cb *CircuitBreaker) CheckQuotes(quotes []model.OddsQuote) error {
	if cb.thresholds.MaxPrice <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	for _, q := range quotes {
		if q.Price > cb.thresholds.MaxPrice {
			reason := fmt.Sprintf("price exceeds maximum threshold: %s %s %.2f > %.2f",
				q.Bookmaker, q.Label, q.Price, cb.thresholds.MaxPrice)
			cb.trip(reason)
			return errors.New(reason)
		}
	}
	return nil
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// LastTrip returns the time and reason of the last trip
func (cb *CircuitBreaker) LastTrip() (time.Time, string) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.lastTrip, cb.reason
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successCount = 0
	logrus.WithField("breaker", cb.name).Info("Circuit breaker manually reset to closed state")
}

// Trip forcibly opens the circuit
func (cb *CircuitBreaker) Trip(reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trip(reason)
}

// trip sets the circuit breaker to open state; callers hold mu
func (cb *CircuitBreaker) trip(reason string) {
	cb.state = StateOpen
	cb.lastTrip = cb.now()
	cb.reason = reason
	cb.successCount = 0
	logrus.WithFields(logrus.Fields{
		"breaker": cb.name,
		"reason":  reason,
	}).Warn("Circuit breaker tripped")

	if cb.onTripCallback != nil {
		go cb.onTripCallback(cb.name, reason)
	}
}
