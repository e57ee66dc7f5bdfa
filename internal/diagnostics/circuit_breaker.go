// Per-check circuit breaker. Repeatedly failing checks are tripped open and
// skipped for a cooldown period instead of being hammered on every run.
//
// Circuit states per key:
//   - closed: calls pass through, failures count toward the threshold
//   - open: calls are rejected immediately with CIRCUIT_BREAKER_OPEN
//   - half-open: cooldown elapsed, one probe call is allowed through
//
// State is never flipped by a background timer. The effective state is
// computed lazily from (stored state, last failure time, now) on every read,
// which avoids races between a timer firing and concurrent reads. A record
// for a key exists implicitly on first use: no record means closed with
// zero failures.
package diagnostics

import (
	"context"
	"sync"
	"time"

	"github.com/archivio/doctor/internal/logging"
)

// BreakerState is the effective circuit state for one key.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

const (
	// DefaultFailureThreshold trips the circuit after this many
	// consecutive failures.
	DefaultFailureThreshold = 3

	// DefaultResetTimeout is the cooldown before an open circuit allows
	// a probe call.
	DefaultResetTimeout = 30 * time.Second
)

// BreakerConfig tunes the per-key state machine.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// BreakerStats is a point-in-time snapshot of one key's record.
type BreakerStats struct {
	Failures    int          `json:"failures"`
	State       BreakerState `json:"state"`
	LastFailure time.Time    `json:"last_failure,omitempty"`
}

// breakerRecord stores the durable part of a key's state. Only closed and
// open are ever stored; half-open is derived from elapsed time.
type breakerRecord struct {
	open        bool
	failures    int
	lastFailure time.Time
}

// CircuitBreaker tracks failures per check key. It is safe for concurrent
// use; mutations are serialized per breaker instance.
type CircuitBreaker struct {
	cfg     BreakerConfig
	mu      sync.Mutex
	records map[string]*breakerRecord
	log     logging.Logger
}

// NewCircuitBreaker builds a breaker with defaults applied.
func NewCircuitBreaker(cfg BreakerConfig, log logging.Logger) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &CircuitBreaker{
		cfg:     cfg,
		records: make(map[string]*breakerRecord),
		log:     log,
	}
}

// record returns the existing record for key or an implicit closed one.
// Caller must hold the lock.
func (b *CircuitBreaker) record(key string) *breakerRecord {
	rec, ok := b.records[key]
	if !ok {
		rec = &breakerRecord{}
		b.records[key] = rec
	}
	return rec
}

// effectiveState derives the state visible to callers at time now.
func (b *CircuitBreaker) effectiveState(rec *breakerRecord, now time.Time) BreakerState {
	if !rec.open {
		return BreakerClosed
	}
	if now.Sub(rec.lastFailure) >= b.cfg.ResetTimeout {
		return BreakerHalfOpen
	}
	return BreakerOpen
}

// Execute wraps fn with circuit admission and a timeout race. An open
// circuit rejects immediately with CIRCUIT_BREAKER_OPEN and fn is not
// invoked. A call that does not settle within timeout fails with
// CHECK_TIMEOUT and records a failure; the underlying fn keeps running
// until it observes context cancellation. Success resets the key to closed
// with zero failures.
func (b *CircuitBreaker) Execute(ctx context.Context, key string, fn func(context.Context) error, timeout time.Duration) error {
	b.mu.Lock()
	rec := b.record(key)
	state := b.effectiveState(rec, time.Now())
	if state == BreakerOpen {
		last := rec.lastFailure
		b.mu.Unlock()
		return newCircuitOpenError(key, last)
	}
	b.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(cctx) }()

	select {
	case err := <-done:
		if err != nil {
			b.RecordFailure(key)
			return err
		}
		b.RecordSuccess(key)
		return nil
	case <-cctx.Done():
		b.RecordFailure(key)
		return newCheckTimeoutError(key, timeout)
	}
}

// RecordFailure counts a failure for key. Reaching the threshold while
// closed trips the circuit; any failure during half-open reopens it and
// refreshes the cooldown.
func (b *CircuitBreaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := b.record(key)
	now := time.Now()
	state := b.effectiveState(rec, now)

	rec.failures++
	switch state {
	case BreakerClosed:
		rec.lastFailure = now
		if rec.failures >= b.cfg.FailureThreshold {
			rec.open = true
			b.log.Warn("circuit breaker opened", logging.Fields{
				"key":      key,
				"failures": rec.failures,
			})
		}
	case BreakerHalfOpen, BreakerOpen:
		// Probe failed (or a straggler reported late): stay open and
		// restart the cooldown.
		rec.open = true
		rec.lastFailure = now
	}
}

// RecordSuccess closes the circuit for key and resets its failure count.
func (b *CircuitBreaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := b.record(key)
	if rec.open {
		b.log.Info("circuit breaker closed", logging.Fields{"key": key})
	}
	rec.open = false
	rec.failures = 0
	rec.lastFailure = time.Time{}
}

// State returns the effective state for key.
func (b *CircuitBreaker) State(key string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[key]
	if !ok {
		return BreakerClosed
	}
	return b.effectiveState(rec, time.Now())
}

// IsOpen reports whether calls for key would currently be rejected.
func (b *CircuitBreaker) IsOpen(key string) bool {
	return b.State(key) == BreakerOpen
}

// Stats returns a snapshot of the record for key.
func (b *CircuitBreaker) Stats(key string) BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[key]
	if !ok {
		return BreakerStats{State: BreakerClosed}
	}
	return BreakerStats{
		Failures:    rec.failures,
		State:       b.effectiveState(rec, time.Now()),
		LastFailure: rec.lastFailure,
	}
}

// Reset clears the record for key.
func (b *CircuitBreaker) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, key)
}

// ResetAll clears every record.
func (b *CircuitBreaker) ResetAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = make(map[string]*breakerRecord)
}
