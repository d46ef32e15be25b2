package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when the breaker is open and the call was not
// attempted. It unwraps to ErrUnavailable so callers keep one skip policy.
var ErrCircuitOpen = fmt.Errorf("%w: circuit open", ErrUnavailable)

// BreakerState is the current phase of a Breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls failure thresholds and recovery timing.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before tripping
	ResetTimeout     time.Duration // cool-down before a half-open probe
	HalfOpenMax      int           // probes allowed while half-open
}

// Breaker trips open after FailureThreshold consecutive transport failures
// and fails fast until ResetTimeout has elapsed, then allows probe requests.
// It is owned by the caller and passed in explicitly; there is no ambient
// availability state anywhere else in the engine.
type Breaker struct {
	cfg    BreakerConfig
	logger *zap.Logger

	mu           sync.Mutex
	state        BreakerState
	failures     int
	lastFailure  time.Time
	halfOpenUsed int
}

// NewBreaker creates a Breaker, filling in defaults for zero config values.
func NewBreaker(cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{cfg: cfg, logger: logger, state: StateClosed}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.halfOpenUsed = 0
		b.logger.Info("transit breaker half-open", zap.Duration("after", b.cfg.ResetTimeout))
		fallthrough
	case StateHalfOpen:
		if b.halfOpenUsed >= b.cfg.HalfOpenMax {
			return ErrCircuitOpen
		}
		b.halfOpenUsed++
	}
	return nil
}

// record updates breaker state after a call. Only transport failures
// (ErrUnavailable) count against the threshold: a rejected token means the
// service is up and answering.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil && errors.Is(err, ErrUnavailable) {
		b.failures++
		b.lastFailure = time.Now()
		switch b.state {
		case StateClosed:
			if b.failures >= b.cfg.FailureThreshold {
				b.state = StateOpen
				b.logger.Warn("transit breaker opened",
					zap.Int("consecutive_failures", b.failures))
			}
		case StateHalfOpen:
			b.state = StateOpen
			b.logger.Warn("transit breaker re-opened, probe failed")
		}
		return
	}
	if b.state != StateClosed {
		b.logger.Info("transit breaker closed, service recovered")
	}
	b.state = StateClosed
	b.failures = 0
	b.halfOpenUsed = 0
}

// BreakerResolver wraps a Resolver with a Breaker. While the breaker is
// open every call fails immediately with ErrCircuitOpen, which the rewrite
// passes treat like any other resolution failure: skip the span and log.
type BreakerResolver struct {
	inner   Resolver
	breaker *Breaker
}

// WithBreaker wraps inner so calls are gated by breaker.
func WithBreaker(inner Resolver, breaker *Breaker) *BreakerResolver {
	return &BreakerResolver{inner: inner, breaker: breaker}
}

// Encrypt calls the inner resolver if the breaker allows it.
func (r *BreakerResolver) Encrypt(ctx context.Context, plaintext string) (string, error) {
	if err := r.breaker.allow(); err != nil {
		return "", resolutionErr("encrypt", plaintext, err)
	}
	out, err := r.inner.Encrypt(ctx, plaintext)
	r.breaker.record(err)
	return out, err
}

// Decrypt calls the inner resolver if the breaker allows it.
func (r *BreakerResolver) Decrypt(ctx context.Context, token string) (string, error) {
	if err := r.breaker.allow(); err != nil {
		return "", resolutionErr("decrypt", token, err)
	}
	out, err := r.inner.Decrypt(ctx, token)
	r.breaker.record(err)
	return out, err
}
