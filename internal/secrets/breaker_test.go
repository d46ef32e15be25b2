package secrets

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// flakyResolver fails with the configured error until healed.
type flakyResolver struct {
	err   error
	calls int
}

func (f *flakyResolver) Encrypt(_ context.Context, plaintext string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "vault:" + plaintext, nil
}

func (f *flakyResolver) Decrypt(_ context.Context, token string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return token, nil
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	inner := &flakyResolver{err: fmt.Errorf("%w: connection refused", ErrUnavailable)}
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute}, nil)
	resolver := WithBreaker(inner, breaker)

	for i := 0; i < 3; i++ {
		if _, err := resolver.Encrypt(context.Background(), "x"); err == nil {
			t.Fatal("expected failure")
		}
	}
	if breaker.State() != StateOpen {
		t.Fatalf("state: got %v, want open", breaker.State())
	}

	// Open circuit fails fast without touching the backend.
	before := inner.calls
	_, err := resolver.Encrypt(context.Background(), "x")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("want ErrCircuitOpen, got %v", err)
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("ErrCircuitOpen must unwrap to ErrUnavailable: %v", err)
	}
	if inner.calls != before {
		t.Errorf("backend called while circuit open: %d calls", inner.calls-before)
	}
}

func TestBreaker_InvalidTokenDoesNotTrip(t *testing.T) {
	inner := &flakyResolver{err: fmt.Errorf("%w: status 404", ErrInvalidToken)}
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute}, nil)
	resolver := WithBreaker(inner, breaker)

	for i := 0; i < 10; i++ {
		if _, err := resolver.Decrypt(context.Background(), "bad"); err == nil {
			t.Fatal("expected failure")
		}
	}
	if breaker.State() != StateClosed {
		t.Errorf("state: got %v, want closed (service is up and answering)", breaker.State())
	}
}

func TestBreaker_HalfOpenProbeRecovers(t *testing.T) {
	inner := &flakyResolver{err: fmt.Errorf("%w: timeout", ErrUnavailable)}
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond, HalfOpenMax: 1}, nil)
	resolver := WithBreaker(inner, breaker)

	_, _ = resolver.Encrypt(context.Background(), "x")
	if breaker.State() != StateOpen {
		t.Fatalf("state: got %v, want open", breaker.State())
	}

	time.Sleep(30 * time.Millisecond)
	inner.err = nil // service is back

	out, err := resolver.Encrypt(context.Background(), "x")
	if err != nil {
		t.Fatalf("probe after cool-down: %v", err)
	}
	if out != "vault:x" {
		t.Errorf("probe result: got %q", out)
	}
	if breaker.State() != StateClosed {
		t.Errorf("state after successful probe: got %v, want closed", breaker.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	inner := &flakyResolver{err: fmt.Errorf("%w: timeout", ErrUnavailable)}
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond, HalfOpenMax: 1}, nil)
	resolver := WithBreaker(inner, breaker)

	_, _ = resolver.Encrypt(context.Background(), "x")
	time.Sleep(30 * time.Millisecond)

	// Probe still fails: straight back to open.
	if _, err := resolver.Encrypt(context.Background(), "x"); err == nil {
		t.Fatal("expected probe to fail")
	}
	if breaker.State() != StateOpen {
		t.Errorf("state after failed probe: got %v, want open", breaker.State())
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 1}, nil)
	breaker.record(fmt.Errorf("%w: down", ErrUnavailable))
	if breaker.State() != StateOpen {
		t.Fatalf("state: got %v, want open", breaker.State())
	}
	time.Sleep(20 * time.Millisecond)

	if err := breaker.allow(); err != nil {
		t.Fatalf("first probe refused: %v", err)
	}
	if err := breaker.allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second concurrent probe: want ErrCircuitOpen, got %v", err)
	}
}
