// Package secrets wraps the external encrypt/decrypt transit service behind
// a uniform Resolver interface with typed failures, plus an explicit
// circuit breaker for callers that want to fail fast while the service
// is down.
package secrets

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable marks a transport-level failure: the transit service could
// not be reached or answered with a server error.
var ErrUnavailable = errors.New("transit service unavailable")

// ErrInvalidToken marks a request the service rejected or answered with no
// usable payload (bad ciphertext, unknown key, empty response).
var ErrInvalidToken = errors.New("transit token invalid")

// Resolver resolves plaintext to opaque tokens and back. Implementations
// never panic; every failure is an explicit error, and per-call failures
// are expected to degrade to skip-and-log at the call site.
type Resolver interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, token string) (string, error)
}

// ResolutionError is the failure of a single encrypt or decrypt call. It
// carries the original input so the caller can leave the affected span
// untouched and keep processing the rest of the document.
type ResolutionError struct {
	Op    string // "encrypt" or "decrypt"
	Input string // original plaintext or token
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("secrets: %s failed: %v", e.Op, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// resolutionErr wraps err with the op and original input.
func resolutionErr(op, input string, err error) error {
	return &ResolutionError{Op: op, Input: input, Err: err}
}
