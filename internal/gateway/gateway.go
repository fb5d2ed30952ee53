// Package gateway provides clients for the language model backends that
// drive skill activation, parameter extraction, and chat responses.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Client defines the interface for language model providers.
// Complete and CompleteWithSystem block until the full response is
// available; Stream delivers the response incrementally through fn and
// stops early if fn returns an error.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Stream(ctx context.Context, prompt string, fn func(chunk string) error) error
}

// Sentinel errors for gateway failures. Connection-level failures wrap
// ErrUnavailable; deadline and transport timeouts wrap ErrTimeout.
var (
	ErrUnavailable = errors.New("gateway unavailable")
	ErrTimeout     = errors.New("gateway timeout")
)

// classify maps a transport error onto the gateway sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
