package client

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of a fan-out operation on one connection. Value is
// the zero value when Err is set.
type Outcome[T any] struct {
	Value T
	Err   error
}

type fanoutConfig struct {
	concurrency int
}

// FanoutOption configures ExecuteOnAll.
type FanoutOption func(*fanoutConfig)

// WithConcurrency runs up to n connections at once. The default is 1.
func WithConcurrency(n int) FanoutOption {
	return func(c *fanoutConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// ExecuteOnAll calls fn with a session for every connected connection and
// returns the outcomes keyed by connection name. A failing or panicking
// call is recorded in its Outcome and does not stop the others.
// Disconnected connections get no entry. The active connection is not
// changed.
func ExecuteOnAll[T any](ctx context.Context, m *Manager, fn func(context.Context, *Session) (T, error), opts ...FanoutOption) map[string]Outcome[T] {
	cfg := fanoutConfig{concurrency: 1}
	for _, opt := range opts {
		opt(&cfg)
	}

	names := m.connectedNames()
	results := make(map[string]Outcome[T], len(names))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)
	for _, name := range names {
		g.Go(func() error {
			out := runOne(ctx, m, name, fn)
			if out.Err != nil {
				m.logger.Error("fan-out operation failed", "name", name, "error", out.Err)
			}
			mu.Lock()
			results[name] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, out := range results {
		if out.Err != nil {
			failed++
		}
	}
	m.audit.record(categoryFanout, "execute", nil, nil,
		"targets", names, "concurrency", cfg.concurrency, "failed", failed)
	return results
}

func runOne[T any](ctx context.Context, m *Manager, name string, fn func(context.Context, *Session) (T, error)) (out Outcome[T]) {
	defer func() {
		if p := recover(); p != nil {
			out = Outcome[T]{Err: fmt.Errorf("panic on %q: %v", name, p)}
		}
	}()

	s, err := m.SessionFor(name)
	if err != nil {
		return Outcome[T]{Err: err}
	}
	v, err := fn(ctx, s)
	if err != nil {
		return Outcome[T]{Err: err}
	}
	return Outcome[T]{Value: v}
}
