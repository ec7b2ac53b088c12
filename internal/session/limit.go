package session

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/samcharles93/summarizer/internal/tensor"
)

// Gate bounds the number of concurrent Run calls on a session. Callers queue
// on the gate; a caller whose context ends while queued gets the context
// error. Once admitted, a run is never cancelled.
type Gate struct {
	Session
	name       string
	sem        *semaphore.Weighted
	onInflight func(name string, delta int)
}

// Limit wraps s so that at most n runs are in flight. n <= 0 disables the
// bound but keeps in-flight reporting. onInflight may be nil.
func Limit(s Session, name string, n int64, onInflight func(name string, delta int)) *Gate {
	g := &Gate{Session: s, name: name, onInflight: onInflight}
	if n > 0 {
		g.sem = semaphore.NewWeighted(n)
	}
	return g
}

func (g *Gate) Name() string { return g.name }

func (g *Gate) Run(ctx context.Context, inputs tensor.Map) (tensor.Map, error) {
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("%s: waiting for session: %w", g.name, err)
		}
		defer g.sem.Release(1)
	}
	if g.onInflight != nil {
		g.onInflight(g.name, 1)
		defer g.onInflight(g.name, -1)
	}
	return g.Session.Run(context.WithoutCancel(ctx), inputs)
}
