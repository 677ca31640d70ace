// Package worker runs the background loops side by side and stops them
// together.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner is a loop that runs until its context is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

type namedRunner struct {
	name string
	r    Runner
}

// Group starts every registered runner on Start and waits for all of them on
// Stop.
type Group struct {
	runners []namedRunner
	log     *zap.Logger

	cancel context.CancelFunc
	eg     *errgroup.Group
}

func NewGroup(log *zap.Logger) *Group {
	return &Group{log: log.Named("workers")}
}

// Add registers a runner. It must be called before Start.
func (g *Group) Add(name string, r Runner) {
	g.runners = append(g.runners, namedRunner{name: name, r: r})
}

// Start launches the runners. A runner that returns an error cancels the
// others.
func (g *Group) Start(ctx context.Context) {
	ctx, g.cancel = context.WithCancel(ctx)
	g.eg, ctx = errgroup.WithContext(ctx)

	for _, nr := range g.runners {
		g.eg.Go(func() error {
			g.log.Info("worker started", zap.String("worker", nr.name))
			err := nr.r.Run(ctx)
			if err != nil {
				g.log.Error("worker stopped with error", zap.String("worker", nr.name), zap.Error(err))
				return fmt.Errorf("%s: %w", nr.name, err)
			}
			g.log.Info("worker stopped", zap.String("worker", nr.name))
			return nil
		})
	}
}

// Stop cancels the runners and waits for their current iteration to finish,
// or for ctx to expire.
func (g *Group) Stop(ctx context.Context) error {
	if g.eg == nil {
		return nil
	}
	g.cancel()

	done := make(chan error, 1)
	go func() { done <- g.eg.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
