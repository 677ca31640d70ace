package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGroupStopsAllRunners(t *testing.T) {
	var stopped atomic.Int32
	g := NewGroup(zap.NewNop())
	for _, name := range []string{"burner", "reconciler", "fund_monitor"} {
		g.Add(name, RunnerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			stopped.Add(1)
			return nil
		}))
	}

	g.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.Stop(ctx))
	assert.Equal(t, int32(3), stopped.Load())
}

func TestGroupFailureCancelsOthers(t *testing.T) {
	boom := errors.New("boom")
	g := NewGroup(zap.NewNop())
	g.Add("failing", RunnerFunc(func(context.Context) error { return boom }))
	g.Add("waiting", RunnerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}))

	g.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := g.Stop(ctx)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "failing: boom")
}

func TestGroupRunsEachRunnerOnce(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	g := NewGroup(zap.NewNop())
	for _, name := range []string{"burner", "reconciler", "fund_monitor"} {
		g.Add(name, RunnerFunc(func(ctx context.Context) error {
			mu.Lock()
			seen[name]++
			mu.Unlock()
			<-ctx.Done()
			return nil
		}))
	}

	g.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.Stop(ctx))
	assert.Equal(t, map[string]int{"burner": 1, "reconciler": 1, "fund_monitor": 1}, seen)
}

func TestStopWithoutStart(t *testing.T) {
	assert.NoError(t, NewGroup(zap.NewNop()).Stop(context.Background()))
}
