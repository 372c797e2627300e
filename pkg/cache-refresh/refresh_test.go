package cacherefresh

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func TestTaskRunsDetached(t *testing.T) {
	pool := NewPool(2, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ctxErr error
	if !pool.Go(ctx, "detached", func(ctx context.Context) error {
		ctxErr = ctx.Err()
		return nil
	}) {
		t.Fatal("Task was dropped")
	}
	pool.Wait()
	if ctxErr != nil {
		t.Fatalf("Task context is canceled: %v", ctxErr)
	}
}

func TestPoolDropsWhenFull(t *testing.T) {
	pool := NewPool(1, zerolog.Nop())
	release := make(chan struct{})
	started := make(chan struct{})
	pool.Go(context.Background(), "blocking", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	if pool.Go(context.Background(), "dropped", func(ctx context.Context) error { return nil }) {
		t.Fatal("Task should have been dropped")
	}
	close(release)
	pool.Wait()
}

func TestFailuresAndPanicsAreSwallowed(t *testing.T) {
	pool := NewPool(4, zerolog.Nop())
	var ran int32
	pool.Go(context.Background(), "fails", func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return errors.New("network down")
	})
	pool.Go(context.Background(), "panics", func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		panic("boom")
	})
	pool.Wait()
	if atomic.LoadInt32(&ran) != 2 {
		t.Fatalf("Ran %d tasks", ran)
	}
	// the pool is still usable
	if !pool.Go(context.Background(), "after", func(ctx context.Context) error { return nil }) {
		t.Fatal("Pool unusable after failures")
	}
	pool.Wait()
}
