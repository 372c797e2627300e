package cacherefresh

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Pool runs fire-and-forget refresh tasks with bounded concurrency.
// Tasks are never queued: if the pool is full, the task is dropped.
// Callers never join a task; Wait exists for shutdown and tests.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
	log zerolog.Logger
}

func NewPool(size int64, log zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem: semaphore.NewWeighted(size),
		log: log,
	}
}

// Go starts the task in the background, detached from the cancellation of ctx.
// It returns false if the task was dropped.
func (p *Pool) Go(ctx context.Context, name string, task func(ctx context.Context) error) bool {
	if !p.sem.TryAcquire(1) {
		p.log.Trace().Str("task", name).Msg("Refresh pool full, dropping task")
		return false
	}
	p.wg.Add(1)
	detached := context.WithoutCancel(ctx)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer func() {
			if err := recover(); err != nil {
				p.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Str("task", name).Msg("Panic in refresh task")
			}
		}()
		if err := task(detached); err != nil {
			p.log.Trace().Err(err).Str("task", name).Msg("Refresh failed")
		}
	}()
	return true
}

// Wait blocks until all running tasks are done.
func (p *Pool) Wait() {
	p.wg.Wait()
}
