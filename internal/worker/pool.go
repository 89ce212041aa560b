// Package worker runs blocking hardware, encode, and persistence work off the
// orchestration goroutines on a bounded pool.
package worker

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/mdai-dev/kiosk/internal/errors"
	"github.com/mdai-dev/kiosk/internal/logging"
)

// DefaultWorkers is used when New is given a non-positive size.
const DefaultWorkers = 2

// ErrBusy is returned by TryGo when every worker is occupied.
var ErrBusy = errors.New("worker pool busy")

// Pool is a bounded goroutine pool. Go and Do wait for a free worker; TryGo
// never waits. Panics in submitted work are recovered and reported as errors
// (Do) or logged (Go, TryGo).
type Pool struct {
	logger *logging.Logger
	// slots holds one token per running job.
	slots chan struct{}

	mu     sync.RWMutex
	closed bool
	p      *pool.Pool
}

// New creates a pool with at most workers goroutines.
func New(workers int, logger *logging.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Pool{
		logger: logger.WithComponent("worker"),
		slots:  make(chan struct{}, workers),
		p:      pool.New(),
	}
}

// Go schedules fn without waiting for it to finish. It blocks while every
// worker is busy. name identifies the job in logs.
func (p *Pool) Go(name string, fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.ErrClosed
	}

	p.slots <- struct{}{}
	p.run(name, fn)
	return nil
}

// TryGo schedules fn only if a worker is free and returns ErrBusy otherwise.
// It is for work that may be dropped, such as best-effort persistence.
func (p *Pool) TryGo(name string, fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.ErrClosed
	}

	select {
	case p.slots <- struct{}{}:
	default:
		return ErrBusy
	}
	p.run(name, fn)
	return nil
}

// run must be called holding a slot.
func (p *Pool) run(name string, fn func()) {
	p.p.Go(func() {
		defer func() { <-p.slots }()
		var pc panics.Catcher
		pc.Try(fn)
		if r := pc.Recovered(); r != nil {
			p.logger.Error("job panicked", "job", name, "error", r.AsError())
		}
	})
}

// Do runs fn on the pool and waits for its result. If ctx is done first, Do
// returns ctx.Err() and fn keeps running to completion in the background;
// blocking hardware calls cannot be interrupted midway.
func (p *Pool) Do(ctx context.Context, name string, fn func() error) error {
	result := make(chan error, 1)
	err := p.Go(name, func() {
		var pc panics.Catcher
		var fnErr error
		pc.Try(func() { fnErr = fn() })
		if r := pc.Recovered(); r != nil {
			fnErr = errors.NewUnexpectedError(name, r.AsError())
		}
		result <- fnErr
	})
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and waits for running jobs to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.p.Wait()
}
