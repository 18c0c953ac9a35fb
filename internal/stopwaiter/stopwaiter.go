// Package stopwaiter runs background goroutines bound to a component's lifecycle.
package stopwaiter

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrAlreadyStarted = errors.New("start after start")
	ErrNotStarted     = errors.New("not started")
)

// StopWaiter owns a context that is cancelled by StopAndWait, and waits for
// every goroutine launched through it to return.
type StopWaiter struct {
	mutex    sync.Mutex // protects started, stopped, ctx, stopFunc
	started  bool
	stopped  bool
	ctx      context.Context
	stopFunc context.CancelFunc

	wg sync.WaitGroup
}

// Start derives the worker context from ctx. Start after StopAndWait cancels immediately.
func (s *StopWaiter) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.stopFunc = context.WithCancel(ctx)
	if s.stopped {
		s.stopFunc()
	}
	return nil
}

func (s *StopWaiter) getContext() (context.Context, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.ctx, nil
}

// LaunchThread runs foo on a tracked goroutine
func (s *StopWaiter) LaunchThread(foo func(context.Context)) error {
	ctx, err := s.getContext()
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		foo(ctx)
	}()
	return nil
}

// CallIteratively calls foo until stopped, waiting the returned interval between calls
func (s *StopWaiter) CallIteratively(foo func(context.Context) time.Duration) error {
	return s.LaunchThread(func(ctx context.Context) {
		for {
			interval := foo(ctx)
			if ctx.Err() != nil {
				return
			}
			if interval == 0 {
				continue
			}
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	})
}

// StopAndWait cancels the context and blocks until launched goroutines return.
// It may be called multiple times, even before Start.
func (s *StopWaiter) StopAndWait() {
	s.mutex.Lock()
	if s.started && !s.stopped {
		s.stopFunc()
	}
	s.stopped = true
	s.mutex.Unlock()

	s.wg.Wait()
}
