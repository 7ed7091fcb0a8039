package timers

import (
	"context"
	"sync"
	"time"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop cancels the timer. It reports whether the call stopped
	// the timer before it ran to completion.
	Stop() bool
}

// Scheduler registers callbacks to run after a delay or on a fixed interval.
// Every timer created by a Scheduler is cancelled when the Scheduler's
// context is done or Close is called.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(ctx context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
	}
}

type timer struct {
	cancel context.CancelFunc
	lock   sync.Mutex
	fired  bool
}

func (t *timer) Stop() bool {
	t.lock.Lock()
	stopped := !t.fired
	t.fired = true
	t.lock.Unlock()
	t.cancel()
	return stopped
}

// claim marks the timer as fired unless it was stopped.
func (t *timer) claim() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.fired {
		return false
	}
	t.fired = true
	return true
}

// After runs fn once, d from now, on its own goroutine.
func (s *Scheduler) After(d time.Duration, fn func()) Timer {
	ctx, cancel := context.WithCancel(s.ctx)
	t := &timer{cancel: cancel}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		tm := time.NewTimer(d)
		defer tm.Stop()
		select {
		case <-ctx.Done():
		case <-tm.C:
			if t.claim() {
				fn()
			}
		}
	}()
	return t
}

// Every runs fn every d until the timer is stopped.
// A tick that fires while fn is still running is skipped.
func (s *Scheduler) Every(d time.Duration, fn func()) Timer {
	ctx, cancel := context.WithCancel(s.ctx)
	t := &timer{cancel: cancel}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				fn()
			}
		}
	}()
	return t
}

// Close cancels all outstanding timers and waits for running callbacks to return.
// It must not be called from inside a callback.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}
