package framework

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// TerminationEvent is a one-shot flag the main thread blocks on until the
// process should exit. Setting it more than once is harmless. The zero value
// is ready to use.
type TerminationEvent struct {
	once sync.Once
	mu   sync.Mutex
	done chan struct{}
}

func NewTerminationEvent() *TerminationEvent {
	return &TerminationEvent{done: make(chan struct{})}
}

func (e *TerminationEvent) channel() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done == nil {
		e.done = make(chan struct{})
	}
	return e.done
}

// Set raises the event and releases every waiter.
func (e *TerminationEvent) Set() {
	done := e.channel()
	e.once.Do(func() { close(done) })
}

// Done is closed once the event is set.
func (e *TerminationEvent) Done() <-chan struct{} {
	return e.channel()
}

func (e *TerminationEvent) IsSet() bool {
	select {
	case <-e.channel():
		return true
	default:
		return false
	}
}

// Wait blocks until the event is set or ctx ends.
func (e *TerminationEvent) Wait(ctx context.Context) error {
	select {
	case <-e.channel():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyOnInterrupt sets ev when the process receives SIGINT or SIGTERM.
// The returned stop function releases the signal handler without setting ev.
func NotifyOnInterrupt(ev *TerminationEvent) (stop func()) {
	return notifyOn(ev, os.Interrupt, syscall.SIGTERM)
}

func notifyOn(ev *TerminationEvent, sigs ...os.Signal) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	quit := make(chan struct{})
	signal.Notify(sigCh, sigs...)

	go func() {
		select {
		case <-sigCh:
			ev.Set()
		case <-quit:
		case <-ev.Done():
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(quit)
		})
	}
}
