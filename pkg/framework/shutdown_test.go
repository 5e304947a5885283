package framework

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"
)

func TestTerminationEvent(t *testing.T) {
	ev := NewTerminationEvent()
	if ev.IsSet() {
		t.Fatal("new event must not be set")
	}

	done := make(chan error, 1)
	go func() { done <- ev.Wait(context.Background()) }()

	ev.Set()
	ev.Set()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
	if !ev.IsSet() {
		t.Fatal("event should be set")
	}
}

func TestTerminationEventContext(t *testing.T) {
	ev := NewTerminationEvent()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ev.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTerminationEventZeroValue(t *testing.T) {
	var ev TerminationEvent
	if ev.IsSet() {
		t.Fatal("zero event must not be set")
	}
	ev.Set()
	if !ev.IsSet() {
		t.Fatal("event should be set")
	}
	if err := ev.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestNotifyStopDoesNotSet(t *testing.T) {
	ev := NewTerminationEvent()
	stop := NotifyOnInterrupt(ev)
	stop()
	stop()

	time.Sleep(50 * time.Millisecond)
	if ev.IsSet() {
		t.Fatal("releasing the signal handler must not set the event")
	}
}

func TestNotifySignalSets(t *testing.T) {
	ev := NewTerminationEvent()
	stop := notifyOn(ev, syscall.SIGUSR1)
	defer stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ev.Wait(ctx); err != nil {
		t.Fatalf("event not set by signal: %v", err)
	}
}
