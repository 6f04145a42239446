package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEmitFansOutToAllHandlers(t *testing.T) {
	bus := NewEventBus()
	t.Cleanup(bus.Stop)

	var calls int32
	for _, name := range []string{"a", "b", "c"} {
		bus.Subscribe(EventPeerConnected, name, func(ctx context.Context, event Event) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}

	bus.Emit(context.Background(), Event{Type: EventPeerConnected, Source: "test"})

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&calls) != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("calls = %d, want 3", atomic.LoadInt32(&calls))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEmitIgnoresUnsubscribedTypes(t *testing.T) {
	bus := NewEventBus()
	t.Cleanup(bus.Stop)

	var calls int32
	bus.Subscribe(EventRoomCreated, "observer", func(ctx context.Context, event Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventRoomDestroyed, Source: "test"})
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Fatalf("calls = %d, want 0", n)
	}
}

func TestEmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	t.Cleanup(bus.Stop)

	wantErr := errors.New("journal write failed")
	bus.Subscribe(EventPeerDisconnected, "ok", func(ctx context.Context, event Event) error {
		return nil
	})
	bus.Subscribe(EventPeerDisconnected, "failing", func(ctx context.Context, event Event) error {
		return wantErr
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventPeerDisconnected, Source: "test"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestEmitSyncRecoversPanickingHandler(t *testing.T) {
	bus := NewEventBus()
	t.Cleanup(bus.Stop)

	var survived int32
	bus.Subscribe(EventServerStarted, "panics", func(ctx context.Context, event Event) error {
		panic("boom")
	})
	bus.Subscribe(EventServerStarted, "survives", func(ctx context.Context, event Event) error {
		atomic.AddInt32(&survived, 1)
		return nil
	})

	if err := bus.EmitSync(context.Background(), Event{Type: EventServerStarted}); err != nil {
		t.Fatalf("EmitSync: %v", err)
	}
	if atomic.LoadInt32(&survived) != 1 {
		t.Fatal("sibling handler did not run")
	}
}

func TestRepeatedFailuresDetachHandler(t *testing.T) {
	bus := NewEventBus()
	t.Cleanup(bus.Stop)

	bus.Subscribe(EventOperationProcessed, "flaky", func(ctx context.Context, event Event) error {
		return errors.New("broker unreachable")
	})

	for i := 0; i < maxConsecutiveFailures; i++ {
		bus.EmitSync(context.Background(), Event{Type: EventOperationProcessed})
	}
	if n := bus.HandlerCount(EventOperationProcessed); n != 0 {
		t.Fatalf("handler count = %d, want 0 after %d failures", n, maxConsecutiveFailures)
	}
}

func TestSingleSuccessResetsFailureStreak(t *testing.T) {
	bus := NewEventBus()
	t.Cleanup(bus.Stop)

	var fail atomic.Bool
	fail.Store(true)
	bus.Subscribe(EventOperationProcessed, "recovering", func(ctx context.Context, event Event) error {
		if fail.Load() {
			return errors.New("transient")
		}
		return nil
	})

	for i := 0; i < maxConsecutiveFailures-1; i++ {
		bus.EmitSync(context.Background(), Event{Type: EventOperationProcessed})
	}
	fail.Store(false)
	bus.EmitSync(context.Background(), Event{Type: EventOperationProcessed})
	fail.Store(true)
	bus.EmitSync(context.Background(), Event{Type: EventOperationProcessed})

	if n := bus.HandlerCount(EventOperationProcessed); n != 1 {
		t.Fatalf("handler count = %d, want 1 (streak should reset on success)", n)
	}
}

func TestUnsubscribeRemovesNamedHandler(t *testing.T) {
	bus := NewEventBus()
	t.Cleanup(bus.Stop)

	noop := func(ctx context.Context, event Event) error { return nil }
	bus.Subscribe(EventRoomCreated, "first", noop)
	bus.Subscribe(EventRoomCreated, "second", noop)

	bus.Unsubscribe(EventRoomCreated, "first")
	if n := bus.HandlerCount(EventRoomCreated); n != 1 {
		t.Fatalf("handler count = %d, want 1", n)
	}
	bus.Unsubscribe(EventRoomCreated, "missing")
	if n := bus.HandlerCount(EventRoomCreated); n != 1 {
		t.Fatalf("handler count after no-op = %d, want 1", n)
	}
}

func TestStoppedBusDropsEmits(t *testing.T) {
	bus := NewEventBus()

	var calls int32
	bus.Subscribe(EventPeerConnected, "observer", func(ctx context.Context, event Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	bus.Stop()
	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel not closed")
	}

	bus.Emit(context.Background(), Event{Type: EventPeerConnected})
	if err := bus.EmitSync(context.Background(), Event{Type: EventPeerConnected}); err != nil {
		t.Fatalf("EmitSync after stop: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Fatalf("calls = %d, want 0", n)
	}
}
