package events

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// A handler that keeps failing gets detached so a broken observer
// (dead MQTT broker, corrupt journal) cannot log-spam forever. One
// success resets the streak.
const maxConsecutiveFailures = 8

// EventBus fans emitted hook events out to subscribed observers.
// Emit dispatches on a background goroutine so a slow observer never
// stalls the engine; within one emit, handlers run in subscription
// order. EmitSync exists for the few hooks where the caller must see
// handler errors.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]*handlerEntry
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
	// consecutive failures, guarded by the bus mutex
	failures int
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]*handlerEntry),
		stopCh:   make(chan struct{}),
	}
}

// Subscribe registers a handler function for a specific event type.
// The name identifies the observer in logs and in Unsubscribe.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	eb.handlers[eventType] = append(eb.handlers[eventType],
		&handlerEntry{name: name, handler: handler})
	eb.mu.Unlock()

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	before := len(eb.handlers[eventType])
	eb.handlers[eventType] = slices.DeleteFunc(eb.handlers[eventType],
		func(e *handlerEntry) bool { return e.name == name })
	removed := before != len(eb.handlers[eventType])
	eb.mu.Unlock()

	if removed {
		log.Debug().
			Str("event", string(eventType)).
			Str("handler", name).
			Msg("unsubscribed from event")
	}
}

// snapshot returns the current handler list for an event type, or nil
// when the bus is stopped or nothing is subscribed.
func (eb *EventBus) snapshot(eventType EventType) []*handlerEntry {
	if eb.stopped {
		return nil
	}
	return slices.Clone(eb.handlers[eventType])
}

// Emit publishes an event asynchronously. All handlers for this emit
// run in subscription order on one dispatch goroutine; handlers of
// separate emits may interleave.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	entries := eb.snapshot(event.Type)
	if len(entries) > 0 {
		eb.wg.Add(1)
	}
	eb.mu.RUnlock()

	if len(entries) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(entries)).
		Msg("emitting event")

	go func() {
		defer eb.wg.Done()
		for _, e := range entries {
			eb.invoke(ctx, event, e)
		}
	}()
}

// EmitSync publishes an event and runs every handler before
// returning. All handlers run even after a failure; the first error
// is returned.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	entries := eb.snapshot(event.Type)
	eb.mu.RUnlock()

	var firstErr error
	for _, e := range entries {
		if err := eb.invoke(ctx, event, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// invoke runs one handler with panic recovery and updates its failure
// streak. A panic counts as a failure but is never surfaced to the
// emitter.
func (eb *EventBus) invoke(ctx context.Context, event Event, e *handlerEntry) (err error) {
	failed := true
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", e.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
		eb.noteResult(event.Type, e, failed)
	}()

	err = e.handler(ctx, event)
	failed = err != nil
	if err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", e.name).
			Msg("handler returned error")
	}
	return err
}

// noteResult tracks a handler's consecutive-failure streak and
// detaches the handler once it crosses the limit.
func (eb *EventBus) noteResult(eventType EventType, e *handlerEntry, failed bool) {
	eb.mu.Lock()
	if !failed {
		e.failures = 0
		eb.mu.Unlock()
		return
	}
	e.failures++
	streak := e.failures
	detach := streak >= maxConsecutiveFailures
	if detach {
		eb.handlers[eventType] = slices.DeleteFunc(eb.handlers[eventType],
			func(h *handlerEntry) bool { return h == e })
	}
	eb.mu.Unlock()

	if detach {
		log.Warn().
			Str("event", string(eventType)).
			Str("handler", e.name).
			Int("failures", streak).
			Msg("handler detached after repeated failures")
	}
}

// Stop signals the EventBus to stop accepting new events and waits
// for all in-flight dispatches to complete.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
