// Package events delivers auth-state-change notifications (sign-in,
// sign-out, token refresh, user update) to subscribers in emission order.
package events

import (
	"context"
	"log/slog"
	"sync"
)

// Type tags an auth-state-change event.
type Type string

const (
	SignedIn       Type = "SIGNED_IN"
	SignedOut      Type = "SIGNED_OUT"
	TokenRefreshed Type = "TOKEN_REFRESHED"
	UserUpdated    Type = "USER_UPDATED"
)

// Event is one auth-state change.
type Event struct {
	Type   Type
	UserID string
}

// Listener handles an event. Listeners run on the dispatcher goroutine and
// must not block for long.
type Listener func(ctx context.Context, ev Event)

// Emitter queues events and hands them to every listener, one at a time,
// in the order Emit was called. Emit never blocks.
type Emitter struct {
	mu        sync.Mutex
	queue     []Event
	listeners map[int]Listener
	order     []int
	nextID    int
	notify    chan struct{}
	stopChan  chan struct{}
	once      sync.Once
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewEmitter creates an Emitter. Call Start to begin delivery.
func NewEmitter(logger *slog.Logger) *Emitter {
	return &Emitter{
		listeners: make(map[int]Listener),
		notify:    make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
		logger:    logger,
	}
}

// Subscribe registers l and returns a function that removes it.
func (e *Emitter) Subscribe(l Listener) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	e.order = append(e.order, id)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.listeners, id)
			for i, v := range e.order {
				if v == id {
					e.order = append(e.order[:i], e.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit queues ev for delivery.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	e.queue = append(e.queue, ev)
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Start launches the dispatcher. It stops when ctx is cancelled or Stop is called.
func (e *Emitter) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopChan:
				// Deliver what was emitted before Stop.
				e.drain(ctx)
				return
			case <-e.notify:
				e.drain(ctx)
			}
		}
	}()
}

// Stop delivers queued events, stops the dispatcher and waits for it.
// Safe to call multiple times.
func (e *Emitter) Stop() {
	e.once.Do(func() {
		close(e.stopChan)
	})
	e.wg.Wait()
}

func (e *Emitter) drain(ctx context.Context) {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		ev := e.queue[0]
		e.queue = e.queue[1:]
		listeners := make([]Listener, 0, len(e.order))
		for _, id := range e.order {
			listeners = append(listeners, e.listeners[id])
		}
		e.mu.Unlock()

		for _, l := range listeners {
			e.deliver(ctx, l, ev)
		}
	}
}

func (e *Emitter) deliver(ctx context.Context, l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("auth event listener panicked", "event", ev.Type, "panic", r)
		}
	}()
	l(ctx, ev)
}
