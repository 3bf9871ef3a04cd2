package core

import (
	"context"
	"fmt"
	"sync"
)

// EventName identifies a manager lifecycle event.
type EventName string

const (
	PrePersist EventName = "prePersist"
	PreRemove  EventName = "preRemove"
	PreFlush   EventName = "preFlush"
	PostFlush  EventName = "postFlush"
	PostLoad   EventName = "postLoad"
)

// Event is dispatched by managers. Object is nil for flush events.
type Event struct {
	Name    EventName
	Manager string
	Object  any
}

// Listener reacts to an event. A returned error aborts the operation.
type Listener func(ctx context.Context, e Event) error

// EventManager dispatches manager events to registered listeners.
// A nil *EventManager is valid and dispatches nothing.
type EventManager struct {
	mu        sync.RWMutex
	listeners map[EventName][]Listener
}

// NewEventManager creates an event manager without listeners.
func NewEventManager() *EventManager {
	return &EventManager{listeners: make(map[EventName][]Listener)}
}

// On registers a listener for an event.
func (m *EventManager) On(name EventName, l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[name] = append(m.listeners[name], l)
}

// HasListeners reports whether anything listens to name.
func (m *EventManager) HasListeners(name EventName) bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners[name]) > 0
}

// Dispatch calls the listeners of e.Name in registration order.
func (m *EventManager) Dispatch(ctx context.Context, e Event) error {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	listeners := append([]Listener(nil), m.listeners[e.Name]...)
	m.mu.RUnlock()

	for _, l := range listeners {
		if err := l(ctx, e); err != nil {
			return fmt.Errorf("%s listener: %w", e.Name, err)
		}
	}
	return nil
}
