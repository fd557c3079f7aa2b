// Package events provides a process-wide publish/subscribe bus used to fan
// out failure notifications to independent observers (logging, dead-letter
// queues) without coupling them to the engines that raise them.
package events

import (
	"reflect"
	"sync"
)

// Bus delivers published events to every handler subscribed for the event's
// concrete type. A handler that panics is suppressed so one faulty subscriber
// cannot block delivery to the others or abort the publisher. No ordering is
// guaranteed between handlers for the same event.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[reflect.Type]map[int]func(any)
}

// New creates an independent bus. Most callers use Default.
func New() *Bus {
	return &Bus{handlers: make(map[reflect.Type]map[int]func(any))}
}

var defaultBus = New()

// Default returns the process-wide bus.
func Default() *Bus { return defaultBus }

// Subscription identifies one registered handler.
type Subscription struct {
	bus *Bus
	typ reflect.Type
	id  int
}

// Cancel removes the handler. It returns false if the subscription was
// already cancelled or cleared.
func (s *Subscription) Cancel() bool {
	if s == nil || s.bus == nil {
		return false
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	set, ok := s.bus.handlers[s.typ]
	if !ok {
		return false
	}
	if _, ok := set[s.id]; !ok {
		return false
	}
	delete(set, s.id)
	if len(set) == 0 {
		delete(s.bus.handlers, s.typ)
	}
	return true
}

// Subscribe registers a handler for events of type T on the bus.
func Subscribe[T any](b *Bus, handler func(T)) *Subscription {
	typ := reflect.TypeOf((*T)(nil)).Elem()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	set, ok := b.handlers[typ]
	if !ok {
		set = make(map[int]func(any))
		b.handlers[typ] = set
	}
	set[id] = func(ev any) {
		handler(ev.(T))
	}
	return &Subscription{bus: b, typ: typ, id: id}
}

// Publish delivers event to every handler subscribed for its concrete type.
// Handlers run on the publisher's goroutine; panics are recovered per
// handler.
func (b *Bus) Publish(event any) {
	typ := reflect.TypeOf(event)

	b.mu.Lock()
	set := b.handlers[typ]
	snapshot := make([]func(any), 0, len(set))
	for _, h := range set {
		snapshot = append(snapshot, h)
	}
	b.mu.Unlock()

	for _, h := range snapshot {
		deliver(h, event)
	}
}

func deliver(h func(any), event any) {
	defer func() {
		_ = recover()
	}()
	h(event)
}

// Clear removes all handlers for every event type.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[reflect.Type]map[int]func(any))
}

// ClearType removes all handlers for events of type T.
func ClearType[T any](b *Bus) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, typ)
}

// HandlerCount returns the number of handlers registered for type T.
func HandlerCount[T any](b *Bus) int {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[typ])
}
