package event

import (
	"sync"

	"marketmux/logger"
)

// Handler receives events synchronously on the emitting goroutine. Handlers
// must not block; slow consumers should hand off to their own goroutine.
type Handler func(Event)

// HandlerID identifies a registration for Off.
type HandlerID uint64

type registration struct {
	id HandlerID
	fn Handler
}

// Bus fans events out to registered handlers. Handlers for a type run in
// registration order; a panicking handler is recovered and logged so the
// remaining handlers still run.
type Bus struct {
	mu       sync.RWMutex
	nextID   HandlerID
	handlers map[Type][]registration
	log      *logger.Log
}

func NewBus(log *logger.Log) *Bus {
	return &Bus{
		handlers: make(map[Type][]registration),
		log:      log,
	}
}

// On registers a handler for the given event type.
func (b *Bus) On(t Type, fn Handler) HandlerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[t] = append(b.handlers[t], registration{id: id, fn: fn})
	return id
}

// Off removes a prior registration. Unknown ids are ignored.
func (b *Bus) Off(t Type, id HandlerID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[t]
	for i, reg := range regs {
		if reg.id == id {
			b.handlers[t] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Emit delivers the event to every handler registered for its type.
func (b *Bus) Emit(evt Event) {
	b.mu.RLock()
	regs := b.handlers[evt.Type]
	b.mu.RUnlock()

	for _, reg := range regs {
		b.dispatch(reg, evt)
	}
}

func (b *Bus) dispatch(reg registration, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithComponent("event_bus").WithFields(logger.Fields{
				"event_type": string(evt.Type),
				"panic":      r,
			}).Error("event handler panicked")
		}
	}()
	reg.fn(evt)
}
