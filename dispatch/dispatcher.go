// Package dispatch fans inbound protocol events out to registered handlers.
package dispatch

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/room4-2/billvoice/logger"
	"github.com/room4-2/billvoice/messages"
)

// Wildcard subscribes a handler to every event.
const Wildcard = "*"

type Handler func(messages.Event)

// Subscription identifies one registration. Handlers are funcs and cannot
// be compared, so removal goes through the token On returned.
type Subscription struct {
	eventType string
	id        uint64
}

type entry struct {
	id      uint64
	handler Handler
}

type Dispatcher struct {
	log *zap.Logger

	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]entry
}

func New(log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		log:      logger.OrGet(log),
		handlers: make(map[string][]entry),
	}
}

// On registers h for eventType, or for every event when eventType is Wildcard.
func (d *Dispatcher) On(eventType string, h Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.handlers[eventType] = append(d.handlers[eventType], entry{id: d.nextID, handler: h})
	return Subscription{eventType: eventType, id: d.nextID}
}

// Off removes a registration. Removing one twice is a no-op.
func (d *Dispatcher) Off(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.handlers[sub.eventType]
	for i, e := range list {
		if e.id != sub.id {
			continue
		}
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(d.handlers, sub.eventType)
		} else {
			d.handlers[sub.eventType] = next
		}
		return
	}
}

// Emit delivers ev synchronously to the handlers of its type and then to the
// wildcard handlers, each in registration order. A panicking handler is
// logged and does not stop delivery to the rest.
func (d *Dispatcher) Emit(ev messages.Event) {
	d.mu.RLock()
	var exact []entry
	if ev.Type() != Wildcard {
		exact = d.handlers[ev.Type()]
	}
	wild := d.handlers[Wildcard]
	d.mu.RUnlock()

	for _, e := range exact {
		d.call(e.handler, ev)
	}
	for _, e := range wild {
		d.call(e.handler, ev)
	}
}

func (d *Dispatcher) call(h Handler, ev messages.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("❌ Event handler panicked",
				zap.String("event", ev.Type()),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	h(ev)
}

// Count reports how many handlers are registered for eventType.
func (d *Dispatcher) Count(eventType string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType])
}
