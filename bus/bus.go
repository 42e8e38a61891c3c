// Package bus is the same-device broadcast transport between sibling
// engine components. It is an explicitly constructed registry with an
// Open/Close lifecycle owned by main() — never a package-level global.
// Delivery reaches only subscribers present at publish time; nothing is
// persisted or replayed.
package bus

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Event struct {
	Channel  string    `json:"channel"`
	Type     string    `json:"type"`
	EntityId string    `json:"entity_id"`
	At       time.Time `json:"at"`
}

type Handler func(Event)

type Registry struct {
	Logger *logrus.Logger

	mu     sync.RWMutex
	open   bool
	nextId int
	subs   map[int]Handler
}

func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		Logger: logger,
		subs:   map[int]Handler{},
	}
}

func (r *Registry) Open() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = true
}

// Close drops all subscribers. Publishing on a closed registry is a
// no-op, so shutdown ordering does not matter.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	r.subs = map[int]Handler{}
}

// Subscribe registers a handler and returns its unsubscribe func.
func (r *Registry) Subscribe(h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextId++
	id := r.nextId
	r.subs[id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// Publish delivers ev to every current subscriber synchronously. A
// panicking handler is isolated and logged; the remaining subscribers
// still receive the event.
func (r *Registry) Publish(ev Event) {
	r.mu.RLock()
	if !r.open {
		r.mu.RUnlock()
		return
	}
	handlers := make([]Handler, 0, len(r.subs))
	for _, h := range r.subs {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if rec := recover(); rec != nil && r.Logger != nil {
					r.Logger.WithFields(logrus.Fields{
						"module":  "bus",
						"channel": ev.Channel,
						"type":    ev.Type,
					}).Errorf("subscriber panic: %v", rec)
				}
			}()
			h(ev)
		}()
	}
}
