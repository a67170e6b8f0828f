package mode

import (
	"log/slog"
	"sync"
)

// TransitionListener observes boundary crossings of the mode machine. Both
// callbacks are invoked synchronously by the coordinator, in registration
// order, at most once per crossing.
type TransitionListener interface {
	// EnteredUnavailable fires when the outstanding counter crosses 0 -> 1.
	EnteredUnavailable()
	// ExitedUnavailable fires when the outstanding counter crosses 1 -> 0.
	ExitedUnavailable()
}

// ListenerFuncs adapts two funcs to TransitionListener. Either may be nil.
type ListenerFuncs struct {
	OnUnavailable func()
	OnAvailable   func()
}

func (l ListenerFuncs) EnteredUnavailable() {
	if l.OnUnavailable != nil {
		l.OnUnavailable()
	}
}

func (l ListenerFuncs) ExitedUnavailable() {
	if l.OnAvailable != nil {
		l.OnAvailable()
	}
}

// listenerRegistry is an ordered set of transition listeners. A panic in one
// listener is isolated from the others and from the coordinator.
type listenerRegistry struct {
	mu     sync.Mutex
	nextID uint64
	order  []uint64
	subs   map[uint64]TransitionListener
	logger *slog.Logger
}

func newListenerRegistry(logger *slog.Logger) *listenerRegistry {
	return &listenerRegistry{
		subs:   make(map[uint64]TransitionListener),
		logger: logger,
	}
}

// add registers l and returns an idempotent unsubscribe func.
func (r *listenerRegistry) add(l TransitionListener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.order = append(r.order, id)
	r.subs[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subs, id)
			for i, v := range r.order {
				if v == id {
					r.order = append(r.order[:i], r.order[i+1:]...)
					break
				}
			}
		})
	}
}

// fire delivers one boundary crossing to all listeners in order.
func (r *listenerRegistry) fire(unavailable bool) {
	r.mu.Lock()
	listeners := make([]TransitionListener, 0, len(r.order))
	for _, id := range r.order {
		if l, ok := r.subs[id]; ok {
			listeners = append(listeners, l)
		}
	}
	r.mu.Unlock()

	for _, l := range listeners {
		r.fireOne(l, unavailable)
	}
}

func (r *listenerRegistry) fireOne(l TransitionListener, unavailable bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("transition listener panicked", "panic", rec)
		}
	}()
	if unavailable {
		l.EnteredUnavailable()
	} else {
		l.ExitedUnavailable()
	}
}
