package provider

import "sync"

const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventError      = "error"
	EventMessage    = "message"
)

// Listener receives provider events. Listeners are compared by identity when
// removed, so implementations must be comparable (pointer types are).
type Listener interface {
	Notify(event string, payload interface{})
}

type funcListener struct {
	fn func(event string, payload interface{})
}

func (l *funcListener) Notify(event string, payload interface{}) {
	l.fn(event, payload)
}

// NewListener wraps fn. Keep the returned value to unsubscribe it later.
func NewListener(fn func(event string, payload interface{})) Listener {
	return &funcListener{fn: fn}
}

// Message is the payload of EventMessage: a server push that is not a
// response to any request.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type subscription struct {
	listener Listener
	once     bool
}

// Emitter is an event source keyed by event name. The zero value is ready to
// use.
type Emitter struct {
	mu   sync.Mutex
	subs map[string][]subscription
}

func (e *Emitter) On(event string, l Listener) {
	e.add(event, l, false)
}

func (e *Emitter) Once(event string, l Listener) {
	e.add(event, l, true)
}

// Off removes every registration of l for event.
func (e *Emitter) Off(event string, l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subs[event]
	kept := subs[:0]
	for _, s := range subs {
		if s.listener != l {
			kept = append(kept, s)
		}
	}

	if len(kept) == 0 {
		delete(e.subs, event)
		return
	}
	e.subs[event] = kept
}

// Emit calls the listeners registered for event synchronously, outside the
// lock, and drops the once listeners.
func (e *Emitter) Emit(event string, payload interface{}) {
	e.mu.Lock()
	subs := e.subs[event]
	targets := make([]Listener, 0, len(subs))
	kept := make([]subscription, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s.listener)
		if !s.once {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(e.subs, event)
	} else {
		e.subs[event] = kept
	}
	e.mu.Unlock()

	for _, l := range targets {
		l.Notify(event, payload)
	}
}

// ListenerCount is mostly useful in tests.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs[event])
}

func (e *Emitter) add(event string, l Listener, once bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.subs == nil {
		e.subs = make(map[string][]subscription)
	}
	e.subs[event] = append(e.subs[event], subscription{listener: l, once: once})
}
