package strategy

import "sync"

// Event names emitted by strategies. The first six are common to every
// strategy; the rest are strategy-specific.
const (
	EventInitialized      = "initialized"
	EventStarted          = "started"
	EventStopped          = "stopped"
	EventError            = "error"
	EventOrderPlaced      = "orderPlaced"
	EventOrderFilled      = "orderFilled"
	EventSignal           = "signal"           // DCA stop-loss / take-profit
	EventSequenceComplete = "sequenceComplete" // martingale full exit
	EventRebalanced       = "rebalanced"       // portfolio rebalance
)

// Handler receives an event payload. Handlers run synchronously on the
// emitting goroutine and must not block.
type Handler func(payload interface{})

// Events is a per-strategy subscription registry. Registration is
// explicit; there is no ambient global bus.
type Events struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func newEvents() *Events {
	return &Events{handlers: make(map[string][]Handler)}
}

// On registers a handler for an event name.
func (e *Events) On(name string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = append(e.handlers[name], h)
}

// Off removes all handlers for an event name.
func (e *Events) Off(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, name)
}

// Emit calls every handler registered for the event name.
func (e *Events) Emit(name string, payload interface{}) {
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers[name]))
	copy(handlers, e.handlers[name])
	e.mu.RUnlock()
	for _, h := range handlers {
		h(payload)
	}
}
