package transport

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/calldeck/calldeck/internal/protocol"
)

// Handler consumes one inbound envelope of the type it was registered for.
type Handler func(protocol.Envelope)

type handlerEntry struct {
	fn      Handler
	removed atomic.Bool
}

// Dispatcher fans inbound envelopes out to the handlers registered for
// their type. Registration and removal are safe while a dispatch is in
// progress: a dispatch pass iterates a snapshot of the handler list, and
// each entry is checked against its removed flag immediately before being
// invoked, so a removed handler never fires.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[protocol.Type][]*handlerEntry
	logger   *zap.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[protocol.Type][]*handlerEntry),
		logger:   logger,
	}
}

// On registers fn for envelopes of type t and returns a removal function.
// The removal function is idempotent.
func (d *Dispatcher) On(t protocol.Type, fn Handler) func() {
	entry := &handlerEntry{fn: fn}

	d.mu.Lock()
	d.handlers[t] = append(d.handlers[t], entry)
	d.mu.Unlock()

	return func() {
		entry.removed.Store(true)

		d.mu.Lock()
		defer d.mu.Unlock()
		list := d.handlers[t]
		for i, e := range list {
			if e == entry {
				d.handlers[t] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

// Dispatch delivers env to all live handlers registered for its type.
// Unrecognized types are logged and dropped.
func (d *Dispatcher) Dispatch(env protocol.Envelope) {
	if !protocol.Known(env.Type) {
		d.logger.Warn("Dropping envelope with unrecognized type",
			zap.String("type", string(env.Type)))
		return
	}

	d.mu.Lock()
	snapshot := make([]*handlerEntry, len(d.handlers[env.Type]))
	copy(snapshot, d.handlers[env.Type])
	d.mu.Unlock()

	for _, entry := range snapshot {
		if entry.removed.Load() {
			continue
		}
		entry.fn(env)
	}
}
