package transport

import (
	"testing"

	"go.uber.org/zap"

	"github.com/calldeck/calldeck/internal/protocol"
)

func TestDispatcher_FanOut(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	var first, second int
	d.On(protocol.TypePong, func(protocol.Envelope) { first++ })
	d.On(protocol.TypePong, func(protocol.Envelope) { second++ })
	d.On(protocol.TypeError, func(protocol.Envelope) { t.Error("error handler fired for pong") })

	d.Dispatch(protocol.NewPong(42))

	if first != 1 || second != 1 {
		t.Errorf("expected both pong handlers to fire once, got %d and %d", first, second)
	}
}

func TestDispatcher_RemovedHandlerNeverFires(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	fired := 0
	remove := d.On(protocol.TypePong, func(protocol.Envelope) { fired++ })

	d.Dispatch(protocol.NewPong(1))
	remove()
	d.Dispatch(protocol.NewPong(2))

	if fired != 1 {
		t.Errorf("expected 1 invocation before removal, got %d", fired)
	}
}

func TestDispatcher_RemoveIsIdempotent(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	remove := d.On(protocol.TypePong, func(protocol.Envelope) {})
	remove()
	remove() // must not panic or disturb other handlers

	fired := 0
	d.On(protocol.TypePong, func(protocol.Envelope) { fired++ })
	d.Dispatch(protocol.NewPong(1))

	if fired != 1 {
		t.Errorf("expected surviving handler to fire once, got %d", fired)
	}
}

func TestDispatcher_RemovalDuringDispatch(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	// The first handler removes the second mid-pass. The second was already
	// snapshotted for this pass but must still be skipped: no handler may
	// fire after its removal.
	var removeSecond func()
	firstFired, secondFired := 0, 0

	d.On(protocol.TypePong, func(protocol.Envelope) {
		firstFired++
		removeSecond()
	})
	removeSecond = d.On(protocol.TypePong, func(protocol.Envelope) { secondFired++ })

	d.Dispatch(protocol.NewPong(1))

	if firstFired != 1 {
		t.Errorf("expected first handler to fire once, got %d", firstFired)
	}
	if secondFired != 0 {
		t.Errorf("handler fired after removal, got %d invocations", secondFired)
	}
}

func TestDispatcher_RegistrationDuringDispatch(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	lateFired := 0
	d.On(protocol.TypePong, func(protocol.Envelope) {
		// Registered mid-pass: must not fire in this pass.
		d.On(protocol.TypePong, func(protocol.Envelope) { lateFired++ })
	})

	d.Dispatch(protocol.NewPong(1))
	if lateFired != 0 {
		t.Errorf("handler registered during dispatch fired in same pass")
	}

	d.Dispatch(protocol.NewPong(2))
	if lateFired != 1 {
		t.Errorf("expected late handler to fire in next pass, got %d", lateFired)
	}
}

func TestDispatcher_UnrecognizedTypeDropped(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	d.On(protocol.TypePong, func(protocol.Envelope) { t.Error("handler fired for unknown type") })
	d.Dispatch(protocol.Envelope{Type: "teleport"})
}
