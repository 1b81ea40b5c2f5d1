// Package eventbus implements the single in-process event bus every
// protocol module dispatches through (§4.1). One Bus instance is shared by
// the whole process; every consensus instance ("system") is multiplexed
// over it and keyed by SystemID so handlers only act on their own events.
package eventbus

import (
	"fmt"

	"github.com/unicitynetwork/uce/wire"
)

// Message is the closed, flat enumeration of internal signals every module
// handles (§3's "single flat closed enumeration shared by all modules").
// Concrete types below implement it; a handler recovers the concrete type
// with a type switch.
type Message interface {
	internalMessage()
}

// Event is the union of Internal(system_id, InternalMessage) and
// External(system_id, Message) from §3. Exactly one of Wire/Internal is
// set, selected by External.
type Event struct {
	System   string
	External bool
	Wire     *wire.Message
	Internal Message
}

func ExternalEvent(systemID string, m *wire.Message) Event {
	return Event{System: systemID, External: true, Wire: m}
}

func InternalEvent(systemID string, m Message) Event {
	return Event{System: systemID, External: false, Internal: m}
}

func (e Event) String() string {
	if e.External {
		return fmt.Sprintf("External(system=%s, type=%s)", e.System, e.Wire.Type)
	}
	return fmt.Sprintf("Internal(system=%s, %T)", e.System, e.Internal)
}

// Handler is a registered event-bus participant. ShouldHandle is consulted
// for every event in drain order; only events it accepts reach Handle.
// Implementations must not block in either method.
type Handler interface {
	ShouldHandle(Event) bool
	Handle(Event)
}

// SystemHandler is embedded by every per-system protocol module: it
// implements the "typically matching on system_id" half of ShouldHandle
// described in §4.1, leaving the event-kind filter to the embedder.
type SystemHandler struct {
	SystemID string
}

func (s SystemHandler) OwnSystem(e Event) bool { return e.System == s.SystemID }
