package client

import (
	"github.com/gowayland/wlcore/catalog"
	"github.com/gowayland/wlcore/objects"
	"github.com/gowayland/wlcore/wire"
)

// ObjectData is the capability set a client-side object's user data
// must implement: an "event|destroyed" vtable expressed as a Go
// interface, with child creation folded into Event's return value.
// Implementations are shared
// across threads (the engine never holds its lock while invoking
// them) and so must be safe for concurrent use.
type ObjectData interface {
	objects.Data
	// Event handles one inbound event for this object. desc describes
	// the event per the catalog. If desc carries a new_id argument,
	// Event must return the freshly created child's real data handler;
	// otherwise it returns nil.
	Event(eng *Engine, self objects.ID, msg wire.Message, desc *catalog.MessageDesc) (child objects.Data, err error)
}

// Placeholder supplies the interface/version pair wl_registry.bind
// needs when the request descriptor has no statically known child
// interface.
type Placeholder struct {
	Interface *catalog.Interface
	Version   uint32
}

// pendingData is installed on a newly created object until its real
// ObjectData is known: it panics if an event arrives before then,
// which can only happen from a programmer bug (the caller promised a
// handler when it issued the request/accepted the new_id).
type pendingData struct{ iface string }

func (pendingData) Destroyed() {}

func (p pendingData) Event(*Engine, objects.ID, wire.Message, *catalog.MessageDesc) (objects.Data, error) {
	panic("wlcore/client: event delivered to " + p.iface + " before its data handler was installed")
}

// displayData is seeded at wire id 1. wl_display's only events
// (error, delete_id) are handled internally by the engine and never
// reach user code, so this placeholder panics if that invariant is
// ever violated.
type displayData struct{}

func (displayData) Destroyed() {}

func (displayData) Event(*Engine, objects.ID, wire.Message, *catalog.MessageDesc) (objects.Data, error) {
	panic("wlcore/client: wl_display events are handled internally and never dispatched to user code")
}
