package server

import (
	"github.com/gowayland/wlcore/catalog"
	"github.com/gowayland/wlcore/objects"
	"github.com/gowayland/wlcore/wire"
)

// RequestData is the capability set a server-side object's user data
// must implement: the inverse of client.ObjectData, handling inbound
// requests instead of inbound events. Implementations are shared
// across threads and must be safe for concurrent use.
type RequestData interface {
	objects.Data
	// Request handles one inbound request for this object. desc
	// describes the request per the catalog. If desc carries a new_id
	// argument, Request must return the freshly created child's real
	// data handler; otherwise it returns nil.
	Request(eng *Engine, self objects.ID, msg wire.Message, desc *catalog.MessageDesc) (child objects.Data, err error)
}

// Placeholder supplies the interface/version pair a server-sent event
// needs when its descriptor has no statically known child interface.
type Placeholder struct {
	Interface *catalog.Interface
	Version   uint32
}

// pendingData is installed on a newly created server-side object
// until its real RequestData is known. A request reaching it before
// then can only be a programmer bug: the handler that accepted the
// new_id promised to install a real one before returning.
type pendingData struct{ iface string }

func (pendingData) Destroyed() {}

func (p pendingData) Request(*Engine, objects.ID, wire.Message, *catalog.MessageDesc) (objects.Data, error) {
	panic("wlcore/server: request delivered to " + p.iface + " before its data handler was installed")
}

// displayData is seeded at wire id 1 on every client engine. wl_display's
// requests (sync, get_registry) are handled internally and never reach
// user code, so this placeholder panics if that invariant is ever
// violated.
type displayData struct{}

func (displayData) Destroyed() {}

func (displayData) Request(*Engine, objects.ID, wire.Message, *catalog.MessageDesc) (objects.Data, error) {
	panic("wlcore/server: wl_display requests are handled internally and never dispatched to user code")
}

// registryData is seeded whenever a client calls wl_display.get_registry.
// wl_registry carries no client-issuable requests besides bind, which
// the engine also intercepts internally.
type registryData struct{}

func (registryData) Destroyed() {}

func (registryData) Request(*Engine, objects.ID, wire.Message, *catalog.MessageDesc) (objects.Data, error) {
	panic("wlcore/server: wl_registry.bind is handled internally and never dispatched to user code")
}

// GlobalHandler is supplied to Registry.CreateGlobal: it decides
// per-client visibility and produces the bound object's real data
// handler.
type GlobalHandler interface {
	// CanView reports whether clientID may see and bind this global.
	// A handler with no access-control policy should always return
	// true.
	CanView(clientID uint64) bool
	// Bind is invoked once the engine has validated a bind request and
	// allocated the child object; it returns the object's real data
	// handler.
	Bind(eng *Engine, self objects.ID, version uint32) (objects.Data, error)
}

// ClientData receives client lifecycle notifications from a ClientStore.
type ClientData interface {
	Initialized(clientID uint64)
	Disconnected(clientID uint64, reason error)
}
