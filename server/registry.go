package server

import (
	"sync"

	"github.com/gowayland/wlcore/catalog"
)

type globalRecord struct {
	name     uint32
	iface    *catalog.Interface
	version  uint32
	handler  GlobalHandler
	disabled bool
	alive    bool
}

// registryEvent is a global/global_remove announcement queued for
// delivery to one client's wl_registry object. ClientStore owns
// turning this into an actual wire event, since only it can resolve a
// clientID to a live Engine.
type registryEvent struct {
	wireID    uint32
	remove    bool
	name      uint32
	ifaceName string
	version   uint32
}

// Registry owns the set of globals advertised to clients and the set
// of wl_registry objects ("watchers") created to observe them. It
// knows nothing about sockets or engines directly; event delivery is
// routed through a notify callback bound once by the owning
// ClientStore.
type Registry struct {
	mu       sync.Mutex
	globals  []globalRecord
	nextName uint32
	watchers map[uint64]map[uint32]struct{} // clientID -> live wl_registry wire ids
	notify   func(clientID uint64, ev registryEvent)
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{watchers: make(map[uint64]map[uint32]struct{})}
}

func (r *Registry) bindNotify(f func(clientID uint64, ev registryEvent)) {
	r.mu.Lock()
	r.notify = f
	r.mu.Unlock()
}

// CreateGlobal appends a new global and announces it to every
// currently-watching client whose handler grants that client
// visibility.
func (r *Registry) CreateGlobal(iface *catalog.Interface, version uint32, handler GlobalHandler) uint32 {
	r.mu.Lock()
	r.nextName++
	name := r.nextName
	r.globals = append(r.globals, globalRecord{name: name, iface: iface, version: version, handler: handler, alive: true})
	notify := r.notify
	watchers := r.snapshotWatchersLocked()
	r.mu.Unlock()

	if notify == nil {
		return name
	}
	for clientID, registries := range watchers {
		if !handler.CanView(clientID) {
			continue
		}
		for wireID := range registries {
			notify(clientID, registryEvent{wireID: wireID, name: name, ifaceName: iface.Name, version: version})
		}
	}
	return name
}

// DisableGlobal sends global_remove to every watcher but keeps the
// record so a bind racing the disable fails with a protocol error
// rather than panicking on a missing record.
func (r *Registry) DisableGlobal(name uint32) {
	r.mu.Lock()
	for i := range r.globals {
		if r.globals[i].name == name {
			r.globals[i].disabled = true
		}
	}
	notify := r.notify
	watchers := r.snapshotWatchersLocked()
	r.mu.Unlock()

	if notify == nil {
		return
	}
	for clientID, registries := range watchers {
		for wireID := range registries {
			notify(clientID, registryEvent{wireID: wireID, remove: true, name: name})
		}
	}
}

// RemoveGlobal marks the record dead so it is no longer enumerated for
// new wl_registry objects.
func (r *Registry) RemoveGlobal(name uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.globals {
		if r.globals[i].name == name {
			r.globals[i].alive = false
		}
	}
}

func (r *Registry) snapshotWatchersLocked() map[uint64]map[uint32]struct{} {
	out := make(map[uint64]map[uint32]struct{}, len(r.watchers))
	for clientID, set := range r.watchers {
		inner := make(map[uint32]struct{}, len(set))
		for wireID := range set {
			inner[wireID] = struct{}{}
		}
		out[clientID] = inner
	}
	return out
}

// registerWatcher records that clientID's wl_registry at wireID wants
// future announcements, and returns the globals currently visible to
// it for the initial enumeration done by wl_display.get_registry.
func (r *Registry) registerWatcher(clientID uint64, wireID uint32) []globalRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watchers[clientID] == nil {
		r.watchers[clientID] = make(map[uint32]struct{})
	}
	r.watchers[clientID][wireID] = struct{}{}

	visible := make([]globalRecord, 0, len(r.globals))
	for _, g := range r.globals {
		if g.alive && !g.disabled && g.handler.CanView(clientID) {
			visible = append(visible, g)
		}
	}
	return visible
}

// forgetClient drops all watcher state for a disconnected client.
func (r *Registry) forgetClient(clientID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watchers, clientID)
}

func (r *Registry) lookup(name uint32) (globalRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.globals {
		if g.name == name {
			return g, true
		}
	}
	return globalRecord{}, false
}
