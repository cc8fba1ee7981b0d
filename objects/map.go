// Package objects implements the Wayland object map: the generational
// arena that translates 32-bit wire ids into typed object records.
// One ObjectMap backs exactly one connection (client or
// server-side per-client engine) and is mutated only under its owning
// engine's lock.
package objects

import (
	"errors"
	"fmt"

	"github.com/gowayland/wlcore/catalog"
)

// ServerIDLimit is the first wire id reserved for server allocation.
const ServerIDLimit uint32 = 0xFF000000

// DisplayID is the well-known wire id of the display singleton.
const DisplayID uint32 = 1

// Data is the capability set every object record carries: the small
// vtable-like set of callbacks a protocol engine invokes without
// holding the engine lock. Implementations must be safe for
// concurrent use, since the same *Data value may be shared (e.g. a
// proxy wrapper kept by the application and referenced by the map).
type Data interface {
	// Destroyed is invoked exactly once when the object transitions
	// to its terminal state.
	Destroyed()
}

// Object is one entry in the map.
type Object struct {
	Interface       *catalog.Interface
	Version         uint32
	Serial          uint32
	UserData        Data
	ClientDestroyed bool // client-side only
	ServerDestroyed bool // client-side only
}

// ID is the opaque, comparable external identity of a map entry: the
// wire id plus the generation (serial) and interface stamped at
// insertion time. Two IDs compare equal iff all three fields match,
// so a reused wire id never aliases a prior occupant.
type ID struct {
	Wire      uint32
	Serial    uint32
	Interface *catalog.Interface
}

// ErrIDInvalid is returned by InsertAt when id is 0, or the slot is
// still occupied by a live object. InsertAt does not check whether id
// lies in the range of the side that is inserting it.
var ErrIDInvalid = errors.New("objects: id invalid for this insertion")

// ErrGone is returned by lookups against an ID whose generation no
// longer matches the live entry at that wire id.
var ErrGone = errors.New("objects: object id is stale or unknown")

// slot is the map's internal storage: an Object plus a liveness flag,
// since a freed slot still occupies the vector (served from
// freelists on next allocation).
type slot struct {
	obj  Object
	live bool
}

// Map is the vector-backed, client/server split object arena.
type Map struct {
	client     []slot // index 0 unused; wire id == index for ids in [1, ServerIDLimit)
	clientFree []uint32
	server     []slot // index 0 == wire id ServerIDLimit
	serverFree []uint32
	lastSerial uint32
}

// New returns an empty Map with the display singleton reserved at
// wire id 1 but not yet populated (callers insert it explicitly so
// they can supply the display's Data).
func New() *Map {
	m := &Map{client: make([]slot, 2, 64)} // index 0 unused, index 1 reserved for display
	return m
}

func (m *Map) nextSerial() uint32 {
	m.lastSerial++
	return m.lastSerial
}

// InsertAt inserts obj at the peer-specified wire id, used when
// handling an incoming new_id argument: the sender already chose the
// id (its own range), so the receiver must honor it exactly.
func (m *Map) InsertAt(id uint32, obj Object) (ID, error) {
	if id == 0 {
		return ID{}, ErrIDInvalid
	}
	if id < ServerIDLimit {
		return m.insertClientAt(id, obj)
	}
	return m.insertServerAt(id, obj)
}

func (m *Map) insertClientAt(id uint32, obj Object) (ID, error) {
	if id == 0 || id >= ServerIDLimit {
		return ID{}, ErrIDInvalid
	}
	for uint32(len(m.client)) <= id {
		m.client = append(m.client, slot{})
	}
	if m.client[id].live {
		return ID{}, ErrIDInvalid
	}
	obj.Serial = m.nextSerial()
	m.client[id] = slot{obj: obj, live: true}
	return ID{Wire: id, Serial: obj.Serial, Interface: obj.Interface}, nil
}

func (m *Map) insertServerAt(id uint32, obj Object) (ID, error) {
	idx := id - ServerIDLimit
	for uint32(len(m.server)) <= idx {
		m.server = append(m.server, slot{})
	}
	if m.server[idx].live {
		return ID{}, ErrIDInvalid
	}
	obj.Serial = m.nextSerial()
	m.server[idx] = slot{obj: obj, live: true}
	return ID{Wire: id, Serial: obj.Serial, Interface: obj.Interface}, nil
}

// ClientInsertNew allocates the lowest free client-range wire id
// (reusing a slot freed by Remove) and inserts obj there.
func (m *Map) ClientInsertNew(obj Object) ID {
	var id uint32
	if len(m.clientFree) > 0 {
		best := 0
		for i, v := range m.clientFree {
			if v < m.clientFree[best] {
				best = i
			}
		}
		id = m.clientFree[best]
		m.clientFree = append(m.clientFree[:best], m.clientFree[best+1:]...)
	} else {
		id = uint32(len(m.client))
		if id == 0 {
			id = 1
		}
		m.client = append(m.client, slot{})
	}
	obj.Serial = m.nextSerial()
	m.client[id] = slot{obj: obj, live: true}
	return ID{Wire: id, Serial: obj.Serial, Interface: obj.Interface}
}

// ServerInsertNew allocates a server-range wire id (reusing a slot
// freed by Remove, else appending a new one) and inserts obj there.
func (m *Map) ServerInsertNew(obj Object) ID {
	var idx uint32
	if n := len(m.serverFree); n > 0 {
		idx = m.serverFree[n-1]
		m.serverFree = m.serverFree[:n-1]
	} else {
		idx = uint32(len(m.server))
		m.server = append(m.server, slot{})
	}
	obj.Serial = m.nextSerial()
	m.server[idx] = slot{obj: obj, live: true}
	return ID{Wire: idx + ServerIDLimit, Serial: obj.Serial, Interface: obj.Interface}
}

func (m *Map) slotFor(wireID uint32) (*slot, bool) {
	if wireID < ServerIDLimit {
		if wireID == 0 || int(wireID) >= len(m.client) {
			return nil, false
		}
		return &m.client[wireID], true
	}
	idx := wireID - ServerIDLimit
	if int(idx) >= len(m.server) {
		return nil, false
	}
	return &m.server[idx], true
}

// Find returns a snapshot copy of the entry at wireID. Absence is not
// an error: ok is false and the zero Object is returned.
func (m *Map) Find(wireID uint32) (obj Object, ok bool) {
	s, present := m.slotFor(wireID)
	if !present || !s.live {
		return Object{}, false
	}
	return s.obj, true
}

// Lookup resolves a full ID, verifying the stamped generation still
// matches the live entry before honoring a caller-supplied ObjectId.
func (m *Map) Lookup(id ID) (Object, error) {
	obj, ok := m.Find(id.Wire)
	if !ok || obj.Serial != id.Serial {
		return Object{}, fmt.Errorf("%w: wire id %d serial %d", ErrGone, id.Wire, id.Serial)
	}
	return obj, nil
}

// With invokes f on a mutable reference to the live entry at wireID,
// returning false if no live entry exists there.
func (m *Map) With(wireID uint32, f func(*Object)) bool {
	s, present := m.slotFor(wireID)
	if !present || !s.live {
		return false
	}
	f(&s.obj)
	return true
}

// Remove releases the slot at wireID, returning it to the free list
// for its region so a later allocation can reuse the wire id.
func (m *Map) Remove(wireID uint32) {
	s, present := m.slotFor(wireID)
	if !present || !s.live {
		return
	}
	s.live = false
	s.obj = Object{}
	if wireID < ServerIDLimit {
		m.clientFree = append(m.clientFree, wireID)
	} else {
		m.serverFree = append(m.serverFree, wireID-ServerIDLimit)
	}
}

// Entry pairs a wire id with its live object, yielded by AllObjects.
type Entry struct {
	WireID uint32
	Object Object
}

// AllObjects returns a snapshot of every live entry, for teardown
// iteration. The snapshot is taken under the caller's lock and is
// safe to range over after releasing it.
func (m *Map) AllObjects() []Entry {
	out := make([]Entry, 0, len(m.client)+len(m.server))
	for id, s := range m.client {
		if s.live {
			out = append(out, Entry{WireID: uint32(id), Object: s.obj})
		}
	}
	for idx, s := range m.server {
		if s.live {
			out = append(out, Entry{WireID: uint32(idx) + ServerIDLimit, Object: s.obj})
		}
	}
	return out
}
