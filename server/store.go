package server

import (
	"net"
	"sync"

	"github.com/gowayland/wlcore/socket"
	"github.com/gowayland/wlcore/wire"
	"github.com/gowayland/wlcore/wlerr"
)

// clientSlot pairs a live Engine with the bookkeeping ClientStore
// needs to reap it: whether a kill has been requested, the reason,
// and the lifecycle callbacks to run on reclaim.
type clientSlot struct {
	engine *Engine
	data   ClientData
	dead   bool
	reason error
	reaped bool
}

// ClientStore holds every currently-connected client's per-client
// Engine, plus the shared Registry globals are advertised through.
type ClientStore struct {
	mu       sync.Mutex
	registry *Registry
	clients  map[uint64]*clientSlot
	nextID   uint64
}

// NewClientStore returns an empty store wired to registry for global
// announcement delivery.
func NewClientStore(registry *Registry) *ClientStore {
	s := &ClientStore{registry: registry, clients: make(map[uint64]*clientSlot)}
	registry.bindNotify(s.deliverRegistryEvent)
	return s
}

// InsertClient adopts an already-accepted connection, assigns it a
// client id, and invokes data.Initialized(id) before returning.
func (s *ClientStore) InsertClient(conn *net.UnixConn, data ClientData) (*Engine, uint64, error) {
	sock, err := socket.New(conn)
	if err != nil {
		return nil, 0, wlerr.NoTransport("construct server socket", err)
	}
	return s.insert(sock, data)
}

// InsertClientSocket is InsertClient for callers (tests, or a demo
// bridging two engines over a socketpair) that already hold a
// BufferedSocket instead of a net.UnixConn.
func (s *ClientStore) InsertClientSocket(sock *socket.BufferedSocket, data ClientData) (*Engine, uint64, error) {
	return s.insert(sock, data)
}

func (s *ClientStore) insert(sock *socket.BufferedSocket, data ClientData) (*Engine, uint64, error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	eng := newClientEngine(sock, id, s.registry, s)
	s.clients[id] = &clientSlot{engine: eng, data: data}
	s.mu.Unlock()

	if data != nil {
		data.Initialized(id)
	}
	return eng, id, nil
}

// Get returns the live engine for a client id.
func (s *ClientStore) Get(id uint64) (*Engine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.clients[id]
	if !ok {
		return nil, false
	}
	return slot.engine, true
}

// KillClient marks a client dead with reason; the slot and its
// surviving objects are reclaimed on the next ReapDead call.
func (s *ClientStore) KillClient(id uint64, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.clients[id]
	if !ok || slot.dead {
		return
	}
	slot.dead = true
	slot.reason = reason
}

// ReapDead finalizes every client killed since the last call: closes
// its engine (invoking Destroyed on survivors), notifies its
// ClientData of the disconnect, and drops it from the store.
func (s *ClientStore) ReapDead() {
	s.mu.Lock()
	var toReap []*clientSlot
	for id, slot := range s.clients {
		if slot.dead && !slot.reaped {
			slot.reaped = true
			toReap = append(toReap, slot)
			delete(s.clients, id)
		}
	}
	s.mu.Unlock()

	for _, slot := range toReap {
		slot.engine.Close()
		if slot.data != nil {
			slot.data.Disconnected(slot.engine.ClientID(), slot.reason)
		}
	}
}

// Broadcast invokes f for every currently live client engine.
func (s *ClientStore) Broadcast(f func(*Engine)) {
	s.mu.Lock()
	engines := make([]*Engine, 0, len(s.clients))
	for _, slot := range s.clients {
		if !slot.dead {
			engines = append(engines, slot.engine)
		}
	}
	s.mu.Unlock()
	for _, e := range engines {
		f(e)
	}
}

func (s *ClientStore) deliverRegistryEvent(clientID uint64, ev registryEvent) {
	eng, ok := s.Get(clientID)
	if !ok {
		return
	}
	self, ok := eng.ObjectByWire(ev.wireID)
	if !ok {
		return
	}
	var args []wire.Argument
	opcode := uint16(0)
	if ev.remove {
		opcode = 1
		args = []wire.Argument{wire.Uint32Arg(ev.name)}
	} else {
		args = []wire.Argument{wire.Uint32Arg(ev.name), wire.StringArg([]byte(ev.ifaceName)), wire.Uint32Arg(ev.version)}
	}
	if _, err := eng.SendEvent(self, opcode, args, nil, nil); err == nil {
		_ = eng.Flush()
	}
}
