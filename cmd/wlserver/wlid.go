package main

import (
	"sync"

	"github.com/google/uuid"
)

// wlid tags each accepted client connection with a trace id for log
// correlation. It is not part of the wire protocol: nothing ever puts
// a trace id on the wire, this purely ties together the handful of
// log lines one connection produces.
type wlid struct {
	mu  sync.Mutex
	ids map[uint64]uuid.UUID
}

func newWlid() *wlid {
	return &wlid{ids: make(map[uint64]uuid.UUID)}
}

func (w *wlid) assign(clientID uint64) uuid.UUID {
	id := uuid.New()
	w.mu.Lock()
	w.ids[clientID] = id
	w.mu.Unlock()
	return id
}

func (w *wlid) forget(clientID uint64) {
	w.mu.Lock()
	delete(w.ids, clientID)
	w.mu.Unlock()
}

func (w *wlid) lookup(clientID uint64) (uuid.UUID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.ids[clientID]
	return id, ok
}
