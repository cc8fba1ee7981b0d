package client

import "errors"

// ReadGuard implements a read-coordination protocol: multiple threads
// may each declare intent to read before exactly one of them performs
// the actual recvmsg + dispatch, waking the rest via a condition
// variable. Grounded on the classic
// wl_display_prepare_read/wl_display_read_events handshake, expressed
// with a plain sync.Mutex/sync.Cond pair instead of libwayland's
// pthread primitives.
type ReadGuard struct {
	eng    *Engine
	active bool
}

// TryNewReadGuard declares this caller's intent to read and returns a
// guard. The caller must eventually call Read or Cancel on it.
func (e *Engine) TryNewReadGuard() *ReadGuard {
	e.readMu.Lock()
	e.readerCount++
	e.readMu.Unlock()
	return &ReadGuard{eng: e, active: true}
}

// Cancel withdraws this guard's declared intent without reading.
// Safe to call after Read has already consumed the guard (a no-op).
func (g *ReadGuard) Cancel() {
	if !g.active {
		return
	}
	g.active = false
	eng := g.eng
	eng.readMu.Lock()
	eng.readerCount--
	eng.readMu.Unlock()
	eng.readCond.Broadcast()
}

var errGuardConsumed = errors.New("wlcore/client: read guard already consumed")

// Read blocks until every other thread that declared intent via
// TryNewReadGuard has also called Read, then exactly one of them
// performs the socket read and dispatch; the others return
// dispatched=0 without touching the socket. It consumes the guard:
// calling Read or Cancel again is an error (Read) or a no-op
// (Cancel).
func (g *ReadGuard) Read() (dispatched int, err error) {
	if !g.active {
		return 0, errGuardConsumed
	}
	g.active = false
	eng := g.eng

	eng.readMu.Lock()
	eng.readerCount--
	if eng.readerCount > 0 {
		// Other threads still owe a Read call for this round; wait for
		// whichever one is elected to finish and broadcast.
		eng.readCond.Wait()
		eng.readMu.Unlock()
		return 0, nil
	}
	eng.readMu.Unlock()

	n, derr := eng.dispatchOnce()

	eng.readMu.Lock()
	eng.readCond.Broadcast()
	eng.readMu.Unlock()
	return n, derr
}
