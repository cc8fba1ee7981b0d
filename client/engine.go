// Package client implements the client-side Wayland protocol engine.
// One Engine owns one connection — one BufferedSocket
// plus one object Map — and serializes outbound requests while
// dispatching inbound events to per-object ObjectData callbacks.
package client

import (
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/gowayland/wlcore/catalog"
	"github.com/gowayland/wlcore/objects"
	"github.com/gowayland/wlcore/socket"
	"github.com/gowayland/wlcore/tracewl"
	"github.com/gowayland/wlcore/wire"
	"github.com/gowayland/wlcore/wlerr"
)

// Engine is one client-side connection. It is safe for concurrent
// use: the object map and socket are guarded by mu, while ObjectData
// callbacks run without mu held.
type Engine struct {
	mu     sync.Mutex
	sock   *socket.BufferedSocket
	objs   *objects.Map
	trace  *tracewl.Tracer
	closed bool

	lastErr error // sticky, returned verbatim by every call once set

	readMu      sync.Mutex
	readCond    *sync.Cond
	readerCount int
}

// New wraps an already-connected display socket. It seeds the object
// map with the wl_display singleton at wire id 1.
func New(conn *net.UnixConn) (*Engine, error) {
	sock, err := socket.New(conn)
	if err != nil {
		return nil, wlerr.NoTransport("construct client socket", err)
	}
	return newEngine(sock), nil
}

// NewFromSocket builds an Engine directly atop an already-constructed
// BufferedSocket, for callers (tests, or a server demo bridging two
// engines over a socketpair) that do not start from a net.UnixConn.
func NewFromSocket(sock *socket.BufferedSocket) *Engine {
	return newEngine(sock)
}

func newEngine(sock *socket.BufferedSocket) *Engine {
	e := &Engine{
		sock:  sock,
		objs:  objects.New(),
		trace: tracewl.New(tracewl.ModeClient),
	}
	e.readCond = sync.NewCond(&e.readMu)
	if _, err := e.objs.InsertAt(objects.DisplayID, objects.Object{
		Interface: catalog.WLDisplay,
		Version:   1,
		UserData:  displayData{},
	}); err != nil {
		panic("wlcore/client: failed to seed wl_display: " + err.Error())
	}
	return e
}

// Display returns the ObjectId of the display singleton.
func (e *Engine) Display() objects.ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, _ := e.objs.Find(objects.DisplayID)
	return objects.ID{Wire: objects.DisplayID, Serial: obj.Serial, Interface: catalog.WLDisplay}
}

// FD returns the underlying socket descriptor, for a caller that wants
// to block in poll/epoll between DispatchEvents calls instead of
// spinning.
func (e *Engine) FD() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sock.FD()
}

// Close tears the connection down, invoking Destroyed on every
// surviving object exactly once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	entries := e.objs.AllObjects()
	err := e.sock.Close()
	e.mu.Unlock()

	for _, entry := range entries {
		// Entries already client-destroyed had Destroyed invoked when the
		// destructor was sent or received; they only await delete_id.
		if entry.Object.UserData != nil && !entry.Object.ClientDestroyed {
			entry.Object.UserData.Destroyed()
		}
	}
	return err
}

// setSticky records the first error seen on this connection; every
// later public call returns it verbatim.
func (e *Engine) setSticky(err error) error {
	if e.lastErr == nil {
		e.lastErr = err
	}
	return e.lastErr
}

// SendRequest validates and sends one outbound request, allocating a
// new object id when the request carries a new_id argument.
func (e *Engine) SendRequest(sender objects.ID, opcode uint16, args []wire.Argument, newChildData objects.Data, placeholder *Placeholder) (objects.ID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastErr != nil {
		return objects.ID{}, e.lastErr
	}

	obj, err := e.objs.Lookup(sender)
	if err != nil {
		return objects.ID{}, wlerr.InvalidID(err.Error())
	}
	if obj.ClientDestroyed {
		return objects.ID{}, wlerr.InvalidID("object already destroyed")
	}
	if int(opcode) >= len(obj.Interface.Requests) {
		panic("wlcore/client: unknown request opcode for " + obj.Interface.Name)
	}
	desc := &obj.Interface.Requests[opcode]

	args = append([]wire.Argument(nil), args...)
	var childID objects.ID
	if desc.HasNewID() {
		childIface := desc.ChildInterface
		version := obj.Version
		if childIface == nil {
			if placeholder == nil {
				panic("wlcore/client: request " + desc.Name + " needs a placeholder interface/version")
			}
			childIface = placeholder.Interface
			version = placeholder.Version
		}
		data := newChildData
		if data == nil {
			data = pendingData{iface: childIface.Name}
		}
		childID = e.objs.ClientInsertNew(objects.Object{Interface: childIface, Version: version, UserData: data})
		args[desc.NewIDArgIndex] = wire.NewIDArg(childID.Wire)
	}

	sig := catalog.WireSignature(desc.Args)
	if err := wire.CheckSignature(sig, args); err != nil {
		panic("wlcore/client: " + err.Error())
	}

	msg := wire.Message{Sender: sender.Wire, Opcode: opcode, Args: args}
	e.trace.Outgoing(msg, obj.Interface.Name)
	if err := e.sock.Write(msg, sig); err != nil {
		if err == socket.ErrWouldBlock {
			return objects.ID{}, err
		}
		return objects.ID{}, e.setSticky(wlerr.IO("write request", err))
	}

	if desc.Destructor {
		e.objs.With(sender.Wire, func(o *objects.Object) { o.ClientDestroyed = true })
		if obj.UserData != nil {
			obj.UserData.Destroyed()
		}
	}
	return childID, nil
}

// Flush pushes any buffered outbound bytes to the socket.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastErr != nil {
		return e.lastErr
	}
	if err := e.sock.Flush(); err != nil {
		if err == socket.ErrWouldBlock {
			return err
		}
		return e.setSticky(wlerr.IO("flush", err))
	}
	return nil
}

// signatureFor resolves (sender, opcode) to a wire signature for the
// socket's read path.
func (e *Engine) signatureFor(sender uint32, opcode uint16) ([]wire.ArgSpec, error) {
	obj, ok := e.objs.Find(sender)
	if !ok {
		return nil, wlerr.Protocol(sender, "", 0, "unknown object")
	}
	if int(opcode) >= len(obj.Interface.Events) {
		return nil, wlerr.Protocol(sender, obj.Interface.Name, uint32(catalog.DisplayErrorInvalidMethod), "unknown opcode")
	}
	return catalog.WireSignature(obj.Interface.Events[opcode].Args), nil
}

// DispatchEvents reads and handles every currently available event.
// It returns the number of events dispatched. A WouldBlock from the
// socket is not an error:
// it simply means there is nothing more to read right now.
func (e *Engine) DispatchEvents() (int, error) {
	return e.dispatchOnce()
}

func (e *Engine) dispatchOnce() (int, error) {
	e.mu.Lock()
	if e.lastErr != nil {
		err := e.lastErr
		e.mu.Unlock()
		return 0, err
	}

	count := 0
	for {
		msg, err := e.sock.ReadOne(e.signatureFor)
		if err == wire.ErrNeedMoreBytes || err == wire.ErrNeedMoreFDs {
			if ferr := e.sock.FillIncoming(); ferr != nil {
				if ferr == socket.ErrWouldBlock {
					e.mu.Unlock()
					return count, nil
				}
				sticky := e.setSticky(wlerr.IO("fill incoming", ferr))
				e.mu.Unlock()
				return count, sticky
			}
			continue
		}
		if err != nil {
			sticky := e.setSticky(asProtocolError(err))
			e.mu.Unlock()
			return count, sticky
		}

		if derr := e.handleOne(msg); derr != nil {
			sticky := e.setSticky(derr)
			e.mu.Unlock()
			return count, sticky
		}
		count++
	}
}

func asProtocolError(err error) error {
	if _, ok := err.(*wlerr.Error); ok {
		return err
	}
	if _, ok := err.(*wire.Malformed); ok {
		return wlerr.Malformed(err.Error())
	}
	return wlerr.Protocol(0, "", 0, err.Error())
}

// handleOne processes a single decoded event message. mu is held on
// entry; it is released while invoking user callbacks and
// reacquired before returning, since object-data handlers must run
// without the engine lock held.
func (e *Engine) handleOne(msg wire.Message) error {
	if msg.Sender == objects.DisplayID {
		return e.handleDisplayEvent(msg)
	}

	obj, ok := e.objs.Find(msg.Sender)
	if !ok {
		return wlerr.Protocol(msg.Sender, "", 0, "unknown object")
	}
	if int(msg.Opcode) >= len(obj.Interface.Events) {
		return wlerr.Protocol(msg.Sender, obj.Interface.Name, uint32(catalog.DisplayErrorInvalidMethod), "unknown opcode")
	}
	desc := &obj.Interface.Events[msg.Opcode]
	e.trace.Incoming(msg, obj.Interface.Name)

	for i, spec := range desc.Args {
		if spec.Type != wire.ArgObject {
			continue
		}
		a := msg.Args[i]
		if a.Object == 0 {
			continue
		}
		ref, ok := e.objs.Find(a.Object)
		if !ok {
			return wlerr.Protocol(0, "", 0, "Unknown object "+itoa(a.Object)+".")
		}
		if spec.Interface != nil && !spec.Interface.EqualByName(ref.Interface) {
			return wlerr.Protocol(0, ref.Interface.Name, 0, "interface mismatch on object argument")
		}
	}

	var childID objects.ID
	if desc.HasNewID() {
		if desc.ChildInterface == nil {
			return wlerr.Protocol(msg.Sender, obj.Interface.Name, 0, "missing child interface for new_id event")
		}
		wireID := msg.Args[desc.NewIDArgIndex].Object
		if existing, ok := e.objs.Find(wireID); ok && existing.ClientDestroyed {
			e.objs.Remove(wireID)
		}
		id, err := e.objs.InsertAt(wireID, objects.Object{
			Interface: desc.ChildInterface,
			Version:   obj.Version,
			UserData:  pendingData{iface: desc.ChildInterface.Name},
		})
		if err != nil {
			return wlerr.Protocol(wireID, desc.ChildInterface.Name, 0, "cannot insert new_id: "+err.Error())
		}
		childID = id
	}

	if obj.ClientDestroyed {
		closeCarriedFDs(msg)
		return nil
	}

	if desc.Destructor {
		e.objs.With(msg.Sender, func(o *objects.Object) { o.ClientDestroyed = true })
	}

	data := obj.UserData
	self := objects.ID{Wire: msg.Sender, Serial: obj.Serial, Interface: obj.Interface}
	e.mu.Unlock()
	child, cbErr := data.Event(e, self, msg, desc)
	e.mu.Lock()
	if cbErr != nil {
		return cbErr
	}

	if desc.HasNewID() && child != nil {
		e.objs.With(childID.Wire, func(o *objects.Object) { o.UserData = child })
	}
	if desc.Destructor {
		data.Destroyed()
	}
	return nil
}

func closeCarriedFDs(msg wire.Message) {
	for _, a := range msg.Args {
		if a.Type == wire.ArgFD {
			unix.Close(a.FD)
		}
	}
}

// handleDisplayEvent implements the two wl_display events the engine
// intercepts itself: error (opcode 0) and delete_id (opcode 1).
func (e *Engine) handleDisplayEvent(msg wire.Message) error {
	switch msg.Opcode {
	case 0: // error(object, code, message)
		objID := msg.Args[0].Object
		code := msg.Args[1].Uint
		text := string(msg.Args[2].Str)
		ifaceName := ""
		if obj, ok := e.objs.Find(objID); ok {
			ifaceName = obj.Interface.Name
		}
		return wlerr.Protocol(objID, ifaceName, code, text)
	case 1: // delete_id(id)
		id := msg.Args[0].Uint
		e.objs.With(id, func(o *objects.Object) { o.ServerDestroyed = true })
		if obj, ok := e.objs.Find(id); ok && obj.ClientDestroyed {
			e.objs.Remove(id)
		}
		return nil
	default:
		return wlerr.Protocol(msg.Sender, "wl_display", uint32(catalog.DisplayErrorInvalidMethod), "unknown opcode")
	}
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
