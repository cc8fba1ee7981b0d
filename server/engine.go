// Package server implements the server-side Wayland protocol engine:
// a ClientStore holding one per-client Engine each, a shared Registry
// of globals, and the wl_display/wl_registry handling every client
// engine does internally.
package server

import (
	"sync"

	"github.com/gowayland/wlcore/catalog"
	"github.com/gowayland/wlcore/objects"
	"github.com/gowayland/wlcore/socket"
	"github.com/gowayland/wlcore/tracewl"
	"github.com/gowayland/wlcore/wire"
	"github.com/gowayland/wlcore/wlerr"
)

// Engine is one connected client's server-side state: mirrors
// client.Engine with requests and events swapped. Safe for concurrent
// use: the object map and socket are guarded by mu, RequestData
// callbacks run without mu held.
type Engine struct {
	mu     sync.Mutex
	sock   *socket.BufferedSocket
	objs   *objects.Map
	trace  *tracewl.Tracer
	closed bool

	lastErr error

	clientID uint64
	registry *Registry
	store    *ClientStore
}

func newClientEngine(sock *socket.BufferedSocket, clientID uint64, registry *Registry, store *ClientStore) *Engine {
	e := &Engine{
		sock:     sock,
		objs:     objects.New(),
		trace:    tracewl.New(tracewl.ModeServer),
		clientID: clientID,
		registry: registry,
		store:    store,
	}
	if _, err := e.objs.InsertAt(objects.DisplayID, objects.Object{
		Interface: catalog.WLDisplay,
		Version:   1,
		UserData:  displayData{},
	}); err != nil {
		panic("wlcore/server: failed to seed wl_display: " + err.Error())
	}
	return e
}

// ClientID returns the id this engine's ClientStore assigned it.
func (e *Engine) ClientID() uint64 { return e.clientID }

// FD returns the underlying socket descriptor, for a caller (e.g. an
// accept-loop goroutine) that wants to block in poll/epoll between
// ProcessRequests calls instead of spinning.
func (e *Engine) FD() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sock.FD()
}

// Display returns the ObjectId of the display singleton.
func (e *Engine) Display() objects.ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.displayIDLocked()
}

func (e *Engine) displayIDLocked() objects.ID {
	obj, _ := e.objs.Find(objects.DisplayID)
	return objects.ID{Wire: objects.DisplayID, Serial: obj.Serial, Interface: catalog.WLDisplay}
}

// ObjectByWire resolves a live wire id to its full ID, for callers
// (e.g. the registry's broadcast path) that only know the raw id.
func (e *Engine) ObjectByWire(wireID uint32) (objects.ID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, ok := e.objs.Find(wireID)
	if !ok {
		return objects.ID{}, false
	}
	return objects.ID{Wire: wireID, Serial: obj.Serial, Interface: obj.Interface}, true
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

	e.registry.forgetClient(e.clientID)
	for _, entry := range entries {
		if entry.Object.UserData != nil {
			entry.Object.UserData.Destroyed()
		}
	}
	return err
}

func (e *Engine) setSticky(err error) error {
	if e.lastErr == nil {
		e.lastErr = err
	}
	return e.lastErr
}

// PostError sends wl_display.error for obj, flushes, and kills this
// client: the public equivalent of the engine's own internal protocol
// error handling, for user code that detects an application-level
// protocol violation mid-request.
func (e *Engine) PostError(obj objects.ID, code uint32, message string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ifaceName := ""
	if obj.Interface != nil {
		ifaceName = obj.Interface.Name
	}
	return e.killSelfLocked(obj.Wire, ifaceName, code, message)
}

// killSelfLocked sends wl_display.error, flushes, marks the engine
// dead with a sticky ProtocolError, and schedules the client for
// reaping by the owning ClientStore. Assumes mu is already held.
//
// The wire event's object_id argument always names the display
// itself, never objID: objID is frequently the very id whose absence
// or mismatch triggered this call (an unknown object reference, a
// bad new_id, an unknown opcode), and sendEventLocked's own argument
// validation would panic trying to resolve an ObjectArg that names an
// id not present in this client's map. The display is the one object
// guaranteed always live, so it is always safe to reference. objID is
// still recorded on the sticky ProtocolError for diagnostics.
func (e *Engine) killSelfLocked(objID uint32, ifaceName string, code uint32, message string) error {
	display := e.displayIDLocked()
	_, _ = e.sendEventLocked(display, 0, []wire.Argument{
		wire.ObjectArg(display.Wire), wire.Uint32Arg(code), wire.StringArg([]byte(message)),
	}, nil, nil)
	_ = e.flushLocked()

	protoErr := wlerr.Protocol(objID, ifaceName, code, message)
	e.setSticky(protoErr)
	if e.store != nil {
		e.store.KillClient(e.clientID, protoErr)
	}
	return e.lastErr
}

func (e *Engine) sendDeleteIDLocked(id uint32) {
	display := e.displayIDLocked()
	_, _ = e.sendEventLocked(display, 1, []wire.Argument{wire.Uint32Arg(id)}, nil, nil)
}

// SendEvent validates and sends one outbound event. Any object or
// new_id argument must resolve within this client's own object map —
// sending an argument naming another client's object is a programmer
// bug and panics rather than returning an error.
func (e *Engine) SendEvent(sender objects.ID, opcode uint16, args []wire.Argument, newChildData objects.Data, placeholder *Placeholder) (objects.ID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendEventLocked(sender, opcode, args, newChildData, placeholder)
}

func (e *Engine) sendEventLocked(sender objects.ID, opcode uint16, args []wire.Argument, newChildData objects.Data, placeholder *Placeholder) (objects.ID, error) {
	if e.lastErr != nil {
		return objects.ID{}, e.lastErr
	}

	obj, err := e.objs.Lookup(sender)
	if err != nil {
		return objects.ID{}, wlerr.InvalidID(err.Error())
	}
	if int(opcode) >= len(obj.Interface.Events) {
		panic("wlcore/server: unknown event opcode for " + obj.Interface.Name)
	}
	desc := &obj.Interface.Events[opcode]

	args = append([]wire.Argument(nil), args...)
	for i, spec := range desc.Args {
		if spec.Type != wire.ArgObject {
			continue
		}
		v := args[i].Object
		if v == 0 {
			continue
		}
		if _, ok := e.objs.Find(v); !ok {
			panic("wlcore/server: event argument references an object outside this client's map")
		}
	}

	var childID objects.ID
	if desc.HasNewID() {
		childIface := desc.ChildInterface
		version := obj.Version
		if childIface == nil {
			if placeholder == nil {
				panic("wlcore/server: event " + desc.Name + " needs a placeholder interface/version")
			}
			childIface = placeholder.Interface
			version = placeholder.Version
		}
		data := newChildData
		if data == nil {
			data = pendingData{iface: childIface.Name}
		}
		childID = e.objs.ServerInsertNew(objects.Object{Interface: childIface, Version: version, UserData: data})
		args[desc.NewIDArgIndex] = wire.NewIDArg(childID.Wire)
	}

	sig := catalog.WireSignature(desc.Args)
	if err := wire.CheckSignature(sig, args); err != nil {
		panic("wlcore/server: " + err.Error())
	}

	msg := wire.Message{Sender: sender.Wire, Opcode: opcode, Args: args}
	e.trace.Outgoing(msg, obj.Interface.Name)
	if err := e.sock.Write(msg, sig); err != nil {
		if err == socket.ErrWouldBlock {
			return objects.ID{}, err
		}
		return objects.ID{}, e.setSticky(wlerr.IO("write event", err))
	}

	if desc.Destructor {
		// The server owns the id outright and frees it the instant the
		// destructor is written; there is no client ack to wait for.
		e.objs.Remove(sender.Wire)
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
	return e.flushLocked()
}

func (e *Engine) flushLocked() error {
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

func (e *Engine) signatureFor(sender uint32, opcode uint16) ([]wire.ArgSpec, error) {
	obj, ok := e.objs.Find(sender)
	if !ok {
		return nil, wlerr.Protocol(sender, "", 0, "unknown object")
	}
	if int(opcode) >= len(obj.Interface.Requests) {
		return nil, wlerr.Protocol(sender, obj.Interface.Name, uint32(catalog.DisplayErrorInvalidMethod), "unknown opcode")
	}
	return catalog.WireSignature(obj.Interface.Requests[opcode].Args), nil
}

// ProcessRequests reads and handles every currently available
// request. It returns the number of requests processed. A WouldBlock
// from the socket is not an error: it means there is nothing more to
// read right now.
func (e *Engine) ProcessRequests() (int, error) {
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
			sticky := e.killSelfLocked(0, "", 0, asProtocolError(err).Error())
			e.mu.Unlock()
			return count, sticky
		}

		if derr := e.handleOne(msg); derr != nil {
			e.mu.Unlock()
			return count, derr
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

// handleOne processes a single decoded request message. mu is held on
// entry; it is released while invoking the object's RequestData and
// reacquired before returning.
func (e *Engine) handleOne(msg wire.Message) error {
	if msg.Sender == objects.DisplayID {
		return e.handleDisplayRequest(msg)
	}

	obj, ok := e.objs.Find(msg.Sender)
	if !ok {
		return e.killSelfLocked(msg.Sender, "", uint32(catalog.DisplayErrorInvalidObject), "unknown object")
	}
	if obj.Interface.EqualByName(catalog.WLRegistry) && msg.Opcode == 0 {
		return e.handleBind(obj, msg)
	}
	if int(msg.Opcode) >= len(obj.Interface.Requests) {
		return e.killSelfLocked(msg.Sender, obj.Interface.Name, uint32(catalog.DisplayErrorInvalidMethod), "unknown opcode")
	}
	desc := &obj.Interface.Requests[msg.Opcode]
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
			return e.killSelfLocked(a.Object, "", uint32(catalog.DisplayErrorInvalidObject), "unknown object "+itoa(a.Object))
		}
		if spec.Interface != nil && !spec.Interface.EqualByName(ref.Interface) {
			return e.killSelfLocked(a.Object, ref.Interface.Name, uint32(catalog.DisplayErrorInvalidObject), "interface mismatch on object argument")
		}
	}

	var childID objects.ID
	if desc.HasNewID() {
		if desc.ChildInterface == nil {
			return e.killSelfLocked(msg.Sender, obj.Interface.Name, 0, "missing child interface for new_id request")
		}
		wireID := msg.Args[desc.NewIDArgIndex].Object
		id, err := e.objs.InsertAt(wireID, objects.Object{
			Interface: desc.ChildInterface, Version: obj.Version,
			UserData: pendingData{iface: desc.ChildInterface.Name},
		})
		if err != nil {
			return e.killSelfLocked(wireID, desc.ChildInterface.Name, 0, "cannot insert new_id: "+err.Error())
		}
		childID = id
	}

	data, ok := obj.UserData.(RequestData)
	if !ok {
		panic("wlcore/server: object " + obj.Interface.Name + " carries no RequestData")
	}
	self := objects.ID{Wire: msg.Sender, Serial: obj.Serial, Interface: obj.Interface}
	e.mu.Unlock()
	child, cbErr := data.Request(e, self, msg, desc)
	e.mu.Lock()
	if cbErr != nil {
		return e.killSelfLocked(msg.Sender, obj.Interface.Name, 0, cbErr.Error())
	}

	if desc.HasNewID() && child != nil {
		e.objs.With(childID.Wire, func(o *objects.Object) { o.UserData = child })
	}
	if desc.Destructor {
		e.objs.Remove(msg.Sender)
		if obj.UserData != nil {
			obj.UserData.Destroyed()
		}
		if msg.Sender < objects.ServerIDLimit {
			e.sendDeleteIDLocked(msg.Sender)
		}
	}
	return nil
}

// handleDisplayRequest implements the two wl_display requests the
// engine answers itself: sync (opcode 0) and get_registry (opcode 1).
func (e *Engine) handleDisplayRequest(msg wire.Message) error {
	switch msg.Opcode {
	case 0: // sync(new_id callback)
		wireID := msg.Args[0].Object
		cbID, err := e.objs.InsertAt(wireID, objects.Object{
			Interface: catalog.WLCallback, Version: 1, UserData: pendingData{iface: "wl_callback"},
		})
		if err != nil {
			return e.killSelfLocked(wireID, "wl_callback", 0, "cannot insert callback: "+err.Error())
		}
		if _, serr := e.sendEventLocked(cbID, 0, []wire.Argument{wire.Uint32Arg(0)}, nil, nil); serr != nil {
			return serr
		}
		return nil
	case 1: // get_registry(new_id registry)
		wireID := msg.Args[0].Object
		regID, err := e.objs.InsertAt(wireID, objects.Object{
			Interface: catalog.WLRegistry, Version: 1, UserData: registryData{},
		})
		if err != nil {
			return e.killSelfLocked(wireID, "wl_registry", 0, "cannot insert registry: "+err.Error())
		}
		visible := e.registry.registerWatcher(e.clientID, regID.Wire)
		for _, g := range visible {
			if _, serr := e.sendEventLocked(regID, 0, []wire.Argument{
				wire.Uint32Arg(g.name), wire.StringArg([]byte(g.iface.Name)), wire.Uint32Arg(g.version),
			}, nil, nil); serr != nil {
				return serr
			}
		}
		return nil
	default:
		return e.killSelfLocked(msg.Sender, "wl_display", uint32(catalog.DisplayErrorInvalidMethod), "unknown opcode")
	}
}

// handleBind implements wl_registry.bind, validating the requested
// global and installing the real data handler the global's callback
// produces.
func (e *Engine) handleBind(obj objects.Object, msg wire.Message) error {
	name := msg.Args[0].Uint
	ifaceName := string(msg.Args[1].Str)
	version := msg.Args[2].Uint
	newWireID := msg.Args[3].Object

	g, ok := e.registry.lookup(name)
	if !ok || g.disabled || !g.alive {
		return e.killSelfLocked(msg.Sender, "wl_registry", uint32(catalog.DisplayErrorInvalidObject), "bind: unknown or disabled global")
	}
	if !g.handler.CanView(e.clientID) {
		return e.killSelfLocked(msg.Sender, "wl_registry", uint32(catalog.DisplayErrorInvalidObject), "bind: global not visible to this client")
	}
	if ifaceName != g.iface.Name || version > g.version {
		return e.killSelfLocked(msg.Sender, "wl_registry", uint32(catalog.DisplayErrorInvalidMethod), "bind: interface/version mismatch")
	}

	childID, err := e.objs.InsertAt(newWireID, objects.Object{
		Interface: g.iface, Version: version, UserData: pendingData{iface: g.iface.Name},
	})
	if err != nil {
		return e.killSelfLocked(newWireID, g.iface.Name, 0, "bind: cannot insert object: "+err.Error())
	}

	e.mu.Unlock()
	data, berr := g.handler.Bind(e, childID, version)
	e.mu.Lock()
	if berr != nil {
		return e.killSelfLocked(newWireID, g.iface.Name, 0, "bind: handler error: "+berr.Error())
	}
	if data != nil {
		e.objs.With(childID.Wire, func(o *objects.Object) { o.UserData = data })
	}
	return nil
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
