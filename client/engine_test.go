package client

import (
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/gowayland/wlcore/catalog"
	"github.com/gowayland/wlcore/objects"
	"github.com/gowayland/wlcore/socket"
	"github.com/gowayland/wlcore/wire"
	"github.com/gowayland/wlcore/wlerr"
)

// rawPeer drives the "server" end of a socketpair with plain wire
// calls, standing in for a compositor the tests don't need a full
// server engine to exercise the client engine against.
type rawPeer struct {
	t    *testing.T
	sock *socket.BufferedSocket
	sig  func(sender uint32, opcode uint16) ([]wire.ArgSpec, error)
}

func newEnginePair(t *testing.T) (*Engine, *rawPeer) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	clientSock, err := socket.NewFromFD(fds[0])
	if err != nil {
		t.Fatalf("client socket: %v", err)
	}
	peerSock, err := socket.NewFromFD(fds[1])
	if err != nil {
		t.Fatalf("peer socket: %v", err)
	}
	eng := NewFromSocket(clientSock)
	t.Cleanup(func() { eng.Close() })
	peer := &rawPeer{t: t, sock: peerSock}
	t.Cleanup(func() { peerSock.Close() })
	return eng, peer
}

func (p *rawPeer) read(sig []wire.ArgSpec) wire.Message {
	p.t.Helper()
	for {
		msg, err := p.sock.ReadOne(func(uint32, uint16) ([]wire.ArgSpec, error) { return sig, nil })
		if err == wire.ErrNeedMoreBytes || err == wire.ErrNeedMoreFDs {
			if ferr := p.sock.FillIncoming(); ferr != nil {
				p.t.Fatalf("fill incoming: %v", ferr)
			}
			continue
		}
		if err != nil {
			p.t.Fatalf("peer read: %v", err)
		}
		return msg
	}
}

func (p *rawPeer) send(msg wire.Message, sig []wire.ArgSpec) {
	p.t.Helper()
	if err := p.sock.Write(msg, sig); err != nil {
		p.t.Fatalf("peer write: %v", err)
	}
	if err := p.sock.Flush(); err != nil {
		p.t.Fatalf("peer flush: %v", err)
	}
}

type callbackData struct {
	done chan uint32
}

func (c *callbackData) Destroyed() {}
func (c *callbackData) Event(eng *Engine, self objects.ID, msg wire.Message, desc *catalog.MessageDesc) (objects.Data, error) {
	c.done <- msg.Args[0].Uint
	return nil, nil
}

func TestHandshakeSyncAndDeleteID(t *testing.T) {
	eng, peer := newEnginePair(t)

	cb := &callbackData{done: make(chan uint32, 1)}
	display := eng.Display()
	childID, err := eng.SendRequest(display, 0, []wire.Argument{wire.NewIDArg(0)}, cb, nil)
	if err != nil {
		t.Fatalf("SendRequest sync: %v", err)
	}
	if err := eng.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	syncSig := catalog.WireSignature(catalog.WLDisplay.Requests[0].Args)
	got := peer.read(syncSig)
	if got.Sender != 1 || got.Opcode != 0 {
		t.Fatalf("unexpected sync message: %+v", got)
	}
	if got.Args[0].Object != childID.Wire {
		t.Fatalf("callback id mismatch: wire said %d, engine allocated %d", got.Args[0].Object, childID.Wire)
	}

	doneSig := catalog.WireSignature(catalog.WLCallback.Events[0].Args)
	peer.send(wire.Message{Sender: childID.Wire, Opcode: 0, Args: []wire.Argument{wire.Uint32Arg(0)}}, doneSig)
	deleteSig := catalog.WireSignature(catalog.WLDisplay.Events[1].Args)
	peer.send(wire.Message{Sender: 1, Opcode: 1, Args: []wire.Argument{wire.Uint32Arg(childID.Wire)}}, deleteSig)

	n, err := eng.DispatchEvents()
	if err != nil {
		t.Fatalf("DispatchEvents: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 events dispatched, got %d", n)
	}
	select {
	case v := <-cb.done:
		if v != 0 {
			t.Fatalf("callback data = %d, want 0", v)
		}
	default:
		t.Fatal("callback's done was never invoked")
	}

	reused, err := eng.SendRequest(display, 0, []wire.Argument{wire.NewIDArg(0)}, &callbackData{done: make(chan uint32, 1)}, nil)
	if err != nil {
		t.Fatalf("second SendRequest: %v", err)
	}
	if reused.Wire != childID.Wire {
		t.Fatalf("expected wire id %d to be reused after delete_id, got %d", childID.Wire, reused.Wire)
	}
	if reused.Serial == childID.Serial {
		t.Fatal("reused wire id must carry a fresh serial")
	}
}

type registryData struct {
	globals map[uint32]struct {
		iface   string
		version uint32
	}
}

func (r *registryData) Destroyed() {}
func (r *registryData) Event(eng *Engine, self objects.ID, msg wire.Message, desc *catalog.MessageDesc) (objects.Data, error) {
	if desc.Name == "global" {
		if r.globals == nil {
			r.globals = map[uint32]struct {
				iface   string
				version uint32
			}{}
		}
		r.globals[msg.Args[0].Uint] = struct {
			iface   string
			version uint32
		}{string(msg.Args[1].Str), msg.Args[2].Uint}
	}
	return nil, nil
}

type boundData struct{}

func (boundData) Destroyed() {}
func (boundData) Event(*Engine, objects.ID, wire.Message, *catalog.MessageDesc) (objects.Data, error) {
	return nil, nil
}

func TestBindViaRegistry(t *testing.T) {
	eng, peer := newEnginePair(t)
	display := eng.Display()

	reg := &registryData{}
	regID, err := eng.SendRequest(display, 1, []wire.Argument{wire.NewIDArg(0)}, reg, nil)
	if err != nil {
		t.Fatalf("get_registry: %v", err)
	}
	if err := eng.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	getRegSig := catalog.WireSignature(catalog.WLDisplay.Requests[1].Args)
	peer.read(getRegSig)

	globalSig := catalog.WireSignature(catalog.WLRegistry.Events[0].Args)
	peer.send(wire.Message{Sender: regID.Wire, Opcode: 0, Args: []wire.Argument{
		wire.Uint32Arg(1), wire.StringArg([]byte("test_global")), wire.Uint32Arg(5),
	}}, globalSig)
	peer.send(wire.Message{Sender: regID.Wire, Opcode: 0, Args: []wire.Argument{
		wire.Uint32Arg(2), wire.StringArg([]byte("secondary")), wire.Uint32Arg(2),
	}}, globalSig)

	if _, err := eng.DispatchEvents(); err != nil {
		t.Fatalf("DispatchEvents: %v", err)
	}
	if len(reg.globals) != 2 {
		t.Fatalf("expected 2 globals, got %+v", reg.globals)
	}

	testGlobalIface := &catalog.Interface{Name: "test_global", Version: 5}
	placeholder := &Placeholder{Interface: testGlobalIface, Version: 5}
	bindArgs := []wire.Argument{
		wire.Uint32Arg(1),
		wire.StringArg([]byte("test_global")),
		wire.Uint32Arg(5),
		wire.NewIDArg(0), // placeholder, filled in by SendRequest
	}
	boundID, err := eng.SendRequest(regID, 0, bindArgs, boundData{}, placeholder)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := eng.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	bindSig := catalog.WireSignature(catalog.WLRegistry.Requests[0].Args)
	gotBind := peer.read(bindSig)
	if gotBind.Args[3].Object != boundID.Wire {
		t.Fatalf("bind new_id mismatch")
	}
	if boundID.Interface.Name != "test_global" {
		t.Fatalf("bound object interface = %s, want test_global", boundID.Interface.Name)
	}
}

func TestProtocolErrorOnUnknownObjectReference(t *testing.T) {
	eng, peer := newEnginePair(t)
	// An event on sender id 99, which the client never saw, referencing
	// itself as its own "object" arg via wl_display.error's shape is
	// simplest to trigger directly: send an event for an unknown sender.
	sig := []wire.ArgSpec{{Type: wire.ArgUint}}
	peer.send(wire.Message{Sender: 99, Opcode: 0, Args: []wire.Argument{wire.Uint32Arg(1)}}, sig)

	if _, err := eng.DispatchEvents(); err == nil {
		t.Fatal("expected a protocol error for unknown sender")
	}

	// Sticky: every subsequent call returns the same error.
	display := eng.Display()
	if _, err := eng.SendRequest(display, 0, nil, nil, nil); err == nil {
		t.Fatal("expected sticky error to propagate to SendRequest")
	}
	if _, err := eng.DispatchEvents(); err == nil {
		t.Fatal("expected sticky error to propagate to DispatchEvents")
	}
}

func TestProtocolErrorOnUnknownArgObjectReference(t *testing.T) {
	eng, peer := newEnginePair(t)

	// An ad hoc interface whose sole event carries an ArgObject argument,
	// so the per-arg object-reference check in handleOne has something to
	// validate beyond the sender id itself.
	refIface := &catalog.Interface{
		Name:    "test_ref_object",
		Version: 1,
		Events: []catalog.MessageDesc{
			{Name: "notify", Args: []catalog.ArgSpec{{ArgSpec: wire.ArgSpec{Type: wire.ArgObject}}}, NewIDArgIndex: -1},
		},
	}
	data := &destructibleData{}
	id := eng.objs.ClientInsertNew(objects.Object{Interface: refIface, Version: 1, UserData: data})

	notifySig := catalog.WireSignature(refIface.Events[0].Args)
	const unknownID = 99
	peer.send(wire.Message{Sender: id.Wire, Opcode: 0, Args: []wire.Argument{wire.ObjectArg(unknownID)}}, notifySig)

	_, err := eng.DispatchEvents()
	if err == nil {
		t.Fatal("expected a protocol error for an unknown object argument reference")
	}
	protoErr, ok := err.(*wlerr.Error)
	if !ok {
		t.Fatalf("expected *wlerr.Error, got %T", err)
	}
	if protoErr.Kind != wlerr.KindProtocol {
		t.Fatalf("Kind = %v, want KindProtocol", protoErr.Kind)
	}
	if protoErr.ObjectID != 0 {
		t.Fatalf("ObjectID = %d, want 0 (the sender is known; only the referenced id is unknown)", protoErr.ObjectID)
	}
	if protoErr.Code != 0 {
		t.Fatalf("Code = %d, want 0", protoErr.Code)
	}

	// Sticky: every subsequent call returns the same error.
	display := eng.Display()
	if _, err := eng.SendRequest(display, 0, nil, nil, nil); err == nil {
		t.Fatal("expected sticky error to propagate to SendRequest")
	}
}

type destructibleData struct{ destroyedCount int }

func (d *destructibleData) Destroyed() { d.destroyedCount++ }
func (d *destructibleData) Event(*Engine, objects.ID, wire.Message, *catalog.MessageDesc) (objects.Data, error) {
	return nil, nil
}

func TestDestructorThenStaleEventDropsSilentlyAndClosesFDs(t *testing.T) {
	eng, peer := newEnginePair(t)
	display := eng.Display()

	// Borrow wl_callback's shape as a stand-in "destructible" interface
	// with an extra fd-carrying event for this test; wl_callback.done
	// itself carries no fd, so we build a tiny ad hoc interface instead.
	fdIface := &catalog.Interface{
		Name:    "test_fd_object",
		Version: 1,
		Events: []catalog.MessageDesc{
			{Name: "ping", Args: []catalog.ArgSpec{{ArgSpec: wire.ArgSpec{Type: wire.ArgFD}}}, NewIDArgIndex: -1},
		},
		Requests: []catalog.MessageDesc{
			{Name: "destroy", Destructor: true, NewIDArgIndex: -1},
		},
	}
	data := &destructibleData{}
	id := eng.objs.ClientInsertNew(objects.Object{Interface: fdIface, Version: 1, UserData: data})

	objID := objects.ID{Wire: id.Wire, Serial: id.Serial, Interface: fdIface}
	if _, err := eng.SendRequest(objID, 0, nil, nil, nil); err != nil {
		t.Fatalf("destroy request: %v", err)
	}
	if err := eng.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if data.destroyedCount != 1 {
		t.Fatalf("Destroyed should fire once on local destructor send, got %d", data.destroyedCount)
	}

	tmp, err := os.CreateTemp("", "wlcore-stale-event")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	before := countOpenFDsForFile(t, tmp)

	pingSig := catalog.WireSignature(fdIface.Events[0].Args)
	peer.send(wire.Message{Sender: id.Wire, Opcode: 0, Args: []wire.Argument{wire.FDArg(int(tmp.Fd()))}}, pingSig)

	n, err := eng.DispatchEvents()
	if err != nil {
		t.Fatalf("DispatchEvents: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 message processed (and dropped), got %d", n)
	}
	if data.destroyedCount != 1 {
		t.Fatal("Destroyed must not fire again for a dropped event")
	}

	after := countOpenFDsForFile(t, tmp)
	if after != before {
		t.Fatalf("expected the carried fd to be closed: before=%d after=%d", before, after)
	}
}

func countOpenFDsForFile(t *testing.T, f *os.File) int {
	t.Helper()
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		t.Fatalf("fstat: %v", err)
	}
	count := 0
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skip("no /proc/self/fd on this platform")
	}
	for _, e := range entries {
		fd, err := os.Readlink("/proc/self/fd/" + e.Name())
		_ = fd
		if err != nil {
			continue
		}
		n, err := parseFD(e.Name())
		if err != nil {
			continue
		}
		var s unix.Stat_t
		if unix.Fstat(n, &s) == nil && s.Ino == st.Ino && s.Dev == st.Dev {
			count++
		}
	}
	return count
}

func parseFD(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

func TestReadGuardSerialization(t *testing.T) {
	eng, peer := newEnginePair(t)
	display := eng.Display()
	cb := &callbackData{done: make(chan uint32, 1)}
	childID, err := eng.SendRequest(display, 0, []wire.Argument{wire.NewIDArg(0)}, cb, nil)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := eng.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	syncSig := catalog.WireSignature(catalog.WLDisplay.Requests[0].Args)
	peer.read(syncSig)
	doneSig := catalog.WireSignature(catalog.WLCallback.Events[0].Args)
	peer.send(wire.Message{Sender: childID.Wire, Opcode: 0, Args: []wire.Argument{wire.Uint32Arg(7)}}, doneSig)

	g1 := eng.TryNewReadGuard()
	g2 := eng.TryNewReadGuard()

	results := make(chan int, 2)
	go func() {
		n, err := g1.Read()
		if err != nil {
			t.Errorf("g1.Read: %v", err)
		}
		results <- n
	}()
	go func() {
		time.Sleep(20 * time.Millisecond) // let g1 reach the wait/elect point
		n, err := g2.Read()
		if err != nil {
			t.Errorf("g2.Read: %v", err)
		}
		results <- n
	}()

	total := 0
	for i := 0; i < 2; i++ {
		select {
		case n := <-results:
			total += n
		case <-time.After(2 * time.Second):
			t.Fatal("deadlock: read guards never completed")
		}
	}
	if total != 1 {
		t.Fatalf("expected exactly one guard to perform the read (dispatched=1 total), got %d", total)
	}
}
