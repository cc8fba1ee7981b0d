package socket

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/gowayland/wlcore/wire"
)

func newPair(t *testing.T) (*BufferedSocket, *BufferedSocket) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	a, err := NewFromFD(fds[0])
	if err != nil {
		t.Fatalf("NewFromFD a: %v", err)
	}
	b, err := NewFromFD(fds[1])
	if err != nil {
		t.Fatalf("NewFromFD b: %v", err)
	}
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestWriteFlushReadOne(t *testing.T) {
	a, b := newPair(t)
	sig := []wire.ArgSpec{{Type: wire.ArgUint}}
	msg := wire.Message{Sender: 1, Opcode: 0, Args: []wire.Argument{wire.Uint32Arg(42)}}
	if err := a.Write(msg, sig); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := a.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := b.FillIncoming(); err != nil {
		t.Fatalf("FillIncoming: %v", err)
	}
	got, err := b.ReadOne(func(sender uint32, opcode uint16) ([]wire.ArgSpec, error) { return sig, nil })
	if err != nil {
		t.Fatalf("ReadOne: %v", err)
	}
	if got.Args[0].Uint != 42 {
		t.Fatalf("got %+v", got)
	}
}

func TestReadOneNeedsMoreBytesThenFillIncoming(t *testing.T) {
	a, b := newPair(t)
	sig := []wire.ArgSpec{{Type: wire.ArgUint}, {Type: wire.ArgUint}}
	msg := wire.Message{Sender: 1, Opcode: 0, Args: []wire.Argument{wire.Uint32Arg(1), wire.Uint32Arg(2)}}
	if err := a.Write(msg, sig); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := a.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	sigFn := func(sender uint32, opcode uint16) ([]wire.ArgSpec, error) { return sig, nil }
	if _, err := b.ReadOne(sigFn); err != wire.ErrNeedMoreBytes {
		t.Fatalf("expected ErrNeedMoreBytes before FillIncoming, got %v", err)
	}
	if err := b.FillIncoming(); err != nil {
		t.Fatalf("FillIncoming: %v", err)
	}
	msg2, err := b.ReadOne(sigFn)
	if err != nil {
		t.Fatalf("ReadOne: %v", err)
	}
	if msg2.Args[0].Uint != 1 || msg2.Args[1].Uint != 2 {
		t.Fatalf("got %+v", msg2)
	}
}

func TestFDPassing(t *testing.T) {
	a, b := newPair(t)
	tmp, err := os.CreateTemp("", "wlcore-socket-test")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	sig := []wire.ArgSpec{{Type: wire.ArgFD}}
	msg := wire.Message{Sender: 1, Opcode: 0, Args: []wire.Argument{wire.FDArg(int(tmp.Fd()))}}
	if err := a.Write(msg, sig); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := a.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := b.FillIncoming(); err != nil {
		t.Fatalf("FillIncoming: %v", err)
	}
	got, err := b.ReadOne(func(sender uint32, opcode uint16) ([]wire.ArgSpec, error) { return sig, nil })
	if err != nil {
		t.Fatalf("ReadOne: %v", err)
	}
	var wantStat, gotStat unix.Stat_t
	if err := unix.Fstat(int(tmp.Fd()), &wantStat); err != nil {
		t.Fatalf("fstat want: %v", err)
	}
	if err := unix.Fstat(got.Args[0].FD, &gotStat); err != nil {
		t.Fatalf("fstat got: %v", err)
	}
	if wantStat.Ino != gotStat.Ino || wantStat.Dev != gotStat.Dev {
		t.Fatalf("received fd does not refer to the same file: want ino %d dev %d, got ino %d dev %d",
			wantStat.Ino, wantStat.Dev, gotStat.Ino, gotStat.Dev)
	}
	unix.Close(got.Args[0].FD)
}
