// Package socket implements the framed, non-blocking transport a
// Wayland connection rides on: a buffered wrapper around one
// AF_UNIX/SOCK_STREAM descriptor that ferries bytes and SCM_RIGHTS
// file descriptors in lock step.
//
// Raw unix.Sendmsg/unix.UnixRights calls are generalized into a
// ring-buffered, autoflushing socket so callers never issue a syscall
// per message.
package socket

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/gowayland/wlcore/wire"
)

// Minimum ring capacities: enough for one maximum-size message.
const (
	MinBytesCapacity = 4096
	MinFDCapacity    = 28
)

// ErrWouldBlock reports that the operation could not complete without
// blocking on the socket; the application should poll the fd and
// retry.
var ErrWouldBlock = errors.New("socket: would block")

// BufferedSocket wraps one non-blocking stream socket with inbound
// and outbound byte/fd rings.
type BufferedSocket struct {
	fd     int
	file   *os.File // nil when constructed from a bare fd (NewFromFD)
	closed bool

	in    *byteRing
	inFDs *fdRing

	out    *byteRing
	outFDs *fdRing
}

// New wraps an already-connected *net.UnixConn. It duplicates the
// connection's descriptor (the caller remains free to close conn
// independently) and puts the duplicate in non-blocking mode.
func New(conn *net.UnixConn) (*BufferedSocket, error) {
	file, err := conn.File()
	if err != nil {
		return nil, fmt.Errorf("socket: dup underlying fd: %w", err)
	}
	fd := int(file.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		file.Close()
		return nil, fmt.Errorf("socket: set nonblocking: %w", err)
	}
	// file keeps the duplicated descriptor alive; it is closed
	// explicitly by BufferedSocket.Close rather than left to the
	// garbage collector's finalizer.
	bs := &BufferedSocket{
		fd:     fd,
		file:   file,
		in:     newByteRing(MinBytesCapacity),
		inFDs:  newFDRing(MinFDCapacity),
		out:    newByteRing(MinBytesCapacity),
		outFDs: newFDRing(MinFDCapacity),
	}
	return bs, nil
}

// NewFromFD wraps a raw descriptor directly, putting it in
// non-blocking mode — for descriptors that do not come through a
// net.UnixConn, such as either end of a unix.Socketpair.
func NewFromFD(fd int) (*BufferedSocket, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("socket: set nonblocking: %w", err)
	}
	return &BufferedSocket{
		fd:     fd,
		in:     newByteRing(MinBytesCapacity),
		inFDs:  newFDRing(MinFDCapacity),
		out:    newByteRing(MinBytesCapacity),
		outFDs: newFDRing(MinFDCapacity),
	}, nil
}

// Close releases the underlying descriptor. Any FDs still queued
// in either ring are closed too, since nothing will ever consume
// them.
func (s *BufferedSocket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for _, fd := range s.inFDs.Clear() {
		unix.Close(fd)
	}
	for _, fd := range s.outFDs.Clear() {
		unix.Close(fd)
	}
	if s.file != nil {
		return s.file.Close()
	}
	return unix.Close(s.fd)
}

// FD returns the underlying descriptor, for the application's poll
// loop.
func (s *BufferedSocket) FD() int { return s.fd }

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// FillIncoming performs one recvmsg call, appending any bytes and
// SCM_RIGHTS descriptors received to the inbound rings. Received
// descriptors are marked close-on-exec, mirroring what a real
// compositor/client expects of descriptors crossing a privilege
// boundary.
func (s *BufferedSocket) FillIncoming() error {
	dst, err := s.in.Reserve(1)
	if err != nil {
		return fmt.Errorf("socket: inbound byte ring full: %w", err)
	}
	oob := make([]byte, unix.CmsgSpace(MinFDCapacity*4))
	n, oobn, _, _, err := unix.Recvmsg(s.fd, dst, oob, 0)
	if err != nil {
		if isWouldBlock(err) {
			return ErrWouldBlock
		}
		return fmt.Errorf("socket: recvmsg: %w", err)
	}
	if n == 0 && oobn == 0 {
		return fmt.Errorf("socket: peer closed connection")
	}
	s.in.Commit(n)

	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return fmt.Errorf("socket: parse control message: %w", err)
		}
		for _, cmsg := range cmsgs {
			fds, err := unix.ParseUnixRights(&cmsg)
			if err != nil {
				continue
			}
			for _, fd := range fds {
				unix.CloseOnExec(fd)
			}
			if err := s.inFDs.Push(fds...); err != nil {
				for _, fd := range fds {
					unix.Close(fd)
				}
				return fmt.Errorf("socket: inbound fd ring full: %w", err)
			}
		}
	}
	return nil
}

// ReadOne attempts to decode exactly one message from the inbound
// rings. signatureFn resolves (sender, opcode) to the message's
// signature by consulting the object map; it is called before any
// argument is decoded. On success the consumed bytes and descriptors
// are removed from the rings. wire.ErrNeedMoreBytes/ErrNeedMoreFDs
// propagate unchanged so the caller can FillIncoming and retry.
func (s *BufferedSocket) ReadOne(signatureFn func(sender uint32, opcode uint16) ([]wire.ArgSpec, error)) (wire.Message, error) {
	buf := s.in.Bytes()
	if len(buf) < 8 {
		return wire.Message{}, wire.ErrNeedMoreBytes
	}
	sender, opcode := peekHeader(buf)
	sig, err := signatureFn(sender, opcode)
	if err != nil {
		return wire.Message{}, err
	}
	msg, nBytes, nFDs, err := wire.Decode(buf, s.inFDs.All(), sig)
	if err != nil {
		return wire.Message{}, err
	}
	s.in.Consume(nBytes)
	s.inFDs.Consume(nFDs)
	return msg, nil
}

func peekHeader(buf []byte) (sender uint32, opcode uint16) {
	sender = uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	sizeOpcode := uint32(buf[4]) | uint32(buf[5])<<8 | uint32(buf[6])<<16 | uint32(buf[7])<<24
	opcode = uint16(sizeOpcode & 0xffff)
	return
}

// Write encodes msg into the outbound rings, flushing opportunistically
// if that would overflow either ring. It never blocks: if flushing is
// required to make room and the socket isn't ready, it returns
// ErrWouldBlock and the message is NOT queued, so the caller can
// retry later without risking reordering or a duplicate send.
func (s *BufferedSocket) Write(msg wire.Message, signature []wire.ArgSpec) error {
	encoded, fds, err := wire.Encode(msg, signature)
	if err != nil {
		return err
	}
	if s.out.Cap()-s.out.Len() < len(encoded) || s.outFDs.cap-s.outFDs.Len() < len(fds) {
		if err := s.Flush(); err != nil {
			if err != ErrWouldBlock {
				return err
			}
			if s.out.Cap()-s.out.Len() < len(encoded) || s.outFDs.cap-s.outFDs.Len() < len(fds) {
				return ErrWouldBlock
			}
		}
	}
	if err := s.out.Append(encoded); err != nil {
		return err
	}
	if len(fds) > 0 {
		if err := s.outFDs.Push(fds...); err != nil {
			return err
		}
	}
	return nil
}

// Flush performs sendmsg calls until the outbound rings are empty or
// the socket signals EAGAIN.
func (s *BufferedSocket) Flush() error {
	for s.out.Len() > 0 {
		var oob []byte
		fds := s.outFDs.All()
		if len(fds) > 0 {
			oob = unix.UnixRights(fds...)
		}
		n, _, err := unix.Sendmsg(s.fd, s.out.Bytes(), oob, nil, 0)
		if err != nil {
			if isWouldBlock(err) {
				return ErrWouldBlock
			}
			return fmt.Errorf("socket: sendmsg: %w", err)
		}
		s.out.Consume(n)
		if len(fds) > 0 {
			s.outFDs.Consume(len(fds))
		}
	}
	return nil
}
