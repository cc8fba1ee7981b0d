// Package wlerr carries the error taxonomy the protocol core reports
// through: invalid object ids, transport loss, I/O failure, protocol
// violations, and malformed wire data. A small *Error struct wraps an
// underlying cause and exposes Unwrap, generalized from
// thiagojdb-adoctl's pkg/errors CLI exit codes to these error kinds.
package wlerr

import (
	"errors"
	"fmt"

	"github.com/gowayland/wlcore/socket"
)

// Kind classifies a wlerr.Error.
type Kind int

const (
	// KindInvalidID: caller referenced an ObjectId whose generation no
	// longer matches, or whose wire id is not live. Not fatal.
	KindInvalidID Kind = iota
	// KindNoTransport: backend could not be constructed.
	KindNoTransport
	// KindIO: socket-level failure. Non-WouldBlock variants are sticky.
	KindIO
	// KindProtocol: a framing, signature, or semantic violation
	// observed on inbound traffic.
	KindProtocol
	// KindMalformed: wire-level parse failure, a subclass of Protocol.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidID:
		return "InvalidId"
	case KindNoTransport:
		return "NoTransport"
	case KindIO:
		return "Io"
	case KindProtocol:
		return "Protocol"
	case KindMalformed:
		return "Malformed"
	default:
		return "Unknown"
	}
}

// Error is the taxonomy's single carrier type. ObjectID, Interface,
// and Code are only meaningful for KindProtocol.
type Error struct {
	Kind       Kind
	Message    string
	ObjectID   uint32
	Interface  string
	Code       uint32
	Underlying error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindProtocol:
		if e.Interface != "" {
			return fmt.Sprintf("protocol error: object %d (%s), code %d: %s", e.ObjectID, e.Interface, e.Code, e.Message)
		}
		return fmt.Sprintf("protocol error: object %d, code %d: %s", e.ObjectID, e.Code, e.Message)
	case KindIO:
		if e.Underlying != nil {
			return fmt.Sprintf("io error: %s: %v", e.Message, e.Underlying)
		}
		return "io error: " + e.Message
	default:
		if e.Underlying != nil {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Underlying)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Underlying }

// InvalidID builds a KindInvalidID error.
func InvalidID(msg string) *Error { return &Error{Kind: KindInvalidID, Message: msg} }

// NoTransport builds a KindNoTransport error.
func NoTransport(msg string, cause error) *Error {
	return &Error{Kind: KindNoTransport, Message: msg, Underlying: cause}
}

// IO builds a KindIO error.
func IO(msg string, cause error) *Error {
	return &Error{Kind: KindIO, Message: msg, Underlying: cause}
}

// Protocol builds a KindProtocol error with the same object id,
// interface name, and numeric code a wl_display.error event carries.
func Protocol(objectID uint32, iface string, code uint32, msg string) *Error {
	return &Error{Kind: KindProtocol, ObjectID: objectID, Interface: iface, Code: code, Message: msg}
}

// Malformed builds a KindMalformed error (a Protocol subclass for
// inbound framing violations).
func Malformed(msg string) *Error { return &Error{Kind: KindMalformed, Message: msg} }

// IsWouldBlock reports whether err is the socket package's
// ErrWouldBlock sentinel, the one case that must NOT be treated as
// sticky by an engine.
func IsWouldBlock(err error) bool {
	return errors.Is(err, socket.ErrWouldBlock)
}
