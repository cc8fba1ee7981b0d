// Package wire implements the Wayland wire format: a single message's
// binary encoding and decoding, independent of socket framing.
//
// The format is little-endian and 32-bit aligned: an 8-byte header
// (sender id, then size<<16|opcode) followed by one word per scalar
// argument, and length-prefixed, NUL-padded blobs for strings and
// arrays. File descriptors carry no inline bytes; they travel out of
// band and are consumed in argument order.
package wire

import "fmt"

// ArgType identifies the wire representation of one argument slot.
type ArgType uint8

const (
	ArgInt ArgType = iota
	ArgUint
	ArgFixed
	ArgString
	ArgObject
	ArgNewID
	ArgArray
	ArgFD
)

func (t ArgType) String() string {
	switch t {
	case ArgInt:
		return "int"
	case ArgUint:
		return "uint"
	case ArgFixed:
		return "fixed"
	case ArgString:
		return "string"
	case ArgObject:
		return "object"
	case ArgNewID:
		return "new_id"
	case ArgArray:
		return "array"
	case ArgFD:
		return "fd"
	default:
		return fmt.Sprintf("ArgType(%d)", uint8(t))
	}
}

// Fixed is a 24.8 signed fixed-point number, as used by pointer and
// geometry events.
type Fixed int32

// Float64 converts a Fixed to its floating-point value.
func (f Fixed) Float64() float64 { return float64(f) / 256.0 }

// FixedFromFloat64 builds a Fixed from a floating-point value.
func FixedFromFloat64(v float64) Fixed { return Fixed(v * 256.0) }

// Argument is a tagged union holding exactly one wire argument value.
// Only the field matching Type is meaningful.
type Argument struct {
	Type   ArgType
	Int    int32
	Uint   uint32
	Fixed  Fixed
	Str    []byte // string payload, without the NUL terminator
	Object uint32 // wire id for ArgObject / ArgNewID
	Array  []byte
	FD     int
}

// Int32Arg builds an ArgInt argument.
func Int32Arg(v int32) Argument { return Argument{Type: ArgInt, Int: v} }

// Uint32Arg builds an ArgUint argument.
func Uint32Arg(v uint32) Argument { return Argument{Type: ArgUint, Uint: v} }

// FixedArg builds an ArgFixed argument.
func FixedArg(v Fixed) Argument { return Argument{Type: ArgFixed, Fixed: v} }

// StringArg builds an ArgString argument. A nil s encodes as the null string.
func StringArg(s []byte) Argument { return Argument{Type: ArgString, Str: s} }

// ObjectArg builds an ArgObject argument referencing wire id id (0 for null).
func ObjectArg(id uint32) Argument { return Argument{Type: ArgObject, Object: id} }

// NewIDArg builds an ArgNewID argument for wire id id.
func NewIDArg(id uint32) Argument { return Argument{Type: ArgNewID, Object: id} }

// ArrayArg builds an ArgArray argument.
func ArrayArg(b []byte) Argument { return Argument{Type: ArgArray, Array: b} }

// FDArg builds an ArgFD argument carrying descriptor fd.
func FDArg(fd int) Argument { return Argument{Type: ArgFD, FD: fd} }

// Message is a single decoded or to-be-encoded Wayland message. Length
// is never stored explicitly: it is derivable from Args.
type Message struct {
	Sender uint32
	Opcode uint16
	Args   []Argument
}
