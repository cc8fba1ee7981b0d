package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Sentinel decode outcomes. Decode returns one of these unwrapped when
// it cannot produce a full Message yet, so callers can compare with ==
// and retry once more data has arrived.
var (
	ErrNeedMoreBytes = errors.New("wire: need more bytes")
	ErrNeedMoreFDs   = errors.New("wire: need more file descriptors")
)

// Malformed reports a wire-level parse failure: the subclass of
// protocol error reserved for inbound framing violations.
type Malformed struct {
	Reason string
}

func (e *Malformed) Error() string { return "wire: malformed message: " + e.Reason }

const headerSize = 8

func pad4(n int) int { return (4 - n%4) % 4 }

// Encode serializes msg according to signature. It returns the
// encoded bytes (header included) and, in wire order, the
// descriptors carried by any ArgFD slots. It fails with an error if
// msg.Args does not match signature.
func Encode(msg Message, signature []ArgSpec) ([]byte, []int, error) {
	if err := CheckSignature(signature, msg.Args); err != nil {
		return nil, nil, err
	}
	buf := make([]byte, headerSize, headerSize+4*len(msg.Args))
	var fds []int
	for _, a := range msg.Args {
		switch a.Type {
		case ArgInt:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(a.Int))
		case ArgUint:
			buf = binary.LittleEndian.AppendUint32(buf, a.Uint)
		case ArgObject, ArgNewID:
			buf = binary.LittleEndian.AppendUint32(buf, a.Object)
		case ArgFixed:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(a.Fixed)))
		case ArgString:
			buf = appendBlob(buf, a.Str, true)
		case ArgArray:
			buf = appendBlob(buf, a.Array, false)
		case ArgFD:
			fds = append(fds, a.FD)
		default:
			return nil, nil, fmt.Errorf("wire: unknown arg type %s", a.Type)
		}
	}
	size := len(buf)
	if size > 0xffff {
		return nil, nil, fmt.Errorf("wire: message too large (%d bytes)", size)
	}
	binary.LittleEndian.PutUint32(buf[0:4], msg.Sender)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(size)<<16|uint32(msg.Opcode))
	return buf, fds, nil
}

// appendBlob appends a length-prefixed, NUL-padded byte blob. When
// withNUL is true (string arguments) the length includes one
// terminating NUL byte. A nil v encodes as length 0 and no payload.
func appendBlob(buf []byte, v []byte, withNUL bool) []byte {
	if v == nil {
		return binary.LittleEndian.AppendUint32(buf, 0)
	}
	n := len(v)
	wireLen := n
	if withNUL {
		wireLen = n + 1
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(wireLen))
	buf = append(buf, v...)
	if withNUL {
		buf = append(buf, 0)
	}
	for range pad4(wireLen) {
		buf = append(buf, 0)
	}
	return buf
}

// Decode parses exactly one message from the front of buf, given the
// signature already resolved by looking up (sender_id, opcode) in the
// object map. It never consumes partial data: on success it reports
// how many bytes and descriptors were used; on ErrNeedMoreBytes or
// ErrNeedMoreFDs, buf/fds are untouched and the caller should retry
// once fill_incoming produces more data.
func Decode(buf []byte, fds []int, signature []ArgSpec) (msg Message, nBytes int, nFDs int, err error) {
	if len(buf) < headerSize {
		return Message{}, 0, 0, ErrNeedMoreBytes
	}
	sender := binary.LittleEndian.Uint32(buf[0:4])
	sizeOpcode := binary.LittleEndian.Uint32(buf[4:8])
	size := int(sizeOpcode >> 16)
	opcode := uint16(sizeOpcode & 0xffff)
	if size < headerSize {
		return Message{}, 0, 0, &Malformed{Reason: fmt.Sprintf("declared size %d smaller than header", size)}
	}
	if len(buf) < size {
		return Message{}, 0, 0, ErrNeedMoreBytes
	}

	body := buf[headerSize:size]
	args := make([]Argument, 0, len(signature))
	fdCount := 0
	off := 0
	for _, spec := range signature {
		switch spec.Type {
		case ArgInt, ArgUint, ArgObject, ArgNewID, ArgFixed:
			if off+4 > len(body) {
				return Message{}, 0, 0, &Malformed{Reason: "truncated scalar argument"}
			}
			v := binary.LittleEndian.Uint32(body[off:])
			off += 4
			switch spec.Type {
			case ArgInt:
				args = append(args, Argument{Type: ArgInt, Int: int32(v)})
			case ArgUint:
				args = append(args, Argument{Type: ArgUint, Uint: v})
			case ArgFixed:
				args = append(args, Argument{Type: ArgFixed, Fixed: Fixed(int32(v))})
			case ArgObject:
				if v == 0 && !spec.Nullable {
					return Message{}, 0, 0, &Malformed{Reason: "non-nullable object argument is null"}
				}
				args = append(args, Argument{Type: ArgObject, Object: v})
			case ArgNewID:
				if v == 0 {
					return Message{}, 0, 0, &Malformed{Reason: "new_id argument is null"}
				}
				args = append(args, Argument{Type: ArgNewID, Object: v})
			}
		case ArgString, ArgArray:
			withNUL := spec.Type == ArgString
			blob, consumed, derr := decodeBlob(body[off:], withNUL, spec.Nullable)
			if derr != nil {
				return Message{}, 0, 0, derr
			}
			off += consumed
			if spec.Type == ArgString {
				args = append(args, Argument{Type: ArgString, Str: blob})
			} else {
				args = append(args, Argument{Type: ArgArray, Array: blob})
			}
		case ArgFD:
			if fdCount >= len(fds) {
				return Message{}, 0, 0, ErrNeedMoreFDs
			}
			args = append(args, Argument{Type: ArgFD, FD: fds[fdCount]})
			fdCount++
		default:
			return Message{}, 0, 0, &Malformed{Reason: fmt.Sprintf("unknown signature arg type %s", spec.Type)}
		}
	}

	return Message{Sender: sender, Opcode: opcode, Args: args}, size, fdCount, nil
}

func decodeBlob(body []byte, withNUL, nullable bool) (blob []byte, consumed int, err error) {
	if len(body) < 4 {
		return nil, 0, &Malformed{Reason: "truncated blob length"}
	}
	wireLen := binary.LittleEndian.Uint32(body)
	body = body[4:]
	if wireLen == 0 {
		if !nullable && withNUL {
			return nil, 0, &Malformed{Reason: "non-nullable string is null"}
		}
		return nil, 4, nil
	}
	n := int(wireLen)
	if n > len(body) {
		return nil, 0, &Malformed{Reason: "blob length exceeds message"}
	}
	pad := pad4(n)
	if n+pad > len(body) {
		return nil, 0, &Malformed{Reason: "blob padding exceeds message"}
	}
	if withNUL {
		if n == 0 || body[n-1] != 0 {
			return nil, 0, &Malformed{Reason: "string not NUL-terminated"}
		}
		blob = body[:n-1]
	} else {
		blob = body[:n]
	}
	return blob, 4 + n + pad, nil
}
