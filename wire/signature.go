package wire

import "fmt"

// ArgSpec is one slot of a message signature: the wire type plus
// whether a null value (empty object/string/array) is permitted.
type ArgSpec struct {
	Type     ArgType
	Nullable bool
}

// CheckSignature asserts that args matches signature slot-for-slot.
// It is used at send-time to catch caller bugs and at receive-time
// after type-directed decode to catch wire corruption.
func CheckSignature(signature []ArgSpec, args []Argument) error {
	if len(signature) != len(args) {
		return fmt.Errorf("wire: signature has %d args, got %d", len(signature), len(args))
	}
	for i, spec := range signature {
		a := args[i]
		if a.Type != spec.Type {
			return fmt.Errorf("wire: arg %d: expected %s, got %s", i, spec.Type, a.Type)
		}
		switch spec.Type {
		case ArgString:
			if a.Str == nil && !spec.Nullable {
				return fmt.Errorf("wire: arg %d: non-nullable string is null", i)
			}
		case ArgObject:
			if a.Object == 0 && !spec.Nullable {
				return fmt.Errorf("wire: arg %d: non-nullable object is null", i)
			}
		case ArgArray:
			if a.Array == nil && !spec.Nullable {
				return fmt.Errorf("wire: arg %d: non-nullable array is null", i)
			}
		case ArgNewID:
			if a.Object == 0 {
				return fmt.Errorf("wire: arg %d: new_id must be non-zero", i)
			}
		}
	}
	return nil
}
