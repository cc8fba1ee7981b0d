// Package catalog holds the static, read-only description of Wayland
// interfaces, messages, and argument types that the wire codec and
// protocol engines validate traffic against. A catalog is ordinarily
// produced by a code generator from protocol XML; this package only
// defines the runtime shape and ships the three core interfaces every
// connection needs (wl_display, wl_registry, wl_callback).
package catalog

import "github.com/gowayland/wlcore/wire"

// Interface describes one Wayland interface: its name, maximum
// version, and the ordered request/event tables. Equality between
// interfaces is by pointer identity (two *Interface built from the
// same generated catalog compare equal); EqualByName compares names
// for cross-catalog lookups.
type Interface struct {
	Name     string
	Version  uint32
	Requests []MessageDesc
	Events   []MessageDesc
}

// EqualByName reports whether two interfaces share a name, the
// fallback identity check for interfaces sourced from different
// catalog instances.
func (i *Interface) EqualByName(other *Interface) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.Name == other.Name
}

// ArgSpec describes one argument slot of a message, extending
// wire.ArgSpec with the interface an object/new_id argument is
// expected to reference (nil means "any interface", used by
// wl_registry.bind's placeholder new_id).
type ArgSpec struct {
	wire.ArgSpec
	Name      string
	Interface *Interface // expected interface for ArgObject/ArgNewID, or nil
}

// WireSignature projects Args down to the plain wire.ArgSpec slice
// the codec operates on.
func WireSignature(args []ArgSpec) []wire.ArgSpec {
	sig := make([]wire.ArgSpec, len(args))
	for i, a := range args {
		sig[i] = a.ArgSpec
	}
	return sig
}

// MessageDesc describes one request or event.
type MessageDesc struct {
	Name            string
	Since           uint32 // minimum interface version introducing this message
	Args            []ArgSpec
	Destructor      bool
	ChildInterface  *Interface // statically known interface of a new_id arg, if any
	NewIDArgIndex   int        // index into Args of the new_id slot, or -1
}

// HasNewID reports whether this message carries a new_id argument.
func (m *MessageDesc) HasNewID() bool { return m.NewIDArgIndex >= 0 }

// newIDIndex scans args for a new_id slot.
func newIDIndex(args []ArgSpec) int {
	for i, a := range args {
		if a.Type == wire.ArgNewID {
			return i
		}
	}
	return -1
}
