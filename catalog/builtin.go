package catalog

import "github.com/gowayland/wlcore/wire"

// The three interfaces every connection must know about before any
// application-supplied catalog is consulted. They are
// wired up here instead of generated because wl_callback.done is a
// destructor "out of band": the XML has no attribute for it, so the
// catalog table must carry Destructor: true explicitly rather than
// have it inferred anywhere else.

// WLCallback is the interface used by wl_display.sync and similar
// single-shot completion notifications.
var WLCallback = &Interface{
	Name:    "wl_callback",
	Version: 1,
	Events: []MessageDesc{
		{
			Name:          "done",
			Since:         1,
			Args:          []ArgSpec{{ArgSpec: wire.ArgSpec{Type: wire.ArgUint}, Name: "callback_data"}},
			Destructor:    true,
			NewIDArgIndex: -1,
		},
	},
}

// WLRegistry is the global registry interface.
var WLRegistry = &Interface{
	Name:    "wl_registry",
	Version: 1,
	Requests: []MessageDesc{
		{
			Name:  "bind",
			Since: 1,
			Args: []ArgSpec{
				{ArgSpec: wire.ArgSpec{Type: wire.ArgUint}, Name: "name"},
				{ArgSpec: wire.ArgSpec{Type: wire.ArgString}, Name: "interface"},
				{ArgSpec: wire.ArgSpec{Type: wire.ArgUint}, Name: "version"},
				{ArgSpec: wire.ArgSpec{Type: wire.ArgNewID}, Name: "id"},
			},
			NewIDArgIndex: 3,
			// Interface is left nil: bind's new_id target is resolved at
			// send time from the caller-supplied placeholder spec, not
			// from a statically known child interface.
		},
	},
	Events: []MessageDesc{
		{
			Name:  "global",
			Since: 1,
			Args: []ArgSpec{
				{ArgSpec: wire.ArgSpec{Type: wire.ArgUint}, Name: "name"},
				{ArgSpec: wire.ArgSpec{Type: wire.ArgString}, Name: "interface"},
				{ArgSpec: wire.ArgSpec{Type: wire.ArgUint}, Name: "version"},
			},
			NewIDArgIndex: -1,
		},
		{
			Name:          "global_remove",
			Since:         1,
			Args:          []ArgSpec{{ArgSpec: wire.ArgSpec{Type: wire.ArgUint}, Name: "name"}},
			NewIDArgIndex: -1,
		},
	},
}

// WLDisplay is the display singleton, always resident at wire id 1.
var WLDisplay = &Interface{
	Name:    "wl_display",
	Version: 1,
	Requests: []MessageDesc{
		{
			Name:          "sync",
			Since:         1,
			Args:          []ArgSpec{{ArgSpec: wire.ArgSpec{Type: wire.ArgNewID}, Name: "callback", Interface: WLCallback}},
			NewIDArgIndex: 0,
			ChildInterface: WLCallback,
		},
		{
			Name:          "get_registry",
			Since:         1,
			Args:          []ArgSpec{{ArgSpec: wire.ArgSpec{Type: wire.ArgNewID}, Name: "registry", Interface: WLRegistry}},
			NewIDArgIndex: 0,
			ChildInterface: WLRegistry,
		},
	},
	Events: []MessageDesc{
		{
			Name:  "error",
			Since: 1,
			Args: []ArgSpec{
				{ArgSpec: wire.ArgSpec{Type: wire.ArgObject}, Name: "object_id"},
				{ArgSpec: wire.ArgSpec{Type: wire.ArgUint}, Name: "code"},
				{ArgSpec: wire.ArgSpec{Type: wire.ArgString}, Name: "message"},
			},
			NewIDArgIndex: -1,
		},
		{
			Name:          "delete_id",
			Since:         1,
			Args:          []ArgSpec{{ArgSpec: wire.ArgSpec{Type: wire.ArgUint}, Name: "id"}},
			NewIDArgIndex: -1,
		},
	},
}

// DisplayErrorCode mirrors the wl_display.error "code" enum's
// generic values (interface-specific codes start above these).
const (
	DisplayErrorInvalidObject uint32 = iota
	DisplayErrorInvalidMethod
	DisplayErrorNoMemory
	DisplayErrorImplementation
)

func init() {
	// newIDIndex is kept as the grounding truth for NewIDArgIndex on
	// messages that declare one; builtin descriptors above set it by
	// hand (there are only eight of them), but we assert consistency
	// here so a future hand-edit can't silently desync the index.
	for _, m := range append(append([]MessageDesc{}, WLDisplay.Requests...), WLDisplay.Events...) {
		if got, want := m.NewIDArgIndex, newIDIndex(m.Args); got != want {
			panic("catalog: wl_display message " + m.Name + " has inconsistent NewIDArgIndex")
		}
	}
	for _, m := range append(append([]MessageDesc{}, WLRegistry.Requests...), WLRegistry.Events...) {
		if got, want := m.NewIDArgIndex, newIDIndex(m.Args); got != want {
			panic("catalog: wl_registry message " + m.Name + " has inconsistent NewIDArgIndex")
		}
	}
}
