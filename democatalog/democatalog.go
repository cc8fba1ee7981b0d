// Package democatalog supplies the small, hand-written catalog the
// wlclient/wlserver demos bind and exercise against: a stand-in for
// the generated catalog a real compositor protocol (wl_compositor,
// wl_shm, xdg_wm_base) would supply. It exists only so the demos have
// a global beyond wl_display/wl_registry/wl_callback to bind, request
// against, and tear down.
package democatalog

import (
	"github.com/gowayland/wlcore/catalog"
	"github.com/gowayland/wlcore/wire"
)

// Surface is the demo's per-object interface: a stand-in for
// wl_surface, with a ping/pong round trip in place of attach/damage/
// commit and a destructor in place of wl_surface.destroy.
var Surface = &catalog.Interface{
	Name:    "wlcore_demo_surface",
	Version: 1,
	Requests: []catalog.MessageDesc{
		{
			Name:          "ping",
			Since:         1,
			Args:          []catalog.ArgSpec{{ArgSpec: wire.ArgSpec{Type: wire.ArgUint}, Name: "serial"}},
			NewIDArgIndex: -1,
		},
		{
			Name:          "destroy",
			Since:         1,
			Destructor:    true,
			NewIDArgIndex: -1,
		},
	},
	Events: []catalog.MessageDesc{
		{
			Name:          "pong",
			Since:         1,
			Args:          []catalog.ArgSpec{{ArgSpec: wire.ArgSpec{Type: wire.ArgUint}, Name: "serial"}},
			NewIDArgIndex: -1,
		},
	},
}

// Compositor is the demo's global interface: a stand-in for
// wl_compositor, with a single request that creates a Surface.
var Compositor = &catalog.Interface{
	Name:    "wlcore_demo_compositor",
	Version: 1,
	Requests: []catalog.MessageDesc{
		{
			Name:           "create_surface",
			Since:          1,
			Args:           []catalog.ArgSpec{{ArgSpec: wire.ArgSpec{Type: wire.ArgNewID}, Name: "id", Interface: Surface}},
			ChildInterface: Surface,
			NewIDArgIndex:  0,
		},
	},
}
