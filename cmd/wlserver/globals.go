package main

import (
	"github.com/gowayland/wlcore/catalog"
	"github.com/gowayland/wlcore/democatalog"
	"github.com/gowayland/wlcore/objects"
	"github.com/gowayland/wlcore/server"
	"github.com/gowayland/wlcore/wire"
)

// compositorHandler is the GlobalHandler for the demo's single
// wlcore_demo_compositor global. Every connected client may see and
// bind it; there is no per-client access policy to enforce.
type compositorHandler struct{}

func (compositorHandler) CanView(uint64) bool { return true }

func (compositorHandler) Bind(eng *server.Engine, self objects.ID, version uint32) (objects.Data, error) {
	logDemo().Debug().Uint32("wire_id", self.Wire).Msg("compositor bound")
	return compositorData{}, nil
}

// compositorData answers create_surface by installing surfaceData on
// the freshly allocated child; the engine has already inserted the
// object, so Request only needs to return its handler.
type compositorData struct{}

func (compositorData) Destroyed() {}

func (compositorData) Request(eng *server.Engine, self objects.ID, msg wire.Message, desc *catalog.MessageDesc) (objects.Data, error) {
	switch desc.Name {
	case "create_surface":
		return surfaceData{}, nil
	}
	return nil, nil
}

// surfaceData answers ping with a pong carrying the same serial, and
// logs when the client destroys it.
type surfaceData struct{}

func (surfaceData) Destroyed() {
	logDemo().Debug().Msg("surface destroyed")
}

func (surfaceData) Request(eng *server.Engine, self objects.ID, msg wire.Message, desc *catalog.MessageDesc) (objects.Data, error) {
	switch desc.Name {
	case "ping":
		serial := msg.Args[0].Uint
		if _, err := eng.SendEvent(self, 0, []wire.Argument{wire.Uint32Arg(serial)}, nil, nil); err != nil {
			return nil, err
		}
		return nil, eng.Flush()
	case "destroy":
		return nil, nil
	}
	return nil, nil
}
