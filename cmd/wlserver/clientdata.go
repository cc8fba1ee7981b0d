package main

import "github.com/gowayland/wlcore/server"

// demoClientData implements server.ClientData, tagging each connected
// client with a wlid trace id and logging its lifecycle.
type demoClientData struct {
	ids *wlid
}

func (d demoClientData) Initialized(clientID uint64) {
	id := d.ids.assign(clientID)
	logDemo().Info().Uint64("client_id", clientID).Str("trace_id", id.String()).Msg("client connected")
}

func (d demoClientData) Disconnected(clientID uint64, reason error) {
	traceID, _ := d.ids.lookup(clientID)
	d.ids.forget(clientID)
	ev := logDemo().Info().Uint64("client_id", clientID).Str("trace_id", traceID.String())
	if reason != nil {
		ev = ev.Err(reason)
	}
	ev.Msg("client disconnected")
}

var _ server.ClientData = demoClientData{}
