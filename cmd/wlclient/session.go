package main

import (
	"github.com/gowayland/wlcore/catalog"
	"github.com/gowayland/wlcore/client"
	"github.com/gowayland/wlcore/democatalog"
	"github.com/gowayland/wlcore/objects"
	"github.com/gowayland/wlcore/wire"
)

// session drives the demo's fixed request/event sequence: bind the
// compositor global, create a surface, ping/pong it once, then tear
// it down. Per-object ObjectData callbacks mutate session state
// directly; the main loop just polls that state between
// DispatchEvents calls.
type session struct {
	eng *client.Engine

	compositorBound bool
	surfaceID       objects.ID
	pongSerial      uint32
	gotPong         bool
	syncDone        bool
}

func newSession(eng *client.Engine) *session {
	return &session{eng: eng}
}

// start issues wl_display.get_registry; everything past that point is
// driven by the registry's global event.
func (s *session) start() error {
	display := s.eng.Display()
	_, err := s.eng.SendRequest(display, 1, []wire.Argument{wire.NewIDArg(0)}, registryData{s}, nil)
	return err
}

type registryData struct{ sess *session }

func (registryData) Destroyed() {}

func (r registryData) Event(eng *client.Engine, self objects.ID, msg wire.Message, desc *catalog.MessageDesc) (objects.Data, error) {
	if desc.Name != "global" {
		return nil, nil
	}
	name := msg.Args[0].Uint
	ifaceName := string(msg.Args[1].Str)
	version := msg.Args[2].Uint
	if ifaceName != democatalog.Compositor.Name {
		return nil, nil
	}
	placeholder := &client.Placeholder{Interface: democatalog.Compositor, Version: version}
	compositorID, err := eng.SendRequest(self, 0, []wire.Argument{
		wire.Uint32Arg(name), wire.StringArg([]byte(ifaceName)), wire.Uint32Arg(version), wire.NewIDArg(0),
	}, compositorData{r.sess}, placeholder)
	if err != nil {
		return nil, err
	}
	r.sess.compositorBound = true
	surfaceID, err := eng.SendRequest(compositorID, 0, []wire.Argument{wire.NewIDArg(0)}, surfaceData{r.sess}, nil)
	if err != nil {
		return nil, err
	}
	r.sess.surfaceID = surfaceID
	return nil, nil
}

type compositorData struct{ sess *session }

func (compositorData) Destroyed() {}

func (compositorData) Event(*client.Engine, objects.ID, wire.Message, *catalog.MessageDesc) (objects.Data, error) {
	return nil, nil
}

type surfaceData struct{ sess *session }

func (surfaceData) Destroyed() {}

func (s surfaceData) Event(eng *client.Engine, self objects.ID, msg wire.Message, desc *catalog.MessageDesc) (objects.Data, error) {
	if desc.Name != "pong" {
		return nil, nil
	}
	s.sess.pongSerial = msg.Args[0].Uint
	s.sess.gotPong = true
	return nil, nil
}

// ping sends wlcore_demo_surface.ping with serial.
func (s *session) ping(serial uint32) error {
	_, err := s.eng.SendRequest(s.surfaceID, 0, []wire.Argument{wire.Uint32Arg(serial)}, nil, nil)
	return err
}

// sync issues wl_display.sync; callbackData flips syncDone on the
// matching done event.
func (s *session) sync() error {
	display := s.eng.Display()
	_, err := s.eng.SendRequest(display, 0, []wire.Argument{wire.NewIDArg(0)}, callbackData{s}, nil)
	return err
}

type callbackData struct{ sess *session }

func (callbackData) Destroyed() {}

func (c callbackData) Event(*client.Engine, objects.ID, wire.Message, *catalog.MessageDesc) (objects.Data, error) {
	c.sess.syncDone = true
	return nil, nil
}

// destroySurface sends wlcore_demo_surface.destroy.
func (s *session) destroySurface() error {
	_, err := s.eng.SendRequest(s.surfaceID, 1, nil, nil, nil)
	return err
}
