// Package tracewl implements the WAYLAND_DEBUG wire tracer, grounded
// on main.go's log/slog calls (slog.InfoContext/ErrorContext) in the
// teacher repo, generalized into a connection-scoped, always-cheap
// tracer and backed by thiagojdb-adoctl's logging/coloring stack
// (github.com/rs/zerolog for the structured record,
// github.com/fatih/color for the human-readable stderr line).
package tracewl

import (
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/gowayland/wlcore/wire"
)

// Mode is the parsed value of WAYLAND_DEBUG, cached once per process:
// tracing reads the environment variable once at connection start and
// caches the result, and carries no other process-wide state.
type Mode uint8

const (
	ModeOff Mode = iota
	ModeClient
	ModeServer
)

var (
	once       sync.Once
	cachedMode Mode
)

// ModeFromEnv parses WAYLAND_DEBUG once and caches the result for the
// remainder of the process.
func ModeFromEnv() Mode {
	once.Do(func() {
		switch os.Getenv("WAYLAND_DEBUG") {
		case "client":
			cachedMode = ModeClient
		case "server":
			cachedMode = ModeServer
		case "1", "true":
			cachedMode = ModeClient
		default:
			cachedMode = ModeOff
		}
	})
	return cachedMode
}

// Tracer emits one line per encoded/decoded message when enabled.
// A disabled Tracer is a valid zero value and costs one branch per
// call.
type Tracer struct {
	mode   Mode
	want   Mode
	log    zerolog.Logger
	arrow  *color.Color
	object *color.Color
}

// New builds a Tracer active only when WAYLAND_DEBUG names `side`
// ("client" or "server"); "1" and "true" count as "client".
func New(side Mode) *Tracer {
	return &Tracer{
		mode:   ModeFromEnv(),
		want:   side,
		log:    zerolog.New(os.Stderr).With().Timestamp().Logger(),
		arrow:  color.New(color.FgCyan, color.Bold),
		object: color.New(color.FgYellow),
	}
}

func (t *Tracer) enabled() bool {
	return t != nil && t.mode != ModeOff && (t.mode == t.want)
}

// Outgoing logs a message about to be sent.
func (t *Tracer) Outgoing(msg wire.Message, ifaceName string) {
	if !t.enabled() {
		return
	}
	t.emit("->", msg, ifaceName)
}

// Incoming logs a message just decoded.
func (t *Tracer) Incoming(msg wire.Message, ifaceName string) {
	if !t.enabled() {
		return
	}
	t.emit("<-", msg, ifaceName)
}

func (t *Tracer) emit(dir string, msg wire.Message, ifaceName string) {
	arrow := t.arrow.Sprint(dir)
	obj := t.object.Sprintf("%s@%d", ifaceName, msg.Sender)
	line := fmt.Sprintf("%s %s.opcode(%d) %s", arrow, obj, msg.Opcode, formatArgs(msg.Args))
	fmt.Fprintln(os.Stderr, line)
	t.log.Debug().
		Str("dir", dir).
		Str("interface", ifaceName).
		Uint32("sender", msg.Sender).
		Uint32("opcode", uint32(msg.Opcode)).
		Int("argc", len(msg.Args)).
		Msg("wl message")
}

func formatArgs(args []wire.Argument) string {
	out := "("
	for i, a := range args {
		if i > 0 {
			out += ", "
		}
		switch a.Type {
		case wire.ArgInt:
			out += fmt.Sprintf("%d", a.Int)
		case wire.ArgUint:
			out += fmt.Sprintf("%d", a.Uint)
		case wire.ArgObject, wire.ArgNewID:
			out += fmt.Sprintf("%d", a.Object)
		case wire.ArgFixed:
			out += fmt.Sprintf("%g", a.Fixed.Float64())
		case wire.ArgString:
			out += fmt.Sprintf("%q", string(a.Str))
		case wire.ArgArray:
			out += "array[" + hex.EncodeToString(a.Array) + "]"
		case wire.ArgFD:
			out += fmt.Sprintf("fd %d", a.FD)
		}
	}
	return out + ")"
}
