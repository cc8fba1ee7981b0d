package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/gowayland/wlcore/client"
	"github.com/gowayland/wlcore/wlconfig"
)

var (
	socketPathFlag string
	configPathFlag string
	pingSerial     uint32
)

var rootCmd = &cobra.Command{
	Use:   "wlclient",
	Short: "Wayland client demo exercising the client protocol engine",
	Long: `wlclient connects to a Wayland display, binds the demo compositor
global, creates a surface, pings it once, and tears everything down.
It replaces a hand-rolled byte-pushing main loop with calls into the
client protocol engine, end to end.`,
	RunE: runClient,
}

func init() {
	rootCmd.Flags().StringVar(&socketPathFlag, "socket", "", "Unix socket path to connect to (defaults to $WAYLAND_SOCKET/$XDG_RUNTIME_DIR resolution)")
	rootCmd.Flags().StringVar(&configPathFlag, "config", "", "Path to a wlconfig client YAML file (defaults to the XDG config path)")
	rootCmd.Flags().Uint32Var(&pingSerial, "serial", 42, "Serial value to send with the demo ping request")
}

// Execute runs the wlclient root command.
func Execute() error {
	return rootCmd.Execute()
}

func resolveSocketPath() (string, error) {
	if socketPathFlag != "" {
		return socketPathFlag, nil
	}
	path := configPathFlag
	if path == "" {
		defaultPath, err := wlconfig.DefaultConfigPath("client.yaml")
		if err != nil {
			return "", err
		}
		path = defaultPath
	}
	cfg, err := wlconfig.LoadClientConfig(path)
	if err != nil {
		return "", err
	}
	if cfg.SocketPath != "" {
		return cfg.SocketPath, nil
	}

	if s := os.Getenv("WAYLAND_SOCKET"); s != "" {
		return s, nil
	}
	xdgRuntimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if xdgRuntimeDir == "" {
		return "", errors.New("wlclient: neither --socket, a configured socket_path, nor XDG_RUNTIME_DIR is set")
	}
	display := os.Getenv("WAYLAND_DISPLAY")
	if display == "" {
		display = "wayland-0"
	}
	return filepath.Join(xdgRuntimeDir, display), nil
}

func runClient(cmd *cobra.Command, args []string) error {
	socketPath, err := resolveSocketPath()
	if err != nil {
		return err
	}

	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("wlclient: dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	eng, err := client.New(conn)
	if err != nil {
		return fmt.Errorf("wlclient: construct engine: %w", err)
	}
	defer eng.Close()

	sess := newSession(eng)
	if err := sess.start(); err != nil {
		return fmt.Errorf("wlclient: get_registry: %w", err)
	}
	if err := eng.Flush(); err != nil {
		return fmt.Errorf("wlclient: flush: %w", err)
	}

	if err := waitFor(eng, func() bool { return sess.surfaceID.Wire != 0 }); err != nil {
		return fmt.Errorf("wlclient: waiting for compositor bind: %w", err)
	}

	if err := sess.ping(pingSerial); err != nil {
		return fmt.Errorf("wlclient: ping: %w", err)
	}
	if err := eng.Flush(); err != nil {
		return fmt.Errorf("wlclient: flush: %w", err)
	}
	if err := waitFor(eng, func() bool { return sess.gotPong }); err != nil {
		return fmt.Errorf("wlclient: waiting for pong: %w", err)
	}
	if sess.pongSerial != pingSerial {
		return fmt.Errorf("wlclient: pong serial %d does not match ping serial %d", sess.pongSerial, pingSerial)
	}

	if err := sess.sync(); err != nil {
		return fmt.Errorf("wlclient: sync: %w", err)
	}
	if err := eng.Flush(); err != nil {
		return fmt.Errorf("wlclient: flush: %w", err)
	}
	if err := waitFor(eng, func() bool { return sess.syncDone }); err != nil {
		return fmt.Errorf("wlclient: waiting for sync: %w", err)
	}

	if err := sess.destroySurface(); err != nil {
		return fmt.Errorf("wlclient: destroy surface: %w", err)
	}
	return eng.Flush()
}

// waitFor dispatches events, blocking on the engine's fd between
// batches, until done reports true or dispatch returns an error.
func waitFor(eng *client.Engine, done func() bool) error {
	deadline := time.Now().Add(10 * time.Second)
	fds := []unix.PollFd{{Fd: int32(eng.FD()), Events: unix.POLLIN}}
	for !done() {
		if time.Now().After(deadline) {
			return errors.New("timed out waiting for event")
		}
		if _, err := eng.DispatchEvents(); err != nil {
			return err
		}
		if done() {
			return nil
		}
		if _, err := unix.Poll(fds, 1000); err != nil && err != unix.EINTR {
			return err
		}
	}
	return nil
}
