package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/gowayland/wlcore/catalog"
	"github.com/gowayland/wlcore/democatalog"
	"github.com/gowayland/wlcore/server"
	"github.com/gowayland/wlcore/wlconfig"
)

// knownInterfaces maps the interface names a server config may name
// to the catalog.Interface describing them. A real compositor would
// resolve this from a generated catalog; the demo only ever advertises
// one interface.
var knownInterfaces = map[string]*catalog.Interface{
	democatalog.Compositor.Name: democatalog.Compositor,
}

var (
	socketPathFlag string
	configPathFlag string
)

var rootCmd = &cobra.Command{
	Use:   "wlserver",
	Short: "Minimal Wayland compositor stub exercising the server engine",
	Long: `wlserver listens on a Unix socket, answers wl_display.sync and
wl_display.get_registry internally, and advertises the globals its
config declares, skipping any interface it does not know. It is a
harness for the server protocol engine,
not a real compositor.`,
	RunE: runServer,
}

func init() {
	rootCmd.Flags().StringVar(&socketPathFlag, "socket", "", "Unix socket path to listen on (defaults to $XDG_RUNTIME_DIR/$WAYLAND_DISPLAY)")
	rootCmd.Flags().StringVar(&configPathFlag, "config", "", "Path to a wlconfig server YAML file (defaults to the XDG config path)")
}

// Execute runs the wlserver root command.
func Execute() error {
	return rootCmd.Execute()
}

func resolveSocketPath() (string, error) {
	if socketPathFlag != "" {
		return socketPathFlag, nil
	}
	xdgRuntimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if xdgRuntimeDir == "" {
		return "", errors.New("wlserver: neither --socket nor XDG_RUNTIME_DIR is set")
	}
	display := os.Getenv("WAYLAND_DISPLAY")
	if display == "" {
		display = "wayland-0"
	}
	return filepath.Join(xdgRuntimeDir, display), nil
}

func loadGlobals() ([]wlconfig.GlobalSpec, error) {
	path := configPathFlag
	if path == "" {
		defaultPath, err := wlconfig.DefaultConfigPath("server.yaml")
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}
	cfg, err := wlconfig.LoadServerConfig(path)
	if err != nil {
		return nil, err
	}
	return cfg.Globals, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	socketPath, err := resolveSocketPath()
	if err != nil {
		return err
	}
	globals, err := loadGlobals()
	if err != nil {
		return fmt.Errorf("wlserver: load config: %w", err)
	}

	_ = os.Remove(socketPath)
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("wlserver: listen on %s: %w", socketPath, err)
	}
	defer listener.Close()

	registry := server.NewRegistry()
	store := server.NewClientStore(registry)
	ids := newWlid()

	for _, g := range globals {
		iface, ok := knownInterfaces[g.Interface]
		if !ok {
			logDemo().Warn().Str("interface", g.Interface).Msg("skipping unknown global interface in config")
			continue
		}
		registry.CreateGlobal(iface, g.Version, compositorHandler{})
	}

	logDemo().Info().Str("socket", socketPath).Int("globals", len(globals)).Msg("wlserver listening")

	for {
		conn, err := listener.AcceptUnix()
		if err != nil {
			return fmt.Errorf("wlserver: accept: %w", err)
		}
		go serveConn(conn, store, ids)
	}
}

func serveConn(conn *net.UnixConn, store *server.ClientStore, ids *wlid) {
	eng, _, err := store.InsertClient(conn, demoClientData{ids: ids})
	if err != nil {
		logDemo().Error().Err(err).Msg("failed to adopt client connection")
		conn.Close()
		return
	}
	fds := []unix.PollFd{{Fd: int32(eng.FD()), Events: unix.POLLIN}}
	for {
		if _, err := eng.ProcessRequests(); err != nil {
			store.ReapDead()
			return
		}
		store.ReapDead()
		if _, perr := unix.Poll(fds, -1); perr != nil && perr != unix.EINTR {
			return
		}
	}
}
