// Package wlconfig loads demo-side configuration: the set of globals
// a demo compositor advertises, and client-side socket overrides.
// Grounded on thiagojdb-adoctl's pkg/config (gopkg.in/yaml.v3 plus
// os.UserConfigDir-based path resolution), generalized from that
// package's Azure DevOps profile shape to this core's global list.
package wlconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// GlobalSpec describes one global a demo server advertises.
type GlobalSpec struct {
	Interface string `yaml:"interface"`
	Version   uint32 `yaml:"version"`
}

// ServerConfig is the demo compositor's declarative global list.
type ServerConfig struct {
	SocketPath string       `yaml:"socket_path,omitempty"`
	Globals    []GlobalSpec `yaml:"globals"`
}

// ClientConfig overrides the client demo's connection parameters.
type ClientConfig struct {
	SocketPath string `yaml:"socket_path,omitempty"`
}

// DefaultConfigPath returns wlcore/<name>.yaml under the user's config
// directory, mirroring adoctl's GetConfigPath layout.
func DefaultConfigPath(name string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("wlconfig: resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "wlcore", name), nil
}

// LoadServerConfig reads a ServerConfig from path. A missing file is
// not an error: it returns a ServerConfig with one placeholder global,
// so the demo server has something to advertise out of the box.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ServerConfig{Globals: []GlobalSpec{{Interface: "wlcore_demo_compositor", Version: 1}}}, nil
		}
		return nil, fmt.Errorf("wlconfig: read %s: %w", path, err)
	}
	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("wlconfig: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadClientConfig reads a ClientConfig from path, tolerating a
// missing file the same way LoadServerConfig does.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ClientConfig{}, nil
		}
		return nil, fmt.Errorf("wlconfig: read %s: %w", path, err)
	}
	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("wlconfig: parse %s: %w", path, err)
	}
	return &cfg, nil
}
