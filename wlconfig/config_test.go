package wlconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadServerConfigMissingFileReturnsPlaceholder(t *testing.T) {
	cfg, err := LoadServerConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if len(cfg.Globals) != 1 || cfg.Globals[0].Interface != "wlcore_demo_compositor" {
		t.Fatalf("unexpected placeholder globals: %+v", cfg.Globals)
	}
}

func TestLoadServerConfigParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	contents := "socket_path: /tmp/wl-demo\nglobals:\n  - interface: wlcore_demo_compositor\n    version: 3\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.SocketPath != "/tmp/wl-demo" {
		t.Errorf("SocketPath = %q, want /tmp/wl-demo", cfg.SocketPath)
	}
	if len(cfg.Globals) != 1 || cfg.Globals[0].Version != 3 {
		t.Fatalf("unexpected globals: %+v", cfg.Globals)
	}
}

func TestLoadClientConfigMissingFileReturnsEmpty(t *testing.T) {
	cfg, err := LoadClientConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.SocketPath != "" {
		t.Fatalf("expected empty SocketPath, got %q", cfg.SocketPath)
	}
}

func TestLoadClientConfigParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	if err := os.WriteFile(path, []byte("socket_path: /tmp/alt-socket\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.SocketPath != "/tmp/alt-socket" {
		t.Errorf("SocketPath = %q, want /tmp/alt-socket", cfg.SocketPath)
	}
}

func TestLoadServerConfigRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("globals: [this is not a mapping list"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadServerConfig(path); err == nil {
		t.Fatal("expected an error parsing malformed YAML")
	}
}

func TestDefaultConfigPathIncludesModuleName(t *testing.T) {
	path, err := DefaultConfigPath("server.yaml")
	if err != nil {
		t.Fatalf("DefaultConfigPath: %v", err)
	}
	if filepath.Base(path) != "server.yaml" {
		t.Errorf("path = %q, want basename server.yaml", path)
	}
	if filepath.Base(filepath.Dir(path)) != "wlcore" {
		t.Errorf("path = %q, want parent dir wlcore", path)
	}
}
