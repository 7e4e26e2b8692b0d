package config

import (
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default(dir)
	cfg.Swarm.BootstrapPeers = []string{"/ip4/1.2.3.4/tcp/4001/p2p/QmExample"}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Swarm.DHTProtocolID != cfg.Swarm.DHTProtocolID {
		t.Errorf("DHTProtocolID = %q, want %q", loaded.Swarm.DHTProtocolID, cfg.Swarm.DHTProtocolID)
	}
	if len(loaded.Swarm.BootstrapPeers) != 1 {
		t.Fatalf("BootstrapPeers = %v, want 1 entry", loaded.Swarm.BootstrapPeers)
	}
	if loaded.Neighbors.ResolverPort != 5354 {
		t.Errorf("ResolverPort = %d, want 5354", loaded.Neighbors.ResolverPort)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("expected error loading missing config file")
	}
}
