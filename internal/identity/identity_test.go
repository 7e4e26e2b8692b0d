package identity

import (
	"path/filepath"
	"testing"
)

func TestLoadOrGenerateCreatesAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swarm.key")

	priv1, id1, err := LoadOrGenerate(path, nil)
	if err != nil {
		t.Fatalf("LoadOrGenerate (create): %v", err)
	}
	if priv1 == nil || id1 == "" {
		t.Fatal("expected a key and peer id")
	}

	priv2, id2, err := LoadOrGenerate(path, nil)
	if err != nil {
		t.Fatalf("LoadOrGenerate (reload): %v", err)
	}
	if id1 != id2 {
		t.Errorf("peer id changed across reload: %s vs %s", id1, id2)
	}
	if !priv1.Equals(priv2) {
		t.Error("reloaded key does not match the generated key")
	}
}
