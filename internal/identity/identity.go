// Package identity generates and persists the daemon's Ed25519 libp2p
// identity key, generating a fresh keypair on first boot and loading the
// saved one thereafter.
package identity

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Generator creates new private keys. Production code uses
// DefaultGenerator; tests can substitute a deterministic generator.
type Generator interface {
	Generate() (crypto.PrivKey, error)
}

// DefaultGenerator generates Ed25519 keys using crypto/rand.
type DefaultGenerator struct{}

// Generate returns a freshly minted Ed25519 private key.
func (DefaultGenerator) Generate() (crypto.PrivKey, error) {
	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return priv, nil
}

// LoadOrGenerate reads the private key at path, or generates and persists a
// new one if the file does not exist. It returns the key and the derived
// peer ID.
func LoadOrGenerate(path string, gen Generator) (crypto.PrivKey, peer.ID, error) {
	if gen == nil {
		gen = DefaultGenerator{}
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		priv, err := crypto.UnmarshalPrivateKey(raw)
		if err != nil {
			return nil, "", fmt.Errorf("identity: unmarshal key at %s: %w", path, err)
		}
		id, err := peer.IDFromPrivateKey(priv)
		if err != nil {
			return nil, "", fmt.Errorf("identity: derive peer id: %w", err)
		}
		return priv, id, nil
	case os.IsNotExist(err):
		priv, err := gen.Generate()
		if err != nil {
			return nil, "", err
		}
		if err := persist(path, priv); err != nil {
			return nil, "", err
		}
		id, err := peer.IDFromPrivateKey(priv)
		if err != nil {
			return nil, "", fmt.Errorf("identity: derive peer id: %w", err)
		}
		return priv, id, nil
	default:
		return nil, "", fmt.Errorf("identity: read key at %s: %w", path, err)
	}
}

func persist(path string, priv crypto.PrivKey) error {
	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("identity: marshal key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("identity: create key dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return fmt.Errorf("identity: write key at %s: %w", path, err)
	}
	return nil
}
