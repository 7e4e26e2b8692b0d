// Package config defines the daemon's on-disk YAML configuration and its
// defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ghodss/yaml"
)

// Config is the top-level daemon configuration, serialized to and from a
// single YAML file.
type Config struct {
	Identity     IdentityConfig     `json:"identity"`
	Swarm        SwarmConfig        `json:"swarm"`
	Neighbors    NeighborsConfig    `json:"neighbors"`
	FileTransfer FileTransferConfig `json:"fileTransfer"`
	Bridge       BridgeConfig       `json:"bridge"`
	Apps         AppsConfig         `json:"apps"`
}

// IdentityConfig configures the libp2p identity key.
type IdentityConfig struct {
	KeyPath string `json:"keyPath"`
}

// SwarmConfig configures the libp2p host and its listen addresses.
type SwarmConfig struct {
	ListenAddrs    []string `json:"listenAddrs"`
	BootstrapPeers []string `json:"bootstrapPeers"`
	DHTProtocolID  string   `json:"dhtProtocolID"`
}

// NeighborsConfig configures batman-adv neighbor discovery. Exactly one of
// BatmanAddress or BatmanInterface is normally set (the --batman-address and
// --batman-interface flags are mutually exclusive); BatmanAddress is a literal
// multiaddr, BatmanInterface names the local interface to derive one from.
type NeighborsConfig struct {
	Interfaces          []string      `json:"interfaces"`
	BatmanSocketPath    string        `json:"batmanSocketPath"`
	BatmanAddress       string        `json:"batmanAddress,omitempty"`
	BatmanInterface     string        `json:"batmanInterface,omitempty"`
	DiscoveryInterval   time.Duration `json:"discoveryInterval"`
	NeighborTimeout     time.Duration `json:"neighborTimeout"`
	ResolverPort        uint16        `json:"resolverPort"`
	ResolverRetries     int           `json:"resolverRetries"`
	ResolverRetryPeriod time.Duration `json:"resolverRetryPeriod"`
}

// FileTransferConfig configures the content-addressed file store.
type FileTransferConfig struct {
	StoreDir string `json:"storeDir"`
}

// BridgeConfig configures the per-application gRPC bridge.
type BridgeConfig struct {
	SocketDir string `json:"socketDir"`
}

// AppsConfig configures the application lifecycle manager.
type AppsConfig struct {
	DockerHost    string `json:"dockerHost"`
	StateDBPath   string `json:"stateDBPath"`
	BridgeSockets string `json:"bridgeSockets"`
	// ManagementAllowed mirrors --apps-management {Allow|Deny}: when false,
	// the application manager refuses every deploy request, local or
	// remote.
	ManagementAllowed bool `json:"managementAllowed"`
}

// Default returns a Config populated with the daemon's default values.
func Default(baseDir string) *Config {
	return &Config{
		Identity: IdentityConfig{
			KeyPath: baseDir + "/identity.key",
		},
		Swarm: SwarmConfig{
			ListenAddrs:   []string{"/ip4/0.0.0.0/tcp/0"},
			DHTProtocolID: "/hyveos/kad/1.0.0",
		},
		Neighbors: NeighborsConfig{
			DiscoveryInterval:   5 * time.Second,
			NeighborTimeout:     30 * time.Second,
			ResolverPort:        5354,
			ResolverRetries:     3,
			ResolverRetryPeriod: time.Second,
			BatmanSocketPath:    "/var/run/hyveos/batman.sock",
		},
		FileTransfer: FileTransferConfig{
			StoreDir: baseDir + "/files",
		},
		Bridge: BridgeConfig{
			SocketDir: baseDir + "/bridge",
		},
		Apps: AppsConfig{
			DockerHost:        "unix:///var/run/docker.sock",
			StateDBPath:       baseDir + "/apps.db",
			ManagementAllowed: true,
		},
	}
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg as YAML to path.
func Save(path string, cfg *Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
