package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	"github.com/p2p-industries/hyveos/internal/config"
	"github.com/p2p-industries/hyveos/internal/daemon"
)

// AppsManagementPolicy controls whether applications may be deployed onto
// this node at all, matching the --apps-management {Allow|Deny} flag.
type AppsManagementPolicy string

const (
	AppsManagementAllow AppsManagementPolicy = "Allow"
	AppsManagementDeny  AppsManagementPolicy = "Deny"
)

// RunOptions gathers every flag on the hyved root command before
// Validate/Run turn it into a config.Config and a running Daemon.
type RunOptions struct {
	ConfigFile string

	ListenAddresses []string
	Interfaces      []string

	BatmanAddress   string
	BatmanInterface string

	StoreDirectory  string
	DBFile          string
	KeyFile         string
	RandomDirectory bool

	AppsManagement string

	Clean bool

	LogDir   string
	LogLevel string
}

func (o *RunOptions) bindFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&o.ConfigFile, "config-file", "", "path to a YAML config file")
	flags.StringArrayVar(&o.ListenAddresses, "listen-address", nil, "multiaddr to listen on (repeatable)")
	flags.StringArrayVar(&o.Interfaces, "interface", nil, "network interface to listen on (repeatable)")
	flags.StringVar(&o.BatmanAddress, "batman-address", "", "multiaddr of the batman-adv interface")
	flags.StringVar(&o.BatmanInterface, "batman-interface", "", "name of the batman-adv interface")
	flags.StringVar(&o.StoreDirectory, "store-directory", "", "base directory for persisted daemon state")
	flags.StringVar(&o.DBFile, "db-file", "", "path to the application state database")
	flags.StringVar(&o.KeyFile, "key-file", "", "path to the node's identity key")
	flags.BoolVar(&o.RandomDirectory, "random-directory", false, "use a freshly generated temporary store directory")
	flags.StringVar(&o.AppsManagement, "apps-management", string(AppsManagementAllow), "whether applications may be deployed onto this node: Allow|Deny")
	flags.BoolVar(&o.Clean, "clean", false, "remove the file store and bridge socket directories before starting")
	flags.StringVar(&o.LogDir, "log-dir", "", "log file directory (accepted but not used; logs go to stderr only)")
	flags.StringVar(&o.LogLevel, "log-level", "info", "log level: none|error|warn|info|debug|trace")

	cmd.MarkFlagsMutuallyExclusive("listen-address", "interface")
	cmd.MarkFlagsMutuallyExclusive("batman-address", "batman-interface")
}

// Validate checks the --apps-management and --log-level values, which
// cobra's MarkFlagsMutuallyExclusive cannot express on its own.
func (o *RunOptions) Validate() error {
	switch AppsManagementPolicy(o.AppsManagement) {
	case AppsManagementAllow, AppsManagementDeny:
	default:
		return fmt.Errorf("--apps-management must be Allow or Deny, got %q", o.AppsManagement)
	}
	switch o.LogLevel {
	case "none", "error", "warn", "info", "debug", "trace":
	default:
		return fmt.Errorf("--log-level must be one of none|error|warn|info|debug|trace, got %q", o.LogLevel)
	}
	return nil
}

// Run builds the daemon's configuration from flags, or from the config file
// alone when --config-file is set, applies --clean if requested, starts the daemon, and blocks until
// SIGINT/SIGTERM, shutting down cleanly.
func (o *RunOptions) Run(ctx context.Context) error {
	setupLogging(o.LogLevel)

	cfg, err := o.buildConfig()
	if err != nil {
		return err
	}

	if o.Clean {
		if err := cleanStoreDirectory(cfg); err != nil {
			return fmt.Errorf("clean store directory: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	log.Infow("hyved starting", "peer_id", d.PeerID())

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-runErr:
		if err != nil {
			d.Shutdown()
			return err
		}
	}

	shutdownDone := make(chan struct{})
	go func() {
		d.Shutdown()
		close(shutdownDone)
	}()
	select {
	case <-shutdownDone:
	case <-time.After(10 * time.Second):
		log.Warnw("daemon shutdown timed out")
	}
	return nil
}

func (o *RunOptions) buildConfig() (*config.Config, error) {
	if o.ConfigFile != "" {
		return config.Load(o.ConfigFile)
	}

	baseDir := o.StoreDirectory
	if o.RandomDirectory || baseDir == "" {
		dir, err := os.MkdirTemp("", "hyveos-")
		if err != nil {
			return nil, fmt.Errorf("create random store directory: %w", err)
		}
		baseDir = dir
	}

	cfg := config.Default(baseDir)

	if len(o.ListenAddresses) > 0 {
		cfg.Swarm.ListenAddrs = o.ListenAddresses
	} else if len(o.Interfaces) > 0 {
		cfg.Neighbors.Interfaces = o.Interfaces
	}
	cfg.Neighbors.BatmanAddress = o.BatmanAddress
	cfg.Neighbors.BatmanInterface = o.BatmanInterface
	if o.DBFile != "" {
		cfg.Apps.StateDBPath = o.DBFile
	}
	if o.KeyFile != "" {
		cfg.Identity.KeyPath = o.KeyFile
	}
	cfg.Apps.ManagementAllowed = AppsManagementPolicy(o.AppsManagement) != AppsManagementDeny
	return cfg, nil
}

func cleanStoreDirectory(cfg *config.Config) error {
	for _, dir := range []string{cfg.FileTransfer.StoreDir, cfg.Bridge.SocketDir} {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	return nil
}

func setupLogging(level string) {
	var lvl golog.LogLevel
	switch level {
	case "none":
		lvl = golog.LevelFatal
	case "error":
		lvl = golog.LevelError
	case "warn":
		lvl = golog.LevelWarn
	case "debug", "trace":
		lvl = golog.LevelDebug
	default:
		lvl = golog.LevelInfo
	}
	golog.SetAllLoggers(lvl)
}
