// Package cmd defines hyved's cobra-based command-line interface.
package cmd

import (
	"fmt"
	"os"

	golog "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
)

var log = golog.Logger("cmd")

// Execute runs the hyved root command. It is called by main.main and only
// needs to happen once.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, r)
			os.Exit(1)
		}
	}()

	root := NewRootCommand()
	root.SilenceUsage = true
	root.SilenceErrors = true
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// NewRootCommand builds the hyved daemon command and attaches every flag
// from the CLI surface: config/identity/store paths, listen addressing,
// batman-adv wiring, app-management policy, and logging.
func NewRootCommand() *cobra.Command {
	o := &RunOptions{}

	root := &cobra.Command{
		Use:   "hyved",
		Short: "hyveos mesh daemon",
		Long: `hyved runs the node-local mesh orchestrator: it discovers direct
batman-adv neighbors, maintains a libp2p overlay, moves content-addressed
files between nodes, and manages the lifecycle of containerized
applications that consume all of the above through a local bridge socket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Validate(); err != nil {
				return err
			}
			return o.Run(cmd.Context())
		},
	}

	o.bindFlags(root)
	return root
}
