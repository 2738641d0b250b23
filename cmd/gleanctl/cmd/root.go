package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sekia-ai/gleanrelay/pkg/sockpath"
)

var (
	socketPath string

	// Version is set by the main package via ldflags.
	Version = "dev"
)

// NewRootCmd creates the root gleanctl command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "gleanctl",
		Short:        "gleanctl controls the gleand server event relay",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", sockpath.DefaultSocketPath(), "gleand Unix socket path")

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newProducersCmd())
	rootCmd.AddCommand(newRecordCmd())
	rootCmd.AddCommand(newEmitCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newSecretsCmd())

	return rootCmd
}
