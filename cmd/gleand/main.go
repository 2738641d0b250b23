package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sekia-ai/gleanrelay/internal/server"
)

var version = "dev"

func main() {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:          "gleand",
		Short:        "gleand relays server events into glean records on stdout",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := server.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := server.NewLogger(cfg.Log, os.Stderr)
			d := server.NewDaemon(cfg, logger, os.Stdout)
			return d.Run()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
