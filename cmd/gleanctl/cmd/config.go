package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sekia-ai/gleanrelay/pkg/protocol"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage daemon configuration",
	}

	cmd.AddCommand(newConfigReloadCmd())

	return cmd
}

func newConfigReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-read the glean identity from the daemon's config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp protocol.ReloadResponse
			if err := apiPost("/api/v1/config/reload", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Glean identity: %s %s (%s)\n",
				resp.ApplicationID, resp.AppDisplayVersion, resp.Channel)
			return nil
		},
	}
}
