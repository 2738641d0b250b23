package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sekia-ai/gleanrelay/pkg/protocol"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gleand status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp protocol.StatusResponse
			if err := apiGet("/api/v1/status", &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status:       %s\n", resp.Status)
			fmt.Fprintf(out, "Uptime:       %s\n", resp.Uptime)
			fmt.Fprintf(out, "NATS Running: %v\n", resp.NATSRunning)
			fmt.Fprintf(out, "Started At:   %s\n", resp.StartedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Application:  %s %s (%s)\n", resp.ApplicationID, resp.AppDisplayVersion, resp.Channel)
			fmt.Fprintf(out, "Producers:    %d\n", resp.ProducerCount)
			fmt.Fprintf(out, "Events:       %d recorded, %d rejected, %d opted out\n",
				resp.EventsRecorded, resp.EventsRejected, resp.EventsOptedOut)
			return nil
		},
	}
}
