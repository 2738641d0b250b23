package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sekia-ai/gleanrelay/pkg/protocol"
)

func newProducersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "producers",
		Short: "List producers publishing server events",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp protocol.ProducersResponse
			if err := apiGet("/api/v1/producers", &resp); err != nil {
				return err
			}

			if len(resp.Producers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No producers registered.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tSTATUS\tPUBLISHED\tERRORS\tEVENTS\tLAST HEARTBEAT")
			for _, p := range resp.Producers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					p.Name, p.Version, p.Status,
					p.EventsPublished, p.Errors,
					strings.Join(p.Events, ","),
					p.LastHeartbeat.Format("15:04:05"),
				)
			}
			w.Flush()
			return nil
		},
	}
}
