package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sekia-ai/gleanrelay/pkg/glean"
	"github.com/sekia-ai/gleanrelay/pkg/protocol"
)

func newEmitCmd() *cobra.Command {
	var (
		applicationID     string
		appDisplayVersion string
		channel           string
	)

	cmd := &cobra.Command{
		Use:   "emit [event-json]",
		Short: "Write one glean record to stdout without a daemon",
		Long: `Builds a glean events ping from a server event and writes the record to
stdout. The event is read from the argument, or from stdin when omitted.

Example:
  gleanctl emit --application-id ff-app --app-version 1.2.3 --channel prod \
    '{"user_agent":"Firefox/124","ip_address":"203.0.113.5","category":"email","name":"generate_mask","extra":{"mozilla_accounts_id":"acct-42"}}'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				in = strings.NewReader(args[0])
			}

			var ev protocol.ServerEvent
			if err := json.NewDecoder(in).Decode(&ev); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			if !ev.Collect() {
				return fmt.Errorf("event is opted out of metrics collection")
			}
			event := ev.Event()
			if err := event.Validate(); err != nil {
				return err
			}

			gl := glean.NewEventsServerEventLogger(applicationID, appDisplayVersion, channel,
				glean.NewMozlogLogger(cmd.OutOrStdout()))
			return gl.Record(ev.UserAgent, ev.IPAddress, event)
		},
	}

	cmd.Flags().StringVar(&applicationID, "application-id", "", "glean application ID")
	cmd.Flags().StringVar(&appDisplayVersion, "app-version", "", "application display version")
	cmd.Flags().StringVar(&channel, "channel", "local", "release channel")
	cmd.MarkFlagRequired("application-id")

	return cmd
}
