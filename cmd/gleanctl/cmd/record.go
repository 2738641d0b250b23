package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sekia-ai/gleanrelay/pkg/glean"
	"github.com/sekia-ai/gleanrelay/pkg/protocol"
)

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a server event through gleand",
	}

	cmd.AddCommand(newRecordEmailGenerateMaskCmd())

	return cmd
}

func newRecordEmailGenerateMaskCmd() *cobra.Command {
	var (
		userAgent       string
		ipAddress       string
		accountID       string
		randomMask      bool
		createdByAPI    bool
		hasGeneratedFor bool
		optedOut        bool
	)

	cmd := &cobra.Command{
		Use:   "email-generate-mask",
		Short: "Record an email.generate_mask event",
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := protocol.NewServerEvent("gleanctl", userAgent, ipAddress, glean.EmailGenerateMask{
				MozillaAccountsID: accountID,
				IsRandomMask:      randomMask,
				CreatedByAPI:      createdByAPI,
				HasGeneratedFor:   hasGeneratedFor,
			}.Event())
			if optedOut {
				enabled := false
				ev.MetricsEnabled = &enabled
			}

			var resp protocol.RecordResponse
			if err := apiPost("/api/v1/events", ev, &resp); err != nil {
				return err
			}
			if !resp.Recorded {
				fmt.Fprintf(cmd.OutOrStdout(), "Not recorded: %s\n", resp.Reason)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded: %s\n", resp.DocumentID)
			return nil
		},
	}

	cmd.Flags().StringVar(&userAgent, "user-agent", "", "user agent of the originating request")
	cmd.Flags().StringVar(&ipAddress, "ip", "", "IP address of the originating request")
	cmd.Flags().StringVar(&accountID, "account", "", "Mozilla accounts user ID")
	cmd.Flags().BoolVar(&randomMask, "random", false, "random mask (default: domain mask)")
	cmd.Flags().BoolVar(&createdByAPI, "api", false, "mask was created through the API")
	cmd.Flags().BoolVar(&hasGeneratedFor, "generated-for", false, "generated_for was filled in")
	cmd.Flags().BoolVar(&optedOut, "opted-out", false, "account has disabled metrics collection")
	cmd.MarkFlagRequired("account")

	return cmd
}
