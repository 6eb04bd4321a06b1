package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lyrad",
		Short:         "Headless Lyra backend",
		Long:          "lyrad runs the Lyra backend without the desktop shell.\nIt serves the UI command surface over HTTP and WebSocket and exposes the journal and resource lookup.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newServeCmd(),
		newJournalCmd(),
		newResourcesCmd(),
	)
	return cmd
}
