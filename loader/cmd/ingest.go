package main

import (
	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	var flags ingestFlags
	cmd := &cobra.Command{
		Use:   "ingest <archive.zip>",
		Short: "Ingest every file of a zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), flags.namespace)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.pipeline.Run(cmd.Context(), args[0], flags.options(cmd))
			printReport(cmd, report)
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
