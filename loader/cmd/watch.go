package main

import (
	"github.com/spf13/cobra"

	"repoindex/loader/service"
)

func newWatchCmd() *cobra.Command {
	var flags ingestFlags
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest zip dumps dropped into LOADER_SOURCE_DIR until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), flags.namespace)
			if err != nil {
				return err
			}
			defer rt.Close()

			w, err := service.NewWatcher(cfg.Loader, rt.pipeline, flags.options(cmd))
			if err != nil {
				return err
			}
			return w.WithLogger(logger).Watch(cmd.Context())
		},
	}
	flags.register(cmd)
	return cmd
}
