package main

import (
	"github.com/spf13/cobra"

	"repoindex/github"
	"repoindex/loader/service"
)

func newIndexRepoCmd() *cobra.Command {
	var flags ingestFlags
	cmd := &cobra.Command{
		Use:   "index-repo <github-url>",
		Short: "Download the default branch of a GitHub repository and rebuild its index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), "")
			if err != nil {
				return err
			}
			defer rt.Close()

			gh := github.NewClient(cmd.Context(), cfg.GitHubToken, github.WithLogger(logger))
			indexer := service.NewRepoIndexer(gh, rt.ds, rt.pipeline, flags.options(cmd)).WithLogger(logger)

			report, err := indexer.Index(cmd.Context(), args[0])
			if report != nil {
				printReport(cmd, report)
			}
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
