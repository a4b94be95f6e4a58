package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"repoindex/config"
	"repoindex/loader/service"
	"repoindex/model"
	"repoindex/services"
	"repoindex/store"

	"github.com/spf13/cobra"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "loader",
	Short: "Bulk-load zip dumps and GitHub repositories into the retrieval datastore",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		cfg = c
		logger = cfg.NewLogger()
		slog.SetDefault(logger)
		return nil
	},
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loaderEnv holds what every subcommand needs: the opened datastore and a pipeline over it.
type loaderEnv struct {
	ds       *store.Datastore
	chunks   store.ChunkStore
	pipeline *service.Pipeline
}

func openRuntime(ctx context.Context, namespace string) (*loaderEnv, error) {
	if namespace != "" {
		cfg.Namespace = namespace
	}
	ds, chunks, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("datastore opened", "backend", cfg.Datastore, "namespace", ds.Namespace())

	gen := model.NewOllamaGenerator(cfg.LLMURL, cfg.LLMModel)
	pipeline := service.NewPipeline(ds, services.NewPIIScreener(gen), services.NewMetadataExtractor(gen)).
		WithLogger(logger)
	return &loaderEnv{ds: ds, chunks: chunks, pipeline: pipeline}, nil
}

func (r *loaderEnv) Close() {
	logger.Info("closing datastore")
	if err := r.chunks.Close(); err != nil {
		logger.Error("error closing datastore", "err", err)
	}
}

// ingestFlags are shared by ingest, watch and index-repo.
type ingestFlags struct {
	metadata        map[string]string
	screenPII       bool
	extractMetadata bool
	batchSize       int
	namespace       string
	exclude         []string
}

func (f *ingestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringToStringVar(&f.metadata, "metadata", nil, "metadata override applied to every document (key=value, repeatable)")
	cmd.Flags().BoolVar(&f.screenPII, "screen-pii", false, "skip files the language model flags as containing PII")
	cmd.Flags().BoolVar(&f.extractMetadata, "extract-metadata", false, "infer document metadata with the language model")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "documents per upsert call (default BATCH_SIZE)")
	cmd.Flags().StringVar(&f.namespace, "namespace", "", "datastore namespace (default DATASTORE_NAMESPACE)")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "glob of archive entries to leave out, e.g. '**/node_modules/**'")
}

func (f *ingestFlags) options(cmd *cobra.Command) service.Options {
	opts := service.Options{
		CustomMetadata:  f.metadata,
		ScreenForPII:    cfg.Ingest.ScreenForPII,
		ExtractMetadata: cfg.Ingest.ExtractMetadata,
		BatchSize:       cfg.Ingest.BatchSize,
		Exclude:         append(append([]string(nil), cfg.Ingest.Exclude...), f.exclude...),
		ScratchDir:      cfg.Ingest.ScratchDir,
	}
	if cmd.Flags().Changed("screen-pii") {
		opts.ScreenForPII = f.screenPII
	}
	if cmd.Flags().Changed("extract-metadata") {
		opts.ExtractMetadata = f.extractMetadata
	}
	if f.batchSize > 0 {
		opts.BatchSize = f.batchSize
	}
	return opts
}

func printReport(cmd *cobra.Command, report *service.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "built %d, upserted %d in %d batches, skipped %d\n",
		report.Built, report.Upserted, report.Batches, len(report.Skipped))
	for _, s := range report.Skipped {
		fmt.Fprintf(out, "  skipped %s\n", s)
	}
	if report.CleanupErr != nil {
		fmt.Fprintf(out, "warning: scratch cleanup incomplete: %v\n", report.CleanupErr)
	}
}

func init() {
	rootCmd.AddCommand(newIngestCmd(), newWatchCmd(), newIndexRepoCmd())
}
