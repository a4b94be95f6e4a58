package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"repoindex/app/api"
	"repoindex/app/middleware"
	"repoindex/config"
	"repoindex/github"
	"repoindex/loader/service"
	"repoindex/model"
	"repoindex/services"
	"repoindex/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	app    *fiber.App
	chunks store.ChunkStore
}

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Store   store.NamespacedStore
	Indexer api.RepoIndexer
	Extract func(path string) (string, error)
}

func NewServer(cfg *config.Config, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// Setup opens the datastore and builds every collaborator from the configuration.
func (s *Server) Setup(ctx context.Context) error {
	ds, chunks, err := store.Open(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.chunks = chunks

	gen := model.NewOllamaGenerator(s.cfg.LLMURL, s.cfg.LLMModel)
	pipeline := service.NewPipeline(ds, services.NewPIIScreener(gen), services.NewMetadataExtractor(gen)).
		WithLogger(s.logger)
	gh := github.NewClient(ctx, s.cfg.GitHubToken, github.WithLogger(s.logger))
	indexer := service.NewRepoIndexer(gh, ds, pipeline, service.Options{
		ScreenForPII:    s.cfg.Ingest.ScreenForPII,
		ExtractMetadata: s.cfg.Ingest.ExtractMetadata,
		BatchSize:       s.cfg.Ingest.BatchSize,
		Exclude:         s.cfg.Ingest.Exclude,
		ScratchDir:      s.cfg.Ingest.ScratchDir,
	}).WithLogger(s.logger)

	app, err := NewApp(s.cfg, Deps{
		Store:   ds,
		Indexer: indexer,
		Extract: services.ExtractTextFromFilepath,
	})
	if err != nil {
		chunks.Close()
		return err
	}
	s.app = app
	return nil
}

// NewApp registers middleware and routes on a fresh fiber app.
func NewApp(cfg *config.Config, deps Deps) (*fiber.App, error) {
	manifestHandler, err := api.NewManifestHandler(cfg.PublicURL)
	if err != nil {
		return nil, fmt.Errorf("build manifest: %w", err)
	}

	var (
		app             = fiber.New(fiber.Config{ErrorHandler: api.ErrorHandler, BodyLimit: 64 << 20})
		checkHandler    = api.NewCheckHandler(cfg.Datastore)
		documentHandler = api.NewDocumentHandler(deps.Store, deps.Extract)
		indexHandler    = api.NewIndexHandler(deps.Indexer)
		wellKnown       = app.Group("/.well-known")
		check           = app.Group("/check")
	)

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOrigins(cfg), ","),
		AllowCredentials: true,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "*",
	}))
	app.Use("/.well-known", middleware.PlugStatic(cfg.StaticDir,
		"/.well-known/ai-plugin.json", "/.well-known/openapi.yaml"))

	wellKnown.Get("/ai-plugin.json", manifestHandler.HandleManifest)
	wellKnown.Get("/openapi.yaml", manifestHandler.HandleOpenAPI)
	check.Get("/healthy", checkHandler.HandleHealthy)

	app.Post("/upsert-file", documentHandler.HandleUpsertFile)
	app.Post("/upsert", documentHandler.HandleUpsert)
	app.Post("/query", documentHandler.HandleQuery)
	app.Delete("/delete", documentHandler.HandleDelete)
	app.Post("/index-repo", indexHandler.HandleIndexRepo)

	return app, nil
}

func allowedOrigins(cfg *config.Config) []string {
	port := cfg.ServerAddr
	if i := strings.LastIndexByte(port, ':'); i >= 0 {
		port = port[i+1:]
	}
	origins := []string{"http://localhost:" + port, "https://chat.openai.com"}
	return append(origins, cfg.ExtraOrigins...)
}

// Run blocks serving HTTP until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("server starting", "addr", s.cfg.ServerAddr)
	if err := s.app.Listen(s.cfg.ServerAddr); err != nil {
		s.logger.Error("error to start server", "error", err.Error())
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.app != nil {
		err = s.app.ShutdownWithContext(ctx)
	}
	if s.chunks != nil {
		if cerr := s.chunks.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.logger.Info("server stopped")
	return err
}
