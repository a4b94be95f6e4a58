package api

import (
	"context"
	"log/slog"

	"repoindex/loader/service"
	"repoindex/types"

	"github.com/gofiber/fiber/v2"
)

type RepoIndexer interface {
	Index(ctx context.Context, repoURL string) (*service.Report, error)
}

type IndexHandler struct {
	indexer RepoIndexer
	logger  *slog.Logger
}

func NewIndexHandler(indexer RepoIndexer) *IndexHandler {
	return &IndexHandler{
		indexer: indexer,
		logger:  slog.Default(),
	}
}

// HandleIndexRepo downloads the default branch of repo_url and rebuilds its index.
func (h *IndexHandler) HandleIndexRepo(c *fiber.Ctx) error {
	var params types.IndexRequest
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	report, err := h.indexer.Index(c.UserContext(), params.RepoURL)
	if err != nil && report == nil {
		return err
	}
	if err != nil {
		// the pipeline ran: keep its partial counts in the answer
		apiErr := toAPIError(c, err)
		return c.Status(apiErr.Code).JSON(types.IndexResponse{
			Success:   false,
			Documents: report.Upserted,
			Skipped:   report.SkippedPaths(),
			Error:     apiErr.Message,
		})
	}
	h.logger.Info("repository indexed", "repo", params.RepoURL, "documents", report.Upserted, "skipped", len(report.Skipped))

	return c.JSON(types.IndexResponse{
		Success:   report.Success,
		Documents: report.Upserted,
		Skipped:   report.SkippedPaths(),
	})
}
