package api

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"repoindex/github"
	"repoindex/store"
	"repoindex/types"

	"github.com/gofiber/fiber/v2"
)

type DocumentHandler struct {
	store   store.NamespacedStore
	extract func(path string) (string, error)
	logger  *slog.Logger
}

func NewDocumentHandler(ds store.NamespacedStore, extract func(path string) (string, error)) *DocumentHandler {
	return &DocumentHandler{
		store:   ds,
		extract: extract,
		logger:  slog.Default(),
	}
}

// HandleUpsertFile indexes one uploaded file. The optional "metadata" form field is a
// JSON DocumentMetadata; when it is missing or malformed the source defaults to file.
func (h *DocumentHandler) HandleUpsertFile(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return ErrMissingFile()
	}

	meta := types.DocumentMetadata{Source: types.SourceFile}
	if raw := c.FormValue("metadata"); raw != "" {
		var parsed types.DocumentMetadata
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			h.logger.Debug("ignoring malformed metadata", "err", err)
		} else {
			meta = parsed
		}
	}

	tmp, err := os.MkdirTemp("", "upload-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	path := filepath.Join(tmp, filepath.Base(fileHeader.Filename))
	if err := c.SaveFile(fileHeader, path); err != nil {
		return err
	}

	text, err := h.extract(path)
	if err != nil {
		return err
	}

	ids, err := h.store.Upsert(c.UserContext(), []types.Document{{Text: text, Metadata: meta}})
	if err != nil {
		return err
	}
	h.logger.Info("file upserted", "name", fileHeader.Filename, "ids", ids)
	return c.JSON(types.UpsertResponse{IDs: ids})
}

func (h *DocumentHandler) HandleUpsert(c *fiber.Ctx) error {
	var params types.UpsertRequest
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	ids, err := h.store.Upsert(c.UserContext(), params.Documents)
	if err != nil {
		return err
	}
	return c.JSON(types.UpsertResponse{IDs: ids})
}

// HandleQuery searches the default index, or the index of repo_url when given.
func (h *DocumentHandler) HandleQuery(c *fiber.Ctx) error {
	var params types.QueryRequest
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	var ds store.DataStore = h.store
	if params.RepoURL != "" {
		ds = h.store.Namespaced(github.ConvertURLToName(params.RepoURL))
	}

	results, err := ds.Query(c.UserContext(), params.Queries)
	if err != nil {
		return err
	}
	return c.JSON(types.QueryResponse{Results: results})
}

func (h *DocumentHandler) HandleDelete(c *fiber.Ctx) error {
	var params types.DeleteRequest
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewError(fiber.StatusBadRequest, errors["request"])
	}

	ok, err := h.store.Delete(c.UserContext(), params.IDs, params.Filter, params.DeleteAll)
	if err != nil {
		return err
	}
	return c.JSON(types.DeleteResponse{Success: ok})
}
