package api

import (
	"errors"
	"fmt"
	"log/slog"

	"repoindex/github"
	"repoindex/loader/service"
	"repoindex/services"
	"repoindex/store"

	"github.com/gofiber/fiber/v2"
)

func ErrorHandler(c *fiber.Ctx, err error) error {
	var valErr ValidationError
	if errors.As(err, &valErr) {
		return c.Status(valErr.Status).JSON(valErr)
	}
	apiErr := toAPIError(c, err)
	return c.Status(apiErr.Code).JSON(apiErr)
}

// toAPIError maps a domain error to the status and message sent to the client.
func toAPIError(c *fiber.Ctx, err error) Error {
	var (
		apiErr   Error
		fiberErr *fiber.Error
	)
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &fiberErr):
		apiErr = NewError(fiberErr.Code, fiberErr.Message)
	case errors.Is(err, store.ErrNotIndexed):
		apiErr = NewError(fiber.StatusNotFound, "repository is not indexed, call /index-repo first")
	case github.IsNotFound(err):
		apiErr = NewError(fiber.StatusNotFound, "repository not found")
	case github.IsUnauthorized(err):
		apiErr = NewError(fiber.StatusBadGateway, "GitHub rejected the configured token")
	case errors.Is(err, github.ErrInvalidRepoURL), errors.Is(err, service.ErrInvalidOverride):
		apiErr = NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrUnsupportedFileType):
		apiErr = NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrArchiveUnreadable), errors.Is(err, service.ErrUnsafeArchive):
		apiErr = NewError(fiber.StatusBadGateway, err.Error())
	default:
		apiErr = NewError(fiber.StatusInternalServerError, "internal service error")
	}

	if apiErr.Code >= fiber.StatusInternalServerError {
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "code", apiErr.Code, "err", err)
	} else {
		slog.Debug("request rejected", "method", c.Method(), "path", c.Path(), "code", apiErr.Code, "err", err)
	}
	return apiErr
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrMissingFile() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "multipart field 'file' is required",
	}
}

func ErrNotFound[T any](arg T, resource string) Error {
	return Error{
		Code:    fiber.StatusNotFound,
		Message: fmt.Sprintf("%s with %v not found", resource, arg),
	}
}
