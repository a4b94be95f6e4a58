package api

import (
	"github.com/gofiber/fiber/v2"
)

type CheckHandler struct {
	datastore string
}

func NewCheckHandler(datastore string) *CheckHandler {
	return &CheckHandler{datastore: datastore}
}

func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok", "datastore": h.datastore})
}
