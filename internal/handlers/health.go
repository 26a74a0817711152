package handlers

import (
	"github.com/gofiber/fiber/v2"

	"eggbackend/internal/database"
)

// HealthHandler serves the root health check.
type HealthHandler struct {
	db *database.MongoDB
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(db *database.MongoDB) *HealthHandler {
	return &HealthHandler{db: db}
}

// HandleHealth reports service and database health. GET /
func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	dbStatus := "ok"
	if err := h.db.Ping(c.Context()); err != nil {
		dbStatus = "unreachable"
	}

	status := fiber.StatusOK
	if dbStatus != "ok" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"service":  "eggbackend",
		"status":   "running",
		"database": dbStatus,
	})
}
