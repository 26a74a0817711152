package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"eggbackend/internal/middleware"
	"eggbackend/internal/services"
)

// AuthHandler serves anonymous account creation and device registration.
type AuthHandler struct {
	users *services.UserService
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(users *services.UserService) *AuthHandler {
	return &AuthHandler{users: users}
}

// HandleAnonymousAuth creates a fresh anonymous account and returns its
// token. POST /v1/auth/anonymous
func (h *AuthHandler) HandleAnonymousAuth(c *fiber.Ctx) error {
	user, token, err := h.users.CreateAnonymous(c.Context())
	if err != nil {
		log.Printf("❌ Failed to create anonymous user: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create account",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user_id": user.ID,
		"token":   token,
	})
}

// HandleRegisterDevice registers or updates the caller's device.
// POST /v1/devices
func (h *AuthHandler) HandleRegisterDevice(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req struct {
		DeviceID    string `json:"device_id"`
		DeviceModel string `json:"device_model"`
		OS          string `json:"os"`
		Language    string `json:"language"`
		Timezone    string `json:"timezone"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	device, err := h.users.RegisterDevice(c.Context(), userID, services.RegisterDeviceInput{
		DeviceID:    req.DeviceID,
		DeviceModel: req.DeviceModel,
		OS:          req.OS,
		Language:    req.Language,
		Timezone:    req.Timezone,
	})
	if err != nil {
		if errors.Is(err, services.ErrDeviceClaimed) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "device is registered to another account",
			})
		}
		log.Printf("❌ Failed to register device for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to register device",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(device)
}

// HandleCreateMemory stores a memory record. POST /v1/memory
func (h *AuthHandler) HandleCreateMemory(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req struct {
		Type       string  `json:"type"`
		Content    string  `json:"content"`
		Importance float64 `json:"importance"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "content is required",
		})
	}

	memory, err := h.users.SaveMemory(c.Context(), userID, req.Type, req.Content, req.Importance)
	if err != nil {
		log.Printf("❌ Failed to store memory for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to store memory",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(memory)
}
