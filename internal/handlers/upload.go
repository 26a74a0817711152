package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"eggbackend/internal/middleware"
	"eggbackend/internal/services"
)

// UploadHandler serves signed recording uploads.
type UploadHandler struct {
	uploads *services.UploadService
}

// NewUploadHandler creates an upload handler.
func NewUploadHandler(uploads *services.UploadService) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

// HandleCreateUpload issues a signed PUT URL for a recording.
// POST /v1/uploads/recording
func (h *UploadHandler) HandleCreateUpload(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req struct {
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
	}
	_ = c.BodyParser(&req)

	putURL, fileURL, session, err := h.uploads.CreateSession(userID, req.Filename, req.ContentType)
	if err != nil {
		log.Printf("❌ Failed to create upload session for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create upload",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"upload_id":  session.ID,
		"put_url":    putURL,
		"file_url":   fileURL,
		"expires_at": session.CreatedAt.Add(h.uploads.Expires()),
	})
}

// HandlePutUpload receives the recording bytes. The token authenticates
// the slot, so this route carries no JWT middleware.
// PUT /v1/uploads/recording/:id?token=
func (h *UploadHandler) HandlePutUpload(c *fiber.Ctx) error {
	uploadID := c.Params("id")
	token := c.Query("token")

	fileURL, err := h.uploads.Store(uploadID, token, c.Body())
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUploadTokenMismatch):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "invalid upload token",
			})
		case errors.Is(err, services.ErrUploadNotFound):
			return c.Status(fiber.StatusGone).JSON(fiber.Map{
				"error": "upload session expired",
			})
		}
		log.Printf("❌ Failed to store upload %s: %v", uploadID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to store upload",
		})
	}

	return c.JSON(fiber.Map{"file_url": fileURL})
}

// HandleGetFile serves an uploaded recording.
// GET /v1/uploads/files/:id
func (h *UploadHandler) HandleGetFile(c *fiber.Ctx) error {
	path, err := h.uploads.FilePath(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "file not found",
		})
	}
	return c.SendFile(path)
}
