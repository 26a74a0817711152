package handlers

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"eggbackend/internal/middleware"
	"eggbackend/internal/services"
)

// CommentHandler serves the daily eggbook comments.
type CommentHandler struct {
	comments *services.CommentService
}

// NewCommentHandler creates a comment handler.
func NewCommentHandler(comments *services.CommentService) *CommentHandler {
	return &CommentHandler{comments: comments}
}

func queryDate(c *fiber.Ctx) string {
	if date := c.Query("date"); date != "" {
		return date
	}
	return time.Now().UTC().Format("2006-01-02")
}

// HandleListComments GET /v1/eggbook/comments?date=&days=
func (h *CommentHandler) HandleListComments(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	date := queryDate(c)
	days := c.QueryInt("days", 1)

	// Listing also runs request-path cleanup so expired days disappear
	// even without the retention job.
	if _, err := h.comments.PurgeExpired(c.Context()); err != nil {
		log.Printf("⚠️ Comment cleanup failed: %v", err)
	}

	comments, err := h.comments.List(c.Context(), userID, date, days)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid date window",
		})
	}
	return c.JSON(fiber.Map{"comments": comments})
}

// HandleCreateComment POST /v1/eggbook/comments
func (h *CommentHandler) HandleCreateComment(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req struct {
		Content string `json:"content"`
		Date    string `json:"date"`
	}
	if err := c.BodyParser(&req); err != nil || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "content is required",
		})
	}

	comment, err := h.comments.CreateManual(c.Context(), userID, req.Date, req.Content)
	if err != nil {
		log.Printf("❌ Failed to create comment for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create comment",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(comment)
}

// HandleCommentStatus GET /v1/eggbook/comments/status?date=
func (h *CommentHandler) HandleCommentStatus(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	status, err := h.comments.Status(c.Context(), userID, queryDate(c))
	if err != nil {
		log.Printf("❌ Failed to fetch comment status for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch status",
		})
	}
	return c.JSON(status)
}

// HandleGenerateComments POST /v1/eggbook/comments/generate
// Manual trigger: requires day input but skips the activity threshold.
func (h *CommentHandler) HandleGenerateComments(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req struct {
		Date string `json:"date"`
	}
	_ = c.BodyParser(&req)
	date := req.Date
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}

	gen, err := h.comments.Generate(c.Context(), userID, date, true)
	if err != nil {
		log.Printf("❌ Manual comment generation failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate comments",
		})
	}
	return c.JSON(gen)
}
