package handlers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"eggbackend/internal/middleware"
	"eggbackend/internal/services"
)

// EggbookHandler serves the eggbook CRUD surface: ideas, todos,
// notifications, sync status.
type EggbookHandler struct {
	eggbook *services.EggbookService
}

// NewEggbookHandler creates an eggbook handler.
func NewEggbookHandler(eggbook *services.EggbookService) *EggbookHandler {
	return &EggbookHandler{eggbook: eggbook}
}

// --- Ideas ---

// HandleListIdeas GET /v1/eggbook/ideas
func (h *EggbookHandler) HandleListIdeas(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	limit := c.QueryInt("limit", 100)

	ideas, err := h.eggbook.ListIdeas(c.Context(), userID, limit)
	if err != nil {
		log.Printf("❌ Failed to list ideas for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list ideas",
		})
	}
	return c.JSON(fiber.Map{"ideas": ideas})
}

// HandleCreateIdea POST /v1/eggbook/ideas
func (h *EggbookHandler) HandleCreateIdea(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req struct {
		Title              string `json:"title"`
		Content            string `json:"content"`
		ScreenRecordingURL string `json:"screen_recording_url"`
		AudioURL           string `json:"audio_url"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Title == "" && req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "title or content is required",
		})
	}

	idea, err := h.eggbook.CreateIdea(c.Context(), userID, services.CreateIdeaInput{
		Title:              req.Title,
		Content:            req.Content,
		ScreenRecordingURL: req.ScreenRecordingURL,
		AudioURL:           req.AudioURL,
	})
	if err != nil {
		log.Printf("❌ Failed to create idea for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create idea",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(idea)
}

// HandleGetIdea GET /v1/eggbook/ideas/:id
func (h *EggbookHandler) HandleGetIdea(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	idea, err := h.eggbook.GetIdea(c.Context(), userID, c.Params("id"))
	if err != nil {
		if errors.Is(err, services.ErrIdeaNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "idea not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch idea",
		})
	}
	return c.JSON(idea)
}

// HandleDeleteIdea DELETE /v1/eggbook/ideas/:id
func (h *EggbookHandler) HandleDeleteIdea(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	if err := h.eggbook.DeleteIdea(c.Context(), userID, c.Params("id")); err != nil {
		if errors.Is(err, services.ErrIdeaNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "idea not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete idea",
		})
	}
	return c.JSON(fiber.Map{"deleted": true})
}

// --- Todos ---

// HandleListTodos GET /v1/eggbook/todos
func (h *EggbookHandler) HandleListTodos(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	limit := c.QueryInt("limit", 100)

	todos, err := h.eggbook.ListTodos(c.Context(), userID, limit)
	if err != nil {
		log.Printf("❌ Failed to list todos for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list todos",
		})
	}
	return c.JSON(fiber.Map{"todos": todos})
}

// HandleCreateTodo POST /v1/eggbook/todos
func (h *EggbookHandler) HandleCreateTodo(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req struct {
		Title string `json:"title"`
	}
	if err := c.BodyParser(&req); err != nil || req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "title is required",
		})
	}

	todo, err := h.eggbook.CreateTodo(c.Context(), userID, req.Title)
	if err != nil {
		log.Printf("❌ Failed to create todo for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create todo",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(todo)
}

// HandleUpdateTodo PATCH /v1/eggbook/todos/:id
func (h *EggbookHandler) HandleUpdateTodo(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req struct {
		Title      *string `json:"title"`
		IsAccepted *bool   `json:"is_accepted"`
		IsPinned   *bool   `json:"is_pinned"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	todo, err := h.eggbook.UpdateTodo(c.Context(), userID, c.Params("id"), services.UpdateTodoInput{
		Title:      req.Title,
		IsAccepted: req.IsAccepted,
		IsPinned:   req.IsPinned,
	})
	if err != nil {
		if errors.Is(err, services.ErrTodoNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "todo not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to update todo",
		})
	}
	return c.JSON(todo)
}

// HandleDeleteTodo DELETE /v1/eggbook/todos/:id
func (h *EggbookHandler) HandleDeleteTodo(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	if err := h.eggbook.DeleteTodo(c.Context(), userID, c.Params("id")); err != nil {
		if errors.Is(err, services.ErrTodoNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "todo not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete todo",
		})
	}
	return c.JSON(fiber.Map{"deleted": true})
}

// HandleAcceptTodo POST /v1/eggbook/todos/:id/accept
func (h *EggbookHandler) HandleAcceptTodo(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	todo, err := h.eggbook.AcceptTodo(c.Context(), userID, c.Params("id"))
	if err != nil {
		if errors.Is(err, services.ErrTodoNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "todo not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to accept todo",
		})
	}
	return c.JSON(todo)
}

// HandleScheduleTodo POST /v1/eggbook/todos/:id/schedule
func (h *EggbookHandler) HandleScheduleTodo(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req struct {
		NotifyAt string `json:"notify_at"`
	}
	if err := c.BodyParser(&req); err != nil || req.NotifyAt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "notify_at is required",
		})
	}
	notifyAt, err := time.Parse(time.RFC3339, req.NotifyAt)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "notify_at must be RFC3339",
		})
	}

	notification, err := h.eggbook.ScheduleTodo(c.Context(), userID, c.Params("id"), notifyAt)
	if err != nil {
		if errors.Is(err, services.ErrTodoNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "todo not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to schedule todo",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(notification)
}

// --- Notifications ---

// HandleListNotifications GET /v1/eggbook/notifications
func (h *EggbookHandler) HandleListNotifications(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	limit := c.QueryInt("limit", 100)

	notifications, err := h.eggbook.ListNotifications(c.Context(), userID, limit)
	if err != nil {
		log.Printf("❌ Failed to list notifications for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list notifications",
		})
	}
	return c.JSON(fiber.Map{"notifications": notifications})
}

// HandleCreateNotification POST /v1/eggbook/notifications
func (h *EggbookHandler) HandleCreateNotification(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req struct {
		Title    string `json:"title"`
		TodoID   string `json:"todo_id"`
		NotifyAt string `json:"notify_at"`
	}
	if err := c.BodyParser(&req); err != nil || req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "title is required",
		})
	}

	var notifyAt time.Time
	if req.NotifyAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.NotifyAt)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "notify_at must be RFC3339",
			})
		}
		notifyAt = parsed
	}

	notification, err := h.eggbook.CreateNotification(c.Context(), userID, services.CreateNotificationInput{
		Title:    req.Title,
		TodoID:   req.TodoID,
		NotifyAt: notifyAt,
	})
	if err != nil {
		log.Printf("❌ Failed to create notification for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create notification",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(notification)
}

// HandleUpdateNotification PATCH /v1/eggbook/notifications/:id
func (h *EggbookHandler) HandleUpdateNotification(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req struct {
		Title    *string `json:"title"`
		NotifyAt *string `json:"notify_at"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	update := services.UpdateNotificationInput{Title: req.Title}
	if req.NotifyAt != nil {
		parsed, err := time.Parse(time.RFC3339, *req.NotifyAt)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "notify_at must be RFC3339",
			})
		}
		update.NotifyAt = &parsed
	}

	notification, err := h.eggbook.UpdateNotification(c.Context(), userID, c.Params("id"), update)
	if err != nil {
		if errors.Is(err, services.ErrNotificationNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "notification not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to update notification",
		})
	}
	return c.JSON(notification)
}

// HandleDeleteNotification DELETE /v1/eggbook/notifications/:id
func (h *EggbookHandler) HandleDeleteNotification(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	if err := h.eggbook.DeleteNotification(c.Context(), userID, c.Params("id")); err != nil {
		if errors.Is(err, services.ErrNotificationNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "notification not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete notification",
		})
	}
	return c.JSON(fiber.Map{"deleted": true})
}

// HandleSyncStatus GET /v1/eggbook/sync-status
func (h *EggbookHandler) HandleSyncStatus(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	status, err := h.eggbook.SyncStatus(c.Context(), userID)
	if err != nil {
		log.Printf("❌ Failed to build sync status for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to build sync status",
		})
	}
	return c.JSON(status)
}
