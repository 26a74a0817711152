package handlers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"eggbackend/internal/config"
	"eggbackend/internal/middleware"
	"eggbackend/internal/models"
	"eggbackend/internal/pipeline"
	"eggbackend/internal/services"
)

// EventHandler serves event ingestion and the PATCH-driven pipeline
// trigger.
type EventHandler struct {
	cfg          *config.Config
	events       *services.EventService
	eggbook      *services.EggbookService
	scheduler    *pipeline.Scheduler
	orchestrator *pipeline.Orchestrator
	gate         pipeline.Gate
}

// NewEventHandler creates an event handler. orchestrator is nil when AI
// is disabled; events then stay pending.
func NewEventHandler(cfg *config.Config, events *services.EventService, eggbook *services.EggbookService, scheduler *pipeline.Scheduler, orchestrator *pipeline.Orchestrator, gate pipeline.Gate) *EventHandler {
	return &EventHandler{
		cfg:          cfg,
		events:       events,
		eggbook:      eggbook,
		scheduler:    scheduler,
		orchestrator: orchestrator,
		gate:         gate,
	}
}

// HandleCreateEvent inserts a new pending event. The pipeline only
// triggers on PATCH finalization, never on create. POST /v1/events
func (h *EventHandler) HandleCreateEvent(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req struct {
		DeviceID           string  `json:"device_id"`
		AudioURL           string  `json:"audio_url"`
		ScreenRecordingURL string  `json:"screen_recording_url"`
		RecordingURL       string  `json:"recording_url"`
		Transcript         string  `json:"transcript"`
		DurationSec        float64 `json:"duration_sec"`
		EventAt            string  `json:"event_at"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	var eventAt time.Time
	if req.EventAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.EventAt)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "event_at must be RFC3339",
			})
		}
		eventAt = parsed
	}

	event, err := h.events.Create(c.Context(), userID, services.CreateEventInput{
		DeviceID:           req.DeviceID,
		AudioURL:           req.AudioURL,
		ScreenRecordingURL: req.ScreenRecordingURL,
		RecordingURL:       req.RecordingURL,
		Transcript:         req.Transcript,
		DurationSec:        req.DurationSec,
		EventAt:            eventAt,
	})
	if err != nil {
		log.Printf("❌ Failed to create event for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create event",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(event)
}

// patchEventRequest uses pointers so absent fields stay untouched.
type patchEventRequest struct {
	AudioURL           *string  `json:"audio_url"`
	ScreenRecordingURL *string  `json:"screen_recording_url"`
	RecordingURL       *string  `json:"recording_url"`
	Transcript         *string  `json:"transcript"`
	DurationSec        *float64 `json:"duration_sec"`
	EventAt            *string  `json:"event_at"`
	Status             *string  `json:"status"`
	Finalize           bool     `json:"finalize"`
}

// HandlePatchEvent applies a partial update, links a placeholder idea for
// screen recordings, and kicks a detached pipeline run when the trigger
// gate passes. PATCH /v1/events/:id
func (h *EventHandler) HandlePatchEvent(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	eventID := c.Params("id")

	var req patchEventRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	update := services.UpdateEventInput{
		AudioURL:           req.AudioURL,
		ScreenRecordingURL: req.ScreenRecordingURL,
		RecordingURL:       req.RecordingURL,
		Transcript:         req.Transcript,
		DurationSec:        req.DurationSec,
		Status:             req.Status,
	}
	if req.EventAt != nil {
		parsed, err := time.Parse(time.RFC3339, *req.EventAt)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "event_at must be RFC3339",
			})
		}
		update.EventAt = &parsed
	}

	event, err := h.events.Update(c.Context(), userID, eventID, update)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEventNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "event not found",
			})
		case errors.Is(err, services.ErrInvalidEventStatus):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid status",
			})
		}
		log.Printf("❌ Failed to update event %s: %v", eventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to update event",
		})
	}

	// A screen recording gets a visible idea immediately, before any
	// extraction output exists.
	if event.ScreenRecording() != "" {
		if err := h.eggbook.UpsertPlaceholderIdea(c.Context(), userID, event.ID, event); err != nil {
			log.Printf("⚠️ Failed to upsert placeholder idea for event %s: %v", event.ID, err)
		}
	}

	if h.shouldTrigger(event, req.Finalize) {
		h.orchestrator.RunAsync(userID, "event_patch")
	}

	return c.JSON(event)
}

// shouldTrigger is the PATCH trigger gate: AI must be configured, the
// event must carry input, and the update must look final (explicit
// finalize flag, a media URL, or transcript-only triggering enabled).
func (h *EventHandler) shouldTrigger(event *models.Event, finalize bool) bool {
	if h.orchestrator == nil || !event.HasAnyInput() {
		return false
	}
	if finalize || event.HasMediaURL() {
		return true
	}
	return h.cfg.TriggerTranscriptOnly && event.HasTranscript()
}

// HandleGetEvent returns one event. GET /v1/events/:id
func (h *EventHandler) HandleGetEvent(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	event, err := h.events.GetByID(c.Context(), userID, c.Params("id"))
	if err != nil {
		if errors.Is(err, services.ErrEventNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "event not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch event",
		})
	}
	return c.JSON(event)
}

// HandleGetEventStatus returns just the processing status, for polling.
// GET /v1/events/:id/status
func (h *EventHandler) HandleGetEventStatus(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	event, err := h.events.GetByID(c.Context(), userID, c.Params("id"))
	if err != nil {
		if errors.Is(err, services.ErrEventNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "event not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch event",
		})
	}

	return c.JSON(fiber.Map{
		"event_id":   event.ID,
		"status":     event.Status,
		"updated_at": event.UpdatedAt,
	})
}

// HandleDebugAIState explains why an event did or did not enter the
// pipeline. GET /v1/debug/events/:id/ai-state
func (h *EventHandler) HandleDebugAIState(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	event, err := h.events.GetByID(c.Context(), userID, c.Params("id"))
	if err != nil {
		if errors.Is(err, services.ErrEventNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "event not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch event",
		})
	}

	window, err := h.events.BatchWindow(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to inspect batch window",
		})
	}

	now := time.Now()
	wouldFlush := false
	if window.OldestAt != nil {
		wouldFlush = h.scheduler.WouldFlush(window.Count, *window.OldestAt, now)
	}

	state := fiber.Map{
		"event_id":            event.ID,
		"status":              event.Status,
		"ai_enabled":          h.orchestrator != nil,
		"trigger":             h.scheduler.Classify(event).String(),
		"needs_transcription": h.scheduler.NeedsTranscription(event),
		"batch_window": fiber.Map{
			"count":         window.Count,
			"oldest_at":     window.OldestAt,
			"trigger_count": h.scheduler.BatchTriggerCount,
			"max_wait":      h.scheduler.BatchMaxWait.String(),
			"would_flush":   wouldFlush,
		},
		"reason": h.debugReason(event, wouldFlush),
	}
	if reporter, ok := h.gate.(pipeline.StateReporter); ok {
		gs := reporter.State(c.Context(), userID)
		state["gate"] = fiber.Map{
			"in_flight":             gs.InFlight,
			"cooldown_remaining_ms": gs.CooldownRemaining.Milliseconds(),
		}
	}
	return c.JSON(state)
}

func (h *EventHandler) debugReason(event *models.Event, wouldFlush bool) string {
	switch {
	case h.orchestrator == nil:
		return "ai disabled: no api key configured"
	case !event.HasAnyInput():
		return "event has no usable input"
	case event.Status == models.EventStatusProcessed:
		return "already processed; reset status to reprocess"
	case event.Status == models.EventStatusFailed:
		return "failed; will be retried on the next run"
	case h.scheduler.Classify(event) == pipeline.TriggerSingle:
		return "single inference: runs immediately on finalize"
	case wouldFlush:
		return "batch window ready to flush"
	default:
		return "waiting in batch window"
	}
}

// HandleDebugLinkedIdea returns the idea linked to an event.
// GET /v1/debug/events/:id/linked-idea
func (h *EventHandler) HandleDebugLinkedIdea(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	idea, err := h.eggbook.LinkedIdea(c.Context(), userID, c.Params("id"))
	if err != nil {
		if errors.Is(err, services.ErrIdeaNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "no idea linked to this event",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch linked idea",
		})
	}
	return c.JSON(fiber.Map{
		"idea":           idea,
		"is_placeholder": idea.IsPlaceholder(),
	})
}
