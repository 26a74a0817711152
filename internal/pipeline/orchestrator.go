package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"eggbackend/internal/logging"
	"eggbackend/internal/models"
)

// EventStore is the slice of event storage the pipeline needs.
type EventStore interface {
	// DrainableForUser returns up to limit events with any usable input,
	// in status pending, transcribing, or failed, oldest first. Processed
	// events are never returned.
	DrainableForUser(ctx context.Context, userID string, limit int) ([]models.Event, error)
	MarkTranscribing(ctx context.Context, eventID string) error
	SaveTranscript(ctx context.Context, eventID, transcript string) error
	MarkProcessed(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string) error
	// ParkForBatch holds batch-window members in transcribing until a
	// flush threshold fires.
	ParkForBatch(ctx context.Context, eventIDs []string) error
}

// EggbookStore persists extraction output with source-event lineage.
type EggbookStore interface {
	SaveExtraction(ctx context.Context, userID, sourceEventID string, items []models.ExtractedItem) error
}

// Transcriber turns an event's media into text.
type Transcriber interface {
	TranscribeEvent(ctx context.Context, event *models.Event) (string, error)
}

// Extractor runs the structured-extraction model calls.
type Extractor interface {
	ExtractSingle(ctx context.Context, transcript string) (*models.ExtractionResult, error)
	ExtractBatch(ctx context.Context, transcripts []models.BatchTranscript) (*models.ExtractionResult, error)
}

// CommentTrigger kicks daily comment generation after a productive run.
type CommentTrigger interface {
	MaybeGenerateAuto(ctx context.Context, userID string)
}

// Metrics receives pipeline observations. services.Metrics implements it.
type Metrics interface {
	PipelineRunObserved(mode string, duration time.Duration, processed, failed int)
	CooldownRejected()
	TranscriptionFailed()
}

type nopMetrics struct{}

func (nopMetrics) PipelineRunObserved(string, time.Duration, int, int) {}
func (nopMetrics) CooldownRejected()                                   {}
func (nopMetrics) TranscriptionFailed()                                {}

// RunResult summarizes one pipeline run.
type RunResult struct {
	RunID     string `json:"run_id"`
	Mode      string `json:"mode"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Parked    int    `json:"parked"`
}

// OrchestratorDeps wires the orchestrator's collaborators. Comments and
// Metrics are optional.
type OrchestratorDeps struct {
	Scheduler   *Scheduler
	Gate        Gate
	Events      EventStore
	Eggbook     EggbookStore
	Transcriber Transcriber
	Extractor   Extractor
	Comments    CommentTrigger
	Metrics     Metrics
}

// Orchestrator drives one user's events through transcription and
// extraction to a terminal status. All decisions about what to drain and
// when to flush live in the Scheduler; all model retry behavior lives in
// the adapters behind Transcriber/Extractor.
type Orchestrator struct {
	scheduler   *Scheduler
	gate        Gate
	events      EventStore
	eggbook     EggbookStore
	transcriber Transcriber
	extractor   Extractor
	comments    CommentTrigger
	metrics     Metrics
	runTimeout  time.Duration
	now         func() time.Time
}

// NewOrchestrator creates a pipeline orchestrator.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Orchestrator{
		scheduler:   deps.Scheduler,
		gate:        deps.Gate,
		events:      deps.Events,
		eggbook:     deps.Eggbook,
		transcriber: deps.Transcriber,
		extractor:   deps.Extractor,
		comments:    deps.Comments,
		metrics:     metrics,
		runTimeout:  10 * time.Minute,
		now:         time.Now,
	}
}

// RunAsync kicks a detached pipeline run for the user. The run gets its
// own context so a client disconnect cannot strand events mid-flight.
func (o *Orchestrator) RunAsync(userID, reason string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.runTimeout)
		defer cancel()

		if _, err := o.ProcessUser(ctx, userID, reason); err != nil {
			if errors.Is(err, ErrCooldownActive) {
				log.Printf("⏳ AI run deferred for user %s (%s): cooldown active", userID, reason)
				return
			}
			log.Printf("❌ AI pipeline run failed for user %s (%s): %v", userID, reason, err)
		}
	}()
}

// ProcessUser drains the user's queue and runs it to terminal statuses.
// Returns ErrCooldownActive when the gate refuses; the queue is untouched
// in that case.
func (o *Orchestrator) ProcessUser(ctx context.Context, userID, reason string) (*RunResult, error) {
	if !o.gate.TryAcquire(ctx, userID) {
		o.metrics.CooldownRejected()
		return nil, ErrCooldownActive
	}
	defer o.gate.Release(ctx, userID)

	runID := uuid.NewString()
	logger := logging.WithPipelineRun(runID, userID)
	start := o.now()

	events, err := o.events.DrainableForUser(ctx, userID, o.scheduler.MaxEventsPerRun)
	if err != nil {
		return nil, fmt.Errorf("failed to drain events: %w", err)
	}

	plan := o.scheduler.BuildPlan(events)
	res := &RunResult{RunID: runID, Mode: plan.Mode()}
	if plan.Empty() {
		return res, nil
	}

	logger.Info("pipeline run started",
		"reason", reason,
		"mode", res.Mode,
		"singles", len(plan.Singles),
		"batch", len(plan.Batch),
		"no_input", len(plan.NoInput))

	for _, e := range plan.NoInput {
		o.fail(ctx, logger, e.ID, res)
	}

	for i := range plan.Singles {
		o.processSingle(ctx, logger, &plan.Singles[i], res)
	}

	if len(plan.Batch) > 0 {
		if o.scheduler.ShouldFlushBatch(plan.Batch, o.now()) {
			o.processBatch(ctx, logger, plan.Batch, res)
		} else {
			ids := make([]string, len(plan.Batch))
			for i, e := range plan.Batch {
				ids[i] = e.ID
			}
			if err := o.events.ParkForBatch(ctx, ids); err != nil {
				logger.Warn("failed to park batch events", "error", err)
			}
			res.Parked = len(ids)
		}
	}

	if res.Processed > 0 && o.comments != nil {
		o.comments.MaybeGenerateAuto(ctx, userID)
	}

	duration := o.now().Sub(start)
	o.metrics.PipelineRunObserved(res.Mode, duration, res.Processed, res.Failed)
	logger.Info("pipeline run finished",
		"reason", reason,
		"mode", res.Mode,
		"processed", res.Processed,
		"failed", res.Failed,
		"parked", res.Parked,
		"duration_ms", duration.Milliseconds())
	return res, nil
}

// processSingle runs one recording event on its own: transcribe if needed,
// persist the transcript, one extraction call, persist items.
func (o *Orchestrator) processSingle(ctx context.Context, logger *slog.Logger, e *models.Event, res *RunResult) {
	if err := o.events.MarkTranscribing(ctx, e.ID); err != nil {
		logger.Warn("failed to mark event transcribing", "event_id", e.ID, "error", err)
	}

	transcript, ok := o.ensureTranscript(ctx, logger, e, res)
	if !ok {
		return
	}
	if transcript == "" {
		// Recording with no speech: the placeholder idea already links
		// the media, nothing to extract.
		o.complete(ctx, logger, e.ID, res)
		return
	}

	result, err := o.extractor.ExtractSingle(ctx, transcript)
	if err != nil {
		logger.Warn("single extraction failed", "event_id", e.ID, "transient", IsTransient(err), "error", err)
		o.fail(ctx, logger, e.ID, res)
		return
	}
	if err := o.eggbook.SaveExtraction(ctx, e.UserID, e.ID, result.Items); err != nil {
		logger.Warn("failed to persist extraction", "event_id", e.ID, "error", err)
		o.fail(ctx, logger, e.ID, res)
		return
	}
	o.complete(ctx, logger, e.ID, res)
}

// processBatch transcribes each member (failures drop only that member),
// then runs one extraction call over the surviving transcripts. Each item is
// attributed to the member events the model tagged it with; items the model
// left untagged fall back to the newest member.
func (o *Orchestrator) processBatch(ctx context.Context, logger *slog.Logger, batch []models.Event, res *RunResult) {
	type member struct {
		event      *models.Event
		transcript string
	}
	var members []member

	for i := range batch {
		e := &batch[i]
		if err := o.events.MarkTranscribing(ctx, e.ID); err != nil {
			logger.Warn("failed to mark event transcribing", "event_id", e.ID, "error", err)
		}
		transcript, ok := o.ensureTranscript(ctx, logger, e, res)
		if !ok {
			continue
		}
		if transcript == "" {
			o.complete(ctx, logger, e.ID, res)
			continue
		}
		members = append(members, member{event: e, transcript: transcript})
	}
	if len(members) == 0 {
		return
	}

	transcripts := make([]models.BatchTranscript, len(members))
	memberIDs := make(map[string]bool, len(members))
	for i, m := range members {
		transcripts[i] = models.BatchTranscript{EventID: m.event.ID, Transcript: m.transcript}
		memberIDs[m.event.ID] = true
	}

	result, err := o.extractor.ExtractBatch(ctx, transcripts)
	if err != nil {
		logger.Warn("batch extraction failed", "events", len(members), "transient", IsTransient(err), "error", err)
		for _, m := range members {
			o.fail(ctx, logger, m.event.ID, res)
		}
		return
	}

	// Group items by source event. Tags the model invented, and items with
	// no tag at all, land on the newest member.
	newest := members[len(members)-1].event.ID
	grouped := make(map[string][]models.ExtractedItem)
	for _, item := range result.Items {
		var sources []string
		for _, id := range item.SourceEventIDs {
			if memberIDs[id] {
				sources = append(sources, id)
			}
		}
		if len(sources) == 0 {
			sources = []string{newest}
		}
		for _, id := range sources {
			grouped[id] = append(grouped[id], item)
		}
	}

	failed := make(map[string]bool)
	userID := members[0].event.UserID
	for _, m := range members {
		items, hasItems := grouped[m.event.ID]
		if !hasItems {
			continue
		}
		if err := o.eggbook.SaveExtraction(ctx, userID, m.event.ID, items); err != nil {
			logger.Warn("failed to persist batch extraction", "event_id", m.event.ID, "error", err)
			failed[m.event.ID] = true
		}
	}
	for _, m := range members {
		if failed[m.event.ID] {
			o.fail(ctx, logger, m.event.ID, res)
			continue
		}
		o.complete(ctx, logger, m.event.ID, res)
	}
}

// ensureTranscript returns the event's transcript, running speech-to-text
// when needed and persisting the result before any extraction outcome.
// ok=false means the event was marked failed and must be skipped.
func (o *Orchestrator) ensureTranscript(ctx context.Context, logger *slog.Logger, e *models.Event, res *RunResult) (string, bool) {
	transcript := strings.TrimSpace(e.Transcript)
	if transcript != "" || !e.HasMediaURL() {
		return transcript, true
	}

	text, err := o.transcriber.TranscribeEvent(ctx, e)
	if err != nil {
		o.metrics.TranscriptionFailed()
		logger.Warn("transcription failed", "event_id", e.ID, "error", err)
		o.fail(ctx, logger, e.ID, res)
		return "", false
	}
	transcript = strings.TrimSpace(text)
	if transcript == "" {
		return "", true
	}
	if err := o.events.SaveTranscript(ctx, e.ID, transcript); err != nil {
		logger.Warn("failed to persist transcript", "event_id", e.ID, "error", err)
		o.fail(ctx, logger, e.ID, res)
		return "", false
	}
	e.Transcript = transcript
	return transcript, true
}

func (o *Orchestrator) complete(ctx context.Context, logger *slog.Logger, eventID string, res *RunResult) {
	if err := o.events.MarkProcessed(ctx, eventID); err != nil {
		logger.Warn("failed to mark event processed", "event_id", eventID, "error", err)
		res.Failed++
		return
	}
	res.Processed++
}

func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, eventID string, res *RunResult) {
	if err := o.events.MarkFailed(ctx, eventID); err != nil {
		logger.Warn("failed to mark event failed", "event_id", eventID, "error", err)
	}
	res.Failed++
}
