package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"eggbackend/internal/config"
	"eggbackend/internal/pipeline"
	"eggbackend/internal/services"
)

// Runner owns the background jobs: the pipeline recovery sweep, comment
// retention, and upload cleanup.
type Runner struct {
	scheduler gocron.Scheduler

	cfg          *config.Config
	events       *services.EventService
	comments     *services.CommentService
	uploads      *services.UploadService
	orchestrator *pipeline.Orchestrator
}

// NewRunner creates the job runner. orchestrator may be nil when AI is
// disabled; the sweep then only requeues stuck events.
func NewRunner(cfg *config.Config, events *services.EventService, comments *services.CommentService, uploads *services.UploadService, orchestrator *pipeline.Orchestrator) (*Runner, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job scheduler: %w", err)
	}

	return &Runner{
		scheduler:    scheduler,
		cfg:          cfg,
		events:       events,
		comments:     comments,
		uploads:      uploads,
		orchestrator: orchestrator,
	}, nil
}

// Start registers and starts all jobs.
func (r *Runner) Start() error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.cfg.SweepInterval),
		gocron.NewTask(r.runPipelineSweep),
		gocron.WithName("pipeline_sweep"),
	)
	if err != nil {
		return fmt.Errorf("failed to register pipeline sweep: %w", err)
	}

	_, err = r.scheduler.NewJob(
		gocron.DurationJob(6*time.Hour),
		gocron.NewTask(r.runCommentRetention),
		gocron.WithName("comment_retention"),
	)
	if err != nil {
		return fmt.Errorf("failed to register comment retention: %w", err)
	}

	_, err = r.scheduler.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			// Recordings stay referenced from events; only files never
			// attached to anything are this old and unclaimed.
			r.uploads.CleanupOrphans(24 * time.Hour)
		}),
		gocron.WithName("upload_cleanup"),
	)
	if err != nil {
		return fmt.Errorf("failed to register upload cleanup: %w", err)
	}

	r.scheduler.Start()
	log.Printf("🚀 Background jobs started (sweep every %s)", r.cfg.SweepInterval)
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs.
func (r *Runner) Stop() {
	if err := r.scheduler.Shutdown(); err != nil {
		log.Printf("⚠️ Job scheduler shutdown failed: %v", err)
	}
}

// runPipelineSweep requeues events stuck in transcribing past the grace
// window, then runs the pipeline for every user with pending input. The
// batch window rules still apply per user, so the sweep guarantees
// eventual processing without collapsing batch semantics; the cooldown
// gate still applies too.
func (r *Runner) runPipelineSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SweepInterval)
	defer cancel()

	cutoff := time.Now().UTC().Add(-r.cfg.SweepStuckGrace)
	requeued, err := r.events.RequeueStuckTranscribing(ctx, cutoff)
	if err != nil {
		log.Printf("⚠️ Sweep failed to requeue stuck events: %v", err)
	} else if requeued > 0 {
		log.Printf("🔁 Sweep requeued %d stuck events", requeued)
	}

	if r.orchestrator == nil {
		return
	}

	users, err := r.events.UsersWithPendingInput(ctx)
	if err != nil {
		log.Printf("⚠️ Sweep failed to list users: %v", err)
		return
	}
	for _, userID := range users {
		if _, err := r.orchestrator.ProcessUser(ctx, userID, "sweep"); err != nil {
			if errors.Is(err, pipeline.ErrCooldownActive) {
				continue
			}
			log.Printf("⚠️ Sweep pipeline run failed for user %s: %v", userID, err)
		}
	}
}

// runCommentRetention purges comments and generation state older than the
// retention window.
func (r *Runner) runCommentRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	purged, err := r.comments.PurgeExpired(ctx)
	if err != nil {
		log.Printf("⚠️ Comment retention failed: %v", err)
		return
	}
	if purged > 0 {
		log.Printf("🗑️ Comment retention purged %d comments", purged)
	}
}
