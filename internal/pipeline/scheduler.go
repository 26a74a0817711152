package pipeline

import (
	"sort"
	"time"

	"eggbackend/internal/models"
)

// Trigger classifies how an event enters inference.
type Trigger int

const (
	// TriggerNone means the event carries nothing the pipeline can use.
	TriggerNone Trigger = iota
	// TriggerSingle means the event is processed on its own, immediately.
	TriggerSingle
	// TriggerBatch means the event joins the user's batch window.
	TriggerBatch
)

func (t Trigger) String() string {
	switch t {
	case TriggerSingle:
		return "single"
	case TriggerBatch:
		return "batch"
	default:
		return "none"
	}
}

// Plan is one run's worth of drained events, capped and classified.
// Singles and Batch are ordered by event time ascending.
type Plan struct {
	Singles []models.Event
	Batch   []models.Event
	NoInput []models.Event
}

// Empty reports whether the plan contains no events at all.
func (p Plan) Empty() bool {
	return len(p.Singles) == 0 && len(p.Batch) == 0 && len(p.NoInput) == 0
}

// Mode names the run shape for logs and metrics.
func (p Plan) Mode() string {
	switch {
	case len(p.Singles) > 0 && len(p.Batch) > 0:
		return "mixed"
	case len(p.Singles) > 0:
		return "single"
	case len(p.Batch) > 0:
		return "batch"
	default:
		return "none"
	}
}

// Scheduler holds the pure scheduling rules: trigger classification, the
// batch window flush decision, and the per-run drain cap. It keeps no
// state and touches no storage.
type Scheduler struct {
	BatchTriggerCount int
	BatchMaxWait      time.Duration
	MaxEventsPerRun   int
}

// NewScheduler creates a scheduler with the given thresholds.
func NewScheduler(batchTriggerCount int, batchMaxWait time.Duration, maxEventsPerRun int) *Scheduler {
	return &Scheduler{
		BatchTriggerCount: batchTriggerCount,
		BatchMaxWait:      batchMaxWait,
		MaxEventsPerRun:   maxEventsPerRun,
	}
}

// Classify applies the trigger rules: a screen recording forces single
// inference and takes precedence; any other usable input joins the batch.
func (s *Scheduler) Classify(e *models.Event) Trigger {
	if e.ScreenRecording() != "" {
		return TriggerSingle
	}
	if e.HasAnyInput() {
		return TriggerBatch
	}
	return TriggerNone
}

// NeedsTranscription reports whether the event must pass speech-to-text
// before inference.
func (s *Scheduler) NeedsTranscription(e *models.Event) bool {
	return !e.HasTranscript() && e.HasMediaURL()
}

// BuildPlan orders the drained events by event time, applies the per-run
// cap, and classifies each into the plan buckets.
func (s *Scheduler) BuildPlan(events []models.Event) Plan {
	sorted := make([]models.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EventAt.Before(sorted[j].EventAt)
	})

	if s.MaxEventsPerRun > 0 && len(sorted) > s.MaxEventsPerRun {
		sorted = sorted[:s.MaxEventsPerRun]
	}

	var plan Plan
	for _, e := range sorted {
		switch s.Classify(&e) {
		case TriggerSingle:
			plan.Singles = append(plan.Singles, e)
		case TriggerBatch:
			plan.Batch = append(plan.Batch, e)
		default:
			plan.NoInput = append(plan.NoInput, e)
		}
	}
	return plan
}

// ShouldFlushBatch reports whether the batch window fires: either the
// count threshold is reached or the oldest member has waited past the age
// threshold.
func (s *Scheduler) ShouldFlushBatch(batch []models.Event, now time.Time) bool {
	if len(batch) == 0 {
		return false
	}
	oldest := batch[0].EventAt
	for _, e := range batch[1:] {
		if e.EventAt.Before(oldest) {
			oldest = e.EventAt
		}
	}
	return s.WouldFlush(len(batch), oldest, now)
}

// WouldFlush is the raw dual-trigger check over a window's count and
// oldest member time.
func (s *Scheduler) WouldFlush(count int, oldest time.Time, now time.Time) bool {
	if count <= 0 {
		return false
	}
	if count >= s.BatchTriggerCount {
		return true
	}
	return now.Sub(oldest) >= s.BatchMaxWait
}
