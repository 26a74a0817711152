package pipeline

import (
	"testing"
	"time"

	"eggbackend/internal/models"
)

func testScheduler() *Scheduler {
	return NewScheduler(5, 12*time.Hour, 20)
}

func TestClassifyPrecedence(t *testing.T) {
	s := testScheduler()

	tests := []struct {
		name  string
		event models.Event
		want  Trigger
	}{
		{"screen recording wins over transcript", models.Event{ScreenRecordingURL: "https://cdn/rec.mp4", Transcript: "hello"}, TriggerSingle},
		{"legacy recording alias counts", models.Event{RecordingURL: "https://cdn/rec.mp4"}, TriggerSingle},
		{"transcript only goes to batch", models.Event{Transcript: "note to self"}, TriggerBatch},
		{"audio only goes to batch", models.Event{AudioURL: "https://cdn/a.m4a"}, TriggerBatch},
		{"nothing usable", models.Event{}, TriggerNone},
		{"whitespace is not input", models.Event{Transcript: "   "}, TriggerNone},
	}
	for _, tt := range tests {
		if got := s.Classify(&tt.event); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNeedsTranscription(t *testing.T) {
	s := testScheduler()

	if !s.NeedsTranscription(&models.Event{AudioURL: "https://cdn/a.m4a"}) {
		t.Error("audio without transcript needs transcription")
	}
	if s.NeedsTranscription(&models.Event{AudioURL: "https://cdn/a.m4a", Transcript: "done"}) {
		t.Error("existing transcript skips transcription")
	}
	if s.NeedsTranscription(&models.Event{Transcript: "typed note"}) {
		t.Error("transcript-only event has nothing to transcribe")
	}
}

func TestBuildPlanSortsAndCaps(t *testing.T) {
	s := testScheduler()
	s.MaxEventsPerRun = 3

	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	events := []models.Event{
		{ID: "d", Transcript: "four", EventAt: base.Add(3 * time.Hour)},
		{ID: "b", Transcript: "two", EventAt: base.Add(1 * time.Hour)},
		{ID: "a", Transcript: "one", EventAt: base},
		{ID: "c", Transcript: "three", EventAt: base.Add(2 * time.Hour)},
	}

	plan := s.BuildPlan(events)
	if len(plan.Batch) != 3 {
		t.Fatalf("expected drain cap of 3, got %d", len(plan.Batch))
	}
	for i, want := range []string{"a", "b", "c"} {
		if plan.Batch[i].ID != want {
			t.Errorf("position %d: got %s, want %s", i, plan.Batch[i].ID, want)
		}
	}
}

func TestBuildPlanBuckets(t *testing.T) {
	s := testScheduler()

	plan := s.BuildPlan([]models.Event{
		{ID: "rec", ScreenRecordingURL: "https://cdn/r.mp4"},
		{ID: "note", Transcript: "hello"},
		{ID: "empty"},
	})
	if len(plan.Singles) != 1 || plan.Singles[0].ID != "rec" {
		t.Fatalf("expected rec in singles, got %+v", plan.Singles)
	}
	if len(plan.Batch) != 1 || plan.Batch[0].ID != "note" {
		t.Fatalf("expected note in batch, got %+v", plan.Batch)
	}
	if len(plan.NoInput) != 1 || plan.NoInput[0].ID != "empty" {
		t.Fatalf("expected empty in no-input, got %+v", plan.NoInput)
	}
	if plan.Mode() != "mixed" {
		t.Fatalf("expected mixed mode, got %s", plan.Mode())
	}
}

func TestShouldFlushBatchCountTrigger(t *testing.T) {
	s := testScheduler()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	batch := make([]models.Event, 4)
	for i := range batch {
		batch[i] = models.Event{Transcript: "t", EventAt: now.Add(-time.Minute)}
	}
	if s.ShouldFlushBatch(batch, now) {
		t.Fatal("4 fresh events must not flush with threshold 5")
	}

	batch = append(batch, models.Event{Transcript: "t", EventAt: now})
	if !s.ShouldFlushBatch(batch, now) {
		t.Fatal("5 events must flush")
	}
}

func TestShouldFlushBatchAgeTrigger(t *testing.T) {
	s := testScheduler()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	batch := []models.Event{
		{Transcript: "t", EventAt: now.Add(-11 * time.Hour)},
	}
	if s.ShouldFlushBatch(batch, now) {
		t.Fatal("11h old single event must not flush with 12h max wait")
	}

	batch[0].EventAt = now.Add(-12 * time.Hour)
	if !s.ShouldFlushBatch(batch, now) {
		t.Fatal("12h old event must flush regardless of count")
	}

	if s.ShouldFlushBatch(nil, now) {
		t.Fatal("empty window never flushes")
	}
}
