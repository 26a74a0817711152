package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"eggbackend/internal/models"
)

type fakeEventStore struct {
	mu          sync.Mutex
	events      []models.Event
	statuses    map[string]string
	transcripts map[string]string
	parked      []string
	drains      int

	// callLog records store mutations in order, for ordering assertions.
	callLog []string
}

func newFakeEventStore(events ...models.Event) *fakeEventStore {
	return &fakeEventStore{
		events:      events,
		statuses:    make(map[string]string),
		transcripts: make(map[string]string),
	}
}

// DrainableForUser mirrors the store contract: only events still in
// pending, transcribing, or failed come back; processed ones never do.
func (f *fakeEventStore) DrainableForUser(_ context.Context, _ string, limit int) ([]models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains++
	var out []models.Event
	for _, e := range f.events {
		switch f.statuses[e.ID] {
		case "", models.EventStatusPending, models.EventStatusTranscribing, models.EventStatusFailed:
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeEventStore) log(format string, args ...any) {
	f.callLog = append(f.callLog, fmt.Sprintf(format, args...))
}

func (f *fakeEventStore) MarkTranscribing(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = models.EventStatusTranscribing
	return nil
}

func (f *fakeEventStore) SaveTranscript(_ context.Context, id, transcript string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts[id] = transcript
	f.log("transcript:%s", id)
	return nil
}

func (f *fakeEventStore) MarkProcessed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = models.EventStatusProcessed
	f.log("processed:%s", id)
	return nil
}

func (f *fakeEventStore) MarkFailed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = models.EventStatusFailed
	f.log("failed:%s", id)
	return nil
}

func (f *fakeEventStore) ParkForBatch(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parked = append(f.parked, ids...)
	return nil
}

type savedExtraction struct {
	userID        string
	sourceEventID string
	items         []models.ExtractedItem
}

type fakeEggbook struct {
	saved []savedExtraction
	err   error
}

func (f *fakeEggbook) SaveExtraction(_ context.Context, userID, sourceEventID string, items []models.ExtractedItem) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, savedExtraction{userID, sourceEventID, items})
	return nil
}

type fakeTranscriber struct {
	text   map[string]string
	errFor map[string]error
	calls  []string
}

func (f *fakeTranscriber) TranscribeEvent(_ context.Context, event *models.Event) (string, error) {
	f.calls = append(f.calls, event.ID)
	if err := f.errFor[event.ID]; err != nil {
		return "", err
	}
	if text, ok := f.text[event.ID]; ok {
		return text, nil
	}
	return "spoken " + event.ID, nil
}

type fakeExtractor struct {
	singleCalls []string
	batchCalls  [][]models.BatchTranscript
	result      *models.ExtractionResult
	singleErr   error
	batchErr    error
}

func (f *fakeExtractor) ExtractSingle(_ context.Context, transcript string) (*models.ExtractionResult, error) {
	f.singleCalls = append(f.singleCalls, transcript)
	if f.singleErr != nil {
		return nil, f.singleErr
	}
	return f.extractionResult(), nil
}

func (f *fakeExtractor) ExtractBatch(_ context.Context, transcripts []models.BatchTranscript) (*models.ExtractionResult, error) {
	f.batchCalls = append(f.batchCalls, transcripts)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	return f.extractionResult(), nil
}

func (f *fakeExtractor) extractionResult() *models.ExtractionResult {
	if f.result != nil {
		return f.result
	}
	return &models.ExtractionResult{Items: []models.ExtractedItem{{TodoItem: "do the thing"}}}
}

type fakeComments struct {
	triggered []string
}

func (f *fakeComments) MaybeGenerateAuto(_ context.Context, userID string) {
	f.triggered = append(f.triggered, userID)
}

type orchestratorFixture struct {
	orch        *Orchestrator
	store       *fakeEventStore
	eggbook     *fakeEggbook
	transcriber *fakeTranscriber
	extractor   *fakeExtractor
	comments    *fakeComments
}

func newFixture(store *fakeEventStore) *orchestratorFixture {
	f := &orchestratorFixture{
		store:       store,
		eggbook:     &fakeEggbook{},
		transcriber: &fakeTranscriber{text: map[string]string{}, errFor: map[string]error{}},
		extractor:   &fakeExtractor{},
		comments:    &fakeComments{},
	}
	f.orch = NewOrchestrator(OrchestratorDeps{
		Scheduler:   NewScheduler(3, 12*time.Hour, 20),
		Gate:        NewMemoryGate(0),
		Events:      store,
		Eggbook:     f.eggbook,
		Transcriber: f.transcriber,
		Extractor:   f.extractor,
		Comments:    f.comments,
	})
	return f
}

func batchEvent(id string, at time.Time) models.Event {
	return models.Event{ID: id, UserID: "u1", AudioURL: "https://cdn/" + id + ".m4a", EventAt: at}
}

func TestProcessUserCooldownDeferral(t *testing.T) {
	store := newFakeEventStore(models.Event{ID: "e1", UserID: "u1", Transcript: "hi"})
	f := newFixture(store)

	gate := NewMemoryGate(time.Minute)
	f.orch.gate = gate
	if !gate.TryAcquire(context.Background(), "u1") {
		t.Fatal("setup acquire failed")
	}

	_, err := f.orch.ProcessUser(context.Background(), "u1", "test")
	if !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected ErrCooldownActive, got %v", err)
	}
	if store.drains != 0 {
		t.Fatal("a deferred run must not touch the queue")
	}
}

func TestProcessUserSingleFlow(t *testing.T) {
	store := newFakeEventStore(models.Event{
		ID: "e1", UserID: "u1",
		ScreenRecordingURL: "https://cdn/rec.mp4",
		EventAt:            time.Now(),
	})
	f := newFixture(store)
	f.transcriber.text["e1"] = "remember to water the plants"

	res, err := f.orch.ProcessUser(context.Background(), "u1", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Processed != 1 || res.Failed != 0 {
		t.Fatalf("expected 1 processed, got %+v", res)
	}
	if store.statuses["e1"] != models.EventStatusProcessed {
		t.Fatalf("expected processed status, got %s", store.statuses["e1"])
	}
	if store.transcripts["e1"] != "remember to water the plants" {
		t.Fatal("transcript must be persisted")
	}
	if len(f.extractor.singleCalls) != 1 {
		t.Fatalf("expected one single extraction, got %d", len(f.extractor.singleCalls))
	}
	if len(f.eggbook.saved) != 1 || f.eggbook.saved[0].sourceEventID != "e1" {
		t.Fatalf("expected extraction saved with event lineage, got %+v", f.eggbook.saved)
	}
	if len(f.comments.triggered) != 1 {
		t.Fatal("a productive run must trigger comment generation")
	}

	// Transcript persistence must precede the terminal status.
	if len(store.callLog) < 2 || store.callLog[0] != "transcript:e1" {
		t.Fatalf("expected transcript persisted first, log: %v", store.callLog)
	}
}

func TestProcessUserTranscriptSurvivesExtractionFailure(t *testing.T) {
	store := newFakeEventStore(models.Event{
		ID: "e1", UserID: "u1",
		ScreenRecordingURL: "https://cdn/rec.mp4",
		EventAt:            time.Now(),
	})
	f := newFixture(store)
	f.extractor.singleErr = &ExtractionError{StatusCode: 503, Attempts: 4, Transient: true, Err: errors.New("unavailable")}

	res, err := f.orch.ProcessUser(context.Background(), "u1", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("expected 1 failed, got %+v", res)
	}
	if store.statuses["e1"] != models.EventStatusFailed {
		t.Fatalf("expected failed status, got %s", store.statuses["e1"])
	}
	if store.transcripts["e1"] == "" {
		t.Fatal("transcript must survive an extraction failure")
	}
	if len(f.comments.triggered) != 0 {
		t.Fatal("a fruitless run must not trigger comments")
	}
}

func TestProcessUserBatchPartialFailureIsolation(t *testing.T) {
	at := time.Now().Add(-time.Minute)
	store := newFakeEventStore(
		batchEvent("e1", at),
		batchEvent("e2", at.Add(time.Second)),
		batchEvent("e3", at.Add(2*time.Second)),
	)
	f := newFixture(store)
	f.transcriber.errFor["e2"] = errors.New("decode failure")

	res, err := f.orch.ProcessUser(context.Background(), "u1", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.statuses["e2"] != models.EventStatusFailed {
		t.Fatal("the failing member must be marked failed")
	}
	if store.statuses["e1"] != models.EventStatusProcessed || store.statuses["e3"] != models.EventStatusProcessed {
		t.Fatalf("survivors must be processed, got %v", store.statuses)
	}
	if res.Processed != 2 || res.Failed != 1 {
		t.Fatalf("expected 2 processed / 1 failed, got %+v", res)
	}
	if len(f.extractor.batchCalls) != 1 || len(f.extractor.batchCalls[0]) != 2 {
		t.Fatalf("expected one batch call over 2 transcripts, got %+v", f.extractor.batchCalls)
	}
	call := f.extractor.batchCalls[0]
	if call[0].EventID != "e1" || call[1].EventID != "e3" {
		t.Fatalf("batch request must carry the surviving event IDs in order, got %+v", call)
	}
}

func TestProcessUserBatchParksBelowThreshold(t *testing.T) {
	at := time.Now()
	store := newFakeEventStore(
		batchEvent("e1", at),
		batchEvent("e2", at.Add(time.Second)),
	)
	f := newFixture(store)

	res, err := f.orch.ProcessUser(context.Background(), "u1", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Parked != 2 || res.Processed != 0 {
		t.Fatalf("expected 2 parked, got %+v", res)
	}
	if len(store.parked) != 2 {
		t.Fatalf("expected park call for both events, got %v", store.parked)
	}
	if len(f.extractor.batchCalls) != 0 || len(f.transcriber.calls) != 0 {
		t.Fatal("a parked window must not reach the model")
	}
}

func TestProcessUserBatchAgeFlush(t *testing.T) {
	store := newFakeEventStore(batchEvent("e1", time.Now().Add(-13*time.Hour)))
	f := newFixture(store)

	res, err := f.orch.ProcessUser(context.Background(), "u1", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("an over-age window must flush even with one member, got %+v", res)
	}
}

func TestProcessUserBatchExtractionFailureFailsMembers(t *testing.T) {
	at := time.Now().Add(-time.Minute)
	store := newFakeEventStore(
		batchEvent("e1", at),
		batchEvent("e2", at.Add(time.Second)),
		batchEvent("e3", at.Add(2*time.Second)),
	)
	f := newFixture(store)
	f.extractor.batchErr = &ExtractionError{StatusCode: 429, Attempts: 4, Transient: true, Err: errors.New("rate limited")}

	res, err := f.orch.ProcessUser(context.Background(), "u1", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failed != 3 || res.Processed != 0 {
		t.Fatalf("expected all members failed, got %+v", res)
	}
	for _, id := range []string{"e1", "e2", "e3"} {
		if store.transcripts[id] == "" {
			t.Fatalf("transcript for %s must be persisted before the batch call", id)
		}
	}
}

func TestProcessUserNoInputMarkedFailed(t *testing.T) {
	store := newFakeEventStore(models.Event{ID: "e1", UserID: "u1", EventAt: time.Now()})
	f := newFixture(store)

	res, err := f.orch.ProcessUser(context.Background(), "u1", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("expected the empty event to fail, got %+v", res)
	}
	if store.statuses["e1"] != models.EventStatusFailed {
		t.Fatalf("expected failed status, got %s", store.statuses["e1"])
	}
}

func TestProcessUserLineageOnBatch(t *testing.T) {
	at := time.Now().Add(-time.Minute)
	store := newFakeEventStore(
		batchEvent("e1", at),
		batchEvent("e2", at.Add(time.Second)),
		batchEvent("e3", at.Add(2*time.Second)),
	)
	f := newFixture(store)
	f.extractor.result = &models.ExtractionResult{Items: []models.ExtractedItem{
		{TodoItem: "call the landlord", SourceEventIDs: []string{"e1"}},
		{ScrollingIdeaTitle: "garden plan", SourceEventIDs: []string{"e3"}},
	}}

	if _, err := f.orch.ProcessUser(context.Background(), "u1", "test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byEvent := map[string][]models.ExtractedItem{}
	for _, s := range f.eggbook.saved {
		byEvent[s.sourceEventID] = s.items
	}
	if len(byEvent) != 2 {
		t.Fatalf("expected saves for two source events, got %+v", f.eggbook.saved)
	}
	if len(byEvent["e1"]) != 1 || byEvent["e1"][0].TodoItem != "call the landlord" {
		t.Fatalf("todo must keep its own event's lineage, got %+v", byEvent["e1"])
	}
	if len(byEvent["e3"]) != 1 || byEvent["e3"][0].ScrollingIdeaTitle != "garden plan" {
		t.Fatalf("idea must keep its own event's lineage, got %+v", byEvent["e3"])
	}
	if _, ok := byEvent["e2"]; ok {
		t.Fatal("an event the model drew nothing from must get no save")
	}
}

func TestProcessUserLineageFallsBackToNewestMember(t *testing.T) {
	at := time.Now().Add(-time.Minute)
	store := newFakeEventStore(
		batchEvent("e1", at),
		batchEvent("e2", at.Add(time.Second)),
		batchEvent("e3", at.Add(2*time.Second)),
	)
	f := newFixture(store)
	f.extractor.result = &models.ExtractionResult{Items: []models.ExtractedItem{
		{TodoItem: "untagged task"},
		{Alert: "made-up lineage", SourceEventIDs: []string{"nonsense-id"}},
	}}

	if _, err := f.orch.ProcessUser(context.Background(), "u1", "test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.eggbook.saved) != 1 {
		t.Fatalf("expected a single fallback save, got %+v", f.eggbook.saved)
	}
	s := f.eggbook.saved[0]
	if s.sourceEventID != "e3" {
		t.Fatalf("untagged items must land on the newest member, got %s", s.sourceEventID)
	}
	if len(s.items) != 2 {
		t.Fatalf("both untagged items must reach the fallback save, got %+v", s.items)
	}
}

func TestProcessUserProcessedEventsNeverRedrained(t *testing.T) {
	store := newFakeEventStore(models.Event{
		ID: "e1", UserID: "u1",
		ScreenRecordingURL: "https://cdn/rec.mp4",
		Transcript:         "remember to water the plants",
		EventAt:            time.Now(),
	})
	f := newFixture(store)

	res, err := f.orch.ProcessUser(context.Background(), "u1", "first")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("expected 1 processed on the first run, got %+v", res)
	}

	res, err = f.orch.ProcessUser(context.Background(), "u1", "second")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Processed != 0 || res.Failed != 0 || res.Parked != 0 {
		t.Fatalf("a rerun over a drained queue must do nothing, got %+v", res)
	}
	if len(f.extractor.singleCalls) != 1 {
		t.Fatalf("a processed event must not reach the model again, got %d calls", len(f.extractor.singleCalls))
	}
	if len(f.eggbook.saved) != 1 {
		t.Fatalf("a rerun must not duplicate eggbook items, got %d saves", len(f.eggbook.saved))
	}
}
