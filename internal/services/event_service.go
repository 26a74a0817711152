package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"eggbackend/internal/database"
	"eggbackend/internal/models"
)

var ErrEventNotFound = errors.New("event not found")
var ErrInvalidEventStatus = errors.New("invalid event status")

// drainableStatuses are the statuses the pipeline may pick up. Processed
// events are only re-entered via an explicit status reset.
var drainableStatuses = []string{
	models.EventStatusPending,
	models.EventStatusTranscribing,
	models.EventStatusFailed,
}

// EventService is the Mongo-backed event store. It implements
// pipeline.EventStore and the handlers' ingest surface.
type EventService struct {
	db *database.MongoDB
}

// NewEventService creates an event service.
func NewEventService(db *database.MongoDB) *EventService {
	return &EventService{db: db}
}

func (s *EventService) collection() *mongo.Collection {
	return s.db.Collection(database.CollectionEvents)
}

// CreateEventInput carries the POST /events payload.
type CreateEventInput struct {
	DeviceID           string
	AudioURL           string
	ScreenRecordingURL string
	RecordingURL       string
	Transcript         string
	DurationSec        float64
	EventAt            time.Time
}

// Create inserts a new event in status pending. The legacy recording
// alias is mirrored both ways.
func (s *EventService) Create(ctx context.Context, userID string, in CreateEventInput) (*models.Event, error) {
	now := time.Now().UTC()
	eventAt := in.EventAt
	if eventAt.IsZero() {
		eventAt = now
	}

	screen, legacy := mirrorRecordingURLs(in.ScreenRecordingURL, in.RecordingURL)
	event := &models.Event{
		ID:                 uuid.NewString(),
		UserID:             userID,
		DeviceID:           in.DeviceID,
		AudioURL:           strings.TrimSpace(in.AudioURL),
		ScreenRecordingURL: screen,
		RecordingURL:       legacy,
		Transcript:         strings.TrimSpace(in.Transcript),
		DurationSec:        in.DurationSec,
		EventAt:            eventAt,
		Status:             models.EventStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if _, err := s.collection().InsertOne(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}
	return event, nil
}

// UpdateEventInput carries the PATCH /events/:id payload. Nil fields are
// left untouched.
type UpdateEventInput struct {
	AudioURL           *string
	ScreenRecordingURL *string
	RecordingURL       *string
	Transcript         *string
	DurationSec        *float64
	EventAt            *time.Time
	Status             *string
}

// Update applies a partial update and returns the updated event. Setting
// either recording field mirrors it into the other; an explicit status
// must be one of the four event statuses.
func (s *EventService) Update(ctx context.Context, userID, eventID string, in UpdateEventInput) (*models.Event, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}

	if in.AudioURL != nil {
		set["audioUrl"] = strings.TrimSpace(*in.AudioURL)
	}
	if in.ScreenRecordingURL != nil || in.RecordingURL != nil {
		var screenIn, legacyIn string
		if in.ScreenRecordingURL != nil {
			screenIn = *in.ScreenRecordingURL
		}
		if in.RecordingURL != nil {
			legacyIn = *in.RecordingURL
		}
		screen, legacy := mirrorRecordingURLs(screenIn, legacyIn)
		set["screenRecordingUrl"] = screen
		set["recordingUrl"] = legacy
	}
	if in.Transcript != nil {
		set["transcript"] = strings.TrimSpace(*in.Transcript)
	}
	if in.DurationSec != nil {
		set["durationSec"] = *in.DurationSec
	}
	if in.EventAt != nil {
		set["eventAt"] = *in.EventAt
	}
	if in.Status != nil {
		if !models.ValidEventStatus(*in.Status) {
			return nil, ErrInvalidEventStatus
		}
		set["status"] = *in.Status
	}

	var event models.Event
	err := s.collection().FindOneAndUpdate(ctx,
		bson.M{"_id": eventID, "userId": userID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&event)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to update event: %w", err)
	}
	return &event, nil
}

// GetByID fetches one of the user's events.
func (s *EventService) GetByID(ctx context.Context, userID, eventID string) (*models.Event, error) {
	var event models.Event
	err := s.collection().FindOne(ctx, bson.M{"_id": eventID, "userId": userID}).Decode(&event)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to fetch event: %w", err)
	}
	return &event, nil
}

// hasInputFilter matches events carrying any usable input.
func hasInputFilter() bson.M {
	nonEmpty := bson.M{"$exists": true, "$nin": bson.A{"", nil}}
	return bson.M{"$or": bson.A{
		bson.M{"audioUrl": nonEmpty},
		bson.M{"screenRecordingUrl": nonEmpty},
		bson.M{"recordingUrl": nonEmpty},
		bson.M{"transcript": nonEmpty},
	}}
}

// DrainableForUser returns up to limit non-terminal events with input,
// oldest first.
func (s *EventService) DrainableForUser(ctx context.Context, userID string, limit int) ([]models.Event, error) {
	filter := bson.M{
		"userId": userID,
		"status": bson.M{"$in": drainableStatuses},
		"$and":   bson.A{hasInputFilter()},
	}

	opts := options.Find().SetSort(bson.D{{Key: "eventAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query drainable events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []models.Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	return events, nil
}

func (s *EventService) setStatus(ctx context.Context, eventID, status string) error {
	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": eventID},
		bson.M{"$set": bson.M{"status": status, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to set event %s status to %s: %w", eventID, status, err)
	}
	if res.MatchedCount == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (s *EventService) MarkTranscribing(ctx context.Context, eventID string) error {
	return s.setStatus(ctx, eventID, models.EventStatusTranscribing)
}

func (s *EventService) MarkProcessed(ctx context.Context, eventID string) error {
	return s.setStatus(ctx, eventID, models.EventStatusProcessed)
}

func (s *EventService) MarkFailed(ctx context.Context, eventID string) error {
	return s.setStatus(ctx, eventID, models.EventStatusFailed)
}

// SaveTranscript persists a transcript as soon as speech-to-text returns,
// independent of the extraction outcome.
func (s *EventService) SaveTranscript(ctx context.Context, eventID, transcript string) error {
	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": eventID},
		bson.M{"$set": bson.M{"transcript": transcript, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to save transcript for event %s: %w", eventID, err)
	}
	if res.MatchedCount == 0 {
		return ErrEventNotFound
	}
	return nil
}

// ParkForBatch holds batch-window members in transcribing until a flush
// threshold fires.
func (s *EventService) ParkForBatch(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := s.collection().UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": eventIDs}, "status": bson.M{"$in": drainableStatuses}},
		bson.M{"$set": bson.M{"status": models.EventStatusTranscribing, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to park batch events: %w", err)
	}
	return nil
}

// RequeueStuckTranscribing moves events stuck in transcribing since before
// the cutoff back to pending. Returns the number requeued.
func (s *EventService) RequeueStuckTranscribing(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.collection().UpdateMany(ctx,
		bson.M{"status": models.EventStatusTranscribing, "updatedAt": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{"status": models.EventStatusPending, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stuck events: %w", err)
	}
	return res.ModifiedCount, nil
}

// UsersWithPendingInput returns the users the sweep should run for.
func (s *EventService) UsersWithPendingInput(ctx context.Context) ([]string, error) {
	filter := bson.M{
		"status": models.EventStatusPending,
		"$and":   bson.A{hasInputFilter()},
	}
	raw, err := s.collection().Distinct(ctx, "userId", filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with pending input: %w", err)
	}
	users := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			users = append(users, id)
		}
	}
	return users, nil
}

// BatchWindowState describes the user's current batch window for the
// debug endpoint.
type BatchWindowState struct {
	Count    int        `json:"count"`
	OldestAt *time.Time `json:"oldest_at,omitempty"`
}

// BatchWindow reports how many batch-eligible events the user has queued
// and the age of the oldest one.
func (s *EventService) BatchWindow(ctx context.Context, userID string) (BatchWindowState, error) {
	events, err := s.DrainableForUser(ctx, userID, 0)
	if err != nil {
		return BatchWindowState{}, err
	}

	var state BatchWindowState
	for i := range events {
		e := &events[i]
		if e.ScreenRecording() != "" || !e.HasAnyInput() {
			continue
		}
		state.Count++
		if state.OldestAt == nil || e.EventAt.Before(*state.OldestAt) {
			at := e.EventAt
			state.OldestAt = &at
		}
	}
	return state, nil
}

// DayActivity reports whether the user produced any media event in the
// window and the total recorded duration, for comment generation gating.
func (s *EventService) DayActivity(ctx context.Context, userID string, from, to time.Time) (hasInput bool, totalDurationSec float64, err error) {
	filter := bson.M{
		"userId":  userID,
		"eventAt": bson.M{"$gte": from, "$lt": to},
	}
	cursor, err := s.collection().Find(ctx, filter)
	if err != nil {
		return false, 0, fmt.Errorf("failed to query day activity: %w", err)
	}
	defer cursor.Close(ctx)

	var events []models.Event
	if err := cursor.All(ctx, &events); err != nil {
		return false, 0, fmt.Errorf("failed to decode day activity: %w", err)
	}
	for i := range events {
		if events[i].HasMediaURL() {
			hasInput = true
		}
		totalDurationSec += events[i].DurationSec
	}
	return hasInput, totalDurationSec, nil
}

// mirrorRecordingURLs keeps the modern field and the legacy alias in sync:
// whichever is set wins, the modern field on conflict.
func mirrorRecordingURLs(screen, legacy string) (string, string) {
	screen = strings.TrimSpace(screen)
	legacy = strings.TrimSpace(legacy)
	if screen == "" {
		screen = legacy
	}
	return screen, screen
}
