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

var (
	ErrIdeaNotFound         = errors.New("idea not found")
	ErrTodoNotFound         = errors.New("todo not found")
	ErrNotificationNotFound = errors.New("notification not found")
)

// EggbookService is the Mongo-backed store for ideas, todos and
// notifications. It implements pipeline.EggbookStore.
type EggbookService struct {
	db *database.MongoDB
}

// NewEggbookService creates an eggbook service.
func NewEggbookService(db *database.MongoDB) *EggbookService {
	return &EggbookService{db: db}
}

func (s *EggbookService) ideas() *mongo.Collection {
	return s.db.Collection(database.CollectionEggbookIdeas)
}

func (s *EggbookService) todos() *mongo.Collection {
	return s.db.Collection(database.CollectionEggbookTodos)
}

func (s *EggbookService) notifications() *mongo.Collection {
	return s.db.Collection(database.CollectionEggbookNotifications)
}

// UpsertPlaceholderIdea links an event's screen recording to an idea
// before extraction runs, so the client can show the recording right away.
// Re-attaching media to the same event updates the same idea.
func (s *EggbookService) UpsertPlaceholderIdea(ctx context.Context, userID, eventID string, event *models.Event) error {
	now := time.Now().UTC()
	_, err := s.ideas().UpdateOne(ctx,
		bson.M{"userId": userID, "sourceEventId": eventID},
		bson.M{
			"$set": bson.M{
				"screenRecordingUrl": event.ScreenRecording(),
				"recordingUrl":       event.ScreenRecording(),
				"audioUrl":           strings.TrimSpace(event.AudioURL),
				"updatedAt":          now,
			},
			"$setOnInsert": bson.M{
				"_id":       uuid.NewString(),
				"title":     "",
				"content":   "",
				"createdAt": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert placeholder idea: %w", err)
	}
	return nil
}

// LinkedIdea returns the idea created for an event, placeholder or filled.
func (s *EggbookService) LinkedIdea(ctx context.Context, userID, eventID string) (*models.EggbookIdea, error) {
	var idea models.EggbookIdea
	err := s.ideas().FindOne(ctx, bson.M{"userId": userID, "sourceEventId": eventID}).Decode(&idea)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrIdeaNotFound
		}
		return nil, fmt.Errorf("failed to fetch linked idea: %w", err)
	}
	return &idea, nil
}

// SaveExtraction persists extraction output with source-event lineage.
// The first idea item fills the source event's placeholder idea when one
// exists; everything else inserts fresh documents.
func (s *EggbookService) SaveExtraction(ctx context.Context, userID, sourceEventID string, items []models.ExtractedItem) error {
	now := time.Now().UTC()
	placeholderFilled := false

	for _, item := range items {
		if item.Empty() {
			continue
		}

		title := strings.TrimSpace(item.ScrollingIdeaTitle)
		detail := strings.TrimSpace(item.ScrollingIdeaDetail)
		if title != "" || detail != "" {
			filled := false
			if !placeholderFilled {
				res, err := s.ideas().UpdateOne(ctx,
					bson.M{"userId": userID, "sourceEventId": sourceEventID, "title": "", "content": ""},
					bson.M{"$set": bson.M{"title": title, "content": detail, "updatedAt": now}},
				)
				if err != nil {
					return fmt.Errorf("failed to fill placeholder idea: %w", err)
				}
				placeholderFilled = true
				filled = res.MatchedCount > 0
			}
			if !filled {
				idea := models.EggbookIdea{
					ID:            uuid.NewString(),
					UserID:        userID,
					SourceEventID: sourceEventID,
					Title:         title,
					Content:       detail,
					CreatedAt:     now,
					UpdatedAt:     now,
				}
				if _, err := s.ideas().InsertOne(ctx, idea); err != nil {
					return fmt.Errorf("failed to insert idea: %w", err)
				}
			}
		}

		if todo := strings.TrimSpace(item.TodoItem); todo != "" {
			doc := models.EggbookTodo{
				ID:            uuid.NewString(),
				UserID:        userID,
				SourceEventID: sourceEventID,
				Title:         todo,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if _, err := s.todos().InsertOne(ctx, doc); err != nil {
				return fmt.Errorf("failed to insert todo: %w", err)
			}
		}

		if alert := strings.TrimSpace(item.Alert); alert != "" {
			doc := models.EggbookNotification{
				ID:            uuid.NewString(),
				UserID:        userID,
				SourceEventID: sourceEventID,
				Title:         alert,
				NotifyAt:      now,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if _, err := s.notifications().InsertOne(ctx, doc); err != nil {
				return fmt.Errorf("failed to insert notification: %w", err)
			}
		}
	}
	return nil
}

// --- Ideas CRUD ---

// CreateIdeaInput carries a user-created idea.
type CreateIdeaInput struct {
	Title              string
	Content            string
	ScreenRecordingURL string
	AudioURL           string
}

func (s *EggbookService) CreateIdea(ctx context.Context, userID string, in CreateIdeaInput) (*models.EggbookIdea, error) {
	now := time.Now().UTC()
	idea := &models.EggbookIdea{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Title:              strings.TrimSpace(in.Title),
		Content:            strings.TrimSpace(in.Content),
		ScreenRecordingURL: strings.TrimSpace(in.ScreenRecordingURL),
		RecordingURL:       strings.TrimSpace(in.ScreenRecordingURL),
		AudioURL:           strings.TrimSpace(in.AudioURL),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if _, err := s.ideas().InsertOne(ctx, idea); err != nil {
		return nil, fmt.Errorf("failed to insert idea: %w", err)
	}
	return idea, nil
}

func (s *EggbookService) ListIdeas(ctx context.Context, userID string, limit int) ([]models.EggbookIdea, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.ideas().Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list ideas: %w", err)
	}
	defer cursor.Close(ctx)

	ideas := []models.EggbookIdea{}
	if err := cursor.All(ctx, &ideas); err != nil {
		return nil, fmt.Errorf("failed to decode ideas: %w", err)
	}
	return ideas, nil
}

func (s *EggbookService) GetIdea(ctx context.Context, userID, ideaID string) (*models.EggbookIdea, error) {
	var idea models.EggbookIdea
	err := s.ideas().FindOne(ctx, bson.M{"_id": ideaID, "userId": userID}).Decode(&idea)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrIdeaNotFound
		}
		return nil, fmt.Errorf("failed to fetch idea: %w", err)
	}
	return &idea, nil
}

func (s *EggbookService) DeleteIdea(ctx context.Context, userID, ideaID string) error {
	res, err := s.ideas().DeleteOne(ctx, bson.M{"_id": ideaID, "userId": userID})
	if err != nil {
		return fmt.Errorf("failed to delete idea: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrIdeaNotFound
	}
	return nil
}

// --- Todos CRUD ---

func (s *EggbookService) CreateTodo(ctx context.Context, userID, title string) (*models.EggbookTodo, error) {
	now := time.Now().UTC()
	todo := &models.EggbookTodo{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     strings.TrimSpace(title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.todos().InsertOne(ctx, todo); err != nil {
		return nil, fmt.Errorf("failed to insert todo: %w", err)
	}
	return todo, nil
}

func (s *EggbookService) ListTodos(ctx context.Context, userID string, limit int) ([]models.EggbookTodo, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.todos().Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	defer cursor.Close(ctx)

	todos := []models.EggbookTodo{}
	if err := cursor.All(ctx, &todos); err != nil {
		return nil, fmt.Errorf("failed to decode todos: %w", err)
	}
	return todos, nil
}

// UpdateTodoInput carries a partial todo update.
type UpdateTodoInput struct {
	Title      *string
	IsAccepted *bool
	IsPinned   *bool
}

func (s *EggbookService) UpdateTodo(ctx context.Context, userID, todoID string, in UpdateTodoInput) (*models.EggbookTodo, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if in.Title != nil {
		set["title"] = strings.TrimSpace(*in.Title)
	}
	if in.IsAccepted != nil {
		set["isAccepted"] = *in.IsAccepted
	}
	if in.IsPinned != nil {
		set["isPinned"] = *in.IsPinned
	}

	var todo models.EggbookTodo
	err := s.todos().FindOneAndUpdate(ctx,
		bson.M{"_id": todoID, "userId": userID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&todo)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTodoNotFound
		}
		return nil, fmt.Errorf("failed to update todo: %w", err)
	}
	return &todo, nil
}

func (s *EggbookService) DeleteTodo(ctx context.Context, userID, todoID string) error {
	res, err := s.todos().DeleteOne(ctx, bson.M{"_id": todoID, "userId": userID})
	if err != nil {
		return fmt.Errorf("failed to delete todo: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrTodoNotFound
	}
	return nil
}

// AcceptTodo marks a todo accepted.
func (s *EggbookService) AcceptTodo(ctx context.Context, userID, todoID string) (*models.EggbookTodo, error) {
	accepted := true
	return s.UpdateTodo(ctx, userID, todoID, UpdateTodoInput{IsAccepted: &accepted})
}

// ScheduleTodo creates a reminder notification for a todo.
func (s *EggbookService) ScheduleTodo(ctx context.Context, userID, todoID string, notifyAt time.Time) (*models.EggbookNotification, error) {
	var todo models.EggbookTodo
	err := s.todos().FindOne(ctx, bson.M{"_id": todoID, "userId": userID}).Decode(&todo)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTodoNotFound
		}
		return nil, fmt.Errorf("failed to fetch todo: %w", err)
	}

	now := time.Now().UTC()
	notification := &models.EggbookNotification{
		ID:        uuid.NewString(),
		UserID:    userID,
		TodoID:    todo.ID,
		Title:     todo.Title,
		NotifyAt:  notifyAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.notifications().InsertOne(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to insert notification: %w", err)
	}
	return notification, nil
}

// --- Notifications CRUD ---

// CreateNotificationInput carries a user-created notification.
type CreateNotificationInput struct {
	Title    string
	TodoID   string
	NotifyAt time.Time
}

func (s *EggbookService) CreateNotification(ctx context.Context, userID string, in CreateNotificationInput) (*models.EggbookNotification, error) {
	now := time.Now().UTC()
	notifyAt := in.NotifyAt
	if notifyAt.IsZero() {
		notifyAt = now
	}
	notification := &models.EggbookNotification{
		ID:        uuid.NewString(),
		UserID:    userID,
		TodoID:    in.TodoID,
		Title:     strings.TrimSpace(in.Title),
		NotifyAt:  notifyAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.notifications().InsertOne(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to insert notification: %w", err)
	}
	return notification, nil
}

func (s *EggbookService) ListNotifications(ctx context.Context, userID string, limit int) ([]models.EggbookNotification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "notifyAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.notifications().Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	notifications := []models.EggbookNotification{}
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return notifications, nil
}

// UpdateNotificationInput carries a partial notification update.
type UpdateNotificationInput struct {
	Title    *string
	NotifyAt *time.Time
}

func (s *EggbookService) UpdateNotification(ctx context.Context, userID, notificationID string, in UpdateNotificationInput) (*models.EggbookNotification, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if in.Title != nil {
		set["title"] = strings.TrimSpace(*in.Title)
	}
	if in.NotifyAt != nil {
		set["notifyAt"] = *in.NotifyAt
	}

	var notification models.EggbookNotification
	err := s.notifications().FindOneAndUpdate(ctx,
		bson.M{"_id": notificationID, "userId": userID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&notification)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to update notification: %w", err)
	}
	return &notification, nil
}

func (s *EggbookService) DeleteNotification(ctx context.Context, userID, notificationID string) error {
	res, err := s.notifications().DeleteOne(ctx, bson.M{"_id": notificationID, "userId": userID})
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// SyncStatus summarizes per-collection counts and last-change times so the
// client can decide what to refetch.
type SyncStatus struct {
	Ideas         SyncEntry `json:"ideas"`
	Todos         SyncEntry `json:"todos"`
	Notifications SyncEntry `json:"notifications"`
}

type SyncEntry struct {
	Count     int64      `json:"count"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (s *EggbookService) SyncStatus(ctx context.Context, userID string) (*SyncStatus, error) {
	var status SyncStatus
	for _, entry := range []struct {
		coll *mongo.Collection
		dst  *SyncEntry
	}{
		{s.ideas(), &status.Ideas},
		{s.todos(), &status.Todos},
		{s.notifications(), &status.Notifications},
	} {
		count, err := entry.coll.CountDocuments(ctx, bson.M{"userId": userID})
		if err != nil {
			return nil, fmt.Errorf("failed to count documents: %w", err)
		}
		entry.dst.Count = count

		var latest struct {
			UpdatedAt time.Time `bson:"updatedAt"`
		}
		err = entry.coll.FindOne(ctx, bson.M{"userId": userID},
			options.FindOne().SetSort(bson.D{{Key: "updatedAt", Value: -1}}).SetProjection(bson.M{"updatedAt": 1}),
		).Decode(&latest)
		if err == nil {
			at := latest.UpdatedAt
			entry.dst.UpdatedAt = &at
		} else if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("failed to fetch latest update: %w", err)
		}
	}
	return &status, nil
}
