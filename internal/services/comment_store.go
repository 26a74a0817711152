package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"eggbackend/internal/database"
	"eggbackend/internal/models"
)

// mongoCommentStore is the MongoDB-backed commentStore.
type mongoCommentStore struct {
	db  *database.MongoDB
	now func() time.Time
}

func newMongoCommentStore(db *database.MongoDB) *mongoCommentStore {
	return &mongoCommentStore{db: db, now: time.Now}
}

func (s *mongoCommentStore) comments() *mongo.Collection {
	return s.db.Collection(database.CollectionEggbookComments)
}

func (s *mongoCommentStore) generations() *mongo.Collection {
	return s.db.Collection(database.CollectionCommentGenerations)
}

func (s *mongoCommentStore) LoadOrCreateGeneration(ctx context.Context, userID, date string) (*models.CommentGeneration, error) {
	now := s.now().UTC()
	var gen models.CommentGeneration
	err := s.generations().FindOneAndUpdate(ctx,
		bson.M{"userId": userID, "date": date},
		bson.M{"$setOnInsert": bson.M{
			"_id":       uuid.NewString(),
			"status":    models.CommentStatusIdle,
			"createdAt": now,
			"updatedAt": now,
		}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&gen)
	if err != nil {
		return nil, fmt.Errorf("failed to load generation state: %w", err)
	}
	return &gen, nil
}

// FindGeneration returns the day's generation state, or nil when the day
// has none yet.
func (s *mongoCommentStore) FindGeneration(ctx context.Context, userID, date string) (*models.CommentGeneration, error) {
	var gen models.CommentGeneration
	err := s.generations().FindOne(ctx, bson.M{"userId": userID, "date": date}).Decode(&gen)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch generation state: %w", err)
	}
	return &gen, nil
}

func (s *mongoCommentStore) setGeneration(ctx context.Context, userID, date string, set bson.M) (*models.CommentGeneration, error) {
	set["updatedAt"] = s.now().UTC()
	var gen models.CommentGeneration
	err := s.generations().FindOneAndUpdate(ctx,
		bson.M{"userId": userID, "date": date},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&gen)
	if err != nil {
		return nil, fmt.Errorf("failed to update generation state: %w", err)
	}
	return &gen, nil
}

func (s *mongoCommentStore) MarkSkipped(ctx context.Context, userID, date string, hasInput bool, activeSec float64, mode string) (*models.CommentGeneration, error) {
	return s.setGeneration(ctx, userID, date, bson.M{
		"status":            models.CommentStatusIdle,
		"hasInput":          hasInput,
		"activeDurationSec": activeSec,
		"triggerMode":       mode,
	})
}

// ClaimGenerating moves idle/failed/ready to generating atomically.
func (s *mongoCommentStore) ClaimGenerating(ctx context.Context, userID, date, mode string, activeSec float64) (bool, error) {
	res, err := s.generations().UpdateOne(ctx,
		bson.M{
			"userId": userID,
			"date":   date,
			"status": bson.M{"$ne": models.CommentStatusGenerating},
		},
		bson.M{"$set": bson.M{
			"status":            models.CommentStatusGenerating,
			"hasInput":          true,
			"activeDurationSec": activeSec,
			"triggerMode":       mode,
			"errorMessage":      "",
			"updatedAt":         s.now().UTC(),
		}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim generation: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

func (s *mongoCommentStore) FinishGeneration(ctx context.Context, userID, date, status, errorMessage string) (*models.CommentGeneration, error) {
	return s.setGeneration(ctx, userID, date, bson.M{
		"status":       status,
		"errorMessage": errorMessage,
	})
}

// UpsertComment inserts a generated comment unless an identical one exists
// for the same day; personal comments dedup on content, community comments
// on (eggName, content).
func (s *mongoCommentStore) UpsertComment(ctx context.Context, comment *models.EggbookComment) error {
	filter := bson.M{
		"userId":      comment.UserID,
		"date":        comment.Date,
		"isCommunity": comment.IsCommunity,
		"content":     comment.Content,
	}
	if comment.IsCommunity {
		filter["eggName"] = comment.EggName
	}
	setOnInsert := bson.M{
		"_id":       comment.ID,
		"createdAt": comment.CreatedAt,
	}
	if comment.EggComment != "" {
		setOnInsert["eggComment"] = comment.EggComment
	}
	_, err := s.comments().UpdateOne(ctx, filter,
		bson.M{"$setOnInsert": setOnInsert},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to store comment: %w", err)
	}
	return nil
}

func (s *mongoCommentStore) InsertComment(ctx context.Context, comment *models.EggbookComment) error {
	if _, err := s.comments().InsertOne(ctx, comment); err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}

func (s *mongoCommentStore) ListComments(ctx context.Context, userID, startDate, endDate string) ([]models.EggbookComment, error) {
	filter := bson.M{
		"userId": userID,
		"date":   bson.M{"$gte": startDate, "$lte": endDate},
	}
	cursor, err := s.comments().Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer cursor.Close(ctx)

	comments := []models.EggbookComment{}
	if err := cursor.All(ctx, &comments); err != nil {
		return nil, fmt.Errorf("failed to decode comments: %w", err)
	}
	return comments, nil
}

// EnsureReadyNotification inserts the "ready" notification once per day.
func (s *mongoCommentStore) EnsureReadyNotification(ctx context.Context, userID, date string) error {
	now := s.now().UTC()
	_, err := s.db.Collection(database.CollectionEggbookNotifications).UpdateOne(ctx,
		bson.M{"userId": userID, "title": commentsReadyNotificationTitle, "notifyAt": bson.M{"$gte": mustDayStart(date)}},
		bson.M{"$setOnInsert": bson.M{
			"_id":       uuid.NewString(),
			"notifyAt":  now,
			"createdAt": now,
			"updatedAt": now,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ready notification: %w", err)
	}
	return nil
}

func (s *mongoCommentStore) PurgeBefore(ctx context.Context, cutoffDate string) (int64, error) {
	res, err := s.comments().DeleteMany(ctx, bson.M{"date": bson.M{"$lt": cutoffDate}})
	if err != nil {
		return 0, fmt.Errorf("failed to purge comments: %w", err)
	}
	if _, err := s.generations().DeleteMany(ctx, bson.M{"date": bson.M{"$lt": cutoffDate}}); err != nil {
		return res.DeletedCount, fmt.Errorf("failed to purge generation state: %w", err)
	}
	return res.DeletedCount, nil
}

func mustDayStart(date string) time.Time {
	start, _ := time.Parse("2006-01-02", date)
	return start
}
