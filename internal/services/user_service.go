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
	"eggbackend/pkg/auth"
)

// ErrDeviceClaimed means the device is already registered to another user.
var ErrDeviceClaimed = errors.New("device registered to another user")

// UserService handles anonymous accounts, device registration and memory
// records.
type UserService struct {
	db  *database.MongoDB
	jwt *auth.JWTManager
}

// NewUserService creates a user service.
func NewUserService(db *database.MongoDB, jwt *auth.JWTManager) *UserService {
	return &UserService{db: db, jwt: jwt}
}

// CreateAnonymous creates a fresh anonymous user and issues its token.
func (s *UserService) CreateAnonymous(ctx context.Context) (*models.User, string, error) {
	user := &models.User{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.db.Collection(database.CollectionUsers).InsertOne(ctx, user); err != nil {
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.jwt.GenerateToken(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue token: %w", err)
	}
	return user, token, nil
}

// RegisterDeviceInput carries the POST /devices payload.
type RegisterDeviceInput struct {
	DeviceID    string
	DeviceModel string
	OS          string
	Language    string
	Timezone    string
}

// RegisterDevice registers or updates a device for the user. A device ID
// owned by another user returns ErrDeviceClaimed.
func (s *UserService) RegisterDevice(ctx context.Context, userID string, in RegisterDeviceInput) (*models.Device, error) {
	deviceID := strings.TrimSpace(in.DeviceID)
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	coll := s.db.Collection(database.CollectionDevices)

	var existing models.Device
	err := coll.FindOne(ctx, bson.M{"_id": deviceID}).Decode(&existing)
	if err == nil && existing.UserID != userID {
		return nil, ErrDeviceClaimed
	}
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to look up device: %w", err)
	}

	now := time.Now().UTC()
	_, err = coll.UpdateOne(ctx,
		bson.M{"_id": deviceID, "userId": userID},
		bson.M{
			"$set": bson.M{
				"deviceModel": strings.TrimSpace(in.DeviceModel),
				"os":          strings.TrimSpace(in.OS),
				"language":    strings.TrimSpace(in.Language),
				"timezone":    strings.TrimSpace(in.Timezone),
			},
			"$setOnInsert": bson.M{"createdAt": now},
		},
		// Upsert keyed on (_id, userId); a cross-user insert race loses
		// on the _id unique index.
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDeviceClaimed
		}
		return nil, fmt.Errorf("failed to register device: %w", err)
	}

	var device models.Device
	if err := coll.FindOne(ctx, bson.M{"_id": deviceID}).Decode(&device); err != nil {
		return nil, fmt.Errorf("failed to fetch device: %w", err)
	}
	return &device, nil
}

// SaveMemory stores a free-form memory record for the user.
func (s *UserService) SaveMemory(ctx context.Context, userID, memoryType, content string, importance float64) (*models.Memory, error) {
	memory := &models.Memory{
		ID:         uuid.NewString(),
		UserID:     userID,
		Type:       strings.TrimSpace(memoryType),
		Content:    strings.TrimSpace(content),
		Importance: importance,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := s.db.Collection(database.CollectionMemories).InsertOne(ctx, memory); err != nil {
		return nil, fmt.Errorf("failed to store memory: %w", err)
	}
	return memory, nil
}
