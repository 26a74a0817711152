package models

import "time"

// User represents an anonymous account created at first launch
type User struct {
	ID        string    `bson:"_id" json:"id"`
	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
}

// Device represents a registered client device linked to a user
type Device struct {
	ID          string    `bson:"_id" json:"device_id"`
	UserID      string    `bson:"userId" json:"user_id"`
	DeviceModel string    `bson:"deviceModel" json:"device_model"`
	OS          string    `bson:"os" json:"os"`
	Language    string    `bson:"language" json:"language"`
	Timezone    string    `bson:"timezone" json:"timezone"`
	CreatedAt   time.Time `bson:"createdAt" json:"created_at"`
}

// Memory represents a free-form memory record saved by the client
type Memory struct {
	ID         string    `bson:"_id" json:"id"`
	UserID     string    `bson:"userId" json:"user_id"`
	Type       string    `bson:"type" json:"type"`
	Content    string    `bson:"content" json:"content"`
	Importance float64   `bson:"importance" json:"importance"`
	CreatedAt  time.Time `bson:"createdAt" json:"created_at"`
}
