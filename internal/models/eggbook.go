package models

import "time"

// EggbookIdea is a scrolling idea extracted from events or created by the
// user. An idea with empty title and content is a placeholder created when
// a screen recording is attached, before extraction fills it in.
type EggbookIdea struct {
	ID            string `bson:"_id" json:"id"`
	UserID        string `bson:"userId" json:"user_id"`
	SourceEventID string `bson:"sourceEventId,omitempty" json:"source_event_id,omitempty"`

	Title   string `bson:"title,omitempty" json:"title,omitempty"`
	Content string `bson:"content,omitempty" json:"content,omitempty"`

	ScreenRecordingURL string `bson:"screenRecordingUrl,omitempty" json:"screen_recording_url,omitempty"`
	RecordingURL       string `bson:"recordingUrl,omitempty" json:"recording_url,omitempty"`
	AudioURL           string `bson:"audioUrl,omitempty" json:"audio_url,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// IsPlaceholder reports whether the idea is still awaiting extraction output.
func (i *EggbookIdea) IsPlaceholder() bool {
	return i.Title == "" && i.Content == ""
}

// EggbookTodo is a concrete next action extracted from events or created
// by the user.
type EggbookTodo struct {
	ID            string `bson:"_id" json:"id"`
	UserID        string `bson:"userId" json:"user_id"`
	SourceEventID string `bson:"sourceEventId,omitempty" json:"source_event_id,omitempty"`

	Title      string `bson:"title" json:"title"`
	IsAccepted bool   `bson:"isAccepted" json:"is_accepted"`
	IsPinned   bool   `bson:"isPinned" json:"is_pinned"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// EggbookNotification is an alert or a scheduled reminder, optionally tied
// to a todo.
type EggbookNotification struct {
	ID            string `bson:"_id" json:"id"`
	UserID        string `bson:"userId" json:"user_id"`
	TodoID        string `bson:"todoId,omitempty" json:"todo_id,omitempty"`
	SourceEventID string `bson:"sourceEventId,omitempty" json:"source_event_id,omitempty"`

	Title    string    `bson:"title" json:"title"`
	NotifyAt time.Time `bson:"notifyAt" json:"notify_at"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// EggbookComment is a daily summary comment: one personal reflection per
// day plus community-persona comments carrying egg name/comment fields.
type EggbookComment struct {
	ID     string `bson:"_id" json:"id"`
	UserID string `bson:"userId" json:"user_id"`

	Content     string `bson:"content" json:"content"`
	EggName     string `bson:"eggName,omitempty" json:"egg_name,omitempty"`
	EggComment  string `bson:"eggComment,omitempty" json:"egg_comment,omitempty"`
	Date        string `bson:"date" json:"date"` // YYYY-MM-DD
	IsCommunity bool   `bson:"isCommunity" json:"is_community"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
}

// Comment generation status constants
const (
	CommentStatusIdle       = "idle"
	CommentStatusGenerating = "generating"
	CommentStatusReady      = "ready"
	CommentStatusFailed     = "failed"
)

// CommentGeneration tracks per-user per-day comment generation state.
type CommentGeneration struct {
	ID     string `bson:"_id" json:"id"`
	UserID string `bson:"userId" json:"user_id"`
	Date   string `bson:"date" json:"date"` // YYYY-MM-DD

	Status            string  `bson:"status" json:"status"`
	HasInput          bool    `bson:"hasInput" json:"has_input"`
	ActiveDurationSec float64 `bson:"activeDurationSec" json:"active_duration_sec"`
	TriggerMode       string  `bson:"triggerMode,omitempty" json:"trigger_mode,omitempty"` // "auto" or "manual"
	ErrorMessage      string  `bson:"errorMessage,omitempty" json:"error_message,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}
