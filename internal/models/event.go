package models

import (
	"strings"
	"time"
)

// Event status constants. Status only moves forward along
// pending -> transcribing -> {processed, failed}; a PATCH may re-open a
// terminal event by setting status explicitly, which re-enters scheduling.
const (
	EventStatusPending      = "pending"
	EventStatusTranscribing = "transcribing"
	EventStatusProcessed    = "processed"
	EventStatusFailed       = "failed"
)

// ValidEventStatus reports whether s is one of the four client-visible
// event statuses.
func ValidEventStatus(s string) bool {
	switch s {
	case EventStatusPending, EventStatusTranscribing, EventStatusProcessed, EventStatusFailed:
		return true
	}
	return false
}

// Event represents a single ingestion event from a device: a voice note,
// a screen recording, a raw transcript, or any combination.
type Event struct {
	ID       string `bson:"_id" json:"event_id"`
	UserID   string `bson:"userId" json:"user_id"`
	DeviceID string `bson:"deviceId" json:"device_id"`

	AudioURL           string `bson:"audioUrl,omitempty" json:"audio_url,omitempty"`
	ScreenRecordingURL string `bson:"screenRecordingUrl,omitempty" json:"screen_recording_url,omitempty"`
	// Deprecated alias kept for older clients; always mirrored with
	// ScreenRecordingURL on write.
	RecordingURL string `bson:"recordingUrl,omitempty" json:"recording_url,omitempty"`

	Transcript  string  `bson:"transcript,omitempty" json:"transcript,omitempty"`
	DurationSec float64 `bson:"durationSec" json:"duration_sec"`

	EventAt   time.Time `bson:"eventAt" json:"event_at"`
	Status    string    `bson:"status" json:"status"`
	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// ScreenRecording resolves the screen recording reference, falling back to
// the deprecated alias.
func (e *Event) ScreenRecording() string {
	if s := strings.TrimSpace(e.ScreenRecordingURL); s != "" {
		return s
	}
	return strings.TrimSpace(e.RecordingURL)
}

// HasAudio reports whether the event carries an audio reference.
func (e *Event) HasAudio() bool {
	return strings.TrimSpace(e.AudioURL) != ""
}

// HasTranscript reports whether the event carries a non-empty transcript.
func (e *Event) HasTranscript() bool {
	return strings.TrimSpace(e.Transcript) != ""
}

// HasMediaURL reports whether any media reference (audio or recording) is
// present.
func (e *Event) HasMediaURL() bool {
	return e.HasAudio() || e.ScreenRecording() != ""
}

// HasAnyInput reports whether the event carries anything the pipeline can
// work with.
func (e *Event) HasAnyInput() bool {
	return e.HasMediaURL() || e.HasTranscript()
}

// MediaURLs returns deduplicated candidate URLs for speech-to-text, audio
// first.
func (e *Event) MediaURLs() []string {
	candidates := []string{
		strings.TrimSpace(e.AudioURL),
		strings.TrimSpace(e.ScreenRecordingURL),
		strings.TrimSpace(e.RecordingURL),
	}
	var urls []string
	for _, u := range candidates {
		if u == "" {
			continue
		}
		seen := false
		for _, existing := range urls {
			if existing == u {
				seen = true
				break
			}
		}
		if !seen {
			urls = append(urls, u)
		}
	}
	return urls
}
