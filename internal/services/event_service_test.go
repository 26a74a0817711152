package services

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"eggbackend/internal/models"
)

func TestDrainableStatusesExcludeProcessed(t *testing.T) {
	want := map[string]bool{
		models.EventStatusPending:      true,
		models.EventStatusTranscribing: true,
		models.EventStatusFailed:       true,
	}
	if len(drainableStatuses) != len(want) {
		t.Fatalf("unexpected drainable statuses: %v", drainableStatuses)
	}
	for _, status := range drainableStatuses {
		if status == models.EventStatusProcessed {
			t.Fatal("processed events must never be drainable")
		}
		if !want[status] {
			t.Fatalf("unexpected drainable status %q", status)
		}
	}
}

func TestHasInputFilterCoversAllInputFields(t *testing.T) {
	filter := hasInputFilter()

	or, ok := filter["$or"].(bson.A)
	if !ok {
		t.Fatalf("expected an $or filter, got %v", filter)
	}
	fields := map[string]bool{}
	for _, clause := range or {
		m, ok := clause.(bson.M)
		if !ok || len(m) != 1 {
			t.Fatalf("unexpected clause %v", clause)
		}
		for field, cond := range m {
			fields[field] = true
			c, ok := cond.(bson.M)
			if !ok {
				t.Fatalf("unexpected condition for %s: %v", field, cond)
			}
			nin, ok := c["$nin"].(bson.A)
			if !ok || len(nin) != 2 || nin[0] != "" || nin[1] != nil {
				t.Fatalf("field %s must reject empty and null values, got %v", field, cond)
			}
		}
	}
	for _, field := range []string{"audioUrl", "screenRecordingUrl", "recordingUrl", "transcript"} {
		if !fields[field] {
			t.Fatalf("input filter must cover %s, got %v", field, filter)
		}
	}
}

func TestMirrorRecordingURLs(t *testing.T) {
	tests := []struct {
		name       string
		screen     string
		legacy     string
		wantScreen string
		wantLegacy string
	}{
		{"both empty", "", "", "", ""},
		{"screen only", "https://cdn/s.mp4", "", "https://cdn/s.mp4", "https://cdn/s.mp4"},
		{"legacy only", "", "https://cdn/l.mp4", "https://cdn/l.mp4", "https://cdn/l.mp4"},
		{"screen wins", "https://cdn/s.mp4", "https://cdn/l.mp4", "https://cdn/s.mp4", "https://cdn/s.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			screen, legacy := mirrorRecordingURLs(tt.screen, tt.legacy)
			if screen != tt.wantScreen || legacy != tt.wantLegacy {
				t.Fatalf("mirrorRecordingURLs(%q, %q) = (%q, %q), want (%q, %q)",
					tt.screen, tt.legacy, screen, legacy, tt.wantScreen, tt.wantLegacy)
			}
		})
	}
}
