package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"eggbackend/internal/models"
	"eggbackend/internal/pipeline"
)

func TestMimeTypeForURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://cdn/x.mp3", "audio/mpeg"},
		{"https://cdn/x.m4a?sig=abc", "audio/aac"},
		{"https://cdn/rec.mp4", "video/mp4"},
		{"https://cdn/rec.MOV", "video/quicktime"},
		{"https://cdn/noext", "audio/mp4"},
	}
	for _, tt := range tests {
		if got := mimeTypeForURL(tt.url); got != tt.want {
			t.Errorf("mimeTypeForURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestTranscribeEventLocalMedia(t *testing.T) {
	audio := []byte("local audio bytes")
	var gotInline *GeminiInlineData
	client, _ := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			for _, p := range req.Contents[0].Parts {
				if p.InlineData != nil {
					gotInline = p.InlineData
				}
			}
		}
		w.Write([]byte(geminiTextResponse("hello world")))
	})

	svc := &STTService{
		client:        client,
		model:         defaultGeminiModel,
		maxAudioBytes: 1 << 20,
		resolveLocal: func(url string) (string, bool) {
			return "/uploads/abc", strings.Contains(url, "/v1/uploads/files/")
		},
		readFile: func(path string) ([]byte, error) {
			if path != "/uploads/abc" {
				return nil, errors.New("unexpected path")
			}
			return audio, nil
		},
	}

	event := &models.Event{ID: "e1", AudioURL: "/v1/uploads/files/abc.m4a"}
	text, err := svc.TranscribeEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("unexpected transcript: %q", text)
	}
	if gotInline == nil {
		t.Fatal("expected inline media in the model request")
	}
	if gotInline.Data != base64.StdEncoding.EncodeToString(audio) {
		t.Fatal("inline media must carry the local file bytes")
	}
	if gotInline.MimeType != "audio/aac" {
		t.Fatalf("unexpected mime type: %s", gotInline.MimeType)
	}
}

func TestTranscribeEventSizeCap(t *testing.T) {
	client, _ := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("oversized media must never reach the model")
	})

	svc := &STTService{
		client:        client,
		model:         defaultGeminiModel,
		maxAudioBytes: 4,
		resolveLocal:  func(url string) (string, bool) { return "/uploads/big", true },
		readFile:      func(path string) ([]byte, error) { return []byte("way too large"), nil },
	}

	event := &models.Event{ID: "e1", AudioURL: "/v1/uploads/files/big.m4a"}
	_, err := svc.TranscribeEvent(context.Background(), event)
	var trErr *pipeline.TranscriptionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected *pipeline.TranscriptionError, got %v", err)
	}
	if trErr.EventID != "e1" {
		t.Fatalf("unexpected event id: %s", trErr.EventID)
	}
}

func TestTranscribeEventNoMedia(t *testing.T) {
	svc := &STTService{model: defaultGeminiModel}
	_, err := svc.TranscribeEvent(context.Background(), &models.Event{ID: "e1"})
	var trErr *pipeline.TranscriptionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected *pipeline.TranscriptionError, got %v", err)
	}
}
