package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"eggbackend/internal/config"
	"eggbackend/internal/models"
	"eggbackend/internal/pipeline"
)

const sttPrompt = `Transcribe the speech in this recording verbatim, in its original language. Return only the transcript text with no commentary. Return an empty string if there is no speech.`

// LocalResolver maps a media URL served by this backend to a local file
// path, avoiding a loopback HTTP fetch. ok=false means the URL is remote.
type LocalResolver func(url string) (filePath string, ok bool)

// STTService transcribes event media through Gemini. It implements
// pipeline.Transcriber.
type STTService struct {
	client        *GeminiClient
	model         string
	maxAudioBytes int64
	httpClient    *http.Client
	resolveLocal  LocalResolver
	readFile      func(path string) ([]byte, error)
}

// NewSTTService creates the speech-to-text adapter. resolveLocal may be
// nil when the backend serves no media itself.
func NewSTTService(client *GeminiClient, cfg *config.Config, resolveLocal LocalResolver) *STTService {
	model := cfg.GeminiSTTModel
	if model == "" {
		model = cfg.GeminiModel
	}
	return &STTService{
		client:        client,
		model:         NormalizeModel(model),
		maxAudioBytes: cfg.STTMaxAudioBytes,
		httpClient:    &http.Client{},
		resolveLocal:  resolveLocal,
		readFile:      readLocalFile,
	}
}

// TranscribeEvent tries each of the event's media URLs in order (audio
// first) and returns the first transcript produced. All failures wrap into
// a *pipeline.TranscriptionError.
func (s *STTService) TranscribeEvent(ctx context.Context, event *models.Event) (string, error) {
	urls := event.MediaURLs()
	if len(urls) == 0 {
		return "", &pipeline.TranscriptionError{EventID: event.ID, Err: fmt.Errorf("event has no media url")}
	}

	var lastErr error
	for _, url := range urls {
		data, mimeType, err := s.fetchMedia(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		text, err := s.client.GenerateContent(ctx, "stt", s.model, []GeminiPart{
			{Text: sttPrompt},
			{InlineData: &GeminiInlineData{
				MimeType: mimeType,
				Data:     base64.StdEncoding.EncodeToString(data),
			}},
		}, false)
		if err != nil {
			lastErr = err
			continue
		}
		return text, nil
	}
	return "", &pipeline.TranscriptionError{EventID: event.ID, Err: lastErr}
}

// fetchMedia loads the media bytes, from disk when the URL is served by
// this backend, otherwise over HTTP, enforcing the size cap either way.
func (s *STTService) fetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	if s.resolveLocal != nil {
		if filePath, ok := s.resolveLocal(url); ok {
			data, err := s.readFile(filePath)
			if err != nil {
				return nil, "", fmt.Errorf("failed to read local media %s: %w", url, err)
			}
			if int64(len(data)) > s.maxAudioBytes {
				return nil, "", fmt.Errorf("media %s exceeds size cap (%d bytes)", url, s.maxAudioBytes)
			}
			return data, mimeTypeForURL(url), nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build media request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch media %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media fetch %s returned status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxAudioBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media %s: %w", url, err)
	}
	if int64(len(data)) > s.maxAudioBytes {
		return nil, "", fmt.Errorf("media %s exceeds size cap (%d bytes)", url, s.maxAudioBytes)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimeTypeForURL(url)
	}
	return data, mimeType, nil
}

func readLocalFile(p string) ([]byte, error) {
	return os.ReadFile(p)
}

// mimeTypeForURL guesses a media mime type from the URL extension.
func mimeTypeForURL(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	switch strings.ToLower(path.Ext(url)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a", ".aac":
		return "audio/aac"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	default:
		return "audio/mp4"
	}
}
