package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"eggbackend/internal/config"
	"eggbackend/internal/models"
	"eggbackend/internal/pipeline"
)

const singleExtractionPrompt = `You are an assistant that reads one transcript from a user's voice note or screen recording and extracts productivity signals.

Return ONLY valid JSON with this exact shape:
{"items": [{"scrolling_idea_title": "", "scrolling_idea_detail": "", "todo_item": "", "alert": ""}]}

Rules:
- "scrolling_idea_title"/"scrolling_idea_detail": a short title and a one-or-two sentence detail when the transcript contains an idea worth keeping. Leave both empty otherwise.
- "todo_item": one concrete next action phrased as a task. Leave empty if there is none.
- "alert": a short reminder-worthy warning or deadline. Leave empty if there is none.
- Emit one item per distinct signal. Emit {"items": []} when there is nothing.
- Use the language of the transcript.

Transcript:
%s`

const batchExtractionPrompt = `You are an assistant that reads several transcripts from a user's voice notes, recorded in order, and extracts productivity signals across all of them. Each transcript is labeled with its event_id.

Return ONLY valid JSON with this exact shape:
{"items": [{"scrolling_idea_title": "", "scrolling_idea_detail": "", "todo_item": "", "alert": "", "source_event_ids": [""]}]}

Rules:
- Merge duplicate or overlapping signals across transcripts into one item.
- "scrolling_idea_title"/"scrolling_idea_detail": a short title and detail per idea worth keeping; empty otherwise.
- "todo_item": one concrete next action per task mentioned; empty otherwise.
- "alert": a short reminder-worthy warning or deadline; empty otherwise.
- "source_event_ids": the event_id values of the transcripts the item came from.
- Emit {"items": []} when there is nothing.
- Use the language of the transcripts.

Transcripts:
%s`

// ExtractionService turns transcripts into structured eggbook items via
// Gemini JSON calls. It implements pipeline.Extractor.
type ExtractionService struct {
	client *GeminiClient
	model  string
}

// NewExtractionService creates the extraction adapter.
func NewExtractionService(client *GeminiClient, cfg *config.Config) *ExtractionService {
	return &ExtractionService{
		client: client,
		model:  NormalizeModel(cfg.GeminiModel),
	}
}

// ExtractSingle runs one extraction call over a single transcript.
func (s *ExtractionService) ExtractSingle(ctx context.Context, transcript string) (*models.ExtractionResult, error) {
	prompt := fmt.Sprintf(singleExtractionPrompt, transcript)
	return s.extract(ctx, prompt)
}

// ExtractBatch runs one extraction call over a batch of (event, transcript)
// pairs, oldest first. The event IDs go into the prompt so the model can tag
// each item with the transcripts it came from.
func (s *ExtractionService) ExtractBatch(ctx context.Context, transcripts []models.BatchTranscript) (*models.ExtractionResult, error) {
	var sb strings.Builder
	for i, t := range transcripts {
		fmt.Fprintf(&sb, "--- Transcript %d (event_id: %s) ---\n%s\n", i+1, t.EventID, t.Transcript)
	}
	prompt := fmt.Sprintf(batchExtractionPrompt, sb.String())
	return s.extract(ctx, prompt)
}

func (s *ExtractionService) extract(ctx context.Context, prompt string) (*models.ExtractionResult, error) {
	text, err := s.client.GenerateContent(ctx, "extraction", s.model, []GeminiPart{{Text: prompt}}, true)
	if err != nil {
		return nil, err
	}

	var result models.ExtractionResult
	if err := json.Unmarshal([]byte(stripCodeFences(text)), &result); err != nil {
		return nil, &pipeline.ExtractionError{Attempts: 1, Err: fmt.Errorf("model returned malformed JSON: %w", err)}
	}

	// Drop all-empty items so downstream persistence never writes blanks.
	items := result.Items[:0]
	for _, it := range result.Items {
		if !it.Empty() {
			items = append(items, it)
		}
	}
	result.Items = items
	return &result, nil
}

// GenerateComments runs the daily-comments call and parses its JSON shape.
func (s *ExtractionService) GenerateComments(ctx context.Context, prompt string) (*models.CommentsResult, error) {
	text, err := s.client.GenerateContent(ctx, "comments", s.model, []GeminiPart{{Text: prompt}}, true)
	if err != nil {
		return nil, err
	}

	var result models.CommentsResult
	if err := json.Unmarshal([]byte(stripCodeFences(text)), &result); err != nil {
		return nil, &pipeline.ExtractionError{Attempts: 1, Err: fmt.Errorf("model returned malformed JSON: %w", err)}
	}
	return &result, nil
}

// stripCodeFences removes a surrounding markdown code fence, which models
// sometimes add despite the JSON response mime type.
func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
