package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"eggbackend/internal/database"
	"eggbackend/internal/models"
)

// autoCommentMinActiveSec is the recorded-activity threshold an automatic
// generation requires. Manual generation skips it.
const autoCommentMinActiveSec = 3600.0

const commentsReadyNotificationTitle = "Comments ready"

const commentsPrompt = `You write short, warm end-of-day comments for a journaling app where friendly egg characters react to the user's day.

Today's activity summary:
%s

Return ONLY valid JSON with this exact shape:
{"my_egg_comment": "", "egg_community_comment": [{"egg_name": "", "egg_comment": ""}]}

Rules:
- "my_egg_comment": one or two sentences from the user's own egg reflecting on the day. Encouraging, specific to the activity above, never generic filler.
- "egg_community_comment": 2 to 4 entries from distinct community eggs. Pick names from: %s. Each comment is one short sentence reacting to something concrete from the day.
- Use the language of the activity summary.`

// eggPersonas are the community voices the comments prompt may use.
var eggPersonas = []string{"Sunny", "Pebble", "Mocha", "Nimbus", "Clover", "Ember"}

// commentStore persists comments, generation state, and the daily ready
// notification. mongoCommentStore is the production implementation.
type commentStore interface {
	LoadOrCreateGeneration(ctx context.Context, userID, date string) (*models.CommentGeneration, error)
	// FindGeneration returns nil when the day has no state yet.
	FindGeneration(ctx context.Context, userID, date string) (*models.CommentGeneration, error)
	MarkSkipped(ctx context.Context, userID, date string, hasInput bool, activeSec float64, mode string) (*models.CommentGeneration, error)
	ClaimGenerating(ctx context.Context, userID, date, mode string, activeSec float64) (bool, error)
	FinishGeneration(ctx context.Context, userID, date, status, errorMessage string) (*models.CommentGeneration, error)
	// UpsertComment dedups on (userId, date, isCommunity, content) plus
	// eggName for community entries.
	UpsertComment(ctx context.Context, comment *models.EggbookComment) error
	InsertComment(ctx context.Context, comment *models.EggbookComment) error
	ListComments(ctx context.Context, userID, startDate, endDate string) ([]models.EggbookComment, error)
	EnsureReadyNotification(ctx context.Context, userID, date string) error
	PurgeBefore(ctx context.Context, cutoffDate string) (int64, error)
}

// commentActivitySource reports the day's recorded input. EventService
// implements it.
type commentActivitySource interface {
	DayActivity(ctx context.Context, userID string, from, to time.Time) (bool, float64, error)
}

// commentMaterialSource supplies the day's extracted material for the
// prompt. EggbookService implements it.
type commentMaterialSource interface {
	ListIdeas(ctx context.Context, userID string, limit int) ([]models.EggbookIdea, error)
	ListTodos(ctx context.Context, userID string, limit int) ([]models.EggbookTodo, error)
}

// commentModel runs the comments model call. ExtractionService implements
// it.
type commentModel interface {
	GenerateComments(ctx context.Context, prompt string) (*models.CommentsResult, error)
}

// CommentService generates and serves the daily eggbook comments. It
// implements pipeline.CommentTrigger.
type CommentService struct {
	store      commentStore
	events     commentActivitySource
	eggbook    commentMaterialSource
	extraction commentModel

	retentionDays int
	now           func() time.Time
}

// NewCommentService creates a comment service. extraction may be nil when
// AI is disabled; generation then reports failure immediately.
func NewCommentService(db *database.MongoDB, events *EventService, eggbook *EggbookService, extraction *ExtractionService, retentionDays int) *CommentService {
	s := &CommentService{
		store:         newMongoCommentStore(db),
		events:        events,
		eggbook:       eggbook,
		retentionDays: retentionDays,
		now:           time.Now,
	}
	if extraction != nil {
		s.extraction = extraction
	}
	return s
}

// MaybeGenerateAuto runs automatic generation for today, logging instead
// of failing: the pipeline run that triggers it must not depend on it.
func (s *CommentService) MaybeGenerateAuto(ctx context.Context, userID string) {
	date := s.now().UTC().Format("2006-01-02")
	if _, err := s.Generate(ctx, userID, date, false); err != nil {
		log.Printf("⚠️ Auto comment generation failed for user %s: %v", userID, err)
	}
}

// Generate runs the daily comment state machine for one user and day.
// Automatic mode requires day input and the activity threshold; manual
// mode requires day input only and may regenerate a ready day.
func (s *CommentService) Generate(ctx context.Context, userID, date string, manual bool) (*models.CommentGeneration, error) {
	gen, err := s.store.LoadOrCreateGeneration(ctx, userID, date)
	if err != nil {
		return nil, err
	}

	if gen.Status == models.CommentStatusGenerating {
		return gen, nil
	}
	if gen.Status == models.CommentStatusReady && !manual {
		return gen, nil
	}

	dayStart, dayEnd, err := dayBounds(date)
	if err != nil {
		return nil, err
	}
	hasInput, activeSec, err := s.events.DayActivity(ctx, userID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	mode := "auto"
	if manual {
		mode = "manual"
	}

	if !hasInput {
		if m := GetMetrics(); m != nil {
			m.RecordCommentGeneration("skipped")
		}
		return s.store.MarkSkipped(ctx, userID, date, false, activeSec, mode)
	}
	if !manual && activeSec < autoCommentMinActiveSec {
		if m := GetMetrics(); m != nil {
			m.RecordCommentGeneration("skipped")
		}
		return s.store.MarkSkipped(ctx, userID, date, true, activeSec, mode)
	}

	// Claim the generating state; a concurrent caller loses the race and
	// sees generating above on its next look.
	claimed, err := s.store.ClaimGenerating(ctx, userID, date, mode, activeSec)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return s.Status(ctx, userID, date)
	}

	if s.extraction == nil {
		return s.finishGeneration(ctx, userID, date, fmt.Errorf("ai is not configured"))
	}

	summary, err := s.buildDaySummary(ctx, userID, dayStart, dayEnd, activeSec)
	if err != nil {
		return s.finishGeneration(ctx, userID, date, err)
	}

	prompt := fmt.Sprintf(commentsPrompt, summary, strings.Join(eggPersonas, ", "))
	result, err := s.extraction.GenerateComments(ctx, prompt)
	if err != nil {
		return s.finishGeneration(ctx, userID, date, err)
	}

	if err := s.storeComments(ctx, userID, date, result); err != nil {
		return s.finishGeneration(ctx, userID, date, err)
	}
	return s.finishGeneration(ctx, userID, date, nil)
}

// Status returns the generation state for a day, defaulting to idle.
func (s *CommentService) Status(ctx context.Context, userID, date string) (*models.CommentGeneration, error) {
	gen, err := s.store.FindGeneration(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return &models.CommentGeneration{
			UserID: userID,
			Date:   date,
			Status: models.CommentStatusIdle,
		}, nil
	}
	return gen, nil
}

// List returns the user's comments for a date window of the given number
// of days ending at date (inclusive), newest day first.
func (s *CommentService) List(ctx context.Context, userID, date string, days int) ([]models.EggbookComment, error) {
	if days < 1 {
		days = 1
	}
	end, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	start := end.AddDate(0, 0, -(days - 1))
	return s.store.ListComments(ctx, userID, start.Format("2006-01-02"), end.Format("2006-01-02"))
}

// CreateManual stores a user-written comment for a day.
func (s *CommentService) CreateManual(ctx context.Context, userID, date, content string) (*models.EggbookComment, error) {
	if date == "" {
		date = s.now().UTC().Format("2006-01-02")
	}
	comment := &models.EggbookComment{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   strings.TrimSpace(content),
		Date:      date,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return nil, err
	}
	return comment, nil
}

// PurgeExpired deletes comments and generation state older than the
// retention window. Returns the number of comments removed.
func (s *CommentService) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays).Format("2006-01-02")
	return s.store.PurgeBefore(ctx, cutoff)
}

func (s *CommentService) finishGeneration(ctx context.Context, userID, date string, genErr error) (*models.CommentGeneration, error) {
	if genErr != nil {
		if m := GetMetrics(); m != nil {
			m.RecordCommentGeneration("failed")
		}
		log.Printf("❌ Comment generation failed for user %s on %s: %v", userID, date, genErr)
		return s.store.FinishGeneration(ctx, userID, date, models.CommentStatusFailed, genErr.Error())
	}
	if m := GetMetrics(); m != nil {
		m.RecordCommentGeneration("ready")
	}
	return s.store.FinishGeneration(ctx, userID, date, models.CommentStatusReady, "")
}

// buildDaySummary gathers the day's extracted material into prompt input.
func (s *CommentService) buildDaySummary(ctx context.Context, userID string, dayStart, dayEnd time.Time, activeSec float64) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Recorded activity: %.0f minutes.\n", activeSec/60)

	ideas, err := s.eggbook.ListIdeas(ctx, userID, 20)
	if err != nil {
		return "", err
	}
	var ideaLines []string
	for _, idea := range ideas {
		if idea.IsPlaceholder() || idea.CreatedAt.Before(dayStart) || !idea.CreatedAt.Before(dayEnd) {
			continue
		}
		ideaLines = append(ideaLines, "- "+idea.Title+": "+idea.Content)
	}
	if len(ideaLines) > 0 {
		sb.WriteString("Ideas captured today:\n" + strings.Join(ideaLines, "\n") + "\n")
	}

	todos, err := s.eggbook.ListTodos(ctx, userID, 20)
	if err != nil {
		return "", err
	}
	var todoLines []string
	for _, todo := range todos {
		if todo.CreatedAt.Before(dayStart) || !todo.CreatedAt.Before(dayEnd) {
			continue
		}
		todoLines = append(todoLines, "- "+todo.Title)
	}
	if len(todoLines) > 0 {
		sb.WriteString("Tasks noted today:\n" + strings.Join(todoLines, "\n") + "\n")
	}

	if len(ideaLines) == 0 && len(todoLines) == 0 {
		sb.WriteString("No structured notes today, just recorded activity.\n")
	}
	return sb.String(), nil
}

// storeComments upserts the personal and community comments for a day,
// deduplicating on content so regeneration never doubles entries, and
// inserts the "Comments ready" notification once per day.
func (s *CommentService) storeComments(ctx context.Context, userID, date string, result *models.CommentsResult) error {
	now := s.now().UTC()

	if personal := strings.TrimSpace(result.MyEggComment); personal != "" {
		err := s.store.UpsertComment(ctx, &models.EggbookComment{
			ID:        uuid.NewString(),
			UserID:    userID,
			Content:   personal,
			Date:      date,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
	}

	for _, cc := range result.EggCommunityComment {
		name := strings.TrimSpace(cc.EggName)
		text := strings.TrimSpace(cc.EggComment)
		if name == "" || text == "" {
			continue
		}
		err := s.store.UpsertComment(ctx, &models.EggbookComment{
			ID:          uuid.NewString(),
			UserID:      userID,
			Content:     text,
			EggName:     name,
			EggComment:  text,
			Date:        date,
			IsCommunity: true,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
	}

	return s.store.EnsureReadyNotification(ctx, userID, date)
}

// dayBounds returns the UTC [start, end) window for a YYYY-MM-DD date.
func dayBounds(date string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return start, start.AddDate(0, 0, 1), nil
}
