package pipeline

import (
	"errors"
	"fmt"
)

// ErrCooldownActive is returned when a run is deferred because the user's
// cooldown window has not elapsed or another run is already in flight.
// It is a deferral, not a failure: queued events stay queued and are picked
// up by a later trigger or the recovery sweep.
var ErrCooldownActive = errors.New("ai cooldown active")

// TranscriptionError reports a speech-to-text failure for one event.
type TranscriptionError struct {
	EventID string
	Err     error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed for event %s: %v", e.EventID, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// ExtractionError classifies a failed model call. Transient failures
// (429, 5xx, request timeouts) are retried inside the Gemini client up to
// the attempt budget; the terminal error keeps the last status code and the
// number of attempts spent.
type ExtractionError struct {
	StatusCode int
	Attempts   int
	Transient  bool
	Err        error
}

func (e *ExtractionError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("extraction failed (%s, status %d, %d attempts): %v", kind, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("extraction failed (%s, %d attempts): %v", kind, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a transient extraction
// error.
func IsTransient(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee) && ee.Transient
}
