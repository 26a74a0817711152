package models

// ExtractedItem is one productivity signal in the structured output of the
// extraction model. Empty fields mean "no signal of that kind".
type ExtractedItem struct {
	ScrollingIdeaTitle  string `json:"scrolling_idea_title"`
	ScrollingIdeaDetail string `json:"scrolling_idea_detail"`
	TodoItem            string `json:"todo_item"`
	Alert               string `json:"alert"`

	// SourceEventIDs names the batch transcripts the item was drawn from.
	// Empty on single-event extractions and when the model omits the tag.
	SourceEventIDs []string `json:"source_event_ids,omitempty"`
}

// BatchTranscript is one (event, transcript) pair in a batch extraction
// request, ordered oldest first.
type BatchTranscript struct {
	EventID    string
	Transcript string
}

// ExtractionResult is the structured output of a single- or batch-mode
// extraction call.
type ExtractionResult struct {
	Items []ExtractedItem `json:"items"`
}

// Empty reports whether the item carries no usable signal at all.
func (it ExtractedItem) Empty() bool {
	return it.ScrollingIdeaTitle == "" && it.ScrollingIdeaDetail == "" &&
		it.TodoItem == "" && it.Alert == ""
}

// CommunityComment is one persona voice in the daily comments output.
type CommunityComment struct {
	EggName    string `json:"egg_name"`
	EggComment string `json:"egg_comment"`
}

// CommentsResult is the structured output of the daily comments call.
type CommentsResult struct {
	MyEggComment        string             `json:"my_egg_comment"`
	EggCommunityComment []CommunityComment `json:"egg_community_comment"`
}
