package lecturequiz

import "fmt"

// QuestionDedup rejects prompts whose normalized text was already accepted
type QuestionDedup struct {
	cache map[string]int // normalized prompt -> position of the accepted question
}

// NewQuestionDedup creates a new question deduplicator
func NewQuestionDedup() *QuestionDedup {
	return &QuestionDedup{
		cache: make(map[string]int),
	}
}

// DedupResult represents the result of deduplication
type DedupResult struct {
	IsDuplicate bool   `json:"is_duplicate"`
	Reason      string `json:"reason"`
	DuplicateOf int    `json:"duplicate_of,omitempty"` // position of the earlier question
}

// CheckDuplicate reports whether prompt repeats an accepted one and, if not,
// accepts it under position
func (qd *QuestionDedup) CheckDuplicate(position int, prompt string) DedupResult {
	key := normalizeAnswer(prompt)
	if key == "" {
		return DedupResult{IsDuplicate: true, Reason: "empty prompt"}
	}
	if first, ok := qd.cache[key]; ok {
		return DedupResult{
			IsDuplicate: true,
			Reason:      fmt.Sprintf("same text as question %d", first),
			DuplicateOf: first,
		}
	}
	qd.cache[key] = position
	if len(qd.cache) == 1 {
		return DedupResult{Reason: "first question"}
	}
	return DedupResult{Reason: "unique"}
}

// Len returns the number of accepted prompts
func (qd *QuestionDedup) Len() int {
	return len(qd.cache)
}
