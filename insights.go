package lecturequiz

import (
	"fmt"
	"math"
	"sort"
)

const (
	weakAccuracyBelow   = 60.0
	strongAccuracyFrom  = 80.0
	recommendBelowScore = 90.0
	notAnswered         = "Not answered"
)

// TypeStat is the accuracy of one question type within a quiz
type TypeStat struct {
	Type     QuestionType `json:"type"`
	Label    string       `json:"label"`
	Correct  int          `json:"correct"`
	Total    int          `json:"total"`
	Accuracy float64      `json:"accuracy"`
}

// Scorecard is the outcome of one grading pass
type Scorecard struct {
	Score       int        `json:"score"`
	Total       int        `json:"total"`
	Percentage  float64    `json:"percentage"`
	ByType      []TypeStat `json:"by_type"`
	WeakAreas   []string   `json:"weak_areas"`
	StrongAreas []string   `json:"strong_areas"`
}

// NeedsRecommendations reports whether study recommendations should be requested
func (s Scorecard) NeedsRecommendations() bool {
	return len(s.WeakAreas) > 0 && s.Percentage < recommendBelowScore
}

// ScoreQuiz counts correct answers and classifies each type that appears as
// weak (accuracy below 60%) or strong (80% or more). Unverified questions
// count as incorrect.
func ScoreQuiz(questions []Question) Scorecard {
	card := Scorecard{
		Total:       len(questions),
		ByType:      []TypeStat{},
		WeakAreas:   []string{},
		StrongAreas: []string{},
	}

	stats := make(map[QuestionType]*TypeStat)
	for _, q := range questions {
		st, ok := stats[q.Type]
		if !ok {
			st = &TypeStat{Type: q.Type, Label: q.Type.DisplayName()}
			stats[q.Type] = st
		}
		st.Total++
		if q.IsCorrect != nil && *q.IsCorrect {
			st.Correct++
			card.Score++
		}
	}
	if card.Total > 0 {
		card.Percentage = roundTo(float64(card.Score)*100/float64(card.Total), 2)
	}

	for _, st := range stats {
		st.Accuracy = roundTo(float64(st.Correct)*100/float64(st.Total), 2)
		card.ByType = append(card.ByType, *st)
	}
	sort.Slice(card.ByType, func(i, j int) bool { return card.ByType[i].Label < card.ByType[j].Label })

	for _, st := range card.ByType {
		switch {
		case st.Accuracy < weakAccuracyBelow:
			card.WeakAreas = append(card.WeakAreas, st.Label)
		case st.Accuracy >= strongAccuracyFrom:
			card.StrongAreas = append(card.StrongAreas, st.Label)
		}
	}
	return card
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// QuestionReview is one row of the result page
type QuestionReview struct {
	Number     int          `json:"number"`
	Type       QuestionType `json:"type"`
	TypeLabel  string       `json:"type_label"`
	Prompt     string       `json:"prompt"`
	Options    []string     `json:"options"`
	Submitted  string       `json:"submitted_answer"`
	Expected   string       `json:"correct_answer"`
	Status     string       `json:"status"`
	Reason     string       `json:"reason,omitempty"`
	Reference  string       `json:"reference_text"`
	PageNumber *int         `json:"page_number,omitempty"`
}

// Result is the graded quiz as shown to its owner
type Result struct {
	Quiz            *Quiz                 `json:"quiz"`
	Scorecard       Scorecard             `json:"scorecard"`
	Recommendations []StudyRecommendation `json:"recommendations"`
	Review          []QuestionReview      `json:"questions_review"`
	TimeTaken       string                `json:"time_taken_formatted"`
}

// BuildResult assembles the result payload. reasons maps positions to
// verdict reasons and may be nil when rebuilding from storage.
func BuildResult(quiz *Quiz, questions []Question, recs []StudyRecommendation, reasons map[int]string) *Result {
	if recs == nil {
		recs = []StudyRecommendation{}
	}
	review := make([]QuestionReview, 0, len(questions))
	for _, q := range questions {
		submitted := notAnswered
		if q.SubmittedAnswer != nil && *q.SubmittedAnswer != "" {
			submitted = *q.SubmittedAnswer
		}
		status := "incorrect"
		if q.IsCorrect != nil && *q.IsCorrect {
			status = "correct"
		}
		review = append(review, QuestionReview{
			Number:     q.Position,
			Type:       q.Type,
			TypeLabel:  q.Type.DisplayName(),
			Prompt:     q.Prompt,
			Options:    q.Options,
			Submitted:  submitted,
			Expected:   q.ExpectedAnswer,
			Status:     status,
			Reason:     reasons[q.Position],
			Reference:  q.ReferenceText,
			PageNumber: q.PageNumber,
		})
	}

	return &Result{
		Quiz:            quiz,
		Scorecard:       ScoreQuiz(questions),
		Recommendations: recs,
		Review:          review,
		TimeTaken:       formatTimeTaken(quiz),
	}
}

// formatTimeTaken renders m:ss, or N/A when the attempt has no timing
func formatTimeTaken(quiz *Quiz) string {
	seconds := -1
	switch {
	case quiz.TimeTakenSeconds != nil && *quiz.TimeTakenSeconds >= 0:
		seconds = *quiz.TimeTakenSeconds
	case quiz.StartedAt != nil && quiz.CompletedAt != nil:
		seconds = int(quiz.CompletedAt.Sub(*quiz.StartedAt).Seconds())
	}
	if seconds < 0 {
		return "N/A"
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
