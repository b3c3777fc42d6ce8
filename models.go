package lecturequiz

import (
	"strings"
	"time"
)

// DefaultQuestionCount is the fixed size of a generated quiz
const DefaultQuestionCount = 25

// MaxStoredTextChars caps the extracted text retained on a quiz
const MaxStoredTextChars = 10000

// QuestionType identifies how a question is presented and graded
type QuestionType string

const (
	TypeMultipleChoice QuestionType = "mcq"
	TypeTrueFalse      QuestionType = "true_false"
	TypeFillBlank      QuestionType = "fill_blank"
	TypeShortAnswer    QuestionType = "short_answer"
	TypeText           QuestionType = "text"
)

// ParseQuestionType maps a generator-supplied type tag onto a known type.
// Empty or unrecognised tags become TypeText.
func ParseQuestionType(raw string) QuestionType {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_", "/", "_").Replace(key)
	switch key {
	case "mcq", "multiple_choice", "multiplechoice", "choice":
		return TypeMultipleChoice
	case "true_false", "truefalse", "tf", "boolean":
		return TypeTrueFalse
	case "fill_blank", "fill_in_blank", "fill_in_the_blank", "fillblank", "blank":
		return TypeFillBlank
	case "short_answer", "shortanswer", "short", "explain":
		return TypeShortAnswer
	default:
		return TypeText
	}
}

// DisplayName is the label used for weak/strong area reporting
func (t QuestionType) DisplayName() string {
	switch t {
	case TypeMultipleChoice:
		return "Multiple Choice"
	case TypeTrueFalse:
		return "True False"
	case TypeFillBlank:
		return "Fill Blank"
	case TypeShortAnswer:
		return "Short Answer"
	default:
		return "Text"
	}
}

// QuizStatus represents where a quiz is in its lifecycle
type QuizStatus string

const (
	StatusPending    QuizStatus = "pending"
	StatusInProgress QuizStatus = "in_progress"
	StatusCompleted  QuizStatus = "completed"
)

// GenerationSource records which question source produced a quiz
type GenerationSource string

const (
	SourceAI        GenerationSource = "ai"
	SourceHeuristic GenerationSource = "heuristic"
)

// RawDocument is an uploaded lecture document. It is consumed once by the extractor.
type RawDocument struct {
	Content   []byte
	Extension string
	Filename  string
	OwnerID   string
	OwnerName string
}

// Quiz is the aggregate root owning its questions
type Quiz struct {
	ID                 string           `json:"id"`
	OwnerID            string           `json:"owner_id"`
	OwnerName          string           `json:"owner_name"`
	FileType           string           `json:"file_type"`
	ExtractedText      string           `json:"-"`
	TotalQuestions     int              `json:"total_questions"`
	QuestionsGenerated bool             `json:"questions_generated"`
	GenerationSource   GenerationSource `json:"generation_source"`
	Status             QuizStatus       `json:"status"`
	Score              *int             `json:"score,omitempty"`
	Percentage         *float64         `json:"percentage,omitempty"`
	TimeTakenSeconds   *int             `json:"time_taken_seconds,omitempty"`
	Recommendations    string           `json:"-"`
	CreatedAt          time.Time        `json:"created_at"`
	StartedAt          *time.Time       `json:"started_at,omitempty"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
}

// Question belongs to exactly one quiz. Position is unique within the quiz.
type Question struct {
	ID              string       `json:"id"`
	QuizID          string       `json:"quiz_id"`
	Position        int          `json:"position"`
	Type            QuestionType `json:"type"`
	Prompt          string       `json:"prompt"`
	Options         []string     `json:"options"`
	ExpectedAnswer  string       `json:"expected_answer"`
	ReferenceText   string       `json:"reference_text"`
	Explanation     string       `json:"explanation,omitempty"`
	PageNumber      *int         `json:"page_number,omitempty"`
	SubmittedAnswer *string      `json:"submitted_answer,omitempty"`
	IsCorrect       *bool        `json:"is_correct,omitempty"`
}

// GeneratedQuestion is a question as produced by a QuestionSource, before persistence
type GeneratedQuestion struct {
	Position       int          `json:"position"`
	Type           QuestionType `json:"type"`
	Prompt         string       `json:"prompt"`
	Options        []string     `json:"options"`
	ExpectedAnswer string       `json:"expected_answer"`
	ReferenceText  string       `json:"reference_text"`
	Explanation    string       `json:"explanation,omitempty"`
}

// VerificationOutcome is the transient verdict for one submitted answer
type VerificationOutcome struct {
	Correct bool   `json:"correct"`
	Reason  string `json:"reason"`
	Tier    string `json:"tier"`
}

// StudyRecommendation is derived from weak-area analysis of one grading pass
type StudyRecommendation struct {
	Topic       string   `json:"topic"`
	Description string   `json:"description"`
	KeyPoints   []string `json:"key_points"`
	StudyTip    string   `json:"study_tips"`
}

// TypeCount is one entry of a requested distribution
type TypeCount struct {
	Type  QuestionType `json:"type"`
	Count int          `json:"count"`
}

// Distribution is the requested count-per-type split of a quiz. It is a request
// to the generative service, not an enforced constraint.
type Distribution []TypeCount

// DefaultDistribution is the 10/5/5/5 split for a 25 question quiz
func DefaultDistribution() Distribution {
	return Distribution{
		{Type: TypeMultipleChoice, Count: 10},
		{Type: TypeFillBlank, Count: 5},
		{Type: TypeTrueFalse, Count: 5},
		{Type: TypeShortAnswer, Count: 5},
	}
}

// Total returns the number of questions the distribution asks for
func (d Distribution) Total() int {
	total := 0
	for _, tc := range d {
		total += tc.Count
	}
	return total
}

// Scale resizes the distribution to n questions using largest remainders,
// keeping the declared order for ties.
func (d Distribution) Scale(n int) Distribution {
	total := d.Total()
	if n <= 0 || total <= 0 {
		return Distribution{}
	}
	if total == n {
		return append(Distribution(nil), d...)
	}

	out := make(Distribution, len(d))
	remainders := make([]int, len(d))
	assigned := 0
	for i, tc := range d {
		exact := tc.Count * n
		out[i] = TypeCount{Type: tc.Type, Count: exact / total}
		remainders[i] = exact % total
		assigned += out[i].Count
	}
	for assigned < n {
		best := 0
		for i := range remainders {
			if remainders[i] > remainders[best] {
				best = i
			}
		}
		out[best].Count++
		remainders[best] = -1
		assigned++
	}
	return out
}
