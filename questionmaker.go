package lecturequiz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	defaultMaxSourceChars = 15000
	questionMaxTokens     = 8192
)

// AIQuestionMaker asks a generative text service for a whole quiz in one call
type AIQuestionMaker struct {
	gen            TextGenerator
	rng            *Rand
	maxSourceChars int
	distribution   Distribution
	logger         *Logger
}

// NewAIQuestionMaker creates a question maker. gen must not be nil.
func NewAIQuestionMaker(gen TextGenerator, rng *Rand, logger *Logger) *AIQuestionMaker {
	if rng == nil {
		rng = NewRand(0)
	}
	return &AIQuestionMaker{
		gen:            gen,
		rng:            rng,
		maxSourceChars: defaultMaxSourceChars,
		distribution:   DefaultDistribution(),
		logger:         logger.orNop(),
	}
}

// WithMaxSourceChars bounds the prefix of the source text sent to the service
func (qm *AIQuestionMaker) WithMaxSourceChars(n int) *AIQuestionMaker {
	if n > 0 {
		qm.maxSourceChars = n
	}
	return qm
}

func (qm *AIQuestionMaker) Name() GenerationSource { return SourceAI }

// Generate makes a single call and reconciles the answer into exactly n
// questions. Any call or parse failure is returned for the caller to fall
// back on.
func (qm *AIQuestionMaker) Generate(ctx context.Context, text string, n int) ([]GeneratedQuestion, error) {
	if qm.gen == nil {
		return nil, ErrAIUnavailable
	}
	transcript := llmLoggerFrom(ctx)

	prompt := qm.buildPrompt(text, n)
	transcript.LogLLMRequest("questionmaker", prompt)

	resp, err := qm.gen.Generate(ctx, GenerateRequest{
		System:      "You are an expert educator who writes quiz questions strictly from lecture material. Respond with JSON only.",
		Prompt:      prompt,
		Temperature: 0.7,
		MaxTokens:   questionMaxTokens,
		JSON:        true,
	})
	if err != nil {
		transcript.LogLLMError("questionmaker", err)
		return nil, fmt.Errorf("failed to generate questions: %w", err)
	}
	transcript.LogLLMResponse("questionmaker", resp)

	items, err := parseQuestionBatch(resp)
	if err != nil {
		return nil, err
	}

	questions := reconcileQuestions(items, n, qm.rng)
	qm.logger.Info("generated questions",
		"returned", len(items),
		"target", n,
		"types", typeCounts(questions))
	return questions, nil
}

func (qm *AIQuestionMaker) buildPrompt(text string, n int) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Generate EXACTLY %d quiz questions from this content.\n\n", n))
	sb.WriteString("CONTENT:\n")
	sb.WriteString(truncateRunes(text, qm.maxSourceChars))
	sb.WriteString("\n\n")

	sb.WriteString("OUTPUT FORMAT (JSON ONLY, NO EXTRA TEXT):\n")
	sb.WriteString(`{"questions": [` + "\n")
	sb.WriteString(`  {"q": "Question text?", "type": "mcq", "options": ["A", "B", "C", "D"], "answer": "A", "reference": "sentence from the content"},` + "\n")
	sb.WriteString(`  {"q": "The _____ is key.", "type": "fill_blank", "answer": "term", "reference": "..."},` + "\n")
	sb.WriteString(`  {"q": "Statement.", "type": "true_false", "answer": "True", "reference": "..."},` + "\n")
	sb.WriteString(`  {"q": "Explain concept X.", "type": "short_answer", "answer": "Brief explanation", "reference": "..."}` + "\n")
	sb.WriteString("]}\n\n")

	sb.WriteString("Requirements:\n")
	for _, tc := range qm.distribution.Scale(n) {
		if tc.Count == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("- %d %s questions\n", tc.Count, tc.Type.DisplayName()))
	}
	sb.WriteString("- Multiple choice questions have exactly 4 options and the answer is the exact text of one option\n")
	sb.WriteString("- Fill in the blank questions mark the missing term with _____\n")
	sb.WriteString("- True/false answers are \"True\" or \"False\"\n")
	sb.WriteString("- Mix the question types in random order\n")
	sb.WriteString("- Questions are based ONLY on the content above, with one correct answer each\n")
	sb.WriteString("- reference quotes the short passage that supports the answer\n")

	return sb.String()
}

// flexString accepts a JSON string, number or boolean
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	switch string(b) {
	case "true":
		*f = "True"
		return nil
	case "false":
		*f = "False"
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err == nil {
		*f = flexString(b)
		return nil
	}
	// objects and arrays carry no usable scalar
	*f = ""
	return nil
}

// rawQuestion is one item of the service response. Both the compact keys and
// the longer legacy keys are accepted.
type rawQuestion struct {
	Q            flexString      `json:"q"`
	Question     flexString      `json:"question"`
	QuestionText flexString      `json:"question_text"`
	Type         flexString      `json:"type"`
	QuestionType flexString      `json:"question_type"`
	Options      json.RawMessage `json:"options"`
	Answer       flexString      `json:"answer"`
	Correct      flexString      `json:"correct_answer"`
	Reference    flexString      `json:"reference"`
	Explanation  flexString      `json:"explanation"`
}

func firstNonEmpty(values ...flexString) string {
	for _, v := range values {
		if s := strings.TrimSpace(string(v)); s != "" {
			return s
		}
	}
	return ""
}

// parseQuestionBatch decodes a service response. It fails when the payload
// is not JSON, has no questions array, or the array holds no usable item.
func parseQuestionBatch(resp string) ([]GeneratedQuestion, error) {
	body := stripCodeFence(resp)

	var payload struct {
		Questions *[]json.RawMessage `json:"questions"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		// some services return a bare array
		var bare []json.RawMessage
		if errArr := json.Unmarshal([]byte(body), &bare); errArr != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		payload.Questions = &bare
	}
	if payload.Questions == nil {
		return nil, fmt.Errorf("%w: missing questions array", ErrMalformedResponse)
	}

	items := make([]GeneratedQuestion, 0, len(*payload.Questions))
	for _, raw := range *payload.Questions {
		var rq rawQuestion
		if err := json.Unmarshal(raw, &rq); err != nil {
			continue
		}
		prompt := firstNonEmpty(rq.Q, rq.Question, rq.QuestionText)
		if prompt == "" {
			continue
		}
		options := parseOptions(rq.Options)
		qtype := ParseQuestionType(firstNonEmpty(rq.Type, rq.QuestionType))
		answer := firstNonEmpty(rq.Answer, rq.Correct)
		if qtype == TypeMultipleChoice {
			answer = resolveOptionLetter(answer, options)
		}
		items = append(items, GeneratedQuestion{
			Type:           qtype,
			Prompt:         prompt,
			Options:        options,
			ExpectedAnswer: answer,
			ReferenceText:  strings.TrimSpace(string(rq.Reference)),
			Explanation:    strings.TrimSpace(string(rq.Explanation)),
		})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no usable questions", ErrMalformedResponse)
	}
	return items, nil
}

// parseOptions accepts options as an array, or as an object keyed by letter
// whose values are taken in key order. Any other shape yields no options.
func parseOptions(raw json.RawMessage) []string {
	var values []flexString
	var list []flexString
	var keyed map[string]flexString
	switch {
	case json.Unmarshal(raw, &list) == nil:
		values = list
	case json.Unmarshal(raw, &keyed) == nil:
		keys := make([]string, 0, len(keyed))
		for k := range keyed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			values = append(values, keyed[k])
		}
	}

	options := make([]string, 0, len(values))
	for _, v := range values {
		if s := strings.TrimSpace(string(v)); s != "" {
			options = append(options, s)
		}
	}
	return options
}

// resolveOptionLetter maps an answer given as an option letter ("B") to the
// option text, since multiple choice grading compares exact text
func resolveOptionLetter(answer string, options []string) string {
	for _, o := range options {
		if o == answer {
			return answer
		}
	}
	letter := strings.TrimSuffix(strings.TrimSuffix(strings.ToUpper(answer), ")"), ".")
	if len(letter) == 1 && letter[0] >= 'A' && letter[0] <= 'Z' {
		if idx := int(letter[0] - 'A'); idx < len(options) {
			return options[idx]
		}
	}
	return answer
}
