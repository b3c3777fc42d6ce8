package lecturequiz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	maxVerifyExcerptChars = 2000
	fillBlankMinRatio     = 0.8
	keywordMinRatio       = 0.4
	minFreeformChars      = 10
)

// Tier names reported on each outcome
const (
	TierBlank           = "blank"
	TierMultipleChoice  = "multiple_choice"
	TierTrueFalse       = "true_false"
	TierNormalizedExact = "normalized_exact"
	TierFillBlank       = "fill_blank_overlap"
	TierSemantic        = "semantic"
	TierKeyword         = "keyword_overlap"
	TierSubstring       = "substring"
	TierDefault         = "default"
)

// VerificationInput is everything a tier may look at
type VerificationInput struct {
	Type      QuestionType
	Prompt    string
	Expected  string
	Submitted string
	// Reference is the bounded source excerpt for the semantic check
	Reference string
}

// VerificationTier returns a verdict, or false when it cannot decide
type VerificationTier interface {
	Name() string
	Evaluate(ctx context.Context, in VerificationInput) (VerificationOutcome, bool)
}

// AnswerVerifier grades one answer through an ordered list of tiers,
// cheapest first. The first conclusive tier wins.
type AnswerVerifier struct {
	tiers   []VerificationTier
	logger  *Logger
	metrics *Metrics
}

// NewAnswerVerifier builds the standard tier chain. gen may be nil, in which
// case the semantic tier is skipped. cache may be nil.
func NewAnswerVerifier(gen TextGenerator, cache VerdictCache, timeout time.Duration, logger *Logger, metrics *Metrics) *AnswerVerifier {
	tiers := []VerificationTier{
		blankTier{},
		multipleChoiceTier{},
		trueFalseTier{},
		normalizedExactTier{},
		fillBlankOverlapTier{},
	}
	if gen != nil {
		if cache == nil {
			cache = NewMemoryVerdictCache(0)
		}
		tiers = append(tiers, &semanticTier{gen: gen, cache: cache, timeout: timeout, logger: logger.orNop()})
	}
	tiers = append(tiers, keywordOverlapTier{}, substringTier{})
	return NewAnswerVerifierWithTiers(tiers, logger, metrics)
}

// NewAnswerVerifierWithTiers builds a verifier over an explicit chain
func NewAnswerVerifierWithTiers(tiers []VerificationTier, logger *Logger, metrics *Metrics) *AnswerVerifier {
	return &AnswerVerifier{tiers: tiers, logger: logger.orNop(), metrics: metrics}
}

// Verify grades submitted against q. It always returns a definite outcome.
func (v *AnswerVerifier) Verify(ctx context.Context, q *Question, submitted, reference string) VerificationOutcome {
	in := VerificationInput{
		Type:      q.Type,
		Prompt:    q.Prompt,
		Expected:  q.ExpectedAnswer,
		Submitted: submitted,
		Reference: truncateRunes(strings.TrimSpace(reference), maxVerifyExcerptChars),
	}

	for _, tier := range v.tiers {
		out, ok := v.evaluate(ctx, tier, in)
		if !ok {
			continue
		}
		out.Tier = tier.Name()
		v.metrics.observeVerdict(out)
		VerboseLog("question %d verified by %s tier: correct=%t (%s)", q.Position, out.Tier, out.Correct, out.Reason)
		return out
	}

	out := VerificationOutcome{Correct: false, Reason: "default matching", Tier: TierDefault}
	v.metrics.observeVerdict(out)
	return out
}

// evaluate runs one tier, treating a panic as inconclusive
func (v *AnswerVerifier) evaluate(ctx context.Context, tier VerificationTier, in VerificationInput) (out VerificationOutcome, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("verification tier panicked", "tier", tier.Name(), "panic", fmt.Sprint(r))
			out, ok = VerificationOutcome{}, false
		}
	}()
	return tier.Evaluate(ctx, in)
}

type blankTier struct{}

func (blankTier) Name() string { return TierBlank }

func (blankTier) Evaluate(_ context.Context, in VerificationInput) (VerificationOutcome, bool) {
	if strings.TrimSpace(in.Submitted) == "" {
		return VerificationOutcome{Correct: false, Reason: "no answer provided"}, true
	}
	return VerificationOutcome{}, false
}

// multipleChoiceTier compares bytes exactly; options are fixed literals
type multipleChoiceTier struct{}

func (multipleChoiceTier) Name() string { return TierMultipleChoice }

func (multipleChoiceTier) Evaluate(_ context.Context, in VerificationInput) (VerificationOutcome, bool) {
	if in.Type != TypeMultipleChoice {
		return VerificationOutcome{}, false
	}
	if in.Submitted == in.Expected {
		return VerificationOutcome{Correct: true, Reason: "exact match"}, true
	}
	return VerificationOutcome{Correct: false, Reason: "exact match required for multiple choice"}, true
}

type trueFalseTier struct{}

func (trueFalseTier) Name() string { return TierTrueFalse }

func (trueFalseTier) Evaluate(_ context.Context, in VerificationInput) (VerificationOutcome, bool) {
	if in.Type != TypeTrueFalse {
		return VerificationOutcome{}, false
	}
	if strings.EqualFold(strings.TrimSpace(in.Submitted), strings.TrimSpace(in.Expected)) {
		return VerificationOutcome{Correct: true, Reason: "answer matches expected response"}, true
	}
	return VerificationOutcome{Correct: false, Reason: "answer does not match expected response"}, true
}

type normalizedExactTier struct{}

func (normalizedExactTier) Name() string { return TierNormalizedExact }

func (normalizedExactTier) Evaluate(_ context.Context, in VerificationInput) (VerificationOutcome, bool) {
	if in.Type != TypeFillBlank && in.Type != TypeShortAnswer {
		return VerificationOutcome{}, false
	}
	submitted := normalizeAnswer(in.Submitted)
	if submitted != "" && submitted == normalizeAnswer(in.Expected) {
		return VerificationOutcome{Correct: true, Reason: "answer matches expected response"}, true
	}
	return VerificationOutcome{}, false
}

type fillBlankOverlapTier struct{}

func (fillBlankOverlapTier) Name() string { return TierFillBlank }

func (fillBlankOverlapTier) Evaluate(_ context.Context, in VerificationInput) (VerificationOutcome, bool) {
	if in.Type != TypeFillBlank {
		return VerificationOutcome{}, false
	}
	expected := normalizeAnswer(in.Expected)
	submitted := normalizeAnswer(in.Submitted)
	if submitted == "" {
		return VerificationOutcome{Correct: false, Reason: "answer does not match expected response"}, true
	}

	expectedWords := wordSet(expected, 2)
	if len(expectedWords) == 0 {
		return VerificationOutcome{Correct: false, Reason: "exact match required"}, true
	}
	if strings.Contains(submitted, expected) || strings.Contains(expected, submitted) {
		return VerificationOutcome{Correct: true, Reason: "answer contains expected response"}, true
	}

	common := intersectCount(expectedWords, wordSet(submitted, 2))
	if common == 0 {
		return VerificationOutcome{Correct: false, Reason: "answer does not match expected response"}, true
	}
	ratio := float64(common) / float64(len(expectedWords))
	if ratio >= fillBlankMinRatio {
		return VerificationOutcome{Correct: true, Reason: fmt.Sprintf("high similarity (%.0f%% words match)", ratio*100)}, true
	}
	return VerificationOutcome{}, false
}

// semanticTier asks the generative service whether the meaning matches
type semanticTier struct {
	gen     TextGenerator
	cache   VerdictCache
	timeout time.Duration
	logger  *Logger
}

func (t *semanticTier) Name() string { return TierSemantic }

func (t *semanticTier) Evaluate(ctx context.Context, in VerificationInput) (VerificationOutcome, bool) {
	if in.Type != TypeFillBlank && in.Type != TypeShortAnswer {
		return VerificationOutcome{}, false
	}
	if in.Reference == "" {
		return VerificationOutcome{}, false
	}

	key := verdictKey(string(in.Type), in.Prompt, in.Expected, in.Submitted, in.Reference)
	if out, ok := t.cache.Get(ctx, key); ok {
		return out, true
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	transcript := llmLoggerFrom(ctx)
	prompt := buildVerificationPrompt(in)
	transcript.LogLLMRequest("answerverifier", prompt)

	resp, err := t.gen.Generate(ctx, GenerateRequest{
		Prompt:      prompt,
		Temperature: 0.2,
		MaxTokens:   256,
		JSON:        true,
	})
	if err != nil {
		transcript.LogLLMError("answerverifier", err)
		t.logger.Warn("semantic verification unavailable", "error", err)
		return VerificationOutcome{}, false
	}
	transcript.LogLLMResponse("answerverifier", resp)

	out, ok := parseVerdict(resp)
	if !ok {
		t.logger.Warn("semantic verification returned malformed verdict")
		return VerificationOutcome{}, false
	}
	t.cache.Put(ctx, key, out)
	return out, true
}

func buildVerificationPrompt(in VerificationInput) string {
	var sb strings.Builder
	sb.WriteString("Content: ")
	sb.WriteString(in.Reference)
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("Q: %s\n", in.Prompt))
	sb.WriteString(fmt.Sprintf("Expected Answer: %s\n", in.Expected))
	sb.WriteString(fmt.Sprintf("Student Answer: %s\n\n", in.Submitted))
	sb.WriteString("Verify if the student answer is SEMANTICALLY CORRECT. Ignore punctuation and case, but the MEANING must match. ")
	sb.WriteString("Be STRICT: if the answer is wrong or random text, mark it incorrect.\n\n")
	sb.WriteString(`JSON only: {"correct": true/false, "reason": "brief"}`)
	return sb.String()
}

// parseVerdict reads {"correct","reason"} or {"is_correct","reasoning"}
func parseVerdict(resp string) (VerificationOutcome, bool) {
	var payload struct {
		Correct   json.RawMessage `json:"correct"`
		IsCorrect json.RawMessage `json:"is_correct"`
		Reason    string          `json:"reason"`
		Reasoning string          `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(resp)), &payload); err != nil {
		return VerificationOutcome{}, false
	}

	raw := payload.Correct
	if len(raw) == 0 {
		raw = payload.IsCorrect
	}
	correct, ok := parseBoolish(raw)
	if !ok {
		return VerificationOutcome{}, false
	}

	reason := strings.TrimSpace(payload.Reason)
	if reason == "" {
		reason = strings.TrimSpace(payload.Reasoning)
	}
	if reason == "" {
		reason = "semantic verification"
	}
	return VerificationOutcome{Correct: correct, Reason: reason}, true
}

func parseBoolish(raw json.RawMessage) (bool, bool) {
	if len(raw) == 0 {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "correct":
			return true, true
		case "false", "no", "incorrect":
			return false, true
		}
	}
	return false, false
}

type keywordOverlapTier struct{}

func (keywordOverlapTier) Name() string { return TierKeyword }

func (keywordOverlapTier) Evaluate(_ context.Context, in VerificationInput) (VerificationOutcome, bool) {
	if in.Type != TypeShortAnswer {
		return VerificationOutcome{}, false
	}
	expectedWords := wordSet(normalizeAnswer(in.Expected), 3)
	if len(expectedWords) == 0 {
		if utf8.RuneCountInString(strings.TrimSpace(in.Submitted)) > minFreeformChars {
			return VerificationOutcome{Correct: true, Reason: "length check"}, true
		}
		return VerificationOutcome{Correct: false, Reason: "length check"}, true
	}

	common := intersectCount(expectedWords, wordSet(normalizeAnswer(in.Submitted), 3))
	ratio := float64(common) / float64(len(expectedWords))
	if ratio >= keywordMinRatio {
		return VerificationOutcome{Correct: true, Reason: fmt.Sprintf("match: %.0f%%", ratio*100)}, true
	}
	return VerificationOutcome{Correct: false, Reason: fmt.Sprintf("low match: %.0f%%", ratio*100)}, true
}

type substringTier struct{}

func (substringTier) Name() string { return TierSubstring }

func (substringTier) Evaluate(_ context.Context, in VerificationInput) (VerificationOutcome, bool) {
	// an empty expected answer is contained in every submission
	if strings.Contains(strings.ToLower(in.Submitted), strings.ToLower(in.Expected)) {
		return VerificationOutcome{Correct: true, Reason: "answer contains expected response"}, true
	}
	return VerificationOutcome{Correct: false, Reason: "answer does not match expected response"}, true
}

// normalizeAnswer lowercases, drops punctuation and collapses whitespace
func normalizeAnswer(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// wordSet returns the distinct tokens of s longer than minLen characters
func wordSet(s string, minLen int) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		if utf8.RuneCountInString(w) > minLen {
			set[w] = struct{}{}
		}
	}
	return set
}

func intersectCount(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}
