package lecturequiz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verify(v *AnswerVerifier, qtype QuestionType, expected, submitted, reference string) VerificationOutcome {
	q := &Question{Position: 1, Type: qtype, Prompt: "prompt", ExpectedAnswer: expected}
	return v.Verify(context.Background(), q, submitted, reference)
}

func TestVerifierRuleTiers(t *testing.T) {
	v := NewAnswerVerifier(nil, nil, 0, nil, nil)

	tests := []struct {
		name      string
		qtype     QuestionType
		expected  string
		submitted string
		correct   bool
		tier      string
		reason    string
	}{
		{"blank mcq", TypeMultipleChoice, "Heap", "", false, TierBlank, "no answer provided"},
		{"whitespace short answer", TypeShortAnswer, "anything", "   \t", false, TierBlank, "no answer provided"},
		{"mcq exact", TypeMultipleChoice, "Break problems into subproblems", "Break problems into subproblems", true, TierMultipleChoice, "exact match"},
		{"mcq case sensitive", TypeMultipleChoice, "Break problems into subproblems", "break problems into subproblems", false, TierMultipleChoice, "exact match required for multiple choice"},
		{"true false case insensitive", TypeTrueFalse, "True", "true", true, TierTrueFalse, "answer matches expected response"},
		{"true false wrong", TypeTrueFalse, "True", "False", false, TierTrueFalse, "answer does not match expected response"},
		{"fill blank normalized", TypeFillBlank, "binary search tree", "Binary Search Tree!", true, TierNormalizedExact, "answer matches expected response"},
		{"fill blank zero overlap", TypeFillBlank, "O(log n)", "random text", false, TierFillBlank, "answer does not match expected response"},
		{"fill blank contains", TypeFillBlank, "hash", "a hash function", true, TierFillBlank, "answer contains expected response"},
		{"fill blank high similarity", TypeFillBlank, "red black balanced search tree", "balanced red black search", true, TierFillBlank, "high similarity (80% words match)"},
		{"short answer keyword", TypeShortAnswer, "Makes locally optimal choices at each step", "chooses the locally optimal option each time", true, TierKeyword, "match: 50%"},
		{"short answer low keyword", TypeShortAnswer, "Makes locally optimal choices at each step", "it sorts the array first", false, TierKeyword, "low match: 0%"},
		{"short answer length check", TypeShortAnswer, "a b", "a long enough explanation", true, TierKeyword, "length check"},
		{"text substring", TypeText, "Dijkstra", "I think dijkstra's algorithm", true, TierSubstring, "answer contains expected response"},
		{"text missing", TypeText, "Dijkstra", "Prim", false, TierSubstring, "answer does not match expected response"},
		{"text without expected", TypeText, "", "anything", true, TierSubstring, "answer contains expected response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := verify(v, tt.qtype, tt.expected, tt.submitted, "")
			assert.Equal(t, tt.correct, out.Correct)
			assert.Equal(t, tt.tier, out.Tier)
			assert.Equal(t, tt.reason, out.Reason)
		})
	}
}

func TestVerifierIsIdempotent(t *testing.T) {
	gen := &fakeGenerator{responses: []string{`{"correct": true, "reason": "same meaning"}`}}
	v := NewAnswerVerifier(gen, nil, 0, nil, nil)

	first := verify(v, TypeShortAnswer, "Greedy picks the local best", "it takes whatever looks best right now", "Greedy algorithms pick the local best.")
	second := verify(v, TypeShortAnswer, "Greedy picks the local best", "it takes whatever looks best right now", "Greedy algorithms pick the local best.")
	assert.Equal(t, first, second)
	assert.Equal(t, TierSemantic, first.Tier)
	assert.Equal(t, 1, gen.calls(), "second verdict comes from the cache")
}

func TestVerifierSkipsServiceForCheapVerdicts(t *testing.T) {
	gen := &fakeGenerator{responses: []string{`{"correct": true, "reason": "should not be asked"}`}}
	v := NewAnswerVerifier(gen, nil, 0, nil, nil)
	ref := "Binary search runs in O(log n) time."

	for _, qtype := range []QuestionType{TypeMultipleChoice, TypeTrueFalse, TypeFillBlank, TypeShortAnswer, TypeText} {
		out := verify(v, qtype, "O(log n)", "  ", ref)
		assert.Equal(t, "no answer provided", out.Reason)
		assert.False(t, out.Correct)
	}

	out := verify(v, TypeFillBlank, "O(log n)", "random text", ref)
	assert.False(t, out.Correct)
	assert.Equal(t, TierFillBlank, out.Tier)

	assert.Equal(t, 0, gen.calls())
}

func TestVerifierSemanticTier(t *testing.T) {
	ref := "A heap keeps the smallest key at its root."

	t.Run("verdict used", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{"```json\n{\"is_correct\": \"false\", \"reasoning\": \"describes a stack\"}\n```"}}
		v := NewAnswerVerifier(gen, nil, 0, nil, nil)
		out := verify(v, TypeShortAnswer, "smallest key at the root", "the most recent item on top of the root", ref)
		assert.False(t, out.Correct)
		assert.Equal(t, "describes a stack", out.Reason)
		assert.Equal(t, TierSemantic, out.Tier)

		require.Len(t, gen.requests, 1)
		assert.Contains(t, gen.requests[0].Prompt, ref)
		assert.Contains(t, gen.requests[0].Prompt, "Student Answer: the most recent item on top of the root")
	})

	t.Run("service failure falls through", func(t *testing.T) {
		gen := &fakeGenerator{err: errors.New("timeout")}
		v := NewAnswerVerifier(gen, nil, 0, nil, nil)
		out := verify(v, TypeShortAnswer, "Makes locally optimal choices at each step", "chooses the locally optimal option each time", ref)
		assert.True(t, out.Correct)
		assert.Equal(t, TierKeyword, out.Tier)
	})

	t.Run("malformed verdict falls through", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{`{"verdict": "maybe"}`}}
		v := NewAnswerVerifier(gen, nil, 0, nil, nil)
		out := verify(v, TypeFillBlank, "priority queue", "queue of tasks with priorities", ref)
		assert.Equal(t, TierSubstring, out.Tier)
		assert.False(t, out.Correct)
	})

	t.Run("no reference skips service", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{`{"correct": true}`}}
		v := NewAnswerVerifier(gen, nil, 0, nil, nil)
		out := verify(v, TypeShortAnswer, "Makes locally optimal choices", "something unrelated entirely", "")
		assert.Equal(t, TierKeyword, out.Tier)
		assert.Equal(t, 0, gen.calls())
	})
}

type panickingTier struct{}

func (panickingTier) Name() string { return "panicking" }

func (panickingTier) Evaluate(context.Context, VerificationInput) (VerificationOutcome, bool) {
	panic("boom")
}

func TestVerifierRecoversFromTierPanic(t *testing.T) {
	v := NewAnswerVerifierWithTiers([]VerificationTier{panickingTier{}, substringTier{}}, nil, nil)
	out := verify(v, TypeText, "stack", "a stack", "")
	assert.True(t, out.Correct)
	assert.Equal(t, TierSubstring, out.Tier)

	v = NewAnswerVerifierWithTiers([]VerificationTier{panickingTier{}}, nil, nil)
	out = verify(v, TypeText, "stack", "a stack", "")
	assert.False(t, out.Correct)
	assert.Equal(t, TierDefault, out.Tier)
}

func TestNormalizeAnswer(t *testing.T) {
	assert.Equal(t, "binary search tree", normalizeAnswer("  Binary,  Search Tree! "))
	assert.Equal(t, "olog n", normalizeAnswer("O(log n)"))
	assert.Equal(t, "", normalizeAnswer("?!."))
}
