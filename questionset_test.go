package lecturequiz

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batch(prompts ...string) []GeneratedQuestion {
	out := make([]GeneratedQuestion, 0, len(prompts))
	for _, p := range prompts {
		out = append(out, GeneratedQuestion{Type: TypeTrueFalse, Prompt: p, ExpectedAnswer: "True"})
	}
	return out
}

func assertNumbered(t *testing.T, questions []GeneratedQuestion, n int) {
	t.Helper()
	require.Len(t, questions, n)
	seen := make(map[int]bool, n)
	for i, q := range questions {
		assert.Equal(t, i+1, q.Position)
		assert.False(t, seen[q.Position])
		seen[q.Position] = true
	}
}

func TestReconcileQuestionsPadsShortBatch(t *testing.T) {
	got := reconcileQuestions(batch("Stacks are LIFO.", "Queues are FIFO."), 5, NewRand(1))
	assertNumbered(t, got, 5)

	var placeholders int
	for _, q := range got {
		if q.ExpectedAnswer == placeholderAnswer {
			placeholders++
		}
	}
	assert.Equal(t, 3, placeholders)
	assert.Equal(t, fmt.Sprintf(placeholderPrompt, 3), got[2].Prompt)
}

func TestReconcileQuestionsTruncatesLongBatch(t *testing.T) {
	items := make([]GeneratedQuestion, 0, 30)
	for i := 0; i < 30; i++ {
		items = append(items, GeneratedQuestion{Type: TypeMultipleChoice, Prompt: fmt.Sprintf("Question number %d?", i)})
	}
	got := reconcileQuestions(items, 25, NewRand(9))
	assertNumbered(t, got, 25)
	for _, q := range got {
		assert.NotEqual(t, placeholderAnswer, q.ExpectedAnswer)
	}
}

func TestReconcileQuestionsDropsEmptyAndRepeatedPrompts(t *testing.T) {
	got := reconcileQuestions(batch("Arrays are contiguous.", "  ", "arrays are contiguous!", "Lists are linked."), 2, NewRand(4))
	assertNumbered(t, got, 2)
	prompts := []string{got[0].Prompt, got[1].Prompt}
	assert.ElementsMatch(t, []string{"Arrays are contiguous.", "Lists are linked."}, prompts)
}

func TestReconcileQuestionsDefaultsMissingFields(t *testing.T) {
	got := reconcileQuestions([]GeneratedQuestion{{Prompt: "What is amortized analysis?"}}, 1, NewRand(2))
	require.Len(t, got, 1)
	assert.Equal(t, TypeText, got[0].Type)
	assert.NotNil(t, got[0].Options)
	assert.Empty(t, got[0].ReferenceText)
}

func TestReconcileQuestionsSeededShuffle(t *testing.T) {
	items := batch("One is first.", "Two is second.", "Three is third.", "Four is fourth.", "Five is fifth.")
	a := reconcileQuestions(append([]GeneratedQuestion(nil), items...), 5, NewRand(77))
	b := reconcileQuestions(append([]GeneratedQuestion(nil), items...), 5, NewRand(77))
	assert.Equal(t, a, b)
}

func TestReconcileQuestionsZeroTarget(t *testing.T) {
	assert.Empty(t, reconcileQuestions(batch("Anything at all."), 0, NewRand(1)))
	assert.Empty(t, reconcileQuestions(batch("Anything at all."), -3, NewRand(1)))
}

func TestTypeCounts(t *testing.T) {
	qs := []GeneratedQuestion{{Type: TypeMultipleChoice}, {Type: TypeFillBlank}, {Type: TypeMultipleChoice}}
	assert.Equal(t, "fill_blank=1 mcq=2", typeCounts(qs))
}

func TestQuestionDedup(t *testing.T) {
	qd := NewQuestionDedup()
	assert.False(t, qd.CheckDuplicate(1, "What is a heap?").IsDuplicate)
	res := qd.CheckDuplicate(2, "what is a HEAP")
	assert.True(t, res.IsDuplicate)
	assert.Equal(t, 1, res.DuplicateOf)
	assert.True(t, qd.CheckDuplicate(3, "?!").IsDuplicate)
	assert.Equal(t, 1, qd.Len())
}

func TestParseQuestionType(t *testing.T) {
	cases := map[string]QuestionType{
		"mcq":               TypeMultipleChoice,
		"Multiple Choice":   TypeMultipleChoice,
		"TF":                TypeTrueFalse,
		"true/false":        TypeTrueFalse,
		"fill-in-the-blank": TypeFillBlank,
		"short_answer":      TypeShortAnswer,
		"":                  TypeText,
		"essay":             TypeText,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ParseQuestionType(raw), raw)
	}
}

func TestDistributionScale(t *testing.T) {
	d := DefaultDistribution()
	assert.Equal(t, 25, d.Total())
	assert.Equal(t, d, d.Scale(25))

	scaled := d.Scale(10)
	assert.Equal(t, 10, scaled.Total())
	assert.Equal(t, []int{4, 2, 2, 2}, counts(scaled))

	scaled = d.Scale(7)
	assert.Equal(t, 7, scaled.Total())
	assert.Equal(t, []int{3, 2, 1, 1}, counts(scaled))

	assert.Empty(t, d.Scale(0))
}

func counts(d Distribution) []int {
	out := make([]int, 0, len(d))
	for _, tc := range d {
		out = append(out, tc.Count)
	}
	return out
}
