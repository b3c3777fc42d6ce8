package lecturequiz

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
)

// QuestionSource produces exactly n questions for a text, numbered 1..n
type QuestionSource interface {
	Name() GenerationSource
	Generate(ctx context.Context, text string, n int) ([]GeneratedQuestion, error)
}

// Rand is a goroutine-safe random source. Tests seed it for exact output.
type Rand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a source seeded with seed, or with a random seed when seed is 0
func NewRand(seed int64) *Rand {
	s := uint64(seed)
	if seed == 0 {
		s = rand.Uint64()
	}
	return &Rand{r: rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))}
}

// Shuffle pseudo-randomizes the order of n elements
func (r *Rand) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.r.Shuffle(n, swap)
}

// IntN returns a value in [0, n)
func (r *Rand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.IntN(n)
}

const (
	placeholderPrompt = "Question %d based on the content."
	placeholderAnswer = "Answer based on content"
)

// placeholderQuestion is the content-free filler used to reach the exact count
func placeholderQuestion(position int) GeneratedQuestion {
	return GeneratedQuestion{
		Position:       position,
		Type:           TypeShortAnswer,
		Prompt:         fmt.Sprintf(placeholderPrompt, position),
		Options:        []string{},
		ExpectedAnswer: placeholderAnswer,
	}
}

// padQuestions appends placeholders until there are n questions
func padQuestions(questions []GeneratedQuestion, n int) []GeneratedQuestion {
	for len(questions) < n {
		questions = append(questions, placeholderQuestion(len(questions)+1))
	}
	return questions
}

// numberQuestions assigns positions 1..len(questions) in slice order
func numberQuestions(questions []GeneratedQuestion) []GeneratedQuestion {
	for i := range questions {
		questions[i].Position = i + 1
	}
	return questions
}

// reconcileQuestions turns an untrusted batch into exactly n numbered
// questions: empty and repeated prompts are dropped, the rest shuffled,
// truncated to n and padded.
func reconcileQuestions(items []GeneratedQuestion, n int, rng *Rand) []GeneratedQuestion {
	if n < 0 {
		n = 0
	}
	dedup := NewQuestionDedup()
	kept := make([]GeneratedQuestion, 0, len(items))
	for i, q := range items {
		q.Prompt = strings.TrimSpace(q.Prompt)
		if res := dedup.CheckDuplicate(i+1, q.Prompt); res.IsDuplicate {
			continue
		}
		if q.Type == "" {
			q.Type = TypeText
		}
		if q.Options == nil {
			q.Options = []string{}
		}
		kept = append(kept, q)
	}

	rng.Shuffle(len(kept), func(i, j int) { kept[i], kept[j] = kept[j], kept[i] })
	if len(kept) > n {
		kept = kept[:n]
	}
	return numberQuestions(padQuestions(kept, n))
}

// typeCounts summarizes a question set by type for logging
func typeCounts(questions []GeneratedQuestion) string {
	counts := make(map[QuestionType]int)
	for _, q := range questions {
		counts[q.Type]++
	}
	keys := make([]string, 0, len(counts))
	for t := range counts {
		keys = append(keys, string(t))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[QuestionType(k)]))
	}
	return strings.Join(parts, " ")
}
