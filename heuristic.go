package lecturequiz

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minSentenceChars   = 20
	minSentenceWords   = 4
	minBlankWordChars  = 6
	shortPromptChars   = 120
	shortExpectedChars = 200
	blankMarker        = "_____"
	visualAnnotation   = " [refers to a visual element]"
)

var (
	noisePrefix   = regexp.MustCompile(`(?i)^(page|fig(ure)?\.?|table|slide|chapter|section)\s*\d+`)
	visualMention = regexp.MustCompile(`(?i)\b(figure|fig\.|diagram|chart|graph|image|table)s?\b`)

	heuristicMCQOptions = []string{"True", "False", "Partially correct", "Cannot determine"}
	trueFalseOptions    = []string{"True", "False"}
)

// HeuristicGenerator builds questions from the text's own sentences without
// any external service. It never fails.
type HeuristicGenerator struct {
	rng    *Rand
	logger *Logger
}

// NewHeuristicGenerator creates a generator drawing randomness from rng
func NewHeuristicGenerator(rng *Rand, logger *Logger) *HeuristicGenerator {
	if rng == nil {
		rng = NewRand(0)
	}
	return &HeuristicGenerator{rng: rng, logger: logger.orNop()}
}

func (h *HeuristicGenerator) Name() GenerationSource { return SourceHeuristic }

type questionTemplate func(h *HeuristicGenerator, sentence string) (GeneratedQuestion, bool)

// Templates are applied round-robin by slot in this order
var heuristicTemplates = []questionTemplate{
	(*HeuristicGenerator).multipleChoice,
	(*HeuristicGenerator).fillBlank,
	(*HeuristicGenerator).trueFalse,
	(*HeuristicGenerator).shortAnswer,
}

// Generate returns exactly n questions. Sentences that cannot fill the
// current slot are skipped without consuming it.
func (h *HeuristicGenerator) Generate(ctx context.Context, text string, n int) ([]GeneratedQuestion, error) {
	if n <= 0 {
		return []GeneratedQuestion{}, nil
	}

	candidates := candidateSentences(text)
	h.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	questions := make([]GeneratedQuestion, 0, n)
	for _, sentence := range candidates {
		if len(questions) >= n {
			break
		}
		template := heuristicTemplates[len(questions)%len(heuristicTemplates)]
		q, ok := template(h, sentence)
		if !ok {
			continue
		}
		q.ReferenceText = referenceFor(sentence)
		questions = append(questions, q)
	}

	if len(questions) < n {
		LoggerFromContext(ctx, h.logger).Debug("heuristic generator padding with placeholders",
			"generated", len(questions), "target", n)
	}
	return numberQuestions(padQuestions(questions, n)), nil
}

func (h *HeuristicGenerator) multipleChoice(sentence string) (GeneratedQuestion, bool) {
	return GeneratedQuestion{
		Type:           TypeMultipleChoice,
		Prompt:         "Which statement is correct about the following?\n" + sentence,
		Options:        append([]string(nil), heuristicMCQOptions...),
		ExpectedAnswer: heuristicMCQOptions[0],
	}, true
}

func (h *HeuristicGenerator) fillBlank(sentence string) (GeneratedQuestion, bool) {
	tokens := strings.Fields(sentence)
	type eligible struct {
		index int
		word  string
	}
	var words []eligible
	for i := 1; i < len(tokens)-1; i++ {
		word := strings.TrimFunc(tokens[i], func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if blankable(word) {
			words = append(words, eligible{index: i, word: word})
		}
	}
	if len(words) == 0 {
		return GeneratedQuestion{}, false
	}

	pick := words[h.rng.IntN(len(words))]
	blanked := append([]string(nil), tokens...)
	blanked[pick.index] = strings.Replace(tokens[pick.index], pick.word, blankMarker, 1)

	return GeneratedQuestion{
		Type:           TypeFillBlank,
		Prompt:         strings.Join(blanked, " "),
		Options:        []string{},
		ExpectedAnswer: pick.word,
	}, true
}

func (h *HeuristicGenerator) trueFalse(sentence string) (GeneratedQuestion, bool) {
	return GeneratedQuestion{
		Type:           TypeTrueFalse,
		Prompt:         sentence,
		Options:        append([]string(nil), trueFalseOptions...),
		ExpectedAnswer: "True",
	}, true
}

func (h *HeuristicGenerator) shortAnswer(sentence string) (GeneratedQuestion, bool) {
	prompt := truncateRunes(sentence, shortPromptChars)
	if prompt != sentence {
		prompt += "..."
	}
	return GeneratedQuestion{
		Type:           TypeShortAnswer,
		Prompt:         "Explain: " + prompt,
		Options:        []string{},
		ExpectedAnswer: truncateRunes(sentence, shortExpectedChars),
	}, true
}

// blankable reports whether word can be blanked out: longer than five
// characters, alphanumeric and not purely numeric
func blankable(word string) bool {
	if utf8.RuneCountInString(word) < minBlankWordChars {
		return false
	}
	hasLetter := false
	for _, r := range word {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
		default:
			return false
		}
	}
	return hasLetter
}

// candidateSentences segments text and drops fragments unfit for a question
func candidateSentences(text string) []string {
	dedup := NewQuestionDedup()
	var out []string
	for _, s := range splitSentences(text) {
		if utf8.RuneCountInString(s) < minSentenceChars {
			continue
		}
		if noisePrefix.MatchString(s) {
			continue
		}
		if len(strings.Fields(s)) < minSentenceWords {
			continue
		}
		if dedup.CheckDuplicate(len(out)+1, s).IsDuplicate {
			continue
		}
		out = append(out, s)
	}
	return out
}

// splitSentences breaks text after runs of '.', '!' or '?' that are followed
// by whitespace, and at blank lines. Whitespace inside a sentence collapses
// to single spaces.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	emit := func() {
		s := strings.Join(strings.Fields(cur.String()), " ")
		if s != "" {
			sentences = append(sentences, s)
		}
		cur.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
			emit()
			continue
		}
		cur.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		for i+1 < len(runes) && (runes[i+1] == '.' || runes[i+1] == '!' || runes[i+1] == '?') {
			i++
			cur.WriteRune(runes[i])
		}
		if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
			emit()
		}
	}
	emit()
	return sentences
}

// referenceFor annotates sentences that point at a visual element
func referenceFor(sentence string) string {
	if visualMention.MatchString(sentence) {
		return sentence + visualAnnotation
	}
	return sentence
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
