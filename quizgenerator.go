package lecturequiz

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FallbackSource tries Primary and delegates to Fallback when Primary is
// absent, fails, or returns the wrong number of questions
type FallbackSource struct {
	Primary  QuestionSource
	Fallback QuestionSource
	logger   *Logger
}

// NewFallbackSource pairs an optional primary source with a fallback. A nil
// fallback means the heuristic generator.
func NewFallbackSource(primary, fallback QuestionSource, rng *Rand, logger *Logger) *FallbackSource {
	if fallback == nil {
		fallback = NewHeuristicGenerator(rng, logger)
	}
	return &FallbackSource{Primary: primary, Fallback: fallback, logger: logger.orNop()}
}

func (fs *FallbackSource) Name() GenerationSource {
	if fs.Primary != nil {
		return fs.Primary.Name()
	}
	return fs.Fallback.Name()
}

func (fs *FallbackSource) Generate(ctx context.Context, text string, n int) ([]GeneratedQuestion, error) {
	questions, _ := fs.GenerateReporting(ctx, text, n)
	return questions, nil
}

// GenerateReporting returns exactly n questions and the source that produced them
func (fs *FallbackSource) GenerateReporting(ctx context.Context, text string, n int) ([]GeneratedQuestion, GenerationSource) {
	logger := LoggerFromContext(ctx, fs.logger)
	if fs.Primary != nil {
		questions, err := fs.Primary.Generate(ctx, text, n)
		switch {
		case err != nil:
			logger.Warn("question source failed, using fallback",
				"source", fs.Primary.Name(), "fallback", fs.Fallback.Name(), "error", err)
		case len(questions) != n:
			logger.Warn("question source returned wrong count, using fallback",
				"source", fs.Primary.Name(), "got", len(questions), "want", n)
		default:
			return questions, fs.Primary.Name()
		}
	}

	questions, err := fs.Fallback.Generate(ctx, text, n)
	if err != nil {
		logger.Error("fallback question source failed, using placeholders", "error", err)
		questions = nil
	}
	if len(questions) > n {
		questions = questions[:n]
	}
	return numberQuestions(padQuestions(questions, n)), fs.Fallback.Name()
}

// keyedMutex serializes work per key
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the lock for key and returns its release func
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// PipelineConfig wires a QuizPipeline. Only Store is required.
type PipelineConfig struct {
	Store         QuizStore
	Extractor     *Extractor
	Source        QuestionSource
	Verifier      *AnswerVerifier
	Recommender   *Recommender
	Archive       UploadArchive
	Metrics       *Metrics
	Logger        *Logger
	QuestionCount int
	// TranscriptDir enables per-quiz transcripts of generative calls
	TranscriptDir string
	Now           func() time.Time
}

// QuizPipeline orchestrates extraction, generation, grading and insights
type QuizPipeline struct {
	store         QuizStore
	extractor     *Extractor
	source        QuestionSource
	verifier      *AnswerVerifier
	recommender   *Recommender
	archive       UploadArchive
	metrics       *Metrics
	logger        *Logger
	questionCount int
	transcriptDir string
	now           func() time.Time
	locks         *keyedMutex
}

// NewQuizPipeline fills unset collaborators with offline defaults
func NewQuizPipeline(cfg PipelineConfig) *QuizPipeline {
	logger := cfg.Logger.orNop()
	p := &QuizPipeline{
		store:         cfg.Store,
		extractor:     cfg.Extractor,
		source:        cfg.Source,
		verifier:      cfg.Verifier,
		recommender:   cfg.Recommender,
		archive:       cfg.Archive,
		metrics:       cfg.Metrics,
		logger:        logger,
		questionCount: cfg.QuestionCount,
		transcriptDir: cfg.TranscriptDir,
		now:           cfg.Now,
		locks:         newKeyedMutex(),
	}
	if p.extractor == nil {
		p.extractor = NewExtractor("", logger, cfg.Metrics)
	}
	if p.source == nil {
		p.source = NewFallbackSource(nil, nil, nil, logger)
	}
	if p.verifier == nil {
		p.verifier = NewAnswerVerifier(nil, nil, 0, logger, cfg.Metrics)
	}
	if p.recommender == nil {
		p.recommender = NewRecommender(nil, logger)
	}
	if p.questionCount <= 0 {
		p.questionCount = DefaultQuestionCount
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p
}

// startTranscript attaches a per-quiz transcript to ctx when enabled. The
// returned func closes it.
func (p *QuizPipeline) startTranscript(ctx context.Context, quizID string) (context.Context, func()) {
	if p.transcriptDir == "" {
		return ctx, func() {}
	}
	ll, err := NewLLMLogger(p.transcriptDir, quizID)
	if err != nil {
		p.logger.Warn("failed to create transcript", "quiz_id", quizID, "error", err)
		return ctx, func() {}
	}
	return WithLLMLogger(ctx, ll), func() { _ = ll.Close() }
}

func (p *QuizPipeline) generate(ctx context.Context, text string) ([]GeneratedQuestion, GenerationSource) {
	n := p.questionCount
	if reporter, ok := p.source.(interface {
		GenerateReporting(ctx context.Context, text string, n int) ([]GeneratedQuestion, GenerationSource)
	}); ok {
		return reporter.GenerateReporting(ctx, text, n)
	}

	questions, err := p.source.Generate(ctx, text, n)
	if err != nil {
		p.logger.Warn("question source failed, using placeholders", "error", err)
		questions = nil
	}
	if len(questions) > n {
		questions = questions[:n]
	}
	return numberQuestions(padQuestions(questions, n)), p.source.Name()
}

func toQuestions(generated []GeneratedQuestion) []Question {
	questions := make([]Question, 0, len(generated))
	for _, g := range generated {
		options := g.Options
		if options == nil {
			options = []string{}
		}
		questions = append(questions, Question{
			Position:       g.Position,
			Type:           g.Type,
			Prompt:         g.Prompt,
			Options:        options,
			ExpectedAnswer: g.ExpectedAnswer,
			ReferenceText:  g.ReferenceText,
			Explanation:    g.Explanation,
		})
	}
	return questions
}

// CreateQuizFromUpload extracts the document, generates the question set and
// stores both. Nothing is stored when extraction yields no text.
func (p *QuizPipeline) CreateQuizFromUpload(ctx context.Context, doc RawDocument) (*Quiz, error) {
	if len(doc.Content) == 0 {
		return nil, ErrMissingUpload
	}
	if strings.TrimSpace(doc.OwnerID) == "" {
		return nil, ErrMissingOwner
	}

	ext := doc.Extension
	if ext == "" {
		ext = filepath.Ext(doc.Filename)
	}
	ext = NormalizeExtension(ext)

	text := p.extractor.Extract(ctx, doc.Content, ext)
	if text == "" {
		p.logger.Info("no extractable text in upload", "owner_id", doc.OwnerID, "extension", ext, "bytes", len(doc.Content))
		return nil, ErrNoExtractableText
	}

	quizID := uuid.NewString()
	logger := p.logger.With("quiz_id", quizID)
	ctx = ContextWithLogger(ctx, logger)
	ctx, closeTranscript := p.startTranscript(ctx, quizID)
	defer closeTranscript()

	if p.archive != nil {
		location, err := p.archive.Store(ctx, archiveKey(quizID, ext), doc.Content, contentTypeFor(ext))
		if err != nil {
			p.metrics.observeFailure("archive")
			logger.Warn("failed to archive upload", "error", err)
		} else {
			logger.Debug("archived upload", "location", location)
		}
	}

	generated, source := p.generate(ctx, text)
	logger.Info("generated quiz", "source", source, "questions", len(generated), "types", typeCounts(generated))

	quiz := &Quiz{
		ID:                 quizID,
		OwnerID:            doc.OwnerID,
		OwnerName:          doc.OwnerName,
		FileType:           strings.TrimPrefix(ext, "."),
		ExtractedText:      truncateRunes(text, MaxStoredTextChars),
		TotalQuestions:     len(generated),
		QuestionsGenerated: true,
		GenerationSource:   source,
		Status:             StatusPending,
		CreatedAt:          p.now(),
	}
	if err := p.store.CreateQuizWithQuestions(ctx, quiz, toQuestions(generated)); err != nil {
		return nil, fmt.Errorf("failed to store quiz: %w", err)
	}
	p.metrics.observeGeneration(source)
	return quiz, nil
}

// RegenerateQuiz replaces a quiz's question set from its stored text and
// resets the attempt
func (p *QuizPipeline) RegenerateQuiz(ctx context.Context, quizID string) (*Quiz, error) {
	unlock := p.locks.Lock(quizID)
	defer unlock()

	quiz, err := p.store.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}

	logger := p.logger.With("quiz_id", quizID)
	ctx = ContextWithLogger(ctx, logger)
	ctx, closeTranscript := p.startTranscript(ctx, quizID)
	defer closeTranscript()

	generated, source := p.generate(ctx, quiz.ExtractedText)
	if err := p.store.ReplaceQuestions(ctx, quizID, source, toQuestions(generated)); err != nil {
		return nil, fmt.Errorf("failed to replace questions: %w", err)
	}
	p.metrics.observeGeneration(source)
	logger.Info("regenerated quiz", "source", source, "types", typeCounts(generated))
	return p.store.GetQuiz(ctx, quizID)
}

// StartQuiz marks a pending quiz as in progress. Calling it again is harmless.
func (p *QuizPipeline) StartQuiz(ctx context.Context, quizID string) (*Quiz, error) {
	unlock := p.locks.Lock(quizID)
	defer unlock()

	if err := p.store.MarkStarted(ctx, quizID, p.now()); err != nil {
		return nil, err
	}
	return p.store.GetQuiz(ctx, quizID)
}

// GetQuizForTaking returns a quiz with its questions ordered by position
func (p *QuizPipeline) GetQuizForTaking(ctx context.Context, quizID string) (*Quiz, []Question, error) {
	quiz, err := p.store.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, nil, err
	}
	questions, err := p.store.GetQuestions(ctx, quizID)
	if err != nil {
		return nil, nil, err
	}
	return quiz, questions, nil
}

// SubmitAnswers grades answers keyed by question position, completes the
// quiz and derives recommendations. timeTakenSeconds below zero means the
// time is taken from the recorded start.
func (p *QuizPipeline) SubmitAnswers(ctx context.Context, quizID string, answers map[int]string, timeTakenSeconds int) (*Result, error) {
	unlock := p.locks.Lock(quizID)
	defer unlock()

	quiz, err := p.store.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if quiz.Status == StatusCompleted {
		return nil, ErrQuizCompleted
	}
	questions, err := p.store.GetQuestions(ctx, quizID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, closeTranscript := p.startTranscript(ctx, quizID)
	defer closeTranscript()
	transcript := llmLoggerFrom(ctx)

	reasons := make(map[int]string, len(questions))
	for i := range questions {
		q := &questions[i]
		answer := strings.TrimSpace(answers[q.Position])
		out := p.verifier.Verify(ctx, q, answer, referenceExcerpt(q, quiz.ExtractedText))

		if answer != "" {
			q.SubmittedAnswer = &answer
		} else {
			q.SubmittedAnswer = nil
		}
		correct := out.Correct
		q.IsCorrect = &correct
		reasons[q.Position] = out.Reason
		transcript.LogQuestionResult(q.Position, out.Tier, out.Reason)
	}

	card := ScoreQuiz(questions)
	completedAt := p.now()
	quiz.Score = &card.Score
	quiz.Percentage = &card.Percentage
	quiz.CompletedAt = &completedAt
	if quiz.StartedAt == nil {
		quiz.StartedAt = &completedAt
	}
	if timeTakenSeconds < 0 {
		timeTakenSeconds = int(completedAt.Sub(*quiz.StartedAt).Seconds())
	}
	quiz.TimeTakenSeconds = &timeTakenSeconds

	recs := []StudyRecommendation{}
	if card.NeedsRecommendations() {
		recs = p.recommender.Recommend(ctx, card.WeakAreas, card.Percentage, quiz.ExtractedText)
	}
	quiz.Recommendations = EncodeRecommendations(recs)

	if err := p.store.SaveGrading(ctx, quiz, questions); err != nil {
		return nil, err
	}
	quiz.Status = StatusCompleted
	p.metrics.observeGrading(start)
	p.logger.Info("graded quiz",
		"quiz_id", quizID,
		"score", card.Score,
		"total", card.Total,
		"weak_areas", card.WeakAreas,
		"recommendations", len(recs))

	return BuildResult(quiz, questions, recs, reasons), nil
}

// referenceExcerpt is the source context given to the semantic check: the
// question's own reference followed by the document text
func referenceExcerpt(q *Question, documentText string) string {
	parts := make([]string, 0, 2)
	if ref := strings.TrimSpace(q.ReferenceText); ref != "" {
		parts = append(parts, ref)
	}
	if doc := strings.TrimSpace(documentText); doc != "" {
		parts = append(parts, truncateRunes(doc, maxVerifyExcerptChars))
	}
	return truncateRunes(strings.Join(parts, "\n\n"), maxVerifyExcerptChars)
}

// ResetAttempt clears a graded attempt so the quiz can be retaken
func (p *QuizPipeline) ResetAttempt(ctx context.Context, quizID string) (*Quiz, error) {
	unlock := p.locks.Lock(quizID)
	defer unlock()

	if err := p.store.ResetAttempt(ctx, quizID, p.now()); err != nil {
		return nil, err
	}
	return p.store.GetQuiz(ctx, quizID)
}

// GetResult rebuilds the result of a graded quiz from storage
func (p *QuizPipeline) GetResult(ctx context.Context, quizID string) (*Result, error) {
	quiz, questions, err := p.GetQuizForTaking(ctx, quizID)
	if err != nil {
		return nil, err
	}
	return BuildResult(quiz, questions, DecodeRecommendations(quiz.Recommendations), nil), nil
}

// ListQuizzes returns an owner's quizzes, newest first
func (p *QuizPipeline) ListQuizzes(ctx context.Context, ownerID string, limit int) ([]Quiz, error) {
	return p.store.ListQuizzes(ctx, ownerID, limit)
}
