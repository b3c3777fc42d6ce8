package lecturequiz

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lectureDeck(t *testing.T) []byte {
	t.Helper()
	return buildDeck(t, map[int]string{
		1: slideXML(
			[]string{"Algorithms and Data Structures"},
			[]string{
				"A binary search tree keeps smaller keys in the left subtree and larger keys in the right subtree.",
				"Searching a balanced binary search tree takes logarithmic time in the number of stored keys.",
			},
		),
		2: slideXML(
			[]string{"Heaps and priority queues"},
			[]string{
				"A binary heap stores the smallest element at the root of a complete binary tree.",
				"Priority queues are usually implemented with heaps because insertion and removal are logarithmic.",
				"Heapsort builds a heap from the input array and repeatedly extracts the minimum element.",
			},
		),
		3: slideXML(
			[]string{"Hashing"},
			[]string{
				"A hash table maps keys to buckets using a hash function that spreads keys uniformly.",
				"Collisions are resolved with separate chaining or with open addressing schemes like linear probing.",
				"The load factor measures how full a hash table is and triggers resizing when it grows too large.",
			},
		),
		4: slideXML(
			[]string{"Graph algorithms"},
			[]string{
				"Breadth first search explores a graph level by level using a queue of frontier vertices.",
				"Depth first search follows each branch as far as possible before backtracking to earlier vertices.",
				"Dijkstra's algorithm finds shortest paths from a source when every edge weight is non negative.",
				"Dynamic programming stores solutions to overlapping subproblems so each subproblem is solved once.",
			},
		),
	})
}

type testPipeline struct {
	*QuizPipeline
	db  *DB
	now time.Time
}

func newTestPipeline(t *testing.T, cfg PipelineConfig) *testPipeline {
	t.Helper()
	tp := &testPipeline{db: openTestDB(t), now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg.Store = tp.db
	if cfg.Source == nil {
		cfg.Source = NewFallbackSource(nil, NewHeuristicGenerator(NewRand(42), nil), nil, nil)
	}
	cfg.Now = func() time.Time { return tp.now }
	tp.QuizPipeline = NewQuizPipeline(cfg)
	return tp
}

func TestPipelineUploadToResult(t *testing.T) {
	ctx := context.Background()
	transcripts := t.TempDir()
	archiveDir := t.TempDir()
	p := newTestPipeline(t, PipelineConfig{
		TranscriptDir: transcripts,
		Archive:       &LocalArchive{Root: archiveDir},
	})

	quiz, err := p.CreateQuizFromUpload(ctx, RawDocument{
		Content:   lectureDeck(t),
		Filename:  "week3.PPTX",
		OwnerID:   "alice",
		OwnerName: "Alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "pptx", quiz.FileType)
	assert.Equal(t, DefaultQuestionCount, quiz.TotalQuestions)
	assert.Equal(t, SourceHeuristic, quiz.GenerationSource)
	assert.Equal(t, StatusPending, quiz.Status)
	assert.Contains(t, quiz.ExtractedText, "Dijkstra's algorithm")

	_, err = os.Stat(filepath.Join(archiveDir, quiz.ID, "source.pptx"))
	assert.NoError(t, err, "upload is archived")

	stored, questions, err := p.GetQuizForTaking(ctx, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, quiz.ID, stored.ID)
	require.Len(t, questions, DefaultQuestionCount)
	for i, q := range questions {
		assert.Equal(t, i+1, q.Position)
		assert.NotEmpty(t, q.Prompt)
		assert.NotEmpty(t, q.ExpectedAnswer)
	}

	p.now = p.now.Add(time.Minute)
	started, err := p.StartQuiz(ctx, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)

	answers := make(map[int]string)
	for _, q := range questions[:15] {
		answers[q.Position] = "  " + q.ExpectedAnswer + " "
	}
	p.now = p.now.Add(3*time.Minute + 20*time.Second)
	result, err := p.SubmitAnswers(ctx, quiz.ID, answers, -1)
	require.NoError(t, err)

	assert.Equal(t, 15, result.Scorecard.Score)
	assert.Equal(t, 60.0, result.Scorecard.Percentage)
	assert.Equal(t, "3:20", result.TimeTaken)
	assert.Equal(t, StatusCompleted, result.Quiz.Status)
	require.Len(t, result.Review, DefaultQuestionCount)
	for _, r := range result.Review[15:] {
		assert.Equal(t, notAnswered, r.Submitted)
		assert.Equal(t, "incorrect", r.Status)
		assert.Equal(t, "no answer provided", r.Reason)
	}
	assert.NotNil(t, result.Recommendations)

	graded, err := p.db.GetQuestions(ctx, quiz.ID)
	require.NoError(t, err)
	assert.Nil(t, graded[20].SubmittedAnswer, "blank answers are stored as NULL")
	assert.Equal(t, questions[0].ExpectedAnswer, *graded[0].SubmittedAnswer)

	stored, err = p.db.GetQuiz(ctx, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, 200, *stored.TimeTakenSeconds)

	_, err = os.Stat(filepath.Join(transcripts, quiz.ID+".log"))
	assert.NoError(t, err, "grading writes a transcript")

	_, err = p.SubmitAnswers(ctx, quiz.ID, answers, 10)
	assert.ErrorIs(t, err, ErrQuizCompleted)

	again, err := p.GetResult(ctx, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, again.Scorecard.Score)
	assert.Equal(t, result.TimeTaken, again.TimeTaken)
}

func TestPipelineRejectsBadUploads(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, PipelineConfig{})

	_, err := p.CreateQuizFromUpload(ctx, RawDocument{Filename: "a.pdf", OwnerID: "alice"})
	assert.ErrorIs(t, err, ErrMissingUpload)

	_, err = p.CreateQuizFromUpload(ctx, RawDocument{Content: lectureDeck(t), Filename: "a.pptx", OwnerID: "  "})
	assert.ErrorIs(t, err, ErrMissingOwner)

	_, err = p.CreateQuizFromUpload(ctx, RawDocument{Content: []byte("just some bytes"), Filename: "notes.pdf", OwnerID: "alice"})
	assert.ErrorIs(t, err, ErrNoExtractableText)

	_, err = p.CreateQuizFromUpload(ctx, RawDocument{Content: lectureDeck(t), Extension: "docx", OwnerID: "alice"})
	assert.ErrorIs(t, err, ErrNoExtractableText)

	quizzes, err := p.ListQuizzes(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, quizzes, "nothing is stored for a failed upload")
}

func TestPipelineUsesAISourceWhenItDelivers(t *testing.T) {
	gen := &fakeGenerator{responses: []string{questionJSON(25)}}
	source := NewFallbackSource(NewAIQuestionMaker(gen, NewRand(1), nil), nil, NewRand(1), nil)
	p := newTestPipeline(t, PipelineConfig{Source: source})

	quiz, err := p.CreateQuizFromUpload(context.Background(), RawDocument{Content: lectureDeck(t), Extension: ".pptx", OwnerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, SourceAI, quiz.GenerationSource)
	assert.Equal(t, 25, quiz.TotalQuestions)
}

func TestPipelineRecommendationsForWeakAreas(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{responses: []string{`{"recommendations": [{"topic": "Heaps", "description": "Revisit heap order", "key_points": ["min at root"], "study_tips": "Draw a heap"}]}`}}
	p := newTestPipeline(t, PipelineConfig{Recommender: NewRecommender(gen, nil)})

	quiz, err := p.CreateQuizFromUpload(ctx, RawDocument{Content: lectureDeck(t), Extension: "pptx", OwnerID: "alice"})
	require.NoError(t, err)

	result, err := p.SubmitAnswers(ctx, quiz.ID, nil, 42)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scorecard.Score)
	assert.NotEmpty(t, result.Scorecard.WeakAreas)
	require.Len(t, result.Recommendations, 1)
	assert.Equal(t, "Heaps", result.Recommendations[0].Topic)
	assert.Equal(t, "0:42", result.TimeTaken)
	assert.Equal(t, 1, gen.calls())

	stored, err := p.GetResult(ctx, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Recommendations, stored.Recommendations)
}

func TestPipelineRegenerateAndReset(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, PipelineConfig{QuestionCount: 8})

	quiz, err := p.CreateQuizFromUpload(ctx, RawDocument{Content: lectureDeck(t), Extension: "pptx", OwnerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 8, quiz.TotalQuestions)

	_, err = p.SubmitAnswers(ctx, quiz.ID, map[int]string{1: "anything"}, 5)
	require.NoError(t, err)

	p.now = p.now.Add(time.Hour)
	reset, err := p.ResetAttempt(ctx, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, reset.Status)
	assert.Nil(t, reset.Score)
	require.NotNil(t, reset.StartedAt)
	assert.True(t, p.now.Equal(*reset.StartedAt))

	// the retake is timed from the reset
	p.now = p.now.Add(90 * time.Second)
	retake, err := p.SubmitAnswers(ctx, quiz.ID, map[int]string{1: "anything"}, -1)
	require.NoError(t, err)
	assert.Equal(t, "1:30", retake.TimeTaken)

	regenerated, err := p.RegenerateQuiz(ctx, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, regenerated.Status)
	assert.Equal(t, 8, regenerated.TotalQuestions)

	_, questions, err := p.GetQuizForTaking(ctx, quiz.ID)
	require.NoError(t, err)
	require.Len(t, questions, 8)
	for _, q := range questions {
		assert.Nil(t, q.SubmittedAnswer)
	}

	_, err = p.RegenerateQuiz(ctx, "missing")
	assert.ErrorIs(t, err, ErrQuizNotFound)
	_, err = p.StartQuiz(ctx, "missing")
	assert.ErrorIs(t, err, ErrQuizNotFound)
	_, err = p.SubmitAnswers(ctx, "missing", nil, 0)
	assert.ErrorIs(t, err, ErrQuizNotFound)
}

type staticSource struct {
	name      GenerationSource
	questions []GeneratedQuestion
	err       error
}

func (s staticSource) Name() GenerationSource { return s.name }

func (s staticSource) Generate(context.Context, string, int) ([]GeneratedQuestion, error) {
	return s.questions, s.err
}

func TestFallbackSource(t *testing.T) {
	ctx := context.Background()

	t.Run("primary error", func(t *testing.T) {
		fs := NewFallbackSource(staticSource{name: SourceAI, err: errors.New("down")}, nil, NewRand(3), nil)
		questions, source := fs.GenerateReporting(ctx, lectureText, 25)
		assert.Equal(t, SourceHeuristic, source)
		assertNumbered(t, questions, 25)
	})

	t.Run("primary wrong count", func(t *testing.T) {
		fs := NewFallbackSource(staticSource{name: SourceAI, questions: batch("Only one.")}, nil, NewRand(3), nil)
		_, source := fs.GenerateReporting(ctx, lectureText, 5)
		assert.Equal(t, SourceHeuristic, source)
	})

	t.Run("primary delivers", func(t *testing.T) {
		fs := NewFallbackSource(staticSource{name: SourceAI, questions: batch("One.", "Two.")}, nil, NewRand(3), nil)
		questions, source := fs.GenerateReporting(ctx, lectureText, 2)
		assert.Equal(t, SourceAI, source)
		assert.Len(t, questions, 2)
		assert.Equal(t, SourceAI, fs.Name())
	})

	t.Run("fallback failure pads placeholders", func(t *testing.T) {
		fs := NewFallbackSource(nil, staticSource{name: SourceHeuristic, err: errors.New("broken")}, nil, nil)
		questions, err := fs.Generate(ctx, lectureText, 3)
		require.NoError(t, err)
		assertNumbered(t, questions, 3)
		for _, q := range questions {
			assert.Equal(t, placeholderAnswer, q.ExpectedAnswer)
		}
	})
}

func TestReferenceExcerpt(t *testing.T) {
	q := &Question{ReferenceText: " Heaps keep the minimum at the root. "}
	assert.Equal(t, "Heaps keep the minimum at the root.\n\nLecture text", referenceExcerpt(q, "Lecture text"))
	assert.Equal(t, "Lecture text", referenceExcerpt(&Question{}, "Lecture text"))
	assert.Equal(t, "", referenceExcerpt(&Question{}, ""))
	assert.Len(t, []rune(referenceExcerpt(q, string(make([]rune, 5000)))), maxVerifyExcerptChars)
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := newKeyedMutex()
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("quiz")
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)

	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	unlockB()
	unlockA()
	assert.Empty(t, k.locks)
}
