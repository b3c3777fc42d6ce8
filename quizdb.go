package lecturequiz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// QuizStore is the persistence boundary of the pipeline
type QuizStore interface {
	CreateQuizWithQuestions(ctx context.Context, quiz *Quiz, questions []Question) error
	GetQuiz(ctx context.Context, id string) (*Quiz, error)
	ListQuizzes(ctx context.Context, ownerID string, limit int) ([]Quiz, error)
	GetQuestions(ctx context.Context, quizID string) ([]Question, error)
	ReplaceQuestions(ctx context.Context, quizID string, source GenerationSource, questions []Question) error
	MarkStarted(ctx context.Context, quizID string, at time.Time) error
	SaveGrading(ctx context.Context, quiz *Quiz, questions []Question) error
	ResetAttempt(ctx context.Context, quizID string, at time.Time) error
}

// DB represents a quiz database connection
type DB struct {
	db *sql.DB
}

// OpenDB opens a new database connection. Use ":memory:" for a private
// in-memory database.
func OpenDB(dbPath string) (*DB, error) {
	dsn := dbPath
	if strings.Contains(dsn, "?") {
		dsn += "&_foreign_keys=on&_busy_timeout=5000"
	} else {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite has a single writer, and an in-memory database only lives on
	// its one connection
	db.SetMaxOpenConns(1)

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db: db}, nil
}

// CloseDB closes the database connection
func (db *DB) CloseDB() error {
	return db.db.Close()
}

// CreateTables creates the necessary tables if they don't exist
func (db *DB) CreateTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS quizzes (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			owner_name TEXT NOT NULL DEFAULT '',
			file_type TEXT NOT NULL,
			extracted_text TEXT NOT NULL,
			total_questions INTEGER NOT NULL,
			questions_generated INTEGER NOT NULL DEFAULT 0,
			generation_source TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			score INTEGER,
			percentage REAL,
			time_taken_seconds INTEGER,
			recommendations TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quizzes_owner ON quizzes(owner_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS questions (
			id TEXT PRIMARY KEY,
			quiz_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			question_type TEXT NOT NULL,
			prompt TEXT NOT NULL,
			options TEXT NOT NULL,
			expected_answer TEXT NOT NULL,
			reference_text TEXT NOT NULL DEFAULT '',
			explanation TEXT NOT NULL DEFAULT '',
			page_number INTEGER,
			submitted_answer TEXT,
			is_correct INTEGER,
			UNIQUE (quiz_id, position),
			FOREIGN KEY (quiz_id) REFERENCES quizzes(id) ON DELETE CASCADE
		)`,
	}

	for _, query := range queries {
		if _, err := db.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute %s: %w", query, err)
		}
	}
	return nil
}

// withTx runs fn in a transaction, committing only when fn succeeds
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateQuizWithQuestions stores a new quiz and its full question set atomically
func (db *DB) CreateQuizWithQuestions(ctx context.Context, quiz *Quiz, questions []Question) error {
	if quiz.ID == "" {
		quiz.ID = uuid.NewString()
	}
	if quiz.CreatedAt.IsZero() {
		quiz.CreatedAt = time.Now().UTC()
	}
	if quiz.Status == "" {
		quiz.Status = StatusPending
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO quizzes (id, owner_id, owner_name, file_type, extracted_text, total_questions,
				questions_generated, generation_source, status, recommendations, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			quiz.ID, quiz.OwnerID, quiz.OwnerName, quiz.FileType, quiz.ExtractedText, quiz.TotalQuestions,
			quiz.QuestionsGenerated, string(quiz.GenerationSource), string(quiz.Status), quiz.Recommendations, quiz.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create quiz: %w", err)
		}
		return insertQuestions(ctx, tx, quiz.ID, questions)
	})
}

func insertQuestions(ctx context.Context, tx *sql.Tx, quizID string, questions []Question) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO questions (id, quiz_id, position, question_type, prompt, options, expected_answer,
			reference_text, explanation, page_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare question insert: %w", err)
	}
	defer stmt.Close()

	for i := range questions {
		q := &questions[i]
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		q.QuizID = quizID
		optionsJSON, err := OptionsToJSON(q.Options)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			q.ID, quizID, q.Position, string(q.Type), q.Prompt, optionsJSON, q.ExpectedAnswer,
			q.ReferenceText, q.Explanation, nullInt(q.PageNumber),
		); err != nil {
			return fmt.Errorf("failed to create question %d: %w", q.Position, err)
		}
	}
	return nil
}

const quizColumns = `id, owner_id, owner_name, file_type, extracted_text, total_questions, questions_generated,
	generation_source, status, score, percentage, time_taken_seconds, recommendations, created_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuiz(row rowScanner) (*Quiz, error) {
	var (
		quiz        Quiz
		source      string
		status      string
		score       sql.NullInt64
		percentage  sql.NullFloat64
		timeTaken   sql.NullInt64
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(&quiz.ID, &quiz.OwnerID, &quiz.OwnerName, &quiz.FileType, &quiz.ExtractedText,
		&quiz.TotalQuestions, &quiz.QuestionsGenerated, &source, &status, &score, &percentage, &timeTaken,
		&quiz.Recommendations, &quiz.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	quiz.GenerationSource = GenerationSource(source)
	quiz.Status = QuizStatus(status)
	if score.Valid {
		v := int(score.Int64)
		quiz.Score = &v
	}
	if percentage.Valid {
		v := percentage.Float64
		quiz.Percentage = &v
	}
	if timeTaken.Valid {
		v := int(timeTaken.Int64)
		quiz.TimeTakenSeconds = &v
	}
	if startedAt.Valid {
		v := startedAt.Time
		quiz.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		quiz.CompletedAt = &v
	}
	return &quiz, nil
}

// GetQuiz retrieves a quiz by ID
func (db *DB) GetQuiz(ctx context.Context, id string) (*Quiz, error) {
	quiz, err := scanQuiz(db.db.QueryRowContext(ctx, "SELECT "+quizColumns+" FROM quizzes WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}
	return quiz, nil
}

// ListQuizzes retrieves an owner's quizzes, newest first. An empty ownerID
// lists every quiz.
func (db *DB) ListQuizzes(ctx context.Context, ownerID string, limit int) ([]Quiz, error) {
	query := "SELECT " + quizColumns + " FROM quizzes"
	var args []any
	if ownerID != "" {
		query += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get quizzes: %w", err)
	}
	defer rows.Close()

	quizzes := []Quiz{}
	for rows.Next() {
		quiz, err := scanQuiz(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quiz: %w", err)
		}
		quizzes = append(quizzes, *quiz)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quizzes: %w", err)
	}

	return quizzes, nil
}

// GetQuestions retrieves all questions for a quiz ordered by position
func (db *DB) GetQuestions(ctx context.Context, quizID string) ([]Question, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT id, quiz_id, position, question_type, prompt, options, expected_answer, reference_text,
			explanation, page_number, submitted_answer, is_correct
		FROM questions WHERE quiz_id = ? ORDER BY position`,
		quizID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions: %w", err)
	}
	defer rows.Close()

	questions := []Question{}
	for rows.Next() {
		var (
			q           Question
			qtype       string
			optionsJSON string
			page        sql.NullInt64
			submitted   sql.NullString
			correct     sql.NullBool
		)
		err := rows.Scan(&q.ID, &q.QuizID, &q.Position, &qtype, &q.Prompt, &optionsJSON, &q.ExpectedAnswer,
			&q.ReferenceText, &q.Explanation, &page, &submitted, &correct)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		q.Type = QuestionType(qtype)
		if q.Options, err = JSONToOptions(optionsJSON); err != nil {
			return nil, err
		}
		if page.Valid {
			v := int(page.Int64)
			q.PageNumber = &v
		}
		if submitted.Valid {
			v := submitted.String
			q.SubmittedAnswer = &v
		}
		if correct.Valid {
			v := correct.Bool
			q.IsCorrect = &v
		}
		questions = append(questions, q)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating questions: %w", err)
	}

	return questions, nil
}

// ReplaceQuestions swaps a quiz's question set for a new one and resets the
// attempt, all in one transaction
func (db *DB) ReplaceQuestions(ctx context.Context, quizID string, source GenerationSource, questions []Question) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE quizzes SET total_questions = ?, questions_generated = 1, generation_source = ?,
				status = ?, score = NULL, percentage = NULL, time_taken_seconds = NULL,
				recommendations = '', started_at = NULL, completed_at = NULL
			WHERE id = ?`,
			len(questions), string(source), string(StatusPending), quizID,
		)
		if err != nil {
			return fmt.Errorf("failed to reset quiz: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrQuizNotFound
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM questions WHERE quiz_id = ?", quizID); err != nil {
			return fmt.Errorf("failed to delete questions: %w", err)
		}
		return insertQuestions(ctx, tx, quizID, questions)
	})
}

// MarkStarted moves a pending quiz to in_progress. It is a no-op for a quiz
// that is already started or completed.
func (db *DB) MarkStarted(ctx context.Context, quizID string, at time.Time) error {
	res, err := db.db.ExecContext(ctx,
		"UPDATE quizzes SET status = ?, started_at = ? WHERE id = ? AND status = ?",
		string(StatusInProgress), at, quizID, string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to start quiz: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := db.GetQuiz(ctx, quizID); err != nil {
			return err
		}
	}
	return nil
}

// SaveGrading writes every graded answer and completes the quiz in one
// transaction. A quiz that is already completed is left untouched.
func (db *DB) SaveGrading(ctx context.Context, quiz *Quiz, questions []Question) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE quizzes SET status = ?, score = ?, percentage = ?, time_taken_seconds = ?,
				recommendations = ?, started_at = COALESCE(started_at, ?), completed_at = ?
			WHERE id = ? AND status != ?`,
			string(StatusCompleted), nullInt(quiz.Score), nullFloat(quiz.Percentage), nullInt(quiz.TimeTakenSeconds),
			quiz.Recommendations, nullTime(quiz.StartedAt), nullTime(quiz.CompletedAt),
			quiz.ID, string(StatusCompleted),
		)
		if err != nil {
			return fmt.Errorf("failed to complete quiz: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var status string
			return gradingRefused(tx.QueryRowContext(ctx, "SELECT status FROM quizzes WHERE id = ?", quiz.ID).Scan(&status))
		}

		stmt, err := tx.PrepareContext(ctx,
			"UPDATE questions SET submitted_answer = ?, is_correct = ? WHERE quiz_id = ? AND position = ?")
		if err != nil {
			return fmt.Errorf("failed to prepare answer update: %w", err)
		}
		defer stmt.Close()

		for _, q := range questions {
			var correct any
			if q.IsCorrect != nil {
				correct = *q.IsCorrect
			}
			var submitted any
			if q.SubmittedAnswer != nil {
				submitted = *q.SubmittedAnswer
			}
			if _, err := stmt.ExecContext(ctx, submitted, correct, quiz.ID, q.Position); err != nil {
				return fmt.Errorf("failed to update question %d: %w", q.Position, err)
			}
		}
		return nil
	})
}

// gradingRefused explains why a grading update touched no row, given the
// error of the follow-up status lookup
func gradingRefused(lookupErr error) error {
	switch {
	case errors.Is(lookupErr, sql.ErrNoRows):
		return ErrQuizNotFound
	case lookupErr != nil:
		return fmt.Errorf("failed to read quiz status: %w", lookupErr)
	}
	return ErrQuizCompleted
}

// ResetAttempt clears answers and scores so the quiz can be retaken. The
// new attempt starts at at.
func (db *DB) ResetAttempt(ctx context.Context, quizID string, at time.Time) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE quizzes SET status = ?, score = NULL, percentage = NULL, time_taken_seconds = NULL,
				recommendations = '', started_at = ?, completed_at = NULL
			WHERE id = ?`,
			string(StatusInProgress), at.UTC(), quizID,
		)
		if err != nil {
			return fmt.Errorf("failed to reset quiz: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrQuizNotFound
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE questions SET submitted_answer = NULL, is_correct = NULL WHERE quiz_id = ?", quizID); err != nil {
			return fmt.Errorf("failed to clear answers: %w", err)
		}
		return nil
	})
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC()
}

// OptionsToJSON converts an options slice to a JSON string
func OptionsToJSON(options []string) (string, error) {
	if options == nil {
		options = []string{}
	}
	data, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("failed to marshal options: %w", err)
	}
	return string(data), nil
}

// JSONToOptions converts a JSON string to an options slice
func JSONToOptions(optionsJSON string) ([]string, error) {
	options := []string{}
	if optionsJSON == "" {
		return options, nil
	}
	err := json.Unmarshal([]byte(optionsJSON), &options)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return options, nil
}
