package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"lecturequiz"
)

func main() {
	var (
		configPath = flag.String("config", "", "Directory containing config.yaml")
		dbPath     = flag.String("db", "", "SQLite database path (default from config)")
		owner      = flag.String("owner", "", "Only list quizzes of this owner")
		limit      = flag.Int("limit", 20, "Maximum number of quizzes to list")
		quizID     = flag.String("quiz", "", "Print the graded result of this quiz")
		asJSON     = flag.Bool("json", false, "Print JSON instead of text")
	)
	flag.Parse()

	cfg, err := lecturequiz.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger := lecturequiz.NewLogger(lecturequiz.LogOptions{Mode: cfg.Log.Mode, File: cfg.Log.File})
	defer logger.Sync()

	db, err := lecturequiz.OpenDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.CloseDB()
	if err := db.CreateTables(); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	pipeline := lecturequiz.NewQuizPipeline(lecturequiz.PipelineConfig{Store: db, Logger: logger})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *quizID != "" {
		result, err := pipeline.GetResult(ctx, *quizID)
		if err != nil {
			log.Fatalf("Failed to load result: %v", err)
		}
		if *asJSON {
			writeJSON(os.Stdout, result)
			return
		}
		printReport(os.Stdout, result)
		return
	}

	quizzes, err := pipeline.ListQuizzes(ctx, *owner, *limit)
	if err != nil {
		log.Fatalf("Failed to list quizzes: %v", err)
	}
	if *asJSON {
		writeJSON(os.Stdout, quizzes)
		return
	}
	printQuizList(os.Stdout, quizzes)
}

func writeJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}

func printQuizList(w io.Writer, quizzes []lecturequiz.Quiz) {
	if len(quizzes) == 0 {
		fmt.Fprintln(w, "No quizzes found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOWNER\tTYPE\tSOURCE\tSTATUS\tSCORE\tCREATED")
	for _, q := range quizzes {
		score := "-"
		if q.Score != nil && q.Percentage != nil {
			score = fmt.Sprintf("%d/%d (%.1f%%)", *q.Score, q.TotalQuestions, *q.Percentage)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			q.ID, q.OwnerID, q.FileType, q.GenerationSource, q.Status, score, q.CreatedAt.Format(time.DateTime))
	}
	tw.Flush()
}

func printReport(w io.Writer, result *lecturequiz.Result) {
	quiz := result.Quiz
	card := result.Scorecard

	fmt.Fprintf(w, "Quiz %s (%s, %s)\n", quiz.ID, quiz.FileType, quiz.Status)
	if quiz.Status != lecturequiz.StatusCompleted {
		fmt.Fprintln(w, "Not graded yet.")
		return
	}
	fmt.Fprintf(w, "Score: %d/%d (%.2f%%)  Time: %s\n\n", card.Score, card.Total, card.Percentage, result.TimeTaken)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tCORRECT\tACCURACY")
	for _, st := range card.ByType {
		fmt.Fprintf(tw, "%s\t%d/%d\t%.1f%%\n", st.Label, st.Correct, st.Total, st.Accuracy)
	}
	tw.Flush()

	if len(card.WeakAreas) > 0 {
		fmt.Fprintf(w, "\nWeak areas: %s\n", strings.Join(card.WeakAreas, ", "))
	}
	if len(card.StrongAreas) > 0 {
		fmt.Fprintf(w, "Strong areas: %s\n", strings.Join(card.StrongAreas, ", "))
	}

	fmt.Fprintln(w)
	for _, r := range result.Review {
		fmt.Fprintf(w, "%2d. [%s] %s\n", r.Number, r.Status, r.Prompt)
		fmt.Fprintf(w, "    answer: %s\n    expected: %s\n", r.Submitted, r.Expected)
	}

	for _, rec := range result.Recommendations {
		fmt.Fprintf(w, "\n* %s: %s\n", rec.Topic, rec.Description)
		for _, p := range rec.KeyPoints {
			fmt.Fprintf(w, "    - %s\n", p)
		}
		if rec.StudyTip != "" {
			fmt.Fprintf(w, "    tip: %s\n", rec.StudyTip)
		}
	}
}
