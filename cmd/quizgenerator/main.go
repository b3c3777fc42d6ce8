package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lecturequiz"
)

func main() {
	var (
		inputFile    = flag.String("file", "", "Lecture document to build the quiz from (.pdf, .ppt, .pptx)")
		numQuestions = flag.Int("questions", 0, "Number of questions to generate (default from config)")
		outputFile   = flag.String("output", "", "Output file for quiz JSON (default: stdout)")
		playMode     = flag.Bool("play", false, "Take the quiz interactively and grade it")
		owner        = flag.String("owner", "cli", "Owner id recorded on the quiz")
		configPath   = flag.String("config", "", "Directory containing config.yaml")
		dbPath       = flag.String("db", "", "SQLite database path (default from config)")
		verbose      = flag.Bool("verbose", false, "Enable verbose debugging output")
	)

	flag.Parse()

	if *inputFile == "" {
		log.Fatal("A document is required. Use -file flag.")
	}

	cfg, err := lecturequiz.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *numQuestions > 0 {
		cfg.Quiz.QuestionCount = *numQuestions
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger := lecturequiz.NewLogger(lecturequiz.LogOptions{Mode: cfg.Log.Mode, File: cfg.Log.File})
	defer logger.Sync()
	lecturequiz.SetDefaultLogger(logger)
	lecturequiz.SetVerbose(*verbose)

	content, err := os.ReadFile(*inputFile)
	if err != nil {
		log.Fatalf("Failed to read document: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pipeline, closePipeline, err := lecturequiz.NewPipelineFromConfig(ctx, cfg, logger, nil)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}
	defer closePipeline()

	lecturequiz.VerboseLog("Extracting %s (%d bytes)", *inputFile, len(content))
	quiz, err := pipeline.CreateQuizFromUpload(ctx, lecturequiz.RawDocument{
		Content:   content,
		Extension: filepath.Ext(*inputFile),
		Filename:  filepath.Base(*inputFile),
		OwnerID:   *owner,
	})
	if err != nil {
		log.Fatalf("Failed to generate quiz: %v", err)
	}
	quiz, questions, err := pipeline.GetQuizForTaking(ctx, quiz.ID)
	if err != nil {
		log.Fatalf("Failed to load quiz: %v", err)
	}

	if *playMode {
		playQuiz(ctx, pipeline, quiz, questions, os.Stdin)
		return
	}

	output, err := json.MarshalIndent(map[string]interface{}{
		"quiz":      quiz,
		"questions": questions,
	}, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal quiz: %v", err)
	}

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, output, 0644); err != nil {
			log.Fatalf("Failed to write output file: %v", err)
		}
		log.Printf("Quiz saved to: %s", *outputFile)
	} else {
		fmt.Println(string(output))
	}

	lecturequiz.VerboseLog("Quiz %s generated from %s source", quiz.ID, quiz.GenerationSource)
}

func playQuiz(ctx context.Context, pipeline *lecturequiz.QuizPipeline, quiz *lecturequiz.Quiz, questions []lecturequiz.Question, in io.Reader) {
	if _, err := pipeline.StartQuiz(ctx, quiz.ID); err != nil {
		log.Fatalf("Failed to start quiz: %v", err)
	}

	fmt.Printf("🎯 Starting quiz %s\n", quiz.ID)
	fmt.Printf("📝 Questions: %d (source: %s)\n", len(questions), quiz.GenerationSource)
	fmt.Println("Press Enter to skip a question.")
	fmt.Println()

	scanner := bufio.NewScanner(in)
	answers := make(map[int]string, len(questions))
	start := time.Now()

	for _, q := range questions {
		fmt.Printf("Question %d/%d [%s]:\n", q.Position, len(questions), q.Type.DisplayName())
		fmt.Printf("%s\n\n", q.Prompt)
		for i, option := range q.Options {
			fmt.Printf("%c) %s\n", 'A'+i, option)
		}
		if len(q.Options) > 0 {
			fmt.Println()
		}

		fmt.Print("Your answer: ")
		if !scanner.Scan() {
			break
		}
		answers[q.Position] = optionForLetter(strings.TrimSpace(scanner.Text()), q.Options)
		fmt.Println()
	}

	result, err := pipeline.SubmitAnswers(ctx, quiz.ID, answers, int(time.Since(start).Seconds()))
	if err != nil {
		log.Fatalf("Failed to grade quiz: %v", err)
	}
	printResult(os.Stdout, result)
}

// optionForLetter lets a player answer a choice question with its letter
func optionForLetter(answer string, options []string) string {
	if len(answer) != 1 || len(options) == 0 {
		return answer
	}
	idx := int(strings.ToUpper(answer)[0]) - 'A'
	if idx >= 0 && idx < len(options) {
		return options[idx]
	}
	return answer
}

func printResult(w io.Writer, result *lecturequiz.Result) {
	fmt.Fprintln(w, strings.Repeat("─", 50))
	for _, r := range result.Review {
		mark := "✅"
		if r.Status != "correct" {
			mark = "❌"
		}
		fmt.Fprintf(w, "%s %d. %s\n", mark, r.Number, r.Prompt)
		fmt.Fprintf(w, "   Your answer: %s\n", r.Submitted)
		if r.Status != "correct" {
			fmt.Fprintf(w, "   Expected: %s\n", r.Expected)
		}
		if r.Reason != "" {
			fmt.Fprintf(w, "   (%s)\n", r.Reason)
		}
	}

	card := result.Scorecard
	fmt.Fprintln(w)
	fmt.Fprintf(w, "🎉 Score: %d/%d (%.1f%%) in %s\n", card.Score, card.Total, card.Percentage, result.TimeTaken)
	for _, st := range card.ByType {
		fmt.Fprintf(w, "  %s: %d/%d (%.1f%%)\n", st.Label, st.Correct, st.Total, st.Accuracy)
	}
	if len(card.WeakAreas) > 0 {
		fmt.Fprintf(w, "📚 Weak areas: %s\n", strings.Join(card.WeakAreas, ", "))
	}
	if len(card.StrongAreas) > 0 {
		fmt.Fprintf(w, "🌟 Strong areas: %s\n", strings.Join(card.StrongAreas, ", "))
	}
	for _, rec := range result.Recommendations {
		fmt.Fprintf(w, "\n💡 %s\n   %s\n", rec.Topic, rec.Description)
		for _, p := range rec.KeyPoints {
			fmt.Fprintf(w, "   - %s\n", p)
		}
		if rec.StudyTip != "" {
			fmt.Fprintf(w, "   Tip: %s\n", rec.StudyTip)
		}
	}
}
