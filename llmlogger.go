package lecturequiz

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LLMLogger writes the prompts and responses exchanged with the generative
// text service for one quiz to log/<quizID>.log
type LLMLogger struct {
	logger *zap.Logger
	writer *lumberjack.Logger
	quizID string
}

// NewLLMLogger creates a transcript for a specific quiz under dir
func NewLLMLogger(dir, quizID string) (*LLMLogger, error) {
	if dir == "" {
		dir = "log"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(dir, fmt.Sprintf("%s.log", quizID)),
		MaxSize:    10,
		MaxBackups: 1,
	}
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "time",
		MessageKey:  "msg",
		LineEnding:  zapcore.DefaultLineEnding,
		EncodeTime:  zapcore.TimeEncoderOfLayout("15:04:05.000"),
		EncodeLevel: zapcore.CapitalLevelEncoder,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(writer), zap.DebugLevel)

	ll := &LLMLogger{
		logger: zap.New(core).With(zap.String("quiz_id", quizID)),
		writer: writer,
		quizID: quizID,
	}
	ll.logger.Info("=== Quiz Transcript ===", zap.Time("started", time.Now()))
	return ll, nil
}

// LogLLMRequest logs an LLM request
func (ll *LLMLogger) LogLLMRequest(module, prompt string) {
	if ll == nil {
		return
	}
	ll.logger.Info("=== LLM REQUEST ===", zap.String("module", module), zap.String("prompt", prompt))
}

// LogLLMResponse logs an LLM response
func (ll *LLMLogger) LogLLMResponse(module, response string) {
	if ll == nil {
		return
	}
	ll.logger.Info("=== LLM RESPONSE ===", zap.String("module", module), zap.String("response", response))
}

// LogLLMError logs a failed call
func (ll *LLMLogger) LogLLMError(module string, err error) {
	if ll == nil {
		return
	}
	ll.logger.Warn("=== LLM FAILURE ===", zap.String("module", module), zap.Error(err))
}

// LogQuestionResult logs the result of processing a question
func (ll *LLMLogger) LogQuestionResult(position int, action, reason string) {
	if ll == nil {
		return
	}
	ll.logger.Info("question", zap.Int("position", position), zap.String("action", action), zap.String("reason", reason))
}

// Close flushes and closes the transcript file
func (ll *LLMLogger) Close() error {
	if ll == nil {
		return nil
	}
	ll.logger.Info("=== Transcript Complete ===", zap.Time("completed", time.Now()))
	_ = ll.logger.Sync()
	return ll.writer.Close()
}

type llmLoggerKey struct{}

// WithLLMLogger attaches a transcript to ctx. Calls made with the returned
// context are recorded in it.
func WithLLMLogger(ctx context.Context, ll *LLMLogger) context.Context {
	if ll == nil {
		return ctx
	}
	return context.WithValue(ctx, llmLoggerKey{}, ll)
}

// llmLoggerFrom returns the transcript attached to ctx, or nil. All LLMLogger
// methods are safe on nil.
func llmLoggerFrom(ctx context.Context) *LLMLogger {
	ll, _ := ctx.Value(llmLoggerKey{}).(*LLMLogger)
	return ll
}
