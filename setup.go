package lecturequiz

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
)

// NewPipelineFromConfig opens the database and builds every optional
// collaborator the configuration asks for. Optional services that cannot be
// reached are logged and left out. The returned func releases everything
// that was opened.
func NewPipelineFromConfig(ctx context.Context, cfg *Config, logger *Logger, reg prometheus.Registerer) (*QuizPipeline, func() error, error) {
	logger = logger.orNop()
	metrics := NewMetrics(reg)
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	db, err := OpenDB(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, db.CloseDB)
	if err := db.CreateTables(); err != nil {
		_ = closeAll()
		return nil, nil, fmt.Errorf("failed to create tables: %w", err)
	}

	gen, err := NewTextGenerator(ctx, cfg.AI, metrics, logger)
	if err != nil {
		_ = closeAll()
		return nil, nil, fmt.Errorf("failed to create text generator: %w", err)
	}
	if c, ok := gen.(io.Closer); ok {
		closers = append(closers, c.Close)
	}
	if gen == nil {
		logger.Info("generative service not configured, using heuristic questions and rule-based grading")
	} else {
		logger.Info("generative service configured", "provider", cfg.AI.Provider, "model", cfg.AI.Model)
	}

	var cache VerdictCache
	if cfg.Cache.RedisAddr != "" {
		rc, err := NewRedisVerdictCache(ctx, cfg.Cache, logger)
		if err != nil {
			logger.Warn("redis verdict cache unavailable, using in-memory cache", "addr", cfg.Cache.RedisAddr, "error", err)
		} else {
			cache = rc
			closers = append(closers, rc.Close)
		}
	}

	archive, err := NewUploadArchive(cfg.Archive)
	if err != nil {
		logger.Warn("upload archive unavailable", "type", cfg.Archive.Type, "error", err)
		archive = nil
	}

	extractor := NewExtractor(cfg.Extraction.RemoteParserURL, logger, metrics)
	if cfg.Extraction.MinPDFChars > 0 {
		extractor.MinPDFChars = cfg.Extraction.MinPDFChars
	}

	rng := NewRand(cfg.Quiz.Seed)
	var primary QuestionSource
	if gen != nil {
		maker := NewAIQuestionMaker(gen, rng, logger)
		if cfg.Quiz.MaxSourceChars > 0 {
			maker = maker.WithMaxSourceChars(cfg.Quiz.MaxSourceChars)
		}
		primary = maker
	}

	pipeline := NewQuizPipeline(PipelineConfig{
		Store:         db,
		Extractor:     extractor,
		Source:        NewFallbackSource(primary, NewHeuristicGenerator(rng, logger), rng, logger),
		Verifier:      NewAnswerVerifier(gen, cache, cfg.AI.VerifyTimeout, logger, metrics),
		Recommender:   NewRecommender(gen, logger),
		Archive:       archive,
		Metrics:       metrics,
		Logger:        logger,
		QuestionCount: cfg.Quiz.QuestionCount,
		TranscriptDir: cfg.Quiz.TranscriptDir,
	})
	return pipeline, closeAll, nil
}
