package lecturequiz

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	AI         AIConfig
	Quiz       QuizConfig
	Extraction ExtractionConfig
	Cache      CacheConfig
	Archive    ArchiveConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port          string
	Mode          string
	SessionSecret string `mapstructure:"session_secret"`
	MaxUploadMB   int    `mapstructure:"max_upload_mb"`
}

type DatabaseConfig struct {
	Path string
}

type AIConfig struct {
	// Provider is openai, gemini or none
	Provider      string
	OpenAIKey     string        `mapstructure:"openai_api_key"`
	GeminiKey     string        `mapstructure:"gemini_api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	Timeout       time.Duration `mapstructure:"timeout"`
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
}

type QuizConfig struct {
	QuestionCount  int    `mapstructure:"question_count"`
	MaxSourceChars int    `mapstructure:"max_source_chars"`
	Seed           int64  `mapstructure:"seed"`
	TranscriptDir  string `mapstructure:"transcript_dir"`
}

type ExtractionConfig struct {
	RemoteParserURL string `mapstructure:"remote_parser_url"`
	MinPDFChars     int    `mapstructure:"min_pdf_chars"`
}

type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type ArchiveConfig struct {
	// Type is none, local or minio
	Type           string
	LocalPath      string `mapstructure:"local_path"`
	MinioEndpoint  string `mapstructure:"minio_endpoint"`
	MinioAccessKey string `mapstructure:"minio_access_key"`
	MinioSecretKey string `mapstructure:"minio_secret_key"`
	MinioBucket    string `mapstructure:"minio_bucket"`
	MinioUseSSL    bool   `mapstructure:"minio_use_ssl"`
}

type LogConfig struct {
	Mode string
	File string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.session_secret", "lecturequiz-dev-session-secret")
	v.SetDefault("server.max_upload_mb", 32)

	v.SetDefault("database.path", "lecturequiz.db")

	v.SetDefault("ai.provider", "")
	v.SetDefault("ai.openai_api_key", "")
	v.SetDefault("ai.gemini_api_key", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.timeout", 90*time.Second)
	v.SetDefault("ai.verify_timeout", 20*time.Second)

	v.SetDefault("quiz.question_count", DefaultQuestionCount)
	v.SetDefault("quiz.max_source_chars", defaultMaxSourceChars)
	v.SetDefault("quiz.seed", 0)
	v.SetDefault("quiz.transcript_dir", "log")

	v.SetDefault("extraction.remote_parser_url", "")
	v.SetDefault("extraction.min_pdf_chars", MinUsefulPDFChars)

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", 24*time.Hour)

	v.SetDefault("archive.type", "none")
	v.SetDefault("archive.local_path", "uploads")
	v.SetDefault("archive.minio_endpoint", "")
	v.SetDefault("archive.minio_access_key", "")
	v.SetDefault("archive.minio_secret_key", "")
	v.SetDefault("archive.minio_bucket", "lecture-uploads")
	v.SetDefault("archive.minio_use_ssl", false)

	v.SetDefault("log.mode", "dev")
	v.SetDefault("log.file", "")
}

// LoadConfig reads config.yaml from path (optional), a .env file (optional)
// and the environment. Environment variables win.
func LoadConfig(path string) (*Config, error) {
	// .env is optional; a missing file is not an error
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("configs")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("LECTUREQUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Well-known names used without the prefix
	v.BindEnv("ai.openai_api_key", "LECTUREQUIZ_AI_OPENAI_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("ai.gemini_api_key", "LECTUREQUIZ_AI_GEMINI_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("ai.base_url", "LECTUREQUIZ_AI_BASE_URL", "OPENAI_BASE_URL")
	v.BindEnv("server.port", "LECTUREQUIZ_SERVER_PORT", "PORT")
	v.BindEnv("cache.redis_addr", "LECTUREQUIZ_CACHE_REDIS_ADDR", "REDIS_ADDR")
	v.BindEnv("archive.minio_endpoint", "LECTUREQUIZ_ARCHIVE_MINIO_ENDPOINT", "MINIO_ENDPOINT")
	v.BindEnv("archive.minio_access_key", "LECTUREQUIZ_ARCHIVE_MINIO_ACCESS_KEY", "MINIO_ACCESS_KEY")
	v.BindEnv("archive.minio_secret_key", "LECTUREQUIZ_ARCHIVE_MINIO_SECRET_KEY", "MINIO_SECRET_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.AI.Provider = resolveProvider(cfg.AI)
	if cfg.Quiz.QuestionCount <= 0 {
		cfg.Quiz.QuestionCount = DefaultQuestionCount
	}
	if cfg.Server.Mode == "release" && len(cfg.Server.SessionSecret) < 32 {
		return nil, fmt.Errorf("session secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.Server.SessionSecret))
	}
	return &cfg, nil
}

// resolveProvider picks the provider when none is configured: openai if an
// OpenAI key is present, then gemini, else none
func resolveProvider(ai AIConfig) string {
	p := strings.ToLower(strings.TrimSpace(ai.Provider))
	switch p {
	case "openai", "gemini", "none":
		return p
	}
	switch {
	case ai.OpenAIKey != "":
		return "openai"
	case ai.GeminiKey != "":
		return "gemini"
	default:
		return "none"
	}
}
