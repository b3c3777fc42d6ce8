package lecturequiz

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"OPENAI_API_KEY", "GEMINI_API_KEY", "OPENAI_BASE_URL", "PORT", "REDIS_ADDR"} {
		t.Setenv(name, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearProviderEnv(t)
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, 32, cfg.Server.MaxUploadMB)
	assert.Equal(t, DefaultQuestionCount, cfg.Quiz.QuestionCount)
	assert.Equal(t, MinUsefulPDFChars, cfg.Extraction.MinPDFChars)
	assert.Equal(t, 90*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "none", cfg.AI.Provider)
	assert.Equal(t, "none", cfg.Archive.Type)
}

func TestLoadConfigFileAndEnvironment(t *testing.T) {
	clearProviderEnv(t)
	dir := t.TempDir()
	yaml := `
quiz:
  question_count: 10
  seed: 7
ai:
  timeout: 30s
archive:
  type: local
  local_path: /tmp/uploads
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("LECTUREQUIZ_SERVER_PORT", "9090")
	t.Setenv("LECTUREQUIZ_QUIZ_SEED", "11")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Quiz.QuestionCount)
	assert.Equal(t, int64(11), cfg.Quiz.Seed)
	assert.Equal(t, 30*time.Second, cfg.AI.Timeout)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "local", cfg.Archive.Type)
	assert.Equal(t, "/tmp/uploads", cfg.Archive.LocalPath)
}

func TestLoadConfigProviderFromWellKnownKeys(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, "sk-test", cfg.AI.OpenAIKey)

	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "gm-test")
	cfg, err = LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.AI.Provider)
}

func TestLoadConfigRejectsShortSecretInRelease(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("LECTUREQUIZ_SERVER_MODE", "release")
	t.Setenv("LECTUREQUIZ_SERVER_SESSION_SECRET", "short")
	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)

	t.Setenv("LECTUREQUIZ_SERVER_SESSION_SECRET", "0123456789abcdef0123456789abcdef")
	_, err = LoadConfig(t.TempDir())
	assert.NoError(t, err)
}

func TestResolveProvider(t *testing.T) {
	assert.Equal(t, "gemini", resolveProvider(AIConfig{Provider: " Gemini ", OpenAIKey: "x"}))
	assert.Equal(t, "none", resolveProvider(AIConfig{Provider: "none", OpenAIKey: "x"}))
	assert.Equal(t, "openai", resolveProvider(AIConfig{Provider: "unknown", OpenAIKey: "x"}))
	assert.Equal(t, "none", resolveProvider(AIConfig{}))
}
