package lecturequiz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/option"
)

// GenerateRequest is one call to a generative text service
type GenerateRequest struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
	// JSON asks the service for a JSON object response
	JSON bool
}

// TextGenerator is an external, non-deterministic text completion service
type TextGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

const (
	defaultOpenAIModel = openai.GPT4oMini
	defaultGeminiModel = "gemini-2.0-flash"
)

// OpenAIGenerator calls an OpenAI-compatible chat completion endpoint
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator creates a generator. baseURL may point at any
// OpenAI-compatible server; empty uses the default endpoint.
func NewOpenAIGenerator(apiKey, baseURL, model string) *OpenAIGenerator {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := g.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// GeminiGenerator calls Google's Gemini API
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a Gemini client
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	// settings live on a per-call model handle
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(req.Temperature)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	text := geminiText(resp)
	if text == "" {
		return "", fmt.Errorf("empty Gemini response")
	}
	return text, nil
}

func geminiText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

// meteredGenerator bounds each call with a timeout and records its duration
// and failures
type meteredGenerator struct {
	next     TextGenerator
	provider string
	timeout  time.Duration
	metrics  *Metrics
	logger   *Logger
}

// withObservation wraps gen with per-call timeout, metrics and logging
func withObservation(gen TextGenerator, provider string, timeout time.Duration, metrics *Metrics, logger *Logger) TextGenerator {
	if gen == nil {
		return nil
	}
	return &meteredGenerator{next: gen, provider: provider, timeout: timeout, metrics: metrics, logger: logger.orNop()}
}

// Close releases the wrapped generator when it holds a client
func (m *meteredGenerator) Close() error {
	if c, ok := m.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (m *meteredGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := m.next.Generate(ctx, req)
	m.metrics.observeExternalCall(m.provider, start)
	if err != nil {
		m.metrics.observeFailure(m.provider)
		m.logger.Warn("generative text call failed", "provider", m.provider, "elapsed", time.Since(start), "error", err)
		return "", err
	}
	m.logger.Debug("generative text call finished", "provider", m.provider, "elapsed", time.Since(start), "chars", len(out))
	return out, nil
}

// NewTextGenerator builds the configured generator. It returns nil, nil when
// no provider is configured, which is a supported mode.
func NewTextGenerator(ctx context.Context, cfg AIConfig, metrics *Metrics, logger *Logger) (TextGenerator, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIKey == "" && cfg.BaseURL == "" {
			return nil, nil
		}
		gen := NewOpenAIGenerator(cfg.OpenAIKey, cfg.BaseURL, cfg.Model)
		return withObservation(gen, "openai", cfg.Timeout, metrics, logger), nil
	case "gemini":
		if cfg.GeminiKey == "" {
			return nil, nil
		}
		gen, err := NewGeminiGenerator(ctx, cfg.GeminiKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return withObservation(gen, "gemini", cfg.Timeout, metrics, logger), nil
	case "", "none":
		return nil, nil
	default:
		return nil, errors.New("unknown ai provider: " + cfg.Provider)
	}
}

// stripCodeFence removes a surrounding markdown code fence, if any
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		if tag := strings.TrimSpace(s[:nl]); !strings.ContainsAny(tag, "{[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
