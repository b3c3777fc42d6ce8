package lecturequiz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	maxRecommendations       = 3
	recommendationExcerpt    = 2000
	defaultRecommendTopic    = "Study Recommendation"
	defaultRecommendDescribe = "Focus on improving this area"
)

// Recommender asks the generative service for study advice on weak areas.
// Every failure degrades to an empty list.
type Recommender struct {
	gen    TextGenerator
	logger *Logger
}

func NewRecommender(gen TextGenerator, logger *Logger) *Recommender {
	return &Recommender{gen: gen, logger: logger.orNop()}
}

// Recommend returns up to three recommendations, or none when there are no
// weak areas, the score is 90% or more, or the service is unavailable
func (r *Recommender) Recommend(ctx context.Context, weakAreas []string, percentage float64, sourceText string) []StudyRecommendation {
	if r == nil || r.gen == nil || len(weakAreas) == 0 || percentage >= recommendBelowScore {
		return []StudyRecommendation{}
	}

	transcript := llmLoggerFrom(ctx)
	prompt := buildRecommendationPrompt(weakAreas, percentage, sourceText)
	transcript.LogLLMRequest("recommender", prompt)

	resp, err := r.gen.Generate(ctx, GenerateRequest{
		Prompt:      prompt,
		Temperature: 0.7,
		MaxTokens:   1500,
		JSON:        true,
	})
	if err != nil {
		transcript.LogLLMError("recommender", err)
		r.logger.Warn("study recommendations unavailable", "error", err)
		return []StudyRecommendation{}
	}
	transcript.LogLLMResponse("recommender", resp)

	recs, err := parseRecommendations(resp)
	if err != nil {
		r.logger.Warn("study recommendations malformed", "error", err)
		return []StudyRecommendation{}
	}
	return recs
}

func buildRecommendationPrompt(weakAreas []string, percentage float64, sourceText string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Student scored %.1f%% on a quiz. Weak in: %s\n\n", percentage, strings.Join(weakAreas, ", ")))
	sb.WriteString("Content (from the lecture document):\n")
	sb.WriteString(truncateRunes(sourceText, recommendationExcerpt))
	sb.WriteString("\n\n")
	sb.WriteString("Generate 2-3 CONCISE study recommendations. JSON only:\n")
	sb.WriteString(`{"recommendations": [{"topic": "Topic from the content", "description": "What to review (1 sentence)", "key_points": ["Point 1", "Point 2", "Point 3"], "study_tips": "How to study this (1 sentence)"}]}`)
	return sb.String()
}

type rawRecommendation struct {
	Topic       flexString   `json:"topic"`
	Title       flexString   `json:"title"`
	Description flexString   `json:"description"`
	KeyPoints   []flexString `json:"key_points"`
	StudyTips   flexString   `json:"study_tips"`
	StudyTip    flexString   `json:"study_tip"`
}

func parseRecommendations(resp string) ([]StudyRecommendation, error) {
	body := stripCodeFence(resp)

	var payload struct {
		Recommendations []json.RawMessage `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		var bare []json.RawMessage
		if errArr := json.Unmarshal([]byte(body), &bare); errArr != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		payload.Recommendations = bare
	}

	recs := make([]StudyRecommendation, 0, maxRecommendations)
	for _, raw := range payload.Recommendations {
		if len(recs) == maxRecommendations {
			break
		}
		var rr rawRecommendation
		if err := json.Unmarshal(raw, &rr); err != nil {
			continue
		}
		rec := StudyRecommendation{
			Topic:       firstNonEmpty(rr.Topic, rr.Title),
			Description: firstNonEmpty(rr.Description),
			KeyPoints:   make([]string, 0, len(rr.KeyPoints)),
			StudyTip:    firstNonEmpty(rr.StudyTips, rr.StudyTip),
		}
		if rec.Topic == "" {
			rec.Topic = defaultRecommendTopic
		}
		if rec.Description == "" {
			rec.Description = defaultRecommendDescribe
		}
		for _, p := range rr.KeyPoints {
			if s := strings.TrimSpace(string(p)); s != "" {
				rec.KeyPoints = append(rec.KeyPoints, s)
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// EncodeRecommendations serializes recommendations for storage on a quiz
func EncodeRecommendations(recs []StudyRecommendation) string {
	if len(recs) == 0 {
		return ""
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return ""
	}
	return string(b)
}

// DecodeRecommendations reads recommendations stored on a quiz. Unreadable
// values decode to an empty list.
func DecodeRecommendations(stored string) []StudyRecommendation {
	recs := []StudyRecommendation{}
	if strings.TrimSpace(stored) == "" {
		return recs
	}
	if err := json.Unmarshal([]byte(stored), &recs); err != nil {
		return []StudyRecommendation{}
	}
	return recs
}
