package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xaenox/prospect-bot/internal/models"
)

const (
	minLLMTimeout     = 10 * time.Second
	maxLLMTimeout     = 30 * time.Second
	defaultLLMTimeout = 20 * time.Second
)

// ChatCompleter is the part of the OpenAI client the classifier uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// GPTResponse is the JSON object the model is asked to return.
type GPTResponse struct {
	Characteristics []int   `json:"characteristics"`
	Confidence      float64 `json:"confidence"`
}

type LLMConfig struct {
	Model         string
	MaxTokens     int
	Temperature   float64
	MinConfidence float64
	Timeout       time.Duration
}

// LLMStrategy asks a chat model which of the enabled traits a message reveals.
type LLMStrategy struct {
	client ChatCompleter
	cfg    LLMConfig
	logger *zap.Logger
}

// NewGPTStrategy returns nil when apiKey is empty: no credential means keyword mode.
func NewGPTStrategy(apiKey string, cfg LLMConfig, logger *zap.Logger) *LLMStrategy {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	return NewLLMStrategy(openai.NewClient(apiKey), cfg, logger)
}

func NewLLMStrategy(client ChatCompleter, cfg LLMConfig, logger *zap.Logger) *LLMStrategy {
	switch {
	case cfg.Timeout <= 0:
		cfg.Timeout = defaultLLMTimeout
	case cfg.Timeout < minLLMTimeout:
		cfg.Timeout = minLLMTimeout
	case cfg.Timeout > maxLLMTimeout:
		cfg.Timeout = maxLLMTimeout
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	return &LLMStrategy{client: client, cfg: cfg, logger: logger}
}

// Classify returns an error for anything short of a usable answer; the
// Engine turns that into a keyword fallback.
func (s *LLMStrategy) Classify(ctx context.Context, text string, traits []models.Trait) (models.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildUserPrompt(text, traits)},
		},
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: float32(s.cfg.Temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return models.Classification{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.Classification{}, errors.New("chat completion returned no choices")
	}

	content := resp.Choices[0].Message.Content
	parsed, err := ParseResponse(content)
	if err != nil {
		s.logger.Debug("Unparseable LLM response", zap.String("response", content))
		return models.Classification{}, err
	}
	if parsed.Confidence < s.cfg.MinConfidence {
		return models.Classification{}, fmt.Errorf("confidence %.2f below minimum %.2f", parsed.Confidence, s.cfg.MinConfidence)
	}

	met := MapIndices(parsed.Characteristics, traits)
	return models.Classification{
		MatchPoints: len(met),
		MetTraits:   met,
		Strategy:    models.StrategyLLM,
		Confidence:  parsed.Confidence,
	}, nil
}

// ParseResponse decodes the model output, tolerating a fenced code block around the JSON.
func ParseResponse(content string) (GPTResponse, error) {
	raw := strings.TrimSpace(content)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```")
		// Drop the language tag line, whatever its case.
		if nl := strings.IndexByte(raw, '\n'); nl >= 0 && !strings.Contains(raw[:nl], "{") {
			raw = raw[nl+1:]
		}
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
		raw = strings.TrimSpace(raw)
	}

	var resp GPTResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return GPTResponse{}, fmt.Errorf("parse LLM response: %w", err)
	}
	return resp, nil
}

// MapIndices turns 1-based trait indices into names in trait order.
// Out-of-range and repeated indices are ignored.
func MapIndices(indices []int, traits []models.Trait) []string {
	picked := make([]bool, len(traits))
	for _, idx := range indices {
		if idx >= 1 && idx <= len(traits) {
			picked[idx-1] = true
		}
	}

	met := []string{}
	for i, ok := range picked {
		if ok {
			met = append(met, traits[i].Name)
		}
	}
	return met
}
