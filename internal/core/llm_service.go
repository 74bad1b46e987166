package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"gwi.com/repo-assistant/internal/metrics"
	"gwi.com/repo-assistant/internal/ratelimit"
	"gwi.com/repo-assistant/internal/store"
)

const (
	defaultGeminiChatModel      = "gemini-1.5-flash-latest"
	defaultGeminiEmbeddingModel = "text-embedding-004"
)

// ErrEmptyCompletion is returned when a provider answers without any text.
var ErrEmptyCompletion = errors.New("provider returned an empty completion")

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer answers an ordered list of role-tagged messages.
type Completer interface {
	Complete(ctx context.Context, messages []store.Message, opts CompletionOptions) (string, error)
}

type CompletionOptions struct {
	Temperature float32
	MaxTokens   int
}

// RateLimitedCompleter gates every call of the wrapped Completer on a shared
// token bucket.
type RateLimitedCompleter struct {
	next    Completer
	limiter *ratelimit.Limiter
}

func NewRateLimitedCompleter(next Completer, limiter *ratelimit.Limiter) *RateLimitedCompleter {
	return &RateLimitedCompleter{next: next, limiter: limiter}
}

func (c *RateLimitedCompleter) Complete(ctx context.Context, messages []store.Message, opts CompletionOptions) (string, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return "", err
	}
	out, err := c.next.Complete(ctx, messages, opts)
	metrics.ProviderCalls.WithLabelValues("completion", metrics.Result(err)).Inc()
	return out, err
}

// GeminiService talks to Google's Gemini API.
type GeminiService struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
	logger         *zap.Logger
}

func NewGeminiService(ctx context.Context, apiKey, chatModel, embeddingModel string, logger *zap.Logger) (*GeminiService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if chatModel == "" {
		chatModel = defaultGeminiChatModel
	}
	if embeddingModel == "" {
		embeddingModel = defaultGeminiEmbeddingModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiService{
		client:         client,
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		logger:         logger.Named("gemini"),
	}, nil
}

func (s *GeminiService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Error("Error closing GenAI client", zap.Error(err))
		} else {
			s.logger.Info("GenAI client closed")
		}
	}
}

func (s *GeminiService) Embed(ctx context.Context, text string) ([]float32, error) {
	em := s.client.EmbeddingModel(s.embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

// Complete maps system messages onto the model's system instruction, replays
// earlier turns as chat history and sends the final user turn.
func (s *GeminiService) Complete(ctx context.Context, messages []store.Message, opts CompletionOptions) (string, error) {
	model := s.client.GenerativeModel(s.chatModel)

	temp := opts.Temperature
	maxTokens := int32(opts.MaxTokens)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	var system []genai.Part
	var history []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case store.RoleSystem:
			system = append(system, genai.Text(m.Content))
		case store.RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{Parts: system}
	}
	if len(history) == 0 {
		return "", fmt.Errorf("prompt history is empty for chat completion")
	}

	last := history[len(history)-1]
	if last.Role != "user" {
		return "", fmt.Errorf("last message in history is not from 'user', cannot proceed with chat completion")
	}

	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]

	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyCompletion
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		} else {
			s.logger.Warn("Gemini response part was not text", zap.String("type", fmt.Sprintf("%T", part)))
		}
	}
	if responseText.Len() == 0 {
		return "", ErrEmptyCompletion
	}
	return responseText.String(), nil
}
