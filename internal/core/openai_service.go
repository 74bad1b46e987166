package core

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"gwi.com/repo-assistant/internal/store"
)

const (
	defaultOpenAIChatModel      = "gpt-3.5-turbo"
	defaultOpenAIEmbeddingModel = "text-embedding-ada-002"
)

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
}

// OpenAIService serves embeddings and chat completions from any
// OpenAI-compatible endpoint.
type OpenAIService struct {
	llm      *openai.LLM
	embedder *embeddings.EmbedderImpl
}

func NewOpenAIService(cfg OpenAIConfig) (*OpenAIService, error) {
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultOpenAIChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultOpenAIEmbeddingModel
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.ChatModel),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return &OpenAIService{llm: llm, embedder: embedder}, nil
}

func (s *OpenAIService) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("openai embedding request failed: %w", err)
	}
	return vec, nil
}

func (s *OpenAIService) Complete(ctx context.Context, messages []store.Message, opts CompletionOptions) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatMessageType(m.Role), m.Content))
	}

	resp, err := s.llm.GenerateContent(ctx, content,
		llms.WithTemperature(float64(opts.Temperature)),
		llms.WithMaxTokens(opts.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Content, nil
}

func chatMessageType(role string) llms.ChatMessageType {
	switch role {
	case store.RoleSystem:
		return llms.ChatMessageTypeSystem
	case store.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
