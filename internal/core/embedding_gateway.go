package core

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gwi.com/repo-assistant/internal/metrics"
	"gwi.com/repo-assistant/internal/ratelimit"
)

// ErrDimensionMismatch is returned when the provider's vector does not have
// the configured length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// EmbeddingGateway paces embedding calls and enforces the vector length.
// Every call reaches the provider; nothing is cached or retried.
type EmbeddingGateway struct {
	embedder  Embedder
	limiter   *ratelimit.Limiter
	dimension int
	logger    *zap.Logger
}

func NewEmbeddingGateway(embedder Embedder, limiter *ratelimit.Limiter, dimension int, logger *zap.Logger) *EmbeddingGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingGateway{
		embedder:  embedder,
		limiter:   limiter,
		dimension: dimension,
		logger:    logger.Named("embeddings"),
	}
}

func (g *EmbeddingGateway) Dimension() int { return g.dimension }

func (g *EmbeddingGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := g.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	vec, err := g.embedder.Embed(ctx, text)
	metrics.ProviderCalls.WithLabelValues("embedding", metrics.Result(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	if len(vec) != g.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, g.dimension, len(vec))
	}
	g.logger.Debug("Generated embedding", zap.Int("text_length", len(text)))
	return vec, nil
}
