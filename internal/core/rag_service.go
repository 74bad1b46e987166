package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gwi.com/repo-assistant/internal/index"
	"gwi.com/repo-assistant/internal/metrics"
	"gwi.com/repo-assistant/internal/repo"
	"gwi.com/repo-assistant/internal/store"
	"gwi.com/repo-assistant/internal/utils"
)

const (
	DefaultTopK                = 20
	DefaultSimilarityThreshold = 0.5
	DefaultSummarizeWordLimit  = 1000

	answerSystemPrompt = "You are an expert code reviewer."
)

// ErrEmptyQuery is returned for a blank question.
var ErrEmptyQuery = errors.New("query must not be empty")

// DefaultKeyFiles are always added to semantic-mode context when present.
var DefaultKeyFiles = []string{"README.md", "setup.py", "requirements.txt"}

type Mode string

const (
	ModeFile     Mode = "file"
	ModeSemantic Mode = "semantic"
)

type RAGConfig struct {
	// RepoDir is the repository snapshot searched for named and key files.
	RepoDir string
	TopK    int
	// SimilarityThreshold is compared against squared L2 distances. By default
	// candidates closer than the threshold are dropped; KeepNearest keeps only
	// candidates within it instead.
	SimilarityThreshold float32
	KeepNearest         bool
	SummarizeWordLimit  int
	KeyFiles            []string
	Completion          CompletionOptions
}

// RetrievedContext is the material gathered for one question.
type RetrievedContext struct {
	Mode   Mode
	Blocks []string
}

func (c *RetrievedContext) Text() string {
	return strings.Join(c.Blocks, "\n")
}

type RAGService struct {
	index     *store.IndexStore
	gateway   *EmbeddingGateway
	completer Completer
	reviewer  *Reviewer
	cfg       RAGConfig
	logger    *zap.Logger
}

func NewRAGService(index *store.IndexStore, gateway *EmbeddingGateway, completer Completer, reviewer *Reviewer, cfg RAGConfig, logger *zap.Logger) *RAGService {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.SummarizeWordLimit <= 0 {
		cfg.SummarizeWordLimit = DefaultSummarizeWordLimit
	}
	if cfg.KeyFiles == nil {
		cfg.KeyFiles = DefaultKeyFiles
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RAGService{
		index:     index,
		gateway:   gateway,
		completer: completer,
		reviewer:  reviewer,
		cfg:       cfg,
		logger:    logger.Named("rag"),
	}
}

// Answer retrieves context for query and asks the completion provider to
// synthesize a reply from it. Any retrieval or provider error is returned.
func (s *RAGService) Answer(ctx context.Context, query, filter string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", ErrEmptyQuery
	}
	start := time.Now()

	filter = s.resolveFilter(query, filter)
	rc, err := s.contextFor(ctx, query, filter)
	if err != nil {
		s.logger.Error("Error building context", zap.String("query", query), zap.Error(err))
		metrics.Queries.WithLabelValues(string(modeFor(filter)), "error").Inc()
		return "", err
	}

	prompt := augmentedPrompt(rc, query)
	s.logger.Debug("Final augmented prompt", zap.String("prompt", prompt))

	messages := []store.Message{
		{Role: store.RoleSystem, Content: answerSystemPrompt},
		{Role: store.RoleUser, Content: prompt},
	}
	out, err := s.completer.Complete(ctx, messages, s.cfg.Completion)
	metrics.Queries.WithLabelValues(string(rc.Mode), metrics.Result(err)).Inc()
	if err != nil {
		s.logger.Error("Error generating answer", zap.String("query", query), zap.Error(err))
		return "", fmt.Errorf("failed to get LLM completion: %w", err)
	}

	s.logger.Info("Answered query", zap.String("mode", string(rc.Mode)),
		zap.Int("blocks", len(rc.Blocks)), zap.Duration("took", time.Since(start)))
	return strings.TrimSpace(out), nil
}

// BuildContext picks the retrieval mode for query and gathers its blocks.
// A file name in the query that exists in the snapshot overrides filter.
func (s *RAGService) BuildContext(ctx context.Context, query, filter string) (*RetrievedContext, error) {
	return s.contextFor(ctx, query, s.resolveFilter(query, filter))
}

// resolveFilter returns the file name detected in query when that file exists
// in the snapshot, otherwise filter unchanged.
func (s *RAGService) resolveFilter(query, filter string) string {
	name, ok := utils.DetectFileName(query)
	if !ok {
		return filter
	}
	if _, found := repo.FindFile(s.cfg.RepoDir, name); !found {
		s.logger.Info("File name detected in query but not found in repository", zap.String("file", name))
		return filter
	}
	s.logger.Info("Detected file name in query", zap.String("file", name))
	return name
}

func (s *RAGService) contextFor(ctx context.Context, query, filter string) (*RetrievedContext, error) {
	if modeFor(filter) == ModeFile {
		return s.fileContext(ctx, filter)
	}
	return s.semanticContext(ctx, query)
}

func modeFor(filter string) Mode {
	if filter != "" {
		return ModeFile
	}
	return ModeSemantic
}

func (s *RAGService) fileContext(ctx context.Context, name string) (*RetrievedContext, error) {
	rc := &RetrievedContext{Mode: ModeFile, Blocks: []string{}}

	path, ok := repo.FindFile(s.cfg.RepoDir, name)
	if !ok {
		s.logger.Warn("No matching file found for filter", zap.String("filter", name))
		return rc, nil
	}
	content, err := repo.ReadText(path)
	if err != nil {
		return nil, err
	}
	if content == "" {
		s.logger.Warn("File is empty", zap.String("path", path))
		return rc, nil
	}

	if utils.WordCount(content) > s.cfg.SummarizeWordLimit {
		s.logger.Info("File is long, summarizing its content", zap.String("path", path))
		content = s.reviewer.Summarize(ctx, content)
	}
	rc.Blocks = append(rc.Blocks, fullFileBlock(path, content))
	return rc, nil
}

func (s *RAGService) semanticContext(ctx context.Context, query string) (*RetrievedContext, error) {
	rc := &RetrievedContext{Mode: ModeSemantic, Blocks: []string{}}

	vec, err := s.gateway.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get query embedding: %w", err)
	}
	ids, distances, err := s.index.Search(vec, s.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	for i, id := range ids {
		if id == index.NotFound || !s.keep(distances[i]) {
			continue
		}
		meta, ok := s.index.Lookup(id)
		if !ok {
			continue
		}
		rc.Blocks = append(rc.Blocks, fmt.Sprintf("**%s**:\n%s\n", meta.FileChunkID, meta.ChunkText))
	}
	s.logger.Info("Retrieved chunks from index", zap.Int("kept", len(rc.Blocks)), zap.Int("candidates", len(ids)))

	for _, name := range s.cfg.KeyFiles {
		path, ok := repo.FindFirst(s.cfg.RepoDir, name)
		if !ok {
			continue
		}
		content, err := repo.ReadText(path)
		if err != nil {
			s.logger.Warn("Skipping key file", zap.String("path", path), zap.Error(err))
			continue
		}
		if content != "" {
			rc.Blocks = append(rc.Blocks, fullFileBlock(path, content))
		}
	}
	return rc, nil
}

func (s *RAGService) keep(distance float32) bool {
	if s.cfg.KeepNearest {
		return distance < s.cfg.SimilarityThreshold
	}
	return distance >= s.cfg.SimilarityThreshold
}

func fullFileBlock(path, content string) string {
	return fmt.Sprintf("**%s (full file)**:\n%s\n", path, content)
}

func augmentedPrompt(rc *RetrievedContext, query string) string {
	return "You are an expert code reviewer. Based on the following repository context, " +
		"provide a comprehensive analysis covering the project's purpose, structure, dependencies, " +
		"and notable features.\n\n" +
		"Retrieved Context:\n" + rc.Text() + "\n\n" +
		"Question: " + query + "\n\n" +
		"If the context is limited, please synthesize a complete overview from the available information."
}
