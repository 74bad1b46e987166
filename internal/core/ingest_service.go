package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gwi.com/repo-assistant/internal/metrics"
	"gwi.com/repo-assistant/internal/repo"
	"gwi.com/repo-assistant/internal/store"
	"gwi.com/repo-assistant/internal/utils"
)

type IngestConfig struct {
	// Extensions selects the files that are indexed, e.g. ".py".
	Extensions []string
	// EmbedConcurrency bounds in-flight embedding calls per file.
	EmbedConcurrency int
}

// IngestService turns a repository snapshot into index entries.
type IngestService struct {
	index   *store.IndexStore
	gateway *EmbeddingGateway
	chunker *utils.Chunker
	cloner  repo.Cloner
	cfg     IngestConfig
	logger  *zap.Logger
}

func NewIngestService(index *store.IndexStore, gateway *EmbeddingGateway, chunker *utils.Chunker, cloner repo.Cloner, cfg IngestConfig, logger *zap.Logger) *IngestService {
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{
		index:   index,
		gateway: gateway,
		chunker: chunker,
		cloner:  cloner,
		cfg:     cfg,
		logger:  logger.Named("ingest"),
	}
}

// CloneAndReset drops the current index, clones repoURL into targetDir and
// ingests it. A clone failure aborts before any file is processed.
func (s *IngestService) CloneAndReset(ctx context.Context, repoURL, targetDir string) ([]string, error) {
	if err := s.index.Purge(); err != nil {
		return nil, fmt.Errorf("failed to reset index: %w", err)
	}
	s.logger.Info("Cleared index state", zap.String("repo_url", repoURL))

	if err := s.cloner.Clone(ctx, repoURL, targetDir); err != nil {
		s.logger.Error("Clone failed", zap.String("repo_url", repoURL), zap.Error(err))
		return nil, err
	}
	return s.ProcessFiles(ctx, targetDir)
}

// ProcessFiles ingests every eligible file under dir and returns the paths
// that made it into the index. Failing files are logged and skipped.
func (s *IngestService) ProcessFiles(ctx context.Context, dir string) ([]string, error) {
	start := time.Now()
	processed := []string{}

	err := repo.Walk(dir, s.cfg.Extensions, func(path string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.processFile(ctx, path); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("Error processing file", zap.String("path", path), zap.Error(err))
			metrics.FilesIngested.WithLabelValues("failed").Inc()
			return nil
		}
		metrics.FilesIngested.WithLabelValues("processed").Inc()
		processed = append(processed, path)
		return nil
	})
	if err != nil {
		return processed, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	s.logger.Info("Processed repository files",
		zap.String("dir", dir), zap.Int("files", len(processed)), zap.Duration("took", time.Since(start)))
	return processed, nil
}

func (s *IngestService) processFile(ctx context.Context, path string) error {
	content, err := repo.ReadText(path)
	if err != nil {
		return err
	}

	chunks := s.chunker.Split(content)
	if len(chunks) == 0 {
		s.logger.Debug("File has no content", zap.String("path", path))
		return nil
	}

	records := make([]*store.EmbeddingRecord, len(chunks))
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.EmbedConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			chunkID := utils.ChunkID(path, i)
			vec, err := s.gateway.Embed(ctx, chunk)
			metrics.ChunksEmbedded.WithLabelValues(metrics.Result(err)).Inc()
			if err != nil {
				s.logger.Warn("Skipping chunk", zap.String("file_chunk_id", chunkID), zap.Error(err))
				return nil
			}
			records[i] = &store.EmbeddingRecord{Vector: vec, ChunkID: chunkID, ChunkText: chunk}
			return nil
		})
	}
	g.Wait()

	batch := make([]store.EmbeddingRecord, 0, len(records))
	for _, r := range records {
		if r != nil {
			batch = append(batch, *r)
		}
	}
	if len(batch) == 0 {
		return errors.New("no chunk could be embedded")
	}

	if _, err := s.index.Add(batch); err != nil {
		return err
	}
	s.logger.Info("Processed file", zap.String("path", path),
		zap.Int("chunks", len(chunks)), zap.Int("embedded", len(batch)))
	return nil
}
