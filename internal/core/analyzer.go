package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gwi.com/repo-assistant/internal/repo"
)

const (
	fileSummaryQuestion = "Summarize this file"
	synthesisQuestion   = "Based on the following file summaries, provide an overall analysis of the project:"
)

// ErrNoRepository is returned when the directory to analyze does not exist.
var ErrNoRepository = errors.New("repository directory not found")

// DefaultAnalyzeExtensions lists the text and code files the analyzer reads.
var DefaultAnalyzeExtensions = []string{".py", ".js", ".ts", ".java", ".c", ".cpp", ".h", ".html", ".css", ".md", ".txt"}

type AnalyzerConfig struct {
	Extensions  []string
	Concurrency int
}

// Analyzer summarizes every file of a repository and then the summaries.
type Analyzer struct {
	reviewer *Reviewer
	cfg      AnalyzerConfig
	logger   *zap.Logger
}

func NewAnalyzer(reviewer *Reviewer, cfg AnalyzerConfig, logger *zap.Logger) *Analyzer {
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultAnalyzeExtensions
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{reviewer: reviewer, cfg: cfg, logger: logger.Named("analyzer")}
}

// Analyze returns an overall analysis of the repository under dir. Files that
// cannot be read or summarized are left out; only the final synthesis call
// can fail the analysis.
func (a *Analyzer) Analyze(ctx context.Context, dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNoRepository, dir)
	}

	var paths []string
	if err := repo.Walk(dir, a.cfg.Extensions, func(path string) error {
		paths = append(paths, path)
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	summaries := make([]string, len(paths))
	g := new(errgroup.Group)
	g.SetLimit(a.cfg.Concurrency)
	for i, path := range paths {
		g.Go(func() error {
			content, err := repo.ReadText(path)
			if err != nil {
				a.logger.Debug("Skipping unreadable file", zap.String("path", path), zap.Error(err))
				return nil
			}
			summary, err := a.reviewer.Review(ctx, fileSummaryQuestion, content)
			if err != nil {
				a.logger.Debug("Skipping file without summary", zap.String("path", path), zap.Error(err))
				return nil
			}
			summaries[i] = fmt.Sprintf("File %s summary: %s", path, summary)
			return nil
		})
	}
	g.Wait()

	lines := make([]string, 0, len(summaries))
	for _, s := range summaries {
		if s != "" {
			lines = append(lines, s)
		}
	}
	a.logger.Info("Summarized repository files", zap.String("dir", dir),
		zap.Int("files", len(paths)), zap.Int("summarized", len(lines)))

	analysis, err := a.reviewer.Review(ctx, synthesisQuestion, strings.Join(lines, "\n"))
	if err != nil {
		return "", fmt.Errorf("failed to synthesize repository analysis: %w", err)
	}
	return analysis, nil
}
