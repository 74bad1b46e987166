package core

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gwi.com/repo-assistant/internal/store"
)

const (
	reviewSystemPrompt = "You are an expert code reviewer. Provide a comprehensive analysis of the provided code. " +
		"Discuss functionality, design, error handling, and potential improvements."

	summarizeQuestion = "Please provide a summary of the following code."
)

// Reviewer asks the completion provider to review a piece of code.
type Reviewer struct {
	completer Completer
	opts      CompletionOptions
	logger    *zap.Logger
}

func NewReviewer(completer Completer, opts CompletionOptions, logger *zap.Logger) *Reviewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reviewer{completer: completer, opts: opts, logger: logger.Named("reviewer")}
}

// Review answers question about code. Provider errors are returned.
func (r *Reviewer) Review(ctx context.Context, question, code string) (string, error) {
	messages := []store.Message{
		{Role: store.RoleSystem, Content: reviewSystemPrompt},
		{Role: store.RoleUser, Content: fmt.Sprintf("Code context:\n%s\n\nQuestion: %s", code, question)},
	}
	out, err := r.completer.Complete(ctx, messages, r.opts)
	if err != nil {
		return "", fmt.Errorf("code review failed: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Summarize condenses code. A provider failure does not abort the caller:
// the error text is returned in place of the summary.
func (r *Reviewer) Summarize(ctx context.Context, code string) string {
	out, err := r.Review(ctx, summarizeQuestion, code)
	if err != nil {
		r.logger.Error("Error summarizing code", zap.Error(err))
		return fmt.Sprintf("Error calling completion API: %v", err)
	}
	return out
}
