package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gwi.com/repo-assistant/internal/store"
)

const chatSystemPrompt = "You are an expert code reviewer. Engage in a multi-turn conversation, " +
	"using the provided conversation history to provide detailed, technical responses."

// ChatService runs multi-turn conversations grounded in the indexed repository.
type ChatService struct {
	conversations store.ConversationStore
	ragService    *RAGService
	completer     Completer
	opts          CompletionOptions
	logger        *zap.Logger
}

func NewChatService(conversations store.ConversationStore, rag *RAGService, completer Completer, opts CompletionOptions, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		conversations: conversations,
		ragService:    rag,
		completer:     completer,
		opts:          opts,
		logger:        logger.Named("chat"),
	}
}

func (s *ChatService) CreateConversation() (string, error) {
	return s.conversations.Create()
}

func (s *ChatService) GetConversation(conversationID string) ([]store.Message, error) {
	return s.conversations.Get(conversationID)
}

func (s *ChatService) DeleteConversation(conversationID string) error {
	return s.conversations.Delete(conversationID)
}

// PostMessage answers content with repository context and the earlier turns.
// The user turn and the reply are stored together once the reply exists, so a
// failed request leaves the conversation unchanged.
func (s *ChatService) PostMessage(ctx context.Context, conversationID, content string) (*store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyQuery
	}

	history, err := s.conversations.Get(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	rc, err := s.ragService.BuildContext(ctx, content, "")
	if err != nil {
		s.logger.Error("Error building context for conversation", zap.String("conversation_id", conversationID), zap.Error(err))
		return nil, err
	}

	messages := make([]store.Message, 0, len(history)+2)
	messages = append(messages, store.Message{Role: store.RoleSystem, Content: chatSystemPrompt})
	for _, m := range history {
		messages = append(messages, store.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, store.Message{Role: store.RoleUser, Content: chatTurn(rc, content)})

	reply, err := s.completer.Complete(ctx, messages, s.opts)
	if err != nil {
		s.logger.Error("Error generating reply", zap.String("conversation_id", conversationID), zap.Error(err))
		return nil, fmt.Errorf("failed to get LLM completion: %w", err)
	}
	reply = strings.TrimSpace(reply)

	if err := s.conversations.Append(conversationID, store.RoleUser, content); err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}
	if err := s.conversations.Append(conversationID, store.RoleAssistant, reply); err != nil {
		return nil, fmt.Errorf("failed to store assistant message: %w", err)
	}
	return &store.Message{Role: store.RoleAssistant, Content: reply, Timestamp: time.Now()}, nil
}

func chatTurn(rc *RetrievedContext, question string) string {
	if len(rc.Blocks) == 0 {
		return fmt.Sprintf("Based on our previous conversation (if any), and noting that no repository context matched this question, please answer: %s", question)
	}
	return fmt.Sprintf("Based on our previous conversation and the following repository context:\n\n--- CONTEXT START ---\n%s\n--- CONTEXT END ---\n\nNow, please answer my question: %s", rc.Text(), question)
}
