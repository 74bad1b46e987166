package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"gwi.com/repo-assistant/internal/core"
	"gwi.com/repo-assistant/internal/repo"
	"gwi.com/repo-assistant/internal/store"
)

// Services are the operations exposed over HTTP.
type Services struct {
	Ingest   *core.IngestService
	RAG      *core.RAGService
	Reviewer *core.Reviewer
	Analyzer *core.Analyzer
	Chat     *core.ChatService
	Index    *store.IndexStore
}

type APIHandler struct {
	svc     Services
	repoDir string
	logger  *zap.Logger
}

func NewAPIHandler(svc Services, repoDir string, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{svc: svc, repoDir: repoDir, logger: logger.Named("api")}
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

type CloneRequest struct {
	RepoURL string `json:"repo_url"`
}

type CloneResponse struct {
	Status         string   `json:"status"`
	FilesProcessed []string `json:"files_processed"`
}

func (h *APIHandler) CloneHandler(w http.ResponseWriter, r *http.Request) {
	var req CloneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RepoURL == "" {
		writeError(w, http.StatusBadRequest, "repo_url is required")
		return
	}

	files, err := h.svc.Ingest.CloneAndReset(r.Context(), req.RepoURL, h.repoDir)
	if err != nil {
		h.logger.Error("Error in /clone", zap.String("repo_url", req.RepoURL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CloneResponse{Status: "success", FilesProcessed: files})
}

type QueryRequest struct {
	Query  string `json:"query"`
	Filter string `json:"filter,omitempty"`
}

type QueryResponse struct {
	Response string `json:"response"`
}

func (h *APIHandler) AnalyseRepositoryHandler(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	answer, err := h.svc.RAG.Answer(r.Context(), req.Query, req.Filter)
	if err != nil {
		if errors.Is(err, core.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Error in /analyse_repository", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Response: answer})
}

type AnalyzeFileRequest struct {
	Query    string `json:"query"`
	FilePath string `json:"file_path"`
}

type AnalysisResponse struct {
	Analysis string `json:"analysis"`
}

// AnalyzeFileHandler reviews one file. Relative paths are resolved against
// the cloned repository.
func (h *APIHandler) AnalyzeFileHandler(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeFileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" || req.FilePath == "" {
		writeError(w, http.StatusBadRequest, "query and file_path are required")
		return
	}

	path := req.FilePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(h.repoDir, path)
	}
	code, err := repo.ReadText(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		writeError(w, http.StatusNotFound, "File not found: "+req.FilePath)
		return
	case errors.Is(err, repo.ErrNotText):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	analysis, err := h.svc.Reviewer.Review(r.Context(), req.Query, code)
	if err != nil {
		h.logger.Error("Error in /analyze", zap.String("file_path", req.FilePath), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, AnalysisResponse{Analysis: analysis})
}

type AnalyzeRepoRequest struct {
	RepoPath string `json:"repo_path,omitempty"`
}

func (h *APIHandler) AnalyzeRepoHandler(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRepoRequest
	if r.Body != http.NoBody {
		if !decodeBody(w, r, &req) {
			return
		}
	}
	dir := req.RepoPath
	if dir == "" {
		dir = h.repoDir
	}

	analysis, err := h.svc.Analyzer.Analyze(r.Context(), dir)
	if err != nil {
		if errors.Is(err, core.ErrNoRepository) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("Error in /analyze_repo", zap.String("repo_path", dir), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, AnalysisResponse{Analysis: analysis})
}

type FilesResponse struct {
	Files   []string `json:"files"`
	Vectors int      `json:"vectors"`
}

func (h *APIHandler) ListFilesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, FilesResponse{
		Files:   h.svc.Index.SourceFiles(),
		Vectors: h.svc.Index.Count(),
	})
}

type ConversationResponse struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []store.Message `json:"messages"`
}

func (h *APIHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.Chat.CreateConversation()
	if err != nil {
		h.logger.Error("Error creating conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create conversation")
		return
	}
	writeJSON(w, http.StatusCreated, ConversationResponse{ConversationID: id, Messages: []store.Message{}})
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	messages, err := h.svc.Chat.GetConversation(conversationID)
	if err != nil {
		h.logger.Error("Error getting conversation", zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get conversation")
		return
	}
	writeJSON(w, http.StatusOK, ConversationResponse{ConversationID: conversationID, Messages: messages})
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var req PostMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	reply, err := h.svc.Chat.PostMessage(r.Context(), conversationID, req.Content)
	if err != nil {
		if errors.Is(err, core.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "Message content cannot be empty")
			return
		}
		h.logger.Error("Error posting message", zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if err := h.svc.Chat.DeleteConversation(conversationID); err != nil {
		h.logger.Error("Error deleting conversation", zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
