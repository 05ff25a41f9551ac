package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"talbashan.ai/assistant/internal/auth"
	"talbashan.ai/assistant/internal/core"
	"talbashan.ai/assistant/internal/logger"
	"talbashan.ai/assistant/internal/memory"
	"talbashan.ai/assistant/internal/store"
)

type ctxKey string

const userIDKey ctxKey = "userID"

type APIHandler struct {
	query     *core.QueryService
	indexer   *core.Indexer
	memorySvc *core.MemoryService
	chat      *core.ChatService
	jwtSecret []byte
}

func NewAPIHandler(query *core.QueryService, indexer *core.Indexer, memorySvc *core.MemoryService, chat *core.ChatService, jwtSecret []byte) *APIHandler {
	return &APIHandler{
		query:     query,
		indexer:   indexer,
		memorySvc: memorySvc,
		chat:      chat,
		jwtSecret: jwtSecret,
	}
}

// AuthMiddleware resolves the acting user from a bearer token. Identity
// provisioning itself lives outside this service.
func (h *APIHandler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := auth.ValidateToken(h.jwtSecret, tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestUserID(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

// writeError maps service errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error, context string) {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, memory.ErrMalformedExtraction):
		logger.Error(context, "error", err)
		http.Error(w, "memory extraction produced invalid output", http.StatusBadGateway)
	default:
		logger.Error(context, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

type QueryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
	TopN     int    `json:"top_n,omitempty"`
}

func (h *APIHandler) QueryHandler(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.query.Answer(r.Context(), req.Question, req.TopK, req.TopN)
	if err != nil {
		writeError(w, err, "query failed")
		return
	}
	json.NewEncoder(w).Encode(result)
}

type IndexRequest struct {
	Chunks []core.ChunkInput `json:"chunks"`
}

func (h *APIHandler) IndexHandler(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Chunks) == 0 {
		http.Error(w, "chunks must not be empty", http.StatusBadRequest)
		return
	}

	report := h.indexer.IndexChunks(r.Context(), req.Chunks)
	json.NewEncoder(w).Encode(report)
}

type MemoryUpdateRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	MemoryType     string `json:"memory_type,omitempty"`
}

func (h *APIHandler) MemoryUpdateHandler(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	var req MemoryUpdateRequest
	if r.Body != http.NoBody {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	doc, err := h.memorySvc.UpdateFromConversation(r.Context(), userID, req.ConversationID, req.MemoryType)
	if err != nil {
		writeError(w, err, "memory update failed")
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"last_updated": doc.LastUpdated,
	})
}

func (h *APIHandler) GetMemoryHandler(w http.ResponseWriter, r *http.Request) {
	doc, err := h.memorySvc.LoadDocument(requestUserID(r))
	if err != nil {
		writeError(w, err, "memory load failed")
		return
	}
	json.NewEncoder(w).Encode(doc)
}

type CreateConversationRequest struct {
	FirstMessage *string `json:"first_message,omitempty"`
}

type CreateConversationResponse struct {
	*store.Conversation
	Messages []store.Message `json:"messages,omitempty"`
}

func (h *APIHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	var req CreateConversationRequest
	if r.Body != http.NoBody {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	conv, messages, err := h.chat.CreateConversation(r.Context(), userID, req.FirstMessage)
	if err != nil {
		writeError(w, err, "conversation creation failed")
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateConversationResponse{
		Conversation: conv,
		Messages:     messages,
	})
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.chat.GetConversations(requestUserID(r))
	if err != nil {
		writeError(w, err, "conversation listing failed")
		return
	}
	json.NewEncoder(w).Encode(conversations)
}

type ConversationDetailsResponse struct {
	*store.Conversation
	Messages []store.Message `json:"messages"`
}

func (h *APIHandler) GetConversationDetailsHandler(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	conversationID := chi.URLParam(r, "conversationID")

	conv, messages, err := h.chat.GetConversationDetails(conversationID, userID)
	if err != nil {
		writeError(w, err, "conversation details failed")
		return
	}
	if conv == nil {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(ConversationDetailsResponse{
		Conversation: conv,
		Messages:     messages,
	})
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	conversationID := chi.URLParam(r, "conversationID")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	modelMessage, err := h.chat.PostMessage(r.Context(), conversationID, userID, req.Content)
	if err != nil {
		writeError(w, err, "message posting failed")
		return
	}
	json.NewEncoder(w).Encode(modelMessage)
}
