package core

import (
	"context"
	"fmt"
	"strings"

	"talbashan.ai/assistant/internal/logger"
	"talbashan.ai/assistant/internal/memory"
	"talbashan.ai/assistant/internal/store"
)

const (
	historyWindow = 5

	titleTemperature = 0.3
	titleMaxTokens   = 20

	titleSystemInstruction = "You are a helpful assistant that generates concise titles for chat conversations. " +
		"The title should be 3-5 words maximum. Just return the title itself, nothing else."
)

// ChatService is the conversational consumer of the retrieval-and-memory
// core: every reply is grounded in retrieved passages and personalized
// with the user's long-term memory summary.
type ChatService struct {
	db          *store.SQLiteStore
	retriever   *Retriever
	reranker    *Reranker
	synthesizer *Synthesizer
	llm         Generator
	memorySvc   *MemoryService

	topK int
	topN int
}

func NewChatService(db *store.SQLiteStore, retriever *Retriever, reranker *Reranker, synthesizer *Synthesizer, llm Generator, memorySvc *MemoryService, topK, topN int) *ChatService {
	return &ChatService{
		db:          db,
		retriever:   retriever,
		reranker:    reranker,
		synthesizer: synthesizer,
		llm:         llm,
		memorySvc:   memorySvc,
		topK:        topK,
		topN:        topN,
	}
}

func (s *ChatService) CreateConversation(ctx context.Context, userID string, firstMessageContent *string) (*store.Conversation, []store.Message, error) {
	conv, err := s.db.CreateConversation(userID, nil) // Title will be generated later
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	var messages []store.Message

	if firstMessageContent != nil && *firstMessageContent != "" {
		modelMsg, userMsg, err := s.exchange(ctx, conv.ID, userID, *firstMessageContent)
		if err != nil {
			logger.Error("failed initial exchange", "conversation", conv.ID, "error", err)
			return conv, messages, nil
		}
		messages = append(messages, *userMsg, *modelMsg)

		go s.generateAndSaveTitle(conv.ID, userID, *firstMessageContent)
	}

	return conv, messages, nil
}

func (s *ChatService) GetConversations(userID string) ([]store.Conversation, error) {
	return s.db.GetConversationsByUserID(userID)
}

func (s *ChatService) GetConversationDetails(conversationID, userID string) (*store.Conversation, []store.Message, error) {
	conv, err := s.db.GetConversationByID(conversationID, userID)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil {
		return nil, nil, nil // Not found
	}

	messages, err := s.db.GetMessagesByConversationID(conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return conv, messages, nil
}

// PostMessage stores the user's message, produces a grounded reply, and
// stores that too.
func (s *ChatService) PostMessage(ctx context.Context, conversationID, userID, content string) (*store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: message content must not be empty", ErrInvalidInput)
	}

	conv, err := s.db.GetConversationByID(conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}

	modelMsg, _, err := s.exchange(ctx, conversationID, userID, content)
	if err != nil {
		return nil, err
	}

	if conv.Title == nil || *conv.Title == "" {
		go s.generateAndSaveTitle(conversationID, userID, content)
	}

	return modelMsg, nil
}

// exchange runs one user turn end to end: persist the user message, load
// the memory document, run retrieve → rerank → synthesize with the memory
// summary and recent history in the prompt, persist the reply.
func (s *ChatService) exchange(ctx context.Context, conversationID, userID, content string) (*store.Message, *store.Message, error) {
	history, err := s.db.GetLastNMessagesByConversationID(conversationID, historyWindow)
	if err != nil {
		logger.Error("failed to load history, proceeding without it", "conversation", conversationID, "error", err)
		history = nil
	}

	userMsg := store.Message{
		ConversationID: conversationID,
		Sender:         "user",
		Content:        content,
	}
	if err := s.db.CreateMessage(&userMsg); err != nil {
		return nil, nil, fmt.Errorf("failed to store user message: %w", err)
	}

	doc, err := s.memorySvc.LoadDocument(userID)
	if err != nil {
		logger.Error("failed to load memory document, proceeding without it", "user", userID, "error", err)
		doc = memory.NewDocument(userID)
	}

	answer := s.groundedAnswer(ctx, content, doc.MemorySummary, history)

	modelMsg := store.Message{
		ConversationID: conversationID,
		Sender:         "model",
		Content:        answer,
	}
	if err := s.db.CreateMessage(&modelMsg); err != nil {
		return nil, nil, fmt.Errorf("failed to store model message: %w", err)
	}

	return &modelMsg, &userMsg, nil
}

func (s *ChatService) groundedAnswer(ctx context.Context, question, memorySummary string, history []store.Message) string {
	candidates, err := s.retriever.Retrieve(ctx, question, s.topK)
	if err != nil {
		logger.Error("retrieval failed", "error", err)
		return "I'm sorry, I encountered an error while processing your request."
	}

	ranked, err := s.reranker.Rerank(ctx, question, candidates, s.topN)
	if err != nil {
		logger.Error("reranking failed", "error", err)
		return "I'm sorry, I encountered an error while processing your request."
	}

	turns := make([]memory.Turn, len(history))
	for i, msg := range history {
		turns[i] = memory.Turn{Role: msg.Sender, Content: msg.Content}
	}

	answer, _, err := s.synthesizer.SynthesizeWithMemory(ctx, question, ranked, memorySummary, turns)
	if err != nil {
		logger.Error("answer synthesis failed", "error", err)
		return "I'm sorry, I encountered an error while processing your request."
	}
	return answer
}

func (s *ChatService) generateAndSaveTitle(conversationID, userID, basisContent string) {
	ctx := context.Background()

	prompt := fmt.Sprintf("Generate a very concise title (3-5 words maximum) for a conversation that starts with or is about: %q.", basisContent)
	title, err := s.llm.GenerateText(ctx, titleSystemInstruction, prompt, titleTemperature, titleMaxTokens)
	if err != nil {
		logger.Error("failed to generate title", "conversation", conversationID, "error", err)
		return
	}
	title = strings.Trim(title, "\"'\n\r\t .")
	if title == "" {
		return
	}

	if err := s.db.UpdateConversationTitle(conversationID, userID, title); err != nil {
		logger.Error("failed to save title", "conversation", conversationID, "error", err)
	}
}
