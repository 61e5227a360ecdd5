// Package service orchestrates query handling: retrieval, context assembly,
// prompting, and generation.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ymiyake/localrag/internal/embedder"
	"github.com/ymiyake/localrag/internal/llm"
	"github.com/ymiyake/localrag/internal/memory"
	"github.com/ymiyake/localrag/internal/retrieval"
	"github.com/ymiyake/localrag/internal/vectorstore"
)

// Options holds the tunables of the RAG service.
type Options struct {
	// MaxResults is the retrieval cap; the search itself over-fetches
	// beyond it so the cascade has candidates to relax into.
	MaxResults int

	Model         string
	SystemPrompt  string
	Temperature   float32
	TopP          float32
	RepeatPenalty float32
	MaxTokens     int

	EmbedTimeout    time.Duration
	SearchTimeout   time.Duration
	GenerateTimeout time.Duration
}

// QueryRequest is one question, optionally bound to a chat session.
type QueryRequest struct {
	Question  string
	SessionID string
}

// QueryResponse carries the answer and the context it was grounded on.
type QueryResponse struct {
	Answer           string
	Context          []string
	Degraded         bool
	RetrievalTimeMs  int64
	GenerationTimeMs int64
}

// Status reports the state of the fragment store.
type Status struct {
	FragmentCount int
	Fingerprint   string
}

// RAGService answers questions over the ingested corpus. A mutex
// serialises queries so each one fully resolves before the next starts.
type RAGService struct {
	mu        sync.Mutex
	embedder  embedder.Embedder
	store     vectorstore.Store
	llmClient llm.LLM
	cascade   *retrieval.Cascade
	assembler *retrieval.Assembler
	memory    *memory.Store
	options   Options
	logger    *slog.Logger
}

// NewRAGService creates a new RAGService.
func NewRAGService(
	emb embedder.Embedder,
	store vectorstore.Store,
	llmClient llm.LLM,
	cascade *retrieval.Cascade,
	assembler *retrieval.Assembler,
	options Options,
	logger *slog.Logger,
) *RAGService {
	if options.MaxResults <= 0 {
		options.MaxResults = 150
	}
	if options.SystemPrompt == "" {
		options.SystemPrompt = defaultSystemPrompt
	}

	return &RAGService{
		embedder:  emb,
		store:     store,
		llmClient: llmClient,
		cascade:   cascade,
		assembler: assembler,
		memory:    memory.DefaultStore(),
		options:   options,
		logger:    logger,
	}
}

// Query answers a question grounded on the corpus. Generation failures
// degrade to echoing the retrieved context instead of failing the request.
func (s *RAGService) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	retrievalStart := time.Now()
	texts, err := s.retrieve(ctx, question)
	if err != nil {
		return nil, err
	}
	retrievalTime := time.Since(retrievalStart)

	if len(texts) == 0 {
		return &QueryResponse{
			Answer:          NoInformationResponse,
			RetrievalTimeMs: retrievalTime.Milliseconds(),
		}, nil
	}

	contextText := s.assembler.Assemble(question, texts)

	var history []memory.Message
	if req.SessionID != "" {
		history = s.memory.RecentHistory(req.SessionID, 10)
		s.memory.AddUserMessage(req.SessionID, question)
	}

	prompt := s.buildPrompt(contextText, question, history)

	generationStart := time.Now()
	answer, genErr := s.generate(ctx, prompt)
	generationTime := time.Since(generationStart)

	resp := &QueryResponse{
		Context:          texts,
		RetrievalTimeMs:  retrievalTime.Milliseconds(),
		GenerationTimeMs: generationTime.Milliseconds(),
	}
	if genErr != nil {
		s.logger.Error("generation failed, serving raw context", "error", genErr)
		resp.Answer = degradedAnswer(contextText)
		resp.Degraded = true
	} else {
		resp.Answer = answer
	}

	if req.SessionID != "" {
		s.memory.AddAssistantMessage(req.SessionID, resp.Answer)
	}

	return resp, nil
}

// StreamResponse carries a live token stream, or a final answer when there
// is nothing to stream (empty retrieval, stream startup failure).
type StreamResponse struct {
	Context         []string
	Chunks          <-chan llm.StreamChunk
	Answer          string
	Degraded        bool
	RetrievalTimeMs int64
}

// QueryStream answers like Query but streams the generated tokens as they
// arrive. The lock is held for retrieval only, not while streaming.
func (s *RAGService) QueryStream(ctx context.Context, req QueryRequest) (*StreamResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}

	s.mu.Lock()
	retrievalStart := time.Now()
	texts, err := s.retrieve(ctx, question)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	retrievalTime := time.Since(retrievalStart)

	if len(texts) == 0 {
		return &StreamResponse{
			Answer:          NoInformationResponse,
			RetrievalTimeMs: retrievalTime.Milliseconds(),
		}, nil
	}

	contextText := s.assembler.Assemble(question, texts)

	var history []memory.Message
	if req.SessionID != "" {
		history = s.memory.RecentHistory(req.SessionID, 10)
		s.memory.AddUserMessage(req.SessionID, question)
	}

	prompt := s.buildPrompt(contextText, question, history)

	genCtx := ctx
	cancel := context.CancelFunc(func() {})
	if s.options.GenerateTimeout > 0 {
		genCtx, cancel = context.WithTimeout(ctx, s.options.GenerateTimeout)
	}

	resp := &StreamResponse{
		Context:         texts,
		RetrievalTimeMs: retrievalTime.Milliseconds(),
	}

	chunks, genErr := s.llmClient.GenerateStream(genCtx, prompt, s.generateOptions())
	if genErr != nil {
		cancel()
		s.logger.Error("stream start failed, serving raw context", "error", genErr)
		resp.Answer = degradedAnswer(contextText)
		resp.Degraded = true
		if req.SessionID != "" {
			s.memory.AddAssistantMessage(req.SessionID, resp.Answer)
		}
		return resp, nil
	}

	resp.Chunks = s.forwardStream(req.SessionID, cancel, chunks)
	return resp, nil
}

// forwardStream relays chunks, accumulating the full answer so the session
// history sees what the caller saw. cancel releases the generation context
// once the stream drains.
func (s *RAGService) forwardStream(sessionID string, cancel context.CancelFunc, in <-chan llm.StreamChunk) <-chan llm.StreamChunk {
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer cancel()

		var full strings.Builder
		for chunk := range in {
			full.WriteString(chunk.Token)
			out <- chunk
		}
		if sessionID != "" {
			s.memory.AddAssistantMessage(sessionID, full.String())
		}
	}()
	return out
}

// Retrieve runs retrieval only, without generation.
func (s *RAGService) Retrieve(ctx context.Context, question string) ([]string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retrieve(ctx, question)
}

// Status reports fragment count and the persisted corpus fingerprint.
func (s *RAGService) Status(ctx context.Context) (*Status, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count fragments: %w", err)
	}
	fingerprint, err := s.store.Fingerprint(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read fingerprint: %w", err)
	}

	return &Status{FragmentCount: count, Fingerprint: fingerprint}, nil
}

// retrieve embeds the question, searches the store, and runs the selection
// cascade. Embedding and search failures feed the cascade's fallback path
// instead of surfacing directly.
func (s *RAGService) retrieve(ctx context.Context, question string) ([]string, error) {
	var hits []vectorstore.SearchHit
	var searchErr error

	vector, err := s.embedQuestion(ctx, question)
	if err != nil {
		searchErr = fmt.Errorf("failed to embed question: %w", err)
	} else {
		hits, searchErr = s.search(ctx, vector)
	}

	return s.cascade.Select(ctx, hits, searchErr)
}

func (s *RAGService) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	if s.options.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.options.EmbedTimeout)
		defer cancel()
	}
	return s.embedder.Embed(ctx, question)
}

func (s *RAGService) search(ctx context.Context, vector []float32) ([]vectorstore.SearchHit, error) {
	if s.options.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.options.SearchTimeout)
		defer cancel()
	}
	// Over-fetch so the cascade has enough candidates to relax into.
	return s.store.Search(ctx, vector, s.options.MaxResults*2)
}

func (s *RAGService) generate(ctx context.Context, prompt string) (string, error) {
	if s.options.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.options.GenerateTimeout)
		defer cancel()
	}

	return s.llmClient.Generate(ctx, prompt, s.generateOptions())
}

func (s *RAGService) generateOptions() llm.GenerateOptions {
	return llm.GenerateOptions{
		Model:         s.options.Model,
		SystemPrompt:  s.options.SystemPrompt,
		Temperature:   s.options.Temperature,
		TopP:          s.options.TopP,
		RepeatPenalty: s.options.RepeatPenalty,
		MaxTokens:     s.options.MaxTokens,
	}
}

// buildPrompt constructs the grounded prompt with optional conversation
// history.
func (s *RAGService) buildPrompt(contextText, question string, history []memory.Message) string {
	var sb strings.Builder

	sb.WriteString(s.options.SystemPrompt)
	sb.WriteString("\n\n")

	if len(history) > 0 {
		sb.WriteString("## Conversation History\n\n")
		sb.WriteString(memory.FormatForPrompt(history))
		sb.WriteString("\n")
	}

	sb.WriteString("## Context\n\n")
	sb.WriteString(contextText)
	sb.WriteString("\n\n## Question\n")
	sb.WriteString(question)
	sb.WriteString("\n\n## Answer (be brief and direct)\n")

	return sb.String()
}

// degradedAnswer labels and truncates the raw context for a response
// served without generation.
func degradedAnswer(contextText string) string {
	if runes := []rune(contextText); len(runes) > degradedContextLimit {
		contextText = string(runes[:degradedContextLimit]) + "..."
	}
	return degradedAnswerHeader + "\n\n" + contextText
}
