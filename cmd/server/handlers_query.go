package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"lessonforge/internal/chat"
	"lessonforge/internal/indexer"
	"lessonforge/internal/llm"
	"lessonforge/internal/retriever"
)

// ========== Query Endpoints ==========

// getRetrieverForLesson returns the retriever for a lesson, checking cache.
func (s *Server) getRetrieverForLesson(lessonID string) (*retrieverHandle, error) {
	s.mu.RLock()
	// Check if already active
	if s.activeLessonID == lessonID && s.activeRetriever != nil {
		ret := s.activeRetriever
		idx := s.activeIndex
		s.mu.RUnlock()
		return &retrieverHandle{ret: ret, idx: idx}, nil
	}
	// Check cache
	if cached, ok := s.indexCache.get(lessonID); ok {
		s.mu.RUnlock()
		return &retrieverHandle{ret: cached.ret, idx: cached.idx}, nil
	}
	s.mu.RUnlock()
	return nil, fmt.Errorf("no index loaded for lesson %s", lessonID)
}

type retrieverHandle struct {
	ret *retriever.Retriever
	idx *indexer.Index
}

// searchFor runs retrieval, unit-scoped when unit > 0.
func (h *retrieverHandle) searchFor(r *http.Request, question string, unit int) ([]retriever.Result, error) {
	if unit > 0 {
		return h.ret.SearchInSection(r.Context(), question, fmt.Sprintf("Unit %d", unit), 20)
	}
	return h.ret.Search(r.Context(), question, 20)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.LessonID == "" {
		jsonErr(w, "lesson_id is required", http.StatusBadRequest)
		return
	}

	h, err := s.getRetrieverForLesson(req.LessonID)
	if err != nil {
		jsonErr(w, "No documents indexed. Upload and process documents first.", http.StatusBadRequest)
		return
	}

	llmClient, err := s.getProvider(req.Provider, req.Model)
	if err != nil {
		jsonErr(w, fmt.Sprintf("Provider error: %v", err), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	start := time.Now()

	results, err := h.searchFor(r, req.Question, req.Unit)
	if err != nil {
		jsonErr(w, fmt.Sprintf("Retrieval error: %v", err), http.StatusInternalServerError)
		return
	}

	answer, err := llmClient.AnswerQuestion(ctx, req.Question, results, h.ret.Outlines)
	if err != nil {
		jsonErr(w, fmt.Sprintf("LLM error: %v", err), http.StatusInternalServerError)
		return
	}

	elapsed := time.Since(start).Seconds()

	// Persist messages to the chat thread if IDs are provided
	if req.ChatID != "" {
		userMsg := chat.Message{
			Role:      "user",
			Content:   req.Question,
			Timestamp: start,
		}
		assistantMsg := chat.Message{
			Role:    "assistant",
			Content: answer.Answer,
			Metadata: map[string]interface{}{
				"thinking":          answer.Thinking,
				"documents":         answer.Documents,
				"pages":             answer.Pages,
				"footnotes":         answer.Footnotes,
				"confidence":        answer.Confidence,
				"confidence_reason": answer.ConfidenceReason,
				"time_seconds":      elapsed,
				"provider":          req.Provider,
				"model":             req.Model,
			},
			Timestamp: time.Now(),
		}
		go func() {
			_ = s.lessons.SaveMessage(req.LessonID, req.ChatID, userMsg)
			_ = s.lessons.SaveMessage(req.LessonID, req.ChatID, assistantMsg)
		}()
	}

	jsonResp(w, map[string]interface{}{
		"answer":       answer,
		"time_seconds": elapsed,
	})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.LessonID == "" {
		jsonErr(w, "lesson_id is required", http.StatusBadRequest)
		return
	}

	h, err := s.getRetrieverForLesson(req.LessonID)
	if err != nil {
		jsonErr(w, "No documents indexed. Upload and process documents first.", http.StatusBadRequest)
		return
	}

	llmClient, err := s.getProvider(req.Provider, req.Model)
	if err != nil {
		jsonErr(w, fmt.Sprintf("Provider error: %v", err), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	start := time.Now()

	answers := make([]*llm.Answer, len(req.Questions))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errors []string

	for i, q := range req.Questions {
		wg.Add(1)
		go func(n int, question string) {
			defer wg.Done()
			results, err := h.ret.Search(ctx, question, 20)
			if err != nil {
				mu.Lock()
				errors = append(errors, fmt.Sprintf("Q%d retrieval: %v", n, err))
				mu.Unlock()
				return
			}
			answer, err := llmClient.AnswerQuestion(ctx, question, results, h.ret.Outlines)
			if err != nil {
				mu.Lock()
				errors = append(errors, fmt.Sprintf("Q%d LLM: %v", n, err))
				mu.Unlock()
				return
			}
			mu.Lock()
			answers[n] = answer
			mu.Unlock()
		}(i, q)
	}
	wg.Wait()

	jsonResp(w, BatchResponse{
		Answers:   answers,
		TotalTime: time.Since(start).Seconds(),
	})
}

// ========== Stats & Providers ==========

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	// Optionally accept lesson_id to get lesson-specific stats
	lessonID := r.URL.Query().Get("lesson_id")

	s.mu.RLock()
	idx := s.activeIndex
	currentLessonID := s.activeLessonID
	s.mu.RUnlock()

	// If a specific lesson is requested and it's in cache, use that
	if lessonID != "" && lessonID != currentLessonID {
		s.mu.RLock()
		if cached, ok := s.indexCache.get(lessonID); ok {
			idx = cached.idx
		} else {
			idx = nil
		}
		s.mu.RUnlock()
	}

	docs := 0
	chunks := 0
	if idx != nil {
		docSet := make(map[string]bool)
		for _, c := range idx.Chunks {
			docSet[c.Document] = true
		}
		docs = len(docSet)
		chunks = len(idx.Chunks)
	}

	keys, defaultLLM := s.providerSnapshot()
	var available []string
	for name, key := range keys {
		if key != "" && key != "your_openai_key_here" && key != "your_anthropic_key_here" {
			available = append(available, name)
		}
	}

	resp := StatsResponse{
		Documents:  docs,
		Chunks:     chunks,
		IndexReady: chunks > 0,
		Providers:  available,
		DefaultLLM: defaultLLM,
	}

	jsonResp(w, resp)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	allModels := map[string][]map[string]string{
		"openai": {
			{"id": "gpt-4o", "name": "GPT-4o"},
			{"id": "gpt-4o-mini", "name": "GPT-4o Mini"},
			{"id": "gpt-4.1", "name": "GPT-4.1"},
			{"id": "gpt-4.1-mini", "name": "GPT-4.1 Mini"},
			{"id": "o3-mini", "name": "o3-mini"},
		},
		"anthropic": {
			{"id": "claude-sonnet-4-5", "name": "Claude Sonnet 4.5 (Latest)"},
			{"id": "claude-opus-4-1-20250805", "name": "Claude Opus 4.1"},
			{"id": "claude-sonnet-4-20250514", "name": "Claude Sonnet 4"},
			{"id": "claude-haiku-4-5-20251001", "name": "Claude Haiku 4.5"},
			{"id": "claude-3-5-sonnet-20241022", "name": "Claude 3.5 Sonnet"},
		},
		"huggingface": {
			{"id": "Qwen/Qwen2.5-72B-Instruct", "name": "Qwen 2.5 72B Instruct"},
			{"id": "meta-llama/Llama-3.3-70B-Instruct", "name": "Llama 3.3 70B Instruct"},
			{"id": "mistralai/Mistral-7B-Instruct-v0.3", "name": "Mistral 7B Instruct"},
			{"id": "microsoft/phi-4", "name": "Phi-4 14B"},
		},
	}

	keys, _ := s.providerSnapshot()
	result := make(map[string]interface{})
	for name, key := range keys {
		if key != "" && key != "your_openai_key_here" && key != "your_anthropic_key_here" {
			result[name] = allModels[name]
		}
	}
	jsonResp(w, result)
}
