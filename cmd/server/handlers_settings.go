package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"lessonforge/internal/indexer"
	"lessonforge/internal/retriever"
)

// ========== Settings Endpoint ==========

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.RLock()
		resp := map[string]interface{}{
			"default_llm":          s.defaultLLM,
			"embed_provider":       s.embedProvider,
			"openai_key":           maskKey(s.providerKeys["openai"]),
			"anthropic_key":        maskKey(s.providerKeys["anthropic"]),
			"huggingface_key":      maskKey(s.providerKeys["huggingface"]),
			"ocr_available":        s.ocrAvailable,
			"rasterizer_available": s.rasterizerOk,
		}
		s.mu.RUnlock()
		jsonResp(w, resp)

	case http.MethodPost:
		var req struct {
			OpenAIKey      string `json:"openai_key"`
			AnthropicKey   string `json:"anthropic_key"`
			HuggingFaceKey string `json:"huggingface_key"`
			DefaultLLM     string `json:"default_llm"`
			EmbedProvider  string `json:"embed_provider"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonErr(w, "Invalid request", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		// Only update keys if a real (non-masked) value was sent
		if req.OpenAIKey != "" && !strings.Contains(req.OpenAIKey, "...") {
			s.providerKeys["openai"] = req.OpenAIKey
		}
		if req.AnthropicKey != "" && !strings.Contains(req.AnthropicKey, "...") {
			s.providerKeys["anthropic"] = req.AnthropicKey
		}
		if req.HuggingFaceKey != "" && !strings.Contains(req.HuggingFaceKey, "...") {
			s.providerKeys["huggingface"] = req.HuggingFaceKey
		}
		if req.DefaultLLM != "" {
			s.defaultLLM = req.DefaultLLM
		}
		if req.EmbedProvider != "" {
			s.embedProvider = req.EmbedProvider
			switch req.EmbedProvider {
			case "openai":
				s.embedAPIKey = s.providerKeys["openai"]
			case "huggingface":
				s.embedAPIKey = s.providerKeys["huggingface"]
			}
		}

		saved := SavedSettings{
			OpenAIKey:      s.providerKeys["openai"],
			AnthropicKey:   s.providerKeys["anthropic"],
			HuggingFaceKey: s.providerKeys["huggingface"],
			DefaultLLM:     s.defaultLLM,
			EmbedProvider:  s.embedProvider,
		}
		s.mu.Unlock()

		if err := persistSettings(saved); err != nil {
			log.Printf("Failed to persist settings: %v", err)
		}

		log.Printf("Settings updated: LLM=%s, Embed=%s", req.DefaultLLM, req.EmbedProvider)
		jsonResp(w, map[string]string{"status": "saved"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleIndexStatus returns whether the vector index is loaded for a given lesson.
func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	lessonID := r.URL.Query().Get("lesson_id")

	s.mu.RLock()
	loading := s.indexLoading

	ready := false
	if lessonID != "" {
		if s.activeLessonID == lessonID && s.activeRetriever != nil {
			ready = true
		} else if s.indexCache.has(lessonID) {
			ready = true
		}
	} else {
		ready = s.activeRetriever != nil
	}
	s.mu.RUnlock()

	status := "ready"
	if loading {
		status = "loading"
	} else if !ready {
		status = "not_loaded"
	}

	jsonResp(w, map[string]interface{}{
		"status": status,
		"ready":  ready,
	})
}

// loadLessonIndexes loads a lesson's pre-built indexes from disk.
func (s *Server) loadLessonIndexes(lessonID string) error {
	bm25Dir := s.lessons.BM25Dir(lessonID)
	vectorsPath := s.lessons.VectorsPath(lessonID)

	if _, err := os.Stat(vectorsPath); os.IsNotExist(err) {
		return fmt.Errorf("no vectors file for lesson %s", lessonID)
	}

	embedProvider, embedAPIKey := s.embedSnapshot()
	idx, err := indexer.NewIndex(embedProvider, embedAPIKey, "", bm25Dir)
	if err != nil {
		return fmt.Errorf("failed to open BM25 index: %w", err)
	}

	if err := idx.LoadVectors(vectorsPath); err != nil {
		_ = idx.Close()
		return fmt.Errorf("failed to load vectors: %w", err)
	}

	ret := retriever.NewRetriever(idx)

	s.mu.Lock()
	s.activeIndex = idx
	s.activeRetriever = ret
	s.activeLessonID = lessonID
	s.indexCache.put(lessonID, &cachedIndex{idx: idx, ret: ret})
	s.mu.Unlock()

	log.Printf("Loaded %d chunks for lesson %s (cached)", len(idx.Chunks), lessonID)
	return nil
}
