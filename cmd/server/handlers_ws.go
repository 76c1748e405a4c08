package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"lessonforge/internal/chat"
)

// ========== WebSocket Chat ==========

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect from the static frontend on the same host,
	// but the dev frontend may run on a different port
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsQuestion struct {
	LessonID string `json:"lesson_id"`
	ChatID   string `json:"chat_id,omitempty"`
	Question string `json:"question"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Unit     int    `json:"unit,omitempty"`
}

type wsEvent struct {
	Type    string      `json:"type"` // status, sources, answer, done, error
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// handleChatWS answers questions over a websocket, emitting staged events
// so the client can show retrieval progress before the answer arrives.
// One connection handles many questions sequentially.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var req wsQuestion
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}

		if req.Question == "" || req.LessonID == "" {
			s.wsSend(conn, wsEvent{Type: "error", Message: "lesson_id and question are required"})
			continue
		}

		s.answerOverWS(conn, r, req)
	}
}

func (s *Server) answerOverWS(conn *websocket.Conn, r *http.Request, req wsQuestion) {
	h, err := s.getRetrieverForLesson(req.LessonID)
	if err != nil {
		s.wsSend(conn, wsEvent{Type: "error", Message: "No documents indexed. Upload and process documents first."})
		return
	}

	llmClient, err := s.getProvider(req.Provider, req.Model)
	if err != nil {
		s.wsSend(conn, wsEvent{Type: "error", Message: fmt.Sprintf("Provider error: %v", err)})
		return
	}

	start := time.Now()
	s.wsSend(conn, wsEvent{Type: "status", Message: "Searching documents..."})

	results, err := h.searchFor(r, req.Question, req.Unit)
	if err != nil {
		s.wsSend(conn, wsEvent{Type: "error", Message: fmt.Sprintf("Retrieval error: %v", err)})
		return
	}

	sources := make([]map[string]interface{}, 0, len(results))
	for _, res := range results {
		sources = append(sources, map[string]interface{}{
			"document": res.Document,
			"page":     res.PageNumber,
			"section":  res.Section,
			"score":    res.Score,
		})
	}
	s.wsSend(conn, wsEvent{Type: "sources", Data: sources})
	s.wsSend(conn, wsEvent{Type: "status", Message: "Generating answer..."})

	answer, err := llmClient.AnswerQuestion(r.Context(), req.Question, results, h.ret.Outlines)
	if err != nil {
		s.wsSend(conn, wsEvent{Type: "error", Message: fmt.Sprintf("LLM error: %v", err)})
		return
	}

	elapsed := time.Since(start).Seconds()
	s.wsSend(conn, wsEvent{Type: "answer", Data: map[string]interface{}{
		"answer":       answer,
		"time_seconds": elapsed,
	}})

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
		_ = s.lessons.SaveMessage(req.LessonID, req.ChatID, userMsg)
		_ = s.lessons.SaveMessage(req.LessonID, req.ChatID, assistantMsg)
	}

	s.wsSend(conn, wsEvent{Type: "done"})
}

func (s *Server) wsSend(conn *websocket.Conn, ev wsEvent) {
	if err := conn.WriteJSON(ev); err != nil {
		log.Printf("websocket write error: %v", err)
	}
}
