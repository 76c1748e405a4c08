package main

import (
	"encoding/json"
	"net/http"

	"lessonforge/internal/chat"
)

// ========== Chat Thread Endpoints ==========

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		lessonID := r.URL.Query().Get("lesson_id")
		if lessonID == "" {
			jsonErr(w, "lesson_id is required", http.StatusBadRequest)
			return
		}

		threads := s.lessons.ListChats(lessonID)
		if threads == nil {
			threads = []chat.Chat{}
		}

		jsonResp(w, map[string]interface{}{
			"chats": threads,
		})

	case http.MethodPost:
		var req struct {
			LessonID string `json:"lesson_id"`
			Name     string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LessonID == "" {
			jsonErr(w, "lesson_id is required", http.StatusBadRequest)
			return
		}

		thread, err := s.lessons.CreateChat(req.LessonID, req.Name)
		if err != nil {
			jsonErr(w, err.Error(), http.StatusInternalServerError)
			return
		}

		jsonResp(w, thread)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		LessonID string `json:"lesson_id"`
		ChatID   string `json:"chat_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LessonID == "" {
		jsonErr(w, "lesson_id is required", http.StatusBadRequest)
		return
	}

	_ = s.lessons.DeleteChat(req.LessonID, req.ChatID)
	jsonResp(w, map[string]string{"status": "ok"})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		LessonID string `json:"lesson_id"`
		ChatID   string `json:"chat_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LessonID == "" {
		jsonErr(w, "lesson_id is required", http.StatusBadRequest)
		return
	}

	msgs, err := s.lessons.LoadMessages(req.LessonID, req.ChatID)
	if err != nil {
		msgs = []chat.Message{}
	}

	jsonResp(w, msgs)
}

func (s *Server) handleRenameChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		LessonID string `json:"lesson_id"`
		ChatID   string `json:"chat_id"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LessonID == "" {
		jsonErr(w, "lesson_id is required", http.StatusBadRequest)
		return
	}

	thread, err := s.lessons.GetChat(req.LessonID, req.ChatID)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusNotFound)
		return
	}

	thread.Name = req.Name
	if err := s.lessons.UpdateChat(*thread); err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jsonResp(w, thread)
}
