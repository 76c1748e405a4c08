package main

import (
	"encoding/json"
	"log"
	"net/http"
)

// ========== Lesson Endpoints ==========

func (s *Server) handleLessons(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jsonResp(w, s.lessons.List())
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		lesson, err := s.lessons.Create(req.Name)
		if err != nil {
			jsonErr(w, err.Error(), http.StatusInternalServerError)
			return
		}
		jsonResp(w, lesson)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleActivateLesson(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LessonIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LessonID == "" {
		jsonErr(w, "lesson_id is required", http.StatusBadRequest)
		return
	}

	lesson, err := s.lessons.Get(req.LessonID)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusNotFound)
		return
	}

	s.mu.Lock()
	// The previous index stays in the cache, don't close it
	s.activeIndex = nil
	s.activeRetriever = nil
	s.activeLessonID = lesson.ID
	s.ingestStatus.reset()
	s.indexLoading = false
	s.mu.Unlock()

	// If the lesson is ready, check cache first then load in background
	if lesson.Status == "ready" {
		s.mu.Lock()
		if cached, ok := s.indexCache.get(lesson.ID); ok {
			s.activeIndex = cached.idx
			s.activeRetriever = cached.ret
			s.mu.Unlock()
			log.Printf("Index cache hit for lesson %s, instant switch", lesson.ID)
		} else {
			s.indexLoading = true
			s.mu.Unlock()
			go func(lessonID string) {
				if err := s.loadLessonIndexes(lessonID); err != nil {
					log.Printf("Warning: could not load indexes for lesson %s: %v", lessonID, err)
				}
				s.mu.Lock()
				s.indexLoading = false
				s.mu.Unlock()
			}(lesson.ID)
		}
	}

	// Return lesson with its chat threads
	threads := s.lessons.ListChats(lesson.ID)
	jsonResp(w, map[string]interface{}{
		"lesson": lesson,
		"chats":  threads,
	})
}

func (s *Server) handleDeleteLesson(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LessonIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LessonID == "" {
		jsonErr(w, "lesson_id is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	// If deleting the lesson whose index is loaded, cancel ingestion and clear
	if s.activeLessonID == req.LessonID {
		if s.ingestCancel != nil {
			s.ingestCancel()
			s.ingestCancel = nil
		}
		if s.activeIndex != nil {
			_ = s.activeIndex.Close()
			s.activeIndex = nil
			s.activeRetriever = nil
		}
		s.activeLessonID = ""
		s.ingestStatus.reset()
	}
	s.indexCache.delete(req.LessonID)
	s.mu.Unlock()

	if err := s.lessons.Delete(req.LessonID); err != nil {
		jsonErr(w, err.Error(), http.StatusNotFound)
		return
	}

	jsonResp(w, map[string]string{"status": "deleted"})
}

func (s *Server) handleRenameLesson(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		LessonID string `json:"lesson_id"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LessonID == "" || req.Name == "" {
		jsonErr(w, "lesson_id and name are required", http.StatusBadRequest)
		return
	}

	lesson, err := s.lessons.Get(req.LessonID)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusNotFound)
		return
	}

	lesson.Name = req.Name
	if err := s.lessons.Update(*lesson); err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jsonResp(w, lesson)
}
