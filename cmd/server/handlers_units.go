package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"lessonforge/internal/ssot"
	"lessonforge/internal/tables"
)

// ========== Unit Grounding Endpoints ==========

type UnitContextRequest struct {
	LessonID string `json:"lesson_id"`
	Unit     int    `json:"unit"`
	File     string `json:"file,omitempty"` // restrict to one uploaded document
	Question string `json:"question,omitempty"`
	MaxChars int    `json:"max_chars,omitempty"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// handleUnitContext builds a grounding context for one unit out of the
// lesson's uploaded documents. With a question it also runs the grounded
// prompt through the configured LLM.
func (s *Server) handleUnitContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req UnitContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.LessonID == "" || req.Unit <= 0 {
		jsonErr(w, "lesson_id and a positive unit are required", http.StatusBadRequest)
		return
	}

	files, err := s.lessonSourceFiles(req.LessonID, req.File)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusNotFound)
		return
	}

	opts := ssot.Options{MaxChars: req.MaxChars}

	// First document that yields a non-empty context wins
	var uc ssot.UnitContext
	var sourceFile string
	for _, f := range files {
		buf, readErr := os.ReadFile(f)
		if readErr != nil {
			continue
		}
		uc = ssot.BuildUnitContext(s.engine, buf, req.Unit, opts)
		if uc.Context != "" {
			sourceFile = filepath.Base(f)
			break
		}
	}

	resp := map[string]interface{}{
		"unit":    req.Unit,
		"context": uc.Context,
		"prompt":  uc.Prompt,
		"found":   uc.Context != "",
		"source":  sourceFile,
	}

	if req.Question != "" && uc.Context != "" {
		llmClient, provErr := s.getProvider(req.Provider, req.Model)
		if provErr != nil {
			jsonErr(w, fmt.Sprintf("Provider error: %v", provErr), http.StatusBadRequest)
			return
		}
		start := time.Now()
		answer, llmErr := llmClient.Complete(r.Context(), ssot.PromptWithQuestion(uc.Prompt, req.Question))
		if llmErr != nil {
			jsonErr(w, fmt.Sprintf("LLM error: %v", llmErr), http.StatusInternalServerError)
			return
		}
		resp["answer"] = answer
		resp["time_seconds"] = time.Since(start).Seconds()
	}

	jsonResp(w, resp)
}

// handleUnits lists the detected document outlines for a lesson.
func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	lessonID := r.URL.Query().Get("lesson_id")
	if lessonID == "" {
		jsonErr(w, "lesson_id is required", http.StatusBadRequest)
		return
	}

	h, err := s.getRetrieverForLesson(lessonID)
	if err != nil {
		jsonErr(w, "No documents indexed. Upload and process documents first.", http.StatusBadRequest)
		return
	}

	jsonResp(w, map[string]interface{}{
		"outlines": h.ret.Outlines,
	})
}

// handleTables reconstructs tables from an uploaded PDF and returns them
// serialized per page.
func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	lessonID := r.URL.Query().Get("lesson_id")
	fileName := r.URL.Query().Get("file")
	format := r.URL.Query().Get("format")
	if lessonID == "" || fileName == "" {
		jsonErr(w, "lesson_id and file are required", http.StatusBadRequest)
		return
	}
	if format == "" {
		format = "csv"
	}

	// Prevent path traversal
	clean := filepath.Base(fileName)
	if clean != fileName {
		jsonErr(w, "invalid filename", http.StatusBadRequest)
		return
	}

	path := filepath.Join(s.lessons.UploadsDir(lessonID), clean)
	buf, err := os.ReadFile(path)
	if err != nil {
		jsonErr(w, "file not found", http.StatusNotFound)
		return
	}

	res := tables.Extract(s.engine, buf)

	var pages map[int][]string
	switch format {
	case "csv":
		pages = res.ToCSV()
	case "html":
		pages = res.ToHTML()
	default:
		jsonErr(w, "format must be csv or html", http.StatusBadRequest)
		return
	}

	total := 0
	for _, ts := range pages {
		total += len(ts)
	}

	jsonResp(w, map[string]interface{}{
		"file":   clean,
		"format": format,
		"tables": total,
		"pages":  pages,
	})
}

// lessonSourceFiles returns the ingestable files in a lesson's uploads
// directory, optionally restricted to a single name.
func (s *Server) lessonSourceFiles(lessonID, only string) ([]string, error) {
	uploadsDir := s.lessons.UploadsDir(lessonID)

	if only != "" {
		clean := filepath.Base(only)
		if clean != only {
			return nil, fmt.Errorf("invalid filename")
		}
		path := filepath.Join(uploadsDir, clean)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("file not found: %s", clean)
		}
		return []string{path}, nil
	}

	entries, err := os.ReadDir(uploadsDir)
	if err != nil {
		return nil, fmt.Errorf("lesson has no uploads")
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !allowedUpload(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(uploadsDir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("lesson has no uploads")
	}
	return files, nil
}
