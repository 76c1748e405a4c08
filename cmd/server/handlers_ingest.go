package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"lessonforge/internal/extractor"
	"lessonforge/internal/indexer"
	"lessonforge/internal/retriever"
	"lessonforge/internal/tables"
)

func allowedUpload(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".docx", ".txt", ".md":
		return true
	}
	return false
}

// ========== File Upload & Ingestion Endpoints ==========

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse multipart (max 100MB)
	if err := r.ParseMultipartForm(100 << 20); err != nil {
		jsonErr(w, "Failed to parse upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	lessonID := r.FormValue("lesson_id")
	if lessonID == "" {
		jsonErr(w, "lesson_id is required", http.StatusBadRequest)
		return
	}

	lesson, err := s.lessons.Get(lessonID)
	if err != nil {
		jsonErr(w, "Lesson not found", http.StatusNotFound)
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		// Try singular "file" field
		files = r.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		jsonErr(w, "No files uploaded", http.StatusBadRequest)
		return
	}

	uploadsDir := s.lessons.UploadsDir(lessonID)
	_ = os.MkdirAll(uploadsDir, 0755)

	var saved []string
	for _, fh := range files {
		if !allowedUpload(fh.Filename) {
			continue
		}

		src, err := fh.Open()
		if err != nil {
			continue
		}

		dstPath := filepath.Join(uploadsDir, filepath.Base(fh.Filename))
		dst, err := os.Create(dstPath)
		if err != nil {
			src.Close()
			continue
		}
		_, _ = io.Copy(dst, src)
		src.Close()
		dst.Close()
		saved = append(saved, fh.Filename)
	}

	// Update lesson file count
	dirEntries, _ := os.ReadDir(uploadsDir)
	fileCount := 0
	for _, e := range dirEntries {
		if !e.IsDir() {
			fileCount++
		}
	}
	lesson.FileCount = fileCount
	_ = s.lessons.Update(*lesson)

	jsonResp(w, map[string]interface{}{
		"uploaded": saved,
		"count":    len(saved),
	})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		lessonID := r.URL.Query().Get("lesson_id")
		if lessonID == "" {
			jsonErr(w, "lesson_id is required", http.StatusBadRequest)
			return
		}

		uploadsDir := s.lessons.UploadsDir(lessonID)
		entries, _ := os.ReadDir(uploadsDir)
		var files []map[string]interface{}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, _ := e.Info()
			size := int64(0)
			if info != nil {
				size = info.Size()
			}
			files = append(files, map[string]interface{}{
				"name": e.Name(),
				"size": size,
			})
		}
		if files == nil {
			files = []map[string]interface{}{}
		}
		jsonResp(w, files)

	case http.MethodDelete:
		var req struct {
			LessonID string `json:"lesson_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LessonID == "" {
			jsonErr(w, "lesson_id is required", http.StatusBadRequest)
			return
		}

		// Clear uploads and indexes for this lesson
		uploadsDir := s.lessons.UploadsDir(req.LessonID)
		bm25Dir := s.lessons.BM25Dir(req.LessonID)
		vectorsPath := s.lessons.VectorsPath(req.LessonID)

		s.mu.Lock()
		if s.activeLessonID == req.LessonID && s.activeIndex != nil {
			_ = s.activeIndex.Close()
			s.activeIndex = nil
			s.activeRetriever = nil
		}
		s.indexCache.delete(req.LessonID)
		s.mu.Unlock()

		_ = os.RemoveAll(uploadsDir)
		_ = os.MkdirAll(uploadsDir, 0755)
		_ = os.RemoveAll(bm25Dir)
		_ = os.Remove(vectorsPath)

		lesson, _ := s.lessons.Get(req.LessonID)
		if lesson != nil {
			lesson.FileCount = 0
			lesson.ChunkCount = 0
			lesson.SectionCount = 0
			lesson.Status = "upload"
			_ = s.lessons.Update(*lesson)
		}

		s.ingestStatus.reset()
		jsonResp(w, map[string]string{"status": "cleared"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDeleteSingleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		LessonID string `json:"lesson_id"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.LessonID == "" {
		jsonErr(w, "lesson_id and name are required", http.StatusBadRequest)
		return
	}

	// Prevent path traversal
	clean := filepath.Base(req.Name)
	if clean != req.Name || clean == "." || clean == ".." {
		jsonErr(w, "invalid filename", http.StatusBadRequest)
		return
	}

	uploadsDir := s.lessons.UploadsDir(req.LessonID)
	targetPath := filepath.Join(uploadsDir, clean)

	if _, err := os.Stat(targetPath); os.IsNotExist(err) {
		jsonErr(w, "file not found", http.StatusNotFound)
		return
	}

	if err := os.Remove(targetPath); err != nil {
		jsonErr(w, "failed to delete file: "+err.Error(), http.StatusInternalServerError)
		return
	}

	// Update file count
	entries, _ := os.ReadDir(uploadsDir)
	fileCount := 0
	for _, e := range entries {
		if !e.IsDir() {
			fileCount++
		}
	}
	lesson, _ := s.lessons.Get(req.LessonID)
	if lesson != nil {
		lesson.FileCount = fileCount
		_ = s.lessons.Update(*lesson)
	}

	jsonResp(w, map[string]interface{}{"status": "deleted", "remaining": fileCount})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		LessonID string `json:"lesson_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LessonID == "" {
		jsonErr(w, "lesson_id is required", http.StatusBadRequest)
		return
	}

	// Don't start if already running
	snap := s.ingestStatus.snapshot()
	if snap.Phase == "processing" {
		jsonErr(w, "Ingestion already in progress", http.StatusConflict)
		return
	}

	lessonID := req.LessonID
	uploadsDir := s.lessons.UploadsDir(lessonID)
	bm25Dir := s.lessons.BM25Dir(lessonID)
	vectorsPath := s.lessons.VectorsPath(lessonID)

	// Gather files
	entries, _ := os.ReadDir(uploadsDir)
	var uploadedFiles []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if allowedUpload(e.Name()) {
			uploadedFiles = append(uploadedFiles, e.Name())
		}
	}

	if len(uploadedFiles) == 0 {
		jsonErr(w, "No files to process", http.StatusBadRequest)
		return
	}

	// Update lesson status
	lesson, _ := s.lessons.Get(lessonID)
	if lesson != nil {
		lesson.Status = "processing"
		_ = s.lessons.Update(*lesson)
	}

	// Reset ingest status
	s.ingestStatus.mu.Lock()
	s.ingestStatus.Phase = "processing"
	s.ingestStatus.FilesTotal = len(uploadedFiles)
	s.ingestStatus.FilesDone = 0
	s.ingestStatus.ChunksTotal = 0
	s.ingestStatus.ChunksDone = 0
	s.ingestStatus.Error = ""
	s.ingestStatus.mu.Unlock()

	// Create cancellable context for this ingestion run
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.ingestCancel = cancel
	s.activeLessonID = lessonID
	s.mu.Unlock()

	// Run ingestion in background
	go s.runIngestion(ctx, lessonID, uploadsDir, bm25Dir, vectorsPath, uploadedFiles)

	jsonResp(w, map[string]string{"status": "started"})
}

// embedProgressFunc folds one file's cumulative embed progress into the
// shared ingest counters. Calls are serialized within a file's embedding
// run, so lastDone needs no lock; the shared counters are atomics.
func (s *Server) embedProgressFunc(chunksTotal, chunksDone *int64) indexer.ProgressFunc {
	lastDone := 0
	return func(total, done int) {
		doneAll := atomic.AddInt64(chunksDone, int64(done-lastDone))
		lastDone = done
		s.ingestStatus.mu.Lock()
		s.ingestStatus.ChunksTotal = int(atomic.LoadInt64(chunksTotal))
		s.ingestStatus.ChunksDone = int(doneAll)
		s.ingestStatus.mu.Unlock()
	}
}

func (s *Server) runIngestion(ctx context.Context, lessonID, uploadsDir, bm25Dir, vectorsPath string, files []string) {
	// Clear cancel func when done
	defer func() {
		s.mu.Lock()
		s.ingestCancel = nil
		s.mu.Unlock()
	}()

	// Close old index if loaded for this lesson
	s.mu.Lock()
	if s.activeLessonID == lessonID && s.activeIndex != nil {
		_ = s.activeIndex.Close()
		s.activeIndex = nil
		s.activeRetriever = nil
	}
	s.mu.Unlock()

	// Remove old BM25 index directory so bleve can create a fresh one
	_ = os.RemoveAll(bm25Dir)

	// Create fresh index
	embedProvider, embedAPIKey := s.embedSnapshot()
	idx, err := indexer.NewIndex(embedProvider, embedAPIKey, "", bm25Dir)
	if err != nil {
		s.ingestStatus.mu.Lock()
		s.ingestStatus.Phase = "error"
		s.ingestStatus.Error = fmt.Sprintf("Failed to create index: %v", err)
		s.ingestStatus.mu.Unlock()
		return
	}

	// ===== STREAMED PIPELINE =====
	type extractResult struct {
		chunks []extractor.DocumentChunk
		tables int
		err    error
		file   string
	}

	var (
		filesDone   int32
		chunksTotal int64
		chunksDone  int64
	)

	resultsCh := make(chan extractResult, len(files))
	extractSem := make(chan struct{}, 4)
	var extractWg sync.WaitGroup

	for _, filename := range files {
		extractWg.Add(1)
		go func(fname string) {
			defer extractWg.Done()

			select {
			case <-ctx.Done():
				resultsCh <- extractResult{err: ctx.Err(), file: fname}
				return
			case extractSem <- struct{}{}:
			}
			defer func() { <-extractSem }()

			filePath := filepath.Join(uploadsDir, fname)

			start := time.Now()
			log.Printf("Extracting %s...", fname)

			buf, readErr := os.ReadFile(filePath)
			if readErr != nil {
				resultsCh <- extractResult{err: readErr, file: fname}
				return
			}

			docChunks, extractErr := s.engine.ExtractDocument(buf, fname)

			// Geometric table pass (PDF only; other formats have no
			// positioned runs)
			tableCount := 0
			if strings.EqualFold(filepath.Ext(fname), ".pdf") {
				res := tables.Extract(s.engine, buf)
				for _, pt := range res.Pages {
					tableCount += len(pt.Tables)
				}
			}

			elapsed := time.Since(start)
			if extractErr != nil {
				log.Printf("Failed to extract %s after %v: %v", fname, elapsed, extractErr)
				resultsCh <- extractResult{err: extractErr, file: fname}
			} else {
				log.Printf("Extracted %s: %d pages, %d tables in %v", fname, len(docChunks), tableCount, elapsed)
				resultsCh <- extractResult{chunks: docChunks, tables: tableCount, file: fname}
			}

			newDone := int(atomic.AddInt32(&filesDone, 1))
			s.ingestStatus.mu.Lock()
			s.ingestStatus.FilesDone = newDone
			s.ingestStatus.mu.Unlock()
		}(filename)
	}

	go func() {
		extractWg.Wait()
		close(resultsCh)
	}()

	var fileResults []FileResult
	var fileResultsMu sync.Mutex
	var embedWg sync.WaitGroup

	var firstErr error
	var errOnce sync.Once
	var anyFileOk bool
	sectionsTotal := 0

	for res := range resultsCh {
		if ctx.Err() != nil {
			break
		}

		if res.err != nil || res.chunks == nil {
			errMsg := "unknown error"
			if res.err != nil {
				errMsg = res.err.Error()
			}
			fileResultsMu.Lock()
			fileResults = append(fileResults, FileResult{
				Name:   res.file,
				Status: "failed",
				Error:  errMsg,
			})
			fileResultsMu.Unlock()
			continue
		}

		anyFileOk = true
		docChunks := res.chunks
		fileName := res.file

		// Heading scan: the outline drives section metadata for chunks
		outline := indexer.OutlineDocument(docChunks)
		idx.AddOutline(outline)
		sectionsTotal += len(outline.Sections)
		log.Printf("Outlined %s: %q, %d units", fileName, outline.Title, len(outline.Sections))

		fileChunks := idx.ChunkPages(docChunks)
		numChunks := len(fileChunks)
		log.Printf("Chunked %s: %d pages, %d chunks", fileName, len(docChunks), numChunks)

		atomic.AddInt64(&chunksTotal, int64(numChunks))
		s.ingestStatus.mu.Lock()
		s.ingestStatus.ChunksTotal = int(atomic.LoadInt64(&chunksTotal))
		s.ingestStatus.mu.Unlock()

		fileResultsMu.Lock()
		fileResults = append(fileResults, FileResult{
			Name:     fileName,
			Status:   "ok",
			Chunks:   numChunks,
			Sections: len(outline.Sections),
			Tables:   res.tables,
		})
		fileResultsMu.Unlock()

		embedWg.Add(1)
		go func(chunks []indexer.Chunk, fname string) {
			defer embedWg.Done()

			embedProgress := s.embedProgressFunc(&chunksTotal, &chunksDone)

			if err := idx.EmbedAndIndex(ctx, chunks, embedProgress, 0); err != nil {
				if ctx.Err() == nil {
					errOnce.Do(func() { firstErr = err })
					log.Printf("Embedding error for %s: %v", fname, err)
				}
			}
		}(fileChunks, fileName)
	}

	embedWg.Wait()

	s.ingestStatus.mu.Lock()
	s.ingestStatus.FileResults = fileResults
	s.ingestStatus.mu.Unlock()

	if ctx.Err() != nil {
		log.Printf("Ingestion cancelled")
		s.ingestStatus.mu.Lock()
		s.ingestStatus.Phase = "cancelled"
		s.ingestStatus.Error = "Processing was cancelled"
		s.ingestStatus.mu.Unlock()
		_ = idx.Close()
		return
	}

	if !anyFileOk {
		log.Printf("No text extracted from any uploaded file")
		s.ingestStatus.mu.Lock()
		s.ingestStatus.Phase = "error"
		s.ingestStatus.Error = "No text could be extracted from any uploaded file. If your PDFs are scanned images, install Tesseract and Poppler and rebuild with OCR support."
		s.ingestStatus.mu.Unlock()
		_ = idx.Close()
		return
	}

	if firstErr != nil {
		s.ingestStatus.mu.Lock()
		s.ingestStatus.Phase = "error"
		s.ingestStatus.Error = fmt.Sprintf("Embedding error: %v", firstErr)
		s.ingestStatus.mu.Unlock()
		_ = idx.Close()
		return
	}

	log.Printf("All files processed: %d chunks total", len(idx.Chunks))

	if err := idx.SaveVectors(vectorsPath); err != nil {
		log.Printf("Failed to save vectors: %v", err)
	}

	s.ingestStatus.mu.Lock()
	s.ingestStatus.Phase = "done"
	s.ingestStatus.ChunksDone = len(idx.Chunks)
	s.ingestStatus.ChunksTotal = len(idx.Chunks)
	s.ingestStatus.mu.Unlock()

	ret := retriever.NewRetriever(idx)

	s.mu.Lock()
	s.activeIndex = idx
	s.activeRetriever = ret
	s.activeLessonID = lessonID
	// Cache for future instant switches
	s.indexCache.put(lessonID, &cachedIndex{idx: idx, ret: ret})
	s.mu.Unlock()

	lesson, _ := s.lessons.Get(lessonID)
	if lesson != nil {
		lesson.Status = "ready"
		lesson.ChunkCount = len(idx.Chunks)
		lesson.SectionCount = sectionsTotal
		_ = s.lessons.Update(*lesson)
	}

	log.Printf("Ingestion complete for lesson %s: %d chunks, %d units", lessonID, len(idx.Chunks), sectionsTotal)
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.ingestStatus.snapshot()
	jsonResp(w, &snap)
}

func (s *Server) handleCancelIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		LessonID string `json:"lesson_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	cancel := s.ingestCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		log.Printf("Ingestion cancel requested by user")
	}

	// Reset lesson status back to upload
	if req.LessonID != "" {
		lesson, _ := s.lessons.Get(req.LessonID)
		if lesson != nil && (lesson.Status == "processing" || lesson.Status == "upload") {
			lesson.Status = "upload"
			_ = s.lessons.Update(*lesson)
		}
	}

	s.ingestStatus.mu.Lock()
	s.ingestStatus.Phase = "idle"
	s.ingestStatus.Error = ""
	s.ingestStatus.mu.Unlock()

	jsonResp(w, map[string]string{"status": "cancelled"})
}
