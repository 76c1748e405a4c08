package main

import (
	"log"
	"net/http"
	"os"

	"lessonforge/internal/chat"
	"lessonforge/internal/extractor"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	embedProvider := os.Getenv("EMBEDDING_PROVIDER")
	embedAPIKey := os.Getenv("EMBEDDING_API_KEY")
	if embedAPIKey == "" {
		embedAPIKey = os.Getenv("OPENAI_API_KEY")
	}

	providerKeys := map[string]string{
		"openai":      os.Getenv("OPENAI_API_KEY"),
		"huggingface": os.Getenv("HUGGINGFACE_API_KEY"),
		"anthropic":   os.Getenv("ANTHROPIC_API_KEY"),
	}

	defaultLLM := os.Getenv("LLM_PROVIDER")
	if defaultLLM == "" {
		defaultLLM = "openai"
	}

	// Override with saved settings if they exist
	if saved := loadSavedSettings(); saved != nil {
		log.Printf("Loading saved settings from %s", settingsFile)
		if saved.OpenAIKey != "" {
			providerKeys["openai"] = saved.OpenAIKey
		}
		if saved.AnthropicKey != "" {
			providerKeys["anthropic"] = saved.AnthropicKey
		}
		if saved.HuggingFaceKey != "" {
			providerKeys["huggingface"] = saved.HuggingFaceKey
		}
		if saved.DefaultLLM != "" {
			defaultLLM = saved.DefaultLLM
		}
		if saved.EmbedProvider != "" {
			embedProvider = saved.EmbedProvider
			switch saved.EmbedProvider {
			case "openai":
				embedAPIKey = providerKeys["openai"]
			case "huggingface":
				embedAPIKey = providerKeys["huggingface"]
			}
		}
	}

	// OCR capability check
	ocrEngine, ocrErr := extractor.NewOCREngine()
	rasterizerOk := extractor.DetectRasterizer()
	switch {
	case ocrErr != nil:
		log.Printf("OCR: %v (scanned PDFs will not be processed)", ocrErr)
	case !rasterizerOk:
		log.Printf("OCR WARNING: Tesseract available but no rasterizer (pdftoppm or ImageMagick) on PATH")
		log.Printf("  Install Poppler or ImageMagick to enable OCR of scanned PDFs")
	default:
		log.Printf("OCR ready: Tesseract + rasterizer detected")
	}

	lessons, err := chat.NewLessonStore("data/lessons")
	if err != nil {
		log.Fatalf("Failed to init lesson store: %v", err)
	}

	srv := &Server{
		indexCache:    newLRUCache(maxCacheSize),
		lessons:       lessons,
		engine:        extractor.NewEngine(ocrEngine),
		ingestStatus:  &IngestStatus{Phase: "idle"},
		providerKeys:  providerKeys,
		defaultLLM:    defaultLLM,
		embedProvider: embedProvider,
		embedAPIKey:   embedAPIKey,
		ocrAvailable:  ocrErr == nil,
		rasterizerOk:  rasterizerOk,
	}

	mux := http.NewServeMux()

	// Query endpoints
	mux.HandleFunc("/api/query", srv.handleQuery)
	mux.HandleFunc("/api/batch", srv.handleBatch)
	mux.HandleFunc("/api/stats", srv.handleStats)
	mux.HandleFunc("/api/providers", srv.handleProviders)
	mux.HandleFunc("/api/chat/ws", srv.handleChatWS)

	// Unit-grounding endpoints
	mux.HandleFunc("/api/units/context", srv.handleUnitContext)
	mux.HandleFunc("/api/units", srv.handleUnits)
	mux.HandleFunc("/api/tables", srv.handleTables)

	// Upload & ingestion endpoints
	mux.HandleFunc("/api/upload", srv.handleUpload)
	mux.HandleFunc("/api/ingest", srv.handleIngest)
	mux.HandleFunc("/api/ingest/status", srv.handleIngestStatus)
	mux.HandleFunc("/api/ingest/cancel", srv.handleCancelIngest)
	mux.HandleFunc("/api/files", srv.handleFiles)
	mux.HandleFunc("/api/files/delete", srv.handleDeleteSingleFile)
	mux.HandleFunc("/api/settings", srv.handleSettings)
	mux.HandleFunc("/api/index/status", srv.handleIndexStatus)

	// Lesson endpoints
	mux.HandleFunc("/api/lessons", srv.handleLessons)
	mux.HandleFunc("/api/lessons/activate", srv.handleActivateLesson)
	mux.HandleFunc("/api/lessons/delete", srv.handleDeleteLesson)
	mux.HandleFunc("/api/lessons/rename", srv.handleRenameLesson)

	// Chat thread endpoints
	mux.HandleFunc("/api/chats", srv.handleChats)
	mux.HandleFunc("/api/chats/delete", srv.handleDeleteChat)
	mux.HandleFunc("/api/chats/messages", srv.handleMessages)
	mux.HandleFunc("/api/chats/rename", srv.handleRenameChat)

	// Static files
	mux.Handle("/", http.FileServer(http.Dir("web")))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Lessonforge server starting on http://localhost:%s", port)
	if err := http.ListenAndServe(":"+port, corsMiddleware(mux)); err != nil {
		log.Fatal(err)
	}
}
