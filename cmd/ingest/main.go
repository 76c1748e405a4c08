package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lessonforge/internal/extractor"
	"lessonforge/internal/indexer"
	"lessonforge/internal/retriever"
	"lessonforge/internal/tables"

	"github.com/joho/godotenv"
)

func main() {
	corpusDir := flag.String("corpus", "corpus", "directory of documents to ingest")
	outDir := flag.String("out", "data", "directory for the built indexes")
	extractOnly := flag.Bool("extract-only", false, "extract and report statistics without embedding")
	query := flag.String("query", "", "run a test query against the built index")
	flag.Parse()

	_ = godotenv.Load() // Ignore error if .env doesn't exist, we will check os.Getenv below
	embedProvider := os.Getenv("EMBEDDING_PROVIDER")
	embedAPIKey := os.Getenv("EMBEDDING_API_KEY")
	if embedAPIKey == "" {
		embedAPIKey = os.Getenv("OPENAI_API_KEY") // Fallback
	}
	if embedAPIKey == "" && !*extractOnly {
		log.Fatal("Embedding key (EMBEDDING_API_KEY or OPENAI_API_KEY) environment variable is required")
	}

	ocrEngine, ocrErr := extractor.NewOCREngine()
	if ocrErr != nil {
		fmt.Println("OCR unavailable, scanned pages will be skipped")
	}
	engine := extractor.NewEngine(ocrEngine)

	files, err := os.ReadDir(*corpusDir)
	if err != nil {
		log.Fatalf("Failed to read corpus directory: %v", err)
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	var idx *indexer.Index
	if !*extractOnly {
		bm25Path := filepath.Join(*outDir, "bm25.index")
		os.RemoveAll(bm25Path)
		idx, err = indexer.NewIndex(embedProvider, embedAPIKey, "", bm25Path)
		if err != nil {
			log.Fatalf("Failed to initialize index: %v", err)
		}
	}

	start := time.Now()
	var allChunks []indexer.Chunk
	totalPages, totalSections, totalTables := 0, 0, 0

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(file.Name()))
		switch ext {
		case ".pdf", ".docx", ".txt", ".md":
		default:
			continue
		}
		path := filepath.Join(*corpusDir, file.Name())

		fmt.Printf("Processing %s...\n", file.Name())

		buf, err := os.ReadFile(path)
		if err != nil {
			log.Printf("  read failed: %v", err)
			continue
		}

		docChunks, err := engine.ExtractDocument(buf, file.Name())
		if err != nil {
			log.Printf("  extraction failed: %v", err)
			continue
		}

		outline := indexer.OutlineDocument(docChunks)
		totalPages += len(docChunks)
		totalSections += len(outline.Sections)

		tableCount := 0
		if ext == ".pdf" {
			res := tables.Extract(engine, buf)
			for _, pt := range res.Pages {
				tableCount += len(pt.Tables)
			}
			totalTables += tableCount
		}

		fmt.Printf("  %d pages, %d sections, %d tables\n",
			len(docChunks), len(outline.Sections), tableCount)
		for _, sec := range outline.Sections {
			fmt.Printf("    %s (pp.%d-%d)\n", sec.Name, sec.PageStart, sec.PageEnd)
		}

		if *extractOnly {
			continue
		}

		idx.AddOutline(outline)
		chunks := idx.ChunkPages(docChunks)
		allChunks = append(allChunks, chunks...)
		fmt.Printf("  %d chunks\n", len(chunks))
	}

	fmt.Printf("\nExtracted %d pages, %d sections, %d tables in %v\n",
		totalPages, totalSections, totalTables, time.Since(start).Round(time.Millisecond))

	if *extractOnly {
		return
	}
	if len(allChunks) == 0 {
		log.Fatal("No chunks produced, nothing to index")
	}

	fmt.Printf("Embedding %d chunks...\n", len(allChunks))
	ctx := context.Background()
	err = idx.EmbedAndIndex(ctx, allChunks, func(total, done int) {
		fmt.Printf("\r  %d/%d", done, total)
	}, 0)
	fmt.Println()
	if err != nil {
		log.Fatalf("Embedding failed: %v", err)
	}

	vectorsPath := filepath.Join(*outDir, "vectors.json")
	if err := idx.SaveVectors(vectorsPath); err != nil {
		log.Fatalf("Failed to save vectors: %v", err)
	}
	fmt.Printf("Index built in %v (%s)\n", time.Since(start).Round(time.Second), *outDir)

	if *query != "" {
		ret := retriever.NewRetriever(idx)
		results, err := ret.Search(ctx, *query, 5)
		if err != nil {
			log.Fatalf("Search failed: %v", err)
		}
		fmt.Printf("\nTop results for %q:\n", *query)
		for i, res := range results {
			fmt.Printf("%d. [%s p.%d] %s (score %.4f)\n",
				i+1, res.Document, res.PageNumber, res.Section, res.Score)
		}
	}
}
