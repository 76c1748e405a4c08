// Package indexer chunks extracted documents, embeds the chunks and
// maintains the two retrieval indexes: an in-memory vector store and a
// bleve BM25 index on disk.
package indexer

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"lessonforge/internal/extractor"
	"lessonforge/internal/segment"

	"github.com/blevesearch/bleve/v2"
	"github.com/sashabaranov/go-openai"
)

// Section is a detected unit of a document with its page span.
type Section struct {
	Name      string `json:"name"`
	PageStart int    `json:"page_start"`
	PageEnd   int    `json:"page_end"`
}

// DocumentOutline is the document-level structure derived from heading
// detection at ingest time.
type DocumentOutline struct {
	Document string    `json:"document"`
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
}

// Chunk is one embeddable piece of a document. Text is a small search
// chunk; ParentText is the full page it came from, handed to the
// generation service for context.
type Chunk struct {
	ID         string    `json:"id"`
	Document   string    `json:"document"`
	PageNumber int       `json:"page_number"`
	Text       string    `json:"text"`
	ParentText string    `json:"parent_text"`
	Section    string    `json:"section"`
	Embedding  []float32 `json:"embedding"`
}

// EmbeddingProvider turns texts into embedding vectors.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ProgressFunc is called during ingestion with (totalChunks, chunksDone).
type ProgressFunc func(total, done int)

// Chunking parameters: ~150 words per search chunk, overlapping so a
// sentence split across chunks is still findable.
const (
	chunkWords   = 150
	chunkOverlap = 30
)

type Index struct {
	Chunks    []Chunk
	Outlines  []DocumentOutline
	BM25Index bleve.Index
	Embedder  EmbeddingProvider
	mu        sync.Mutex // protects Chunks and Outlines during concurrent writes
}

func NewIndex(providerName, apiKey, modelName, bm25Path string) (*Index, error) {
	var bmIndex bleve.Index
	var err error

	if _, statErr := os.Stat(bm25Path); os.IsNotExist(statErr) {
		mapping := bleve.NewIndexMapping()
		bmIndex, err = bleve.New(bm25Path, mapping)
		if err != nil {
			return nil, err
		}
	} else {
		bmIndex, err = bleve.Open(bm25Path)
		if err != nil {
			return nil, err
		}
	}

	var embedder EmbeddingProvider
	providerName = strings.ToLower(providerName)
	switch providerName {
	case "huggingface":
		if modelName == "" {
			modelName = "BAAI/bge-small-en-v1.5"
		}
		embedder = &HuggingFaceEmbedder{apiKey: apiKey, model: modelName}
	case "openai", "":
		if modelName == "" {
			modelName = "text-embedding-3-small"
		}
		embedder = &OpenAIEmbedder{client: openai.NewClient(apiKey), model: modelName}
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", providerName)
	}

	return &Index{
		Chunks:    []Chunk{},
		BM25Index: bmIndex,
		Embedder:  embedder,
	}, nil
}

// OutlineDocument derives a document's section structure from heading
// detection over its pages. A page with a heading opens that section;
// sections run until the page before the next heading.
func OutlineDocument(docChunks []extractor.DocumentChunk) DocumentOutline {
	out := DocumentOutline{}
	if len(docChunks) == 0 {
		return out
	}
	out.Document = docChunks[0].Document
	out.Title = strings.TrimSuffix(out.Document, ".pdf")

	current := -1
	firstTitle := ""
	for _, page := range docChunks {
		m := segment.SplitIntoUnits(page.Text)
		keys := m.Keys()
		if len(keys) == 0 {
			if current >= 0 {
				out.Sections[current].PageEnd = page.PageNumber
			}
			continue
		}
		for _, key := range keys {
			if firstTitle == "" {
				if s, ok := m.Get(key); ok {
					firstTitle = s.Title
				}
			}
			out.Sections = append(out.Sections, Section{
				Name:      key,
				PageStart: page.PageNumber,
				PageEnd:   page.PageNumber,
			})
		}
		current = len(out.Sections) - 1
	}

	if firstTitle != "" {
		out.Title = firstTitle
	}
	return out
}

// AddDocument ingests extracted pages without progress reporting.
func (idx *Index) AddDocument(ctx context.Context, docChunks []extractor.DocumentChunk) error {
	return idx.AddDocumentWithProgress(ctx, docChunks, nil)
}

// AddDocumentWithProgress outlines the document, chunks its pages, then
// embeds and indexes the chunks with progress callbacks.
func (idx *Index) AddDocumentWithProgress(ctx context.Context, docChunks []extractor.DocumentChunk, progress ProgressFunc) error {
	if len(docChunks) > 0 {
		idx.AddOutline(OutlineDocument(docChunks))
	}

	indexChunks := idx.ChunkPages(docChunks)

	totalChunks := len(indexChunks)
	log.Printf("Chunking complete: %d chunks from %d pages", totalChunks, len(docChunks))
	if progress != nil {
		progress(totalChunks, 0)
	}

	return idx.EmbedAndIndex(ctx, indexChunks, progress, 0)
}

// ChunkPages splits extracted pages into overlapping word-window chunks
// linked to their full-page parent text. Pure on the Index apart from
// reading Outlines for section lookup; safe to call concurrently.
func (idx *Index) ChunkPages(docChunks []extractor.DocumentChunk) []Chunk {
	var indexChunks []Chunk

	for _, page := range docChunks {
		parentText := page.Text
		section := idx.sectionFor(page.Document, page.PageNumber)
		words := strings.Fields(page.Text)

		for i := 0; i < len(words); i += chunkWords - chunkOverlap {
			end := i + chunkWords
			if end > len(words) {
				end = len(words)
			}
			textChunk := strings.Join(words[i:end], " ")

			id := fmt.Sprintf("%s_p%d_c%d", page.Document, page.PageNumber, len(indexChunks))

			indexChunks = append(indexChunks, Chunk{
				ID:         id,
				Document:   page.Document,
				PageNumber: page.PageNumber,
				Text:       textChunk,
				ParentText: parentText,
				Section:    section,
			})

			if end == len(words) {
				break
			}
		}
	}

	return indexChunks
}

func (idx *Index) sectionFor(doc string, page int) string {
	for _, o := range idx.Outlines {
		if o.Document != doc {
			continue
		}
		for _, sec := range o.Sections {
			if page >= sec.PageStart && page <= sec.PageEnd {
				return sec.Name
			}
		}
	}
	return ""
}

// EmbedAndIndex embeds chunks and adds them to both the vector store and
// the BM25 index, batched with bounded concurrency and retry. Thread-safe.
func (idx *Index) EmbedAndIndex(ctx context.Context, chunks []Chunk, progress ProgressFunc, progressOffset int) error {
	if len(chunks) == 0 {
		return nil
	}

	totalChunks := len(chunks)

	batchSize := 200
	type batchJob struct {
		start int
		end   int
	}
	var jobs []batchJob
	for i := 0; i < len(chunks); i += batchSize {
		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		jobs = append(jobs, batchJob{start: i, end: end})
	}

	concurrency := 6
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once
	var doneCount int
	var doneMu sync.Mutex

dispatch:
	for _, job := range jobs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			errOnce.Do(func() { firstErr = ctx.Err() })
			break dispatch
		}
		wg.Add(1)

		go func(j batchJob) {
			defer wg.Done()
			defer func() { <-sem }()

			if ctx.Err() != nil {
				errOnce.Do(func() { firstErr = ctx.Err() })
				return
			}

			batch := chunks[j.start:j.end]
			var inputs []string
			for _, c := range batch {
				inputs = append(inputs, c.Text)
			}

			// Retry with exponential backoff (5 attempts)
			var embeddings [][]float32
			var err error
			for attempt := 0; attempt < 5; attempt++ {
				if ctx.Err() != nil {
					errOnce.Do(func() { firstErr = ctx.Err() })
					return
				}
				embeddings, err = idx.Embedder.Embed(ctx, inputs)
				if err == nil {
					break
				}
				if attempt < 4 {
					wait := time.Duration(3*(1<<uint(attempt))) * time.Second
					if wait > 20*time.Second {
						wait = 20 * time.Second
					}
					log.Printf("Embedding batch retry %d after %v: %v", attempt+1, wait, err)
					timer := time.NewTimer(wait)
					select {
					case <-timer.C:
					case <-ctx.Done():
						timer.Stop()
						errOnce.Do(func() { firstErr = ctx.Err() })
						return
					}
				}
			}
			if err != nil {
				errOnce.Do(func() {
					firstErr = fmt.Errorf("embedding error on batch: %w", err)
				})
				return
			}

			idx.mu.Lock()
			for k, emb := range embeddings {
				batch[k].Embedding = emb
				idx.Chunks = append(idx.Chunks, batch[k])

				bm25Err := idx.BM25Index.Index(batch[k].ID, map[string]interface{}{
					"id":      batch[k].ID,
					"text":    batch[k].Text,
					"doc":     batch[k].Document,
					"page":    batch[k].PageNumber,
					"section": batch[k].Section,
				})
				if bm25Err != nil {
					log.Printf("Failed to index BM25 for %s: %v", batch[k].ID, bm25Err)
				}
			}
			idx.mu.Unlock()

			doneMu.Lock()
			doneCount += len(batch)
			if progress != nil {
				progress(totalChunks, progressOffset+doneCount)
			}
			log.Printf("Embedded %d / %d chunks", doneCount, totalChunks)
			doneMu.Unlock()
		}(job)
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}

	return nil
}

// vectorStore wraps chunks and outlines for serialization.
type vectorStore struct {
	Chunks   []Chunk           `json:"chunks"`
	Outlines []DocumentOutline `json:"outlines,omitempty"`
}

// SaveVectors writes the vector store in both binary (fast) and JSON
// (fallback) formats.
func (idx *Index) SaveVectors(path string) error {
	store := vectorStore{
		Chunks:   idx.Chunks,
		Outlines: idx.Outlines,
	}

	gobPath := strings.TrimSuffix(path, ".json") + ".gob"
	if err := idx.saveVectorsBinary(gobPath, store); err != nil {
		log.Printf("Warning: failed to save binary vectors: %v", err)
	} else {
		log.Printf("Saved binary vectors: %s", gobPath)
	}

	data, err := json.Marshal(store)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (idx *Index) saveVectorsBinary(path string, store vectorStore) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(store)
}

// LoadVectors reads the vector store from disk, trying binary first.
func (idx *Index) LoadVectors(path string) error {
	start := time.Now()

	gobPath := strings.TrimSuffix(path, ".json") + ".gob"
	if _, err := os.Stat(gobPath); err == nil {
		if err := idx.loadVectorsBinary(gobPath); err == nil {
			log.Printf("Loaded %d chunks from binary in %v", len(idx.Chunks), time.Since(start))
			return nil
		}
		log.Printf("Binary load failed, falling back to JSON: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var store vectorStore
	if err := json.Unmarshal(data, &store); err == nil && len(store.Chunks) > 0 {
		idx.Chunks = store.Chunks
		idx.Outlines = store.Outlines
		log.Printf("Loaded %d chunks from JSON in %v", len(idx.Chunks), time.Since(start))
		return nil
	}
	// Legacy format: a bare chunks array.
	if err := json.Unmarshal(data, &idx.Chunks); err != nil {
		return err
	}
	log.Printf("Loaded %d chunks from legacy JSON in %v", len(idx.Chunks), time.Since(start))
	return nil
}

func (idx *Index) loadVectorsBinary(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var store vectorStore
	if err := gob.NewDecoder(f).Decode(&store); err != nil {
		return err
	}
	idx.Chunks = store.Chunks
	idx.Outlines = store.Outlines
	return nil
}

// AddOutline appends a document outline in a thread-safe way.
func (idx *Index) AddOutline(outline DocumentOutline) {
	idx.mu.Lock()
	idx.Outlines = append(idx.Outlines, outline)
	idx.mu.Unlock()
}

// Close closes the BM25 index. Must be called before opening another.
func (idx *Index) Close() error {
	if idx.BM25Index != nil {
		return idx.BM25Index.Close()
	}
	return nil
}

// ==========================================
// OpenAI Embedder
// ==========================================
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, err
	}

	var results [][]float32
	for _, d := range resp.Data {
		results = append(results, d.Embedding)
	}
	return results, nil
}

// ==========================================
// HuggingFace Embedder
// ==========================================
type HuggingFaceEmbedder struct {
	apiKey string
	model  string
}

func (e *HuggingFaceEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, _ := json.Marshal(map[string]interface{}{
		"inputs": texts,
	})

	url := fmt.Sprintf("https://router.huggingface.co/models/%s", e.model)
	req, _ := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HF api error: %d - %s", resp.StatusCode, string(bodyBytes))
	}

	var hfResp [][]float64
	if err := json.NewDecoder(resp.Body).Decode(&hfResp); err != nil {
		return nil, err
	}

	var results [][]float32
	for _, vec := range hfResp {
		var f32vec []float32
		for _, val := range vec {
			f32vec = append(f32vec, float32(val))
		}
		results = append(results, f32vec)
	}

	return results, nil
}
