package indexer

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/blevesearch/bleve/v2"

	"lessonforge/internal/extractor"
)

// ========== ChunkPages ==========

func TestChunkPages_ShortPage(t *testing.T) {
	// A page with fewer words than the chunk size produces exactly 1 chunk
	idx := &Index{}
	text := "This is a short document with only a few words."
	chunks := idx.ChunkPages([]extractor.DocumentChunk{
		{PageNumber: 1, Document: "test.pdf", Text: text},
	})

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != text {
		t.Errorf("chunk text mismatch: got %q", chunks[0].Text)
	}
	if chunks[0].Document != "test.pdf" {
		t.Errorf("expected document 'test.pdf', got %q", chunks[0].Document)
	}
	if chunks[0].PageNumber != 1 {
		t.Errorf("expected page 1, got %d", chunks[0].PageNumber)
	}
}

func TestChunkPages_ExactlyChunkSize(t *testing.T) {
	words := make([]string, chunkWords)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ")

	idx := &Index{}
	chunks := idx.ChunkPages([]extractor.DocumentChunk{
		{PageNumber: 1, Document: "test.pdf", Text: text},
	})

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk for exactly %d words, got %d", chunkWords, len(chunks))
	}
}

func TestChunkPages_LargePageProducesMultipleChunks(t *testing.T) {
	words := make([]string, 2*chunkWords)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ")

	idx := &Index{}
	chunks := idx.ChunkPages([]extractor.DocumentChunk{
		{PageNumber: 1, Document: "test.pdf", Text: text},
	})

	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks for %d words, got %d", 2*chunkWords, len(chunks))
	}

	for i, chunk := range chunks {
		wordCount := len(strings.Fields(chunk.Text))
		if i < len(chunks)-1 && wordCount != chunkWords {
			t.Errorf("chunk %d: expected %d words, got %d", i, chunkWords, wordCount)
		}
		if wordCount > chunkWords {
			t.Errorf("chunk %d: exceeded %d words (got %d)", i, chunkWords, wordCount)
		}
	}
}

func TestChunkPages_ParentTextPreserved(t *testing.T) {
	words := make([]string, 2*chunkWords)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ")

	idx := &Index{}
	chunks := idx.ChunkPages([]extractor.DocumentChunk{
		{PageNumber: 1, Document: "test.pdf", Text: text},
	})

	for i, chunk := range chunks {
		if chunk.ParentText != text {
			t.Errorf("chunk %d: ParentText should be full page text", i)
		}
	}
}

func TestChunkPages_MultiplePages(t *testing.T) {
	idx := &Index{}
	chunks := idx.ChunkPages([]extractor.DocumentChunk{
		{PageNumber: 1, Document: "test.pdf", Text: "Page one content here."},
		{PageNumber: 2, Document: "test.pdf", Text: "Page two content here."},
	})

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks (one per page), got %d", len(chunks))
	}
	if chunks[0].PageNumber != 1 {
		t.Errorf("first chunk should be page 1, got %d", chunks[0].PageNumber)
	}
	if chunks[1].PageNumber != 2 {
		t.Errorf("second chunk should be page 2, got %d", chunks[1].PageNumber)
	}
}

func TestChunkPages_EmptyInput(t *testing.T) {
	idx := &Index{}
	if chunks := idx.ChunkPages(nil); len(chunks) != 0 {
		t.Errorf("expected 0 chunks for nil input, got %d", len(chunks))
	}
}

func TestChunkPages_UniqueChunkIDs(t *testing.T) {
	words := make([]string, 500)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ")

	idx := &Index{}
	chunks := idx.ChunkPages([]extractor.DocumentChunk{
		{PageNumber: 1, Document: "a.pdf", Text: text},
		{PageNumber: 2, Document: "a.pdf", Text: text},
	})

	ids := make(map[string]bool)
	for _, c := range chunks {
		if ids[c.ID] {
			t.Errorf("duplicate chunk ID: %s", c.ID)
		}
		ids[c.ID] = true
	}
}

func TestChunkPages_SectionAssigned(t *testing.T) {
	idx := &Index{
		Outlines: []DocumentOutline{{
			Document: "book.pdf",
			Sections: []Section{
				{Name: "Unit 1", PageStart: 1, PageEnd: 5},
				{Name: "Unit 2", PageStart: 6, PageEnd: 10},
			},
		}},
	}
	chunks := idx.ChunkPages([]extractor.DocumentChunk{
		{PageNumber: 7, Document: "book.pdf", Text: "content inside the second unit"},
	})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Section != "Unit 2" {
		t.Errorf("section = %q, want Unit 2", chunks[0].Section)
	}
}

// ========== sectionFor ==========

func TestSectionFor_MatchesCorrectSection(t *testing.T) {
	idx := &Index{
		Outlines: []DocumentOutline{{
			Document: "report.pdf",
			Sections: []Section{
				{Name: "Unit 1", PageStart: 1, PageEnd: 5},
				{Name: "Unit 2", PageStart: 6, PageEnd: 15},
				{Name: "Unit 3", PageStart: 16, PageEnd: 20},
			},
		}},
	}

	tests := []struct {
		doc      string
		page     int
		expected string
	}{
		{"report.pdf", 1, "Unit 1"},
		{"report.pdf", 5, "Unit 1"},
		{"report.pdf", 6, "Unit 2"},
		{"report.pdf", 15, "Unit 2"},
		{"report.pdf", 20, "Unit 3"},
		{"report.pdf", 21, ""}, // beyond last section
		{"other.pdf", 1, ""},   // wrong document
	}

	for _, tt := range tests {
		got := idx.sectionFor(tt.doc, tt.page)
		if got != tt.expected {
			t.Errorf("sectionFor(%q, %d) = %q, want %q", tt.doc, tt.page, got, tt.expected)
		}
	}
}

// ========== OutlineDocument ==========

func TestOutlineDocument_SectionsSpanPages(t *testing.T) {
	chunks := []extractor.DocumentChunk{
		{PageNumber: 1, Document: "book.pdf", Text: "front matter without headings"},
		{PageNumber: 2, Document: "book.pdf", Text: "Unit 1 Forces\nbodies accelerate"},
		{PageNumber: 3, Document: "book.pdf", Text: "more about forces"},
		{PageNumber: 4, Document: "book.pdf", Text: "Unit 2 Energy\nwork and power"},
	}
	outline := OutlineDocument(chunks)

	if outline.Document != "book.pdf" {
		t.Errorf("document = %q", outline.Document)
	}
	if len(outline.Sections) != 2 {
		t.Fatalf("got %d sections, want 2: %+v", len(outline.Sections), outline.Sections)
	}
	s1 := outline.Sections[0]
	if s1.Name != "Unit 1" || s1.PageStart != 2 || s1.PageEnd != 3 {
		t.Errorf("section 1 = %+v", s1)
	}
	s2 := outline.Sections[1]
	if s2.Name != "Unit 2" || s2.PageStart != 4 || s2.PageEnd != 4 {
		t.Errorf("section 2 = %+v", s2)
	}
	if outline.Title != "Unit 1 - Forces" {
		t.Errorf("title = %q, want first section title", outline.Title)
	}
}

func TestOutlineDocument_NoHeadings(t *testing.T) {
	chunks := []extractor.DocumentChunk{
		{PageNumber: 1, Document: "plain.pdf", Text: "no structural markers anywhere"},
	}
	outline := OutlineDocument(chunks)
	if len(outline.Sections) != 0 {
		t.Errorf("expected no sections, got %+v", outline.Sections)
	}
	if outline.Title != "plain" {
		t.Errorf("title should fall back to the filename stem, got %q", outline.Title)
	}
}

func TestOutlineDocument_Empty(t *testing.T) {
	outline := OutlineDocument(nil)
	if outline.Document != "" || len(outline.Sections) != 0 {
		t.Errorf("empty input should yield zero outline, got %+v", outline)
	}
}

// ========== AddOutline ==========

func TestAddOutline_ThreadSafe(t *testing.T) {
	idx := &Index{}

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			idx.AddOutline(DocumentOutline{Document: "doc.pdf", Title: "Test"})
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if len(idx.Outlines) != 10 {
		t.Errorf("expected 10 outlines, got %d", len(idx.Outlines))
	}
}

// ========== AddDocument ==========

type constantEmbedder struct{}

func (constantEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func TestAddDocument_OutlinesChunksAndIndexes(t *testing.T) {
	bm, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		t.Fatalf("bleve mem index: %v", err)
	}
	idx := &Index{BM25Index: bm, Embedder: constantEmbedder{}}

	pages := []extractor.DocumentChunk{
		{PageNumber: 1, Document: "bio.pdf", Text: "Unit 1 Cells\nCells are the basic unit of life."},
		{PageNumber: 2, Document: "bio.pdf", Text: "Organelles perform specialized functions."},
	}
	if err := idx.AddDocument(context.Background(), pages); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	if len(idx.Outlines) != 1 {
		t.Fatalf("expected 1 outline, got %d", len(idx.Outlines))
	}
	if len(idx.Outlines[0].Sections) == 0 {
		t.Fatal("expected at least one section in the outline")
	}
	if len(idx.Chunks) == 0 {
		t.Fatal("expected chunks after ingestion")
	}
	for _, c := range idx.Chunks {
		if len(c.Embedding) != 3 {
			t.Errorf("chunk %s: expected embedding of length 3, got %d", c.ID, len(c.Embedding))
		}
	}

	count, err := bm.DocCount()
	if err != nil {
		t.Fatalf("DocCount: %v", err)
	}
	if count != uint64(len(idx.Chunks)) {
		t.Errorf("expected %d indexed docs, got %d", len(idx.Chunks), count)
	}
}

// ========== EmbedAndIndex cancellation ==========

type blockingEmbedder struct{}

func (blockingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEmbedAndIndex_CancelReturnsPromptly(t *testing.T) {
	bm, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		t.Fatalf("bleve mem index: %v", err)
	}
	idx := &Index{BM25Index: bm, Embedder: blockingEmbedder{}}

	// More batches than the worker pool so dispatch is still blocked on
	// the semaphore when the context is cancelled
	chunks := make([]Chunk, 1600)
	for i := range chunks {
		chunks[i] = Chunk{ID: fmt.Sprintf("c%d", i), Text: "word"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan error, 1)
	go func() { returned <- idx.EmbedAndIndex(ctx, chunks, nil, 0) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-returned:
		if err == nil {
			t.Fatal("expected an error after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("EmbedAndIndex did not return after cancellation")
	}
}
