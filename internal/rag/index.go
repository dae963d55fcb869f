// Package rag holds the in-memory retrieval index shared by every
// request in the process. Documents accumulate for the process lifetime;
// there is no deletion and no per-session namespacing.
package rag

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/textsplitter"

	"datachat-agent/internal/utils"
)

const (
	chunkSize    = 1000
	chunkOverlap = 200
	defaultTopK  = 4

	// NotInitializedMessage is returned by Search before any document
	// has been indexed.
	NotInitializedMessage = "Vector store is not initialized. Please upload a PDF first."
)

// Searcher is the retrieval surface used by the ingestor and the agent's
// document-search tool. Implementations never fail a Search call; every
// degraded state is reported inside the returned string.
type Searcher interface {
	AddPDF(ctx context.Context, raw []byte) error
	AddDocument(ctx context.Context, text string) error
	Search(ctx context.Context, query string) string
}

type chunk struct {
	content string
	vector  []float32
}

// Index is a lazily-built nearest-neighbor text store. The first
// AddDocument call populates it; later calls extend it. Safe for
// concurrent use across requests.
type Index struct {
	mu       sync.RWMutex
	chunks   []chunk
	embedder embeddings.Embedder
	splitter textsplitter.RecursiveCharacter
	topK     int
	logger   utils.ExtendedLogger
}

// NewIndex creates an empty index on top of the given embedder.
func NewIndex(embedder embeddings.Embedder, logger utils.ExtendedLogger) *Index {
	return &Index{
		embedder: embedder,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
		topK:   defaultTopK,
		logger: logger,
	}
}

// AddPDF extracts the document's text page by page and indexes it.
func (ix *Index) AddPDF(ctx context.Context, raw []byte) error {
	loader := documentloaders.NewPDF(bytes.NewReader(raw), int64(len(raw)))
	pages, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to read PDF: %w", err)
	}

	var text strings.Builder
	for _, page := range pages {
		text.WriteString(page.PageContent)
	}
	return ix.AddDocument(ctx, text.String())
}

// AddDocument splits text into overlapping chunks, embeds them, and
// appends them to the index.
func (ix *Index) AddDocument(ctx context.Context, text string) error {
	parts, err := ix.splitter.SplitText(text)
	if err != nil {
		return fmt.Errorf("failed to split document: %w", err)
	}
	if len(parts) == 0 {
		return fmt.Errorf("document contains no indexable text")
	}

	vectors, err := ix.embedder.EmbedDocuments(ctx, parts)
	if err != nil {
		return fmt.Errorf("failed to embed document: %w", err)
	}
	if len(vectors) != len(parts) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(parts))
	}

	ix.mu.Lock()
	for i, part := range parts {
		ix.chunks = append(ix.chunks, chunk{content: part, vector: vectors[i]})
	}
	total := len(ix.chunks)
	ix.mu.Unlock()

	ix.logger.Infof("[RAG] indexed %d chunks (%d total)", len(parts), total)
	return nil
}

// Search embeds the query and returns the top matching chunks joined by
// newlines, in ranked order. Degraded states come back as text.
func (ix *Index) Search(ctx context.Context, query string) string {
	ix.mu.RLock()
	snapshot := make([]chunk, len(ix.chunks))
	copy(snapshot, ix.chunks)
	ix.mu.RUnlock()

	if len(snapshot) == 0 {
		return NotInitializedMessage
	}

	queryVector, err := ix.embedder.EmbedQuery(ctx, query)
	if err != nil {
		ix.logger.Errorf("[RAG] query embedding failed: %v", err)
		return fmt.Sprintf("Document search failed: %v", err)
	}

	type scored struct {
		content string
		score   float64
	}
	ranked := make([]scored, 0, len(snapshot))
	for _, c := range snapshot {
		ranked = append(ranked, scored{content: c.content, score: cosineSimilarity(queryVector, c.vector)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	k := ix.topK
	if k > len(ranked) {
		k = len(ranked)
	}
	results := make([]string, 0, k)
	for _, r := range ranked[:k] {
		results = append(results, r.content)
	}
	return strings.Join(results, "\n")
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Unconfigured stands in for the index when no embedder could be built
// (typically a missing credential). Callers use it exactly like a real
// index; every call answers with a clear not-configured message.
type Unconfigured struct {
	Reason string
}

func (u Unconfigured) AddPDF(ctx context.Context, raw []byte) error {
	return fmt.Errorf("document indexing is not configured: %s", u.Reason)
}

func (u Unconfigured) AddDocument(ctx context.Context, text string) error {
	return fmt.Errorf("document indexing is not configured: %s", u.Reason)
}

func (u Unconfigured) Search(ctx context.Context, query string) string {
	return fmt.Sprintf("Document search is not configured: %s", u.Reason)
}
