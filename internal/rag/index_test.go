package rag

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datachat-agent/internal/utils"
	"datachat-agent/pkg/logger"
)

func testLogger(t *testing.T) utils.ExtendedLogger {
	t.Helper()
	return logger.CreateTestLogger(filepath.Join(t.TempDir(), "rag.log"), "debug")
}

// keywordEmbedder maps texts onto a tiny deterministic vector space: one
// dimension per known keyword. Texts sharing keywords land close
// together, which is enough to exercise ranking.
type keywordEmbedder struct {
	keywords []string
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{keywords: []string{"cats", "dogs", "weather", "planets"}}
}

func (e *keywordEmbedder) embed(text string) []float32 {
	vec := make([]float32, len(e.keywords)+1)
	lower := strings.ToLower(text)
	for i, kw := range e.keywords {
		if strings.Contains(lower, kw) {
			vec[i] = 1
		}
	}
	vec[len(e.keywords)] = 0.01 // never a zero vector
	return vec
}

func (e *keywordEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *keywordEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func TestSearchBeforeAnyDocument(t *testing.T) {
	ix := NewIndex(newKeywordEmbedder(), testLogger(t))

	got := ix.Search(context.Background(), "anything")

	assert.Equal(t, NotInitializedMessage, got)
}

func TestSearchRanksByRelevance(t *testing.T) {
	ix := NewIndex(newKeywordEmbedder(), testLogger(t))
	require.NoError(t, ix.AddDocument(context.Background(), "All about cats and their habits."))
	require.NoError(t, ix.AddDocument(context.Background(), "A survey of planets in the solar system."))

	got := ix.Search(context.Background(), "tell me about cats")

	require.NotEqual(t, NotInitializedMessage, got)
	results := strings.Split(got, "\n")
	assert.Contains(t, results[0], "cats")
}

func TestDocumentsAccumulateAcrossAdds(t *testing.T) {
	ix := NewIndex(newKeywordEmbedder(), testLogger(t))
	require.NoError(t, ix.AddDocument(context.Background(), "Dogs are loyal."))
	require.NoError(t, ix.AddDocument(context.Background(), "Weather patterns shift seasonally."))

	got := ix.Search(context.Background(), "dogs and weather")

	assert.Contains(t, got, "Dogs")
	assert.Contains(t, got, "Weather")
}

func TestAddDocumentRejectsEmptyText(t *testing.T) {
	ix := NewIndex(newKeywordEmbedder(), testLogger(t))

	err := ix.AddDocument(context.Background(), "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no indexable text")
}

func TestUnconfiguredAnswersInText(t *testing.T) {
	u := Unconfigured{Reason: "GOOGLE_API_KEY environment variable is required"}

	got := u.Search(context.Background(), "anything")
	assert.Contains(t, got, "Document search is not configured")
	assert.Contains(t, got, "GOOGLE_API_KEY")

	err := u.AddPDF(context.Background(), []byte("%PDF"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document indexing is not configured")
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
