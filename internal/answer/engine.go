// Package answer implements retrieval-augmented question answering: embed
// the question, fetch the nearest chunks, and condition the generation
// model on them.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/seanblong/docrag/internal/ai"
	"github.com/seanblong/docrag/internal/store"
	"github.com/seanblong/docrag/pkg/models"
)

const (
	// DefaultTopK is the number of chunks retrieved per question.
	DefaultTopK = 5
	// snippetLen bounds the provenance preview returned to callers.
	snippetLen = 100
	// chunkSeparator joins retrieved chunks in the prompt so the model can
	// tell chunk boundaries apart.
	chunkSeparator = "\n---\n"

	systemPrompt = "Answer based on the context below:"
)

// Engine answers questions against the chunk store.
type Engine struct {
	Client ai.Client
	Store  store.DocumentStore
	TopK   int
}

// NewEngine creates an Engine with the provided AI client and store.
func NewEngine(client ai.Client, st store.DocumentStore, topK int) *Engine {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Engine{Client: client, Store: st, TopK: topK}
}

// Answer embeds the question, retrieves the TopK nearest chunks and asks
// the generation model for an answer grounded in them. Either a complete
// answer is returned or an error; never a half-built one. An empty store is
// not an error: the question is sent with no context.
func (e *Engine) Answer(ctx context.Context, question string) (models.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return models.Answer{}, fmt.Errorf("%w: missing 'question'", models.ErrValidation)
	}

	vec, err := e.Client.Embed(ctx, question)
	if err != nil {
		return models.Answer{}, fmt.Errorf("embed question: %w", err)
	}

	hits, err := e.Store.NearestNeighbors(ctx, vec, e.TopK)
	if err != nil {
		return models.Answer{}, err
	}

	contents := make([]string, len(hits))
	snippets := make([]string, len(hits))
	for i, h := range hits {
		contents[i] = h.Content
		snippets[i] = truncate(h.Content, snippetLen)
	}
	contextStr := strings.Join(contents, chunkSeparator)

	user := "Context:\n" + contextStr + "\n\nQuestion: " + question
	text, err := e.Client.Complete(ctx, systemPrompt, user)
	if err != nil {
		return models.Answer{}, fmt.Errorf("generate answer: %w", err)
	}
	if text == "" {
		text = "No answer generated."
	}

	return models.Answer{Text: text, ContextUsed: snippets}, nil
}

// truncate returns at most n runes of s without splitting a multi-byte
// character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
