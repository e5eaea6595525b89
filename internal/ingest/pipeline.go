// Package ingest orchestrates chunking, embedding and persistence for one
// document: all-or-nothing by default, best-effort when configured.
package ingest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/seanblong/docrag/internal/ai"
	"github.com/seanblong/docrag/internal/chunker"
	"github.com/seanblong/docrag/internal/store"
	"github.com/seanblong/docrag/pkg/models"
)

// Policy decides what a per-chunk embedding failure means for the document.
type Policy string

const (
	// PolicyAbort fails the whole ingestion on the first chunk failure;
	// nothing is persisted.
	PolicyAbort Policy = "abort"
	// PolicyBestEffort persists the chunks that embedded successfully and
	// reports the ordinals of the ones that did not.
	PolicyBestEffort Policy = "best-effort"
)

// Pipeline ingests documents: chunk, embed, persist.
type Pipeline struct {
	Client    ai.Client
	Store     store.DocumentStore
	ChunkSize int
	// Workers bounds concurrent embedding calls within one ingestion.
	Workers int
	Policy  Policy
}

// New creates a Pipeline with defaults filled in.
func New(client ai.Client, st store.DocumentStore, chunkSize, workers int, policy Policy) *Pipeline {
	if chunkSize <= 0 {
		chunkSize = chunker.DefaultMaxLen
	}
	if workers <= 0 {
		workers = 4
	}
	if policy == "" {
		policy = PolicyAbort
	}
	return &Pipeline{
		Client:    client,
		Store:     st,
		ChunkSize: chunkSize,
		Workers:   workers,
		Policy:    policy,
	}
}

// Ingest splits text into chunks, embeds them with bounded concurrency and
// persists the document with its chunks in a single transaction. The caller's
// context bounds the whole call.
func (p *Pipeline) Ingest(ctx context.Context, name, text string) (models.IngestResult, error) {
	if name == "" || text == "" {
		return models.IngestResult{}, fmt.Errorf("%w: missing 'name' or 'content'", models.ErrValidation)
	}

	chunks := chunker.Split(text, p.ChunkSize)
	if len(chunks) == 0 {
		// Whole documents without terminal punctuation would otherwise
		// silently produce an empty, unqueryable document.
		return models.IngestResult{}, fmt.Errorf("%w: text contains no sentences", models.ErrValidation)
	}

	rows, failed, err := p.embedAll(ctx, chunks)
	if err != nil {
		return models.IngestResult{}, err
	}

	doc, err := p.Store.CreateDocumentWithChunks(ctx, name, rows)
	if err != nil {
		return models.IngestResult{}, err
	}

	log.Info().Int64("document_id", doc.ID).Str("name", doc.Name).
		Int("chunks", len(rows)).Int("failed", len(failed)).Msg("document ingested")

	return models.IngestResult{
		DocumentID:     doc.ID,
		ChunkCount:     len(rows),
		FailedOrdinals: failed,
	}, nil
}

// embedAll embeds every chunk, at most p.Workers calls in flight. Results
// keep their ordinal, so completion order never matters. Under PolicyAbort
// the first failure cancels the group and fails the ingestion; under
// PolicyBestEffort failures are collected per chunk and only an ingestion
// with zero surviving chunks fails.
func (p *Pipeline) embedAll(ctx context.Context, chunks []string) ([]store.ChunkInput, []int, error) {
	vecs := make([][]float32, len(chunks))
	errs := make([]error, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)

	for i, content := range chunks {
		g.Go(func() error {
			vec, err := p.Client.Embed(gctx, content)
			if err != nil {
				if p.Policy == PolicyAbort {
					return fmt.Errorf("embed chunk %d: %w", i, err)
				}
				log.Warn().Err(err).Int("ordinal", i).Msg("chunk embedding failed, skipping")
				errs[i] = err
				return nil
			}
			vecs[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	rows := make([]store.ChunkInput, 0, len(chunks))
	var failed []int
	for i, vec := range vecs {
		if errs[i] != nil {
			failed = append(failed, i)
			continue
		}
		rows = append(rows, store.ChunkInput{Ordinal: i, Content: chunks[i], Embedding: vec})
	}

	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("all %d chunks failed to embed: %w", len(chunks), errs[failed[0]])
	}
	return rows, failed, nil
}
