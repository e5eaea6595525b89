package models

import "time"

// Document is one ingested text, immutable after creation.
type Document struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	ChunkCount int       `json:"chunks_count"`
}

// Chunk is a bounded-length excerpt of a document, the unit of embedding
// and retrieval. The embedding is never serialized to API callers.
type Chunk struct {
	ID         int64     `json:"id"`
	DocumentID int64     `json:"document_id"`
	Ordinal    int       `json:"ordinal"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// RetrievalHit is a chunk matched by a nearest-neighbor query. Distance is
// L2 over the embedding space; smaller means more similar.
type RetrievalHit struct {
	ChunkID  int64   `json:"chunk_id"`
	Content  string  `json:"content"`
	Distance float64 `json:"distance"`
}

// IngestResult reports the outcome of ingesting one document.
type IngestResult struct {
	DocumentID int64 `json:"documentId"`
	ChunkCount int   `json:"chunks"`
	// FailedOrdinals lists chunks dropped under the best-effort policy.
	// Empty under the abort policy, which never persists a partial document.
	FailedOrdinals []int `json:"failed_ordinals,omitempty"`
}

// Answer is the result of a retrieval-augmented query.
type Answer struct {
	Text string `json:"answer"`
	// ContextUsed previews the retrieved chunks (first 100 characters of
	// each, ascending distance), not the full text sent to the model.
	ContextUsed []string `json:"contextUsed"`
}
