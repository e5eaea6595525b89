package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/seanblong/docrag/pkg/models"
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
	dim  int
}

// DocumentStore defines the methods that the Store must implement.
type DocumentStore interface {
	Migrate(ctx context.Context, dim int) error
	CreateDocumentWithChunks(ctx context.Context, name string, chunks []ChunkInput) (models.Document, error)
	NearestNeighbors(ctx context.Context, vec []float32, k int) ([]models.RetrievalHit, error)
	GetDocument(ctx context.Context, id int64) (models.Document, error)
	ListDocuments(ctx context.Context) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id int64) (models.Document, error)
	GetChunks(ctx context.Context, documentID int64) ([]models.Chunk, error)
}

// ChunkInput is one chunk ready for persistence.
type ChunkInput struct {
	Ordinal   int
	Content   string
	Embedding []float32
}

// DefaultName is assigned to documents ingested without a display name.
const DefaultName = "Untitled Document"

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies necessary database migrations and schema setup. dim fixes
// the embedding dimension for the lifetime of the deployment.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
  id         BIGSERIAL PRIMARY KEY,
  name       TEXT NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chunks (
  id          BIGSERIAL PRIMARY KEY,
  document_id BIGINT NOT NULL REFERENCES documents(id),
  ordinal     INT NOT NULL,
  content     TEXT NOT NULL,
  embedding   vector(%d) NOT NULL,
  created_at  TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS chunks_document_ordinal_uidx
  ON chunks (document_id, ordinal);

CREATE INDEX IF NOT EXISTS chunks_document_id_idx
  ON chunks (document_id);

CREATE INDEX IF NOT EXISTS chunks_embedding_idx
  ON chunks USING ivfflat (embedding vector_l2_ops) WITH (lists = 100);
`
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim)); err != nil {
		return fmt.Errorf("%w: migrate: %v", models.ErrStorage, err)
	}
	s.dim = dim
	return nil
}

// Dim returns the embedding dimension fixed by Migrate.
func (s *Store) Dim() int { return s.dim }

// CreateDocumentWithChunks inserts the document row and all of its chunks
// in a single transaction. Either everything persists or nothing does; an
// aborted ingestion leaves no orphaned chunks and no empty document behind.
func (s *Store) CreateDocumentWithChunks(ctx context.Context, name string, chunks []ChunkInput) (models.Document, error) {
	if name == "" {
		name = DefaultName
	}
	for _, c := range chunks {
		if s.dim > 0 && len(c.Embedding) != s.dim {
			return models.Document{}, fmt.Errorf("%w: chunk %d embedding dimension %d, want %d",
				models.ErrStorage, c.Ordinal, len(c.Embedding), s.dim)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Document{}, fmt.Errorf("%w: begin: %v", models.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var doc models.Document
	doc.Name = name
	err = tx.QueryRow(ctx,
		"INSERT INTO documents (name) VALUES ($1) RETURNING id, created_at",
		name,
	).Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		return models.Document{}, fmt.Errorf("%w: insert document: %v", models.ErrStorage, err)
	}

	const q = "INSERT INTO chunks (document_id, ordinal, content, embedding) VALUES ($1, $2, $3, $4)"
	for _, c := range chunks {
		if _, err := tx.Exec(ctx, q, doc.ID, c.Ordinal, c.Content, pgvector.NewVector(c.Embedding)); err != nil {
			return models.Document{}, fmt.Errorf("%w: insert chunk %d: %v", models.ErrStorage, c.Ordinal, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Document{}, fmt.Errorf("%w: commit: %v", models.ErrStorage, err)
	}
	doc.ChunkCount = len(chunks)
	return doc, nil
}

// NearestNeighbors returns up to k chunks closest to vec under L2 distance,
// ascending. Equal distances break ties by ascending chunk id so result
// order is deterministic. An empty store yields an empty slice, not an error.
func (s *Store) NearestNeighbors(ctx context.Context, vec []float32, k int) ([]models.RetrievalHit, error) {
	if k <= 0 {
		return []models.RetrievalHit{}, nil
	}

	const q = `
SELECT id, content, embedding <-> $1 AS distance
FROM chunks
ORDER BY distance ASC, id ASC
LIMIT $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("%w: nearest neighbors: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	hits := []models.RetrievalHit{}
	for rows.Next() {
		var h models.RetrievalHit
		if err := rows.Scan(&h.ChunkID, &h.Content, &h.Distance); err != nil {
			return nil, fmt.Errorf("%w: scan hit: %v", models.ErrStorage, err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: nearest neighbors: %v", models.ErrStorage, err)
	}
	return hits, nil
}

// GetDocument returns the document with its chunk count. The count is
// converted to an integer here at the adapter; the raw representation never
// leaks upward.
func (s *Store) GetDocument(ctx context.Context, id int64) (models.Document, error) {
	const q = `
SELECT d.id, d.name, d.created_at, COUNT(c.id)
FROM documents d
LEFT JOIN chunks c ON d.id = c.document_id
WHERE d.id = $1
GROUP BY d.id, d.name, d.created_at`

	var doc models.Document
	err := s.pool.QueryRow(ctx, q, id).Scan(&doc.ID, &doc.Name, &doc.CreatedAt, &doc.ChunkCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Document{}, fmt.Errorf("%w: document %d", models.ErrNotFound, id)
		}
		return models.Document{}, fmt.Errorf("%w: get document: %v", models.ErrStorage, err)
	}
	return doc, nil
}

// ListDocuments returns all document summaries, most recently created first.
func (s *Store) ListDocuments(ctx context.Context) ([]models.Document, error) {
	const q = `
SELECT d.id, d.name, d.created_at, COUNT(c.id)
FROM documents d
LEFT JOIN chunks c ON d.id = c.document_id
GROUP BY d.id, d.name, d.created_at
ORDER BY d.created_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.Name, &d.CreatedAt, &d.ChunkCount); err != nil {
			return nil, fmt.Errorf("%w: scan document: %v", models.ErrStorage, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", models.ErrStorage, err)
	}
	return docs, nil
}

// DeleteDocument removes a document and all of its chunks as one
// transaction; if either delete fails, neither persists.
func (s *Store) DeleteDocument(ctx context.Context, id int64) (models.Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Document{}, fmt.Errorf("%w: begin: %v", models.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DELETE FROM chunks WHERE document_id = $1", id); err != nil {
		return models.Document{}, fmt.Errorf("%w: delete chunks: %v", models.ErrStorage, err)
	}

	var doc models.Document
	err = tx.QueryRow(ctx,
		"DELETE FROM documents WHERE id = $1 RETURNING id, name, created_at", id,
	).Scan(&doc.ID, &doc.Name, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Document{}, fmt.Errorf("%w: document %d", models.ErrNotFound, id)
		}
		return models.Document{}, fmt.Errorf("%w: delete document: %v", models.ErrStorage, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Document{}, fmt.Errorf("%w: commit: %v", models.ErrStorage, err)
	}
	return doc, nil
}

// GetChunks returns the chunks of a document ordered by ordinal, embeddings
// included so stored vectors round-trip exactly.
func (s *Store) GetChunks(ctx context.Context, documentID int64) ([]models.Chunk, error) {
	// Existence check first so a missing document is NotFound rather than
	// an empty list.
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)", documentID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("%w: get chunks: %v", models.ErrStorage, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: document %d", models.ErrNotFound, documentID)
	}

	const q = `
SELECT id, document_id, ordinal, content, embedding, created_at
FROM chunks
WHERE document_id = $1
ORDER BY ordinal ASC`

	rows, err := s.pool.Query(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: get chunks: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	chunks := []models.Chunk{}
	for rows.Next() {
		var c models.Chunk
		var vec pgvector.Vector
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Content, &vec, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %v", models.ErrStorage, err)
		}
		c.Embedding = vec.Slice()
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: get chunks: %v", models.ErrStorage, err)
	}
	return chunks, nil
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
