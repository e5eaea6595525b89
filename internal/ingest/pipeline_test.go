package ingest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/seanblong/docrag/internal/store"
	"github.com/seanblong/docrag/pkg/models"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockAIClient implements ai.Client for testing
type MockAIClient struct {
	EmbedFunc    func(ctx context.Context, text string) ([]float32, error)
	CompleteFunc func(ctx context.Context, system, user string) (string, error)
	DimFunc      func() int
}

func (m *MockAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *MockAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, system, user)
	}
	return "mock answer", nil
}

func (m *MockAIClient) Dim() int {
	if m.DimFunc != nil {
		return m.DimFunc()
	}
	return 3
}

// MockDocumentStore implements store.DocumentStore for testing
type MockDocumentStore struct {
	CreateFunc func(ctx context.Context, name string, chunks []store.ChunkInput) (models.Document, error)
}

func (m *MockDocumentStore) Migrate(ctx context.Context, dim int) error { return nil }

func (m *MockDocumentStore) CreateDocumentWithChunks(ctx context.Context, name string, chunks []store.ChunkInput) (models.Document, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, name, chunks)
	}
	return models.Document{ID: 1, Name: name, ChunkCount: len(chunks)}, nil
}

func (m *MockDocumentStore) NearestNeighbors(ctx context.Context, vec []float32, k int) ([]models.RetrievalHit, error) {
	return []models.RetrievalHit{}, nil
}

func (m *MockDocumentStore) GetDocument(ctx context.Context, id int64) (models.Document, error) {
	return models.Document{}, models.ErrNotFound
}

func (m *MockDocumentStore) ListDocuments(ctx context.Context) ([]models.Document, error) {
	return []models.Document{}, nil
}

func (m *MockDocumentStore) DeleteDocument(ctx context.Context, id int64) (models.Document, error) {
	return models.Document{}, models.ErrNotFound
}

func (m *MockDocumentStore) GetChunks(ctx context.Context, documentID int64) ([]models.Chunk, error) {
	return []models.Chunk{}, nil
}

func TestIngestValidation(t *testing.T) {
	tests := []struct {
		name     string
		docName  string
		text     string
		expected error
	}{
		{name: "empty name", docName: "", text: "Some text.", expected: models.ErrValidation},
		{name: "empty text", docName: "Notes", text: "", expected: models.ErrValidation},
		{name: "both empty", docName: "", text: "", expected: models.ErrValidation},
		{name: "unpunctuated text yields no chunks", docName: "Notes", text: "no terminal punctuation here", expected: models.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storeCalled := false
			st := &MockDocumentStore{
				CreateFunc: func(ctx context.Context, name string, chunks []store.ChunkInput) (models.Document, error) {
					storeCalled = true
					return models.Document{}, nil
				},
			}
			p := New(&MockAIClient{}, st, 500, 4, PolicyAbort)

			_, err := p.Ingest(context.Background(), tt.docName, tt.text)
			if !errors.Is(err, tt.expected) {
				t.Errorf("Expected error %v, got %v", tt.expected, err)
			}
			if storeCalled {
				t.Error("Store must not be touched when validation fails")
			}
		})
	}
}

func TestIngestSuccess(t *testing.T) {
	var got []store.ChunkInput
	var gotName string
	st := &MockDocumentStore{
		CreateFunc: func(ctx context.Context, name string, chunks []store.ChunkInput) (models.Document, error) {
			gotName = name
			got = chunks
			return models.Document{ID: 42, Name: name, ChunkCount: len(chunks)}, nil
		},
	}
	client := &MockAIClient{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			// Embedding derived from the text length so each chunk gets a
			// distinguishable vector.
			return []float32{float32(len(text))}, nil
		},
	}
	p := New(client, st, 20, 4, PolicyAbort)

	res, err := p.Ingest(context.Background(), "Notes", "A cat sat. It was calm.")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if res.DocumentID != 42 {
		t.Errorf("Expected document id 42, got %d", res.DocumentID)
	}
	if res.ChunkCount != 2 {
		t.Errorf("Expected 2 chunks, got %d", res.ChunkCount)
	}
	if len(res.FailedOrdinals) != 0 {
		t.Errorf("Expected no failed ordinals, got %v", res.FailedOrdinals)
	}
	if gotName != "Notes" {
		t.Errorf("Expected document name 'Notes', got %q", gotName)
	}

	expected := []store.ChunkInput{
		{Ordinal: 0, Content: "A cat sat.", Embedding: []float32{10}},
		{Ordinal: 1, Content: "It was calm.", Embedding: []float32{12}},
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected chunks %+v, got %+v", expected, got)
	}
}

func TestIngestSingleChunk(t *testing.T) {
	st := &MockDocumentStore{
		CreateFunc: func(ctx context.Context, name string, chunks []store.ChunkInput) (models.Document, error) {
			if len(chunks) != 1 || chunks[0].Content != "Short sentence." {
				t.Errorf("Expected single chunk 'Short sentence.', got %+v", chunks)
			}
			return models.Document{ID: 7, Name: name, ChunkCount: len(chunks)}, nil
		},
	}
	p := New(&MockAIClient{}, st, 500, 4, PolicyAbort)

	res, err := p.Ingest(context.Background(), "Notes", "Short sentence.")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.DocumentID != 7 || res.ChunkCount != 1 {
		t.Errorf("Expected {7, 1}, got {%d, %d}", res.DocumentID, res.ChunkCount)
	}
}

func TestIngestAbortPolicy(t *testing.T) {
	// Embedding fails on the second of three chunks: nothing may persist.
	var calls int32
	client := &MockAIClient{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			if atomic.AddInt32(&calls, 1) == 2 {
				return nil, fmt.Errorf("%w: boom", models.ErrProvider)
			}
			return []float32{1}, nil
		},
	}
	storeCalled := false
	st := &MockDocumentStore{
		CreateFunc: func(ctx context.Context, name string, chunks []store.ChunkInput) (models.Document, error) {
			storeCalled = true
			return models.Document{}, nil
		},
	}
	// Single worker keeps the failure order deterministic.
	p := New(client, st, 10, 1, PolicyAbort)

	_, err := p.Ingest(context.Background(), "Notes", "One one. Two two. Three three.")
	if !errors.Is(err, models.ErrProvider) {
		t.Errorf("Expected provider error, got %v", err)
	}
	if storeCalled {
		t.Error("Abort policy must persist zero chunks for the document")
	}
}

func TestIngestBestEffortPolicy(t *testing.T) {
	client := &MockAIClient{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			if strings.HasPrefix(text, "Two") {
				return nil, fmt.Errorf("%w: boom", models.ErrProvider)
			}
			return []float32{1}, nil
		},
	}
	var got []store.ChunkInput
	st := &MockDocumentStore{
		CreateFunc: func(ctx context.Context, name string, chunks []store.ChunkInput) (models.Document, error) {
			got = chunks
			return models.Document{ID: 3, Name: name, ChunkCount: len(chunks)}, nil
		},
	}
	p := New(client, st, 10, 2, PolicyBestEffort)

	res, err := p.Ingest(context.Background(), "Notes", "One one. Two two. Three three.")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.ChunkCount != 2 {
		t.Errorf("Expected 2 surviving chunks, got %d", res.ChunkCount)
	}
	if !reflect.DeepEqual(res.FailedOrdinals, []int{1}) {
		t.Errorf("Expected failed ordinals [1], got %v", res.FailedOrdinals)
	}
	if len(got) != 2 || got[0].Ordinal != 0 || got[1].Ordinal != 2 {
		t.Errorf("Expected persisted ordinals 0 and 2, got %+v", got)
	}
}

func TestIngestBestEffortAllFailed(t *testing.T) {
	client := &MockAIClient{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, fmt.Errorf("%w: boom", models.ErrProvider)
		},
	}
	storeCalled := false
	st := &MockDocumentStore{
		CreateFunc: func(ctx context.Context, name string, chunks []store.ChunkInput) (models.Document, error) {
			storeCalled = true
			return models.Document{}, nil
		},
	}
	p := New(client, st, 10, 2, PolicyBestEffort)

	_, err := p.Ingest(context.Background(), "Notes", "One one. Two two.")
	if !errors.Is(err, models.ErrProvider) {
		t.Errorf("Expected provider error when every chunk fails, got %v", err)
	}
	if storeCalled {
		t.Error("No document may be created when every chunk fails")
	}
}

func TestIngestStoreError(t *testing.T) {
	st := &MockDocumentStore{
		CreateFunc: func(ctx context.Context, name string, chunks []store.ChunkInput) (models.Document, error) {
			return models.Document{}, fmt.Errorf("%w: connection reset", models.ErrStorage)
		},
	}
	p := New(&MockAIClient{}, st, 500, 4, PolicyAbort)

	_, err := p.Ingest(context.Background(), "Notes", "Short sentence.")
	if !errors.Is(err, models.ErrStorage) {
		t.Errorf("Expected storage error, got %v", err)
	}
}

func TestIngestBoundedConcurrency(t *testing.T) {
	const workers = 2

	var mu sync.Mutex
	inFlight, peak := 0, 0
	client := &MockAIClient{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()

			defer func() {
				mu.Lock()
				inFlight--
				mu.Unlock()
			}()
			return []float32{1}, nil
		},
	}
	p := New(client, &MockDocumentStore{}, 10, workers, PolicyAbort)

	text := strings.Repeat("Sentence here. ", 20)
	if _, err := p.Ingest(context.Background(), "Notes", text); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > workers {
		t.Errorf("Concurrency exceeded bound: peak %d, workers %d", peak, workers)
	}
}

func TestIngestContextCancellation(t *testing.T) {
	client := &MockAIClient{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				return []float32{1}, nil
			}
		},
	}
	p := New(client, &MockDocumentStore{}, 500, 4, PolicyAbort)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Ingest(ctx, "Notes", "Short sentence.")
	if err == nil {
		t.Error("Expected error from cancelled context, got nil")
	}
}

func TestNewDefaults(t *testing.T) {
	p := New(&MockAIClient{}, &MockDocumentStore{}, 0, 0, "")
	if p.ChunkSize != 500 {
		t.Errorf("Expected default chunk size 500, got %d", p.ChunkSize)
	}
	if p.Workers != 4 {
		t.Errorf("Expected default workers 4, got %d", p.Workers)
	}
	if p.Policy != PolicyAbort {
		t.Errorf("Expected default policy abort, got %q", p.Policy)
	}
}
