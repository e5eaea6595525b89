package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/seanblong/docrag/pkg/models"
)

// Client provides embedding and text-generation capabilities.
type Client interface {
	// Embed returns a fixed-dimension vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Complete generates text from a system instruction and a user prompt.
	// An empty response means "no answer generated", not an error.
	Complete(ctx context.Context, system, user string) (string, error)
	// Dim is the embedding dimension, fixed for the client's lifetime.
	Dim() int
}

// Provider errors. Both wrap models.ErrProvider; rate-limit and transport
// failures are kept distinct from malformed responses so the resilience
// layer can decide what is worth retrying.
var (
	ErrRateLimited = fmt.Errorf("%w: rate limited", models.ErrProvider)
	ErrBadResponse = fmt.Errorf("%w: malformed response", models.ErrProvider)
)

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey     string
	EmbedModel string
	ChatModel  string
	Dim        int
	ProjectID  string
	Provider   Provider
	Location   string
}

// NewClient creates a new AI client based on configuration. The client is
// constructed once at process start and injected into the pipeline and the
// retrieval engine.
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient is a stub implementation of the Client interface for testing
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	return &StubClient{dim: dim}
}

// Embed returns a zero vector of the configured dimension.
func (s *StubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, s.dim), nil
}

// Complete returns a canned answer so the rest of the system can run end
// to end without a real provider.
func (s *StubClient) Complete(ctx context.Context, system, user string) (string, error) {
	return "stub answer", nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
