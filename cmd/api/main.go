package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/seanblong/docrag/internal/ai"
	"github.com/seanblong/docrag/internal/answer"
	"github.com/seanblong/docrag/internal/config"
	"github.com/seanblong/docrag/internal/ingest"
	"github.com/seanblong/docrag/internal/store"
	"github.com/seanblong/docrag/pkg/models"
)

const (
	ingestTimeout = 120 * time.Second
	queryTimeout  = 30 * time.Second
	listTimeout   = 5 * time.Second
)

type ingestRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type queryRequest struct {
	Question string `json:"question"`
}

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("docrag-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Str("ingest_policy", cfg.IngestPolicy).Msg("starting docrag api")

	ctx := context.Background()

	client, err := newAIClient(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	dim := client.Dim()
	logger.Info().Int("embedding_dim", dim).Msg("AI client initialized")
	if dim == 0 {
		log.Fatal("embedding dimension must be set")
	}

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	pipeline := ingest.New(client, st, cfg.ChunkSize, cfg.EmbedWorkers, ingest.Policy(cfg.IngestPolicy))
	engine := answer.NewEngine(client, st, cfg.TopK)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "docrag API",
			"endpoints": map[string]string{
				"ingest":    "/ingest",
				"query":     "/query",
				"documents": "/documents",
			},
		})
	})

	mux.HandleFunc("POST /ingest", func(w http.ResponseWriter, r *http.Request) {
		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("%w: invalid JSON body", models.ErrValidation))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), ingestTimeout)
		defer cancel()

		res, err := pipeline.Ingest(ctx, req.Name, req.Content)
		if err != nil {
			writeError(w, err)
			return
		}

		hlog.FromRequest(r).Info().Int64("document_id", res.DocumentID).Int("chunks", res.ChunkCount).Msg("ingested")
		writeJSON(w, http.StatusOK, map[string]any{
			"message":    "Document ingested successfully",
			"documentId": res.DocumentID,
			"chunks":     res.ChunkCount,
		})
	})

	mux.HandleFunc("POST /query", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("%w: invalid JSON body", models.ErrValidation))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
		defer cancel()

		ans, err := engine.Answer(ctx, req.Question)
		if err != nil {
			writeError(w, err)
			return
		}

		hlog.FromRequest(r).Info().Str("path", "/query").Dur("dur", time.Since(start)).Msg("served")
		writeJSON(w, http.StatusOK, ans)
	})

	mux.HandleFunc("GET /documents", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), listTimeout)
		defer cancel()

		docs, err := st.ListDocuments(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
	})

	mux.HandleFunc("GET /documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := documentID(r)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), listTimeout)
		defer cancel()

		doc, err := st.GetDocument(ctx, id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	})

	mux.HandleFunc("GET /documents/{id}/chunks", func(w http.ResponseWriter, r *http.Request) {
		id, err := documentID(r)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), listTimeout)
		defer cancel()

		chunks, err := st.GetChunks(ctx, id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
	})

	mux.HandleFunc("DELETE /documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := documentID(r)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), listTimeout)
		defer cancel()

		doc, err := st.DeleteDocument(ctx, id)
		if err != nil {
			writeError(w, err)
			return
		}

		hlog.FromRequest(r).Info().Int64("document_id", doc.ID).Msg("deleted")
		writeJSON(w, http.StatusOK, map[string]any{
			"message":         "Document deleted successfully",
			"deletedDocument": doc,
		})
	})

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}

// newAIClient builds the provider client from configuration and wraps it
// with the resilience layer. Constructed once here, injected everywhere.
func newAIClient(ctx context.Context, cfg config.Specification) (ai.Client, error) {
	var clientConfig *ai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Provider:   ai.ProviderOpenAI,
		}
	case "vertexai", "google":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderVertexAI,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}

	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, err
	}
	return ai.NewResilient(client, ai.ResilientConfig{
		RequestsPerMinute: cfg.ProviderRPM,
		MaxRetries:        cfg.EmbedRetries,
	}), nil
}

// documentID parses the {id} path segment.
func documentID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: invalid document ID", models.ErrValidation)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// writeError maps an error to its stable external category and status.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}

	code := models.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case "validation":
		status = http.StatusBadRequest
	case "not_found":
		status = http.StatusNotFound
	case "provider":
		status = http.StatusBadGateway
	case "timeout":
		status = http.StatusGatewayTimeout
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}
