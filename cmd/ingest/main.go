// Command ingest walks a directory of text files and ingests each file as
// one document through the same pipeline the API uses.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/seanblong/docrag/internal/ai"
	"github.com/seanblong/docrag/internal/config"
	"github.com/seanblong/docrag/internal/ingest"
	"github.com/seanblong/docrag/internal/store"
	"github.com/seanblong/docrag/pkg/models"
)

func main() {
	fs := pflag.NewFlagSet("docrag-ingest", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx := context.Background()

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
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}

	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatal(err)
	}
	if client.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}
	resilient := ai.NewResilient(client, ai.ResilientConfig{
		RequestsPerMinute: cfg.ProviderRPM,
		MaxRetries:        cfg.EmbedRetries,
	})

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	if err := st.Migrate(ctx, client.Dim()); err != nil {
		log.Fatal(err)
	}

	pipeline := ingest.New(resilient, st, cfg.ChunkSize, cfg.EmbedWorkers, ingest.Policy(cfg.IngestPolicy))

	var ingested, skipped int
	err = godirwalk.Walk(cfg.IngestRoot, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			if !isTextFile(path) {
				return nil
			}

			b, err := os.ReadFile(path)
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("failed to read file")
				skipped++
				return nil
			}

			name := rel(cfg.IngestRoot, path)
			res, err := pipeline.Ingest(ctx, name, string(b))
			if err != nil {
				if errors.Is(err, models.ErrValidation) {
					logger.Warn().Err(err).Str("path", path).Msg("skipping file")
					skipped++
					return nil
				}
				return err
			}

			logger.Info().Str("name", name).Int64("document_id", res.DocumentID).
				Int("chunks", res.ChunkCount).Int("failed", len(res.FailedOrdinals)).Msg("ingested")
			ingested++
			return nil
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	logger.Info().Int("ingested", ingested).Int("skipped", skipped).Msg("batch ingest complete")
}

// isTextFile reports whether the path looks like ingestible plain text.
func isTextFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".text", ".md", ".markdown":
		return true
	}
	return false
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return r
}
