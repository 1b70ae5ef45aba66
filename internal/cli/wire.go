package cli

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pmorton/custodian/internal/config"
	"github.com/pmorton/custodian/internal/engine"
	"github.com/pmorton/custodian/internal/graph"
	"github.com/pmorton/custodian/internal/store"
)

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

func openStore(cfg config.Config) (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	return store.Open(dbPath)
}

// pickEmbedder probes Ollama and falls back to TF-IDF over the stored corpus.
// A nil return means no embedder could be built; graph rebuilds are skipped.
func pickEmbedder(cfg config.Config, db *store.DB) engine.Embedder {
	e := cfg.Embedding
	if e.Provider != "tfidf" && engine.ProbeOllama(e.OllamaURL, e.Model) {
		log.Info().Str("model", e.Model).Msg("embedder: ollama")
		return engine.NewOllamaEmbedder(e.OllamaURL, e.Model, e.Dimensions)
	}
	emb, err := engine.NewTFIDFEmbedder(db, 512)
	if err != nil {
		log.Warn().Err(err).Msg("tfidf embedder init failed, graph rebuilds disabled")
		return nil
	}
	log.Info().Msg("embedder: tfidf (fallback)")
	return emb
}

// buildRunner wires the full maintenance pipeline over an open store.
func buildRunner(cfg config.Config, db *store.DB) *engine.Runner {
	index := graph.NewIndex(db)
	verdicts := engine.NewVerdictEngine(cfg.Scoring, nil, nil, nil)
	recon := engine.NewBatchReconstructor(verdicts, cfg.Scoring.BatchSize, cfg.Scoring.ArchiveThreshold)
	applier := engine.NewLifecycleApplier(db, index)
	return engine.NewRunner(db, recon, applier, index, pickEmbedder(cfg, db))
}
