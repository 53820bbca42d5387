package pipeline

import (
	"context"
	"fmt"

	"pyfin/internal/config"
	"pyfin/internal/embedding"
	"pyfin/internal/logging"
	"pyfin/internal/storage"
	"pyfin/internal/vectorstore"
)

// Factories builds the stores and the embedder. Tests replace them with
// in-memory implementations.
type Factories struct {
	NewRelational func(ctx context.Context, cfg storage.Config) (storage.Store, error)
	NewVector     func(ctx context.Context, cfg vectorstore.Config) (vectorstore.Store, error)
	NewEmbedder   func(ctx context.Context, cfg embedding.Config) (embedding.Embedder, error)
}

// DefaultFactories uses the registered backends and the Gemini embedder.
func DefaultFactories() Factories {
	return Factories{
		NewRelational: storage.New,
		NewVector:     vectorstore.New,
		NewEmbedder:   embedding.NewGemini,
	}
}

// Open returns a Runner with only the clients in needs. Missing credentials
// for a needed client fail with a configuration error before anything is
// dialled.
func (f Factories) Open(ctx context.Context, cfg config.Config, needs Needs, log *logging.Logger) (*Runner, error) {
	r := &Runner{
		Options: Options{
			BatchSize:         cfg.Runtime.BatchSize,
			VectorBatchSize:   cfg.Runtime.VectorBatchSize,
			DedupeWithinBatch: cfg.Runtime.DedupeWithinBatch,
		},
		Logger: log,
	}

	if needs.Relational {
		sc, err := cfg.RelationalConfig()
		if err != nil {
			return nil, err
		}
		st, err := f.NewRelational(ctx, sc)
		if err != nil {
			return nil, fmt.Errorf("relational store (%s): %w", sc.Kind, err)
		}
		r.Rel = st
	}
	if needs.Vector {
		vc, err := cfg.VectorConfig()
		if err != nil {
			r.Close()
			return nil, err
		}
		vs, err := f.NewVector(ctx, vc)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("vector store (%s): %w", vc.Kind, err)
		}
		r.Vec = vs
	}
	if needs.Embedder {
		ec, err := cfg.EmbeddingConfig()
		if err != nil {
			r.Close()
			return nil, err
		}
		emb, err := f.NewEmbedder(ctx, ec)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("embedder: %w", err)
		}
		r.Embedder = emb
	}
	return r, nil
}

// Needs selects the clients Open builds.
type Needs struct {
	Relational bool
	Vector     bool
	Embedder   bool
}

// NeedsFor returns the clients a run over in requires. Dry runs never embed.
func NeedsFor(in Input, dryRun bool) Needs {
	return Needs{
		Relational: in.hasRecords(),
		Vector:     in.hasVectors(),
		Embedder:   in.hasVectors() && !dryRun,
	}
}

// Close releases the stores. It is safe on a partially opened Runner.
func (r *Runner) Close() {
	if r.Rel != nil {
		r.Rel.Close()
	}
	if r.Vec != nil {
		_ = r.Vec.Close()
	}
}
