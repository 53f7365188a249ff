// Package patch generates candidate fixes with several prompting strategies,
// picks the best one and maps it back onto the changed files.
package patch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sprite-ai/mistborn/internal/llm"
	"github.com/sprite-ai/mistborn/internal/model"
	"github.com/sprite-ai/mistborn/internal/prompt"
)

// Generator produces one candidate per strategy.
type Generator struct {
	LLM llm.Client
	RAG *RAGStrategy
	Log *zap.Logger
}

// NewGenerator returns a Generator.
func NewGenerator(c llm.Client, rag *RAGStrategy, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{LLM: c, RAG: rag, Log: log}
}

// Generate runs all five strategies concurrently and returns their
// completions in strategy table order. Any failure aborts the whole set.
func (g *Generator) Generate(ctx context.Context, files []model.ChangedFile, report string) (model.CandidateSet, RAGResult, error) {
	if g.RAG == nil {
		return nil, RAGResult{}, errors.New("generate: retrieval strategy not configured")
	}
	log := g.Log
	if log == nil {
		log = zap.NewNop()
	}
	filesText := prompt.FormatFiles(files)

	// Each goroutine owns one slot, so no locking is needed.
	out := make(model.CandidateSet, len(model.Strategies))
	var ragResult RAGResult

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(len(model.Strategies))
	for i, e := range model.Strategies {
		if e.Strategy == model.RetrievalAugmented {
			eg.Go(func() error {
				res, err := g.RAG.Generate(ctx, files, report)
				if err != nil {
					return fmt.Errorf("strategy %s: %w", e.Key, err)
				}
				ragResult = res
				out[i] = res.Candidate
				log.Debug("candidate ready", zap.String("strategy", e.Key),
					zap.Stringer("state", res.State), zap.Int("iterations", res.Iterations))
				return nil
			})
			continue
		}
		eg.Go(func() error {
			p, err := prompt.ForStrategy(e.Strategy, filesText, report)
			if err != nil {
				return err
			}
			text, err := g.LLM.Complete(ctx, p)
			if err != nil {
				return fmt.Errorf("strategy %s: %w", e.Key, err)
			}
			out[i] = model.CandidatePatch{Strategy: e.Strategy, RawText: text}
			log.Debug("candidate ready", zap.String("strategy", e.Key), zap.Int("bytes", len(text)))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, RAGResult{}, err
	}
	return out, ragResult, nil
}
