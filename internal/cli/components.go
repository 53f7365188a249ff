package cli

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sprite-ai/mistborn/internal/config"
	"github.com/sprite-ai/mistborn/internal/detect"
	"github.com/sprite-ai/mistborn/internal/llm"
	"github.com/sprite-ai/mistborn/internal/patch"
	"github.com/sprite-ai/mistborn/internal/retrieval"
)

// components is everything a command needs to detect and patch.
type components struct {
	client     llm.Client
	detector   *detect.Detector
	pipeline   *patch.Pipeline
	reconciler *patch.Reconciler
	matcher    patch.Matcher
}

func newOpenAI(c config.Config, log *zap.Logger) *llm.OpenAIClient {
	return llm.NewOpenAIClient(llm.OpenAIOptions{
		APIKey:         c.OpenAI.APIKey,
		BaseURL:        c.OpenAI.BaseURL,
		Model:          c.Model.Chat,
		EmbeddingModel: c.Model.Embedding,
		Logger:         log,
	})
}

// newClient wraps the provider client in the configured middleware chain.
func newClient(c config.Config, raw llm.Client, log *zap.Logger) llm.Client {
	return llm.Wrap(raw,
		llm.WithLogging(log),
		llm.CacheEmbeddings(c.Model.EmbedCache),
		llm.RateLimit(c.Model.RPS, c.Model.Burst),
		llm.WithTimeout(c.Model.Timeout),
	)
}

// newIndex opens the configured retrieval backend.
func newIndex(c config.Config, log *zap.Logger) (retrieval.Index, error) {
	var idx retrieval.Index
	switch c.Retrieval.Backend {
	case config.BackendWeaviate:
		w, err := retrieval.NewWeaviateIndex(c.Retrieval.Weaviate.URL, c.Retrieval.Weaviate.Class, log)
		if err != nil {
			return nil, err
		}
		idx = w
	default:
		f, err := retrieval.LoadFlatIndex(c.Retrieval.IndexPath)
		if err != nil {
			return nil, fmt.Errorf("loading index (run `mistborn index build` first): %w", err)
		}
		log.Debug("loaded flat index", zap.String("path", c.Retrieval.IndexPath), zap.Int("records", f.Len()))
		idx = f
	}
	return retrieval.WithSnippetLimit(idx, c.Retrieval.SnippetLimit), nil
}

// buildComponents validates c and assembles the detector and pipeline
// around client and idx.
func buildComponents(c config.Config, client llm.Client, idx retrieval.Index, log *zap.Logger) (*components, error) {
	matcher, err := patch.MatcherByName(c.Patches.Matcher)
	if err != nil {
		return nil, err
	}
	rag := patch.NewRAGStrategy(client, idx, log)
	rag.TopK = c.Retrieval.TopK
	rag.MaxIterations = c.Retrieval.MaxIterations

	rec := patch.NewReconciler(matcher, log)
	return &components{
		client:     client,
		detector:   detect.NewDetector(client, log),
		reconciler: rec,
		matcher:    matcher,
		pipeline: &patch.Pipeline{
			Generator:  patch.NewGenerator(client, rag, log),
			Selector:   patch.NewSelector(client, log),
			Reconciler: rec,
			Log:        log,
		},
	}, nil
}

// loadComponents builds everything from the process config against the
// real provider.
func loadComponents(log *zap.Logger) (*components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	raw := newOpenAI(cfg, log)
	idx, err := newIndex(cfg, log)
	if err != nil {
		return nil, err
	}
	return buildComponents(cfg, newClient(cfg, raw, log), idx, log)
}
