package patch

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sprite-ai/mistborn/internal/llm"
	"github.com/sprite-ai/mistborn/internal/metrics"
	"github.com/sprite-ai/mistborn/internal/model"
	"github.com/sprite-ai/mistborn/internal/prompt"
	"github.com/sprite-ai/mistborn/internal/retrieval"
)

// RAGState is a state of the retrieval-augmented generation loop.
type RAGState int

const (
	Querying RAGState = iota
	Prompting
	Deciding
	Done
	TimedOut
)

func (s RAGState) String() string {
	switch s {
	case Querying:
		return "querying"
	case Prompting:
		return "prompting"
	case Deciding:
		return "deciding"
	case Done:
		return "done"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends the loop.
func (s RAGState) Terminal() bool { return s == Done || s == TimedOut }

// MarshalText encodes the state by name.
func (s RAGState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// RAGResult is the outcome of one retrieval-augmented generation.
type RAGResult struct {
	Candidate model.CandidatePatch `json:"candidate"`
	// State is Done when the model stopped asking for context, TimedOut when
	// the iteration cap was reached first.
	State RAGState `json:"state"`
	// Iterations counts query/prompt round-trips.
	Iterations int `json:"iterations"`
}

// Defaults for RAGStrategy.
const (
	DefaultTopK          = 5
	DefaultMaxIterations = 5
)

// RAGStrategy grounds a patch in retrieved exemplars, re-querying for as
// long as the model asks for more context.
type RAGStrategy struct {
	LLM   llm.Client
	Index retrieval.Index
	TopK  int
	// MaxIterations caps round-trips; <= 0 leaves the loop unbounded.
	MaxIterations int
	Log           *zap.Logger
}

// NewRAGStrategy returns a strategy with the default K and iteration cap.
func NewRAGStrategy(c llm.Client, idx retrieval.Index, log *zap.Logger) *RAGStrategy {
	if log == nil {
		log = zap.NewNop()
	}
	return &RAGStrategy{
		LLM:           c,
		Index:         idx,
		TopK:          DefaultTopK,
		MaxIterations: DefaultMaxIterations,
		Log:           log,
	}
}

// Generate runs the loop to a terminal state. The candidate is always the
// last completion received.
func (r *RAGStrategy) Generate(ctx context.Context, files []model.ChangedFile, report string) (RAGResult, error) {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	k := r.TopK
	if k <= 0 {
		k = DefaultTopK
	}
	filesText := prompt.FormatFiles(files)

	var (
		state     = Querying
		acc       []string
		retrieved []string
		last      string
		rounds    int
	)
	for !state.Terminal() {
		switch state {
		case Querying:
			rounds++
			vec, err := r.LLM.Embed(ctx, report+strings.Join(acc, "\n"))
			if err != nil {
				return RAGResult{}, err
			}
			recs, err := r.Index.Search(ctx, vec, k)
			if err != nil {
				return RAGResult{}, fmt.Errorf("retrieval search: %w", err)
			}
			retrieved = retrieved[:0]
			for _, rec := range recs {
				retrieved = append(retrieved, rec.Text)
			}
			log.Debug("retrieved exemplars", zap.Int("round", rounds), zap.Int("records", len(recs)))
			state = Prompting

		case Prompting:
			out, err := r.LLM.Complete(ctx, prompt.RAG(filesText, report, retrieved))
			if err != nil {
				return RAGResult{}, err
			}
			last = out
			state = Deciding

		case Deciding:
			acc = append(acc, last)
			switch {
			case !strings.Contains(strings.ToLower(last), prompt.NeedMoreContext):
				state = Done
			case r.MaxIterations > 0 && rounds >= r.MaxIterations:
				state = TimedOut
				log.Warn("retrieval loop hit iteration cap", zap.Int("max_iterations", r.MaxIterations))
			default:
				state = Querying
			}
		}
	}

	metrics.RAGIterations.WithLabelValues(state.String()).Observe(float64(rounds))
	return RAGResult{
		Candidate:  model.CandidatePatch{Strategy: model.RetrievalAugmented, RawText: last},
		State:      state,
		Iterations: rounds,
	}, nil
}
