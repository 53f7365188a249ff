package patch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sprite-ai/mistborn/internal/llm"
	"github.com/sprite-ai/mistborn/internal/metrics"
	"github.com/sprite-ai/mistborn/internal/model"
	"github.com/sprite-ai/mistborn/internal/prompt"
)

// Selector asks the model to pick the best candidate.
type Selector struct {
	LLM llm.Client
	Log *zap.Logger
}

// NewSelector returns a Selector.
func NewSelector(c llm.Client, log *zap.Logger) *Selector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Selector{LLM: c, Log: log}
}

// SelectBest issues one comparison prompt. The reply is returned verbatim as
// ChosenText; its "Patch N" reference decides ChosenLabel.
func (s *Selector) SelectBest(ctx context.Context, candidates model.CandidateSet) (model.SelectionResult, error) {
	if len(candidates) == 0 {
		return model.SelectionResult{}, fmt.Errorf("select best: no candidates")
	}
	reply, err := s.LLM.Complete(ctx, prompt.Selection(candidates))
	if err != nil {
		return model.SelectionResult{}, fmt.Errorf("select best: %w", err)
	}
	label := ResolveLabel(reply)
	metrics.Selections.WithLabelValues(label).Inc()
	if s.Log != nil {
		s.Log.Info("selected candidate", zap.String("strategy", label))
	}
	return model.SelectionResult{ChosenLabel: label, ChosenText: reply}, nil
}
