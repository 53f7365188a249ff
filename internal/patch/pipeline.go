package patch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sprite-ai/mistborn/internal/model"
)

// Stage names reported to a pipeline Observer.
const (
	StageGenerating  = "generating"
	StageSelecting   = "selecting"
	StageReconciling = "reconciling"
	StageDone        = "done"
)

// Event is a progress notification from Pipeline.Run.
type Event struct {
	Stage   string        `json:"stage"`
	Detail  string        `json:"detail,omitempty"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Outcome is everything a pipeline run produced.
type Outcome struct {
	Candidates model.CandidateSet    `json:"candidates"`
	Selection  model.SelectionResult `json:"selection"`
	Files      []model.ChangedFile   `json:"files"`
	Matched    []string              `json:"matched"`
	Miss       bool                  `json:"miss"`
	RAG        RAGResult             `json:"rag"`
	Code       string                `json:"code"`
}

// Pipeline chains generation, selection and reconciliation.
type Pipeline struct {
	Generator  *Generator
	Selector   *Selector
	Reconciler *Reconciler
	Log        *zap.Logger
	// Observer, if set, is called synchronously at each stage.
	Observer func(Event)
}

// Run proposes a fix for report over files. The report's analysis text seeds
// every strategy.
func (p *Pipeline) Run(ctx context.Context, files []model.ChangedFile, report model.VulnerabilityReport) (*Outcome, error) {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	start := time.Now()
	emit := func(stage, detail string) {
		if p.Observer != nil {
			p.Observer(Event{Stage: stage, Detail: detail, Elapsed: time.Since(start)})
		}
	}

	emit(StageGenerating, "")
	candidates, rag, err := p.Generator.Generate(ctx, files, report.Analysis)
	if err != nil {
		return nil, err
	}
	log.Info("generated candidates", zap.Int("count", len(candidates)),
		zap.Stringer("rag_state", rag.State), zap.Int("rag_iterations", rag.Iterations))

	emit(StageSelecting, "")
	sel, err := p.Selector.SelectBest(ctx, candidates)
	if err != nil {
		return nil, err
	}

	emit(StageReconciling, sel.ChosenLabel)
	rec, err := p.Reconciler.Reconcile(files, candidates, sel.ChosenText)
	if err != nil {
		return nil, err
	}

	emit(StageDone, sel.ChosenLabel)
	return &Outcome{
		Candidates: candidates,
		Selection:  sel,
		Files:      rec.Files,
		Matched:    rec.Matched,
		Miss:       rec.Miss,
		RAG:        rag,
		Code:       rec.Code,
	}, nil
}
