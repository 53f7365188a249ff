package patch

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sprite-ai/mistborn/internal/metrics"
	"github.com/sprite-ai/mistborn/internal/model"
)

// ErrNoPatchForKey is returned when the selected label has no candidate.
var ErrNoPatchForKey = errors.New("no patch found for selected key")

// Reconciliation is the result of mapping a selected patch onto files.
type Reconciliation struct {
	Label   string              `json:"label"`
	Code    string              `json:"code"`
	Files   []model.ChangedFile `json:"files"`
	Matched []string            `json:"matched"`
	// Miss is set when no file matched; Files is then the input unchanged.
	Miss bool `json:"miss"`
}

// Reconciler maps the selected candidate's code back onto changed files.
type Reconciler struct {
	Matcher Matcher
	Log     *zap.Logger
}

// NewReconciler returns a Reconciler; a nil matcher means SubstringMatcher.
func NewReconciler(m Matcher, log *zap.Logger) *Reconciler {
	if m == nil {
		m = SubstringMatcher
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{Matcher: m, Log: log}
}

// Reconcile resolves the label in reportText, extracts that candidate's code
// and replaces the content of every file the matcher finds in it. Output
// order and length always equal the input's.
func (r *Reconciler) Reconcile(files []model.ChangedFile, candidates model.CandidateSet, reportText string) (*Reconciliation, error) {
	label := ResolveLabel(reportText)
	raw, ok := candidates.Get(label)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPatchForKey, label)
	}
	code := ExtractCodeBlock(raw)

	m := r.Matcher
	if m == nil {
		m = SubstringMatcher
	}

	out := &Reconciliation{
		Label: label,
		Code:  code,
		Files: make([]model.ChangedFile, len(files)),
	}
	for i, f := range files {
		if m.Matches(code, f.Filename) {
			out.Matched = append(out.Matched, f.Filename)
			f.Content = code
		}
		out.Files[i] = f
	}

	if len(out.Matched) == 0 {
		out.Miss = true
		copy(out.Files, files)
		metrics.ReconcileMisses.Inc()
		r.log().Warn("no matching file found for selected patch",
			zap.String("label", label),
			zap.Int("files", len(files)))
		return out, nil
	}

	r.log().Info("reconciled patch",
		zap.String("label", label),
		zap.Strings("matched", out.Matched))
	return out, nil
}

func (r *Reconciler) log() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}
