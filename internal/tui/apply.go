package tui

import (
	"fmt"

	"github.com/sprite-ai/mistborn/internal/model"
	"github.com/sprite-ai/mistborn/internal/patch"
)

// Result holds the outcome of a browsing session.
type Result struct {
	// Label is the accepted strategy key, or the selector's pick when the
	// user quit without accepting.
	Label    string
	Accepted bool
}

// SelectionText renders the result the way a selection reply names a
// patch, so it resolves back to Label.
func (r Result) SelectionText() string {
	for _, e := range model.Strategies {
		if e.Key == r.Label {
			return fmt.Sprintf("Patch %d", e.Ordinal)
		}
	}
	return ""
}

// Reapply reconciles files against the candidate the user settled on.
// It returns nil, nil when the user kept the selector's pick.
func (r Result) Reapply(rec *patch.Reconciler, files []model.ChangedFile, cs model.CandidateSet, picked string) (*patch.Reconciliation, error) {
	if !r.Accepted || r.Label == picked {
		return nil, nil
	}
	return rec.Reconcile(files, cs, r.SelectionText())
}
