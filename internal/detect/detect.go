// Package detect asks the model whether a commit's changes introduce a
// security vulnerability and turns its answer into a VulnerabilityReport.
package detect

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sprite-ai/mistborn/internal/llm"
	"github.com/sprite-ai/mistborn/internal/model"
	"github.com/sprite-ai/mistborn/internal/prompt"
)

// DefaultPatterns are the vulnerability classes the model is told to look for.
var DefaultPatterns = []string{
	"Buffer overflow due to unchecked strcpy or memcpy",
	"Format string vulnerability using printf without format specifier",
	"Use of gets which allows buffer overflow",
	"Integer overflow in memory allocation calculations",
	"Use after free from accessing freed memory",
	"Double free by calling free twice on same pointer",
	"Uninitialized memory read",
	"Null pointer dereference",
	"Integer signedness error leading to logic flaw",
}

const unknownLocation = "Unknown location"

// Detector runs the two-step detection: a free-form review, then a yes/no
// verdict on that review.
type Detector struct {
	LLM      llm.Client
	Patterns []string
	// Hints adds statically found risky lines to the pattern list.
	Hints bool
	Log   *zap.Logger
}

// NewDetector returns a Detector using DefaultPatterns and static hints.
func NewDetector(c llm.Client, log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{LLM: c, Patterns: DefaultPatterns, Hints: true, Log: log}
}

// Detect reviews files. An empty file set yields Status "no_code" without
// calling the model.
func (d *Detector) Detect(ctx context.Context, repoName string, files []model.ChangedFile) (*model.VulnerabilityReport, error) {
	if len(files) == 0 {
		return &model.VulnerabilityReport{Status: model.StatusNoCode, Summary: "No code to analyze"}, nil
	}
	if repoName == "" {
		repoName = "unknown"
	}

	patterns := d.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	if d.Hints {
		hints := Hints(files)
		if len(hints) > 0 {
			patterns = append(append([]string(nil), patterns...), hintLines(hints)...)
			d.log().Debug("static hints", zap.Int("count", len(hints)), zap.Stringer("max_risk", MaxRisk(hints)))
		}
	}

	analysis, err := d.LLM.Complete(ctx, prompt.Detection(repoName, files, patterns))
	if err != nil {
		return nil, fmt.Errorf("detection: %w", err)
	}

	bugs, err := d.extractBugs(ctx, analysis)
	if err != nil {
		return nil, err
	}
	d.log().Info("detection complete", zap.Int("files", len(files)), zap.Int("bugs", len(bugs)))

	return &model.VulnerabilityReport{
		Status:   model.StatusCompleted,
		Analysis: analysis,
		Bugs:     bugs,
		Summary:  Summarize(bugs),
	}, nil
}

func hintLines(hints []Hint) []string {
	out := make([]string, len(hints))
	for i, h := range hints {
		out[i] = "Suspicious " + h.String()
	}
	return out
}

// extractBugs asks for a yes/no verdict and, on yes, pulls bug lines out of
// the analysis.
func (d *Detector) extractBugs(ctx context.Context, analysis string) ([]model.Bug, error) {
	if strings.TrimSpace(analysis) == "" {
		return nil, nil
	}
	reply, err := d.LLM.Complete(ctx, prompt.YesNo(analysis))
	if err != nil {
		return nil, fmt.Errorf("verdict: %w", err)
	}
	if !strings.Contains(strings.ToLower(strings.TrimSpace(reply)), "yes") {
		return nil, nil
	}
	return ExtractBugs(analysis), nil
}

// ExtractBugs returns one Bug per line that starts with "bug:" or mentions
// "vulnerability". The location is the most recent "File:" header seen.
func ExtractBugs(analysis string) []model.Bug {
	var bugs []model.Bug
	location := unknownLocation
	for _, line := range strings.Split(analysis, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "file:") {
			if name := strings.TrimSpace(line[len("file:"):]); name != "" {
				location = name
			}
			continue
		}
		if strings.HasPrefix(lower, "bug:") || strings.Contains(lower, "vulnerability") {
			bugs = append(bugs, model.Bug{
				Description:       line,
				VulnerabilityType: ClassifyType(line),
				Location:          location,
			})
		}
	}
	return bugs
}

// ClassifyType maps a bug description to a coarse vulnerability type.
func ClassifyType(description string) string {
	d := strings.ToLower(description)
	switch {
	case strings.Contains(d, "sql injection"):
		return "sql injection"
	case strings.Contains(d, "xss"):
		return "xss"
	case strings.Contains(d, "buffer overflow"):
		return "buffer overflow"
	case strings.Contains(d, "deserialization"):
		return "insecure deserialization"
	default:
		return "general"
	}
}

var titler = cases.Title(language.Und)

// Summarize renders per-type bug counts in first-seen order.
func Summarize(bugs []model.Bug) string {
	if len(bugs) == 0 {
		return "No Issues Found - 0 vulnerabilities detected"
	}
	counts := make(map[string]int)
	var order []string
	for _, b := range bugs {
		t := b.VulnerabilityType
		if t == "" {
			t = "unknown"
		}
		if counts[t] == 0 {
			order = append(order, t)
		}
		counts[t]++
	}

	var s strings.Builder
	fmt.Fprintf(&s, "Vulnerabilities Found: %d\nAction Required", len(bugs))
	for _, t := range order {
		fmt.Fprintf(&s, "\n%s: %d", titler.String(t), counts[t])
	}
	return s.String()
}

// IsVulnerable reports whether a run should go on to patch generation.
func IsVulnerable(r *model.VulnerabilityReport) bool {
	if r == nil {
		return false
	}
	return strings.Contains(r.Analysis, "Vulnerable: yes") || len(r.Bugs) > 0
}

func (d *Detector) log() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}
