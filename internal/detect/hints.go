package detect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"

	"github.com/sprite-ai/mistborn/internal/model"
	"github.com/sprite-ai/mistborn/internal/repo"
)

// Hint is a risky construct found on an added line.
type Hint struct {
	File     string          `json:"file"`
	Line     int             `json:"line"`
	Category string          `json:"category"`
	Code     string          `json:"code"`
	Risk     model.RiskLevel `json:"risk"`
}

func (h Hint) String() string {
	return fmt.Sprintf("%s at %s:%d: %s", h.Category, h.File, h.Line, h.Code)
}

// Risky C constructs grouped by category.
var hintPatterns = []struct {
	category string
	patterns []*regexp.Regexp
	risk     model.RiskLevel
}{
	{
		category: "unbounded read",
		patterns: compilePatterns(`\bgets\s*\(`),
		risk:     model.RiskCritical,
	},
	{
		category: "unchecked string copy",
		patterns: compilePatterns(
			`\b(strcpy|strcat|wcscpy|wcscat)\s*\(`,
			`\b(v?sprintf)\s*\(`,
		),
		risk: model.RiskHigh,
	},
	{
		category: "format string",
		patterns: compilePatterns(
			`\b(printf|syslog)\s*\(\s*[A-Za-z_][\w.>-]*\s*\)`,
			`\bfprintf\s*\(\s*\w+\s*,\s*[A-Za-z_][\w.>-]*\s*\)`,
		),
		risk: model.RiskHigh,
	},
	{
		category: "command execution",
		patterns: compilePatterns(`\b(system|popen|execl|execlp|execv|execvp)\s*\(`),
		risk:     model.RiskHigh,
	},
	{
		category: "raw memory copy",
		patterns: compilePatterns(`\b(memcpy|memmove|strncpy)\s*\(`),
		risk:     model.RiskMedium,
	},
	{
		category: "allocation arithmetic",
		patterns: compilePatterns(`\b(malloc|realloc|alloca)\s*\([^;]*[*+]`),
		risk:     model.RiskMedium,
	},
	{
		category: "manual free",
		patterns: compilePatterns(`\bfree\s*\(`),
		risk:     model.RiskLow,
	},
}

func compilePatterns(patterns ...string) []*regexp.Regexp {
	var compiled []*regexp.Regexp
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Hints scans the added lines of every file's diff for risky constructs.
// Files whose patch cannot be parsed are skipped.
func Hints(files []model.ChangedFile) []Hint {
	var hints []Hint
	for _, cf := range files {
		ds, err := repo.Parse(cf.Patch)
		if err != nil {
			continue
		}
		for _, f := range ds.Files {
			hints = append(hints, scanFile(cf.Filename, f)...)
		}
	}
	return dedupe(hints)
}

func scanFile(name string, f *repo.File) []Hint {
	var hints []Hint
	for _, frag := range f.Fragments {
		lineNum := int(frag.NewPosition)
		for _, line := range frag.Lines {
			if line.Op == gitdiff.OpAdd && !isComment(line.Line) {
				text := strings.TrimSpace(line.Line)
				for _, hp := range hintPatterns {
					for _, re := range hp.patterns {
						if re.MatchString(line.Line) {
							hints = append(hints, Hint{
								File:     name,
								Line:     lineNum,
								Category: hp.category,
								Code:     text,
								Risk:     hp.risk,
							})
							break // one hint per group per line
						}
					}
				}
			}
			if line.Op == gitdiff.OpAdd || line.Op == gitdiff.OpContext {
				lineNum++
			}
		}
	}
	return hints
}

func isComment(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "//") || strings.HasPrefix(t, "/*") || strings.HasPrefix(t, "*")
}

func dedupe(hints []Hint) []Hint {
	seen := make(map[string]bool)
	var out []Hint
	for _, h := range hints {
		key := h.String()
		if !seen[key] {
			seen[key] = true
			out = append(out, h)
		}
	}
	return out
}

// MaxRisk returns the highest risk among hints.
func MaxRisk(hints []Hint) model.RiskLevel {
	max := model.RiskInfo
	for _, h := range hints {
		if h.Risk > max {
			max = h.Risk
		}
	}
	return max
}
