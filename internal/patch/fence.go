package patch

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sprite-ai/mistborn/internal/model"
)

var (
	fenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\n(.*?)\n```")
	labelRe = regexp.MustCompile(`Patch (\d+)`)
)

// ExtractCodeBlock returns the trimmed body of the first fenced code block in
// text, or the whole trimmed text when there is none.
func ExtractCodeBlock(text string) string {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// ResolveLabel decodes the first "Patch N" in text to a strategy key.
// Anything it cannot decode resolves to model.DefaultKey.
func ResolveLabel(text string) string {
	m := labelRe.FindStringSubmatch(text)
	if m == nil {
		return model.DefaultKey
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return model.DefaultKey
	}
	e, ok := model.StrategyForOrdinal(n)
	if !ok {
		return model.DefaultKey
	}
	return e.Key
}
