package patch

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Matcher decides whether patched code refers to a changed file.
type Matcher interface {
	Matches(code, filename string) bool
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(code, filename string) bool

func (f MatcherFunc) Matches(code, filename string) bool { return f(code, filename) }

// SubstringMatcher matches when the filename appears anywhere in the code.
var SubstringMatcher = MatcherFunc(func(code, filename string) bool {
	return filename != "" && strings.Contains(code, filename)
})

var pathTokenRe = regexp.MustCompile(`[A-Za-z0-9_./-]+`)

// BasenameMatcher matches when the file's base name appears as a whole
// path-like token, so "a.c" does not match inside "data.c".
var BasenameMatcher = MatcherFunc(func(code, filename string) bool {
	base := path.Base(filename)
	if base == "" || base == "." || base == "/" {
		return false
	}
	for _, tok := range pathTokenRe.FindAllString(code, -1) {
		if tok == base || strings.HasSuffix(tok, "/"+base) {
			return true
		}
	}
	return false
})

// PathSuffixMatcher matches when some path-like token in the code and the
// filename agree on a slash-bounded suffix, e.g. "src/a.c" vs "lib/src/a.c".
var PathSuffixMatcher = MatcherFunc(func(code, filename string) bool {
	if filename == "" {
		return false
	}
	for _, tok := range pathTokenRe.FindAllString(code, -1) {
		if !strings.Contains(tok, ".") {
			continue
		}
		tok = strings.TrimPrefix(tok, "./")
		if tok == filename ||
			strings.HasSuffix(filename, "/"+tok) ||
			strings.HasSuffix(tok, "/"+filename) {
			return true
		}
	}
	return false
})

// MatcherNames lists the names accepted by MatcherByName.
var MatcherNames = []string{"substring", "basename", "suffix"}

// MatcherByName returns a built-in matcher.
func MatcherByName(name string) (Matcher, error) {
	switch name {
	case "", "substring":
		return SubstringMatcher, nil
	case "basename":
		return BasenameMatcher, nil
	case "suffix":
		return PathSuffixMatcher, nil
	}
	return nil, fmt.Errorf("unknown matcher %q (want one of %s)", name, strings.Join(MatcherNames, ", "))
}
