package repo

import (
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Token is a syntax-highlighted chunk of text.
type Token struct {
	Text  string
	Color string // hex colour, empty for default
}

// Line is one source line split into highlighted tokens.
type Line []Token

// Plain returns the line's text without colour.
func (l Line) Plain() string {
	var b strings.Builder
	for _, t := range l {
		b.WriteString(t.Text)
	}
	return b.String()
}

// Language names the lexer chroma picks for filename, or "" if none.
func Language(filename string) string {
	lx := lexerFor(filename)
	if lx == nil {
		return ""
	}
	return lx.Config().Name
}

// Highlight tokenises code as the language of filename using the dracula
// style. It always returns one Line per input line.
func Highlight(filename, code string) []Line {
	src := strings.Split(code, "\n")
	lx := lexerFor(filename)
	if lx == nil {
		return plain(src)
	}
	it, err := chroma.Coalesce(lx).Tokenise(nil, code)
	if err != nil {
		return plain(src)
	}
	style := styles.Get("dracula")
	if style == nil {
		style = styles.Fallback
	}

	out := make([]Line, 0, len(src))
	var cur Line
	for _, tok := range it.Tokens() {
		for i, part := range strings.Split(tok.Value, "\n") {
			if i > 0 {
				out = append(out, cur)
				cur = nil
			}
			if part == "" {
				continue
			}
			var color string
			if e := style.Get(tok.Type); e.Colour.IsSet() {
				color = e.Colour.String()
			}
			cur = append(cur, Token{Text: part, Color: color})
		}
	}
	out = append(out, cur)

	// chroma may add or drop a trailing newline
	for len(out) < len(src) {
		out = append(out, nil)
	}
	return out[:len(src)]
}

func plain(lines []string) []Line {
	out := make([]Line, len(lines))
	for i, l := range lines {
		out[i] = Line{{Text: l}}
	}
	return out
}

func lexerFor(filename string) chroma.Lexer {
	if lx := lexers.Match(filename); lx != nil {
		return lx
	}
	if ext := filepath.Ext(filename); ext != "" {
		return lexers.Match("file" + ext)
	}
	return nil
}
