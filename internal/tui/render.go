package tui

import (
	"fmt"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/charmbracelet/lipgloss"

	"github.com/sprite-ai/mistborn/internal/repo"
)

// renderedLine is a single line of code or diff output ready for display.
type renderedLine struct {
	OldNum  int // 0 means not applicable (add-only)
	NewNum  int // 0 means not applicable (delete-only)
	Op      gitdiff.LineOp
	Content string // raw text content (no trailing newline)
	IsHunk  bool

	// Syntax highlighting tokens (nil = no highlighting)
	Tokens repo.Line
}

// renderCode numbers and highlights a whole candidate.
func renderCode(filename, code string) []renderedLine {
	if code == "" {
		return nil
	}
	src := strings.Split(code, "\n")
	highlighted := repo.Highlight(filename, code)
	lines := make([]renderedLine, len(src))
	for i, text := range src {
		lines[i] = renderedLine{
			NewNum:  i + 1,
			Op:      gitdiff.OpContext,
			Content: text,
			Tokens:  highlighted[i],
		}
	}
	return lines
}

// renderDiff produces renderedLines for a file's diff fragments.
func renderDiff(f *repo.File) []renderedLine {
	var lines []renderedLine

	var contentLines []string
	for _, frag := range f.Fragments {
		for _, line := range frag.Lines {
			contentLines = append(contentLines, strings.TrimRight(line.Line, "\n\r"))
		}
	}
	highlighted := repo.Highlight(f.Path(), strings.Join(contentLines, "\n"))
	hlIdx := 0

	for i, frag := range f.Fragments {
		lines = append(lines, renderedLine{
			IsHunk:  true,
			Content: formatHunkHeader(frag),
		})

		oldLine := int(frag.OldPosition)
		newLine := int(frag.NewPosition)

		for _, line := range frag.Lines {
			rl := renderedLine{
				Op:      line.Op,
				Content: strings.TrimRight(line.Line, "\n\r"),
			}
			if hlIdx < len(highlighted) {
				rl.Tokens = highlighted[hlIdx]
				hlIdx++
			}

			switch line.Op {
			case gitdiff.OpContext:
				rl.OldNum = oldLine
				rl.NewNum = newLine
				oldLine++
				newLine++
			case gitdiff.OpDelete:
				rl.OldNum = oldLine
				oldLine++
			case gitdiff.OpAdd:
				rl.NewNum = newLine
				newLine++
			}
			lines = append(lines, rl)
		}

		if i < len(f.Fragments)-1 {
			lines = append(lines, renderedLine{Content: ""})
		}
	}
	return lines
}

func formatHunkHeader(frag *gitdiff.TextFragment) string {
	old := fmt.Sprintf("-%d", frag.OldPosition)
	if frag.OldLines != 1 {
		old += fmt.Sprintf(",%d", frag.OldLines)
	}
	new := fmt.Sprintf("+%d", frag.NewPosition)
	if frag.NewLines != 1 {
		new += fmt.Sprintf(",%d", frag.NewLines)
	}

	header := fmt.Sprintf("@@ %s %s @@", old, new)
	if frag.Comment != "" {
		header += " " + frag.Comment
	}
	return header
}

// renderHighlightedContent renders line content with syntax colors.
func renderHighlightedContent(rl renderedLine, prefix string) string {
	if len(rl.Tokens) == 0 {
		return prefix + rl.Content
	}

	var b strings.Builder
	b.WriteString(prefix)
	for _, tok := range rl.Tokens {
		if tok.Color != "" {
			b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(tok.Color)).Render(tok.Text))
		} else {
			b.WriteString(tok.Text)
		}
	}
	return b.String()
}

// styleLine applies styling to a rendered line. Code lines carry only a new
// line number; diff lines carry both.
func styleLine(rl renderedLine, width int, diff bool) string {
	if rl.IsHunk {
		return hunkHeaderStyle.Width(width).Render(rl.Content)
	}

	num := func(n int) string {
		if n > 0 {
			return lineNumberStyle.Render(fmt.Sprintf("%4d", n))
		}
		return lineNumberStyle.Render("    ")
	}
	lineNums := num(rl.NewNum)
	if diff {
		lineNums = num(rl.OldNum) + " " + lineNums
	}

	var prefix string
	var style *lipgloss.Style
	switch rl.Op {
	case gitdiff.OpAdd:
		prefix, style = "+", &addedLineStyle
	case gitdiff.OpDelete:
		prefix, style = "-", &deletedLineStyle
	default:
		if diff {
			prefix = " "
		}
	}

	var content string
	if style == nil {
		content = renderHighlightedContent(rl, prefix)
	} else {
		content = style.Render(prefix + rl.Content)
	}

	maxContent := width - lipgloss.Width(lineNums) - 1
	if maxContent > 0 && lipgloss.Width(content) > maxContent {
		content = truncate(prefix+rl.Content, maxContent)
		if style != nil {
			content = style.Render(content)
		}
	}
	return lineNums + " " + content
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}
