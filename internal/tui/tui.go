// Package tui implements the Bubble Tea candidate browser.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sprite-ai/mistborn/internal/model"
	"github.com/sprite-ai/mistborn/internal/patch"
	"github.com/sprite-ai/mistborn/internal/repo"
)

// candidate is one strategy's patch prepared for display.
type candidate struct {
	entry  model.StrategyEntry
	code   string
	target string // file the code is shown and diffed against
	lang   string // chroma lexer name for target, "" if unknown

	codeLines []renderedLine
	diffLines []renderedLine
	added     int
	deleted   int
}

// Model is the top-level Bubble Tea model for the candidate browser.
type Model struct {
	candidates []candidate
	picked     string // the selector's choice

	// UI state
	width  int
	height int

	index int // currently selected candidate

	scrollOffset int
	viewHeight   int

	showDiff bool
	showHelp bool

	result Result
}

// New prepares every candidate of cs for browsing. picked is the label the
// selector chose; it is preselected and returned when the user quits
// without accepting. matcher finds the file each candidate is diffed
// against; nil means substring matching.
func New(cs model.CandidateSet, picked string, files []model.ChangedFile, matcher patch.Matcher) Model {
	if matcher == nil {
		matcher = patch.SubstringMatcher
	}
	if _, ok := model.StrategyForKey(picked); !ok {
		picked = model.DefaultKey
	}
	m := Model{picked: picked, result: Result{Label: picked}}

	for _, e := range model.Strategies {
		raw, _ := cs.Get(e.Key)
		c := candidate{entry: e, code: patch.ExtractCodeBlock(raw)}

		var original *model.ChangedFile
		for i := range files {
			if matcher.Matches(c.code, files[i].Filename) {
				original = &files[i]
				break
			}
		}
		if original == nil && len(files) > 0 {
			original = &files[0]
		}
		if original != nil {
			c.target = original.Filename
			c.lang = repo.Language(original.Filename)
			c.diffLines, c.added, c.deleted = diffLines(*original, c.code)
		}
		c.codeLines = renderCode(c.target, c.code)

		if e.Key == picked {
			m.index = len(m.candidates)
		}
		m.candidates = append(m.candidates, c)
	}
	return m
}

func diffLines(original model.ChangedFile, code string) ([]renderedLine, int, int) {
	raw, err := repo.UnifiedDiff(original.Filename, original.Content, code)
	if err != nil || raw == "" {
		return nil, 0, 0
	}
	ds, err := repo.Parse(raw)
	if err != nil || len(ds.Files) == 0 {
		return nil, 0, 0
	}
	_, added, deleted := ds.Stats()
	return renderDiff(ds.Files[0]), added, deleted
}

// Result returns what the session ended with.
func (m Model) Result() Result {
	return m.result
}

func (m Model) lines() []renderedLine {
	c := m.candidates[m.index]
	if m.showDiff {
		return c.diffLines
	}
	return c.codeLines
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewHeight = m.height - 4 // status bar + borders
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, keys.Accept):
			m.result = Result{Label: m.candidates[m.index].entry.Key, Accepted: true}
			return m, tea.Quit

		case key.Matches(msg, keys.Down):
			if m.scrollOffset < len(m.lines())-1 {
				m.scrollOffset++
			}

		case key.Matches(msg, keys.Up):
			if m.scrollOffset > 0 {
				m.scrollOffset--
			}

		case key.Matches(msg, keys.Next):
			if m.index < len(m.candidates)-1 {
				m.index++
				m.scrollOffset = 0
			}

		case key.Matches(msg, keys.Prev):
			if m.index > 0 {
				m.index--
				m.scrollOffset = 0
			}

		case key.Matches(msg, keys.NextHunk):
			m.jumpToNextHunk()

		case key.Matches(msg, keys.PrevHunk):
			m.jumpToPrevHunk()

		case key.Matches(msg, keys.Toggle):
			m.showDiff = !m.showDiff
			m.scrollOffset = 0

		case key.Matches(msg, keys.Help):
			m.showHelp = !m.showHelp
		}
	}

	return m, nil
}

func (m *Model) jumpToNextHunk() {
	lines := m.lines()
	for i := m.scrollOffset + 1; i < len(lines); i++ {
		if lines[i].IsHunk {
			m.scrollOffset = i
			return
		}
	}
}

func (m *Model) jumpToPrevHunk() {
	lines := m.lines()
	for i := m.scrollOffset - 1; i >= 0; i-- {
		if lines[i].IsHunk {
			m.scrollOffset = i
			return
		}
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	if m.showHelp {
		return m.renderHelp()
	}

	listWidth := m.listWidth()
	codeWidth := m.width - listWidth - 1

	list := m.renderList(listWidth, m.height-2)
	code := m.renderCodeView(codeWidth, m.height-2)

	main := lipgloss.JoinHorizontal(lipgloss.Top, list, " ", code)
	return lipgloss.JoinVertical(lipgloss.Left, main, m.renderStatusBar())
}

func (m Model) listWidth() int {
	w := 28
	if w > m.width/3 {
		w = m.width / 3
	}
	if w < 20 {
		w = 20
	}
	return w
}

func (m Model) renderList(width, height int) string {
	var b strings.Builder

	for i, c := range m.candidates {
		marker := "  "
		if c.entry.Key == m.picked {
			marker = pickMarkerStyle.Render("★ ")
		}
		line := fmt.Sprintf("%d %s", c.entry.Ordinal, c.entry.Key)

		var style lipgloss.Style
		switch {
		case i == m.index:
			style = itemSelectedStyle
		case c.code == "":
			style = itemEmptyStyle
		default:
			style = itemStyle
		}

		b.WriteString(marker + style.Width(width-6).Render(line))
		if i < len(m.candidates)-1 {
			b.WriteByte('\n')
		}
	}

	return listStyle.Width(width).Height(height - 2).Render(b.String())
}

func (m Model) renderCodeView(width, height int) string {
	c := m.candidates[m.index]
	innerWidth := width - 4 // borders + padding
	innerHeight := height - 2

	title := c.target
	if title == "" {
		title = "(no file)"
	}
	if c.lang != "" {
		title += " [" + c.lang + "]"
	}
	if m.showDiff {
		title += fmt.Sprintf("  +%d -%d", c.added, c.deleted)
	}

	lines := m.lines()
	if len(lines) == 0 {
		empty := "Empty candidate"
		if m.showDiff && c.code != "" {
			empty = "No changes"
		}
		return codeViewStyle.Width(width).Height(innerHeight).Render(headerStyle.Render(title) + "\n" + empty)
	}

	visible := innerHeight - 2
	if visible < 1 {
		visible = 1
	}
	end := m.scrollOffset + visible
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(title))
	b.WriteByte('\n')
	for i := m.scrollOffset; i < end; i++ {
		b.WriteString(styleLine(lines[i], innerWidth, m.showDiff))
		if i < end-1 {
			b.WriteByte('\n')
		}
	}

	return codeViewStyle.Width(width).Height(innerHeight).Render(b.String())
}

func (m Model) renderStatusBar() string {
	c := m.candidates[m.index]

	left := fmt.Sprintf(" Patch %d/%d  %s", c.entry.Ordinal, len(m.candidates), c.entry.Key)
	if n := len(m.lines()); n > 0 {
		left += fmt.Sprintf("  Line %d/%d", m.scrollOffset+1, n)
	}

	mode := "code"
	if m.showDiff {
		mode = "diff"
	}
	right := fmt.Sprintf("picked: %s  %s  ? help ", m.picked, mode)

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderHelp() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("mistborn: Keyboard Shortcuts"))
	b.WriteString("\n\n")

	for _, k := range []key.Binding{
		keys.Up, keys.Down, keys.Next, keys.Prev, keys.NextHunk,
		keys.PrevHunk, keys.Toggle, keys.Accept, keys.Help, keys.Quit,
	} {
		h := k.Help()
		b.WriteString(fmt.Sprintf("  %s  %s\n", helpKeyStyle.Width(12).Render(h.Key), h.Desc))
	}

	b.WriteString("\n")
	b.WriteString(helpBarStyle.Render("Press ? to close help"))
	return b.String()
}

// Run starts the browser and blocks until the user accepts a candidate or
// quits.
func Run(cs model.CandidateSet, picked string, files []model.ChangedFile, matcher patch.Matcher) (Result, error) {
	m := New(cs, picked, files, matcher)
	p := tea.NewProgram(m, tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return Result{Label: m.picked}, err
	}
	return final.(Model).Result(), nil
}
