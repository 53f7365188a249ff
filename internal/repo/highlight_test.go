package repo

import (
	"testing"
)

func TestHighlight(t *testing.T) {
	code := "#include <stdio.h>\n\nint main(void)\n{\n\treturn 0;\n}"
	lines := Highlight("main.c", code)

	if len(lines) != 6 {
		t.Fatalf("expected 6 highlighted lines, got %d", len(lines))
	}
	if len(lines[0]) == 0 {
		t.Error("expected tokens in first line")
	}
	if lines[2].Plain() != "int main(void)" {
		t.Errorf("plain text mismatch: %q", lines[2].Plain())
	}
}

func TestHighlightUnknownLanguage(t *testing.T) {
	lines := Highlight("unknown.xyz123", "some content\nmore content")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Plain() != "some content" {
		t.Errorf("expected plain passthrough, got %q", lines[0].Plain())
	}
	if len(lines[0]) != 1 || lines[0][0].Color != "" {
		t.Error("unknown language should not be coloured")
	}
}

func TestLanguage(t *testing.T) {
	if got := Language("a.c"); got != "C" {
		t.Errorf("Language(a.c) = %q", got)
	}
	if got := Language("noext"); got != "" {
		t.Errorf("Language(noext) = %q", got)
	}
}
