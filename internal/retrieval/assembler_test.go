package retrieval

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestAssembler_UnderBudgetJoinsEverything(t *testing.T) {
	assembler := NewAssembler(AssemblerConfig{MaxContextChars: 8000})

	fragments := []string{"first fragment", "second fragment", "third fragment"}
	got := assembler.Assemble("anything", fragments)

	want := strings.Join(fragments, "\n")
	if got != want {
		t.Errorf("Assemble() = %q, expected %q", got, want)
	}
}

func TestAssembler_CoarseCap(t *testing.T) {
	assembler := NewAssembler(AssemblerConfig{MaxContextChars: 100000, CandidateCap: 30})

	var fragments []string
	for i := 0; i < 35; i++ {
		fragments = append(fragments, fmt.Sprintf("fragment number %02d", i))
	}

	got := assembler.Assemble("anything", fragments)

	if strings.Contains(got, "fragment number 30") {
		t.Error("fragment beyond the coarse cap leaked into the context")
	}
	if !strings.Contains(got, "fragment number 29") {
		t.Error("fragment inside the coarse cap is missing")
	}
}

func TestAssembler_KeywordRerankWhenOverBudget(t *testing.T) {
	assembler := NewAssembler(AssemblerConfig{MaxContextChars: 60, KeywordTopN: 20})

	fragments := []string{
		"nothing relevant in this one at all whatsoever here",
		"padding text that goes on and on without the term",
		"the migration procedure is described in this fragment",
	}

	got := assembler.Assemble("migration procedure", fragments)

	if !strings.HasPrefix(got, "the migration procedure") {
		t.Errorf("expected the keyword-matching fragment first, got %q", got)
	}
}

func TestAssembler_EqualScoresKeepIncomingOrder(t *testing.T) {
	assembler := NewAssembler(AssemblerConfig{MaxContextChars: 90, KeywordTopN: 20})

	// Four 40-rune fragments, each matching the keywords exactly once, so
	// the re-rank has nothing to reorder on.
	fragments := []string{
		"machine learning note A " + strings.Repeat("a", 16),
		"machine learning note B " + strings.Repeat("b", 16),
		"machine learning note C " + strings.Repeat("c", 16),
		"machine learning note D " + strings.Repeat("d", 16),
	}

	got := assembler.Assemble("machine learning", fragments)

	want := strings.Join(fragments[:3], "\n")
	if got != want {
		t.Errorf("equal scores reordered fragments:\ngot  %q\nwant %q", got, want)
	}
}

func TestAssembler_BudgetWithSingleFragmentSlack(t *testing.T) {
	const budget = 200
	assembler := NewAssembler(AssemblerConfig{MaxContextChars: budget, KeywordTopN: 20})

	// Ten 50-rune fragments force the re-rank path.
	var fragments []string
	fragLen := 0
	for i := 0; i < 10; i++ {
		frag := fmt.Sprintf("topic fragment %02d ", i) + strings.Repeat("x", 32)
		fragments = append(fragments, frag)
		fragLen = utf8.RuneCountInString(frag)
	}

	got := assembler.Assemble("topic", fragments)

	n := utf8.RuneCountInString(got)
	if n > budget+fragLen {
		t.Errorf("context of %d runes exceeds budget %d plus one fragment of %d", n, budget, fragLen)
	}
	if n == 0 {
		t.Error("expected non-empty context")
	}
}

func TestAssembler_TopNCap(t *testing.T) {
	assembler := NewAssembler(AssemblerConfig{MaxContextChars: 100, KeywordTopN: 3})

	var fragments []string
	for i := 0; i < 10; i++ {
		fragments = append(fragments, fmt.Sprintf("short %02d", i))
	}
	// Force the re-rank path with one oversized filler.
	fragments = append(fragments, strings.Repeat("y", 200))

	got := assembler.Assemble("short", fragments)

	if count := strings.Count(got, "\n") + 1; count > 3 {
		t.Errorf("expected at most 3 fragments, got %d", count)
	}
}

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "mixed han and latin",
			input:    "什么是RAG系统?",
			expected: []string{"什么是", "rag", "系统"},
		},
		{
			name:     "single rune tokens dropped",
			input:    "a 中 hello",
			expected: []string{"hello"},
		},
		{
			name:     "underscores kept in word runs",
			input:    "my_var value",
			expected: []string{"my_var", "value"},
		},
		{
			name:     "punctuation is a boundary",
			input:    "why,is;this broken",
			expected: []string{"why", "is", "this", "broken"},
		},
		{
			name:     "empty",
			input:    "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractKeywords(tt.input)
			if len(got) != len(tt.expected) {
				t.Fatalf("extractKeywords(%q) = %v, expected %v", tt.input, got, tt.expected)
			}
			for i, w := range tt.expected {
				if got[i] != w {
					t.Errorf("keyword %d = %q, expected %q", i, got[i], w)
				}
			}
		})
	}
}
