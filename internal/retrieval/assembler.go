package retrieval

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// AssemblerConfig bounds the assembled context.
type AssemblerConfig struct {
	// MaxContextChars is the character budget for the joined context.
	MaxContextChars int

	// CandidateCap is the coarse cap applied before any length check.
	CandidateCap int

	// KeywordTopN caps the re-ranked fragment count when the budget is
	// exceeded.
	KeywordTopN int
}

// Assembler joins selected fragments into a prompt-ready context string,
// re-ranking by keyword overlap with the question when the straight join
// would blow the character budget.
type Assembler struct {
	config AssemblerConfig
}

// NewAssembler creates a new Assembler with the given configuration.
func NewAssembler(config AssemblerConfig) *Assembler {
	if config.MaxContextChars <= 0 {
		config.MaxContextChars = 8000
	}
	if config.CandidateCap <= 0 {
		config.CandidateCap = 30
	}
	if config.KeywordTopN <= 0 {
		config.KeywordTopN = 20
	}
	return &Assembler{config: config}
}

// Assemble builds the context string for a question. Lengths are measured
// in runes. The output may exceed the budget by at most one fragment.
func (a *Assembler) Assemble(question string, fragments []string) string {
	if len(fragments) > a.config.CandidateCap {
		fragments = fragments[:a.config.CandidateCap]
	}

	joined := strings.Join(fragments, "\n")
	if utf8.RuneCountInString(joined) <= a.config.MaxContextChars {
		return joined
	}

	ranked := a.rankByKeywords(question, fragments)

	var b strings.Builder
	total := 0
	for i, text := range ranked {
		if i == a.config.KeywordTopN {
			break
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
			total++
		}
		b.WriteString(text)
		total += utf8.RuneCountInString(text)
		if total >= a.config.MaxContextChars {
			break
		}
	}

	return b.String()
}

// rankByKeywords orders fragments by how often the question's keywords
// occur in them, most hits first. Fragments with equal scores keep their
// incoming order.
func (a *Assembler) rankByKeywords(question string, fragments []string) []string {
	keywords := extractKeywords(question)
	if len(keywords) == 0 {
		return fragments
	}

	type scored struct {
		text string
		hits int
	}
	items := make([]scored, len(fragments))
	for i, text := range fragments {
		lower := strings.ToLower(text)
		hits := 0
		for _, kw := range keywords {
			hits += strings.Count(lower, kw)
		}
		items[i] = scored{text: text, hits: hits}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].hits > items[j].hits
	})

	ranked := make([]string, len(items))
	for i, item := range items {
		ranked[i] = item.text
	}
	return ranked
}

// extractKeywords tokenizes a question into lowercase keywords. Runs of
// ideographs and runs of word characters each form one token; single-rune
// tokens are discarded as noise.
func extractKeywords(question string) []string {
	var keywords []string
	var current []rune
	currentHan := false

	flush := func() {
		if len(current) > 1 {
			keywords = append(keywords, strings.ToLower(string(current)))
		}
		current = current[:0]
	}

	for _, r := range question {
		switch {
		case unicode.Is(unicode.Han, r):
			if !currentHan {
				flush()
			}
			currentHan = true
			current = append(current, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			if currentHan {
				flush()
			}
			currentHan = false
			current = append(current, r)
		default:
			flush()
		}
	}
	flush()

	return keywords
}
