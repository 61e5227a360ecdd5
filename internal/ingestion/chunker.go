package ingestion

import (
	"fmt"
	"strings"
	"unicode"
)

// Fragment is one chunk of a source document. Text carries the provenance
// tag so the source filename travels with the content into the store.
type Fragment struct {
	SourceFile string
	Text       string
	Ordinal    int
}

// ChunkerConfig holds the character budgets for chunking.
// Sizes are measured in runes, not bytes.
type ChunkerConfig struct {
	MaxSize       int
	MinSize       int
	Overlap       int
	SentenceSplit bool
}

const (
	// Sentences at or under this length are noise (stray numbering,
	// list bullets, lone particles) and are discarded.
	trivialSentenceLen = 5

	// Latin sentence splitting only kicks in on runs long enough to
	// plausibly contain several sentences.
	latinSplitMinLen = 50

	// How far a hard split scans backwards looking for punctuation.
	backtrackWindow = 100
)

// Chunker splits documents into retrieval-sized fragments
type Chunker struct {
	config ChunkerConfig
}

// NewChunker creates a new Chunker with the given configuration
func NewChunker(config ChunkerConfig) *Chunker {
	// Apply defaults if not set
	if config.MaxSize <= 0 {
		config.MaxSize = 50
	}
	if config.MinSize <= 0 {
		config.MinSize = 10
	}
	if config.Overlap < 0 {
		config.Overlap = 0
	}

	return &Chunker{config: config}
}

// ChunkDocument splits a document into fragments. Each fragment's text is
// prefixed with "[source: <filename>] "; the budgets apply to the body
// after the prefix.
func (c *Chunker) ChunkDocument(doc Document) []Fragment {
	var fragments []Fragment

	for i, unit := range strings.Split(doc.Content, "\n") {
		if i == 0 && doc.SkipHeader {
			continue
		}
		clean := Normalize(unit)
		if clean == "" {
			continue
		}

		if c.config.SentenceSplit {
			for _, sentence := range splitSentences(clean) {
				if runeLen(sentence) < c.config.MinSize {
					continue
				}
				fragments = c.appendBody(fragments, doc.Filename, sentence)
			}
			continue
		}

		if runeLen(clean) < c.config.MinSize {
			continue
		}
		fragments = c.appendBody(fragments, doc.Filename, clean)
	}

	return fragments
}

// appendBody emits one body as a fragment, hard-splitting it first when it
// exceeds the max budget.
func (c *Chunker) appendBody(fragments []Fragment, filename, body string) []Fragment {
	if runeLen(body) <= c.config.MaxSize {
		return c.emit(fragments, filename, body)
	}
	for _, window := range c.splitLong(body) {
		fragments = c.emit(fragments, filename, window)
	}
	return fragments
}

func (c *Chunker) emit(fragments []Fragment, filename, body string) []Fragment {
	return append(fragments, Fragment{
		SourceFile: filename,
		Text:       fmt.Sprintf("[source: %s] %s", filename, body),
		Ordinal:    len(fragments),
	})
}

// splitLong cuts an over-budget run into max-sized windows, preferring to
// cut at punctuation found within backtrackWindow runes of the boundary.
// Consecutive windows overlap by the configured amount.
func (c *Chunker) splitLong(text string) []string {
	runes := []rune(text)
	var windows []string

	start := 0
	for start < len(runes) {
		end := start + c.config.MaxSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			floor := start + c.config.MinSize
			if w := end - backtrackWindow; w > floor {
				floor = w
			}
			for i := end - 1; i >= floor; i-- {
				if isSplitPunct(runes[i]) {
					end = i + 1
					break
				}
			}
		}

		window := strings.TrimSpace(string(runes[start:end]))
		if runeLen(window) >= c.config.MinSize {
			windows = append(windows, window)
		}

		if end >= len(runes) {
			break
		}
		next := end - c.config.Overlap
		if next <= start {
			// The overlap must never stall the walk.
			next = end
		}
		start = next
	}

	return windows
}

// splitSentences splits text into sentences, discarding trivial ones.
// CJK sentence enders are the primary boundary; long runs containing
// periods get a second pass with the Latin rule.
func splitSentences(text string) []string {
	var sentences []string

	for _, piece := range splitCJK(text) {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}

		if runeLen(piece) > latinSplitMinLen && strings.Contains(piece, ".") {
			for _, sub := range splitLatin(piece) {
				sub = strings.TrimSpace(sub)
				if runeLen(sub) > trivialSentenceLen {
					sentences = append(sentences, sub)
				}
			}
			continue
		}

		if runeLen(piece) > trivialSentenceLen {
			sentences = append(sentences, piece)
		}
	}

	return sentences
}

// splitCJK splits on CJK sentence enders, keeping the delimiter attached
// to the preceding sentence.
func splitCJK(text string) []string {
	var pieces []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		switch r {
		case '。', '！', '？', '；':
			pieces = append(pieces, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}

	return pieces
}

// splitLatin splits at a period followed by whitespace and an uppercase
// letter. The period stays with the preceding sentence. Done with a manual
// scan because the boundary needs lookahead.
func splitLatin(text string) []string {
	runes := []rune(text)
	var pieces []string

	start := 0
	for i := 0; i < len(runes)-1; i++ {
		if runes[i] != '.' || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j < len(runes) && unicode.IsUpper(runes[j]) {
			pieces = append(pieces, string(runes[start:i+1]))
			start = j
			i = j - 1
		}
	}
	if start < len(runes) {
		pieces = append(pieces, string(runes[start:]))
	}

	return pieces
}

func isSplitPunct(r rune) bool {
	switch r {
	case '。', '！', '？', '；', '，', '、':
		return true
	}
	return false
}

func runeLen(s string) int {
	return len([]rune(s))
}
