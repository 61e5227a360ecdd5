package ingestion

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNewChunker_Defaults(t *testing.T) {
	chunker := NewChunker(ChunkerConfig{})

	// Should apply defaults
	if chunker.config.MaxSize != 50 {
		t.Errorf("expected default MaxSize 50, got %d", chunker.config.MaxSize)
	}
	if chunker.config.MinSize != 10 {
		t.Errorf("expected default MinSize 10, got %d", chunker.config.MinSize)
	}
}

func TestChunkDocument_EmptyContent(t *testing.T) {
	chunker := NewChunker(ChunkerConfig{MaxSize: 50, MinSize: 10})

	fragments := chunker.ChunkDocument(Document{Filename: "a.txt", Content: ""})
	if fragments != nil {
		t.Errorf("expected nil for empty content, got %v", fragments)
	}

	fragments = chunker.ChunkDocument(Document{Filename: "a.txt", Content: "  \n \t "})
	if fragments != nil {
		t.Errorf("expected nil for whitespace content, got %v", fragments)
	}
}

func TestChunkDocument_SourcePrefix(t *testing.T) {
	chunker := NewChunker(ChunkerConfig{MaxSize: 50, MinSize: 10})

	fragments := chunker.ChunkDocument(Document{
		Filename: "notes.txt",
		Content:  "a line of text long enough to keep around",
	})

	if len(fragments) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(fragments))
	}
	if !strings.HasPrefix(fragments[0].Text, "[source: notes.txt] ") {
		t.Errorf("fragment missing source prefix: %q", fragments[0].Text)
	}
	if fragments[0].SourceFile != "notes.txt" {
		t.Errorf("expected SourceFile notes.txt, got %s", fragments[0].SourceFile)
	}
}

func TestChunkDocument_ShortUnitDropped(t *testing.T) {
	chunker := NewChunker(ChunkerConfig{MaxSize: 50, MinSize: 10})

	fragments := chunker.ChunkDocument(Document{
		Filename: "a.txt",
		Content:  "too short\nthis one is long enough to survive the cut",
	})

	if len(fragments) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(fragments))
	}
	if strings.Contains(fragments[0].Text, "too short") {
		t.Errorf("short unit should have been dropped: %q", fragments[0].Text)
	}
}

func TestChunkDocument_UnitAtMaxEmittedWhole(t *testing.T) {
	chunker := NewChunker(ChunkerConfig{MaxSize: 50, MinSize: 10})

	body := strings.Repeat("x", 50)
	fragments := chunker.ChunkDocument(Document{Filename: "a.txt", Content: body})

	if len(fragments) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(fragments))
	}
	if got := strings.TrimPrefix(fragments[0].Text, "[source: a.txt] "); got != body {
		t.Errorf("expected body emitted whole, got %q", got)
	}
}

func TestChunkDocument_CJKSentenceSplit(t *testing.T) {
	chunker := NewChunker(ChunkerConfig{MaxSize: 50, MinSize: 10, SentenceSplit: true})

	fragments := chunker.ChunkDocument(Document{
		Filename: "cn.txt",
		Content:  "今天的天气真是非常好。我们一起去公园散步吧！明天到底会不会下大雨？",
	})

	if len(fragments) != 3 {
		t.Fatalf("expected 3 fragments, got %d: %v", len(fragments), fragments)
	}

	expected := []string{"今天的天气真是非常好。", "我们一起去公园散步吧！", "明天到底会不会下大雨？"}
	for i, want := range expected {
		got := strings.TrimPrefix(fragments[i].Text, "[source: cn.txt] ")
		if got != want {
			t.Errorf("fragment %d = %q, expected %q", i, got, want)
		}
		if fragments[i].Ordinal != i {
			t.Errorf("fragment %d has ordinal %d", i, fragments[i].Ordinal)
		}
	}
}

func TestChunkDocument_TrivialSentenceDropped(t *testing.T) {
	chunker := NewChunker(ChunkerConfig{MaxSize: 50, MinSize: 10, SentenceSplit: true})

	fragments := chunker.ChunkDocument(Document{
		Filename: "cn.txt",
		Content:  "好。今天的天气真是非常好。",
	})

	if len(fragments) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(fragments))
	}
	if got := strings.TrimPrefix(fragments[0].Text, "[source: cn.txt] "); got != "今天的天气真是非常好。" {
		t.Errorf("unexpected fragment %q", got)
	}
}

func TestChunkDocument_SubMinimumSentenceDropped(t *testing.T) {
	chunker := NewChunker(ChunkerConfig{MaxSize: 50, MinSize: 10, SentenceSplit: true})

	// First sentence is 7 runes: past the trivial filter but under MinSize.
	fragments := chunker.ChunkDocument(Document{
		Filename: "cn.txt",
		Content:  "一二三四五六。这是一段足够长的中文句子可以保留。",
	})

	if len(fragments) != 1 {
		t.Fatalf("expected 1 fragment, got %d: %v", len(fragments), fragments)
	}
	if got := strings.TrimPrefix(fragments[0].Text, "[source: cn.txt] "); got != "这是一段足够长的中文句子可以保留。" {
		t.Errorf("unexpected fragment %q", got)
	}
	for i, f := range fragments {
		body := strings.TrimPrefix(f.Text, "[source: cn.txt] ")
		if n := utf8.RuneCountInString(body); n < 10 {
			t.Errorf("fragment %d body has %d runes, min is 10: %q", i, n, body)
		}
	}
}

func TestChunkDocument_LatinSentenceSplit(t *testing.T) {
	chunker := NewChunker(ChunkerConfig{MaxSize: 60, MinSize: 10, SentenceSplit: true})

	content := "The quick brown fox jumps over the lazy dog today. Another sentence follows here with more words. Final one here."
	fragments := chunker.ChunkDocument(Document{Filename: "en.txt", Content: content})

	if len(fragments) != 3 {
		t.Fatalf("expected 3 fragments, got %d: %v", len(fragments), fragments)
	}

	first := strings.TrimPrefix(fragments[0].Text, "[source: en.txt] ")
	if first != "The quick brown fox jumps over the lazy dog today." {
		t.Errorf("unexpected first sentence %q", first)
	}
	last := strings.TrimPrefix(fragments[2].Text, "[source: en.txt] ")
	if last != "Final one here." {
		t.Errorf("unexpected last sentence %q", last)
	}
}

func TestChunkDocument_HardSplitWithOverlap(t *testing.T) {
	chunker := NewChunker(ChunkerConfig{MaxSize: 50, MinSize: 10, Overlap: 10})

	// 120 runes with no punctuation forces pure window splitting.
	content := strings.Repeat("0123456789", 12)
	fragments := chunker.ChunkDocument(Document{Filename: "long.txt", Content: content})

	if len(fragments) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(fragments))
	}

	var bodies []string
	for _, f := range fragments {
		body := strings.TrimPrefix(f.Text, "[source: long.txt] ")
		if utf8.RuneCountInString(body) > 50 {
			t.Errorf("fragment body exceeds max size: %d runes", utf8.RuneCountInString(body))
		}
		bodies = append(bodies, body)
	}

	// Consecutive windows share the configured overlap.
	if !strings.HasPrefix(bodies[1], bodies[0][len(bodies[0])-10:]) {
		t.Errorf("window 1 does not start with the tail of window 0: %q vs %q", bodies[1], bodies[0])
	}
}

func TestChunkDocument_HardSplitPrefersPunctuation(t *testing.T) {
	chunker := NewChunker(ChunkerConfig{MaxSize: 50, MinSize: 10, Overlap: 10})

	content := strings.Repeat("甲", 40) + "，" + strings.Repeat("乙", 30)
	fragments := chunker.ChunkDocument(Document{Filename: "cn.txt", Content: content})

	if len(fragments) < 2 {
		t.Fatalf("expected at least 2 fragments, got %d", len(fragments))
	}

	first := strings.TrimPrefix(fragments[0].Text, "[source: cn.txt] ")
	if !strings.HasSuffix(first, "，") {
		t.Errorf("expected first window to end at punctuation, got %q", first)
	}
	if utf8.RuneCountInString(first) != 41 {
		t.Errorf("expected first window of 41 runes, got %d", utf8.RuneCountInString(first))
	}
}

func TestChunkDocument_MaxSizeInvariant(t *testing.T) {
	chunker := NewChunker(ChunkerConfig{MaxSize: 50, MinSize: 10, Overlap: 10, SentenceSplit: true})

	content := strings.Join([]string{
		"这是一个很长的段落，里面有各种标点符号，还有一些英文words混在其中，用来测试切分逻辑的行为是否正确。",
		strings.Repeat("abcdefghij", 20),
		"A long English paragraph without any helpful punctuation whatsoever just running on and on and on until it must be cut somewhere in the middle of things.",
	}, "\n")

	fragments := chunker.ChunkDocument(Document{Filename: "mix.txt", Content: content})
	if len(fragments) == 0 {
		t.Fatal("expected fragments")
	}

	for i, f := range fragments {
		body := strings.TrimPrefix(f.Text, "[source: mix.txt] ")
		if n := utf8.RuneCountInString(body); n > 50 {
			t.Errorf("fragment %d body has %d runes, max is 50: %q", i, n, body)
		}
	}
}

func TestChunkDocument_SkipHeader(t *testing.T) {
	chunker := NewChunker(ChunkerConfig{MaxSize: 50, MinSize: 10})

	fragments := chunker.ChunkDocument(Document{
		Filename:   "table.csv",
		Content:    "name,price,stock\nwidget alpha with a long description",
		SkipHeader: true,
	})

	if len(fragments) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(fragments))
	}
	if strings.Contains(fragments[0].Text, "name,price") {
		t.Errorf("header row should have been skipped: %q", fragments[0].Text)
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{
			name:     "empty",
			input:    "",
			expected: 0,
		},
		{
			name:     "single cjk sentence",
			input:    "今天天气很好。",
			expected: 1,
		},
		{
			name:     "mixed enders",
			input:    "第一句话结束。第二句话在这里！第三句是疑问？还有分号的一句；最后没有标点的一句",
			expected: 5,
		},
		{
			name:     "short latin run untouched",
			input:    "v1.2.3 released today",
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sentences := splitSentences(tt.input)
			if len(sentences) != tt.expected {
				t.Errorf("expected %d sentences, got %d: %v", tt.expected, len(sentences), sentences)
			}
		})
	}
}

func TestSplitLatin_KeepsAbbreviationishDots(t *testing.T) {
	// A period not followed by whitespace and an uppercase letter is not
	// a boundary.
	pieces := splitLatin("see www.example.com for details. More text follows afterwards")
	if len(pieces) != 2 {
		t.Fatalf("expected 2 pieces, got %d: %v", len(pieces), pieces)
	}
	if pieces[0] != "see www.example.com for details." {
		t.Errorf("unexpected first piece %q", pieces[0])
	}
}

func TestChunkDocument_Deterministic(t *testing.T) {
	chunker := NewChunker(ChunkerConfig{MaxSize: 50, MinSize: 10, Overlap: 10, SentenceSplit: true})

	doc := Document{
		Filename: "mix.txt",
		Content: "这是一个足够长的中文句子用来测试。短的。Another full English sentence sits on this line with enough words. " +
			strings.Repeat("0123456789", 12),
	}

	first := chunker.ChunkDocument(doc)
	second := chunker.ChunkDocument(doc)

	if len(first) == 0 {
		t.Fatal("expected fragments")
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("chunking is not deterministic:\nfirst:  %v\nsecond: %v", first, second)
	}
}
