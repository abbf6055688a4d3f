package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(s *SentenceSplitter, chunks []string) []string {
	var out []string
	for _, c := range chunks {
		out = append(out, s.Push(c)...)
	}
	if rest := s.Flush(); rest != "" {
		out = append(out, rest)
	}
	return out
}

func TestSplitterChunkingInvariance(t *testing.T) {
	text := "Hello, world! How are you? I'm fine. And"
	want := []string{"Hello, world!", "How are you?", "I'm fine.", "And"}

	chunkings := [][]string{
		{text},
		{"Hello, wor", "ld! How are ", "you? I'm fine. And"},
		{"H", "e", "llo, world! How are you? I'm f", "ine. An", "d"},
	}
	for i, chunks := range chunkings {
		got := collect(NewSentenceSplitter(), chunks)
		assert.Equal(t, want, got, "chunking %d", i)
	}
}

func TestSplitterCJKAndNewline(t *testing.T) {
	s := NewSentenceSplitter()
	out := s.Push("你好。第一行\n第二")
	assert.Equal(t, []string{"你好。", "第一行"}, out)
	assert.Equal(t, "第二", s.Flush())
}

func TestSplitterSkipsEmptySentences(t *testing.T) {
	s := NewSentenceSplitter()
	out := s.Push("Sure... okay.")
	assert.Equal(t, []string{"Sure.", "okay."}, out, "bare punctuation runs must not produce empty sentences")
}

func TestSplitterFlushResets(t *testing.T) {
	s := NewSentenceSplitter()
	s.Push("Unfinished thought")
	assert.Equal(t, "Unfinished thought", s.Flush())
	assert.Empty(t, s.Flush())

	out := s.Push("Fresh start.")
	assert.Equal(t, []string{"Fresh start."}, out)
}
