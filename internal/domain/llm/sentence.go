package llm

import "strings"

// sentenceTerminators end a synthesizable sentence. CJK forms are included
// because prompts and transcripts may mix scripts.
var sentenceTerminators = []rune{'.', '!', '?', ';', '。', '！', '？', '；', '\n'}

func isTerminator(r rune) bool {
	for _, t := range sentenceTerminators {
		if r == t {
			return true
		}
	}
	return false
}

// SentenceSplitter incrementally carves complete sentences out of a
// growing stream of text deltas. Only the unflushed suffix is rescanned on
// each push, so feeding the same stream chunked differently yields the
// same sentences.
type SentenceSplitter struct {
	buf     strings.Builder
	flushed int // byte offset of the first unflushed rune
}

func NewSentenceSplitter() *SentenceSplitter {
	return &SentenceSplitter{}
}

// Push appends delta and returns any newly completed sentences, trimmed,
// with their terminal punctuation retained. Empty sentences (punctuation
// surrounded by whitespace only) are skipped.
func (s *SentenceSplitter) Push(delta string) []string {
	if delta == "" {
		return nil
	}
	s.buf.WriteString(delta)

	text := s.buf.String()
	var out []string
	start := s.flushed
	for i, r := range text[s.flushed:] {
		if !isTerminator(r) {
			continue
		}
		end := s.flushed + i + len(string(r))
		sentence := strings.TrimSpace(text[start:end])
		if sentence != "" {
			out = append(out, sentence)
		}
		start = end
	}
	s.flushed = start
	return out
}

// Flush returns the trailing text that never saw a terminator, trimmed.
// The splitter is reset afterwards.
func (s *SentenceSplitter) Flush() string {
	rest := strings.TrimSpace(s.buf.String()[s.flushed:])
	s.buf.Reset()
	s.flushed = 0
	return rest
}
