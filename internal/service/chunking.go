package service

import (
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/policyrag/internal/domain"
)

// ChunkConfig controls how documents are segmented into chunks.
// Sizes are measured in whitespace-delimited words.
type ChunkConfig struct {
	MaxTokens     int
	OverlapTokens int
}

// DefaultChunkConfig provides sane defaults for policy documents.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxTokens:     200,
		OverlapTokens: 40,
	}
}

// sentence is a run of words ending at sentence punctuation.
type sentence struct {
	text   string
	tokens int
}

// window is a chunk under construction. The first carried sentences are
// overlap copied from the previous chunk.
type window struct {
	sentences []sentence
	tokens    int
	carried   int
}

func (w *window) fresh() int {
	return len(w.sentences) - w.carried
}

func (w *window) add(s sentence) {
	w.sentences = append(w.sentences, s)
	w.tokens += s.tokens
}

func (w *window) dropFirst() {
	w.tokens -= w.sentences[0].tokens
	w.sentences = w.sentences[1:]
	w.carried--
}

func (w *window) text() string {
	parts := make([]string, len(w.sentences))
	for i, s := range w.sentences {
		parts[i] = s.text
	}
	return strings.Join(parts, " ")
}

// carry seeds the next window with the trailing sentences of w. Sentences are
// taken from the end until at least overlap words are carried.
func (w *window) carry(overlap int) window {
	next := window{}
	if overlap <= 0 {
		return next
	}
	start := len(w.sentences)
	carriedTokens := 0
	for start > 0 && carriedTokens < overlap {
		start--
		carriedTokens += w.sentences[start].tokens
	}
	next.sentences = append([]sentence(nil), w.sentences[start:]...)
	next.tokens = carriedTokens
	next.carried = len(next.sentences)
	return next
}

// SegmentText validates the input and splits it into overlapping chunks.
func SegmentText(text string, cfg ChunkConfig) ([]string, error) {
	if !utf8.ValidString(text) || strings.ContainsRune(text, 0) {
		return nil, domain.ErrSegmentationInputInvalid
	}
	return Segment(text, cfg.MaxTokens, cfg.OverlapTokens), nil
}

// Segment splits text into an ordered sequence of chunks of at most maxTokens
// words, never breaking a sentence. Consecutive chunks share trailing
// sentences sized to approximate overlapTokens. A sentence longer than
// maxTokens becomes a chunk on its own.
func Segment(text string, maxTokens, overlapTokens int) []string {
	windows := buildWindows(splitSentences(text), maxTokens, overlapTokens)
	chunks := make([]string, len(windows))
	for i := range windows {
		chunks[i] = windows[i].text()
	}
	return chunks
}

func buildWindows(sentences []sentence, maxTokens, overlapTokens int) []window {
	if len(sentences) == 0 {
		return nil
	}
	if maxTokens <= 0 {
		maxTokens = DefaultChunkConfig().MaxTokens
	}

	var out []window
	w := window{}
	for _, s := range sentences {
		if w.fresh() > 0 && w.tokens+s.tokens > maxTokens {
			out = append(out, w)
			w = w.carry(overlapTokens)
		}
		// Overlap gives way to the size bound.
		for w.carried > 0 && w.tokens+s.tokens > maxTokens {
			w.dropFirst()
		}
		w.add(s)
	}
	if w.fresh() > 0 {
		out = append(out, w)
	}
	return out
}

// splitSentences splits text into sentences. A sentence ends at a word whose
// last character is '.', '!' or '?', i.e. punctuation followed by whitespace
// or the end of the text. Words are kept verbatim; runs of whitespace
// collapse to one space.
func splitSentences(text string) []sentence {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var (
		out     []sentence
		current []string
	)
	for _, word := range words {
		current = append(current, word)
		if endsSentence(word) {
			out = append(out, sentence{text: strings.Join(current, " "), tokens: len(current)})
			current = current[:0]
		}
	}
	if len(current) > 0 {
		out = append(out, sentence{text: strings.Join(current, " "), tokens: len(current)})
	}
	return out
}

func endsSentence(word string) bool {
	switch word[len(word)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// CountTokens estimates the token count of text as its whitespace word count.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}
