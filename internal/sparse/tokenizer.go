package sparse

import (
	"regexp"
	"strings"
)

// Tokenizer turns text into index terms. Implementations must be
// deterministic: the same input always yields the same token sequence.
type Tokenizer interface {
	Tokenize(text string) []string
}

// tokenRegex matches alphanumeric sequences.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// defaultStopWords are filtered from both documents and queries.
var defaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"has", "he", "in", "is", "it", "its", "of", "on", "or", "that",
	"the", "to", "was", "were", "will", "with",
}

// StandardTokenizer lowercases, splits on non-alphanumeric boundaries,
// drops single-character tokens and stop words.
type StandardTokenizer struct {
	stopWords map[string]struct{}
}

var _ Tokenizer = (*StandardTokenizer)(nil)

// NewStandardTokenizer creates a tokenizer with the default stop word list.
func NewStandardTokenizer() *StandardTokenizer {
	return NewStandardTokenizerWithStopWords(defaultStopWords)
}

// NewStandardTokenizerWithStopWords creates a tokenizer with a custom
// stop word list. An empty list disables stop word filtering.
func NewStandardTokenizerWithStopWords(stopWords []string) *StandardTokenizer {
	m := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		m[strings.ToLower(w)] = struct{}{}
	}
	return &StandardTokenizer{stopWords: m}
}

// Tokenize implements Tokenizer.
func (t *StandardTokenizer) Tokenize(text string) []string {
	words := tokenRegex.FindAllString(text, -1)

	tokens := make([]string, 0, len(words))
	for _, word := range words {
		lower := strings.ToLower(word)
		if len(lower) < 2 {
			continue
		}
		if _, isStop := t.stopWords[lower]; isStop {
			continue
		}
		tokens = append(tokens, lower)
	}
	return tokens
}
