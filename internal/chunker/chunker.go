// Package chunker splits free text into bounded-length, sentence-aligned
// chunks for embedding and retrieval.
package chunker

import (
	"regexp"
	"strings"
)

// DefaultMaxLen is the chunk length bound used when callers pass no
// explicit configuration.
const DefaultMaxLen = 500

// A sentence is a maximal run of non-terminal characters followed by one
// or more terminal punctuation characters.
var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+`)

// Split breaks text into chunks of whole sentences, each at most maxLen
// characters. Sentences are accumulated greedily in document order; a chunk
// is flushed (trimmed of surrounding whitespace) when the next sentence
// would push it past maxLen. A single sentence longer than maxLen becomes
// its own oversized chunk: sentences are never split mid-way.
//
// Text with no terminal punctuation yields no chunks. Empty input yields
// nil. Split never fails.
func Split(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}

	sentences := sentenceRe.FindAllString(text, -1)
	var chunks []string
	var current string

	for _, sentence := range sentences {
		if len(current)+len(sentence) <= maxLen {
			current += sentence
			continue
		}
		if current != "" {
			chunks = append(chunks, strings.TrimSpace(current))
		}
		current = sentence
	}
	if current != "" {
		chunks = append(chunks, strings.TrimSpace(current))
	}

	return chunks
}
