package ingestion

import (
	"regexp"
	"strings"
)

var (
	paragraphSplit  = regexp.MustCompile(`\n\s*\n`)
	sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]+`)
)

// ChunkText splits text into pieces of at most maxLen characters, breaking
// at paragraph boundaries first and sentence boundaries inside oversized
// paragraphs. A single sentence longer than maxLen is kept intact rather
// than split mid-word. The output is deterministic for a given input.
func ChunkText(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
	}

	paragraphs := paragraphSplit.Split(text, -1)

	for _, paragraph := range paragraphs {
		if current.Len()+len(paragraph) > maxLen && current.Len() > 0 {
			flush()
		}

		if len(paragraph) > maxLen {
			for _, sentence := range splitSentences(paragraph) {
				if current.Len()+len(sentence) > maxLen && current.Len() > 0 {
					flush()
				}
				current.WriteString(sentence)
				current.WriteString(" ")
			}
		} else {
			current.WriteString(paragraph)
			current.WriteString("\n\n")
		}
	}

	flush()

	return chunks
}

// splitSentences breaks a paragraph at sentence terminators. A trailing run
// with no terminator is kept as a final piece so no text is lost.
func splitSentences(paragraph string) []string {
	indexes := sentencePattern.FindAllStringIndex(paragraph, -1)
	if indexes == nil {
		return []string{paragraph}
	}

	var sentences []string
	end := 0
	for _, idx := range indexes {
		sentences = append(sentences, paragraph[idx[0]:idx[1]])
		end = idx[1]
	}
	if tail := strings.TrimSpace(paragraph[end:]); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}
