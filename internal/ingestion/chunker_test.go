package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextSingleChunkFastPath(t *testing.T) {
	text := "para1\n\npara2"
	chunks := ChunkText(text, 4000)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestChunkTextExactLimit(t *testing.T) {
	text := strings.Repeat("a", 100)
	chunks := ChunkText(text, 100)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestChunkTextSplitsOnParagraphs(t *testing.T) {
	paragraphs := []string{
		strings.Repeat("alpha ", 10),
		strings.Repeat("beta ", 10),
		strings.Repeat("gamma ", 10),
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks := ChunkText(text, 70)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 70)
	}
}

func TestChunkTextSizeBound(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("This is sentence number one. Here is another sentence! Is this a question? ")
		if i%5 == 0 {
			b.WriteString("\n\n")
		}
	}
	text := b.String()

	chunks := ChunkText(text, 200)

	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.LessOrEqual(t, len(c), 200, "chunk %d exceeds limit", i)
		assert.Equal(t, strings.TrimSpace(c), c, "chunk %d not trimmed", i)
		assert.NotEmpty(t, c)
	}
}

func TestChunkTextPreservesContent(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog. ")
		if i%3 == 0 {
			b.WriteString("\n\n")
		}
	}
	text := b.String()

	chunks := ChunkText(text, 150)

	stripped := func(s string) string {
		return strings.Join(strings.Fields(s), "")
	}
	assert.Equal(t, stripped(text), stripped(strings.Join(chunks, " ")))
}

func TestChunkTextOversizedSentenceKeptIntact(t *testing.T) {
	// A single sentence longer than the limit is never split mid-word.
	sentence := strings.Repeat("word ", 50) + "end."
	chunks := ChunkText(sentence+"\n\nshort paragraph.", 100)

	require.NotEmpty(t, chunks)
	found := false
	for _, c := range chunks {
		if strings.Contains(c, "end.") && len(c) > 100 {
			found = true
		}
	}
	assert.True(t, found, "oversized sentence should survive whole")
}

func TestChunkTextDeterministic(t *testing.T) {
	text := strings.Repeat("Sentence one. Sentence two! Sentence three? ", 40)

	first := ChunkText(text, 300)
	second := ChunkText(text, 300)

	assert.Equal(t, first, second)
}
