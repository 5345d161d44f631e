package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextParagraphsAndPages(t *testing.T) {
	text := "First paragraph\ncontinues here.\n\n\nSecond paragraph.\fThird on page two.\r\n\r\nFourth."
	chunks := SplitText(text, 0)

	require.Len(t, chunks, 4)
	assert.Equal(t, "First paragraph\ncontinues here.", chunks[0].Text)
	assert.Equal(t, "Second paragraph.", chunks[1].Text)
	assert.Equal(t, "Third on page two.", chunks[2].Text)
	assert.Equal(t, "Fourth.", chunks[3].Text)
	assert.Equal(t, 1, *chunks[0].PageNumber)
	assert.Equal(t, 1, *chunks[1].PageNumber)
	assert.Equal(t, 2, *chunks[2].PageNumber)
	assert.Equal(t, 2, *chunks[3].PageNumber)
}

func TestSplitTextForceSplitsLongParagraphs(t *testing.T) {
	para := strings.TrimSpace(strings.Repeat("word ", 100)) // 499 chars
	chunks := SplitText(para, 50)

	require.Greater(t, len(chunks), 1)
	total := 0
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 50)
		total += len(strings.Fields(c.Text))
	}
	assert.Equal(t, 100, total)
}

func TestSplitTextEmpty(t *testing.T) {
	assert.Empty(t, SplitText("  \n\n\f  ", 0))
}
