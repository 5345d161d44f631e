package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHash_IgnoresCosmeticWhitespaceAndCase(t *testing.T) {
	a := ContentHash("The quick  brown\n\tfox.")
	b := ContentHash("  the QUICK brown fox. ")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, ContentHash("The quick brown fox!"))
}

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"   ", ""},
		{"Hello\n\nWorld", "hello world"},
		{"\tA  b\r\nC ", "a b c"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeText(c.in), "input %q", c.in)
	}
}

func TestTokenize_OffsetsPointIntoOriginal(t *testing.T) {
	text := "Cats are small, mammals."
	tokens := Tokenize(text)
	require.Len(t, tokens, 4)
	assert.Equal(t, "cats", tokens[0].Term)
	assert.Equal(t, "Cats", text[tokens[0].Start:tokens[0].End])
	assert.Equal(t, "mammals", tokens[3].Term)
	assert.Equal(t, "mammals", text[tokens[3].Start:tokens[3].End])
}

func jaccardOf(a, b string) float64 {
	return Jaccard(NewWordSet(a), NewWordSet(b))
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, jaccardOf("The sky is blue.", "the sky  is BLUE"))
	assert.Equal(t, 0.75, jaccardOf("Cats are mammals.", "Cats are small mammals."))
	assert.Equal(t, 0.0, jaccardOf("Cats are mammals.", "Dogs bark."))
	assert.Equal(t, 0.6, jaccardOf("a b c d", "a b c e"))
	assert.Equal(t, 1.0, jaccardOf("...", "..."))
	assert.Equal(t, 0.0, jaccardOf("...", "word"))
}

func TestCosineSimilarity(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.Error(t, err)

	_, err = CosineSimilarity(nil, []float32{1})
	assert.Error(t, err)

	sim, err = CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, sim)
}

func TestVectorScore_ClampsNegative(t *testing.T) {
	score, err := VectorScore([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.2))
	assert.Equal(t, 1.0, Clamp01(1.7))
	assert.Equal(t, 0.5, Clamp01(0.5))
	assert.Equal(t, 0.0, Clamp01(math.NaN()))
}

func TestWordSetJaccard(t *testing.T) {
	a := NewWordSet("Red apple, red APPLE pie")
	b := NewWordSet("red apple pie recipe")
	assert.Len(t, a.words, 3)
	assert.Equal(t, 0.75, Jaccard(a, b))
	assert.Equal(t, Jaccard(a, b), Jaccard(b, a))
}
