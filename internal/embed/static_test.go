package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Embed_DimensionsAndNorm(t *testing.T) {
	// Given: a static embedder with default width
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// When: a Russian question is embedded
	embedding, err := embedder.Embed(context.Background(), "Как восстановить пароль от портала?")

	// Then: the vector is 1536 wide and unit length
	require.NoError(t, err)
	assert.Len(t, embedding, DefaultDimensions)
	assert.InDelta(t, 1.0, vectorMagnitude(embedding), 0.001)
}

func TestStaticEmbedder_Embed_IsDeterministic(t *testing.T) {
	e1 := NewStaticEmbedder(64)
	e2 := NewStaticEmbedder(64)
	text := "Moodle-ге қалай кіремін?"

	emb1, err1 := e1.Embed(context.Background(), text)
	emb2, err2 := e2.Embed(context.Background(), text)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, emb1, emb2)
}

func TestStaticEmbedder_SimilarTextsScoreHigher(t *testing.T) {
	// Given: a question, a near paraphrase and an unrelated text
	e := NewStaticEmbedder(0)
	ctx := context.Background()
	base, _ := e.Embed(ctx, "как пересдать экзамен fx")
	near, _ := e.Embed(ctx, "пересдать экзамен fx")
	far, _ := e.Embed(ctx, "where is the dormitory office")

	// Then: the paraphrase is closer
	assert.Greater(t, cosineSimilarity(base, near), cosineSimilarity(base, far))
}

func TestStaticEmbedder_EmptyInput_ZeroVector(t *testing.T) {
	e := NewStaticEmbedder(32)

	emb, err := e.Embed(context.Background(), "   ")

	require.NoError(t, err)
	assert.Equal(t, make([]float32, 32), emb)
}

func TestStaticEmbedder_EmbedBatch(t *testing.T) {
	e := NewStaticEmbedder(32)
	ctx := context.Background()

	out, err := e.EmbedBatch(ctx, []string{"gpa", "spt"})
	require.NoError(t, err)
	require.Len(t, out, 2)

	single, _ := e.Embed(ctx, "spt")
	assert.Equal(t, single, out[1])

	empty, err := e.EmbedBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStaticEmbedder_Closed(t *testing.T) {
	e := NewStaticEmbedder(32)
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "x")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestTokenize_UnicodeAndStopWords(t *testing.T) {
	assert.Equal(t, []string{"пересдать", "fx", "экзамен"}, tokenize("Как пересдать FX-экзамен?"))
	assert.Equal(t, []string{"мысду"}, extractNgrams([]rune("мысду"), 5))
	assert.Empty(t, extractNgrams([]rune("ab"), 3))
}
