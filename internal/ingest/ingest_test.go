package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/qamatch/internal/embed"
	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/runlock"
	"github.com/Aman-CERP/qamatch/internal/store"
	"github.com/Aman-CERP/qamatch/internal/textnorm"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), store.SQLiteConfig{
		Path:             filepath.Join(t.TempDir(), "qa.db"),
		TrigramThreshold: store.DefaultTrigramThreshold,
		Dimensions:       4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var sampleChunks = []string{
	"Вопрос: Что такое GPA? Ответ: GPA это средний балл.",
	"Вопрос: dorm Ответ: Общежитие стоит 50000.",
	"Просто текст без маркера",
	"Вопрос: gpa Ответ: GPA это средний балл.",
}

func stageSample(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	res, err := NewStager(s, embed.NewStaticEmbedder(4), 3).Stage(context.Background(), sampleChunks)
	require.NoError(t, err)
	require.Equal(t, len(sampleChunks), res.Inserted)
}

// =============================================================================
// Staging
// =============================================================================

func TestLoadJSONL(t *testing.T) {
	input := `{"text_chunk": "Вопрос: a Ответ: b"}` + "\n\n" +
		`{"text_chunk": "  "}` + "\n" +
		`{"text_chunk": "c", "extra": 1}` + "\n"

	texts, err := LoadJSONL(strings.NewReader(input))

	require.NoError(t, err)
	assert.Equal(t, []string{"Вопрос: a Ответ: b", "c"}, texts)
}

func TestLoadJSONL_BadLine(t *testing.T) {
	_, err := LoadJSONL(strings.NewReader("{\"text_chunk\": \"a\"}\nnot json\n"))

	require.Error(t, err)
	assert.True(t, qaerrors.IsValidation(err))
	assert.Contains(t, err.Error(), "line 2")
}

func TestStager_SkipsStagedChunks(t *testing.T) {
	s := newTestStore(t)
	stageSample(t, s)

	res, err := NewStager(s, embed.NewStaticEmbedder(4), 0).Stage(context.Background(), sampleChunks[:2])

	require.NoError(t, err)
	assert.Equal(t, store.InsertResult{Skipped: 2}, res)
}

// =============================================================================
// Build
// =============================================================================

func TestBuild_AnswersAndEntries(t *testing.T) {
	// Given four staged chunks, two sharing one answer
	s := newTestStore(t)
	ctx := context.Background()
	stageSample(t, s)
	var stages []string
	b := NewBuilder(s, embed.NewStaticEmbedder(4), BuilderConfig{BatchSize: 3},
		WithProgress(func(p Progress) { stages = append(stages, p.Stage) }))

	// When
	report, err := b.Build(ctx)

	// Then
	require.NoError(t, err)
	assert.Equal(t, 4, report.Chunks)
	assert.Equal(t, 4, report.Parsed)
	assert.Equal(t, store.InsertResult{Inserted: 3}, report.Answers)
	assert.Equal(t, store.InsertResult{Inserted: 8}, report.Entries)
	assert.Equal(t, StageParse, stages[0])
	assert.Equal(t, StageIndex, stages[len(stages)-1])

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Answers)
	assert.Equal(t, 8, stats.Entries)

	// And the alias phrase is searchable and bound to the dorm answer
	ids, err := s.AnswerIDsByHash(ctx, []string{textnorm.AnswerHash("Общежитие стоит 50000.")})
	require.NoError(t, err)
	dormID := ids[textnorm.AnswerHash("Общежитие стоит 50000.")]
	hits, err := s.SearchTrigram(ctx, "dorm жатақхана общежитие общага dormitory hostel residence price cost payment fee", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, dormID, hits[0].AnswerID)
	assert.Equal(t, textnorm.LangRussian, hits[0].Language)
}

func TestBuild_Idempotent(t *testing.T) {
	s := newTestStore(t)
	stageSample(t, s)
	b := NewBuilder(s, embed.NewStaticEmbedder(4), BuilderConfig{})
	_, err := b.Build(context.Background())
	require.NoError(t, err)

	report, err := b.Build(context.Background())

	require.NoError(t, err)
	assert.Equal(t, store.InsertResult{Skipped: 3}, report.Answers)
	assert.Equal(t, store.InsertResult{Skipped: 8}, report.Entries)
}

func TestBuild_RuleEntries(t *testing.T) {
	parsed, answers := parseChunks([]store.RawChunk{
		{ID: 1, Text: sampleChunks[1]},
		{ID: 2, Text: sampleChunks[2]},
	})
	require.Len(t, answers, 2)
	assert.Equal(t, int64(1), answers[0].Meta[store.MetaSourceChunkID])

	b := NewBuilder(nil, embed.NewStaticEmbedder(4), BuilderConfig{})
	entries := b.buildEntries(parsed, map[string]int64{answers[0].Hash: 7, answers[1].Hash: 8})

	require.Len(t, entries, 3)
	assert.Equal(t, "dorm", entries[0].SearchText)
	assert.Equal(t, "dorm что это такое объясни анықтама", entries[1].SearchText)
	for _, e := range entries {
		assert.Equal(t, int64(7), e.AnswerID)
		assert.Equal(t, store.SourceRules, e.Source())
		assert.Equal(t, int64(1), e.Meta[store.MetaSrcChunkID])
		assert.Equal(t, textnorm.PhraseHash(7, e.SearchText), e.SearchHash)
	}
}

func TestBuild_RespectsLock(t *testing.T) {
	s := newTestStore(t)
	lockPath := filepath.Join(t.TempDir(), "ingest.lock")
	held, err := runlock.Acquire(lockPath)
	require.NoError(t, err)
	defer func() { _ = held.Unlock() }()

	_, err = NewBuilder(s, embed.NewStaticEmbedder(4), BuilderConfig{LockPath: lockPath}).Build(context.Background())

	assert.True(t, qaerrors.HasCode(err, qaerrors.ErrCodeRunInProgress))
}
