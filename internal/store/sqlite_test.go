package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/textnorm"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), SQLiteConfig{
		Path:             filepath.Join(t.TempDir(), "qa.db"),
		TrigramThreshold: DefaultTrigramThreshold,
		Dimensions:       4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedAnswer inserts one answer and returns its id.
func seedAnswer(t *testing.T, s *SQLiteStore, text string) int64 {
	t.Helper()
	ctx := context.Background()
	_, err := s.InsertAnswers(ctx, []Answer{{Text: text, Language: textnorm.LangRussian}})
	require.NoError(t, err)

	hash := textnorm.AnswerHash(text)
	ids, err := s.AnswerIDsByHash(ctx, []string{hash})
	require.NoError(t, err)
	require.Contains(t, ids, hash)
	return ids[hash]
}

func ruleEntry(answerID int64, text string, vec []float32) IndexEntry {
	return IndexEntry{
		AnswerID:   answerID,
		Language:   textnorm.LangRussian,
		SearchText: text,
		Embedding:  vec,
		Meta:       map[string]any{MetaSource: SourceRules},
	}
}

// ============================================================================
// Answers
// ============================================================================

func TestSQLite_InsertAnswers_SkipsDuplicateHash(t *testing.T) {
	// Given: an answer already stored
	s := newTestSQLite(t)
	ctx := context.Background()
	first := seedAnswer(t, s, "Откройте портал my.sdu.edu.kz")

	// When: the same text (different case) is inserted again
	res, err := s.InsertAnswers(ctx, []Answer{{Text: "ОТКРОЙТЕ портал MY.SDU.EDU.KZ"}})
	require.NoError(t, err)

	// Then: it is skipped and the original id is kept
	assert.Equal(t, InsertResult{Skipped: 1}, res)
	hash := textnorm.AnswerHash("Откройте портал my.sdu.edu.kz")
	ids, err := s.AnswerIDsByHash(ctx, []string{hash, "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{hash: first}, ids)
}

// ============================================================================
// Entries
// ============================================================================

func TestSQLite_InsertEntries_SearchableImmediately(t *testing.T) {
	// Given: one answer with two entries
	s := newTestSQLite(t)
	ctx := context.Background()
	id := seedAnswer(t, s, "Moodle: moodle.sdu.edu.kz")

	res, err := s.InsertEntries(ctx, []IndexEntry{
		ruleEntry(id, "мудл не открывается", []float32{1, 0, 0, 0}),
		ruleEntry(id, "как зайти в moodle", []float32{0, 1, 0, 0}),
	})
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Inserted: 2}, res)

	// When: both primitives are queried
	vec, err := s.SearchVector(ctx, []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	tri, err := s.SearchTrigram(ctx, "мудл не открывается", 5)
	require.NoError(t, err)

	// Then: both find the new rows
	require.NotEmpty(t, vec)
	assert.Equal(t, "мудл не открывается", vec[0].SearchText)
	assert.Equal(t, id, vec[0].AnswerID)
	require.Len(t, tri, 1)
	assert.InDelta(t, 1.0, tri[0].Trigram, 1e-9)
}

func TestSQLite_InsertEntries_DuplicateSearchHashSkipped(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	id := seedAnswer(t, s, "answer")

	_, err := s.InsertEntries(ctx, []IndexEntry{ruleEntry(id, "Retake", []float32{1, 0, 0, 0})})
	require.NoError(t, err)

	// Same answer and lowercase text produce the same search hash.
	res, err := s.InsertEntries(ctx, []IndexEntry{ruleEntry(id, "retake", []float32{0, 1, 0, 0})})
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Skipped: 1}, res)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, "sqlite", st.Backend)
}

func TestSQLite_InsertEntries_UnknownAnswerRejected(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.InsertEntries(context.Background(), []IndexEntry{ruleEntry(999, "orphan", []float32{1, 0, 0, 0})})

	require.Error(t, err)
	assert.Equal(t, 0, s.vectors.Len())
}

func TestSQLite_InsertEntries_WrongDimensions(t *testing.T) {
	s := newTestSQLite(t)
	id := seedAnswer(t, s, "answer")

	_, err := s.InsertEntries(context.Background(), []IndexEntry{ruleEntry(id, "x", []float32{1, 0})})

	assert.True(t, qaerrors.HasCode(err, qaerrors.ErrCodeDimensionMismatch))
}

func TestSQLite_ReopenLoadsIndexes(t *testing.T) {
	// Given: a store with one entry, closed
	path := filepath.Join(t.TempDir(), "qa.db")
	ctx := context.Background()
	cfg := SQLiteConfig{Path: path, TrigramThreshold: DefaultTrigramThreshold, Dimensions: 4}

	s, err := OpenSQLite(ctx, cfg)
	require.NoError(t, err)
	id := seedAnswer(t, s, "GPA answer")
	_, err = s.InsertEntries(ctx, []IndexEntry{ruleEntry(id, "что такое gpa", []float32{0, 0, 1, 0})})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// When: reopened
	s2, err := OpenSQLite(ctx, cfg)
	require.NoError(t, err)
	defer s2.Close()

	// Then: the entry is searchable without re-inserting
	hits, err := s2.SearchVector(ctx, []float32{0, 0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "что такое gpa", hits[0].SearchText)
}

func TestSQLite_RefreshPicksUpOtherWriters(t *testing.T) {
	// Given: two handles on one file
	path := filepath.Join(t.TempDir(), "qa.db")
	ctx := context.Background()
	cfg := SQLiteConfig{Path: path, TrigramThreshold: DefaultTrigramThreshold, Dimensions: 4}

	reader, err := OpenSQLite(ctx, cfg)
	require.NoError(t, err)
	defer reader.Close()
	writer, err := OpenSQLite(ctx, cfg)
	require.NoError(t, err)
	defer writer.Close()

	id := seedAnswer(t, writer, "SPT answer")
	_, err = writer.InsertEntries(ctx, []IndexEntry{ruleEntry(id, "spt баллы", []float32{0, 0, 0, 1})})
	require.NoError(t, err)

	// When: the reader refreshes
	require.NoError(t, reader.Refresh(ctx))

	// Then: it sees the new entry
	tri, err := reader.SearchTrigram(ctx, "spt баллы", 5)
	require.NoError(t, err)
	require.Len(t, tri, 1)
	assert.Equal(t, id, tri[0].AnswerID)
}

// ============================================================================
// ListPhrases
// ============================================================================

func TestSQLite_ListPhrases_FiltersAndOrders(t *testing.T) {
	// Given: short and long rules entries, one paraphrase, and one row with
	// unknown creation time
	s := newTestSQLite(t)
	ctx := context.Background()
	id := seedAnswer(t, s, "answer")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	entries := []IndexEntry{
		ruleEntry(id, "мудль", []float32{1, 0, 0, 0}),
		ruleEntry(id, "как подать заявление на пересдачу экзамена в этом семестре", []float32{1, 0, 0, 0}),
		ruleEntry(id, "gpa", []float32{1, 0, 0, 0}),
		ruleEntry(id, "fx", []float32{1, 0, 0, 0}),
		{AnswerID: id, SearchText: "мудл", Embedding: []float32{1, 0, 0, 0},
			Meta: map[string]any{MetaSource: SourceParaphrase}},
	}
	for i := range entries {
		entries[i].CreatedAt = base.Add(time.Duration(i) * time.Minute)
	}
	_, err := s.InsertEntries(ctx, entries)
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `UPDATE qa_index SET created_at = NULL WHERE search_text = 'мудль'`)
	require.NoError(t, err)

	// When: listing short rules phrases
	rows, err := s.ListPhrases(ctx, PhraseQuery{Source: SourceRules, MaxChars: 40, MaxWords: 2, Limit: 10})
	require.NoError(t, err)

	// Then: long and paraphrase rows are excluded; unknown time sorts last
	texts := make([]string, len(rows))
	for i, r := range rows {
		texts[i] = r.SearchText
	}
	assert.Equal(t, []string{"gpa", "fx", "мудль"}, texts)
	require.NotNil(t, rows[0].CreatedAt)
	assert.True(t, rows[0].CreatedAt.Equal(base.Add(2*time.Minute)))
	assert.Nil(t, rows[2].CreatedAt)
	assert.Equal(t, textnorm.PhraseHash(id, "gpa"), rows[0].SearchHash)
}

func TestSQLite_ListPhrases_Paging(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	id := seedAnswer(t, s, "answer")

	var entries []IndexEntry
	for i := range 5 {
		e := ruleEntry(id, fmt.Sprintf("p%d", i), []float32{1, 0, 0, 0})
		e.CreatedAt = time.Unix(int64(i), 0)
		entries = append(entries, e)
	}
	_, err := s.InsertEntries(ctx, entries)
	require.NoError(t, err)

	page, err := s.ListPhrases(ctx, PhraseQuery{Source: SourceRules, MaxChars: 40, MaxWords: 2, Offset: 2, Limit: 2})
	require.NoError(t, err)

	require.Len(t, page, 2)
	assert.Equal(t, "p2", page[0].SearchText)
	assert.Equal(t, "p3", page[1].SearchText)

	empty, err := s.ListPhrases(ctx, PhraseQuery{Source: SourceRules, Limit: 0})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// ============================================================================
// Chunks
// ============================================================================

func TestSQLite_Chunks_RoundTripAndDedupe(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	res, err := s.InsertChunks(ctx, []RawChunk{
		{Text: "Вопрос: a Ответ: b"},
		{Text: "Вопрос: c Ответ: d", Embedding: []float32{0.5, 0.25, 0, 1}},
		{Text: "Вопрос: a Ответ: b"},
	})
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Inserted: 2, Skipped: 1}, res)

	chunks, err := s.ListChunks(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Вопрос: a Ответ: b", chunks[0].Text)
	assert.Equal(t, textnorm.SHA1Hex("Вопрос: a Ответ: b"), chunks[0].Hash)
	assert.Nil(t, chunks[0].Embedding)
	assert.Equal(t, []float32{0.5, 0.25, 0, 1}, chunks[1].Embedding)

	rest, err := s.ListChunks(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

// ============================================================================
// Ledger
// ============================================================================

func TestSQLite_MarkDone_Idempotent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	added, err := s.MarkDone(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.MarkDone(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, added)

	done, err := s.DoneHashes(ctx, []string{"h1", "h2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"h1": true}, done)
}

func TestSQLite_MarkDone_ConcurrentSingleRow(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	newCount := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := s.MarkDone(ctx, "same")
			assert.NoError(t, err)
			if added {
				mu.Lock()
				newCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, newCount)
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.LedgerHashes)
}

func TestSQLite_DoneHashes_LargeBatch(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	hashes := make([]string, 1200)
	for i := range hashes {
		hashes[i] = fmt.Sprintf("h%04d", i)
	}
	_, err := s.MarkDone(ctx, "h0000")
	require.NoError(t, err)
	_, err = s.MarkDone(ctx, "h1199")
	require.NoError(t, err)

	done, err := s.DoneHashes(ctx, hashes)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"h0000": true, "h1199": true}, done)
}

func TestSQLite_ClosedStore(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Close())

	_, err := s.MarkDone(context.Background(), "h")
	assert.True(t, qaerrors.HasCode(err, qaerrors.ErrCodeStoreClosed))
	assert.NoError(t, s.Close())
}

func TestEmbeddingEncoding_RoundTrip(t *testing.T) {
	v := []float32{-1.5, 0, 3.25, 1e-7}
	assert.Equal(t, v, decodeEmbedding(encodeEmbedding(v)))
	assert.Nil(t, decodeEmbedding(nil))
}
