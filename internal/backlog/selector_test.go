package backlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/store"
	"github.com/Aman-CERP/qamatch/internal/textnorm"
)

// fakeLister pages over rows that are already eligible.
type fakeLister struct {
	rows    []store.PhraseRow
	queries []store.PhraseQuery
	err     error
}

func (f *fakeLister) ListPhrases(_ context.Context, q store.PhraseQuery) ([]store.PhraseRow, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	if q.Offset >= len(f.rows) {
		return nil, nil
	}
	end := min(q.Offset+q.Limit, len(f.rows))
	return f.rows[q.Offset:end], nil
}

func phraseRows(hashes ...string) []store.PhraseRow {
	out := make([]store.PhraseRow, len(hashes))
	for i, h := range hashes {
		out[i] = store.PhraseRow{AnswerID: int64(i + 1), Language: "ru", SearchText: "p" + h, SearchHash: h}
	}
	return out
}

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

func seedEntry(t *testing.T, s *store.SQLiteStore, answer, phrase, source string, created time.Time) (answerID int64, hash string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.InsertAnswers(ctx, []store.Answer{{Text: answer, Language: textnorm.LangRussian}})
	require.NoError(t, err)
	ids, err := s.AnswerIDsByHash(ctx, []string{textnorm.AnswerHash(answer)})
	require.NoError(t, err)
	answerID = ids[textnorm.AnswerHash(answer)]

	hash = textnorm.PhraseHash(answerID, phrase)
	_, err = s.InsertEntries(ctx, []store.IndexEntry{{
		AnswerID:   answerID,
		Language:   textnorm.DetectLanguage(phrase),
		SearchText: phrase,
		SearchHash: hash,
		Embedding:  []float32{1, 0, 0, 0},
		Meta:       map[string]any{store.MetaSource: source},
		CreatedAt:  created,
	}})
	require.NoError(t, err)
	return answerID, hash
}

// =============================================================================
// SelectBacklog
// =============================================================================

func TestSelectBacklog_ExcludesLedgerHashes(t *testing.T) {
	// Given
	lister := &fakeLister{rows: phraseRows("h1", "h2", "h3")}
	sel := NewSelector(lister, store.NewMemoryLedger("h2"))

	// When
	items, err := sel.SelectBacklog(context.Background(), 0)

	// Then
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "h1", items[0].BaseHash)
	assert.Equal(t, "h3", items[1].BaseHash)
	assert.Equal(t, "ph3", items[1].SearchText)

	q := lister.queries[0]
	assert.Equal(t, store.SourceRules, q.Source)
	assert.Equal(t, MaxPhraseChars, q.MaxChars)
	assert.Equal(t, MaxPhraseWords, q.MaxWords)
}

func TestSelectBacklog_PagesPastDoneRows(t *testing.T) {
	// Given pages of two where the first page is fully done
	lister := &fakeLister{rows: phraseRows("a", "b", "c", "d", "e")}
	sel := NewSelector(lister, store.NewMemoryLedger("a", "b"))
	sel.pageSize = 2

	// When
	items, err := sel.SelectBacklog(context.Background(), 2)

	// Then
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, []string{items[0].BaseHash, items[1].BaseHash})
	assert.Len(t, lister.queries, 2)
	assert.Equal(t, 2, lister.queries[1].Offset)
}

func TestSelectBacklog_CapsAtMaxRows(t *testing.T) {
	lister := &fakeLister{rows: phraseRows("a", "b", "c")}
	sel := NewSelector(lister, store.NewMemoryLedger())

	items, err := sel.SelectBacklog(context.Background(), 1)

	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestSelectBacklog_InvalidMaxRows(t *testing.T) {
	sel := NewSelector(&fakeLister{}, store.NewMemoryLedger())

	_, err := sel.SelectBacklog(context.Background(), -1)

	assert.True(t, qaerrors.IsValidation(err))
}

func TestSelectBacklog_StoreError(t *testing.T) {
	boom := errors.New("boom")
	sel := NewSelector(&fakeLister{err: boom}, store.NewMemoryLedger())

	_, err := sel.SelectBacklog(context.Background(), 5)

	assert.ErrorIs(t, err, boom)
}

func TestSelectBacklog_EmptyStore(t *testing.T) {
	sel := NewSelector(&fakeLister{}, store.NewMemoryLedger())

	items, err := sel.SelectBacklog(context.Background(), 5)

	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

// =============================================================================
// MarkDone
// =============================================================================

func TestMarkDone_Idempotent(t *testing.T) {
	ledger := store.NewMemoryLedger()
	sel := NewSelector(&fakeLister{}, ledger)
	ctx := context.Background()

	first, err := sel.MarkDone(ctx, "h1")
	require.NoError(t, err)
	second, err := sel.MarkDone(ctx, " h1 ")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, 1, ledger.Len())
}

func TestMarkDone_EmptyHash(t *testing.T) {
	sel := NewSelector(&fakeLister{}, store.NewMemoryLedger())

	_, err := sel.MarkDone(context.Background(), "  ")

	assert.True(t, qaerrors.IsValidation(err))
}

// =============================================================================
// Against the SQLite store
// =============================================================================

func TestSelector_ShortRulePhraseLifecycle(t *testing.T) {
	// Given "мудль" (rules, short) plus ineligible phrases
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	answerID, h1 := seedEntry(t, s, "Moodle: moodle.sdu.edu.kz", "мудль", store.SourceRules, t0)
	seedEntry(t, s, "Ответ про кабинет", "как восстановить доступ к личному кабинету студента в университете", store.SourceRules, t0)
	seedEntry(t, s, "Ответ про GPA", "гпа", store.SourceParaphrase, t0)
	sel := NewSelector(s, s)

	// When
	items, err := sel.SelectBacklog(ctx, 350)

	// Then only the short rule phrase is selected
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, Item{AnswerID: answerID, Language: "ru", SearchText: "мудль", BaseHash: h1}, items[0])

	// When it is marked done
	inserted, err := sel.MarkDone(ctx, h1)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Then a repeated selection excludes it
	items, err = sel.SelectBacklog(ctx, 350)
	require.NoError(t, err)
	assert.Empty(t, items)

	again, err := sel.MarkDone(ctx, h1)
	require.NoError(t, err)
	assert.False(t, again)
}
