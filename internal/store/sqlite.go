package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/textnorm"
)

// SQLiteConfig configures the local store.
type SQLiteConfig struct {
	// Path of the database file. Empty opens an in-memory database.
	Path             string
	TrigramThreshold float64
	Dimensions       int
}

// SQLiteStore keeps answers, entries, chunks and the ledger in SQLite and
// serves similarity queries from in-memory HNSW and trigram indexes built
// from the qa_index table. Entries are append-only, so Refresh only has to
// load rows newer than the last one seen.
type SQLiteStore struct {
	mu      sync.Mutex
	db      *sql.DB
	path    string
	vectors *VectorIndex
	trigram *TrigramIndex
	lastID  int64
	closed  bool
}

var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS qa_answers (
	answer_id    INTEGER PRIMARY KEY AUTOINCREMENT,
	answer       TEXT NOT NULL,
	answer_clean TEXT,
	lang         TEXT,
	meta         TEXT NOT NULL DEFAULT '{}',
	answer_hash  TEXT NOT NULL UNIQUE,
	created_at   INTEGER
);

CREATE TABLE IF NOT EXISTS qa_index (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	answer_id   INTEGER NOT NULL REFERENCES qa_answers(answer_id),
	lang        TEXT,
	search_text TEXT NOT NULL,
	embedding   BLOB NOT NULL,
	weight      REAL NOT NULL DEFAULT 1.0,
	meta        TEXT NOT NULL DEFAULT '{}',
	search_hash TEXT NOT NULL UNIQUE,
	created_at  INTEGER
);

CREATE INDEX IF NOT EXISTS idx_qa_index_answer ON qa_index(answer_id);
CREATE INDEX IF NOT EXISTS idx_qa_index_source ON qa_index(json_extract(meta, '$.source'));

CREATE TABLE IF NOT EXISTS qa_chunks (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	text_chunk TEXT NOT NULL,
	chunk_hash TEXT NOT NULL UNIQUE,
	embedding  BLOB,
	created_at INTEGER
);

CREATE TABLE IF NOT EXISTS qa_paraphrase_done (
	base_search_hash TEXT PRIMARY KEY,
	created_at       INTEGER NOT NULL
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

// validateSQLiteIntegrity checks an existing database file before opening it.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// OpenSQLite opens (or creates) the local store and loads its indexes.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLiteStore, error) {
	dsn := ":memory:"
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, qaerrors.StoreError("create store directory", err)
		}
		if err := validateSQLiteIntegrity(cfg.Path); err != nil {
			// Unlike a derived search index, the answers table is the source of
			// truth, so a corrupt file is reported instead of cleared.
			return nil, qaerrors.New(qaerrors.ErrCodeCorruptIndex, "store database failed integrity check", err).
				WithDetail("path", cfg.Path).
				WithSuggestion("restore the database file from a backup")
		}
		dsn = cfg.Path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, qaerrors.StoreError("open database", err)
	}

	// Single writer; in-memory databases would otherwise get one database
	// per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, qaerrors.StoreError("set pragma", err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, qaerrors.StoreError("initialize schema", err)
	}

	s := &SQLiteStore{
		db:      db,
		path:    cfg.Path,
		vectors: NewVectorIndex(VectorIndexConfig{Dimensions: cfg.Dimensions}),
		trigram: NewTrigramIndex(cfg.TrigramThreshold),
	}
	if err := s.Refresh(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	slog.Debug("sqlite store opened",
		slog.String("path", cfg.Path),
		slog.Int("entries", s.vectors.Len()))
	return s, nil
}

// Refresh loads index entries written since the last load, including rows
// inserted by other processes.
func (s *SQLiteStore) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, answer_id, COALESCE(lang, ''), search_text, embedding
		FROM qa_index WHERE id > ? ORDER BY id`, s.lastID)
	if err != nil {
		return qaerrors.StoreError("load index entries", err)
	}
	defer rows.Close()

	for rows.Next() {
		var info entryInfo
		var blob []byte
		if err := rows.Scan(&info.ID, &info.AnswerID, &info.Language, &info.SearchText, &blob); err != nil {
			return qaerrors.StoreError("scan index entry", err)
		}
		if err := s.addToIndexes(info, decodeEmbedding(blob)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// addToIndexes must be called with s.mu held.
func (s *SQLiteStore) addToIndexes(info entryInfo, embedding []float32) error {
	if err := s.vectors.Add(info, embedding); err != nil {
		return fmt.Errorf("index entry %d: %w", info.ID, err)
	}
	s.trigram.Add(info)
	if info.ID > s.lastID {
		s.lastID = info.ID
	}
	return nil
}

// SearchVector implements VectorSearcher.
func (s *SQLiteStore) SearchVector(ctx context.Context, embedding []float32, limit int) ([]VectorHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.vectors.Search(embedding, limit)
}

// SearchTrigram implements TrigramSearcher.
func (s *SQLiteStore) SearchTrigram(ctx context.Context, text string, limit int) ([]TrigramHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.trigram.Search(text, limit), nil
}

// InsertAnswers implements AnswerStore.
func (s *SQLiteStore) InsertAnswers(ctx context.Context, answers []Answer) (InsertResult, error) {
	var res InsertResult
	if len(answers) == 0 {
		return res, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return res, errClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, qaerrors.StoreError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO qa_answers (answer, answer_clean, lang, meta, answer_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(answer_hash) DO NOTHING`)
	if err != nil {
		return res, qaerrors.StoreError("prepare answer insert", err)
	}
	defer stmt.Close()

	for _, a := range answers {
		hash := a.Hash
		if hash == "" {
			hash = textnorm.AnswerHash(a.Text)
		}
		meta, err := encodeMeta(a.Meta)
		if err != nil {
			return res, err
		}
		r, err := stmt.ExecContext(ctx, a.Text, nullString(a.CleanText), nullString(a.Language),
			meta, hash, unixNanos(a.CreatedAt))
		if err != nil {
			return res, qaerrors.StoreError("insert answer", err)
		}
		res.Add(countAffected(r))
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, qaerrors.StoreError("commit answers", err)
	}
	return res, nil
}

// AnswerIDsByHash implements AnswerStore.
func (s *SQLiteStore) AnswerIDsByHash(ctx context.Context, hashes []string) (map[string]int64, error) {
	out := make(map[string]int64, len(hashes))
	err := s.inBatches(ctx, hashes, `SELECT answer_hash, answer_id FROM qa_answers WHERE answer_hash IN (%s)`,
		func(rows *sql.Rows) error {
			var hash string
			var id int64
			if err := rows.Scan(&hash, &id); err != nil {
				return err
			}
			out[hash] = id
			return nil
		})
	return out, err
}

// InsertEntries implements EntryWriter. New rows become searchable as soon
// as the transaction commits.
func (s *SQLiteStore) InsertEntries(ctx context.Context, entries []IndexEntry) (InsertResult, error) {
	var res InsertResult
	if len(entries) == 0 {
		return res, nil
	}

	dims := s.vectors.config.Dimensions
	for _, e := range entries {
		if len(e.Embedding) != dims {
			return res, DimensionError(dims, len(e.Embedding))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return res, errClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, qaerrors.StoreError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO qa_index (answer_id, lang, search_text, embedding, weight, meta, search_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(search_hash) DO NOTHING`)
	if err != nil {
		return res, qaerrors.StoreError("prepare entry insert", err)
	}
	defer stmt.Close()

	type added struct {
		info      entryInfo
		embedding []float32
	}
	var fresh []added

	for _, e := range entries {
		hash := e.SearchHash
		if hash == "" {
			hash = textnorm.PhraseHash(e.AnswerID, e.SearchText)
		}
		meta, err := encodeMeta(e.Meta)
		if err != nil {
			return res, err
		}
		weight := e.Weight
		if weight == 0 {
			weight = 1
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		r, err := stmt.ExecContext(ctx, e.AnswerID, nullString(e.Language), e.SearchText,
			encodeEmbedding(e.Embedding), weight, meta, hash, createdAt.UnixNano())
		if err != nil {
			return res, qaerrors.StoreError("insert index entry", err).WithDetail("search_hash", hash)
		}
		n := countAffected(r)
		res.Add(n)
		if n.Inserted == 1 {
			id, err := r.LastInsertId()
			if err != nil {
				return res, qaerrors.StoreError("read entry id", err)
			}
			fresh = append(fresh, added{
				info:      entryInfo{ID: id, AnswerID: e.AnswerID, Language: e.Language, SearchText: e.SearchText},
				embedding: e.Embedding,
			})
		}
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, qaerrors.StoreError("commit entries", err)
	}

	for _, f := range fresh {
		if err := s.addToIndexes(f.info, f.embedding); err != nil {
			return res, err
		}
	}
	return res, nil
}

// ListPhrases implements PhraseLister. Provenance and ordering are pushed
// to SQL; shortness is checked per row since SQLite cannot count words.
func (s *SQLiteStore) ListPhrases(ctx context.Context, q PhraseQuery) ([]PhraseRow, error) {
	if q.Limit <= 0 {
		return []PhraseRow{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, answer_id, COALESCE(lang, ''), search_text, search_hash, created_at
		FROM qa_index
		WHERE json_extract(meta, '$.source') = ?
		ORDER BY created_at IS NULL, created_at, id`, q.Source)
	if err != nil {
		return nil, qaerrors.StoreError("list phrases", err)
	}
	defer rows.Close()

	out := make([]PhraseRow, 0, q.Limit)
	skipped := 0
	for rows.Next() {
		var row PhraseRow
		var created sql.NullInt64
		if err := rows.Scan(&row.EntryID, &row.AnswerID, &row.Language, &row.SearchText, &row.SearchHash, &created); err != nil {
			return nil, qaerrors.StoreError("scan phrase", err)
		}
		if !textnorm.IsShortPhrase(row.SearchText, q.MaxChars, q.MaxWords) {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		if created.Valid {
			t := time.Unix(0, created.Int64).UTC()
			row.CreatedAt = &t
		}
		out = append(out, row)
		if len(out) == q.Limit {
			break
		}
	}
	return out, rows.Err()
}

// InsertChunks implements ChunkStore.
func (s *SQLiteStore) InsertChunks(ctx context.Context, chunks []RawChunk) (InsertResult, error) {
	var res InsertResult
	if len(chunks) == 0 {
		return res, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return res, errClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, qaerrors.StoreError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range chunks {
		hash := c.Hash
		if hash == "" {
			hash = textnorm.SHA1Hex(c.Text)
		}
		var blob []byte
		if len(c.Embedding) > 0 {
			blob = encodeEmbedding(c.Embedding)
		}
		r, err := tx.ExecContext(ctx, `
			INSERT INTO qa_chunks (text_chunk, chunk_hash, embedding, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(chunk_hash) DO NOTHING`,
			c.Text, hash, blob, time.Now().UTC().UnixNano())
		if err != nil {
			return res, qaerrors.StoreError("insert chunk", err)
		}
		res.Add(countAffected(r))
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, qaerrors.StoreError("commit chunks", err)
	}
	return res, nil
}

// ListChunks implements ChunkStore, in id order.
func (s *SQLiteStore) ListChunks(ctx context.Context, offset, limit int) ([]RawChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text_chunk, chunk_hash, embedding, created_at
		FROM qa_chunks ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, qaerrors.StoreError("list chunks", err)
	}
	defer rows.Close()

	var out []RawChunk
	for rows.Next() {
		var c RawChunk
		var blob []byte
		var created sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Text, &c.Hash, &blob, &created); err != nil {
			return nil, qaerrors.StoreError("scan chunk", err)
		}
		c.Embedding = decodeEmbedding(blob)
		if created.Valid {
			c.CreatedAt = time.Unix(0, created.Int64).UTC()
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DoneHashes implements Ledger.
func (s *SQLiteStore) DoneHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	out := make(map[string]bool, len(hashes))
	err := s.inBatches(ctx, hashes, `SELECT base_search_hash FROM qa_paraphrase_done WHERE base_search_hash IN (%s)`,
		func(rows *sql.Rows) error {
			var hash string
			if err := rows.Scan(&hash); err != nil {
				return err
			}
			out[hash] = true
			return nil
		})
	return out, err
}

// MarkDone implements Ledger.
func (s *SQLiteStore) MarkDone(ctx context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errClosed
	}

	r, err := s.db.ExecContext(ctx, `
		INSERT INTO qa_paraphrase_done (base_search_hash, created_at) VALUES (?, ?)
		ON CONFLICT(base_search_hash) DO NOTHING`, hash, time.Now().UTC().UnixNano())
	if err != nil {
		return false, qaerrors.StoreError("mark paraphrase done", err)
	}
	return countAffected(r).Inserted == 1, nil
}

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: "sqlite"}
	counts := []struct {
		table string
		dst   *int
	}{
		{"qa_answers", &st.Answers},
		{"qa_index", &st.Entries},
		{"qa_chunks", &st.Chunks},
		{"qa_paraphrase_done", &st.LedgerHashes},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return st, qaerrors.StoreError("count "+c.table, err)
		}
	}
	return st, nil
}

// Close closes the database and releases the indexes.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.vectors.Close()
	return s.db.Close()
}

// inBatches runs an IN (...) query in slices of at most 500 parameters.
func (s *SQLiteStore) inBatches(ctx context.Context, keys []string, query string, scan func(*sql.Rows) error) error {
	const batch = 500
	for start := 0; start < len(keys); start += batch {
		end := min(start+batch, len(keys))
		part := keys[start:end]

		args := make([]any, len(part))
		for i, k := range part {
			args[i] = k
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(part)), ",")

		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(query, placeholders), args...)
		if err != nil {
			return qaerrors.StoreError("batched lookup", err)
		}
		for rows.Next() {
			if err := scan(rows); err != nil {
				rows.Close()
				return qaerrors.StoreError("scan batched lookup", err)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return qaerrors.StoreError("batched lookup", err)
		}
	}
	return nil
}

func countAffected(r sql.Result) InsertResult {
	n, err := r.RowsAffected()
	if err != nil || n == 0 {
		return InsertResult{Skipped: 1}
	}
	return InsertResult{Inserted: 1}
}

func encodeMeta(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", qaerrors.ValidationError("meta is not JSON-serialisable", err)
	}
	return string(data), nil
}

// encodeEmbedding packs float32 values little-endian.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func unixNanos(t time.Time) any {
	if t.IsZero() {
		return time.Now().UTC().UnixNano()
	}
	return t.UnixNano()
}
