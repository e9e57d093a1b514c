package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/textnorm"
)

// PostgresConfig configures the Postgres backend.
type PostgresConfig struct {
	DSN              string
	TrigramThreshold float64
	Dimensions       int
	// EfSearch is the minimum hnsw.ef_search for vector queries. Each query
	// raises it further to its own limit.
	EfSearch         int
}

// defaultEfSearch is pgvector's hnsw.ef_search default.
const defaultEfSearch = 40

const vectorSearchSQL = `
	SELECT id AS entry_id, answer_id, COALESCE(lang, '') AS language, search_text,
	       1 - (embedding <=> ?::vector) AS similarity
	FROM qa_index
	ORDER BY embedding <=> ?::vector, id
	LIMIT ?`

// The % operator lets the planner use the gin_trgm_ops index; the explicit
// similarity bound keeps the threshold inclusive.
const trigramSearchSQL = `
	SELECT id AS entry_id, answer_id, COALESCE(lang, '') AS language, search_text,
	       similarity(search_text, ?) AS trigram
	FROM qa_index
	WHERE search_text % ? AND similarity(search_text, ?) >= ?
	ORDER BY trigram DESC, id
	LIMIT ?`

// setLocalSQL changes a setting until the end of the current transaction.
const setLocalSQL = `SELECT set_config(?, ?, true)`

// efSearchFor returns the hnsw.ef_search that lets an index scan yield
// limit rows. The scan never returns more rows than ef_search.
func efSearchFor(configured, limit int) int {
	return max(defaultEfSearch, configured, limit)
}

// PostgresStore serves the index from Postgres with the pgvector and
// pg_trgm extensions. Similarity search happens in the database.
type PostgresStore struct {
	db        *gorm.DB
	threshold float64
	dims      int
	efSearch  int
}

var _ Store = (*PostgresStore)(nil)

type pgAnswer struct {
	AnswerID    int64             `gorm:"column:answer_id;primaryKey;autoIncrement"`
	Answer      string            `gorm:"column:answer"`
	AnswerClean *string           `gorm:"column:answer_clean"`
	Lang        *string           `gorm:"column:lang"`
	Meta        datatypes.JSONMap `gorm:"column:meta;type:jsonb"`
	AnswerHash  string            `gorm:"column:answer_hash"`
	CreatedAt   time.Time         `gorm:"column:created_at"`
}

func (pgAnswer) TableName() string { return "qa_answers" }

type pgEntry struct {
	ID         int64             `gorm:"column:id;primaryKey;autoIncrement"`
	AnswerID   int64             `gorm:"column:answer_id"`
	Lang       *string           `gorm:"column:lang"`
	SearchText string            `gorm:"column:search_text"`
	Embedding  pgVector          `gorm:"column:embedding;type:vector"`
	Weight     float64           `gorm:"column:weight"`
	Meta       datatypes.JSONMap `gorm:"column:meta;type:jsonb"`
	SearchHash string            `gorm:"column:search_hash"`
	CreatedAt  time.Time         `gorm:"column:created_at"`
}

func (pgEntry) TableName() string { return "qa_index" }

type pgChunk struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TextChunk string    `gorm:"column:text_chunk"`
	ChunkHash string    `gorm:"column:chunk_hash"`
	Embedding pgVector  `gorm:"column:embedding;type:vector"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (pgChunk) TableName() string { return "qa_chunks" }

type pgDone struct {
	BaseSearchHash string    `gorm:"column:base_search_hash;primaryKey"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (pgDone) TableName() string { return "qa_paraphrase_done" }

// OpenPostgres connects to Postgres. Call Migrate to create the schema.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, qaerrors.ConfigError("postgres backend requires a DSN", nil).
			WithSuggestion("set store.dsn or DATABASE_URL")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = Dimensions
	}
	if cfg.TrigramThreshold <= 0 {
		cfg.TrigramThreshold = DefaultTrigramThreshold
	}

	gormLog := gormLogger.New(
		log.New(os.Stderr, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, qaerrors.StoreError("connect to postgres", err)
	}

	s := &PostgresStore{db: db, threshold: cfg.TrigramThreshold, dims: cfg.Dimensions, efSearch: cfg.EfSearch}
	if err := s.db.WithContext(ctx).Exec("SELECT 1").Error; err != nil {
		return nil, mapPgError("ping postgres", err)
	}
	return s, nil
}

// Migrate creates the extensions, tables and indexes if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		`CREATE TABLE IF NOT EXISTS qa_answers (
			answer_id    BIGSERIAL PRIMARY KEY,
			answer       TEXT NOT NULL,
			answer_clean TEXT,
			lang         TEXT,
			meta         JSONB NOT NULL DEFAULT '{}'::jsonb,
			answer_hash  TEXT NOT NULL UNIQUE,
			created_at   TIMESTAMPTZ DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS qa_index (
			id          BIGSERIAL PRIMARY KEY,
			answer_id   BIGINT NOT NULL REFERENCES qa_answers(answer_id),
			lang        TEXT,
			search_text TEXT NOT NULL,
			embedding   vector(%d) NOT NULL,
			weight      REAL NOT NULL DEFAULT 1.0,
			meta        JSONB NOT NULL DEFAULT '{}'::jsonb,
			search_hash TEXT NOT NULL UNIQUE,
			created_at  TIMESTAMPTZ DEFAULT now()
		)`, s.dims),
		`CREATE INDEX IF NOT EXISTS qa_index_embedding_hnsw ON qa_index USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS qa_index_search_text_trgm ON qa_index USING gin (search_text gin_trgm_ops)`,
		`CREATE INDEX IF NOT EXISTS qa_index_source ON qa_index ((meta->>'source'))`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS qa_chunks (
			id         BIGSERIAL PRIMARY KEY,
			text_chunk TEXT NOT NULL,
			chunk_hash TEXT NOT NULL UNIQUE,
			embedding  vector(%d),
			created_at TIMESTAMPTZ DEFAULT now()
		)`, s.dims),
		`CREATE TABLE IF NOT EXISTS qa_paraphrase_done (
			base_search_hash TEXT PRIMARY KEY,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return mapPgError("migrate", err)
		}
	}
	return nil
}

// SearchVector implements VectorSearcher.
func (s *PostgresStore) SearchVector(ctx context.Context, embedding []float32, limit int) ([]VectorHit, error) {
	if len(embedding) != s.dims {
		return nil, DimensionError(s.dims, len(embedding))
	}
	hits := []VectorHit{}
	if limit <= 0 {
		return hits, nil
	}

	vec := pgVector(embedding)
	ef := strconv.Itoa(efSearchFor(s.efSearch, limit))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(setLocalSQL, "hnsw.ef_search", ef).Error; err != nil {
			return err
		}
		return tx.Raw(vectorSearchSQL, vec, vec, limit).Scan(&hits).Error
	})
	if err != nil {
		return nil, mapPgError("vector search", err)
	}
	return hits, nil
}

// SearchTrigram implements TrigramSearcher.
func (s *PostgresStore) SearchTrigram(ctx context.Context, text string, limit int) ([]TrigramHit, error) {
	hits := []TrigramHit{}
	if strings.TrimSpace(text) == "" || limit <= 0 {
		return hits, nil
	}

	threshold := strconv.FormatFloat(s.threshold, 'g', -1, 64)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(setLocalSQL, "pg_trgm.similarity_threshold", threshold).Error; err != nil {
			return err
		}
		return tx.Raw(trigramSearchSQL, text, text, text, s.threshold, limit).Scan(&hits).Error
	})
	if err != nil {
		return nil, mapPgError("trigram search", err)
	}
	return hits, nil
}

// InsertAnswers implements AnswerStore.
func (s *PostgresStore) InsertAnswers(ctx context.Context, answers []Answer) (InsertResult, error) {
	if len(answers) == 0 {
		return InsertResult{}, nil
	}

	rows := make([]pgAnswer, 0, len(answers))
	for _, a := range answers {
		hash := a.Hash
		if hash == "" {
			hash = textnorm.AnswerHash(a.Text)
		}
		rows = append(rows, pgAnswer{
			Answer:      a.Text,
			AnswerClean: optString(a.CleanText),
			Lang:        optString(a.Language),
			Meta:        jsonMap(a.Meta),
			AnswerHash:  hash,
			CreatedAt:   a.CreatedAt,
		})
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "answer_hash"}}, DoNothing: true}).
		CreateInBatches(&rows, 500)
	if res.Error != nil {
		return InsertResult{}, mapPgError("insert answers", res.Error)
	}
	return InsertResult{Inserted: int(res.RowsAffected), Skipped: len(rows) - int(res.RowsAffected)}, nil
}

// AnswerIDsByHash implements AnswerStore.
func (s *PostgresStore) AnswerIDsByHash(ctx context.Context, hashes []string) (map[string]int64, error) {
	out := make(map[string]int64, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}

	var rows []pgAnswer
	err := s.db.WithContext(ctx).
		Select("answer_id", "answer_hash").
		Where("answer_hash IN ?", hashes).
		Find(&rows).Error
	if err != nil {
		return nil, mapPgError("lookup answers", err)
	}
	for _, r := range rows {
		out[r.AnswerHash] = r.AnswerID
	}
	return out, nil
}

// InsertEntries implements EntryWriter.
func (s *PostgresStore) InsertEntries(ctx context.Context, entries []IndexEntry) (InsertResult, error) {
	if len(entries) == 0 {
		return InsertResult{}, nil
	}

	rows := make([]pgEntry, 0, len(entries))
	for _, e := range entries {
		if len(e.Embedding) != s.dims {
			return InsertResult{}, DimensionError(s.dims, len(e.Embedding))
		}
		hash := e.SearchHash
		if hash == "" {
			hash = textnorm.PhraseHash(e.AnswerID, e.SearchText)
		}
		weight := e.Weight
		if weight == 0 {
			weight = 1
		}
		rows = append(rows, pgEntry{
			AnswerID:   e.AnswerID,
			Lang:       optString(e.Language),
			SearchText: e.SearchText,
			Embedding:  pgVector(e.Embedding),
			Weight:     weight,
			Meta:       jsonMap(e.Meta),
			SearchHash: hash,
			CreatedAt:  e.CreatedAt,
		})
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "search_hash"}}, DoNothing: true}).
		CreateInBatches(&rows, 200)
	if res.Error != nil {
		return InsertResult{}, mapPgError("insert index entries", res.Error)
	}
	return InsertResult{Inserted: int(res.RowsAffected), Skipped: len(rows) - int(res.RowsAffected)}, nil
}

// ListPhrases implements PhraseLister.
func (s *PostgresStore) ListPhrases(ctx context.Context, q PhraseQuery) ([]PhraseRow, error) {
	rows := []PhraseRow{}
	if q.Limit <= 0 {
		return rows, nil
	}

	err := s.db.WithContext(ctx).Raw(`
		SELECT id AS entry_id, answer_id, COALESCE(lang, '') AS language, search_text, search_hash, created_at
		FROM qa_index
		WHERE meta->>'source' = ?
		  AND (char_length(search_text) <= ?
		       OR array_length(regexp_split_to_array(btrim(search_text), '\s+'), 1) <= ?)
		ORDER BY created_at ASC NULLS LAST, id
		OFFSET ? LIMIT ?`, q.Source, q.MaxChars, q.MaxWords, q.Offset, q.Limit).Scan(&rows).Error
	if err != nil {
		return nil, mapPgError("list phrases", err)
	}
	return rows, nil
}

// InsertChunks implements ChunkStore.
func (s *PostgresStore) InsertChunks(ctx context.Context, chunks []RawChunk) (InsertResult, error) {
	if len(chunks) == 0 {
		return InsertResult{}, nil
	}

	rows := make([]pgChunk, 0, len(chunks))
	for _, c := range chunks {
		hash := c.Hash
		if hash == "" {
			hash = textnorm.SHA1Hex(c.Text)
		}
		rows = append(rows, pgChunk{TextChunk: c.Text, ChunkHash: hash, Embedding: pgVector(c.Embedding)})
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "chunk_hash"}}, DoNothing: true}).
		CreateInBatches(&rows, 200)
	if res.Error != nil {
		return InsertResult{}, mapPgError("insert chunks", res.Error)
	}
	return InsertResult{Inserted: int(res.RowsAffected), Skipped: len(rows) - int(res.RowsAffected)}, nil
}

// ListChunks implements ChunkStore.
func (s *PostgresStore) ListChunks(ctx context.Context, offset, limit int) ([]RawChunk, error) {
	var rows []pgChunk
	err := s.db.WithContext(ctx).Order("id").Offset(offset).Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, mapPgError("list chunks", err)
	}

	out := make([]RawChunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, RawChunk{ID: r.ID, Text: r.TextChunk, Hash: r.ChunkHash, Embedding: r.Embedding, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

// DoneHashes implements Ledger.
func (s *PostgresStore) DoneHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	out := make(map[string]bool, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}

	var found []string
	err := s.db.WithContext(ctx).Model(&pgDone{}).
		Where("base_search_hash IN ?", hashes).
		Pluck("base_search_hash", &found).Error
	if err != nil {
		return nil, mapPgError("lookup ledger", err)
	}
	for _, h := range found {
		out[h] = true
	}
	return out, nil
}

// MarkDone implements Ledger. Concurrent callers racing on the same hash
// all succeed; exactly one of them sees true.
func (s *PostgresStore) MarkDone(ctx context.Context, hash string) (bool, error) {
	row := pgDone{BaseSearchHash: hash, CreatedAt: time.Now().UTC()}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "base_search_hash"}}, DoNothing: true}).
		Create(&row)
	if err := mapPgError("mark paraphrase done", res.Error); err != nil {
		return false, err
	}
	return res.RowsAffected == 1, nil
}

// Stats implements Store.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: "postgres"}
	counts := []struct {
		model any
		dst   *int
	}{
		{&pgAnswer{}, &st.Answers},
		{&pgEntry{}, &st.Entries},
		{&pgChunk{}, &st.Chunks},
		{&pgDone{}, &st.LedgerHashes},
	}
	for _, c := range counts {
		var n int64
		if err := s.db.WithContext(ctx).Model(c.model).Count(&n).Error; err != nil {
			return st, mapPgError("count rows", err)
		}
		*c.dst = int(n)
	}
	return st, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// mapPgError maps driver failures onto QAError codes. A unique violation
// is a duplicate insert and therefore not an error.
func mapPgError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505": // unique_violation
			return nil
		case "23503": // foreign_key_violation
			return qaerrors.ValidationError(op+": index entry references a missing answer", err)
		case "22000": // data_exception, e.g. pgvector dimension mismatch
			if strings.Contains(pgErr.Message, "dimensions") {
				return qaerrors.New(qaerrors.ErrCodeDimensionMismatch, op+": "+pgErr.Message, err)
			}
		case "57014": // query_canceled (statement_timeout)
			return qaerrors.New(qaerrors.ErrCodeSourceUnavailable, op+": statement timeout", err)
		}
	}
	return qaerrors.StoreError(op, err)
}

// pgVector is the pgvector text representation of an embedding.
type pgVector []float32

// Value implements driver.Valuer.
func (v pgVector) Value() (driver.Value, error) {
	if len(v) == 0 {
		return nil, nil
	}
	var sb strings.Builder
	sb.Grow(len(v) * 10)
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String(), nil
}

// Scan implements sql.Scanner.
func (v *pgVector) Scan(src any) error {
	var text string
	switch t := src.(type) {
	case nil:
		*v = nil
		return nil
	case string:
		text = t
	case []byte:
		text = string(t)
	default:
		return fmt.Errorf("pgvector: cannot scan %T", src)
	}

	text = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(text), "["), "]")
	if text == "" {
		*v = pgVector{}
		return nil
	}
	parts := strings.Split(text, ",")
	out := make(pgVector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("pgvector: %w", err)
		}
		out[i] = float32(f)
	}
	*v = out
	return nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func jsonMap(m map[string]any) datatypes.JSONMap {
	if m == nil {
		return datatypes.JSONMap{}
	}
	return datatypes.JSONMap(m)
}
