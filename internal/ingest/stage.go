// Package ingest turns staged question/answer chunks into answers and
// searchable index entries.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/qamatch/internal/embed"
	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/store"
	"github.com/Aman-CERP/qamatch/internal/textnorm"
)

// maxLineBytes bounds one JSONL line.
const maxLineBytes = 4 << 20

type chunkLine struct {
	TextChunk string `json:"text_chunk"`
}

// LoadJSONL reads one {"text_chunk": "..."} object per line. Blank lines
// and blank chunks are skipped.
func LoadJSONL(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	var out []string
	for line := 1; sc.Scan(); line++ {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var c chunkLine
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, qaerrors.ValidationError(fmt.Sprintf("chunk file line %d", line), err)
		}
		if t := strings.TrimSpace(c.TextChunk); t != "" {
			out = append(out, t)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, qaerrors.ValidationError("cannot read chunk file", err)
	}
	return out, nil
}

// Stager embeds raw chunks and stores them for a later Build.
type Stager struct {
	chunks    store.ChunkStore
	embedder  embed.Embedder
	batchSize int
}

// NewStager creates a stager writing batchSize chunks at a time.
func NewStager(chunks store.ChunkStore, e embed.Embedder, batchSize int) *Stager {
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}
	return &Stager{chunks: chunks, embedder: e, batchSize: batchSize}
}

// Stage stores texts. Chunks already staged, by content hash, are skipped.
func (s *Stager) Stage(ctx context.Context, texts []string) (store.InsertResult, error) {
	var res store.InsertResult
	for start := 0; start < len(texts); start += s.batchSize {
		batch := texts[start:min(start+s.batchSize, len(texts))]
		vecs, err := s.embedder.EmbedBatch(ctx, batch)
		if err != nil {
			return res, err
		}
		chunks := make([]store.RawChunk, len(batch))
		for i, t := range batch {
			chunks[i] = store.RawChunk{Text: t, Hash: textnorm.SHA1Hex(t), Embedding: vecs[i]}
		}
		n, err := s.chunks.InsertChunks(ctx, chunks)
		if err != nil {
			return res, err
		}
		res.Add(n)
	}
	return res, nil
}
