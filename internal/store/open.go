package store

import (
	"context"
	"fmt"
	"strings"
)

// Backend is the store implementation behind the index.
type Backend string

const (
	// BackendSQLite keeps everything in one local file and serves
	// similarity search from in-memory indexes (default).
	BackendSQLite Backend = "sqlite"

	// BackendPostgres serves similarity search from pgvector and pg_trgm.
	BackendPostgres Backend = "postgres"
)

// OpenConfig selects and configures a backend.
type OpenConfig struct {
	Backend          string
	Path             string // sqlite file; empty opens an in-memory database
	DSN              string // postgres connection string
	TrigramThreshold float64
	Dimensions       int
	EfSearch         int // postgres hnsw.ef_search floor; 0 uses the pgvector default
}

// Migrator is implemented by backends whose schema is created explicitly.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Open opens the configured backend.
//
// backend options:
//   - "sqlite" (default): local file, HNSW and trigram indexes in memory
//   - "postgres": pgvector and pg_trgm, schema created by Migrate
func Open(ctx context.Context, cfg OpenConfig) (Store, error) {
	if cfg.Dimensions == 0 {
		cfg.Dimensions = Dimensions
	}
	if cfg.TrigramThreshold <= 0 {
		cfg.TrigramThreshold = DefaultTrigramThreshold
	}

	switch Backend(strings.ToLower(cfg.Backend)) {
	case BackendSQLite, "":
		return OpenSQLite(ctx, SQLiteConfig{
			Path:             cfg.Path,
			TrigramThreshold: cfg.TrigramThreshold,
			Dimensions:       cfg.Dimensions,
		})

	case BackendPostgres:
		return OpenPostgres(ctx, PostgresConfig{
			DSN:              cfg.DSN,
			TrigramThreshold: cfg.TrigramThreshold,
			Dimensions:       cfg.Dimensions,
			EfSearch:         cfg.EfSearch,
		})

	default:
		return nil, fmt.Errorf("unknown store backend: %s (valid options: sqlite, postgres)", cfg.Backend)
	}
}

// Location describes where cfg's data lives, with any postgres password
// masked.
func Location(cfg OpenConfig) string {
	if Backend(strings.ToLower(cfg.Backend)) == BackendPostgres {
		return maskDSN(cfg.DSN)
	}
	if cfg.Path == "" {
		return ":memory:"
	}
	return cfg.Path
}

// maskDSN hides the password of a postgres URL or key/value DSN.
func maskDSN(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		rest := dsn[i+3:]
		at := strings.LastIndex(rest, "@")
		if at < 0 {
			return dsn
		}
		userinfo := rest[:at]
		if c := strings.Index(userinfo, ":"); c >= 0 {
			userinfo = userinfo[:c] + ":****"
		}
		return dsn[:i+3] + userinfo + rest[at:]
	}

	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(strings.ToLower(f), "password=") {
			fields[i] = "password=****"
		}
	}
	return strings.Join(fields, " ")
}
