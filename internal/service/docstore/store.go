// Package docstore keeps documents with their embeddings in SQLite and ranks
// them by cosine similarity. Every query is scoped to one namespace and
// collection.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/tavern-chat/internal/config"
)

// ErrNotFound is returned when no document has the requested id.
var ErrNotFound = errors.New("document not found")

// Document is a stored text with optional metadata.
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"-"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Match is a search hit.
type Match struct {
	Document
	Score float64 `json:"score"`
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is a document collection in a SQLite database.
type Store struct {
	db         *sql.DB
	embedder   Embedder
	namespace  string
	collection string
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	namespace  TEXT NOT NULL,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	content    TEXT NOT NULL,
	metadata   TEXT,
	embedding  TEXT,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, collection, id)
);
`

// Open connects to the database named by cfg.Endpoint, a file path or a
// SQLite DSN. embedder may be nil, in which case documents must carry their
// own embeddings and Search is unavailable.
func Open(ctx context.Context, cfg config.DocStoreConfig, embedder Embedder) (*Store, error) {
	if !cfg.Enabled() {
		return nil, errors.New("DOCSTORE_ENDPOINT and DOCSTORE_COLLECTION are required")
	}

	if !strings.HasPrefix(cfg.Endpoint, "file:") && cfg.Endpoint != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Endpoint), 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	db, err := sql.Open("sqlite", cfg.Endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialize schema")
	}

	log.Debug().
		Str("component", "docstore").
		Str("namespace", cfg.Namespace).
		Str("collection", cfg.Collection).
		Msg("document store ready")

	return &Store{
		db:         db,
		embedder:   embedder,
		namespace:  cfg.Namespace,
		collection: cfg.Collection,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or replaces doc. A missing id is generated and a missing
// embedding is computed with the store's embedder.
func (s *Store) Put(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if len(doc.Embedding) == 0 && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, doc.Content)
		if err != nil {
			return Document{}, errors.Wrap(err, "embed document")
		}
		doc.Embedding = vec
	}

	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return Document{}, errors.Wrap(err, "encode metadata")
	}
	vec, err := json.Marshal(doc.Embedding)
	if err != nil {
		return Document{}, errors.Wrap(err, "encode embedding")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (namespace, collection, id, content, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (namespace, collection, id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding`,
		s.namespace, s.collection, doc.ID, doc.Content, string(meta), string(vec), doc.CreatedAt.UnixNano(),
	)
	if err != nil {
		return Document{}, errors.Wrapf(err, "store document %s", doc.ID)
	}
	return doc, nil
}

// Get returns the document with id.
func (s *Store) Get(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content, metadata, embedding, created_at FROM documents
		WHERE namespace = ? AND collection = ? AND id = ?`,
		s.namespace, s.collection, id,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return doc, err
}

// Delete removes the document with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE namespace = ? AND collection = ? AND id = ?`,
		s.namespace, s.collection, id,
	)
	if err != nil {
		return errors.Wrapf(err, "delete document %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete document")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Search returns up to k documents most similar to query, best first.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Match, error) {
	if s.embedder == nil {
		return nil, errors.New("search requires an embedder")
	}
	if k <= 0 {
		k = 10
	}

	target, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "embed query")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, metadata, embedding, created_at FROM documents
		WHERE namespace = ? AND collection = ?`,
		s.namespace, s.collection,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query documents")
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		if len(doc.Embedding) == 0 {
			continue
		}
		matches = append(matches, Match{Document: doc, Score: CosineSimilarity(target, doc.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate documents")
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var (
		doc       Document
		meta, vec sql.NullString
		created   int64
	)
	if err := row.Scan(&doc.ID, &doc.Content, &meta, &vec, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, err
		}
		return Document{}, errors.Wrap(err, "scan document")
	}
	if meta.Valid && meta.String != "" && meta.String != "null" {
		if err := json.Unmarshal([]byte(meta.String), &doc.Metadata); err != nil {
			return Document{}, errors.Wrapf(err, "decode metadata of %s", doc.ID)
		}
	}
	if vec.Valid && vec.String != "" && vec.String != "null" {
		if err := json.Unmarshal([]byte(vec.String), &doc.Embedding); err != nil {
			return Document{}, errors.Wrapf(err, "decode embedding of %s", doc.ID)
		}
	}
	doc.CreatedAt = time.Unix(0, created).UTC()
	return doc, nil
}

// CosineSimilarity computes cosine similarity between two vectors. Vectors of
// different length or zero magnitude score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
