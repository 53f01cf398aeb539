// Package sqlitestore implements the storage protocol on a single
// SQLite database file. Each tree node is one row keyed by its path,
// attributes and dimension names are stored as JSON, and array data as
// a little-endian float64 blob.
package sqlitestore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"

	"github.com/CSC-DPR/eopf-cpm-sub000/darray"
	"github.com/CSC-DPR/eopf-cpm-sub000/store"
)

const sep = "/"

// Store is a SQLite file backend.
type Store struct {
	mu     sync.RWMutex
	url    string
	path   string
	db     *sql.DB
	status store.Status
	mode   store.Mode
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Option configures a SQLite store.
type Option func(*Store)

// WithLogger replaces the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a closed SQLite store for the given file URL.
func New(url string, opts ...Option) *Store {
	s := &Store{
		url:    url,
		path:   strings.TrimPrefix(url, "file://"),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GuessCanRead reports whether this backend recognizes the URL.
func GuessCanRead(url string) bool {
	p := strings.TrimPrefix(url, "file://")
	return strings.HasSuffix(p, ".db") || strings.HasSuffix(p, ".sqlite")
}

func normalize(p string) string {
	p = strings.Trim(p, sep)
	if p == "." {
		return ""
	}
	return p
}

func parentOf(key string) (string, string) {
	idx := strings.LastIndex(key, sep)
	if idx < 0 {
		return "", key
	}
	return key[:idx], key[idx+1:]
}

func (s *Store) Open(ctx context.Context, mode store.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == store.StatusOpen {
		s.logger.Warn("store already open", zap.String("url", s.url))
		return nil
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	s.status = store.StatusOpen
	s.mode = mode
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS nodes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    parent TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL CHECK (kind IN ('group', 'variable')),
    attrs TEXT NOT NULL,
    dims TEXT,
    shape TEXT,
    data BLOB,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (path, parent, name, kind, attrs, created_at, updated_at)
		VALUES ('', '', '', 'group', '{}', ?, ?)
		ON CONFLICT(path) DO NOTHING`, now, now)
	if err != nil {
		return fmt.Errorf("failed to initialize root node: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != store.StatusOpen {
		return fmt.Errorf("%w: %s", store.ErrStoreAlreadyClosed, s.url)
	}
	err := s.db.Close()
	s.db = nil
	s.status = store.StatusClose
	return err
}

func (s *Store) Status() store.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Store) checkOpen() error {
	if s.status != store.StatusOpen {
		return fmt.Errorf("%w: %s", store.ErrStoreNotOpen, s.url)
	}
	return nil
}

func (s *Store) checkWritable() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.mode.Writable() {
		return fmt.Errorf("store %s is opened read-only", s.url)
	}
	return nil
}

func (s *Store) kindOf(path string) (string, error) {
	var kind string
	err := s.db.QueryRow(`SELECT kind FROM nodes WHERE path = ?`, normalize(path)).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query node kind: %w", err)
	}
	return kind, nil
}

func (s *Store) IsGroup(path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	kind, err := s.kindOf(path)
	return kind == "group", err
}

func (s *Store) IsVariable(path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	kind, err := s.kindOf(path)
	return kind == "variable", err
}

func (s *Store) Iter(path string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	parent := normalize(path)
	kind, err := s.kindOf(parent)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, path)
	}
	if kind == "variable" {
		return nil, fmt.Errorf("%w: %q is a variable", store.ErrTypeMismatch, path)
	}

	rows, err := s.db.Query(`SELECT name FROM nodes WHERE parent = ? AND path != '' ORDER BY name ASC`, parent)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return names, nil
}

func (s *Store) Get(key string) (*store.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var (
		kind      string
		attrsJSON string
		dimsJSON  sql.NullString
		shapeJSON sql.NullString
		blob      []byte
	)
	err := s.db.QueryRow(
		`SELECT kind, attrs, dims, shape, data FROM nodes WHERE path = ?`,
		normalize(key),
	).Scan(&kind, &attrsJSON, &dimsJSON, &shapeJSON, &blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	attrs := map[string]any{}
	if err := json.Unmarshal([]byte(attrsJSON), &attrs); err != nil {
		return nil, fmt.Errorf("failed to decode node attrs: %w", err)
	}
	if kind == "group" {
		return store.GroupNode(attrs), nil
	}

	var dims []string
	if dimsJSON.Valid {
		if err := json.Unmarshal([]byte(dimsJSON.String), &dims); err != nil {
			return nil, fmt.Errorf("failed to decode node dims: %w", err)
		}
	}
	var shape []int
	if shapeJSON.Valid {
		if err := json.Unmarshal([]byte(shapeJSON.String), &shape); err != nil {
			return nil, fmt.Errorf("failed to decode node shape: %w", err)
		}
	}
	elements := make([]float64, len(blob)/8)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &elements); err != nil {
		return nil, fmt.Errorf("failed to decode node data: %w", err)
	}
	data, err := darray.New(elements, shape...)
	if err != nil {
		return nil, err
	}
	return store.VariableNode(data, dims, attrs), nil
}

func (s *Store) Set(key string, node *store.Node) error {
	if err := node.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(); err != nil {
		return err
	}
	normKey := normalize(key)
	if normKey == "" && node.Kind != store.KindGroup {
		return fmt.Errorf("%w: the root must be a group", store.ErrTypeMismatch)
	}
	if err := s.ensureAncestors(normKey); err != nil {
		return err
	}
	return s.upsert(normKey, node)
}

func (s *Store) upsert(key string, node *store.Node) error {
	attrsJSON, err := json.Marshal(node.Attrs)
	if err != nil {
		return fmt.Errorf("failed to encode node attrs: %w", err)
	}

	var dimsJSON, shapeJSON sql.NullString
	var blob []byte
	kind := "group"
	if node.Kind == store.KindVariable {
		kind = "variable"
		raw, err := json.Marshal(node.Dims)
		if err != nil {
			return fmt.Errorf("failed to encode node dims: %w", err)
		}
		dimsJSON = sql.NullString{String: string(raw), Valid: true}
		raw, err = json.Marshal(node.Data.Shape())
		if err != nil {
			return fmt.Errorf("failed to encode node shape: %w", err)
		}
		shapeJSON = sql.NullString{String: string(raw), Valid: true}
		elements, err := node.Data.Values()
		if err != nil {
			return err
		}
		buf := new(bytes.Buffer)
		if err := binary.Write(buf, binary.LittleEndian, elements); err != nil {
			return fmt.Errorf("failed to encode node data: %w", err)
		}
		blob = buf.Bytes()
	}

	parent, name := parentOf(key)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.Exec(`
		INSERT INTO nodes (path, parent, name, kind, attrs, dims, shape, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			kind = excluded.kind,
			attrs = excluded.attrs,
			dims = excluded.dims,
			shape = excluded.shape,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		key, parent, name, kind, string(attrsJSON), dimsJSON, shapeJSON, blob, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to store node: %w", err)
	}
	return nil
}

func (s *Store) ensureAncestors(key string) error {
	var missing []string
	for parent, _ := parentOf(key); parent != ""; parent, _ = parentOf(parent) {
		kind, err := s.kindOf(parent)
		if err != nil {
			return err
		}
		if kind == "variable" {
			return fmt.Errorf("%w: ancestor %q is a variable", store.ErrTypeMismatch, parent)
		}
		if kind == "" {
			missing = append(missing, parent)
		}
	}
	for i := len(missing) - 1; i >= 0; i-- {
		if err := s.upsert(missing[i], store.GroupNode(nil)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(); err != nil {
		return err
	}
	normKey := normalize(key)
	if normKey == "" {
		return fmt.Errorf("%w: the root can not be deleted", store.ErrTypeMismatch)
	}

	result, err := s.db.Exec(
		`DELETE FROM nodes WHERE path = ? OR path LIKE ?`,
		normKey, normKey+sep+"%",
	)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}
	return nil
}

func (s *Store) WriteAttrs(path string, attrs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(); err != nil {
		return err
	}
	normKey := normalize(path)

	var attrsJSON string
	err := s.db.QueryRow(`SELECT attrs FROM nodes WHERE path = ?`, normKey).Scan(&attrsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %q", store.ErrNotFound, path)
		}
		return fmt.Errorf("failed to get node attrs: %w", err)
	}
	current := map[string]any{}
	if err := json.Unmarshal([]byte(attrsJSON), &current); err != nil {
		return fmt.Errorf("failed to decode node attrs: %w", err)
	}
	for key, value := range attrs {
		current[key] = value
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("failed to encode node attrs: %w", err)
	}

	_, err = s.db.Exec(
		`UPDATE nodes SET attrs = ?, updated_at = ? WHERE path = ?`,
		string(merged), time.Now().UTC().Format(time.RFC3339Nano), normKey,
	)
	if err != nil {
		return fmt.Errorf("failed to update node attrs: %w", err)
	}
	return nil
}

func (s *Store) Sep() string { return sep }

func (s *Store) URL() string { return s.url }
