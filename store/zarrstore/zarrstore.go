// Package zarrstore implements the storage protocol on a zarr v2
// directory hierarchy. Groups are directories carrying .zgroup and
// .zattrs files, variables are directories carrying .zarray metadata,
// .zattrs with the dimension names under _ARRAY_DIMENSIONS, and one
// uncompressed little-endian float64 chunk spanning the full shape.
package zarrstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/CSC-DPR/eopf-cpm-sub000/darray"
	"github.com/CSC-DPR/eopf-cpm-sub000/store"
)

const (
	sep            = "/"
	zarrFormat     = 2
	groupMetaFile  = ".zgroup"
	arrayMetaFile  = ".zarray"
	attrsFile      = ".zattrs"
	dimensionsAttr = "_ARRAY_DIMENSIONS"
)

// arrayMeta is the zarr v2 .zarray document.
type arrayMeta struct {
	Chunks     []int  `json:"chunks"`
	Compressor any    `json:"compressor"`
	DType      string `json:"dtype"`
	FillValue  any    `json:"fill_value"`
	Filters    any    `json:"filters"`
	Order      string `json:"order"`
	Shape      []int  `json:"shape"`
	ZarrFormat int    `json:"zarr_format"`
}

type groupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

// Store is a zarr v2 directory backend.
type Store struct {
	mu     sync.RWMutex
	url    string
	root   string
	status store.Status
	mode   store.Mode
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Option configures a zarr store.
type Option func(*Store)

// WithLogger replaces the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a closed zarr store rooted at the given directory URL.
func New(url string, opts ...Option) *Store {
	s := &Store{
		url:    url,
		root:   strings.TrimPrefix(url, "file://"),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GuessCanRead reports whether this backend recognizes the URL: a
// .zarr suffix or an existing directory carrying zarr group metadata.
func GuessCanRead(url string) bool {
	p := strings.TrimPrefix(url, "file://")
	if strings.HasSuffix(strings.TrimRight(p, sep), ".zarr") {
		return true
	}
	_, err := os.Stat(filepath.Join(p, groupMetaFile))
	return err == nil
}

func normalize(p string) string {
	p = strings.Trim(p, sep)
	if p == "." {
		return ""
	}
	return p
}

// nodeDir maps a backend key or product path to the directory holding
// the node.
func (s *Store) nodeDir(key string) string {
	norm := normalize(key)
	if norm == "" {
		return s.root
	}
	return filepath.Join(s.root, filepath.FromSlash(norm))
}

func (s *Store) Open(_ context.Context, mode store.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == store.StatusOpen {
		s.logger.Warn("store already open", zap.String("url", s.url))
		return nil
	}
	if mode.Writable() {
		if err := os.MkdirAll(s.root, 0o755); err != nil {
			return fmt.Errorf("creating zarr root: %w", err)
		}
		if _, err := os.Stat(filepath.Join(s.root, groupMetaFile)); os.IsNotExist(err) {
			if err := writeJSON(filepath.Join(s.root, groupMetaFile), groupMeta{ZarrFormat: zarrFormat}); err != nil {
				return err
			}
		}
	} else {
		if _, err := os.Stat(filepath.Join(s.root, groupMetaFile)); err != nil {
			return fmt.Errorf("%w: %s is not a zarr hierarchy", store.ErrNotFound, s.url)
		}
	}
	s.status = store.StatusOpen
	s.mode = mode
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != store.StatusOpen {
		return fmt.Errorf("%w: %s", store.ErrStoreAlreadyClosed, s.url)
	}
	s.status = store.StatusClose
	return nil
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

func (s *Store) IsGroup(path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(s.nodeDir(path), groupMetaFile))
	return err == nil, nil
}

func (s *Store) IsVariable(path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(s.nodeDir(path), arrayMetaFile))
	return err == nil, nil
}

func (s *Store) Iter(path string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	dir := s.nodeDir(path)
	if _, err := os.Stat(filepath.Join(dir, arrayMetaFile)); err == nil {
		return nil, fmt.Errorf("%w: %q is a variable", store.ErrTypeMismatch, path)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", store.ErrNotFound, path)
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Get(key string) (*store.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	dir := s.nodeDir(key)
	if _, err := os.Stat(filepath.Join(dir, arrayMetaFile)); err == nil {
		return s.readVariable(dir)
	}
	if _, err := os.Stat(filepath.Join(dir, groupMetaFile)); err == nil {
		attrs, err := readAttrs(dir)
		if err != nil {
			return nil, err
		}
		return store.GroupNode(attrs), nil
	}
	return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
}

func (s *Store) readVariable(dir string) (*store.Node, error) {
	var meta arrayMeta
	if err := readJSON(filepath.Join(dir, arrayMetaFile), &meta); err != nil {
		return nil, err
	}
	attrs, err := readAttrs(dir)
	if err != nil {
		return nil, err
	}
	var dims []string
	if raw, ok := attrs[dimensionsAttr].([]any); ok {
		for _, d := range raw {
			if name, ok := d.(string); ok {
				dims = append(dims, name)
			}
		}
		delete(attrs, dimensionsAttr)
	}
	raw, err := os.ReadFile(filepath.Join(dir, chunkName(len(meta.Shape))))
	if err != nil {
		return nil, fmt.Errorf("reading zarr chunk: %w", err)
	}
	elements := make([]float64, len(raw)/8)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &elements); err != nil {
		return nil, fmt.Errorf("decoding zarr chunk: %w", err)
	}
	data, err := darray.New(elements, meta.Shape...)
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
	dir := s.nodeDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := s.ensureAncestorGroups(key); err != nil {
		return err
	}
	switch node.Kind {
	case store.KindGroup:
		if err := writeJSON(filepath.Join(dir, groupMetaFile), groupMeta{ZarrFormat: zarrFormat}); err != nil {
			return err
		}
		return writeJSON(filepath.Join(dir, attrsFile), node.Attrs)
	case store.KindVariable:
		return s.writeVariable(dir, node)
	default:
		return fmt.Errorf("%w: unknown node kind", store.ErrTypeMismatch)
	}
}

// ensureAncestorGroups drops .zgroup markers on intermediate
// directories created by MkdirAll.
func (s *Store) ensureAncestorGroups(key string) error {
	norm := normalize(key)
	parts := strings.Split(norm, sep)
	dir := s.root
	for _, part := range parts[:len(parts)-1] {
		dir = filepath.Join(dir, part)
		marker := filepath.Join(dir, groupMetaFile)
		if _, err := os.Stat(marker); os.IsNotExist(err) {
			if err := writeJSON(marker, groupMeta{ZarrFormat: zarrFormat}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) writeVariable(dir string, node *store.Node) error {
	elements, err := node.Data.Values()
	if err != nil {
		return err
	}
	shape := node.Data.Shape()
	meta := arrayMeta{
		Chunks:     append([]int(nil), shape...),
		DType:      "<f8",
		Order:      "C",
		Shape:      shape,
		ZarrFormat: zarrFormat,
	}
	if err := writeJSON(filepath.Join(dir, arrayMetaFile), meta); err != nil {
		return err
	}
	attrs := make(map[string]any, len(node.Attrs)+1)
	for k, v := range node.Attrs {
		attrs[k] = v
	}
	if len(node.Dims) > 0 {
		attrs[dimensionsAttr] = node.Dims
	}
	if err := writeJSON(filepath.Join(dir, attrsFile), attrs); err != nil {
		return err
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, elements); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, chunkName(len(shape))), buf.Bytes(), 0o644)
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(); err != nil {
		return err
	}
	dir := s.nodeDir(key)
	if dir == s.root {
		return fmt.Errorf("%w: the root can not be deleted", store.ErrTypeMismatch)
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}
	return os.RemoveAll(dir)
}

func (s *Store) WriteAttrs(path string, attrs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(); err != nil {
		return err
	}
	dir := s.nodeDir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %q", store.ErrNotFound, path)
	}
	current, err := readAttrs(dir)
	if err != nil {
		return err
	}
	for key, value := range attrs {
		current[key] = value
	}
	return writeJSON(filepath.Join(dir, attrsFile), current)
}

func (s *Store) Sep() string { return sep }

func (s *Store) URL() string { return s.url }

// chunkName is the single-chunk file name: "0" per dimension, "0" for
// scalars.
func chunkName(ndim int) string {
	if ndim == 0 {
		return "0"
	}
	parts := make([]string, ndim)
	for i := range parts {
		parts[i] = "0"
	}
	return strings.Join(parts, ".")
}

func readAttrs(dir string) (map[string]any, error) {
	attrs := map[string]any{}
	raw, err := os.ReadFile(filepath.Join(dir, attrsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return attrs, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", attrsFile, err)
	}
	return attrs, nil
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
