// Package memstore implements the storage protocol on an in-process
// map. It backs tests and scratch products that never touch disk.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/CSC-DPR/eopf-cpm-sub000/store"
)

const sep = "/"

// Store is an in-memory storage backend. All operations are safe for
// concurrent use.
type Store struct {
	mu     sync.RWMutex
	url    string
	status store.Status
	mode   store.Mode
	nodes  map[string]*store.Node
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Option configures a memory store.
type Option func(*Store)

// WithLogger replaces the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a closed memory store for the given URL.
func New(url string, opts ...Option) *Store {
	s := &Store{
		url:    url,
		nodes:  map[string]*store.Node{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GuessCanRead reports whether this backend recognizes the URL.
func GuessCanRead(url string) bool {
	return strings.HasPrefix(url, "mem://")
}

// normalize maps both product paths ("/a/b", "/") and backend keys
// ("a/b") onto the internal key form: separator-free root, no leading
// separator.
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

func (s *Store) Open(_ context.Context, mode store.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == store.StatusOpen {
		s.logger.Warn("store already open", zap.String("url", s.url))
		return nil
	}
	s.status = store.StatusOpen
	s.mode = mode
	if _, ok := s.nodes[""]; !ok {
		s.nodes[""] = store.GroupNode(nil)
	}
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
	node, ok := s.nodes[normalize(path)]
	return ok && node.Kind == store.KindGroup, nil
}

func (s *Store) IsVariable(path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	node, ok := s.nodes[normalize(path)]
	return ok && node.Kind == store.KindVariable, nil
}

func (s *Store) Iter(path string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	parent := normalize(path)
	if node, ok := s.nodes[parent]; !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, path)
	} else if node.Kind == store.KindVariable {
		return nil, fmt.Errorf("%w: %q is a variable", store.ErrTypeMismatch, path)
	}
	var names []string
	for key := range s.nodes {
		if key == "" {
			continue
		}
		p, name := parentOf(key)
		if p == parent {
			names = append(names, name)
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
	node, ok := s.nodes[normalize(key)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}
	return copyNode(node), nil
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
	s.nodes[normKey] = copyNode(node)
	return nil
}

// ensureAncestors creates missing intermediate groups for key.
func (s *Store) ensureAncestors(key string) error {
	for parent, _ := parentOf(key); parent != ""; parent, _ = parentOf(parent) {
		node, ok := s.nodes[parent]
		if !ok {
			s.nodes[parent] = store.GroupNode(nil)
			continue
		}
		if node.Kind == store.KindVariable {
			return fmt.Errorf("%w: ancestor %q is a variable", store.ErrTypeMismatch, parent)
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
	if _, ok := s.nodes[normKey]; !ok {
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}
	delete(s.nodes, normKey)
	prefix := normKey + sep
	for k := range s.nodes {
		if strings.HasPrefix(k, prefix) {
			delete(s.nodes, k)
		}
	}
	return nil
}

func (s *Store) WriteAttrs(path string, attrs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(); err != nil {
		return err
	}
	node, ok := s.nodes[normalize(path)]
	if !ok {
		return fmt.Errorf("%w: %q", store.ErrNotFound, path)
	}
	for key, value := range attrs {
		node.Attrs[key] = value
	}
	return nil
}

func (s *Store) Sep() string { return sep }

func (s *Store) URL() string { return s.url }

func copyNode(node *store.Node) *store.Node {
	attrs := make(map[string]any, len(node.Attrs))
	for key, value := range node.Attrs {
		attrs[key] = value
	}
	out := &store.Node{Kind: node.Kind, Attrs: attrs, Data: node.Data}
	out.Dims = append(out.Dims, node.Dims...)
	return out
}
