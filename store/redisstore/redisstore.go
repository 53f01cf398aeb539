// Package redisstore implements the storage protocol on a Redis
// server. Nodes are JSON documents keyed by path, children are indexed
// with a set per parent, and array data is embedded as a float64 slice
// in the node document.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/CSC-DPR/eopf-cpm-sub000/darray"
	"github.com/CSC-DPR/eopf-cpm-sub000/store"
)

const sep = "/"

// document is the JSON form of a node in Redis.
type document struct {
	Kind     string         `json:"kind"`
	Attrs    map[string]any `json:"attrs"`
	Dims     []string       `json:"dims,omitempty"`
	Shape    []int          `json:"shape,omitempty"`
	Elements []float64      `json:"elements,omitempty"`
}

// Store is a Redis backend.
type Store struct {
	mu     sync.RWMutex
	url    string
	prefix string
	client *redis.Client
	status store.Status
	mode   store.Mode
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Option configures a Redis store.
type Option func(*Store)

// WithLogger replaces the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithPrefix changes the key namespace, "eopf:" by default.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New creates a closed Redis store for a redis:// URL.
func New(rawURL string, opts ...Option) *Store {
	s := &Store{
		url:    rawURL,
		prefix: "eopf:",
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GuessCanRead reports whether this backend recognizes the URL.
func GuessCanRead(rawURL string) bool {
	return strings.HasPrefix(rawURL, "redis://")
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

func (s *Store) nodeKey(key string) string     { return s.prefix + "node:" + key }
func (s *Store) childrenKey(key string) string { return s.prefix + "children:" + key }

func (s *Store) Open(ctx context.Context, mode store.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == store.StatusOpen {
		s.logger.Warn("store already open", zap.String("url", s.url))
		return nil
	}

	u, err := url.Parse(s.url)
	if err != nil {
		return fmt.Errorf("invalid redis URL: %w", err)
	}
	password, _ := u.User.Password()
	client := redis.NewClient(&redis.Options{
		Addr:     u.Host,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis store: %w", err)
	}

	s.client = client
	s.status = store.StatusOpen
	s.mode = mode
	if mode.Writable() {
		return s.setDocument(ctx, "", &document{Kind: "group", Attrs: map[string]any{}}, false)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != store.StatusOpen {
		return fmt.Errorf("%w: %s", store.ErrStoreAlreadyClosed, s.url)
	}
	err := s.client.Close()
	s.client = nil
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

func (s *Store) getDocument(ctx context.Context, key string) (*document, error) {
	raw, err := s.client.Get(ctx, s.nodeKey(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	var doc document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode node: %w", err)
	}
	return &doc, nil
}

// setDocument stores a node document; with overwrite false an existing
// document is kept untouched.
func (s *Store) setDocument(ctx context.Context, key string, doc *document, overwrite bool) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode node: %w", err)
	}
	if overwrite {
		if err := s.client.Set(ctx, s.nodeKey(key), raw, 0).Err(); err != nil {
			return fmt.Errorf("failed to store node: %w", err)
		}
	} else {
		if err := s.client.SetNX(ctx, s.nodeKey(key), raw, 0).Err(); err != nil {
			return fmt.Errorf("failed to store node: %w", err)
		}
	}
	if key == "" {
		return nil
	}
	parent, name := parentOf(key)
	if err := s.client.SAdd(ctx, s.childrenKey(parent), name).Err(); err != nil {
		return fmt.Errorf("failed to index child node: %w", err)
	}
	return nil
}

func (s *Store) IsGroup(path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	doc, err := s.getDocument(context.Background(), normalize(path))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return doc.Kind == "group", nil
}

func (s *Store) IsVariable(path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	doc, err := s.getDocument(context.Background(), normalize(path))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return doc.Kind == "variable", nil
}

func (s *Store) Iter(path string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	ctx := context.Background()
	parent := normalize(path)
	doc, err := s.getDocument(ctx, parent)
	if err != nil {
		return nil, err
	}
	if doc.Kind == "variable" {
		return nil, fmt.Errorf("%w: %q is a variable", store.ErrTypeMismatch, path)
	}
	names, err := s.client.SMembers(ctx, s.childrenKey(parent)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
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
	doc, err := s.getDocument(context.Background(), normalize(key))
	if err != nil {
		return nil, err
	}
	attrs := doc.Attrs
	if attrs == nil {
		attrs = map[string]any{}
	}
	if doc.Kind == "group" {
		return store.GroupNode(attrs), nil
	}
	data, err := darray.New(doc.Elements, doc.Shape...)
	if err != nil {
		return nil, err
	}
	return store.VariableNode(data, doc.Dims, attrs), nil
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
	ctx := context.Background()
	normKey := normalize(key)
	if normKey == "" && node.Kind != store.KindGroup {
		return fmt.Errorf("%w: the root must be a group", store.ErrTypeMismatch)
	}

	doc := &document{Kind: "group", Attrs: node.Attrs}
	if node.Kind == store.KindVariable {
		elements, err := node.Data.Values()
		if err != nil {
			return err
		}
		doc = &document{
			Kind:     "variable",
			Attrs:    node.Attrs,
			Dims:     node.Dims,
			Shape:    node.Data.Shape(),
			Elements: elements,
		}
	}

	for parent, _ := parentOf(normKey); parent != ""; parent, _ = parentOf(parent) {
		if err := s.setDocument(ctx, parent, &document{Kind: "group", Attrs: map[string]any{}}, false); err != nil {
			return err
		}
	}
	return s.setDocument(ctx, normKey, doc, true)
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(); err != nil {
		return err
	}
	ctx := context.Background()
	normKey := normalize(key)
	if normKey == "" {
		return fmt.Errorf("%w: the root can not be deleted", store.ErrTypeMismatch)
	}
	if _, err := s.getDocument(ctx, normKey); err != nil {
		return err
	}
	if err := s.deleteSubtree(ctx, normKey); err != nil {
		return err
	}
	parent, name := parentOf(normKey)
	if err := s.client.SRem(ctx, s.childrenKey(parent), name).Err(); err != nil {
		return fmt.Errorf("failed to unindex child node: %w", err)
	}
	return nil
}

func (s *Store) deleteSubtree(ctx context.Context, key string) error {
	names, err := s.client.SMembers(ctx, s.childrenKey(key)).Result()
	if err != nil {
		return fmt.Errorf("failed to list children: %w", err)
	}
	for _, name := range names {
		if err := s.deleteSubtree(ctx, key+sep+name); err != nil {
			return err
		}
	}
	if err := s.client.Del(ctx, s.nodeKey(key), s.childrenKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	return nil
}

func (s *Store) WriteAttrs(path string, attrs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(); err != nil {
		return err
	}
	ctx := context.Background()
	normKey := normalize(path)
	doc, err := s.getDocument(ctx, normKey)
	if err != nil {
		return err
	}
	if doc.Attrs == nil {
		doc.Attrs = map[string]any{}
	}
	for key, value := range attrs {
		doc.Attrs[key] = value
	}
	return s.setDocument(ctx, normKey, doc, true)
}

func (s *Store) Sep() string { return sep }

func (s *Store) URL() string { return s.url }
