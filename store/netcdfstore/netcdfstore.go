// Package netcdfstore implements the storage protocol on a netCDF
// classic file. The format is flat, so the hierarchy is flattened into
// variable names joined by the store separator, group attributes ride
// along as JSON-encoded global attributes, and the whole tree is staged
// in memory: reads are served from the snapshot loaded at Open, writes
// are flushed back to the file at Close.
package netcdfstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/ctessum/cdf"
	"go.uber.org/zap"

	"github.com/CSC-DPR/eopf-cpm-sub000/darray"
	"github.com/CSC-DPR/eopf-cpm-sub000/store"
)

const (
	// sep keeps flattened keys legal netCDF identifiers.
	sep = "__"

	attrsAttr   = "_eopf_attrs"
	groupPrefix = "_eopf_group" + sep

	// schemaVar is a placeholder variable written when the tree holds no
	// variables: the classic format cannot define a data section with
	// zero variables. It is invisible to readers.
	schemaVar = "_eopf_schema"
)

// Store is a netCDF classic file backend.
type Store struct {
	mu     sync.RWMutex
	url    string
	path   string
	status store.Status
	mode   store.Mode
	nodes  map[string]*store.Node
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Option configures a netCDF store.
type Option func(*Store)

// WithLogger replaces the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a closed netCDF store for the given file URL.
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
	return strings.HasSuffix(strings.TrimPrefix(url, "file://"), ".nc")
}

// normalize maps product paths and backend keys onto the internal flat
// key form.
func normalize(p string) string {
	p = strings.Trim(p, "/")
	if p == "." {
		return ""
	}
	return strings.ReplaceAll(p, "/", sep)
}

func parentOf(key string) (string, string) {
	idx := strings.LastIndex(key, sep)
	if idx < 0 {
		return "", key
	}
	return key[:idx], key[idx+len(sep):]
}

func (s *Store) Open(_ context.Context, mode store.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == store.StatusOpen {
		s.logger.Warn("store already open", zap.String("url", s.url))
		return nil
	}
	s.nodes = map[string]*store.Node{"": store.GroupNode(nil)}
	if _, err := os.Stat(s.path); err == nil {
		if err := s.load(); err != nil {
			return err
		}
	} else if !mode.Writable() {
		return fmt.Errorf("%w: %s", store.ErrNotFound, s.url)
	}
	s.status = store.StatusOpen
	s.mode = mode
	return nil
}

// load stages the file content into the node map.
func (s *Store) load() error {
	ff, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("opening netcdf file: %w", err)
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return fmt.Errorf("reading netcdf header: %w", err)
	}

	for _, name := range f.Header.Attributes("") {
		switch {
		case name == attrsAttr:
			s.nodes[""] = store.GroupNode(decodeAttrs(f.Header.GetAttribute("", name)))
		case strings.HasPrefix(name, groupPrefix):
			key := strings.TrimPrefix(name, groupPrefix)
			s.nodes[key] = store.GroupNode(decodeAttrs(f.Header.GetAttribute("", name)))
		}
	}

	for _, v := range f.Header.Variables() {
		if v == schemaVar {
			continue
		}
		r := f.Reader(v, nil, nil)
		buf := r.Zero(-1)
		if _, err := r.Read(buf); err != nil {
			return fmt.Errorf("reading netcdf variable %s: %w", v, err)
		}
		vals, ok := buf.([]float64)
		if !ok {
			return fmt.Errorf("%w: variable %s is not float64", store.ErrTypeMismatch, v)
		}
		data, err := darray.New(vals, f.Header.Lengths(v)...)
		if err != nil {
			return err
		}
		var dims []string
		for _, d := range f.Header.Dimensions(v) {
			dims = append(dims, strings.TrimPrefix(d, v+sep))
		}
		attrs := decodeAttrs(f.Header.GetAttribute(v, attrsAttr))
		s.nodes[v] = store.VariableNode(data, dims, attrs)
		s.ensureAncestors(v)
	}
	return nil
}

// flush writes the staged node map back to the file.
func (s *Store) flush() error {
	var varKeys []string
	for key, node := range s.nodes {
		if node.Kind == store.KindVariable {
			varKeys = append(varKeys, key)
		}
	}
	sort.Strings(varKeys)

	var dimNames []string
	var dimLens []int
	for _, key := range varKeys {
		node := s.nodes[key]
		for i, d := range variableDims(key, node) {
			dimNames = append(dimNames, d)
			dimLens = append(dimLens, node.Data.Shape()[i])
		}
	}

	if len(varKeys) == 0 {
		dimNames = append(dimNames, schemaVar)
		dimLens = append(dimLens, 1)
	}

	h := cdf.NewHeader(dimNames, dimLens)
	for _, key := range varKeys {
		node := s.nodes[key]
		h.AddVariable(key, variableDims(key, node), []float64{0})
		h.AddAttribute(key, attrsAttr, encodeAttrs(node.Attrs))
	}
	if len(varKeys) == 0 {
		h.AddVariable(schemaVar, []string{schemaVar}, []float64{0})
	}
	h.AddAttribute("", attrsAttr, encodeAttrs(s.nodes[""].Attrs))
	for key, node := range s.nodes {
		if key != "" && node.Kind == store.KindGroup {
			h.AddAttribute("", groupPrefix+key, encodeAttrs(node.Attrs))
		}
	}
	h.Define()
	for _, err := range h.Check() {
		return fmt.Errorf("building netcdf header: %w", err)
	}

	ff, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("creating netcdf file: %w", err)
	}
	defer ff.Close()
	f, err := cdf.Create(ff, h)
	if err != nil {
		return fmt.Errorf("writing netcdf header: %w", err)
	}
	for _, key := range varKeys {
		vals, err := s.nodes[key].Data.Values()
		if err != nil {
			return err
		}
		end := s.nodes[key].Data.Shape()
		begin := make([]int, len(end))
		w := f.Writer(key, begin, end)
		if _, err := w.Write(vals); err != nil {
			return fmt.Errorf("writing netcdf variable %s: %w", key, err)
		}
	}
	if len(varKeys) == 0 {
		w := f.Writer(schemaVar, []int{0}, []int{1})
		if _, err := w.Write([]float64{0}); err != nil {
			return fmt.Errorf("writing netcdf placeholder: %w", err)
		}
	}
	return nil
}

// variableDims returns the netCDF dimension names of a variable,
// prefixed by the variable key so lengths never clash across variables.
func variableDims(key string, node *store.Node) []string {
	shape := node.Data.Shape()
	dims := make([]string, len(shape))
	for i := range shape {
		name := fmt.Sprintf("dim_%d", i)
		if i < len(node.Dims) {
			name = node.Dims[i]
		}
		dims[i] = key + sep + name
	}
	return dims
}

func encodeAttrs(attrs map[string]any) string {
	if attrs == nil {
		attrs = map[string]any{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func decodeAttrs(raw any) map[string]any {
	attrs := map[string]any{}
	var text string
	switch v := raw.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return attrs
	}
	json.Unmarshal([]byte(text), &attrs)
	return attrs
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != store.StatusOpen {
		return fmt.Errorf("%w: %s", store.ErrStoreAlreadyClosed, s.url)
	}
	if s.mode.Writable() {
		if err := s.flush(); err != nil {
			return err
		}
	}
	s.status = store.StatusClose
	s.nodes = nil
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
	return node, nil
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
	s.nodes[normKey] = node
	s.ensureAncestors(normKey)
	return nil
}

func (s *Store) ensureAncestors(key string) {
	for parent, _ := parentOf(key); parent != ""; parent, _ = parentOf(parent) {
		if _, ok := s.nodes[parent]; !ok {
			s.nodes[parent] = store.GroupNode(nil)
		}
	}
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
