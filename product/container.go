package product

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/CSC-DPR/eopf-cpm-sub000/darray"
	"github.com/CSC-DPR/eopf-cpm-sub000/internal/pathutil"
	"github.com/CSC-DPR/eopf-cpm-sub000/metrics"
	"github.com/CSC-DPR/eopf-cpm-sub000/store"
)

// containerOwner is the node embedding a container: EOGroup or EOProduct.
// It supplies identity and the owner-specific variable storage (only
// groups hold a dataset; the product root holds groups exclusively).
type containerOwner interface {
	Object
	localVariable(name string) (*EOVariable, bool)
	setLocalVariable(name string, v *EOVariable) error
	deleteLocalVariable(name string) bool
	variableNames() []string
	writeLocalVariables(st store.Store) error
}

// container implements the shared path-addressed lookup, insertion and
// deletion behavior of EOGroup and EOProduct. Local entries are always
// consulted before the storage backend; entries resolved from the
// backend are cached locally so repeated lookups return the identical
// object.
type container struct {
	owner  containerOwner
	groups map[string]*EOGroup
}

func (c *container) init(owner containerOwner) {
	c.owner = owner
	c.groups = map[string]*EOGroup{}
}

// attachedStore returns the product store regardless of its status, or
// nil when the node is detached or no store is defined.
func (c *container) attachedStore() store.Store {
	prod := c.owner.Product()
	if prod == nil {
		return nil
	}
	return prod.store
}

// openStore returns the product store only when it is attached and open.
func (c *container) openStore() (store.Store, bool) {
	st := c.attachedStore()
	if st == nil || st.Status() != store.StatusOpen {
		return nil, false
	}
	return st, true
}

func (c *container) requireOpenStore() (store.Store, error) {
	st := c.attachedStore()
	if st == nil {
		return nil, fmt.Errorf("%w: no store attached to product", store.ErrStoreNotDefined)
	}
	if st.Status() != store.StatusOpen {
		return nil, fmt.Errorf("%w: %s", store.ErrStoreNotOpen, st.URL())
	}
	return st, nil
}

// relativeKey builds the backend key of a direct child, using the
// backend's own separator.
func (c *container) relativeKey(name string) (string, error) {
	st := c.attachedStore()
	if st == nil {
		return "", fmt.Errorf("%w: no store attached to product", store.ErrStoreNotDefined)
	}
	segments := pathutil.Partition(c.owner.Path())
	if len(segments) > 0 && segments[0] == pathutil.Sep {
		segments = segments[1:]
	}
	segments = append(segments, name)
	return pathutil.JoinSep(st.Sep(), segments...), nil
}

func (c *container) warn(msg string, fields ...zap.Field) {
	if prod := c.owner.Product(); prod != nil && prod.logger != nil {
		prod.logger.Warn(msg, fields...)
	}
}

// observeStoreOp records one backend operation and its duration.
func observeStoreOp(operation string, start time.Time) {
	metrics.StoreOpsTotal.WithLabelValues(operation).Inc()
	metrics.StoreOpDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Get resolves a relative or absolute path to a group or variable,
// falling back to the storage backend when the node has not been
// materialized yet. Resolved nodes are cached locally.
func (c *container) Get(key string) (Object, error) {
	norm, err := pathutil.Norm(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	if pathutil.IsAbsolute(norm) {
		prod := c.owner.Product()
		if prod == nil {
			return nil, fmt.Errorf("%w: absolute path %q on detached container", store.ErrNotFound, key)
		}
		rel := pathutil.ProductRelative(c.owner.Path(), norm)
		if rel == "" {
			return nil, fmt.Errorf("%w: path %q resolves to the product root", store.ErrNotFound, key)
		}
		return prod.Get(rel)
	}

	head, rest := pathutil.Downsplit(norm)
	if v, ok := c.owner.localVariable(head); ok {
		if rest != "" {
			return nil, fmt.Errorf("%w: cannot descend into variable %q", store.ErrTypeMismatch, head)
		}
		metrics.ContainerLookupsTotal.WithLabelValues("local").Inc()
		return v, nil
	}

	var item Object
	if g, ok := c.groups[head]; ok {
		metrics.ContainerLookupsTotal.WithLabelValues("local").Inc()
		item = g
	} else if st, ok := c.openStore(); ok {
		storeKey, err := c.relativeKey(head)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		node, err := st.Get(storeKey)
		if err != nil {
			metrics.ErrorsTotal.WithLabelValues("container", "store_get").Inc()
			return nil, err
		}
		observeStoreOp("get", start)
		metrics.ContainerLookupsTotal.WithLabelValues("store").Inc()
		item, err = c.materialize(head, node)
		if err != nil {
			return nil, err
		}
	} else if st := c.attachedStore(); st != nil {
		return nil, fmt.Errorf("%w: can not resolve %q", store.ErrStoreNotOpen, head)
	} else {
		return nil, fmt.Errorf("%w: %q in %q", store.ErrNotFound, head, c.owner.Path())
	}

	if rest != "" {
		g, ok := item.(*EOGroup)
		if !ok {
			return nil, fmt.Errorf("%w: cannot descend into variable %q", store.ErrTypeMismatch, head)
		}
		return g.Get(rest)
	}
	return item, nil
}

// TryGet is the non-failing form of Get.
func (c *container) TryGet(key string) (Object, bool) {
	obj, err := c.Get(key)
	if err != nil {
		return nil, false
	}
	return obj, true
}

// GetGroup resolves a path and requires the result to be a group.
func (c *container) GetGroup(key string) (*EOGroup, error) {
	obj, err := c.Get(key)
	if err != nil {
		return nil, err
	}
	g, ok := obj.(*EOGroup)
	if !ok {
		return nil, fmt.Errorf("%w: %q is a variable, not a group", store.ErrTypeMismatch, key)
	}
	return g, nil
}

// GetVariable resolves a path and requires the result to be a variable.
func (c *container) GetVariable(key string) (*EOVariable, error) {
	obj, err := c.Get(key)
	if err != nil {
		return nil, err
	}
	v, ok := obj.(*EOVariable)
	if !ok {
		return nil, fmt.Errorf("%w: %q is a group, not a variable", store.ErrTypeMismatch, key)
	}
	return v, nil
}

// materialize turns a backend payload into a tree node and caches it.
func (c *container) materialize(name string, node *store.Node) (Object, error) {
	switch node.Kind {
	case store.KindGroup:
		g := newDetachedGroup(name, node.Attrs)
		if err := c.Set(name, g); err != nil {
			return nil, err
		}
		return g, nil
	case store.KindVariable:
		v, err := NewVariable(name, node.Data, node.Dims, node.Attrs)
		if err != nil {
			return nil, err
		}
		if err := c.Set(name, v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: backend returned unknown node kind", store.ErrTypeMismatch)
	}
}

// Set attaches a group or variable at the given path. Intermediate
// segments must already resolve. Unlike AddGroup/AddVariable, Set
// replaces an existing entry of either kind, keeping the invariant that
// a name is never simultaneously a group and a variable.
func (c *container) Set(key string, obj Object) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", store.ErrNotFound)
	}
	norm, err := pathutil.Norm(key)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	if pathutil.IsAbsolute(norm) {
		prod := c.owner.Product()
		if prod == nil {
			return fmt.Errorf("%w: absolute path %q on detached container", store.ErrNotFound, key)
		}
		rel := pathutil.ProductRelative(c.owner.Path(), norm)
		if rel == "" {
			return fmt.Errorf("%w: cannot replace the product root", store.ErrTypeMismatch)
		}
		return prod.Set(rel, obj)
	}

	head, rest := pathutil.Downsplit(norm)
	if rest != "" {
		item, err := c.Get(head)
		if err != nil {
			return err
		}
		g, ok := item.(*EOGroup)
		if !ok {
			return fmt.Errorf("%w: cannot descend into variable %q", store.ErrTypeMismatch, head)
		}
		return g.Set(rest, obj)
	}

	relPath := pathutil.Partition(c.owner.Path())
	if err := obj.repath(head, c.owner.Product(), relPath); err != nil {
		return err
	}
	switch v := obj.(type) {
	case *EOGroup:
		c.owner.deleteLocalVariable(head)
		c.groups[head] = v
		return nil
	case *EOVariable:
		delete(c.groups, head)
		return c.owner.setLocalVariable(head, v)
	default:
		return fmt.Errorf("%w: only groups and variables can be assigned", store.ErrTypeMismatch)
	}
}

// Delete removes the local cache entry and, when the store is attached
// and open, the corresponding backend entry. Absolute paths are resolved
// from the product root, so translated short names delete their target.
func (c *container) Delete(key string) error {
	norm, err := pathutil.Norm(key)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	if pathutil.IsAbsolute(norm) {
		prod := c.owner.Product()
		if prod == nil {
			return fmt.Errorf("%w: absolute path %q on detached container", store.ErrNotFound, key)
		}
		rel := pathutil.ProductRelative(c.owner.Path(), norm)
		if rel == "" {
			return fmt.Errorf("%w: the product root can not be deleted", store.ErrTypeMismatch)
		}
		return prod.container.Delete(rel)
	}

	head, rest := pathutil.Downsplit(norm)
	if rest != "" {
		if _, ok := c.owner.localVariable(head); ok {
			return fmt.Errorf("%w: cannot descend into variable %q", store.ErrTypeMismatch, head)
		}
		g, err := c.GetGroup(head)
		if err != nil {
			return err
		}
		return g.Delete(rest)
	}

	found := false
	if _, ok := c.groups[head]; ok {
		delete(c.groups, head)
		found = true
	}
	if c.owner.deleteLocalVariable(head) {
		found = true
	}
	if st, ok := c.openStore(); ok {
		names, err := st.Iter(c.owner.Path())
		if err == nil && containsName(names, head) {
			storeKey, keyErr := c.relativeKey(head)
			if keyErr != nil {
				return keyErr
			}
			start := time.Now()
			if err := st.Delete(storeKey); err != nil {
				metrics.ErrorsTotal.WithLabelValues("container", "store_delete").Inc()
				return err
			}
			observeStoreOp("delete", start)
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %q in %q", store.ErrNotFound, head, c.owner.Path())
	}
	return nil
}

// Has reports whether a node exists at the given relative or absolute
// path, locally or in the open backend. Probing a closed backend
// degrades to a warning and reports absence, so iteration-style code can
// run against products whose store is not currently open.
func (c *container) Has(key string) bool {
	norm, err := pathutil.Norm(key)
	if err != nil {
		return false
	}
	if pathutil.IsAbsolute(norm) {
		prod := c.owner.Product()
		if prod == nil {
			return false
		}
		rel := pathutil.ProductRelative(c.owner.Path(), norm)
		if rel == "" {
			return false
		}
		return prod.container.Has(rel)
	}
	head, rest := pathutil.Downsplit(norm)
	if rest != "" {
		g, err := c.GetGroup(head)
		if err != nil {
			return false
		}
		return g.Has(rest)
	}
	if _, ok := c.groups[head]; ok {
		return true
	}
	if _, ok := c.owner.localVariable(head); ok {
		return true
	}
	st := c.attachedStore()
	if st == nil {
		return false
	}
	if st.Status() != store.StatusOpen {
		c.warn("containment check against closed store, reporting absent",
			zap.String("key", head), zap.String("path", c.owner.Path()))
		return false
	}
	names, err := st.Iter(c.owner.Path())
	if err != nil {
		c.warn("store iteration failed during containment check",
			zap.String("key", head), zap.Error(err))
		return false
	}
	return containsName(names, head)
}

// Keys returns the direct child names: local entries first, then any
// additional names the open backend exposes.
func (c *container) Keys() []string {
	local := append(c.groupNames(), c.owner.variableNames()...)
	sort.Strings(local)
	seen := map[string]bool{}
	for _, name := range local {
		seen[name] = true
	}
	keys := local
	if st, ok := c.openStore(); ok {
		names, err := st.Iter(c.owner.Path())
		if err != nil {
			c.warn("store iteration failed", zap.Error(err))
			return keys
		}
		for _, name := range names {
			if !seen[name] {
				keys = append(keys, name)
			}
		}
	}
	return keys
}

// Len returns the number of direct children, counting backend entries
// not yet materialized.
func (c *container) Len() int {
	return len(c.Keys())
}

// Items resolves every direct child and returns them keyed by name.
// Backend entries are materialized through Get, so Items on a large
// stored group pulls every child into memory.
func (c *container) Items() (map[string]Object, error) {
	items := map[string]Object{}
	for _, key := range c.Keys() {
		obj, err := c.Get(key)
		if err != nil {
			return nil, err
		}
		items[key] = obj
	}
	return items, nil
}

func (c *container) groupNames() []string {
	names := make([]string, 0, len(c.groups))
	for name := range c.groups {
		names = append(names, name)
	}
	return names
}

// Groups returns the materialized subgroups sorted by name.
func (c *container) Groups() []*EOGroup {
	names := c.groupNames()
	sort.Strings(names)
	groups := make([]*EOGroup, 0, len(names))
	for _, name := range names {
		groups = append(groups, c.groups[name])
	}
	return groups
}

// recursiveAdd descends the path, creating intermediate groups on the
// fly, and invokes add for the terminal segment. Insertion never
// overwrites: an occupied terminal path fails with ErrAlreadyExists.
func (c *container) recursiveAdd(name string, add func(*container, string) (Object, error)) (Object, error) {
	head, rest := pathutil.Downsplit(name)
	if rest == "" {
		if c.Has(head) {
			return nil, fmt.Errorf("%w: %q in %q", store.ErrAlreadyExists, head, c.owner.Path())
		}
		return add(c, head)
	}
	if _, ok := c.owner.localVariable(head); ok {
		return nil, fmt.Errorf("%w: cannot descend into variable %q", store.ErrTypeMismatch, head)
	}
	g, ok := c.groups[head]
	if !ok {
		var err error
		g, err = c.addLocalGroup(head, nil)
		if err != nil {
			return nil, err
		}
	}
	return g.recursiveAdd(rest, add)
}

// AddGroup constructs and attaches a group at the given path, creating
// intermediate groups as needed. When the store is open the group is
// mirrored to the backend immediately.
func (c *container) AddGroup(name string) (*EOGroup, error) {
	norm, err := pathutil.Norm(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	if pathutil.IsAbsolute(norm) {
		prod := c.owner.Product()
		if prod == nil {
			return nil, fmt.Errorf("%w: absolute path %q on detached container", store.ErrNotFound, name)
		}
		return prod.AddGroup(pathutil.ProductRelative(c.owner.Path(), norm))
	}
	obj, err := c.recursiveAdd(norm, func(sub *container, leaf string) (Object, error) {
		return sub.addLocalGroup(leaf, nil)
	})
	if err != nil {
		return nil, err
	}
	return obj.(*EOGroup), nil
}

// AddVariable constructs and attaches a variable at the given path,
// creating intermediate groups as needed. When the store is open the
// variable is written to the backend immediately.
func (c *container) AddVariable(name string, data *darray.Array, dims []string, attrs map[string]any) (*EOVariable, error) {
	norm, err := pathutil.Norm(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	if pathutil.IsAbsolute(norm) {
		prod := c.owner.Product()
		if prod == nil {
			return nil, fmt.Errorf("%w: absolute path %q on detached container", store.ErrNotFound, name)
		}
		return prod.AddVariable(pathutil.ProductRelative(c.owner.Path(), norm), data, dims, attrs)
	}
	obj, err := c.recursiveAdd(norm, func(sub *container, leaf string) (Object, error) {
		return sub.addLocalVariable(leaf, data, dims, attrs)
	})
	if err != nil {
		return nil, err
	}
	return obj.(*EOVariable), nil
}

func (c *container) addLocalGroup(name string, attrs map[string]any) (*EOGroup, error) {
	g := newDetachedGroup(name, attrs)
	if err := c.Set(name, g); err != nil {
		return nil, err
	}
	if st, ok := c.openStore(); ok {
		storeKey, err := c.relativeKey(name)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		if err := st.Set(storeKey, store.GroupNode(g.attrs)); err != nil {
			metrics.ErrorsTotal.WithLabelValues("container", "store_set").Inc()
			return nil, err
		}
		observeStoreOp("set", start)
	}
	return g, nil
}

func (c *container) addLocalVariable(name string, data *darray.Array, dims []string, attrs map[string]any) (*EOVariable, error) {
	v, err := NewVariable(name, data, dims, attrs)
	if err != nil {
		return nil, err
	}
	if err := c.Set(name, v); err != nil {
		return nil, err
	}
	if st, ok := c.openStore(); ok {
		storeKey, err := c.relativeKey(name)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		if err := st.Set(storeKey, store.VariableNode(v.data, v.dims, v.attrs)); err != nil {
			metrics.ErrorsTotal.WithLabelValues("container", "store_set").Inc()
			return nil, err
		}
		observeStoreOp("set", start)
	}
	return v, nil
}

// Write persists the in-memory subtree to the attached store. Entries
// already present in the backend are rewritten.
func (c *container) Write() error {
	st, err := c.requireOpenStore()
	if err != nil {
		return err
	}
	if err := c.owner.writeLocalVariables(st); err != nil {
		return err
	}
	for name, g := range c.groups {
		storeKey, err := c.relativeKey(name)
		if err != nil {
			return err
		}
		start := time.Now()
		if err := st.Set(storeKey, store.GroupNode(g.attrs)); err != nil {
			metrics.ErrorsTotal.WithLabelValues("container", "store_set").Inc()
			return err
		}
		observeStoreOp("set", start)
		if err := g.Write(); err != nil {
			return err
		}
	}
	return nil
}

// Load materializes the whole backend subtree into memory. Entries
// already materialized are kept as-is.
func (c *container) Load() error {
	st, err := c.requireOpenStore()
	if err != nil {
		return err
	}
	names, err := st.Iter(c.owner.Path())
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, ok := c.groups[name]; ok {
			if err := c.groups[name].Load(); err != nil {
				return err
			}
			continue
		}
		if _, ok := c.owner.localVariable(name); ok {
			continue
		}
		storeKey, err := c.relativeKey(name)
		if err != nil {
			return err
		}
		start := time.Now()
		node, err := st.Get(storeKey)
		if err != nil {
			metrics.ErrorsTotal.WithLabelValues("container", "store_get").Inc()
			return err
		}
		observeStoreOp("get", start)
		item, err := c.materialize(name, node)
		if err != nil {
			return err
		}
		if g, ok := item.(*EOGroup); ok {
			if err := g.Load(); err != nil {
				return err
			}
		}
	}
	return nil
}

func containsName(names []string, key string) bool {
	for _, name := range names {
		if name == key {
			return true
		}
	}
	return false
}
