package product

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/CSC-DPR/eopf-cpm-sub000/darray"
	"github.com/CSC-DPR/eopf-cpm-sub000/internal/pathutil"
	"github.com/CSC-DPR/eopf-cpm-sub000/metrics"
	"github.com/CSC-DPR/eopf-cpm-sub000/store"
)

// MandatoryFields are the top-level groups every valid product carries.
var MandatoryFields = []string{"measurements", "coordinates"}

// StoreResolver turns a target URL into a concrete storage backend.
// It is injected so the product model stays independent of the
// registered backend implementations.
type StoreResolver func(url string) (store.Store, error)

// ShortNameRecord maps a short name to the full product path it
// abbreviates, as declared by a product-type mapping.
type ShortNameRecord struct {
	ShortName  string
	TargetPath string
}

// MappingResolver supplies the short-name records of a product type.
type MappingResolver interface {
	ShortNames(productType string) ([]ShortNameRecord, error)
}

// EOProduct is the root of a product tree. The root itself holds only
// groups; variables live inside groups. A product optionally carries a
// storage backend that children are lazily materialized from, and a
// product type whose mapping contributes short-name aliases.
type EOProduct struct {
	object
	container

	store           store.Store
	storeResolver   StoreResolver
	mappingResolver MappingResolver
	productType     string
	shortNames      map[string]string
	shortNamesStale bool
	logger          *zap.Logger
}

// Option configures a product at construction time.
type Option func(*EOProduct)

// WithStore attaches a concrete storage backend.
func WithStore(st store.Store) Option {
	return func(p *EOProduct) { p.store = st }
}

// WithStoreResolver injects the URL-to-backend resolver used by
// SetStoreURL.
func WithStoreResolver(r StoreResolver) Option {
	return func(p *EOProduct) { p.storeResolver = r }
}

// WithStoreURL resolves url through the injected resolver and attaches
// the result. It must come after WithStoreResolver in the option list.
func WithStoreURL(url string) Option {
	return func(p *EOProduct) {
		if p.storeResolver == nil {
			return
		}
		if st, err := p.storeResolver(url); err == nil {
			p.store = st
		} else {
			p.logger.Warn("failed to resolve store URL", zap.String("url", url), zap.Error(err))
		}
	}
}

// WithType sets the product type used for short-name resolution.
func WithType(productType string) Option {
	return func(p *EOProduct) {
		p.productType = productType
		p.shortNamesStale = true
	}
}

// WithMappingResolver injects the short-name mapping source.
func WithMappingResolver(r MappingResolver) Option {
	return func(p *EOProduct) {
		p.mappingResolver = r
		p.shortNamesStale = true
	}
}

// WithLogger replaces the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *EOProduct) { p.logger = logger }
}

// New creates an empty product with the given name.
func New(name string, opts ...Option) *EOProduct {
	p := &EOProduct{
		object:     newObject(name),
		shortNames: map[string]string{},
		logger:     zap.NewNop(),
	}
	p.container.init(p)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Path of a product is always the root path.
func (p *EOProduct) Path() string { return pathutil.Sep }

// Product returns the product itself: the root is its own owner.
func (p *EOProduct) Product() *EOProduct { return p }

// RelativePath of the root is empty.
func (p *EOProduct) RelativePath() []string { return nil }

func (p *EOProduct) localVariable(string) (*EOVariable, bool) { return nil, false }

func (p *EOProduct) setLocalVariable(name string, _ *EOVariable) error {
	return fmt.Errorf("%w: the product root %q holds groups only, not variable %q", store.ErrTypeMismatch, p.name, name)
}

func (p *EOProduct) deleteLocalVariable(string) bool { return false }

func (p *EOProduct) variableNames() []string { return nil }

func (p *EOProduct) writeLocalVariables(store.Store) error { return nil }

// Store returns the attached backend, nil when none is defined.
func (p *EOProduct) Store() store.Store { return p.store }

// SetStore replaces the attached backend. The previous backend, if any,
// is left untouched; callers close it themselves.
func (p *EOProduct) SetStore(st store.Store) { p.store = st }

// SetStoreURL resolves url through the injected resolver and attaches
// the resulting backend.
func (p *EOProduct) SetStoreURL(url string) error {
	if p.storeResolver == nil {
		return fmt.Errorf("%w: no store resolver configured", store.ErrStoreNotDefined)
	}
	st, err := p.storeResolver(url)
	if err != nil {
		return err
	}
	p.store = st
	return nil
}

// Type returns the product type.
func (p *EOProduct) Type() string { return p.productType }

// SetType changes the product type and invalidates the short-name
// table, which is rebuilt lazily on the next aliased access.
func (p *EOProduct) SetType(productType string) {
	if p.productType == productType {
		return
	}
	p.productType = productType
	p.shortNamesStale = true
}

// ShortNames returns the alias table of the current product type,
// rebuilding it from the mapping resolver when stale.
func (p *EOProduct) ShortNames() map[string]string {
	if p.shortNamesStale {
		p.rebuildShortNames()
	}
	out := make(map[string]string, len(p.shortNames))
	for short, target := range p.shortNames {
		out[short] = target
	}
	return out
}

func (p *EOProduct) rebuildShortNames() {
	p.shortNames = map[string]string{}
	p.shortNamesStale = false
	if p.mappingResolver == nil || p.productType == "" {
		return
	}
	records, err := p.mappingResolver.ShortNames(p.productType)
	if err != nil {
		p.logger.Warn("failed to load short names for product type",
			zap.String("product_type", p.productType), zap.Error(err))
		return
	}
	for _, rec := range records {
		// Records without a usable target would alias accesses onto the
		// root or an empty key.
		norm, err := pathutil.Norm(rec.TargetPath)
		if rec.ShortName == "" || err != nil || norm == pathutil.Sep || norm == "." {
			p.logger.Warn("skipping short name record without usable target",
				zap.String("product_type", p.productType),
				zap.String("short_name", rec.ShortName),
				zap.String("target_path", rec.TargetPath))
			continue
		}
		p.shortNames[rec.ShortName] = rec.TargetPath
	}
}

// translate replaces a short-name key by its target path. Keys that are
// not aliases pass through unchanged.
func (p *EOProduct) translate(key string) string {
	if p.shortNamesStale {
		p.rebuildShortNames()
	}
	if target, ok := p.shortNames[key]; ok {
		return target
	}
	return key
}

// Get resolves a path or short name to a group or variable.
func (p *EOProduct) Get(key string) (Object, error) {
	return p.container.Get(p.translate(key))
}

// TryGet is the non-failing form of Get.
func (p *EOProduct) TryGet(key string) (Object, bool) {
	obj, err := p.Get(key)
	if err != nil {
		return nil, false
	}
	return obj, true
}

// GetGroup resolves a path or short name and requires a group.
func (p *EOProduct) GetGroup(key string) (*EOGroup, error) {
	return p.container.GetGroup(p.translate(key))
}

// GetVariable resolves a path or short name and requires a variable.
func (p *EOProduct) GetVariable(key string) (*EOVariable, error) {
	return p.container.GetVariable(p.translate(key))
}

// Set attaches a node at a path or short name.
func (p *EOProduct) Set(key string, obj Object) error {
	return p.container.Set(p.translate(key), obj)
}

// Delete removes a node at a path or short name.
func (p *EOProduct) Delete(key string) error {
	return p.container.Delete(p.translate(key))
}

// Has reports direct child existence, after alias translation.
func (p *EOProduct) Has(key string) bool {
	return p.container.Has(p.translate(key))
}

// AddGroup creates a group at a path or short name.
func (p *EOProduct) AddGroup(name string) (*EOGroup, error) {
	return p.container.AddGroup(p.translate(name))
}

// AddVariable creates a variable at a path or short name. The terminal
// path must sit inside a group: the root itself rejects variables.
func (p *EOProduct) AddVariable(name string, data *darray.Array, dims []string, attrs map[string]any) (*EOVariable, error) {
	return p.container.AddVariable(p.translate(name), data, dims, attrs)
}

// Open transitions the attached store to open. Opening an already open
// store logs a warning and succeeds. When the mode allows reads, the
// product type is discovered from the persisted root attributes.
func (p *EOProduct) Open(ctx context.Context, mode store.Mode) error {
	if p.store == nil {
		return fmt.Errorf("%w: product %q has no store attached", store.ErrStoreNotDefined, p.name)
	}
	if p.store.Status() == store.StatusOpen {
		p.logger.Warn("store already open", zap.String("url", p.store.URL()))
		return nil
	}
	start := time.Now()
	if err := p.store.Open(ctx, mode); err != nil {
		metrics.ErrorsTotal.WithLabelValues("product", "open").Inc()
		return err
	}
	observeStoreOp("open", start)
	metrics.OpenProducts.Inc()
	if mode.Readable() {
		p.discoverType()
	}
	return nil
}

// discoverType reads the persisted root attributes and adopts the
// product type they declare, if any.
func (p *EOProduct) discoverType() {
	node, err := p.store.Get("")
	if err != nil {
		return
	}
	for key, value := range node.Attrs {
		p.attrs[key] = value
	}
	if productType, ok := node.Attrs["product_type"].(string); ok && productType != "" {
		p.SetType(productType)
	}
}

// Close transitions the attached store to closed. Closing an already
// closed store fails with ErrStoreAlreadyClosed.
func (p *EOProduct) Close() error {
	if p.store == nil {
		return fmt.Errorf("%w: product %q has no store attached", store.ErrStoreNotDefined, p.name)
	}
	start := time.Now()
	if err := p.store.Close(); err != nil {
		metrics.ErrorsTotal.WithLabelValues("product", "close").Inc()
		return err
	}
	observeStoreOp("close", start)
	metrics.OpenProducts.Dec()
	return nil
}

// OpenScope opens the store, runs fn and closes the store again, even
// when fn fails. The close error is returned only when fn succeeded;
// when fn already failed, a failing close is logged so it is not lost.
func (p *EOProduct) OpenScope(ctx context.Context, mode store.Mode, fn func(*EOProduct) error) (err error) {
	if err = p.Open(ctx, mode); err != nil {
		return err
	}
	defer func() {
		cerr := p.Close()
		if cerr == nil {
			return
		}
		if err == nil {
			err = cerr
		} else {
			p.logger.Warn("closing store after failed scope",
				zap.String("url", p.store.URL()), zap.Error(cerr))
		}
	}()
	return fn(p)
}

// Validate checks the structural contract of the product: every
// mandatory top-level group must exist.
func (p *EOProduct) Validate() error {
	var missing []string
	for _, field := range MandatoryFields {
		if !p.Has(field) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: product %q misses mandatory group(s) %s",
			store.ErrInvalidProduct, p.name, strings.Join(missing, ", "))
	}
	return nil
}

// IsValid reports whether the product satisfies the structural contract.
func (p *EOProduct) IsValid() bool { return p.Validate() == nil }

// Write persists the whole in-memory tree, including the root
// attributes, to the attached store. Invalid products are rejected.
func (p *EOProduct) Write() error {
	if err := p.Validate(); err != nil {
		return err
	}
	st, err := p.requireOpenStore()
	if err != nil {
		return err
	}
	rootAttrs := map[string]any{}
	for key, value := range p.attrs {
		rootAttrs[key] = value
	}
	if p.productType != "" {
		rootAttrs["product_type"] = p.productType
	}
	if err := st.WriteAttrs(pathutil.Sep, rootAttrs); err != nil {
		return err
	}
	return p.container.Write()
}

// GetCoordinate resolves the coordinate called name for a node at
// contextPath. Lookup is deepest first: the context path is replayed
// under the coordinates group segment by segment, the first match wins,
// and shallower positions are consulted only when deeper ones miss.
func (p *EOProduct) GetCoordinate(name, contextPath string) (*EOVariable, error) {
	segments := pathutil.Partition(contextPath)
	if len(segments) > 0 && segments[0] == pathutil.Sep {
		segments = segments[1:]
	}
	for depth := len(segments); depth >= 0; depth-- {
		parts := append([]string{"coordinates"}, segments[:depth]...)
		parts = append(parts, name)
		candidate := pathutil.Join(parts...)
		obj, err := p.container.Get(candidate)
		if err != nil {
			continue
		}
		if v, ok := obj.(*EOVariable); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: coordinate %q for context %q", store.ErrNotFound, name, contextPath)
}

// Tree renders the materialized product hierarchy to w.
func (p *EOProduct) Tree(w io.Writer) {
	fmt.Fprintf(w, "%s\n", pathutil.Sep)
	renderTree(w, &p.container, nil, "")
}

func renderTree(w io.Writer, c *container, vars []*EOVariable, prefix string) {
	type entry struct {
		name  string
		group *EOGroup
	}
	var entries []entry
	for _, g := range c.Groups() {
		entries = append(entries, entry{name: g.Name(), group: g})
	}
	for _, v := range vars {
		entries = append(entries, entry{name: v.Name()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	for i, e := range entries {
		connector, childPrefix := "├── ", prefix+"│   "
		if i == len(entries)-1 {
			connector, childPrefix = "└── ", prefix+"    "
		}
		fmt.Fprintf(w, "%s%s%s\n", prefix, connector, e.name)
		if e.group != nil {
			renderTree(w, &e.group.container, e.group.Variables(), childPrefix)
		}
	}
}

func (p *EOProduct) String() string {
	return fmt.Sprintf("[EOProduct %s]", p.name)
}
