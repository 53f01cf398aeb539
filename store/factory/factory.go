// Package factory routes target URLs to registered storage backends
// and loads product-type mappings for short-name resolution.
package factory

import (
	"fmt"
	"sync"

	"github.com/CSC-DPR/eopf-cpm-sub000/product"
	"github.com/CSC-DPR/eopf-cpm-sub000/store"
	"github.com/CSC-DPR/eopf-cpm-sub000/store/memstore"
	"github.com/CSC-DPR/eopf-cpm-sub000/store/netcdfstore"
	"github.com/CSC-DPR/eopf-cpm-sub000/store/redisstore"
	"github.com/CSC-DPR/eopf-cpm-sub000/store/sqlitestore"
	"github.com/CSC-DPR/eopf-cpm-sub000/store/zarrstore"
)

// Constructor builds a closed store for a target URL.
type Constructor func(url string) store.Store

// GuessFunc reports whether a backend recognizes a target URL.
type GuessFunc func(url string) bool

type registration struct {
	name  string
	build Constructor
	guess GuessFunc
}

// Registry maps format names and URL shapes to backend constructors.
// Registration order decides the match order of StoreForURL.
type Registry struct {
	mu      sync.RWMutex
	entries []registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a backend under a format name with its URL recognizer.
// Registering a name twice replaces the earlier entry.
func (r *Registry) Register(name string, build Constructor, guess GuessFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, entry := range r.entries {
		if entry.name == name {
			r.entries[i] = registration{name: name, build: build, guess: guess}
			return
		}
	}
	r.entries = append(r.entries, registration{name: name, build: build, guess: guess})
}

// Formats returns the registered format names in registration order.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, entry := range r.entries {
		names[i] = entry.name
	}
	return names
}

// StoreForFormat builds a store of the named format.
func (r *Registry) StoreForFormat(name, url string) (store.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.entries {
		if entry.name == name {
			return entry.build(url), nil
		}
	}
	return nil, fmt.Errorf("%w: no backend registered for format %q", store.ErrStoreNotDefined, name)
}

// StoreForURL builds a store for the first backend that recognizes the
// URL.
func (r *Registry) StoreForURL(url string) (store.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.entries {
		if entry.guess(url) {
			return entry.build(url), nil
		}
	}
	return nil, fmt.Errorf("%w: no backend recognizes %q", store.ErrStoreNotDefined, url)
}

// StoreFor builds a store for the URL, falling back to the named
// default format when no backend recognizes it.
func (r *Registry) StoreFor(url, defaultFormat string) (store.Store, error) {
	st, err := r.StoreForURL(url)
	if err == nil || defaultFormat == "" {
		return st, err
	}
	return r.StoreForFormat(defaultFormat, url)
}

// Resolver adapts the registry to the product model's resolver hook.
func (r *Registry) Resolver() product.StoreResolver {
	return r.StoreForURL
}

var defaultRegistry = NewRegistry()

func init() {
	defaultRegistry.Register("zarr",
		func(url string) store.Store { return zarrstore.New(url) },
		zarrstore.GuessCanRead)
	defaultRegistry.Register("netcdf",
		func(url string) store.Store { return netcdfstore.New(url) },
		netcdfstore.GuessCanRead)
	defaultRegistry.Register("sqlite",
		func(url string) store.Store { return sqlitestore.New(url) },
		sqlitestore.GuessCanRead)
	defaultRegistry.Register("redis",
		func(url string) store.Store { return redisstore.New(url) },
		redisstore.GuessCanRead)
	defaultRegistry.Register("memory",
		func(url string) store.Store { return memstore.New(url) },
		memstore.GuessCanRead)
}

// Default returns the registry pre-populated with the built-in
// backends.
func Default() *Registry { return defaultRegistry }

// StoreForURL builds a store from the default registry.
func StoreForURL(url string) (store.Store, error) { return defaultRegistry.StoreForURL(url) }

// StoreForFormat builds a store of the named format from the default
// registry.
func StoreForFormat(name, url string) (store.Store, error) {
	return defaultRegistry.StoreForFormat(name, url)
}

// StoreFor builds a store from the default registry with a default
// format fallback.
func StoreFor(url, defaultFormat string) (store.Store, error) {
	return defaultRegistry.StoreFor(url, defaultFormat)
}
