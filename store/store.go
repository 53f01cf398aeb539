// Package store defines the storage protocol every EO product backend
// implements, the tagged node payload exchanged with backends, and the
// sentinel errors shared across the product model.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/CSC-DPR/eopf-cpm-sub000/darray"
)

// Common storage and product model errors
var (
	ErrNotFound           = errors.New("object not found")
	ErrAlreadyExists      = errors.New("object already exists")
	ErrStoreNotDefined    = errors.New("store not defined")
	ErrStoreNotOpen       = errors.New("store not open")
	ErrStoreAlreadyClosed = errors.New("store already closed")
	ErrInvalidProduct     = errors.New("invalid product")
	ErrTypeMismatch       = errors.New("type mismatch")
)

// Status is the open/close state of a store. All read and mutation
// operations are undefined while a store is StatusClose.
type Status int

const (
	StatusClose Status = iota
	StatusOpen
)

func (s Status) String() string {
	if s == StatusOpen {
		return "open"
	}
	return "close"
}

// Mode selects how a store is opened.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
	ModeReadWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "r"
	case ModeWrite:
		return "w"
	default:
		return "rw"
	}
}

// Writable reports whether the mode allows mutation.
func (m Mode) Writable() bool { return m == ModeWrite || m == ModeReadWrite }

// Readable reports whether the mode allows reads.
func (m Mode) Readable() bool { return m == ModeRead || m == ModeReadWrite }

// Kind discriminates the Node payload variants.
type Kind int

const (
	KindGroup Kind = iota
	KindVariable
)

func (k Kind) String() string {
	if k == KindVariable {
		return "variable"
	}
	return "group"
}

// Node is the payload a backend persists or materializes for one tree
// node. It is a tagged union: KindGroup nodes carry only attributes,
// KindVariable nodes additionally carry data and dimension names.
type Node struct {
	Kind  Kind
	Attrs map[string]any
	Data  *darray.Array
	Dims  []string
}

// GroupNode builds a group payload.
func GroupNode(attrs map[string]any) *Node {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &Node{Kind: KindGroup, Attrs: attrs}
}

// VariableNode builds a variable payload.
func VariableNode(data *darray.Array, dims []string, attrs map[string]any) *Node {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &Node{Kind: KindVariable, Attrs: attrs, Data: data, Dims: dims}
}

// Validate checks the internal consistency of the payload. Backends call
// it before persisting so malformed payloads fail uniformly.
func (n *Node) Validate() error {
	switch n.Kind {
	case KindGroup:
		if n.Data != nil {
			return fmt.Errorf("%w: group node carries variable data", ErrTypeMismatch)
		}
	case KindVariable:
		if n.Data == nil {
			return fmt.Errorf("%w: variable node without data", ErrTypeMismatch)
		}
		if len(n.Dims) != 0 && len(n.Dims) != n.Data.Ndim() {
			return fmt.Errorf("%w: %d dimension names for %d dimensions", ErrTypeMismatch, len(n.Dims), n.Data.Ndim())
		}
	default:
		return fmt.Errorf("%w: unknown node kind %d", ErrTypeMismatch, n.Kind)
	}
	return nil
}

// Store is the contract every product storage backend satisfies. Apart
// from Open, Close and Status, every operation must fail with
// ErrStoreNotOpen while the store is closed. A nonexistent key fails
// with ErrNotFound; indexing into a variable as if it were a group fails
// with ErrTypeMismatch. Backends never return sentinel values silently:
// callers rely on these errors to decide between fallback and propagation.
type Store interface {
	// Open transitions the store to StatusOpen. Reopening an already
	// open store is reported (logged) but not fatal.
	Open(ctx context.Context, mode Mode) error

	// Close transitions the store to StatusClose and releases resources.
	// Closing an already closed store fails with ErrStoreAlreadyClosed.
	Close() error

	// Status returns the current open/close state.
	Status() Status

	// IsGroup reports whether the node at path is group-like. Exactly one
	// of IsGroup/IsVariable is true for an existing path; both are false
	// when the path does not exist.
	IsGroup(path string) (bool, error)

	// IsVariable reports whether the node at path is an array leaf.
	IsVariable(path string) (bool, error)

	// Iter returns the direct child names of path in backend order.
	Iter(path string) ([]string, error)

	// Get materializes the node at key with its immediate attributes,
	// without materializing descendants.
	Get(key string) (*Node, error)

	// Set persists a group or variable payload at key.
	Set(key string, node *Node) error

	// Delete removes the node at key and everything beneath it.
	Delete(key string) error

	// WriteAttrs merges attrs into the attributes stored at path.
	WriteAttrs(path string, attrs map[string]any) error

	// Sep returns the path separator this backend requires when building
	// backend keys.
	Sep() string

	// URL returns the target this store was constructed for.
	URL() string
}
