// Package product implements the harmonized EO product tree: a lazy
// hierarchical container of groups and multi-dimensional variables,
// optionally synchronized with a pluggable storage backend.
package product

import (
	"fmt"

	"github.com/CSC-DPR/eopf-cpm-sub000/internal/pathutil"
)

// Object is the common surface of every node in a product tree. It is
// implemented by EOGroup and EOVariable.
type Object interface {
	// Name is the node's local identifier, unique among siblings.
	Name() string

	// Path is the absolute product path of the node.
	Path() string

	// RelativePath is the ordered sequence of ancestor names from the
	// product root to the node's parent. Empty while detached.
	RelativePath() []string

	// Product is the non-owning back reference to the root product.
	// It is nil while the node is detached.
	Product() *EOProduct

	// Attrs is the mutable metadata mapping local to this node. It is
	// never inherited or merged across the hierarchy.
	Attrs() map[string]any

	repath(name string, prod *EOProduct, relPath []string) error
}

// object carries the shared identity of container and leaf nodes.
type object struct {
	name    string
	relPath []string
	product *EOProduct
	attrs   map[string]any
}

func newObject(name string) object {
	return object{name: name, attrs: map[string]any{}}
}

func (o *object) Name() string { return o.name }

func (o *object) Attrs() map[string]any { return o.attrs }

func (o *object) Product() *EOProduct { return o.product }

func (o *object) RelativePath() []string {
	rel := make([]string, len(o.relPath))
	copy(rel, o.relPath)
	return rel
}

// Path builds the absolute product path from the relative path and name.
// A detached node's path is just its name.
func (o *object) Path() string {
	if len(o.relPath) == 0 {
		return o.name
	}
	parts := append(o.RelativePath(), o.name)
	return pathutil.Join(parts...)
}

// repath attaches the object at a position in a product tree. Once
// attached, an object can not be moved under another product or renamed
// through reattachment.
func (o *object) repath(name string, prod *EOProduct, relPath []string) error {
	if o.product != nil {
		if o.name != "" && o.name != name {
			return fmt.Errorf("object %q can not be reattached as %q", o.name, name)
		}
		if o.product != prod {
			return fmt.Errorf("object %q is already owned by another product", o.name)
		}
	}
	o.name = name
	o.product = prod
	o.relPath = relPath
	return nil
}
