package product

import (
	"fmt"
	"sort"

	"github.com/CSC-DPR/eopf-cpm-sub000/store"
)

// EOGroup is an inner node of the product tree. It holds subgroups, a
// dataset of named variables and its own attributes. Child access is
// path addressed and falls back to the product store for children not
// yet materialized.
type EOGroup struct {
	object
	container
	dataset map[string]*EOVariable
}

// NewGroup creates a detached group that can later be attached with Set
// or AddGroup.
func NewGroup(name string, attrs map[string]any) *EOGroup {
	return newDetachedGroup(name, attrs)
}

func newDetachedGroup(name string, attrs map[string]any) *EOGroup {
	g := &EOGroup{object: newObject(name), dataset: map[string]*EOVariable{}}
	g.container.init(g)
	for key, value := range attrs {
		g.attrs[key] = value
	}
	return g
}

func (g *EOGroup) localVariable(name string) (*EOVariable, bool) {
	v, ok := g.dataset[name]
	return v, ok
}

func (g *EOGroup) setLocalVariable(name string, v *EOVariable) error {
	g.dataset[name] = v
	return nil
}

func (g *EOGroup) deleteLocalVariable(name string) bool {
	if _, ok := g.dataset[name]; !ok {
		return false
	}
	delete(g.dataset, name)
	return true
}

func (g *EOGroup) variableNames() []string {
	names := make([]string, 0, len(g.dataset))
	for name := range g.dataset {
		names = append(names, name)
	}
	return names
}

func (g *EOGroup) writeLocalVariables(st store.Store) error {
	for name, v := range g.dataset {
		storeKey, err := g.relativeKey(name)
		if err != nil {
			return err
		}
		if err := st.Set(storeKey, store.VariableNode(v.data, v.dims, v.attrs)); err != nil {
			return err
		}
	}
	return nil
}

// Variables returns the materialized dataset variables sorted by name.
func (g *EOGroup) Variables() []*EOVariable {
	names := g.variableNames()
	sort.Strings(names)
	vars := make([]*EOVariable, 0, len(names))
	for _, name := range names {
		vars = append(vars, g.dataset[name])
	}
	return vars
}

// WriteAttrs merges attrs into the group attributes and, when the store
// is open, into the persisted attributes as well.
func (g *EOGroup) WriteAttrs(attrs map[string]any) error {
	for key, value := range attrs {
		g.attrs[key] = value
	}
	if st, ok := g.openStore(); ok {
		return st.WriteAttrs(g.Path(), attrs)
	}
	return nil
}

func (g *EOGroup) String() string {
	return fmt.Sprintf("[EOGroup %s]", g.Path())
}
