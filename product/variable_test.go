package product

import (
	"errors"
	"testing"

	"github.com/CSC-DPR/eopf-cpm-sub000/darray"
	"github.com/CSC-DPR/eopf-cpm-sub000/store"
)

func TestNewVariableDefaults(t *testing.T) {
	v, err := NewVariable("empty", nil, nil, nil)
	if err != nil {
		t.Fatalf("NewVariable: %v", err)
	}
	if v.Data().Ndim() != 0 {
		t.Errorf("nil data should yield a scalar, got ndim %d", v.Data().Ndim())
	}

	data, _ := darray.New([]float64{1, 2, 3, 4}, 2, 2)
	v, err = NewVariable("auto", data, nil, nil)
	if err != nil {
		t.Fatalf("NewVariable: %v", err)
	}
	dims := v.Dims()
	if len(dims) != 2 || dims[0] != "dim_0" || dims[1] != "dim_1" {
		t.Errorf("Dims = %v, want auto-derived names", dims)
	}
}

func TestNewVariableDimMismatch(t *testing.T) {
	data, _ := darray.New([]float64{1, 2}, 2)
	if _, err := NewVariable("bad", data, []string{"a", "b"}, nil); !errors.Is(err, store.ErrTypeMismatch) {
		t.Errorf("got %v, want ErrTypeMismatch", err)
	}
}

func TestAssignDims(t *testing.T) {
	data, _ := darray.New([]float64{1, 2, 3}, 3)
	v, _ := NewVariable("v", data, nil, nil)
	if err := v.AssignDims([]string{"col"}); err != nil {
		t.Fatalf("AssignDims: %v", err)
	}
	if v.Dims()[0] != "col" {
		t.Errorf("Dims = %v, want [col]", v.Dims())
	}
	if err := v.AssignDims([]string{"a", "b"}); !errors.Is(err, store.ErrTypeMismatch) {
		t.Errorf("got %v, want ErrTypeMismatch", err)
	}
}

func TestVariableArithmeticIsDeferred(t *testing.T) {
	a, _ := NewVariable("a", testData(t, 1, 2, 3), []string{"x"}, nil)
	b, _ := NewVariable("b", testData(t, 10, 20, 30), []string{"x"}, nil)

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sum.Data().Materialized() {
		t.Error("result should stay deferred until Compute")
	}
	if sum.Product() != nil {
		t.Error("result should be detached")
	}
	if err := sum.Compute(); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	vals, err := sum.Data().Values()
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	for i, want := range []float64{11, 22, 33} {
		if vals[i] != want {
			t.Errorf("vals[%d] = %v, want %v", i, vals[i], want)
		}
	}
	// The operands are untouched.
	avals, _ := a.Data().Values()
	if avals[0] != 1 {
		t.Error("operand should be unchanged")
	}
}

func TestVariableShapeMismatch(t *testing.T) {
	a, _ := NewVariable("a", testData(t, 1, 2), []string{"x"}, nil)
	b, _ := NewVariable("b", testData(t, 1, 2, 3), []string{"x"}, nil)
	if _, err := a.Add(b); err == nil {
		t.Error("expected shape mismatch error")
	}
}

func TestVariableInPlaceOps(t *testing.T) {
	a, _ := NewVariable("a", testData(t, 2, 4), []string{"x"}, nil)
	b, _ := NewVariable("b", testData(t, 1, 1), []string{"x"}, nil)
	if err := a.IAdd(b); err != nil {
		t.Fatalf("IAdd: %v", err)
	}
	vals, err := a.Data().Values()
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if vals[0] != 3 || vals[1] != 5 {
		t.Errorf("vals = %v, want [3 5]", vals)
	}
}

func TestVariableComparisonAndScalarOps(t *testing.T) {
	a, _ := NewVariable("a", testData(t, 1, 5), []string{"x"}, nil)
	b, _ := NewVariable("b", testData(t, 3, 3), []string{"x"}, nil)

	mask, err := a.Gt(b)
	if err != nil {
		t.Fatalf("Gt: %v", err)
	}
	vals, _ := mask.Data().Values()
	if vals[0] != 0 || vals[1] != 1 {
		t.Errorf("mask = %v, want [0 1]", vals)
	}

	scaled := a.Scale(10).AddScalar(1)
	vals, _ = scaled.Data().Values()
	if vals[0] != 11 || vals[1] != 51 {
		t.Errorf("scaled = %v, want [11 51]", vals)
	}
}

func TestWriteAttrsOnGroup(t *testing.T) {
	p := openProduct(t)
	g, err := p.AddGroup("measurements")
	if err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	if err := g.WriteAttrs(map[string]any{"sensor": "olci"}); err != nil {
		t.Fatalf("WriteAttrs: %v", err)
	}
	if g.Attrs()["sensor"] != "olci" {
		t.Error("local attrs should be updated")
	}
	node, err := p.Store().Get("measurements")
	if err != nil {
		t.Fatalf("store Get: %v", err)
	}
	if node.Attrs["sensor"] != "olci" {
		t.Error("persisted attrs should be updated")
	}
}
