package darray

import (
	"math"
	"testing"
)

func TestNewShapeValidation(t *testing.T) {
	if _, err := New([]float64{1, 2, 3}, 2, 2); err == nil {
		t.Error("expected error for mismatched shape")
	}
	a, err := New([]float64{1, 2, 3, 4}, 2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Ndim() != 2 || a.Size() != 4 {
		t.Errorf("got ndim=%d size=%d, want 2 and 4", a.Ndim(), a.Size())
	}
}

func TestNewDefaultShape(t *testing.T) {
	a, err := New([]float64{1, 2, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := a.Shape(); len(got) != 1 || got[0] != 3 {
		t.Errorf("Shape() = %v, want [3]", got)
	}
}

func TestDeferredEvaluation(t *testing.T) {
	a, _ := New([]float64{1, 2, 3, 4}, 2, 2)
	b, _ := New([]float64{10, 20, 30, 40}, 2, 2)

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sum.Materialized() {
		t.Error("Add result should be deferred until Compute")
	}

	vals, err := sum.Values()
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	want := []float64{11, 22, 33, 44}
	for i := range want {
		if vals[i] != want[i] {
			t.Errorf("vals[%d] = %v, want %v", i, vals[i], want[i])
		}
	}
	if !sum.Materialized() {
		t.Error("Compute should cache the materialized result")
	}
}

func TestShapeMismatch(t *testing.T) {
	a, _ := New([]float64{1, 2}, 2)
	b, _ := New([]float64{1, 2, 3}, 3)
	if _, err := a.Add(b); err == nil {
		t.Error("expected shape mismatch error")
	}
}

func TestOperatorChain(t *testing.T) {
	a, _ := New([]float64{1, 2, 3, 4}, 4)
	b, _ := New([]float64{4, 3, 2, 1}, 4)

	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	scaled := diff.Scale(2).Abs()
	vals, err := scaled.Values()
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	want := []float64{6, 2, 2, 6}
	for i := range want {
		if vals[i] != want[i] {
			t.Errorf("vals[%d] = %v, want %v", i, vals[i], want[i])
		}
	}
}

func TestComparisonMasks(t *testing.T) {
	a, _ := New([]float64{1, 5, 3}, 3)
	b, _ := New([]float64{2, 5, 1}, 3)

	lt, _ := a.Lt(b)
	eq, _ := a.Eq(b)
	ltVals, _ := lt.Values()
	eqVals, _ := eq.Values()

	wantLt := []float64{1, 0, 0}
	wantEq := []float64{0, 1, 0}
	for i := range wantLt {
		if ltVals[i] != wantLt[i] {
			t.Errorf("Lt[%d] = %v, want %v", i, ltVals[i], wantLt[i])
		}
		if eqVals[i] != wantEq[i] {
			t.Errorf("Eq[%d] = %v, want %v", i, eqVals[i], wantEq[i])
		}
	}
}

func TestDivByZero(t *testing.T) {
	a, _ := New([]float64{1}, 1)
	b, _ := New([]float64{0}, 1)
	q, _ := a.Div(b)
	vals, err := q.Values()
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if !math.IsInf(vals[0], 1) {
		t.Errorf("1/0 = %v, want +Inf", vals[0])
	}
}

func TestChunkedCompute(t *testing.T) {
	n := 1000
	elems := make([]float64, n)
	for i := range elems {
		elems[i] = float64(i)
	}
	a, _ := New(elems, n)
	doubled := a.Chunk(64).Scale(2)
	vals, err := doubled.Values()
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	for i := range vals {
		if vals[i] != float64(2*i) {
			t.Fatalf("vals[%d] = %v, want %v", i, vals[i], float64(2*i))
		}
	}
}

func TestMapBlocks(t *testing.T) {
	a, _ := New([]float64{1, 2, 3}, 3)
	sq := a.MapBlocks(func(block []float64) {
		for i := range block {
			block[i] *= block[i]
		}
	})
	vals, _ := sq.Values()
	want := []float64{1, 4, 9}
	for i := range want {
		if vals[i] != want[i] {
			t.Errorf("vals[%d] = %v, want %v", i, vals[i], want[i])
		}
	}
}

func TestGetSet(t *testing.T) {
	a := Zeros(2, 2)
	if err := a.Set(7, 1, 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := a.Get(1, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 7 {
		t.Errorf("Get(1,1) = %v, want 7", v)
	}
	if _, err := a.Get(5, 5); err == nil {
		t.Error("expected out-of-bounds error")
	}
}

func TestEqual(t *testing.T) {
	a, _ := New([]float64{1, 2}, 2)
	b, _ := New([]float64{1, 2}, 2)
	c, _ := New([]float64{1, 3}, 2)

	if eq, _ := a.Equal(b); !eq {
		t.Error("a should equal b")
	}
	if eq, _ := a.Equal(c); eq {
		t.Error("a should not equal c")
	}
}
