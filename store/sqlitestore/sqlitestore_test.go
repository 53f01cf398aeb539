package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/CSC-DPR/eopf-cpm-sub000/darray"
	"github.com/CSC-DPR/eopf-cpm-sub000/store"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "product.db"))
	if err := s.Open(context.Background(), store.ModeReadWrite); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRootExistsAfterOpen(t *testing.T) {
	s := openStore(t)
	isGroup, err := s.IsGroup("/")
	if err != nil || !isGroup {
		t.Errorf("IsGroup(/) = %v, %v; want true, nil", isGroup, err)
	}
}

func TestVariableRoundTrip(t *testing.T) {
	s := openStore(t)
	data, _ := darray.New([]float64{1, 2, 3, 4, 5, 6}, 3, 2)
	node := store.VariableNode(data, []string{"row", "col"}, map[string]any{"unit": "m"})
	if err := s.Set("measurements/grid", node); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get("measurements/grid")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Kind != store.KindVariable {
		t.Fatalf("Kind = %v, want variable", got.Kind)
	}
	if len(got.Dims) != 2 || got.Dims[0] != "row" || got.Dims[1] != "col" {
		t.Errorf("Dims = %v, want [row col]", got.Dims)
	}
	if got.Attrs["unit"] != "m" {
		t.Errorf("Attrs[unit] = %v, want m", got.Attrs["unit"])
	}
	shape := got.Data.Shape()
	if len(shape) != 2 || shape[0] != 3 || shape[1] != 2 {
		t.Errorf("Shape = %v, want [3 2]", shape)
	}
	vals, err := got.Data.Values()
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	for i, want := range []float64{1, 2, 3, 4, 5, 6} {
		if vals[i] != want {
			t.Errorf("vals[%d] = %v, want %v", i, vals[i], want)
		}
	}

	// Intermediate groups were created implicitly.
	isGroup, err := s.IsGroup("/measurements")
	if err != nil || !isGroup {
		t.Errorf("IsGroup(/measurements) = %v, %v; want true, nil", isGroup, err)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "product.db")
	s := New(path)
	if err := s.Open(context.Background(), store.ModeReadWrite); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set("g", store.GroupNode(map[string]any{"k": "v"})); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2 := New(path)
	if err := s2.Open(context.Background(), store.ModeRead); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	node, err := s2.Get("g")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if node.Attrs["k"] != "v" {
		t.Errorf("Attrs[k] = %v, want v", node.Attrs["k"])
	}
}

func TestIterAndDelete(t *testing.T) {
	s := openStore(t)
	if err := s.Set("a/b", store.GroupNode(nil)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("a/c", store.GroupNode(nil)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	names, err := s.Iter("/a")
	if err != nil {
		t.Fatalf("Iter: %v", err)
	}
	if len(names) != 2 || names[0] != "b" || names[1] != "c" {
		t.Errorf("Iter(/a) = %v, want [b c]", names)
	}

	if err := s.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("a/b"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("descendant should be gone, got %v", err)
	}
	if err := s.Delete("a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestWriteAttrsMerges(t *testing.T) {
	s := openStore(t)
	if err := s.Set("g", store.GroupNode(map[string]any{"a": "1"})); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.WriteAttrs("/g", map[string]any{"b": "2"}); err != nil {
		t.Fatalf("WriteAttrs: %v", err)
	}
	node, err := s.Get("g")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if node.Attrs["a"] != "1" || node.Attrs["b"] != "2" {
		t.Errorf("Attrs = %v, want both a and b", node.Attrs)
	}
}

func TestClosedStoreOperations(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "product.db"))
	if _, err := s.Get("x"); !errors.Is(err, store.ErrStoreNotOpen) {
		t.Errorf("Get: got %v, want ErrStoreNotOpen", err)
	}
	if err := s.Close(); !errors.Is(err, store.ErrStoreAlreadyClosed) {
		t.Errorf("Close: got %v, want ErrStoreAlreadyClosed", err)
	}
}

func TestGuessCanRead(t *testing.T) {
	if !GuessCanRead("/data/product.db") || !GuessCanRead("file:///data/product.sqlite") {
		t.Error("sqlite URLs should be recognized")
	}
	if GuessCanRead("/data/product.zarr") {
		t.Error(".zarr path should not be recognized")
	}
}
