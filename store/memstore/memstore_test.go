package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/CSC-DPR/eopf-cpm-sub000/darray"
	"github.com/CSC-DPR/eopf-cpm-sub000/store"
)

func openStore(t *testing.T, mode store.Mode) *Store {
	t.Helper()
	s := New("mem://test")
	if err := s.Open(context.Background(), mode); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestOpenCloseLifecycle(t *testing.T) {
	s := New("mem://test")
	if s.Status() != store.StatusClose {
		t.Error("new store should be closed")
	}
	if _, err := s.Get("x"); !errors.Is(err, store.ErrStoreNotOpen) {
		t.Errorf("Get on closed store: got %v, want ErrStoreNotOpen", err)
	}
	if err := s.Open(context.Background(), store.ModeReadWrite); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Status() != store.StatusOpen {
		t.Error("store should be open")
	}
	// Reopen is a warning, not an error.
	if err := s.Open(context.Background(), store.ModeRead); err != nil {
		t.Errorf("reopen: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); !errors.Is(err, store.ErrStoreAlreadyClosed) {
		t.Errorf("double close: got %v, want ErrStoreAlreadyClosed", err)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	s := openStore(t, store.ModeReadWrite)
	data, _ := darray.New([]float64{1, 2, 3, 4}, 2, 2)
	err := s.Set("measurements/image", store.VariableNode(data, []string{"y", "x"}, map[string]any{"unit": "K"}))
	if err != nil {
		t.Fatalf("Set: %v", err)
	}

	node, err := s.Get("measurements/image")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if node.Kind != store.KindVariable {
		t.Errorf("Kind = %v, want variable", node.Kind)
	}
	if node.Attrs["unit"] != "K" {
		t.Errorf("Attrs[unit] = %v, want K", node.Attrs["unit"])
	}

	// Intermediate groups are created implicitly.
	isGroup, err := s.IsGroup("/measurements")
	if err != nil || !isGroup {
		t.Errorf("IsGroup(/measurements) = %v, %v; want true, nil", isGroup, err)
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t, store.ModeReadWrite)
	if _, err := s.Get("nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestIter(t *testing.T) {
	s := openStore(t, store.ModeReadWrite)
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

	root, err := s.Iter("/")
	if err != nil {
		t.Fatalf("Iter root: %v", err)
	}
	if len(root) != 1 || root[0] != "a" {
		t.Errorf("Iter(/) = %v, want [a]", root)
	}

	if _, err := s.Iter("/missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Iter missing: got %v, want ErrNotFound", err)
	}
}

func TestIterOnVariable(t *testing.T) {
	s := openStore(t, store.ModeReadWrite)
	data, _ := darray.New([]float64{1}, 1)
	if err := s.Set("v", store.VariableNode(data, nil, nil)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := s.Iter("/v"); !errors.Is(err, store.ErrTypeMismatch) {
		t.Errorf("got %v, want ErrTypeMismatch", err)
	}
}

func TestDeleteSubtree(t *testing.T) {
	s := openStore(t, store.ModeReadWrite)
	if err := s.Set("a/b/c", store.GroupNode(nil)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("a/b/c"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("descendant should be gone, got %v", err)
	}
	if err := s.Delete("a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	s := openStore(t, store.ModeRead)
	if err := s.Set("x", store.GroupNode(nil)); err == nil {
		t.Error("Set on read-only store should fail")
	}
	if err := s.Delete("x"); err == nil {
		t.Error("Delete on read-only store should fail")
	}
}

func TestWriteAttrsMerges(t *testing.T) {
	s := openStore(t, store.ModeReadWrite)
	if err := s.Set("g", store.GroupNode(map[string]any{"a": 1})); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.WriteAttrs("/g", map[string]any{"b": 2}); err != nil {
		t.Fatalf("WriteAttrs: %v", err)
	}
	node, err := s.Get("g")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if node.Attrs["a"] != 1 || node.Attrs["b"] != 2 {
		t.Errorf("Attrs = %v, want both a and b", node.Attrs)
	}
}

func TestIsGroupIsVariableMissingPath(t *testing.T) {
	s := openStore(t, store.ModeReadWrite)
	isGroup, err := s.IsGroup("/ghost")
	if err != nil || isGroup {
		t.Errorf("IsGroup(ghost) = %v, %v; want false, nil", isGroup, err)
	}
	isVar, err := s.IsVariable("/ghost")
	if err != nil || isVar {
		t.Errorf("IsVariable(ghost) = %v, %v; want false, nil", isVar, err)
	}
}

func TestGuessCanRead(t *testing.T) {
	if !GuessCanRead("mem://anything") {
		t.Error("mem:// URL should be recognized")
	}
	if GuessCanRead("/tmp/product.zarr") {
		t.Error("filesystem path should not be recognized")
	}
}
