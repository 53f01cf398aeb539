package product

import (
	"errors"
	"testing"

	"github.com/CSC-DPR/eopf-cpm-sub000/store"
)

func TestGetCoordinateDeepestWins(t *testing.T) {
	p := New("test")
	shallow, err := p.AddVariable("coordinates/x", testData(t, 0), []string{"c"}, nil)
	if err != nil {
		t.Fatalf("AddVariable: %v", err)
	}
	deep, err := p.AddVariable("coordinates/measurements/geo/x", testData(t, 1), []string{"c"}, nil)
	if err != nil {
		t.Fatalf("AddVariable: %v", err)
	}

	got, err := p.GetCoordinate("x", "/measurements/geo")
	if err != nil {
		t.Fatalf("GetCoordinate: %v", err)
	}
	if got != deep {
		t.Error("deepest coordinate should win")
	}

	// A context outside the deep subtree falls back to the root one.
	got, err = p.GetCoordinate("x", "/conditions")
	if err != nil {
		t.Fatalf("GetCoordinate: %v", err)
	}
	if got != shallow {
		t.Error("shallow coordinate should be inherited")
	}
}

func TestGetCoordinateMissing(t *testing.T) {
	p := New("test")
	if _, err := p.GetCoordinate("x", "/measurements"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestVariableGetCoordinate(t *testing.T) {
	p := New("test")
	x, err := p.AddVariable("coordinates/measurements/x", testData(t, 1, 2), []string{"c"}, nil)
	if err != nil {
		t.Fatalf("AddVariable: %v", err)
	}
	v, err := p.AddVariable("measurements/radiance", testData(t, 5, 6), []string{"c"}, nil)
	if err != nil {
		t.Fatalf("AddVariable: %v", err)
	}

	got, err := v.GetCoordinate("x")
	if err != nil {
		t.Fatalf("GetCoordinate: %v", err)
	}
	if got != x {
		t.Error("variable should inherit the coordinate along its path")
	}

	detached, err := NewVariable("lonely", testData(t, 1), []string{"c"}, nil)
	if err != nil {
		t.Fatalf("NewVariable: %v", err)
	}
	if _, err := detached.GetCoordinate("x"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("detached variable: got %v, want ErrNotFound", err)
	}
}

type staticResolver struct {
	calls   int
	records map[string][]ShortNameRecord
}

func (r *staticResolver) ShortNames(productType string) ([]ShortNameRecord, error) {
	r.calls++
	records, ok := r.records[productType]
	if !ok {
		return nil, store.ErrNotFound
	}
	return records, nil
}

func TestShortNameTranslation(t *testing.T) {
	resolver := &staticResolver{records: map[string][]ShortNameRecord{
		"S3_OL_1_EFR": {{ShortName: "radiance", TargetPath: "/measurements/radiance"}},
	}}
	p := New("test", WithMappingResolver(resolver), WithType("S3_OL_1_EFR"))

	v, err := p.AddVariable("measurements/radiance", testData(t, 1), []string{"x"}, nil)
	if err != nil {
		t.Fatalf("AddVariable: %v", err)
	}
	got, err := p.Get("radiance")
	if err != nil {
		t.Fatalf("Get by short name: %v", err)
	}
	if got != Object(v) {
		t.Error("short name should resolve to the aliased variable")
	}
	if !p.Has("radiance") {
		t.Error("Has should honor short names")
	}

	if err := p.Delete("radiance"); err != nil {
		t.Fatalf("Delete by short name: %v", err)
	}
	if p.Has("radiance") {
		t.Error("deleted alias target should be gone")
	}
	if _, err := p.GetVariable("measurements/radiance"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("target after delete: got %v, want ErrNotFound", err)
	}
}

func TestShortNameRecordsWithoutTargetSkipped(t *testing.T) {
	resolver := &staticResolver{records: map[string][]ShortNameRecord{
		"S3_OL_1_EFR": {
			{ShortName: "radiance", TargetPath: "/measurements/radiance"},
			{ShortName: "broken", TargetPath: ""},
			{ShortName: "root", TargetPath: "/"},
			{ShortName: "", TargetPath: "/measurements/orphan"},
		},
	}}
	p := New("test", WithMappingResolver(resolver), WithType("S3_OL_1_EFR"))

	names := p.ShortNames()
	if len(names) != 1 || names["radiance"] != "/measurements/radiance" {
		t.Errorf("ShortNames = %v, want only the radiance alias", names)
	}
	// An alias without a target passes through as a plain key.
	if _, err := p.Get("broken"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unusable alias: got %v, want ErrNotFound", err)
	}
}

func TestShortNamesRebuildLazily(t *testing.T) {
	resolver := &staticResolver{records: map[string][]ShortNameRecord{
		"A": {{ShortName: "a", TargetPath: "/measurements/a"}},
		"B": {{ShortName: "b", TargetPath: "/measurements/b"}},
	}}
	p := New("test", WithMappingResolver(resolver), WithType("A"))

	if got := p.ShortNames(); got["a"] != "/measurements/a" {
		t.Fatalf("ShortNames = %v, want alias a", got)
	}
	calls := resolver.calls

	// No rebuild while the type is unchanged.
	p.ShortNames()
	if resolver.calls != calls {
		t.Error("unchanged type should not trigger a rebuild")
	}

	// Changing the type invalidates, rebuild happens on next access.
	p.SetType("B")
	if resolver.calls != calls {
		t.Error("rebuild should be deferred until the table is consulted")
	}
	if got := p.ShortNames(); got["b"] != "/measurements/b" {
		t.Errorf("ShortNames = %v, want alias b", got)
	}
	if resolver.calls != calls+1 {
		t.Errorf("resolver calls = %d, want %d", resolver.calls, calls+1)
	}
}
