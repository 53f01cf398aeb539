// Package darray implements a lazily evaluated N-dimensional array on top
// of the sparse dense-array type. Arithmetic builds a deferred operation
// graph; nothing is evaluated until Compute is called, at which point
// element-wise work is fanned out across chunk ranges.
package darray

import (
	"fmt"
	"sync"

	"github.com/ctessum/sparse"
)

// DefaultChunkSize is the number of elements evaluated per worker chunk
// when no explicit chunking is configured. It can be tuned through the
// array configuration.
var DefaultChunkSize = 1 << 16

// Array is a chunked N-dimensional array. An Array is either materialized
// (data != nil) or deferred (graph != nil); Compute resolves a deferred
// Array and caches the result so repeated Compute calls are cheap.
type Array struct {
	shape     []int
	chunkSize int
	data      *sparse.DenseArray
	graph     *opNode
}

type opNode struct {
	eval func(dst, left, right []float64)
	// left is nil for generator nodes, right is nil for unary nodes.
	left, right *Array
	scalar      float64
	hasScalar   bool
}

// New creates a materialized array from a flat element slice and a shape.
func New(elements []float64, shape ...int) (*Array, error) {
	size := 1
	for _, n := range shape {
		if n < 0 {
			return nil, fmt.Errorf("invalid dimension length %d", n)
		}
		size *= n
	}
	if len(shape) == 0 {
		shape = []int{len(elements)}
		size = len(elements)
	}
	if len(elements) != size {
		return nil, fmt.Errorf("element count %d does not match shape %v", len(elements), shape)
	}
	d := sparse.ZerosDense(shape...)
	copy(d.Elements, elements)
	return FromDense(d), nil
}

// Zeros creates a materialized zero-filled array.
func Zeros(shape ...int) *Array {
	return FromDense(sparse.ZerosDense(shape...))
}

// FromDense wraps an existing dense array without copying.
func FromDense(d *sparse.DenseArray) *Array {
	shape := make([]int, len(d.Shape))
	copy(shape, d.Shape)
	return &Array{shape: shape, chunkSize: DefaultChunkSize, data: d}
}

// Shape returns the dimension lengths of the array.
func (a *Array) Shape() []int {
	shape := make([]int, len(a.shape))
	copy(shape, a.shape)
	return shape
}

// Ndim returns the number of dimensions.
func (a *Array) Ndim() int { return len(a.shape) }

// Size returns the total number of elements.
func (a *Array) Size() int {
	size := 1
	for _, n := range a.shape {
		size *= n
	}
	return size
}

// Chunk sets the evaluation chunk size in elements and returns the array.
func (a *Array) Chunk(size int) *Array {
	if size > 0 {
		a.chunkSize = size
	}
	return a
}

// ChunkSize returns the configured evaluation chunk size.
func (a *Array) ChunkSize() int { return a.chunkSize }

// Materialized reports whether the array already holds concrete data.
func (a *Array) Materialized() bool { return a.data != nil }

// Compute evaluates the deferred graph, caches and returns the resulting
// dense array. Materialized arrays are returned as-is.
func (a *Array) Compute() (*sparse.DenseArray, error) {
	if a.data != nil {
		return a.data, nil
	}
	var left, right []float64
	if a.graph.left != nil {
		l, err := a.graph.left.Compute()
		if err != nil {
			return nil, err
		}
		left = l.Elements
	}
	if a.graph.right != nil {
		r, err := a.graph.right.Compute()
		if err != nil {
			return nil, err
		}
		right = r.Elements
	}
	out := sparse.ZerosDense(a.shape...)
	evalChunked(a.chunkSize, a.graph.eval, out.Elements, left, right)
	a.data = out
	a.graph = nil
	return out, nil
}

// Values computes the array and returns its flat elements.
func (a *Array) Values() ([]float64, error) {
	d, err := a.Compute()
	if err != nil {
		return nil, err
	}
	return d.Elements, nil
}

// Get computes the array and returns the element at the given index.
func (a *Array) Get(index ...int) (float64, error) {
	d, err := a.Compute()
	if err != nil {
		return 0, err
	}
	if err := d.CheckIndex(index); err != nil {
		return 0, err
	}
	return d.Get(index...), nil
}

// Set writes an element. The array is computed first if deferred.
func (a *Array) Set(val float64, index ...int) error {
	d, err := a.Compute()
	if err != nil {
		return err
	}
	if err := d.CheckIndex(index); err != nil {
		return err
	}
	d.Set(val, index...)
	return nil
}

// Copy returns a materialized deep copy of the array.
func (a *Array) Copy() (*Array, error) {
	d, err := a.Compute()
	if err != nil {
		return nil, err
	}
	return FromDense(d.Copy()), nil
}

// Equal computes both arrays and reports element-wise equality.
func (a *Array) Equal(b *Array) (bool, error) {
	if !sameShape(a.shape, b.shape) {
		return false, nil
	}
	av, err := a.Values()
	if err != nil {
		return false, err
	}
	bv, err := b.Values()
	if err != nil {
		return false, err
	}
	for i := range av {
		if av[i] != bv[i] {
			return false, nil
		}
	}
	return true, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// evalChunked applies eval to chunk ranges of dst concurrently. left and
// right may be nil depending on the operation arity.
func evalChunked(chunkSize int, eval func(dst, left, right []float64), dst, left, right []float64) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var wg sync.WaitGroup
	for begin := 0; begin < len(dst); begin += chunkSize {
		end := begin + chunkSize
		if end > len(dst) {
			end = len(dst)
		}
		wg.Add(1)
		go func(begin, end int) {
			defer wg.Done()
			eval(dst[begin:end], slice(left, begin, end), slice(right, begin, end))
		}(begin, end)
	}
	wg.Wait()
}

func slice(v []float64, begin, end int) []float64 {
	if v == nil {
		return nil
	}
	return v[begin:end]
}
