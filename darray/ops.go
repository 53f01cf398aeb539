package darray

import (
	"fmt"
	"math"
)

// binary builds a deferred element-wise node over two arrays of equal shape.
func (a *Array) binary(b *Array, eval func(dst, left, right []float64)) (*Array, error) {
	if !sameShape(a.shape, b.shape) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.shape, b.shape)
	}
	return &Array{
		shape:     a.Shape(),
		chunkSize: a.chunkSize,
		graph:     &opNode{eval: eval, left: a, right: b},
	}, nil
}

// unary builds a deferred element-wise node over a single array.
func (a *Array) unary(eval func(dst, left, right []float64)) *Array {
	return &Array{
		shape:     a.Shape(),
		chunkSize: a.chunkSize,
		graph:     &opNode{eval: eval, left: a},
	}
}

// Add returns a deferred element-wise sum.
func (a *Array) Add(b *Array) (*Array, error) {
	return a.binary(b, func(dst, l, r []float64) {
		for i := range dst {
			dst[i] = l[i] + r[i]
		}
	})
}

// Sub returns a deferred element-wise difference.
func (a *Array) Sub(b *Array) (*Array, error) {
	return a.binary(b, func(dst, l, r []float64) {
		for i := range dst {
			dst[i] = l[i] - r[i]
		}
	})
}

// Mul returns a deferred element-wise product.
func (a *Array) Mul(b *Array) (*Array, error) {
	return a.binary(b, func(dst, l, r []float64) {
		for i := range dst {
			dst[i] = l[i] * r[i]
		}
	})
}

// Div returns a deferred element-wise quotient. Division by zero follows
// IEEE 754 semantics (Inf/NaN), matching the underlying float64 math.
func (a *Array) Div(b *Array) (*Array, error) {
	return a.binary(b, func(dst, l, r []float64) {
		for i := range dst {
			dst[i] = l[i] / r[i]
		}
	})
}

// Mod returns a deferred element-wise floating point remainder.
func (a *Array) Mod(b *Array) (*Array, error) {
	return a.binary(b, func(dst, l, r []float64) {
		for i := range dst {
			dst[i] = math.Mod(l[i], r[i])
		}
	})
}

// Pow returns a deferred element-wise power.
func (a *Array) Pow(b *Array) (*Array, error) {
	return a.binary(b, func(dst, l, r []float64) {
		for i := range dst {
			dst[i] = math.Pow(l[i], r[i])
		}
	})
}

func boolVal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Eq returns a deferred element-wise equality mask (1.0 / 0.0).
func (a *Array) Eq(b *Array) (*Array, error) {
	return a.binary(b, func(dst, l, r []float64) {
		for i := range dst {
			dst[i] = boolVal(l[i] == r[i])
		}
	})
}

// Ne returns a deferred element-wise inequality mask.
func (a *Array) Ne(b *Array) (*Array, error) {
	return a.binary(b, func(dst, l, r []float64) {
		for i := range dst {
			dst[i] = boolVal(l[i] != r[i])
		}
	})
}

// Lt returns a deferred element-wise less-than mask.
func (a *Array) Lt(b *Array) (*Array, error) {
	return a.binary(b, func(dst, l, r []float64) {
		for i := range dst {
			dst[i] = boolVal(l[i] < r[i])
		}
	})
}

// Le returns a deferred element-wise less-or-equal mask.
func (a *Array) Le(b *Array) (*Array, error) {
	return a.binary(b, func(dst, l, r []float64) {
		for i := range dst {
			dst[i] = boolVal(l[i] <= r[i])
		}
	})
}

// Gt returns a deferred element-wise greater-than mask.
func (a *Array) Gt(b *Array) (*Array, error) {
	return a.binary(b, func(dst, l, r []float64) {
		for i := range dst {
			dst[i] = boolVal(l[i] > r[i])
		}
	})
}

// Ge returns a deferred element-wise greater-or-equal mask.
func (a *Array) Ge(b *Array) (*Array, error) {
	return a.binary(b, func(dst, l, r []float64) {
		for i := range dst {
			dst[i] = boolVal(l[i] >= r[i])
		}
	})
}

// AddScalar returns a deferred array with val added to every element.
func (a *Array) AddScalar(val float64) *Array {
	return a.unary(func(dst, l, _ []float64) {
		for i := range dst {
			dst[i] = l[i] + val
		}
	})
}

// Scale returns a deferred array with every element multiplied by val.
func (a *Array) Scale(val float64) *Array {
	return a.unary(func(dst, l, _ []float64) {
		for i := range dst {
			dst[i] = l[i] * val
		}
	})
}

// Neg returns a deferred element-wise negation.
func (a *Array) Neg() *Array {
	return a.unary(func(dst, l, _ []float64) {
		for i := range dst {
			dst[i] = -l[i]
		}
	})
}

// Abs returns a deferred element-wise absolute value.
func (a *Array) Abs() *Array {
	return a.unary(func(dst, l, _ []float64) {
		for i := range dst {
			dst[i] = math.Abs(l[i])
		}
	})
}

// MapBlocks returns a deferred array applying fn to each evaluation chunk.
// fn receives the destination chunk pre-filled with the source values.
func (a *Array) MapBlocks(fn func(block []float64)) *Array {
	return a.unary(func(dst, l, _ []float64) {
		copy(dst, l)
		fn(dst)
	})
}

// Sum computes the array and returns the sum of its elements.
func (a *Array) Sum() (float64, error) {
	d, err := a.Compute()
	if err != nil {
		return 0, err
	}
	return d.Sum(), nil
}

// Max computes the array and returns its maximum element.
func (a *Array) Max() (float64, error) {
	d, err := a.Compute()
	if err != nil {
		return 0, err
	}
	return d.Max(), nil
}
