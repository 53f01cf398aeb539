package product

import (
	"fmt"

	"github.com/CSC-DPR/eopf-cpm-sub000/darray"
	"github.com/CSC-DPR/eopf-cpm-sub000/metrics"
	"github.com/CSC-DPR/eopf-cpm-sub000/store"
)

// EOVariable is a leaf node wrapping exactly one chunked N-dimensional
// array plus its dimension names and attributes. Arithmetic delegates to
// the deferred array engine: results are new detached variables and
// nothing is evaluated until Compute is called.
type EOVariable struct {
	object
	data *darray.Array
	dims []string
}

// NewVariable creates a detached variable. When dims is empty, dimension
// names are auto-derived as dim_0..dim_n from the array rank. A nil data
// argument yields an empty zero-dimensional variable.
func NewVariable(name string, data *darray.Array, dims []string, attrs map[string]any) (*EOVariable, error) {
	if data == nil {
		data = darray.Zeros()
	}
	if len(dims) == 0 {
		dims = defaultDims(data.Ndim())
	}
	if len(dims) != data.Ndim() {
		return nil, fmt.Errorf("%w: %d dimension names for %d dimensions", store.ErrTypeMismatch, len(dims), data.Ndim())
	}
	v := &EOVariable{object: newObject(name), data: data, dims: dims}
	for key, value := range attrs {
		v.attrs[key] = value
	}
	return v, nil
}

func defaultDims(ndim int) []string {
	dims := make([]string, ndim)
	for i := range dims {
		dims[i] = fmt.Sprintf("dim_%d", i)
	}
	return dims
}

// Data returns the wrapped deferred array.
func (v *EOVariable) Data() *darray.Array { return v.data }

// Dims returns the dimension names of the variable.
func (v *EOVariable) Dims() []string {
	dims := make([]string, len(v.dims))
	copy(dims, v.dims)
	return dims
}

// AssignDims renames the variable dimensions. The number of names must
// match the array rank.
func (v *EOVariable) AssignDims(dims []string) error {
	if len(dims) != v.data.Ndim() {
		return fmt.Errorf("%w: %d dimension names for %d dimensions", store.ErrTypeMismatch, len(dims), v.data.Ndim())
	}
	v.dims = append([]string(nil), dims...)
	return nil
}

// Compute materializes the wrapped array in place.
func (v *EOVariable) Compute() error {
	_, err := v.data.Compute()
	if err == nil {
		metrics.ComputeRunsTotal.Inc()
	}
	return err
}

// Chunk sets the evaluation chunk size of the wrapped array.
func (v *EOVariable) Chunk(size int) *EOVariable {
	v.data.Chunk(size)
	return v
}

// GetCoordinate resolves a coordinate for this variable considering
// coordinate inheritance along its path.
func (v *EOVariable) GetCoordinate(name string) (*EOVariable, error) {
	if v.product == nil {
		return nil, fmt.Errorf("%w: variable %q is not attached to a product", store.ErrNotFound, v.name)
	}
	return v.product.GetCoordinate(name, v.Path())
}

// binaryOp wraps a darray binary operation into a new detached variable
// carrying this variable's dimension names.
func (v *EOVariable) binaryOp(other *EOVariable, op func(*darray.Array, *darray.Array) (*darray.Array, error)) (*EOVariable, error) {
	out, err := op(v.data, other.data)
	if err != nil {
		return nil, err
	}
	return NewVariable("", out, v.Dims(), nil)
}

func (v *EOVariable) unaryOp(out *darray.Array) *EOVariable {
	res, _ := NewVariable("", out, v.Dims(), nil)
	return res
}

// Add returns a new variable holding the deferred element-wise sum.
func (v *EOVariable) Add(other *EOVariable) (*EOVariable, error) {
	return v.binaryOp(other, (*darray.Array).Add)
}

// Sub returns a new variable holding the deferred element-wise difference.
func (v *EOVariable) Sub(other *EOVariable) (*EOVariable, error) {
	return v.binaryOp(other, (*darray.Array).Sub)
}

// Mul returns a new variable holding the deferred element-wise product.
func (v *EOVariable) Mul(other *EOVariable) (*EOVariable, error) {
	return v.binaryOp(other, (*darray.Array).Mul)
}

// Div returns a new variable holding the deferred element-wise quotient.
func (v *EOVariable) Div(other *EOVariable) (*EOVariable, error) {
	return v.binaryOp(other, (*darray.Array).Div)
}

// Mod returns a new variable holding the deferred element-wise remainder.
func (v *EOVariable) Mod(other *EOVariable) (*EOVariable, error) {
	return v.binaryOp(other, (*darray.Array).Mod)
}

// Pow returns a new variable holding the deferred element-wise power.
func (v *EOVariable) Pow(other *EOVariable) (*EOVariable, error) {
	return v.binaryOp(other, (*darray.Array).Pow)
}

// Eq returns a deferred element-wise equality mask.
func (v *EOVariable) Eq(other *EOVariable) (*EOVariable, error) {
	return v.binaryOp(other, (*darray.Array).Eq)
}

// Ne returns a deferred element-wise inequality mask.
func (v *EOVariable) Ne(other *EOVariable) (*EOVariable, error) {
	return v.binaryOp(other, (*darray.Array).Ne)
}

// Lt returns a deferred element-wise less-than mask.
func (v *EOVariable) Lt(other *EOVariable) (*EOVariable, error) {
	return v.binaryOp(other, (*darray.Array).Lt)
}

// Le returns a deferred element-wise less-or-equal mask.
func (v *EOVariable) Le(other *EOVariable) (*EOVariable, error) {
	return v.binaryOp(other, (*darray.Array).Le)
}

// Gt returns a deferred element-wise greater-than mask.
func (v *EOVariable) Gt(other *EOVariable) (*EOVariable, error) {
	return v.binaryOp(other, (*darray.Array).Gt)
}

// Ge returns a deferred element-wise greater-or-equal mask.
func (v *EOVariable) Ge(other *EOVariable) (*EOVariable, error) {
	return v.binaryOp(other, (*darray.Array).Ge)
}

// AddScalar returns a new variable with val added to every element.
func (v *EOVariable) AddScalar(val float64) *EOVariable {
	return v.unaryOp(v.data.AddScalar(val))
}

// Scale returns a new variable with every element multiplied by val.
func (v *EOVariable) Scale(val float64) *EOVariable {
	return v.unaryOp(v.data.Scale(val))
}

// Neg returns a new variable with every element negated.
func (v *EOVariable) Neg() *EOVariable {
	return v.unaryOp(v.data.Neg())
}

// Abs returns a new variable with the element-wise absolute value.
func (v *EOVariable) Abs() *EOVariable {
	return v.unaryOp(v.data.Abs())
}

// IAdd adds other into this variable in place: the wrapped array
// reference is replaced by the deferred result, the identity of the
// variable is unchanged.
func (v *EOVariable) IAdd(other *EOVariable) error {
	out, err := v.data.Add(other.data)
	if err != nil {
		return err
	}
	v.data = out
	return nil
}

// ISub subtracts other from this variable in place.
func (v *EOVariable) ISub(other *EOVariable) error {
	out, err := v.data.Sub(other.data)
	if err != nil {
		return err
	}
	v.data = out
	return nil
}

// IMul multiplies this variable by other in place.
func (v *EOVariable) IMul(other *EOVariable) error {
	out, err := v.data.Mul(other.data)
	if err != nil {
		return err
	}
	v.data = out
	return nil
}

// IDiv divides this variable by other in place.
func (v *EOVariable) IDiv(other *EOVariable) error {
	out, err := v.data.Div(other.data)
	if err != nil {
		return err
	}
	v.data = out
	return nil
}

func (v *EOVariable) String() string {
	return fmt.Sprintf("[EOVariable %s %v]", v.Path(), v.data.Shape())
}
