// Package stack provides the dense numeric array type shared by every stage
// of the SED processing pipeline, together with the error values used to
// classify precondition violations and per-frame numeric failures.
//
// Detector data moves through the pipeline as Array values: a row-major
// float64 buffer, an explicit shape, and an optional per-element validity
// mask. The mask follows the detector convention where true marks an
// excluded element, so an Array with a nil mask is fully valid.
package stack

import (
	"errors"
	"fmt"
)

// Error values used across the pipeline. Stack-level precondition violations
// (shape, alignment, configuration) abort a run; per-frame numeric failures
// are wrapped in FrameError and collected so the batch can continue.
var (
	// ErrShape reports an array whose rank or dimensions violate a
	// component precondition.
	ErrShape = errors.New("shape error")

	// ErrDimensionMismatch reports two index-aligned sequences of
	// different lengths, e.g. frames vs. beam centers.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidArgument reports a missing or malformed required
	// parameter, e.g. an unset scan index range.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidConfiguration reports an unknown configuration selector,
	// e.g. an unrecognized orientation method name.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrOutOfBounds reports a trim window that leaves the source frame.
	ErrOutOfBounds = errors.New("out of bounds")

	// ErrDegenerate reports a numeric degeneracy such as zero total
	// intensity feeding a fit or an eigendecomposition.
	ErrDegenerate = errors.New("degenerate computation")
)

// FrameError records a computation failure isolated to a single frame. The
// corresponding output slot holds NaN and the batch continues; the caller
// decides how to report missing entries.
type FrameError struct {
	// Index is the position of the failed frame in the flattened stack.
	Index int

	// Err is the underlying failure, wrapping one of the package error
	// values so callers can match it with errors.Is.
	Err error
}

func (e FrameError) Error() string {
	return fmt.Sprintf("frame %d: %v", e.Index, e.Err)
}

func (e FrameError) Unwrap() error {
	return e.Err
}

// Array is a dense row-major numeric array with an optional validity mask.
// Mask[i] == true marks Data[i] as excluded; a nil Mask means every element
// is valid. All pipeline components treat the (values, mask) pair as one
// unit and propagate the mask alongside the data.
type Array struct {
	// Shape holds the dimensions, outermost first.
	Shape []int

	// Data holds the elements in row-major order; len(Data) equals the
	// product of Shape.
	Data []float64

	// Mask marks excluded elements (true = excluded). Either nil or the
	// same length as Data.
	Mask []bool
}

// Size returns the number of elements implied by a shape. An empty shape
// yields 0.
func Size(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// New allocates an unmasked array of the given shape, zero filled.
func New(shape ...int) *Array {
	return &Array{
		Shape: shape,
		Data:  make([]float64, Size(shape)),
	}
}

// NewMasked allocates an array of the given shape with an all-valid mask.
func NewMasked(shape ...int) *Array {
	a := New(shape...)
	a.Mask = make([]bool, len(a.Data))
	return a
}

// Rank returns the number of dimensions.
func (a *Array) Rank() int {
	return len(a.Shape)
}

// Len returns the total number of elements.
func (a *Array) Len() int {
	return len(a.Data)
}

// Masked reports whether the array carries a validity mask.
func (a *Array) Masked() bool {
	return a.Mask != nil
}

// EnsureMask returns the validity mask, allocating an all-valid one if the
// array was unmasked.
func (a *Array) EnsureMask() []bool {
	if a.Mask == nil {
		a.Mask = make([]bool, len(a.Data))
	}
	return a.Mask
}

// WithShape returns a view of the array with a different shape sharing the
// same backing data and mask. The element count must be preserved; a
// mismatch is a ShapeError.
func (a *Array) WithShape(shape ...int) (*Array, error) {
	if Size(shape) != len(a.Data) {
		return nil, fmt.Errorf("%w: cannot reshape %v (%d elements) to %v (%d elements)",
			ErrShape, a.Shape, len(a.Data), shape, Size(shape))
	}
	return &Array{Shape: shape, Data: a.Data, Mask: a.Mask}, nil
}

// Clone returns a deep copy of the array, including the mask.
func (a *Array) Clone() *Array {
	out := &Array{
		Shape: append([]int(nil), a.Shape...),
		Data:  append([]float64(nil), a.Data...),
	}
	if a.Mask != nil {
		out.Mask = append([]bool(nil), a.Mask...)
	}
	return out
}

// offset converts a multi-index to a flat row-major offset. Panics on a
// rank mismatch; index helpers are for tests and small accessors, the hot
// loops index the flat buffer directly.
func (a *Array) offset(idx []int) int {
	if len(idx) != len(a.Shape) {
		panic(fmt.Sprintf("stack: %d indices for rank-%d array", len(idx), len(a.Shape)))
	}
	off := 0
	for d, i := range idx {
		off = off*a.Shape[d] + i
	}
	return off
}

// At returns the element at the given multi-index.
func (a *Array) At(idx ...int) float64 {
	return a.Data[a.offset(idx)]
}

// Set stores v at the given multi-index.
func (a *Array) Set(v float64, idx ...int) {
	a.Data[a.offset(idx)] = v
}

// MaskedAt reports whether the element at the given multi-index is excluded.
func (a *Array) MaskedAt(idx ...int) bool {
	if a.Mask == nil {
		return false
	}
	return a.Mask[a.offset(idx)]
}
