// Package grid converts between the linear frame-stack layout used by the
// numeric kernels and the reconstructed 2D scan-grid layout used for maps.
//
// The batch kernels operate on a flat leading frame axis for performance,
// so every component that accepts grid-shaped input flattens it on entry
// and restores the grid shape on exit. The conversion is a pure data-layout
// transform: flatten and unflatten share the backing buffer and are
// bit-identical round trips.
package grid

import (
	"fmt"

	"sedmap/pkg/stack"
)

// Formatter reshapes arrays between a flat leading frame axis and a stored
// multi-dimensional grid shape, preserving trailing dimensions.
type Formatter struct {
	gridShape []int
	flatLen   int
}

// NewFormatter creates a formatter for the given grid shape (the leading
// dimensions of the formatted layout, e.g. scan rows and columns). At least
// one dimension is required and all dimensions must be positive.
func NewFormatter(gridShape ...int) (*Formatter, error) {
	if len(gridShape) == 0 {
		return nil, fmt.Errorf("%w: grid shape must have at least one dimension", stack.ErrInvalidArgument)
	}
	for _, d := range gridShape {
		if d <= 0 {
			return nil, fmt.Errorf("%w: grid shape %v has a non-positive dimension", stack.ErrInvalidArgument, gridShape)
		}
	}
	return &Formatter{
		gridShape: append([]int(nil), gridShape...),
		flatLen:   stack.Size(gridShape),
	}, nil
}

// GridShape returns a copy of the stored grid shape.
func (f *Formatter) GridShape() []int {
	return append([]int(nil), f.gridShape...)
}

// FlatLen returns the product of the grid dimensions, i.e. the length of
// the flattened leading axis.
func (f *Formatter) FlatLen() int {
	return f.flatLen
}

// Flatten merges the leading grid dimensions of a into a single flat frame
// axis, preserving all trailing dimensions. The input rank must be between
// 2 and 4 and its leading dimensions must match the stored grid shape;
// anything else is a shape error. The returned array shares a's backing
// data and mask.
func (f *Formatter) Flatten(a *stack.Array) (*stack.Array, error) {
	if a.Rank() < 2 || a.Rank() > 4 {
		return nil, fmt.Errorf("%w: expected a 2D, 3D, or 4D array, got rank %d", stack.ErrShape, a.Rank())
	}
	ng := len(f.gridShape)
	if a.Rank() < ng+1 {
		return nil, fmt.Errorf("%w: rank-%d array cannot carry grid shape %v", stack.ErrShape, a.Rank(), f.gridShape)
	}
	for d, want := range f.gridShape {
		if a.Shape[d] != want {
			return nil, fmt.Errorf("%w: leading dimensions %v do not match grid shape %v",
				stack.ErrShape, a.Shape[:ng], f.gridShape)
		}
	}
	shape := append([]int{f.flatLen}, a.Shape[ng:]...)
	return a.WithShape(shape...)
}

// Unflatten expands the flat leading axis of a back into the stored grid
// shape. The input rank must be between 1 and 3 and the leading dimension
// must equal the product of the grid dimensions. The returned array shares
// a's backing data and mask.
func (f *Formatter) Unflatten(a *stack.Array) (*stack.Array, error) {
	if a.Rank() < 1 || a.Rank() > 3 {
		return nil, fmt.Errorf("%w: expected a 1D, 2D, or 3D array, got rank %d", stack.ErrShape, a.Rank())
	}
	if a.Shape[0] != f.flatLen {
		return nil, fmt.Errorf("%w: leading dimension %d does not match grid size %d (%v)",
			stack.ErrShape, a.Shape[0], f.flatLen, f.gridShape)
	}
	shape := append(f.GridShape(), a.Shape[1:]...)
	return a.WithShape(shape...)
}
