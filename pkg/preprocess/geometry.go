// Package preprocess recovers the scan geometry of an SED acquisition from
// its beam-center trajectory and prepares the frame stack for integration:
// locating the direct beam, segmenting the 1D frame sequence into scan
// rows, and cropping every valid frame to a common window around its own
// beam center.
package preprocess

import (
	"fmt"

	"sedmap/pkg/kernels"
	"sedmap/pkg/stack"
)

// DefaultGradientThreshold is the beam-position gradient above which a
// frame is treated as a flyback artifact. The value exceeds acquisition
// noise on the fast-scan axis; expose it as a parameter when the scan
// geometry differs.
const DefaultGradientThreshold = 2.0

// ScanGeometry describes which frames of a linear acquisition belong to
// the reconstructed 2D scan grid. It is computed once per acquisition and
// treated as immutable afterwards.
type ScanGeometry struct {
	// Valid marks, per frame of the original stack, whether the frame is
	// part of the scan grid.
	Valid []bool

	// Rows is the number of scan rows (maximal contiguous valid runs).
	Rows int

	// Cols is the scan row length: the minimum run length across all
	// rows. Longer runs are truncated from their tail, so every row
	// contributes exactly Cols frames.
	Cols int
}

// Shape returns the scan grid dimensions as (rows, cols).
func (g *ScanGeometry) Shape() (rows, cols int) {
	return g.Rows, g.Cols
}

// CountValid returns the number of valid frames; by construction it equals
// Rows*Cols.
func (g *ScanGeometry) CountValid() int {
	n := 0
	for _, v := range g.Valid {
		if v {
			n++
		}
	}
	return n
}

// Select gathers the valid rows of an array whose leading dimension is
// aligned with the original frame stack, preserving trailing dimensions
// and the mask. It is used to extract both the valid frames and their beam
// centers.
func (g *ScanGeometry) Select(a *stack.Array) (*stack.Array, error) {
	if a.Rank() < 1 || a.Shape[0] != len(g.Valid) {
		return nil, fmt.Errorf("%w: array leading dimension %v does not align with %d frames",
			stack.ErrDimensionMismatch, a.Shape, len(g.Valid))
	}
	block := 1
	for _, d := range a.Shape[1:] {
		block *= d
	}
	shape := append([]int{g.CountValid()}, a.Shape[1:]...)
	out := stack.New(shape...)
	if a.Mask != nil {
		out.Mask = make([]bool, len(out.Data))
	}
	dst := 0
	for i, v := range g.Valid {
		if !v {
			continue
		}
		copy(out.Data[dst*block:(dst+1)*block], a.Data[i*block:(i+1)*block])
		if a.Mask != nil {
			copy(out.Mask[dst*block:(dst+1)*block], a.Mask[i*block:(i+1)*block])
		}
		dst++
	}
	return out, nil
}

// ResolveScanGeometry segments a beam-center trajectory into scan rows and
// determines the usable scan shape.
//
// Frames are initially valid only inside the half-open index range
// [first, last). The discrete gradient of the fast-scan (x) coordinate is
// computed over the whole sequence with central differences (one-sided at
// the ends); frames where the gradient exceeds gradientThreshold are
// flyback artifacts and are invalidated. The remaining maximal contiguous
// valid runs become scan rows: the row length is the minimum run length
// and longer runs lose their tail frames. This truncation is a deliberate,
// lossy normalization, not padding.
//
// Parameters:
//   - centers: (nFrames, 2) beam-center coordinates as (y, x)
//   - first, last: user-identified scan extent, half open
//   - gradientThreshold: flyback detection threshold
//     (DefaultGradientThreshold when in doubt)
//
// Returns the resolved geometry. Missing or misshapen inputs and ranges
// that leave no valid frame are invalid-argument errors: geometry
// resolution is a whole-run precondition, there is no partial output.
func ResolveScanGeometry(centers *stack.Array, first, last int, gradientThreshold float64) (*ScanGeometry, error) {
	if centers == nil || centers.Len() == 0 {
		return nil, fmt.Errorf("%w: beam-center sequence is empty", stack.ErrInvalidArgument)
	}
	if centers.Rank() != 2 || centers.Shape[1] != 2 {
		return nil, fmt.Errorf("%w: beam centers must be shaped (nFrames, 2), got %v",
			stack.ErrInvalidArgument, centers.Shape)
	}
	n := centers.Shape[0]
	if first < 0 || last > n || first >= last {
		return nil, fmt.Errorf("%w: scan range [%d, %d) is not a valid sub-range of %d frames",
			stack.ErrInvalidArgument, first, last, n)
	}

	valid := make([]bool, n)
	for i := first; i < last; i++ {
		valid[i] = true
	}

	// Flybacks show up as spikes in the fast-scan coordinate gradient.
	for i, g := range xGradient(centers) {
		if g > gradientThreshold {
			valid[i] = false
		}
	}

	runs := validRuns(valid)
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: no valid frames remain in range [%d, %d)",
			stack.ErrInvalidArgument, first, last)
	}

	cols := runs[0].length()
	for _, r := range runs[1:] {
		if l := r.length(); l < cols {
			cols = l
		}
	}

	// Keep the head of every run; the trailing frames of longer runs are
	// dropped so all rows share the same length.
	for _, r := range runs {
		for i := r.start + cols; i < r.end; i++ {
			valid[i] = false
		}
	}

	return &ScanGeometry{Valid: valid, Rows: len(runs), Cols: cols}, nil
}

// xGradient returns the discrete gradient of the fast-scan (second)
// coordinate: central differences inside the sequence, one-sided at both
// ends. A single-frame sequence has a zero gradient.
func xGradient(centers *stack.Array) []float64 {
	n := centers.Shape[0]
	x := func(i int) float64 { return centers.Data[2*i+1] }

	g := make([]float64, n)
	if n < 2 {
		return g
	}
	g[0] = x(1) - x(0)
	g[n-1] = x(n-1) - x(n-2)
	for i := 1; i < n-1; i++ {
		g[i] = (x(i+1) - x(i-1)) / 2
	}
	return g
}

// run is a maximal contiguous stretch of valid frames, half open.
type run struct {
	start, end int
}

func (r run) length() int {
	return r.end - r.start
}

func validRuns(valid []bool) []run {
	var runs []run
	start := -1
	for i, v := range valid {
		switch {
		case v && start < 0:
			start = i
		case !v && start >= 0:
			runs = append(runs, run{start, i})
			start = -1
		}
	}
	if start >= 0 {
		runs = append(runs, run{start, len(valid)})
	}
	return runs
}

// FindBeamCenters locates the direct beam in every frame of a rank-3 stack
// by delegating to the centroid kernel. Only pixels with intensity at or
// above threshold are considered; masked pixels are ignored by the kernel.
func FindBeamCenters(frames *stack.Array, threshold float64) (*stack.Array, error) {
	return kernels.CentersOfMass(frames, threshold)
}
