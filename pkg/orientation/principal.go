package orientation

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"

	"sedmap/pkg/grid"
	"sedmap/pkg/stack"
)

// PrincipalAxes estimates orientation, anisotropy, and aspect ratio for
// every frame directly from its 2D intensity distribution, bypassing crown
// integration.
//
// For each frame the detector coordinates inside the radial annulus
// [qRange[0], qRange[1]] (relative to the frame center, in physical units
// via calibration) are weighted by intensity: the weighted mean position
// is subtracted, the 2×2 weighted covariance of the centered coordinates
// is accumulated, and its eigendecomposition yields
//
//	orientation = angle of the dominant eigenvector, canonical in [0, π)
//	anisotropy  = (λmax-λmin)/(λmax+λmin), in [0, 1]
//	aspect      = sqrt(λmax/λmin), ≥ 1
//
// Masked pixels, negative intensities, and pixels outside the annulus
// carry zero weight. A frame with zero total weight (or a covariance whose
// eigenvalues collapse) is a degenerate computation: it is reported as a
// per-frame failure with a NaN output row and the batch continues.
//
// Parameters:
//   - frames: rank-3 or rank-4 masked frame stack (raw or centered)
//   - qRange: inclusive (qMin, qMax) radial range in physical units
//   - calibration: physical units per pixel
//   - workers: concurrent frame workers; zero or negative means one per CPU
//
// Returns (orientation, anisotropy, aspect) triples with a trailing axis
// appended to the input's leading layout, plus the per-frame failures.
func PrincipalAxes(frames *stack.Array, qRange [2]float64, calibration float64, workers int) (*stack.Array, []stack.FrameError, error) {
	if frames.Rank() < 3 || frames.Rank() > 4 {
		return nil, nil, fmt.Errorf("%w: expected a 3D or 4D frame stack, got rank %d",
			stack.ErrShape, frames.Rank())
	}
	if qRange[0] > qRange[1] {
		return nil, nil, fmt.Errorf("%w: q range (%g, %g) is inverted", stack.ErrInvalidArgument, qRange[0], qRange[1])
	}

	leading := frames.Shape[:frames.Rank()-2]
	f, err := grid.NewFormatter(leading...)
	if err != nil {
		return nil, nil, err
	}
	flat, err := f.Flatten(frames)
	if err != nil {
		return nil, nil, err
	}
	n, h, w := flat.Shape[0], flat.Shape[1], flat.Shape[2]
	frameSize := h * w
	centerY, centerX := h/2, w/2

	// Annulus membership depends only on geometry; precompute it once.
	inAnnulus := make([]bool, frameSize)
	for y := 0; y < h; y++ {
		dy := float64(y - centerY)
		for x := 0; x < w; x++ {
			dx := float64(x - centerX)
			q := math.Hypot(dy, dx) * calibration
			inAnnulus[y*w+x] = q >= qRange[0] && q <= qRange[1]
		}
	}

	out := stack.New(n, 3)

	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}
	perWorker := (n + workers - 1) / workers

	failures := make([][]stack.FrameError, workers)
	var wg sync.WaitGroup
	for wk := 0; wk < workers; wk++ {
		wg.Add(1)
		go func(wk int) {
			defer wg.Done()
			start := wk * perWorker
			end := start + perWorker
			if end > n {
				end = n
			}
			for i := start; i < end; i++ {
				theta, aniso, aspect, err := framePrincipalAxes(flat, i*frameSize, h, w, inAnnulus)
				if err != nil {
					failures[wk] = append(failures[wk], stack.FrameError{Index: i, Err: err})
					out.Data[3*i] = math.NaN()
					out.Data[3*i+1] = math.NaN()
					out.Data[3*i+2] = math.NaN()
					continue
				}
				out.Data[3*i] = theta
				out.Data[3*i+1] = aniso
				out.Data[3*i+2] = aspect
			}
		}(wk)
	}
	wg.Wait()

	var merged []stack.FrameError
	for _, fs := range failures {
		merged = append(merged, fs...)
	}

	shaped, err := out.WithShape(append(append([]int(nil), leading...), 3)...)
	if err != nil {
		return nil, nil, err
	}
	return shaped, merged, nil
}

// framePrincipalAxes computes the weighted principal axes of one frame.
func framePrincipalAxes(flat *stack.Array, base, h, w int, inAnnulus []bool) (theta, aniso, aspect float64, err error) {
	centerY, centerX := h/2, w/2

	// First pass: weighted mean position.
	var sumW, sumX, sumY float64
	for y := 0; y < h; y++ {
		dy := float64(y - centerY)
		for x := 0; x < w; x++ {
			p := y*w + x
			if !inAnnulus[p] {
				continue
			}
			if flat.Mask != nil && flat.Mask[base+p] {
				continue
			}
			v := flat.Data[base+p]
			if v < 0 || math.IsNaN(v) {
				continue
			}
			dx := float64(x - centerX)
			sumW += v
			sumX += v * dx
			sumY += v * dy
		}
	}
	if sumW <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: zero total intensity in the annulus", stack.ErrDegenerate)
	}
	meanX := sumX / sumW
	meanY := sumY / sumW

	// Second pass: weighted covariance of the centered coordinates.
	var cxx, cxy, cyy float64
	for y := 0; y < h; y++ {
		dy := float64(y-centerY) - meanY
		for x := 0; x < w; x++ {
			p := y*w + x
			if !inAnnulus[p] {
				continue
			}
			if flat.Mask != nil && flat.Mask[base+p] {
				continue
			}
			v := flat.Data[base+p]
			if v < 0 || math.IsNaN(v) {
				continue
			}
			dx := float64(x-centerX) - meanX
			cxx += v * dx * dx
			cxy += v * dx * dy
			cyy += v * dy * dy
		}
	}
	cxx /= sumW
	cxy /= sumW
	cyy /= sumW

	var es mat.EigenSym
	if ok := es.Factorize(mat.NewSymDense(2, []float64{cxx, cxy, cxy, cyy}), true); !ok {
		return 0, 0, 0, fmt.Errorf("%w: covariance eigendecomposition failed", stack.ErrDegenerate)
	}
	vals := es.Values(nil) // ascending
	lmin, lmax := vals[0], vals[1]
	if lmax <= 0 || lmin <= 0 || lmax+lmin == 0 {
		return 0, 0, 0, fmt.Errorf("%w: collapsed intensity covariance (eigenvalues %g, %g)",
			stack.ErrDegenerate, lmin, lmax)
	}

	var vecs mat.Dense
	es.VectorsTo(&vecs)
	// Dominant eigenvector is the column of the larger (second) eigenvalue.
	vx, vy := vecs.At(0, 1), vecs.At(1, 1)

	theta = mod(math.Atan2(vy, vx), math.Pi)
	aniso = (lmax - lmin) / (lmax + lmin)
	aspect = math.Sqrt(lmax / lmin)
	return theta, aniso, aspect, nil
}
