// Package integration reduces centered 2D detector frames to 1D azimuthal
// ("crown") intensity profiles over a fixed radial annulus. The per-pixel
// binning is delegated to the batch kernel; this package owns the bin
// geometry and the grid-shape bookkeeping around the kernel call.
package integration

import (
	"fmt"

	"sedmap/pkg/grid"
	"sedmap/pkg/kernels"
	"sedmap/pkg/stack"
)

// PhiBinCenters returns the centers of nBins equal-width angular bins
// covering [0°, 360°).
func PhiBinCenters(nBins int) []float64 {
	width := 360.0 / float64(nBins)
	centers := make([]float64, nBins)
	for i := range centers {
		centers[i] = (float64(i) + 0.5) * width
	}
	return centers
}

// CrownIntegration performs crown reduction on a stack of beam-centered
// detector frames, producing one azimuthal intensity profile per frame
// plus the shared phi bin centers in degrees.
//
// Frames may be rank 3 (flat stack) or rank 4 (scan grid of frames); the
// profiles are returned in the same leading layout with a trailing phi
// axis. Masked pixels are excluded from the accumulation.
//
// Parameters:
//   - frames: rank-3 or rank-4 centered frame stack
//   - nBins: number of phi bins; more bins mean finer angular resolution
//   - qRange: inclusive (qMin, qMax) radial range of the studied reflection
//   - calibration: physical units per pixel (e.g. nm⁻¹/px)
//
// The kernel cost scales with the number of frames, not with nBins or the
// radial extent.
func CrownIntegration(frames *stack.Array, nBins int, qRange [2]float64, calibration float64) (*stack.Array, []float64, error) {
	if frames.Rank() < 3 || frames.Rank() > 4 {
		return nil, nil, fmt.Errorf("%w: expected a 3D or 4D stack of centered frames, got rank %d",
			stack.ErrShape, frames.Rank())
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

	profiles, err := kernels.CrownIntegral(flat, nBins, qRange, calibration)
	if err != nil {
		return nil, nil, err
	}
	shaped, err := f.Unflatten(profiles)
	if err != nil {
		return nil, nil, err
	}
	return shaped, PhiBinCenters(nBins), nil
}
