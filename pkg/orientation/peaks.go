package orientation

import (
	"fmt"
	"math"

	"sedmap/pkg/stack"
)

// FindOrientationPeaks estimates the preferential orientation of each
// profile by symmetrized peak search: the profile is averaged with its
// half-rotation (bin i with bin i+nPhi/2) to exploit the π-periodicity of
// diffraction, and the angle of the folded maximum is returned.
//
// The estimator should only be used with a fine phi binning; coarse bins
// quantize the result to the bin width. nPhi must be even so the two
// half-rotations align bin for bin.
//
// Parameters:
//   - profiles: rank-2 (nFrames, nPhi) or rank-3 (rows, cols, nPhi)
//     azimuthal intensities
//   - phi: bin centers in degrees, aligned with the profile phi axis
//
// Returns one angle in [0, π) per profile, in radians, in the input's
// leading layout. A profile with no finite folded sample yields NaN.
func FindOrientationPeaks(profiles *stack.Array, phi []float64) (*stack.Array, error) {
	f, flat, err := flattenProfiles(profiles, phi)
	if err != nil {
		return nil, err
	}
	n, nPhi := flat.Shape[0], flat.Shape[1]
	if nPhi%2 != 0 {
		return nil, fmt.Errorf("%w: peak search requires an even number of phi bins, got %d",
			stack.ErrShape, nPhi)
	}
	half := nPhi / 2

	out := stack.New(n)
	for i := 0; i < n; i++ {
		row := flat.Data[i*nPhi : (i+1)*nPhi]

		best := -1
		bestVal := math.Inf(-1)
		for j := 0; j < half; j++ {
			folded := 0.5*row[j] + 0.5*row[j+half]
			if math.IsNaN(folded) {
				continue
			}
			if folded > bestVal {
				bestVal = folded
				best = j
			}
		}
		if best < 0 {
			out.Data[i] = math.NaN()
			continue
		}
		out.Data[i] = phi[best] * math.Pi / 180
	}
	return f.Unflatten(out)
}
