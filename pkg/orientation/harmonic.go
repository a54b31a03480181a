package orientation

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"sedmap/pkg/stack"
)

// HarmonicAnalysis estimates the preferential orientation of each profile
// from the phase of its second Fourier harmonic.
//
// For a profile with two-fold symmetry the k=2 coefficient of the DFT
// carries the orientation in its phase: theta = mod(-phase/2, π). The
// estimate is cheap and tolerant of noise but assumes the dominant
// asymmetry of the profile matches crystallographic two-fold symmetry.
//
// Parameters:
//   - profiles: rank-2 (nFrames, nPhi) or rank-3 (rows, cols, nPhi)
//     azimuthal intensities
//   - phi: bin centers in degrees, aligned with the profile phi axis
//
// Returns one angle in [0, π) per profile, in the input's leading layout.
// Profiles containing non-finite samples yield NaN in the corresponding
// slot.
func HarmonicAnalysis(profiles *stack.Array, phi []float64) (*stack.Array, error) {
	f, flat, err := flattenProfiles(profiles, phi)
	if err != nil {
		return nil, err
	}
	n, nPhi := flat.Shape[0], flat.Shape[1]
	if nPhi < 4 {
		return nil, fmt.Errorf("%w: need at least 4 phi bins to resolve the second harmonic, got %d",
			stack.ErrShape, nPhi)
	}

	fft := fourier.NewFFT(nPhi)
	coeffs := make([]complex128, nPhi/2+1)
	out := stack.New(n)
	for i := 0; i < n; i++ {
		fft.Coefficients(coeffs, flat.Data[i*nPhi:(i+1)*nPhi])
		phase := cmplx.Phase(coeffs[2])
		out.Data[i] = mod(-0.5*phase, math.Pi)
	}
	return f.Unflatten(out)
}

// mod is the floored modulo: the result carries the sign of m, mapping
// angles into [0, m).
func mod(v, m float64) float64 {
	r := math.Mod(v, m)
	if r < 0 {
		r += m
	}
	return r
}
