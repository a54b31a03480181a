// Package orientation estimates the dominant crystallographic orientation
// of each scan point. Three interchangeable estimators consume azimuthal
// intensity profiles (harmonic phase analysis, Poisson-kernel model
// fitting, symmetrized peak search) and a fourth operates directly on
// masked 2D frames via an intensity-weighted principal-axis decomposition.
//
// Orientation angles are canonicalized to [0, π) because diffraction
// patterns are π-periodic.
package orientation

import (
	"fmt"

	"sedmap/pkg/grid"
	"sedmap/pkg/stack"
)

// Method selects the orientation estimator. The choice is a pipeline-level
// configuration, not a per-call parameter; each variant carries its own
// parameter set.
type Method int

const (
	// MethodHarmonic takes the phase of the second DFT harmonic of each
	// profile. Cheap and robust to noise; assumes the dominant asymmetry
	// matches two-fold symmetry.
	MethodHarmonic Method = iota

	// MethodModelFit fits the Poisson-kernel orientation distribution to
	// each profile. The most expensive variant; also yields the degree of
	// alignment.
	MethodModelFit

	// MethodPeakSearch folds each profile through its half-rotation and
	// takes the angle of the maximum. Needs fine angular resolution.
	MethodPeakSearch

	// MethodPrincipalAxis bypasses crown integration and estimates the
	// orientation from the 2D intensity covariance of each masked frame.
	MethodPrincipalAxis
)

// Method names as accepted in configuration files.
const (
	methodNameHarmonic      = "harmonic_analysis"
	methodNameModelFit      = "model_fitting"
	methodNamePeakSearch    = "argmax"
	methodNamePrincipalAxis = "principal_axis"
)

// ParseMethod maps a configuration selector to a Method. An unknown
// selector is an invalid-configuration error.
func ParseMethod(name string) (Method, error) {
	switch name {
	case methodNameHarmonic:
		return MethodHarmonic, nil
	case methodNameModelFit:
		return MethodModelFit, nil
	case methodNamePeakSearch:
		return MethodPeakSearch, nil
	case methodNamePrincipalAxis:
		return MethodPrincipalAxis, nil
	default:
		return 0, fmt.Errorf("%w: unknown orientation method %q (want %q, %q, %q, or %q)",
			stack.ErrInvalidConfiguration, name,
			methodNameHarmonic, methodNameModelFit, methodNamePeakSearch, methodNamePrincipalAxis)
	}
}

func (m Method) String() string {
	switch m {
	case MethodHarmonic:
		return methodNameHarmonic
	case MethodModelFit:
		return methodNameModelFit
	case MethodPeakSearch:
		return methodNamePeakSearch
	case MethodPrincipalAxis:
		return methodNamePrincipalAxis
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// flattenProfiles linearizes a rank-2 or rank-3 profile array over its
// leading dimensions and validates the phi axis. Every profile estimator
// goes through here so grid-shaped and flat inputs behave identically.
func flattenProfiles(profiles *stack.Array, phi []float64) (*grid.Formatter, *stack.Array, error) {
	if profiles.Rank() < 2 || profiles.Rank() > 3 {
		return nil, nil, fmt.Errorf("%w: expected a 2D or 3D profile array, got rank %d",
			stack.ErrShape, profiles.Rank())
	}
	nPhi := profiles.Shape[profiles.Rank()-1]
	if len(phi) != nPhi {
		return nil, nil, fmt.Errorf("%w: %d phi bin centers for profiles with %d bins",
			stack.ErrDimensionMismatch, len(phi), nPhi)
	}
	f, err := grid.NewFormatter(profiles.Shape[:profiles.Rank()-1]...)
	if err != nil {
		return nil, nil, err
	}
	flat, err := f.Flatten(profiles)
	if err != nil {
		return nil, nil, err
	}
	return f, flat, nil
}
