package orientation

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/optimize"

	"sedmap/pkg/stack"
)

// PoissonODF is the Poisson-kernel orientation distribution model
//
//	I(phi) = C (1-eta²) / ((1+eta)² - 4 eta cos²(phi-phi0))
//
// where phi0 is the preferential orientation in radians, eta in (0, 1) is
// the degree of alignment, and C is a scaling constant.
func PoissonODF(phi, phi0, eta, c float64) float64 {
	cos := math.Cos(phi - phi0)
	return c * (1 - eta*eta) / ((1+eta)*(1+eta) - 4*eta*cos*cos)
}

// FitOptions carries the parameters of the Poisson-ODF fit. Construct with
// DefaultFitOptions and override fields as needed; the options are plain
// values passed at call time, never process-global state.
type FitOptions struct {
	// WeightExponent sets the per-sample fit weight to
	// intensity^WeightExponent.
	WeightExponent float64

	// EtaMin and EtaMax bound the degree-of-alignment parameter away from
	// the singular limits 0 and 1.
	EtaMin, EtaMax float64

	// Workers is the number of concurrent fit workers; zero or negative
	// means one per CPU.
	Workers int
}

// DefaultFitOptions returns the standard fit configuration: unit weight
// exponent and eta bounded to (0.005, 0.95).
func DefaultFitOptions() FitOptions {
	return FitOptions{
		WeightExponent: 1.0,
		EtaMin:         0.005,
		EtaMax:         0.95,
	}
}

// FitPoissonODF fits the Poisson-kernel orientation distribution to every
// azimuthal profile via weighted nonlinear least squares.
//
// Samples with non-finite intensity or weight are omitted from the
// residual. The parameters are bounded (phi0 in [0, π], eta in
// (EtaMin, EtaMax), C ≥ 0) through smooth reparameterizations, and the
// bounded objective is minimized with Nelder-Mead from the initial guess
// (π/2, 0.5, 1). The fitted phi0 is returned canonical in [0, π).
//
// Each profile is an independent optimization, so the fits are distributed
// over a pool of workers. A profile whose fit fails (too few finite
// samples, non-convergence) is recorded as a per-frame failure and its
// output row is NaN; the batch continues.
//
// Parameters:
//   - profiles: rank-2 (nFrames, nPhi) or rank-3 (rows, cols, nPhi)
//     azimuthal intensities
//   - phi: bin centers in degrees, aligned with the profile phi axis
//   - opts: fit configuration (DefaultFitOptions for the standard setup)
//
// Returns the fitted (phi0, eta, C) triples with a trailing parameter axis
// appended to the input's leading layout, plus the per-frame failures.
func FitPoissonODF(profiles *stack.Array, phi []float64, opts FitOptions) (*stack.Array, []stack.FrameError, error) {
	f, flat, err := flattenProfiles(profiles, phi)
	if err != nil {
		return nil, nil, err
	}
	if opts.EtaMin <= 0 || opts.EtaMax >= 1 || opts.EtaMin >= opts.EtaMax {
		return nil, nil, fmt.Errorf("%w: eta bounds (%g, %g) must satisfy 0 < min < max < 1",
			stack.ErrInvalidConfiguration, opts.EtaMin, opts.EtaMax)
	}
	n, nPhi := flat.Shape[0], flat.Shape[1]

	phiRad := make([]float64, nPhi)
	for i, p := range phi {
		phiRad[i] = p * math.Pi / 180
	}

	out := stack.New(n, 3)

	workers := opts.Workers
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
				phi0, eta, c, err := fitProfile(flat.Data[i*nPhi:(i+1)*nPhi], phiRad, opts)
				if err != nil {
					failures[wk] = append(failures[wk], stack.FrameError{Index: i, Err: err})
					out.Data[3*i] = math.NaN()
					out.Data[3*i+1] = math.NaN()
					out.Data[3*i+2] = math.NaN()
					continue
				}
				out.Data[3*i] = phi0
				out.Data[3*i+1] = eta
				out.Data[3*i+2] = c
			}
		}(wk)
	}
	wg.Wait()

	var merged []stack.FrameError
	for _, fs := range failures {
		merged = append(merged, fs...)
	}

	shaped, err := f.Unflatten(out)
	if err != nil {
		return nil, nil, err
	}
	return shaped, merged, nil
}

// fitProfile runs one bounded weighted least-squares fit.
func fitProfile(row, phiRad []float64, opts FitOptions) (phi0, eta, c float64, err error) {
	// Non-finite samples are omitted; so are samples whose weight is not
	// finite (a negative intensity under a fractional exponent).
	var xs, ys, ws []float64
	for j, y := range row {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		w := math.Pow(y, opts.WeightExponent)
		if math.IsNaN(w) || math.IsInf(w, 0) {
			continue
		}
		xs = append(xs, phiRad[j])
		ys = append(ys, y)
		ws = append(ws, w)
	}
	if len(xs) < 3 {
		return 0, 0, 0, fmt.Errorf("%w: only %d finite samples for a 3-parameter fit",
			stack.ErrDegenerate, len(xs))
	}

	phi0Bound := sinBound{0, math.Pi}
	etaBound := sinBound{opts.EtaMin, opts.EtaMax}
	cBound := lowerBound{0}

	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			p0 := phi0Bound.value(u[0])
			e := etaBound.value(u[1])
			cc := cBound.value(u[2])
			sse := 0.0
			for k, x := range xs {
				r := ws[k] * (ys[k] - PoissonODF(x, p0, e, cc))
				sse += r * r
			}
			return sse
		},
	}

	u0 := []float64{
		phi0Bound.raw(math.Pi / 2),
		etaBound.raw(0.5),
		cBound.raw(1.0),
	}
	result, err := optimize.Minimize(problem, u0, nil, &optimize.NelderMead{})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: fit did not converge: %v", stack.ErrDegenerate, err)
	}
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return 0, 0, 0, fmt.Errorf("%w: fit diverged", stack.ErrDegenerate)
	}
	// The bound is the closed interval [0, π]; fold the upper endpoint back
	// onto the canonical range [0, π).
	phi0 = mod(phi0Bound.value(result.X[0]), math.Pi)
	return phi0, etaBound.value(result.X[1]), cBound.value(result.X[2]), nil
}

// sinBound maps an unconstrained internal parameter onto [lo, hi] with the
// Minuit sine transform, so the minimizer works on an unbounded variable
// while the model only ever sees in-range values.
type sinBound struct {
	lo, hi float64
}

func (b sinBound) value(u float64) float64 {
	return b.lo + (math.Sin(u)+1)/2*(b.hi-b.lo)
}

func (b sinBound) raw(p float64) float64 {
	return math.Asin(2*(p-b.lo)/(b.hi-b.lo) - 1)
}

// lowerBound maps an unconstrained internal parameter onto [lo, ∞).
type lowerBound struct {
	lo float64
}

func (b lowerBound) value(u float64) float64 {
	return b.lo - 1 + math.Sqrt(u*u+1)
}

func (b lowerBound) raw(p float64) float64 {
	d := p - b.lo + 1
	return math.Sqrt(d*d - 1)
}
