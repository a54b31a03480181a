// Package pipeline orchestrates the full SED orientation-mapping run:
// detector masking, beam-center location, scan-geometry recovery, frame
// centering, crown integration, orientation estimation, and the final
// reshape of per-frame estimates into the 2D scan-grid orientation map.
//
// Stack-level precondition violations abort the run with no partial
// output. Per-frame numeric failures (an off-detector trim window, a fit
// that does not converge, a zero-intensity covariance) are isolated: the
// corresponding map entry is NaN, the failure is recorded in the result,
// and the batch continues.
package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/log"

	"sedmap/pkg/config"
	"sedmap/pkg/grid"
	"sedmap/pkg/integration"
	"sedmap/pkg/interpolation"
	"sedmap/pkg/masking"
	"sedmap/pkg/orientation"
	"sedmap/pkg/preprocess"
	"sedmap/pkg/stack"
)

// Pipeline runs the orientation-mapping analysis with a fixed
// configuration. Configuration values are bound when the pipeline is
// constructed and passed explicitly to every stage, so a pipeline can be
// rebuilt with different parameters between runs.
type Pipeline struct {
	cfg    *config.Config
	logger *log.Logger
}

// Result carries the outputs and intermediates of one run. Intermediates
// are kept so the host application can inspect or persist any stage; they
// are not needed to interpret the orientation map.
type Result struct {
	// BeamCenters holds the (y, x) beam centers for every frame of the
	// original acquisition, shaped (nFrames, 2).
	BeamCenters *stack.Array

	// Geometry is the recovered scan geometry of the acquisition.
	Geometry *preprocess.ScanGeometry

	// Centered is the stack of valid frames cropped around their beam
	// centers, shaped (nValid, edge, edge).
	Centered *stack.Array

	// Profiles holds one azimuthal intensity profile per valid frame,
	// shaped (nValid, nPhiBins). Nil for the principal-axis method, which
	// bypasses crown integration.
	Profiles *stack.Array

	// PhiBins holds the shared profile bin centers in degrees. Nil for
	// the principal-axis method.
	PhiBins []float64

	// OrientationMap is the per-scan-point orientation angle in radians,
	// canonical in [0, π), shaped (rows, cols). NaN marks frames whose
	// estimation failed.
	OrientationMap *stack.Array

	// Parameters holds the full per-point parameter tuples for the
	// methods that produce them, shaped (rows, cols, 3): (phi0, eta, C)
	// for model fitting, (theta, anisotropy, aspect) for principal axes.
	// Nil for the single-angle methods.
	Parameters *stack.Array

	// FrameErrors records per-frame failures, indexed by position in the
	// valid-frame stack.
	FrameErrors []stack.FrameError
}

// New creates a pipeline bound to the given configuration. A nil logger
// falls back to the default logger.
func New(cfg *config.Config, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{cfg: cfg, logger: logger}
}

// MapOrientation runs the complete analysis on a rank-3 acquisition stack
// shaped (nFrames, height, width).
func (p *Pipeline) MapOrientation(frames *stack.Array) (*Result, error) {
	cfg := p.cfg
	if frames == nil || frames.Rank() != 3 {
		return nil, fmt.Errorf("%w: expected a 3D acquisition stack (nFrames, height, width)", stack.ErrShape)
	}
	if cfg.Scan.Last <= cfg.Scan.First || cfg.Scan.Last == 0 {
		return nil, fmt.Errorf("%w: scan limits not determined; set scan.first and scan.last to the frame range of the scan",
			stack.ErrInvalidArgument)
	}

	// Fail on a bad selector before any expensive work.
	method, err := orientation.ParseMethod(cfg.Orientation.Method)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	h, w := frames.Shape[1], frames.Shape[2]

	if cfg.Masking.ApplyDetectorMask {
		p.logger.Info("masking detector", "height", h, "width", w)
		if err := masking.Apply(frames, masking.CrossMask(h, w), cfg.Masking.MaskValue); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	p.logger.Info("finding beam centers", "frames", frames.Shape[0], "threshold", cfg.Preprocess.DirectBeamThreshold)
	res.BeamCenters, err = preprocess.FindBeamCenters(frames, cfg.Preprocess.DirectBeamThreshold)
	if err != nil {
		return nil, fmt.Errorf("finding beam centers: %w", err)
	}
	p.logger.Debug("beam centers found", "elapsed", time.Since(start).Round(time.Millisecond))

	p.logger.Info("resolving scan geometry", "first", cfg.Scan.First, "last", cfg.Scan.Last)
	res.Geometry, err = preprocess.ResolveScanGeometry(res.BeamCenters, cfg.Scan.First, cfg.Scan.Last, cfg.Preprocess.GradientThreshold)
	if err != nil {
		return nil, fmt.Errorf("resolving scan geometry: %w", err)
	}
	rows, cols := res.Geometry.Shape()
	p.logger.Info("scan geometry resolved", "rows", rows, "cols", cols)

	validFrames, err := res.Geometry.Select(frames)
	if err != nil {
		return nil, err
	}
	validCenters, err := res.Geometry.Select(res.BeamCenters)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	p.logger.Info("centering frames", "radius", cfg.Preprocess.TrimRadius)
	centered, centerErrs, err := preprocess.CenterFrames(validFrames, validCenters, cfg.Preprocess.TrimRadius)
	if err != nil {
		return nil, fmt.Errorf("centering frames: %w", err)
	}
	res.Centered = centered
	res.FrameErrors = append(res.FrameErrors, centerErrs...)
	p.logger.Debug("frames centered", "failures", len(centerErrs), "elapsed", time.Since(start).Round(time.Millisecond))

	qRange := [2]float64{cfg.Integration.QMin, cfg.Integration.QMax}

	var estimates *stack.Array
	switch method {
	case orientation.MethodPrincipalAxis:
		start = time.Now()
		p.logger.Info("estimating principal axes", "method", method.String())
		params, frameErrs, err := orientation.PrincipalAxes(centered, qRange, cfg.Integration.QCalibration, cfg.Processing.NumWorkers)
		if err != nil {
			return nil, fmt.Errorf("estimating principal axes: %w", err)
		}
		res.FrameErrors = append(res.FrameErrors, frameErrs...)
		res.Parameters = params
		estimates = firstColumn(params)
		p.logger.Debug("principal axes estimated", "failures", len(frameErrs), "elapsed", time.Since(start).Round(time.Millisecond))

	default:
		start = time.Now()
		p.logger.Info("integrating crowns", "nPhiBins", cfg.Integration.NPhiBins, "qMin", qRange[0], "qMax", qRange[1])
		profiles, phi, err := integration.CrownIntegration(centered, cfg.Integration.NPhiBins, qRange, cfg.Integration.QCalibration)
		if err != nil {
			return nil, fmt.Errorf("crown integration: %w", err)
		}
		res.Profiles = profiles
		res.PhiBins = phi
		p.logger.Debug("crowns integrated", "elapsed", time.Since(start).Round(time.Millisecond))

		start = time.Now()
		p.logger.Info("estimating orientation", "method", method.String())
		switch method {
		case orientation.MethodHarmonic:
			estimates, err = orientation.HarmonicAnalysis(profiles, phi)
		case orientation.MethodPeakSearch:
			estimates, err = orientation.FindOrientationPeaks(profiles, phi)
		case orientation.MethodModelFit:
			opts := orientation.FitOptions{
				WeightExponent: cfg.Orientation.WeightExponent,
				EtaMin:         cfg.Orientation.EtaMin,
				EtaMax:         cfg.Orientation.EtaMax,
				Workers:        cfg.Processing.NumWorkers,
			}
			var params *stack.Array
			var frameErrs []stack.FrameError
			params, frameErrs, err = orientation.FitPoissonODF(profiles, phi, opts)
			if err == nil {
				res.FrameErrors = append(res.FrameErrors, frameErrs...)
				res.Parameters = params
				estimates = firstColumn(params)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("estimating orientation: %w", err)
		}
		p.logger.Debug("orientation estimated", "elapsed", time.Since(start).Round(time.Millisecond))
	}

	// A frame that failed centering carries no measurable signal: its fully
	// masked window integrates to a flat profile that the estimators would
	// map to a fabricated angle. Its output slots hold NaN instead.
	for _, fe := range centerErrs {
		estimates.Data[fe.Index] = math.NaN()
		if res.Parameters != nil {
			k := res.Parameters.Shape[res.Parameters.Rank()-1]
			for j := 0; j < k; j++ {
				res.Parameters.Data[fe.Index*k+j] = math.NaN()
			}
		}
	}

	// The flat per-frame estimates become the 2D orientation map.
	formatter, err := grid.NewFormatter(rows, cols)
	if err != nil {
		return nil, err
	}
	res.OrientationMap, err = formatter.Unflatten(estimates)
	if err != nil {
		return nil, err
	}
	if res.Parameters != nil {
		res.Parameters, err = formatter.Unflatten(res.Parameters)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Postprocess.FillFailedPoints {
		params := interpolation.DefaultParams()
		params.Range = cfg.Postprocess.KrigingRange
		params.Neighbors = cfg.Postprocess.KrigingNeighbors

		p.logger.Info("filling failed scan points", "range", params.Range, "neighbors", params.Neighbors)
		filled, err := interpolation.FillOrientationMap(res.OrientationMap, params)
		if err != nil {
			// The raw map is already complete; a fill failure degrades the
			// output but must not discard the run.
			p.logger.Warn("could not fill failed scan points", "err", err)
		} else {
			res.OrientationMap = filled
		}
	}

	p.logger.Info("orientation map complete",
		"rows", rows, "cols", cols, "frameFailures", len(res.FrameErrors))
	return res, nil
}

// firstColumn extracts column 0 of an (n, k) array into a flat (n) array.
func firstColumn(params *stack.Array) *stack.Array {
	n, k := params.Shape[0], params.Shape[1]
	out := stack.New(n)
	for i := 0; i < n; i++ {
		out.Data[i] = params.Data[i*k]
	}
	return out
}
