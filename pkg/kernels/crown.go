package kernels

import (
	"fmt"
	"math"

	"sedmap/pkg/stack"
)

// CrownIntegral reduces every frame of a rank-3 centered stack to an
// azimuthal intensity profile over a fixed radial annulus.
//
// The beam is assumed centered: the detector origin is taken at
// (height/2, width/2) using integer division, matching the geometry
// produced by frame centering. Each pixel is assigned a scattering-vector
// magnitude q = |r|*calibration and an azimuth phi in [0, 360). Pixels
// with q inside [qRange[0], qRange[1]] are accumulated into nBins
// equal-width phi bins and each bin is averaged over its pixel count.
//
// Masked pixels and negative intensities (the detector masking value) are
// excluded from the accumulation. Empty bins stay zero.
//
// Parameters:
//   - frames: rank-3 array shaped (nFrames, height, width), beam centered
//   - nBins: number of phi bins
//   - qRange: inclusive (qMin, qMax) radial range in physical units
//   - calibration: physical units per pixel (e.g. nm⁻¹/px)
//
// Returns an (nFrames, nBins) array of mean intensities per bin.
func CrownIntegral(frames *stack.Array, nBins int, qRange [2]float64, calibration float64) (*stack.Array, error) {
	if frames.Rank() != 3 {
		return nil, fmt.Errorf("%w: expected a 3D stack (nFrames, height, width), got rank %d",
			stack.ErrShape, frames.Rank())
	}
	if nBins < 1 {
		return nil, fmt.Errorf("%w: nBins must be positive, got %d", stack.ErrInvalidArgument, nBins)
	}
	if qRange[0] > qRange[1] {
		return nil, fmt.Errorf("%w: q range (%g, %g) is inverted", stack.ErrInvalidArgument, qRange[0], qRange[1])
	}
	n, h, w := frames.Shape[0], frames.Shape[1], frames.Shape[2]
	frameSize := h * w
	centerY, centerX := h/2, w/2
	binWidth := 360.0 / float64(nBins)

	// The bin assignment depends only on pixel geometry, so it is computed
	// once for the whole stack. A bin index of -1 marks pixels outside the
	// annulus.
	binIndex := make([]int, frameSize)
	for y := 0; y < h; y++ {
		dy := float64(y - centerY)
		for x := 0; x < w; x++ {
			dx := float64(x - centerX)
			p := y*w + x

			q := math.Hypot(dy, dx) * calibration
			if q < qRange[0] || q > qRange[1] {
				binIndex[p] = -1
				continue
			}
			phi := math.Atan2(dy, dx) * 180.0 / math.Pi
			if phi < 0 {
				phi += 360.0
			}
			b := int(phi / binWidth)
			if b < 0 {
				b = 0
			} else if b > nBins-1 {
				b = nBins - 1
			}
			binIndex[p] = b
		}
	}

	profiles := stack.New(n, nBins)
	sums := make([]float64, nBins)
	counts := make([]int, nBins)
	for i := 0; i < n; i++ {
		for b := range sums {
			sums[b] = 0
			counts[b] = 0
		}
		base := i * frameSize
		for p := 0; p < frameSize; p++ {
			b := binIndex[p]
			if b < 0 {
				continue
			}
			if frames.Mask != nil && frames.Mask[base+p] {
				continue
			}
			v := frames.Data[base+p]
			if v < 0 {
				continue
			}
			sums[b] += v
			counts[b]++
		}
		for b := 0; b < nBins; b++ {
			if counts[b] > 0 {
				profiles.Data[i*nBins+b] = sums[b] / float64(counts[b])
			}
		}
	}
	return profiles, nil
}
