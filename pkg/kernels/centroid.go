// Package kernels implements the batch numeric primitives the pipeline
// calls on whole frame stacks: the intensity-weighted centroid used to
// locate the direct beam and the radial/angular binned accumulation used
// for crown integration.
//
// Both kernels take a flat rank-3 stack (frame index plus two detector
// axes) and return one result row per frame. Their cost scales with the
// number of frames, so callers batch one call per stack rather than one
// call per frame.
package kernels

import (
	"fmt"

	"sedmap/pkg/stack"
)

// CentersOfMass computes the intensity-weighted centroid of every frame in
// a rank-3 stack. Only pixels with intensity at or above threshold
// contribute; masked pixels never contribute.
//
// Parameters:
//   - frames: rank-3 array shaped (nFrames, height, width)
//   - threshold: minimum intensity for a pixel to enter the centroid
//
// Returns an (nFrames, 2) array of (y, x) centroid coordinates in pixel
// units. A frame with no contributing pixels yields the sentinel row
// (-1, -1), matching the detector convention for "no beam found".
func CentersOfMass(frames *stack.Array, threshold float64) (*stack.Array, error) {
	if frames.Rank() != 3 {
		return nil, fmt.Errorf("%w: expected a 3D stack (nFrames, height, width), got rank %d",
			stack.ErrShape, frames.Rank())
	}
	n, h, w := frames.Shape[0], frames.Shape[1], frames.Shape[2]
	frameSize := h * w

	centers := stack.New(n, 2)
	for i := 0; i < n; i++ {
		base := i * frameSize
		var sumY, sumX, total float64
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				off := base + y*w + x
				if frames.Mask != nil && frames.Mask[off] {
					continue
				}
				v := frames.Data[off]
				if v < threshold {
					continue
				}
				sumY += v * float64(y)
				sumX += v * float64(x)
				total += v
			}
		}
		if total == 0 {
			centers.Data[2*i] = -1
			centers.Data[2*i+1] = -1
			continue
		}
		centers.Data[2*i] = sumY / total
		centers.Data[2*i+1] = sumX / total
	}
	return centers, nil
}
