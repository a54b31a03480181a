// Package masking builds and applies per-pixel detector masks. Dead
// detector regions are marked in a boolean mask (true = excluded), their
// intensities are overwritten with a sentinel masking value, and the mask
// is attached to the stack so downstream components can propagate it.
package masking

import (
	"fmt"

	"sedmap/pkg/stack"
)

// DefaultMaskValue is the intensity written into masked pixels. Negative
// values are skipped by the accumulation kernels, so masked pixels never
// leak into profiles even if the mask itself is dropped.
const DefaultMaskValue = -1.0

// CrossMask returns the detector mask for a quad-chip detector such as the
// Cheetah: the two central rows and two central columns, where the chips
// meet, carry no signal.
func CrossMask(height, width int) []bool {
	m := make([]bool, height*width)
	for y := height/2 - 1; y <= height/2; y++ {
		for x := 0; x < width; x++ {
			m[y*width+x] = true
		}
	}
	for x := width/2 - 1; x <= width/2; x++ {
		for y := 0; y < height; y++ {
			m[y*width+x] = true
		}
	}
	return m
}

// Apply stamps a per-frame detector mask onto every frame of a rank-3
// stack in place: masked pixels get maskValue written into the data and
// true written into the stack's validity mask (allocated if absent).
//
// The detector mask length must match the frame size.
func Apply(frames *stack.Array, detectorMask []bool, maskValue float64) error {
	if frames.Rank() != 3 {
		return fmt.Errorf("%w: expected a 3D stack (nFrames, height, width), got rank %d",
			stack.ErrShape, frames.Rank())
	}
	frameSize := frames.Shape[1] * frames.Shape[2]
	if len(detectorMask) != frameSize {
		return fmt.Errorf("%w: detector mask has %d pixels, frames have %d",
			stack.ErrDimensionMismatch, len(detectorMask), frameSize)
	}

	mask := frames.EnsureMask()
	for i := 0; i < frames.Shape[0]; i++ {
		base := i * frameSize
		for p, dead := range detectorMask {
			if !dead {
				continue
			}
			frames.Data[base+p] = maskValue
			mask[base+p] = true
		}
	}
	return nil
}
