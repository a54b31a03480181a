package preprocess

import (
	"fmt"

	"sedmap/pkg/grid"
	"sedmap/pkg/stack"
)

// CenterFrames crops every frame to a square window of edge 2*radius+1
// centered on its own beam center, producing a uniform-size stack whose
// validity mask is propagated from the input.
//
// Frames may be rank 3 (flat stack) or rank 4 (scan grid of frames); beam
// centers must carry the same leading layout with a trailing coordinate
// pair. The window is [center-radius, center+radius] inclusive on each
// axis, using the integer-truncated beam center.
//
// A window that leaves the source frame bounds is not an out-of-range
// read: the frame is reported as a per-frame failure, its output window is
// fully masked, and the batch continues.
//
// Returns the centered stack in the same leading layout as the input, the
// per-frame failures, and a fatal error for stack-level precondition
// violations (misaligned counts or a malformed coordinate arity).
func CenterFrames(frames, centers *stack.Array, radius int) (*stack.Array, []stack.FrameError, error) {
	if radius < 0 {
		return nil, nil, fmt.Errorf("%w: trim radius must be non-negative, got %d", stack.ErrInvalidArgument, radius)
	}
	if frames.Rank() < 3 || frames.Rank() > 4 {
		return nil, nil, fmt.Errorf("%w: expected a 3D or 4D frame stack, got rank %d", stack.ErrShape, frames.Rank())
	}

	// Both stacks are linearized over their leading (grid) dimensions so
	// the cropping loop only ever sees a flat frame axis.
	leading := frames.Shape[:frames.Rank()-2]
	f, err := grid.NewFormatter(leading...)
	if err != nil {
		return nil, nil, err
	}
	flat, err := f.Flatten(frames)
	if err != nil {
		return nil, nil, err
	}
	flatCenters := centers
	if centers.Rank() > 2 {
		flatCenters, err = f.Flatten(centers)
		if err != nil {
			return nil, nil, err
		}
	}

	if flatCenters.Rank() != 2 || flatCenters.Shape[0] != flat.Shape[0] {
		return nil, nil, fmt.Errorf("%w: %d frames but %v beam centers",
			stack.ErrDimensionMismatch, flat.Shape[0], flatCenters.Shape)
	}
	if flatCenters.Shape[1] != 2 {
		return nil, nil, fmt.Errorf("%w: beam centers must be (y, x) pairs, got arity %d",
			stack.ErrDimensionMismatch, flatCenters.Shape[1])
	}

	n, h, w := flat.Shape[0], flat.Shape[1], flat.Shape[2]
	frameSize := h * w
	edge := 2*radius + 1

	out := stack.NewMasked(n, edge, edge)
	var failures []stack.FrameError

	for i := 0; i < n; i++ {
		cy := int(flatCenters.Data[2*i])
		cx := int(flatCenters.Data[2*i+1])
		loY, hiY := cy-radius, cy+radius
		loX, hiX := cx-radius, cx+radius

		dstBase := i * edge * edge
		if loY < 0 || loX < 0 || hiY >= h || hiX >= w {
			// Beam too close to the detector edge for this radius: mask
			// the whole window and report, rather than read out of range.
			for p := dstBase; p < dstBase+edge*edge; p++ {
				out.Mask[p] = true
			}
			failures = append(failures, stack.FrameError{
				Index: i,
				Err: fmt.Errorf("%w: window [%d:%d, %d:%d] leaves %dx%d frame",
					stack.ErrOutOfBounds, loY, hiY, loX, hiX, h, w),
			})
			continue
		}

		srcBase := i * frameSize
		for y := 0; y < edge; y++ {
			srcRow := srcBase + (loY+y)*w + loX
			dstRow := dstBase + y*edge
			copy(out.Data[dstRow:dstRow+edge], flat.Data[srcRow:srcRow+edge])
			if flat.Mask != nil {
				copy(out.Mask[dstRow:dstRow+edge], flat.Mask[srcRow:srcRow+edge])
			}
		}
	}

	shaped, err := out.WithShape(append(append([]int(nil), leading...), edge, edge)...)
	if err != nil {
		return nil, nil, err
	}
	return shaped, failures, nil
}
