package preprocess

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sedmap/pkg/stack"
)

func TestCenterFramesCropsAroundBeam(t *testing.T) {
	frames := stack.New(2, 9, 9)
	// Give every pixel a unique value so the window content is checkable.
	for i := range frames.Data {
		frames.Data[i] = float64(i)
	}
	centers := stack.New(2, 2)
	centers.Data = []float64{4, 4, 3, 5}

	out, failures, err := CenterFrames(frames, centers, 1)
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Equal(t, []int{2, 3, 3}, out.Shape)

	// Frame 0 window around (4, 4).
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			want := frames.At(0, 4+dy, 4+dx)
			assert.Equal(t, want, out.At(0, 1+dy, 1+dx))
		}
	}
	// Frame 1 window around (3, 5).
	assert.Equal(t, frames.At(1, 2, 4), out.At(1, 0, 0))
	assert.Equal(t, frames.At(1, 4, 6), out.At(1, 2, 2))
}

func TestCenterFramesTruncatesFractionalCenters(t *testing.T) {
	frames := stack.New(1, 9, 9)
	frames.Set(1, 0, 4, 4)
	centers := stack.New(1, 2)
	centers.Data = []float64{4.9, 4.9} // truncates to (4, 4)

	out, failures, err := CenterFrames(frames, centers, 1)
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Equal(t, 1.0, out.At(0, 1, 1), "window must be anchored at the truncated center")
}

func TestCenterFramesOutOfBoundsWindow(t *testing.T) {
	frames := stack.New(3, 9, 9)
	for i := range frames.Data {
		frames.Data[i] = 1
	}
	centers := stack.New(3, 2)
	centers.Data = []float64{
		4, 4, // fits
		0, 4, // window tops out above the frame
		4, 8, // window runs past the right edge
	}

	out, failures, err := CenterFrames(frames, centers, 2)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, 1, failures[0].Index)
	assert.Equal(t, 2, failures[1].Index)
	for _, fe := range failures {
		assert.True(t, errors.Is(fe, stack.ErrOutOfBounds))
	}

	// The failed frames' windows are fully masked; the good frame is not.
	edge := 5
	for p := 0; p < edge*edge; p++ {
		assert.False(t, out.Mask[p], "frame 0 pixel %d", p)
		assert.True(t, out.Mask[edge*edge+p], "frame 1 pixel %d", p)
		assert.True(t, out.Mask[2*edge*edge+p], "frame 2 pixel %d", p)
	}
}

func TestCenterFramesPropagatesInputMask(t *testing.T) {
	frames := stack.NewMasked(1, 9, 9)
	frames.Mask[4*9+5] = true // pixel (4, 5) inside the window

	centers := stack.New(1, 2)
	centers.Data = []float64{4, 4}

	out, failures, err := CenterFrames(frames, centers, 1)
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.True(t, out.MaskedAt(0, 1, 2))
	assert.False(t, out.MaskedAt(0, 1, 1))
}

func TestCenterFramesGridLayout(t *testing.T) {
	// A rank-4 (2, 3, 9, 9) scan grid with matching (2, 3, 2) centers.
	frames := stack.New(2, 3, 9, 9)
	centers := stack.New(2, 3, 2)
	for i := 0; i < 6; i++ {
		centers.Data[2*i] = 4
		centers.Data[2*i+1] = 4
	}

	out, failures, err := CenterFrames(frames, centers, 2)
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Equal(t, []int{2, 3, 5, 5}, out.Shape)
}

func TestCenterFramesValidation(t *testing.T) {
	frames := stack.New(2, 9, 9)

	_, _, err := CenterFrames(frames, stack.New(2, 2), -1)
	assert.True(t, errors.Is(err, stack.ErrInvalidArgument), "negative radius")

	_, _, err = CenterFrames(stack.New(9, 9), stack.New(1, 2), 1)
	assert.True(t, errors.Is(err, stack.ErrShape), "rank-2 frames")

	_, _, err = CenterFrames(frames, stack.New(3, 2), 1)
	assert.True(t, errors.Is(err, stack.ErrDimensionMismatch), "center count mismatch")

	_, _, err = CenterFrames(frames, stack.New(2, 3), 1)
	assert.True(t, errors.Is(err, stack.ErrDimensionMismatch), "coordinate arity")
}
