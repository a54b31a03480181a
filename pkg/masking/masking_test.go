package masking

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sedmap/pkg/stack"
)

func TestCrossMaskCoversChipBoundaries(t *testing.T) {
	m := CrossMask(8, 8)
	require.Len(t, m, 64)

	for x := 0; x < 8; x++ {
		assert.True(t, m[3*8+x], "row 3, col %d", x)
		assert.True(t, m[4*8+x], "row 4, col %d", x)
	}
	for y := 0; y < 8; y++ {
		assert.True(t, m[y*8+3], "row %d, col 3", y)
		assert.True(t, m[y*8+4], "row %d, col 4", y)
	}

	// Corners stay live.
	assert.False(t, m[0])
	assert.False(t, m[7])
	assert.False(t, m[7*8])
	assert.False(t, m[63])
}

func TestApplyStampsValueAndMask(t *testing.T) {
	frames := stack.New(2, 4, 4)
	for i := range frames.Data {
		frames.Data[i] = 10
	}

	err := Apply(frames, CrossMask(4, 4), DefaultMaskValue)
	require.NoError(t, err)
	require.True(t, frames.Masked())

	dead := CrossMask(4, 4)
	for i := 0; i < 2; i++ {
		for p, d := range dead {
			off := i*16 + p
			if d {
				assert.Equal(t, DefaultMaskValue, frames.Data[off])
				assert.True(t, frames.Mask[off])
			} else {
				assert.Equal(t, 10.0, frames.Data[off])
				assert.False(t, frames.Mask[off])
			}
		}
	}
}

func TestApplyValidation(t *testing.T) {
	err := Apply(stack.New(4, 4), CrossMask(4, 4), DefaultMaskValue)
	assert.True(t, errors.Is(err, stack.ErrShape))

	err = Apply(stack.New(1, 4, 4), CrossMask(8, 8), DefaultMaskValue)
	assert.True(t, errors.Is(err, stack.ErrDimensionMismatch))
}
