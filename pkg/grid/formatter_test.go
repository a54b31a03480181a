package grid

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sedmap/pkg/stack"
)

func TestNewFormatterValidation(t *testing.T) {
	_, err := NewFormatter()
	assert.True(t, errors.Is(err, stack.ErrInvalidArgument))

	_, err = NewFormatter(4, 0)
	assert.True(t, errors.Is(err, stack.ErrInvalidArgument))

	f, err := NewFormatter(4, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 3}, f.GridShape())
	assert.Equal(t, 12, f.FlatLen())
}

func TestFlattenUnflattenRoundTrip(t *testing.T) {
	f, err := NewFormatter(2, 3)
	require.NoError(t, err)

	// A (2, 3, 5, 5) grid of frames.
	in := stack.NewMasked(2, 3, 5, 5)
	for i := range in.Data {
		in.Data[i] = float64(i)
	}
	in.Mask[17] = true

	flat, err := f.Flatten(in)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 5, 5}, flat.Shape)

	back, err := f.Unflatten(flat)
	require.NoError(t, err)
	if diff := cmp.Diff(in, back); diff != "" {
		t.Errorf("round trip changed the array (-want +got):\n%s", diff)
	}

	// The conversion is a view: writes through one layout are visible in
	// the other.
	flat.Data[0] = -7
	assert.Equal(t, -7.0, in.Data[0])
}

func TestFlattenRankBounds(t *testing.T) {
	f, err := NewFormatter(6)
	require.NoError(t, err)

	_, err = f.Flatten(stack.New(6))
	assert.True(t, errors.Is(err, stack.ErrShape), "rank 1 input")

	_, err = f.Flatten(stack.New(6, 2, 2, 2, 2))
	assert.True(t, errors.Is(err, stack.ErrShape), "rank 5 input")
}

func TestFlattenLeadingDimensionMismatch(t *testing.T) {
	f, err := NewFormatter(2, 3)
	require.NoError(t, err)

	_, err = f.Flatten(stack.New(3, 2, 5, 5))
	assert.True(t, errors.Is(err, stack.ErrShape))
}

func TestUnflattenLeadingDimensionMismatch(t *testing.T) {
	f, err := NewFormatter(2, 3)
	require.NoError(t, err)

	_, err = f.Unflatten(stack.New(7, 5))
	assert.True(t, errors.Is(err, stack.ErrShape))

	out, err := f.Unflatten(stack.New(6))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, out.Shape)
}
