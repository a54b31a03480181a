package orientation

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sedmap/pkg/integration"
	"sedmap/pkg/stack"
)

func TestFindOrientationPeaksRecoversOrientation(t *testing.T) {
	profiles, phi := cos2Profiles(360, 40.2, 120.0)

	angles, err := FindOrientationPeaks(profiles, phi)
	require.NoError(t, err)

	// Peak search quantizes to bin centers: half a bin of slack on top of
	// the model orientation.
	assert.InDelta(t, 40.2*math.Pi/180, angles.Data[0], 0.01)
	assert.InDelta(t, 120.0*math.Pi/180, angles.Data[1], 0.01)
}

func TestFindOrientationPeaksFoldsHalfRotation(t *testing.T) {
	// All signal sits above the half-rotation; folding must bring it back
	// into [0, π).
	nPhi := 360
	profiles := stack.New(1, nPhi)
	profiles.Data[220] = 50 // spike at phi = 220.5°
	phi := integration.PhiBinCenters(nPhi)

	angles, err := FindOrientationPeaks(profiles, phi)
	require.NoError(t, err)
	assert.InDelta(t, 40.5*math.Pi/180, angles.Data[0], 1e-12)
}

func TestFindOrientationPeaksSkipsNaNBins(t *testing.T) {
	profiles, phi := cos2Profiles(360, 90.0)
	// Poison the folded maximum; the estimator must fall back to the next
	// finite bin rather than return NaN.
	profiles.Data[89] = math.NaN()
	profiles.Data[90] = math.NaN()

	angles, err := FindOrientationPeaks(profiles, phi)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(angles.Data[0]))
	assert.InDelta(t, math.Pi/2, angles.Data[0], 0.05)
}

func TestFindOrientationPeaksAllNaN(t *testing.T) {
	nPhi := 8
	profiles := stack.New(1, nPhi)
	for i := range profiles.Data {
		profiles.Data[i] = math.NaN()
	}

	angles, err := FindOrientationPeaks(profiles, integration.PhiBinCenters(nPhi))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(angles.Data[0]))
}

func TestFindOrientationPeaksRequiresEvenBinning(t *testing.T) {
	profiles := stack.New(1, 5)
	_, err := FindOrientationPeaks(profiles, integration.PhiBinCenters(5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, stack.ErrShape))
}
