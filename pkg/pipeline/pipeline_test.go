package pipeline

import (
	"errors"
	"io"
	"math"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sedmap/pkg/config"
	"sedmap/pkg/stack"
)

// syntheticScan builds a 20-frame acquisition of 33x33 detector frames.
//
// Every frame holds a direct-beam blob (intensity 200) plus a diffraction
// streak of intensity 150 at 30° through the beam, over a background of 1.
// The beam sits at x=12 for frames 0-9 and at x=17 for frames 11-19;
// frame 10 is a flyback artifact halfway between, which the geometry
// resolver must reject. Frame 0 is before the scan start.
func syntheticScan() *stack.Array {
	const thetaDeg = 30.0
	frames := stack.New(20, 33, 33)
	for i := range frames.Data {
		frames.Data[i] = 1
	}

	beamX := func(i int) int {
		switch {
		case i < 10:
			return 12
		case i == 10:
			return 14
		default:
			return 17
		}
	}

	sin, cos := math.Sincos(thetaDeg * math.Pi / 180)
	for i := 0; i < 20; i++ {
		cy, cx := 16, beamX(i)
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				frames.Set(200, i, cy+dy, cx+dx)
			}
		}
		for k := 3.0; k <= 9; k++ {
			dy := int(math.Round(k * sin))
			dx := int(math.Round(k * cos))
			frames.Set(150, i, cy+dy, cx+dx)
			frames.Set(150, i, cy-dy, cx-dx)
		}
	}
	return frames
}

func testConfig(method string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Preprocess.DirectBeamThreshold = 160
	cfg.Preprocess.TrimRadius = 10
	cfg.Scan.First = 1
	cfg.Scan.Last = 20
	cfg.Masking.ApplyDetectorMask = false
	cfg.Integration.NPhiBins = 72
	cfg.Integration.QMin = 2
	cfg.Integration.QMax = 10
	cfg.Integration.QCalibration = 1
	cfg.Orientation.Method = method
	cfg.Processing.NumWorkers = 2
	return cfg
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestMapOrientationEndToEnd(t *testing.T) {
	res, err := New(testConfig("harmonic_analysis"), quietLogger()).MapOrientation(syntheticScan())
	require.NoError(t, err)
	assert.Empty(t, res.FrameErrors)

	// Frame 0 is before the scan start, frame 10 is the flyback; the rest
	// form two rows of nine.
	require.Len(t, res.Geometry.Valid, 20)
	assert.False(t, res.Geometry.Valid[0])
	assert.False(t, res.Geometry.Valid[10])
	for i := 1; i < 20; i++ {
		if i == 10 {
			continue
		}
		assert.True(t, res.Geometry.Valid[i], "frame %d", i)
	}
	rows, cols := res.Geometry.Shape()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 9, cols)

	// Beam centers of the symmetric blob are exact.
	assert.Equal(t, []int{20, 2}, res.BeamCenters.Shape)
	assert.Equal(t, 16.0, res.BeamCenters.At(5, 0))
	assert.Equal(t, 12.0, res.BeamCenters.At(5, 1))
	assert.Equal(t, 17.0, res.BeamCenters.At(15, 1))

	assert.Equal(t, []int{18, 21, 21}, res.Centered.Shape)
	assert.Equal(t, []int{18, 72}, res.Profiles.Shape)
	assert.Len(t, res.PhiBins, 72)
	assert.Nil(t, res.Parameters)

	require.Equal(t, []int{2, 9}, res.OrientationMap.Shape)
	want := 30 * math.Pi / 180
	for i, got := range res.OrientationMap.Data {
		assert.InDelta(t, want, got, 0.2, "scan point %d", i)
		// Every scan point sees the same pattern relative to its own beam,
		// so the estimates agree exactly.
		assert.Equal(t, res.OrientationMap.Data[0], got, "scan point %d", i)
	}
}

func TestMapOrientationPeakSearchMethod(t *testing.T) {
	res, err := New(testConfig("argmax"), quietLogger()).MapOrientation(syntheticScan())
	require.NoError(t, err)

	require.Equal(t, []int{2, 9}, res.OrientationMap.Shape)
	for i, got := range res.OrientationMap.Data {
		assert.InDelta(t, 30*math.Pi/180, got, 0.2, "scan point %d", i)
	}
}

func TestMapOrientationPrincipalAxisMethod(t *testing.T) {
	res, err := New(testConfig("principal_axis"), quietLogger()).MapOrientation(syntheticScan())
	require.NoError(t, err)
	assert.Empty(t, res.FrameErrors)

	// Principal axes bypass crown integration entirely.
	assert.Nil(t, res.Profiles)
	assert.Nil(t, res.PhiBins)
	require.Equal(t, []int{2, 9, 3}, res.Parameters.Shape)
	require.Equal(t, []int{2, 9}, res.OrientationMap.Shape)

	for i, got := range res.OrientationMap.Data {
		assert.InDelta(t, 30*math.Pi/180, got, 0.15, "scan point %d", i)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 9; x++ {
			aniso := res.Parameters.At(y, x, 1)
			aspect := res.Parameters.At(y, x, 2)
			assert.GreaterOrEqual(t, aniso, 0.0)
			assert.LessOrEqual(t, aniso, 1.0)
			assert.GreaterOrEqual(t, aspect, 1.0)
		}
	}
}

func TestMapOrientationModelFitMethod(t *testing.T) {
	res, err := New(testConfig("model_fitting"), quietLogger()).MapOrientation(syntheticScan())
	require.NoError(t, err)
	assert.Empty(t, res.FrameErrors)

	require.Equal(t, []int{2, 9, 3}, res.Parameters.Shape)
	for i, got := range res.OrientationMap.Data {
		assert.InDelta(t, 30*math.Pi/180, got, 0.25, "scan point %d", i)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 9; x++ {
			eta := res.Parameters.At(y, x, 1)
			assert.Greater(t, eta, 0.0)
			assert.Less(t, eta, 1.0)
		}
	}
}

// edgeBeamScan is syntheticScan with frame 4's beam moved to y=3: close
// enough to the detector edge that the trim window of radius 10 cannot be
// cut, so centering this frame must fail while the scan geometry is
// unaffected (the fast-scan x coordinate stays 12).
func edgeBeamScan() *stack.Array {
	frames := syntheticScan()
	for y := 0; y < 33; y++ {
		for x := 0; x < 33; x++ {
			frames.Set(1, 4, y, x)
		}
	}
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			frames.Set(200, 4, 3+dy, 12+dx)
		}
	}
	return frames
}

func TestMapOrientationIsolatesCenteringFailures(t *testing.T) {
	for _, method := range []string{"harmonic_analysis", "argmax", "model_fitting", "principal_axis"} {
		t.Run(method, func(t *testing.T) {
			res, err := New(testConfig(method), quietLogger()).MapOrientation(edgeBeamScan())
			require.NoError(t, err, "one bad frame must not abort the batch")

			// Frame 4 of the acquisition is the 4th valid frame (frame 0
			// precedes the scan start).
			const failed = 3
			require.NotEmpty(t, res.FrameErrors)
			assert.Equal(t, failed, res.FrameErrors[0].Index)
			assert.True(t, errors.Is(res.FrameErrors[0], stack.ErrOutOfBounds))

			require.Equal(t, []int{2, 9}, res.OrientationMap.Shape)
			for i, got := range res.OrientationMap.Data {
				if i == failed {
					assert.True(t, math.IsNaN(got), "failed frame must not carry a fabricated angle")
					continue
				}
				assert.InDelta(t, 30*math.Pi/180, got, 0.25, "scan point %d", i)
			}

			if res.Parameters != nil {
				for k := 0; k < 3; k++ {
					assert.True(t, math.IsNaN(res.Parameters.At(0, failed, k)),
						"parameter %d of the failed frame", k)
				}
			}
		})
	}
}

func TestMapOrientationFillsFailedPoints(t *testing.T) {
	cfg := testConfig("harmonic_analysis")
	cfg.Postprocess.FillFailedPoints = true

	res, err := New(cfg, quietLogger()).MapOrientation(syntheticScan())
	require.NoError(t, err)

	// No frame failed here, so filling is a no-op; the point is that the
	// postprocess step leaves a healthy map intact.
	require.Equal(t, []int{2, 9}, res.OrientationMap.Shape)
	for i, got := range res.OrientationMap.Data {
		assert.False(t, math.IsNaN(got), "scan point %d", i)
		assert.InDelta(t, 30*math.Pi/180, got, 0.2, "scan point %d", i)
	}
}

func TestMapOrientationRequiresScanLimits(t *testing.T) {
	cfg := testConfig("harmonic_analysis")
	cfg.Scan.First = 0
	cfg.Scan.Last = 0

	_, err := New(cfg, quietLogger()).MapOrientation(syntheticScan())
	require.Error(t, err)
	assert.True(t, errors.Is(err, stack.ErrInvalidArgument))
}

func TestMapOrientationRejectsUnknownMethod(t *testing.T) {
	_, err := New(testConfig("nonsense"), quietLogger()).MapOrientation(syntheticScan())
	require.Error(t, err)
	assert.True(t, errors.Is(err, stack.ErrInvalidConfiguration))
}

func TestMapOrientationRequiresRank3Stack(t *testing.T) {
	_, err := New(testConfig("harmonic_analysis"), quietLogger()).MapOrientation(stack.New(33, 33))
	require.Error(t, err)
	assert.True(t, errors.Is(err, stack.ErrShape))

	_, err = New(testConfig("harmonic_analysis"), quietLogger()).MapOrientation(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, stack.ErrShape))
}

func TestMapOrientationNilLoggerFallsBack(t *testing.T) {
	p := New(testConfig("harmonic_analysis"), nil)
	assert.NotNil(t, p.logger)
}
