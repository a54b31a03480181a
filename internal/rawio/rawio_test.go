package rawio

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sedmap/pkg/stack"
)

func writeInt16(t *testing.T, path string, values []int16) {
	t.Helper()
	buf := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	require.NoError(t, os.WriteFile(path, buf, 0644))
}

func TestLoadInt16Stack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.raw")
	writeInt16(t, path, []int16{0, 1, -2, 3, 1000, -32768, 32767, 42})

	frames, err := LoadInt16Stack(path, 2, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2}, frames.Shape)
	assert.Equal(t, []float64{0, 1, -2, 3, 1000, -32768, 32767, 42}, frames.Data)
}

func TestLoadInt16StackSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.raw")
	writeInt16(t, path, make([]int16, 7))

	_, err := LoadInt16Stack(path, 2, 2, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, stack.ErrDimensionMismatch))
}

func TestLoadInt16StackValidation(t *testing.T) {
	_, err := LoadInt16Stack("whatever.raw", 0, 2, 2)
	assert.True(t, errors.Is(err, stack.ErrInvalidArgument))

	_, err = LoadInt16Stack(filepath.Join(t.TempDir(), "missing.raw"), 1, 2, 2)
	assert.Error(t, err)
}

func TestSaveFloat64RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "profiles.f64")

	a := stack.New(2, 3)
	a.Data = []float64{0, 1.5, -2.25, math.Pi, 1e300, -0.0}
	require.NoError(t, SaveFloat64(path, a))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, 8*6)
	for i, want := range a.Data {
		got := math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
		assert.Equal(t, want, got, "element %d", i)
	}
}

func TestSaveCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "map.csv")

	m := stack.New(2, 3)
	m.Data = []float64{0.5, 1, 2, 3, math.NaN(), 5}
	require.NoError(t, SaveCSV(path, m))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0.5,1,2\n3,,5\n", string(raw))
}

func TestSaveCSVRequires2D(t *testing.T) {
	err := SaveCSV(filepath.Join(t.TempDir(), "map.csv"), stack.New(6))
	require.Error(t, err)
	assert.True(t, errors.Is(err, stack.ErrShape))
}
