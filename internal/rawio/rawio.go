// Package rawio reads acquisition stacks and persists pipeline outputs.
// Detector dumps arrive as raw little-endian int16 frame stacks; results
// are written as raw little-endian float64 blocks or as CSV for 2D maps.
// The processing core never opens files itself; this package is its only
// I/O collaborator.
package rawio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"sedmap/pkg/stack"
)

// LoadInt16Stack reads a raw little-endian int16 dump into a rank-3 stack
// shaped (frames, height, width). The file size must match the dimensions
// exactly.
func LoadInt16Stack(path string, frames, height, width int) (*stack.Array, error) {
	if frames <= 0 || height <= 0 || width <= 0 {
		return nil, fmt.Errorf("%w: stack dimensions must be positive, got (%d, %d, %d)",
			stack.ErrInvalidArgument, frames, height, width)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	n := frames * height * width
	if len(data) != 2*n {
		return nil, fmt.Errorf("%w: %s holds %d bytes, expected %d for (%d, %d, %d) int16",
			stack.ErrDimensionMismatch, path, len(data), 2*n, frames, height, width)
	}

	out := stack.New(frames, height, width)
	for i := 0; i < n; i++ {
		out.Data[i] = float64(int16(binary.LittleEndian.Uint16(data[2*i:])))
	}
	return out, nil
}

// SaveFloat64 writes an array's elements as raw little-endian float64,
// creating parent directories as needed. The shape is not persisted; the
// caller records it out of band.
func SaveFloat64(path string, a *stack.Array) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, v := range a.Data {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return w.Flush()
}

// SaveCSV writes a rank-2 array as comma-separated rows, one scan row per
// line. NaN entries are written as empty fields so spreadsheet tools treat
// them as missing.
func SaveCSV(path string, a *stack.Array) error {
	if a.Rank() != 2 {
		return fmt.Errorf("%w: CSV output requires a 2D array, got rank %d", stack.ErrShape, a.Rank())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	rows, cols := a.Shape[0], a.Shape[1]
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if x > 0 {
				if err := w.WriteByte(','); err != nil {
					return err
				}
			}
			v := a.Data[y*cols+x]
			if v == v { // skip NaN
				if _, err := w.WriteString(strconv.FormatFloat(v, 'g', -1, 64)); err != nil {
					return err
				}
			}
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}
