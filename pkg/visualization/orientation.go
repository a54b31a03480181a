// Package visualization renders pipeline outputs to images: orientation
// maps on a cyclic color wheel and raw detector frames in grayscale. It is
// a pure consumer of the core's outputs.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	colorful "github.com/lucasb-eyer/go-colorful"

	"sedmap/pkg/stack"
)

// OrientationImage renders a rank-2 orientation map (radians, canonical
// range [0, π)) onto a cyclic HSV color wheel: the hue runs through a full
// turn as the angle runs through π, so 0 and π, which are the same
// physical orientation, land on the same color. NaN entries (failed
// frames) render black.
func OrientationImage(m *stack.Array) (image.Image, error) {
	if m.Rank() != 2 {
		return nil, fmt.Errorf("%w: expected a 2D orientation map, got rank %d", stack.ErrShape, m.Rank())
	}
	rows, cols := m.Shape[0], m.Shape[1]

	img := image.NewRGBA(image.Rect(0, 0, cols, rows))
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			theta := m.Data[y*cols+x]
			if math.IsNaN(theta) {
				img.Set(x, y, color.Black)
				continue
			}
			hue := math.Mod(theta/math.Pi*360, 360)
			if hue < 0 {
				hue += 360
			}
			img.Set(x, y, colorful.Hsv(hue, 0.9, 0.95))
		}
	}
	return img, nil
}

// DetectorImage renders one frame of a rank-3 stack in grayscale, scaling
// intensities linearly so that maxIntensity maps to white. Masked pixels
// and the negative masking value render black.
func DetectorImage(frames *stack.Array, index int, maxIntensity float64) (image.Image, error) {
	if frames.Rank() != 3 {
		return nil, fmt.Errorf("%w: expected a 3D frame stack, got rank %d", stack.ErrShape, frames.Rank())
	}
	if index < 0 || index >= frames.Shape[0] {
		return nil, fmt.Errorf("%w: frame index %d outside stack of %d", stack.ErrInvalidArgument, index, frames.Shape[0])
	}
	if maxIntensity <= 0 {
		return nil, fmt.Errorf("%w: maxIntensity must be positive", stack.ErrInvalidArgument)
	}
	h, w := frames.Shape[1], frames.Shape[2]
	base := index * h * w

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := base + y*w + x
			if frames.Mask != nil && frames.Mask[off] {
				continue
			}
			v := frames.Data[off]
			if v <= 0 {
				continue
			}
			scaled := math.Min(v/maxIntensity, 1)
			img.SetGray16(x, y, color.Gray16{Y: uint16(scaled * 65535)})
		}
	}
	return img, nil
}

// SavePNG writes an image to path, creating parent directories as needed.
func SavePNG(img image.Image, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}
