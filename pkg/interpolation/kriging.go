// Package interpolation fills failed scan points in per-point maps by
// ordinary kriging over their valid neighbors. Frames whose estimation
// failed leave NaN holes in the orientation map; when a map is rendered or
// analyzed as a continuous field those holes can be interpolated from the
// surrounding scan points.
//
// Orientation angles are π-periodic, so they are never averaged directly:
// the angle is doubled onto the unit circle, the cos/sin component fields
// are kriged independently, and the filled angle is recovered from their
// ratio. Scalar fields (anisotropy, degree of alignment) are kriged as-is.
package interpolation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"

	"sedmap/pkg/stack"
)

// VariogramModel selects the semivariance model used by the kriging system.
type VariogramModel int

const (
	// Spherical reaches the sill exactly at the range. The default: scan
	// maps have short-range correlation with a hard cutoff at grain
	// boundaries.
	Spherical VariogramModel = iota

	// Exponential approaches the sill asymptotically.
	Exponential

	// Gaussian is smooth at the origin; use for very smooth fields.
	Gaussian
)

// semivariance evaluates the model at lag h.
func (m VariogramModel) semivariance(h, rng, sill, nugget float64) float64 {
	if h <= 0 {
		return 0
	}
	switch m {
	case Exponential:
		return nugget + sill*(1-math.Exp(-3*h/rng))
	case Gaussian:
		return nugget + sill*(1-math.Exp(-3*h*h/(rng*rng)))
	default: // Spherical
		if h >= rng {
			return nugget + sill
		}
		r := h / rng
		return nugget + sill*(1.5*r-0.5*r*r*r)
	}
}

// Params holds the kriging configuration. Construct with DefaultParams and
// override fields as needed.
type Params struct {
	// Range is the variogram range in scan-grid units: the lag beyond
	// which points no longer correlate.
	Range float64

	// Sill is the variogram plateau.
	Sill float64

	// Nugget is the semivariance at zero lag; a small positive value
	// regularizes the kriging system.
	Nugget float64

	// Model selects the semivariance model.
	Model VariogramModel

	// Neighbors is the maximum number of valid scan points entering each
	// hole's kriging system.
	Neighbors int
}

// DefaultParams returns the standard configuration: a spherical variogram
// with a range of 4 scan points and 16 neighbors per hole.
func DefaultParams() Params {
	return Params{
		Range:     4,
		Sill:      1,
		Nugget:    1e-3,
		Model:     Spherical,
		Neighbors: 16,
	}
}

func (p Params) validate() error {
	if p.Range <= 0 || p.Sill <= 0 || p.Nugget < 0 {
		return fmt.Errorf("%w: variogram (range %g, sill %g, nugget %g) must be positive",
			stack.ErrInvalidConfiguration, p.Range, p.Sill, p.Nugget)
	}
	if p.Neighbors < 1 {
		return fmt.Errorf("%w: at least one kriging neighbor is required, got %d",
			stack.ErrInvalidConfiguration, p.Neighbors)
	}
	return nil
}

// samplePoint is one valid scan point in grid coordinates, carrying its
// field value so neighbor searches return values directly.
type samplePoint struct {
	x, y, value float64
}

// Compare implements kdtree.Comparable.
func (p samplePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(samplePoint)
	switch d {
	case 0:
		return p.x - q.x
	case 1:
		return p.y - q.y
	default:
		panic("illegal dimension")
	}
}

// Dims implements kdtree.Comparable.
func (p samplePoint) Dims() int { return 2 }

// Distance implements kdtree.Comparable; squared Euclidean distance.
func (p samplePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(samplePoint)
	dx := p.x - q.x
	dy := p.y - q.y
	return dx*dx + dy*dy
}

// samplePoints satisfies kdtree.Interface.
type samplePoints []samplePoint

func (p samplePoints) Index(i int) kdtree.Comparable        { return p[i] }
func (p samplePoints) Len() int                             { return len(p) }
func (p samplePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p samplePoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(samplePlane{samplePoints: p, Dim: d},
		kdtree.MedianOfRandoms(samplePlane{samplePoints: p, Dim: d}, 100))
}

// samplePlane implements sort.Interface and kdtree.SortSlicer.
type samplePlane struct {
	samplePoints
	kdtree.Dim
}

func (p samplePlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.samplePoints[i].x < p.samplePoints[j].x
	case 1:
		return p.samplePoints[i].y < p.samplePoints[j].y
	default:
		panic("illegal dimension")
	}
}

func (p samplePlane) Slice(start, end int) kdtree.SortSlicer {
	return samplePlane{samplePoints: p.samplePoints[start:end], Dim: p.Dim}
}

func (p samplePlane) Swap(i, j int) {
	p.samplePoints[i], p.samplePoints[j] = p.samplePoints[j], p.samplePoints[i]
}

// FillMap returns a copy of a rank-2 scalar map with every NaN entry
// replaced by its ordinary-kriging estimate over the nearest valid scan
// points. A map with no valid entry is a degenerate input; a map with no
// holes is returned as an unmodified copy.
func FillMap(m *stack.Array, p Params) (*stack.Array, error) {
	if m.Rank() != 2 {
		return nil, fmt.Errorf("%w: expected a 2D map, got rank %d", stack.ErrShape, m.Rank())
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	rows, cols := m.Shape[0], m.Shape[1]

	var samples samplePoints
	var holes []int
	for i, v := range m.Data {
		if math.IsNaN(v) {
			holes = append(holes, i)
			continue
		}
		samples = append(samples, samplePoint{
			x:     float64(i % cols),
			y:     float64(i / cols),
			value: v,
		})
	}

	out := m.Clone()
	if len(holes) == 0 {
		return out, nil
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: cannot fill a map with no valid scan points (%dx%d)",
			stack.ErrDegenerate, rows, cols)
	}

	tree := kdtree.New(samples, true)
	for _, i := range holes {
		q := samplePoint{x: float64(i % cols), y: float64(i / cols)}

		keeper := kdtree.NewNKeeper(p.Neighbors)
		tree.NearestSet(keeper, q)

		var neighbors []samplePoint
		for _, item := range keeper.Heap {
			if item.Comparable == nil {
				continue // unfilled sentinel
			}
			neighbors = append(neighbors, item.Comparable.(samplePoint))
		}
		out.Data[i] = krige(q, neighbors, p)
	}
	return out, nil
}

// FillOrientationMap fills the NaN holes of a rank-2 orientation map
// (radians, canonical range [0, π)). The angles are doubled onto the unit
// circle and the component fields are kriged independently, so orientations
// near the 0/π wrap average correctly.
func FillOrientationMap(m *stack.Array, p Params) (*stack.Array, error) {
	if m.Rank() != 2 {
		return nil, fmt.Errorf("%w: expected a 2D orientation map, got rank %d", stack.ErrShape, m.Rank())
	}

	cosField := stack.New(m.Shape...)
	sinField := stack.New(m.Shape...)
	for i, theta := range m.Data {
		if math.IsNaN(theta) {
			cosField.Data[i] = math.NaN()
			sinField.Data[i] = math.NaN()
			continue
		}
		sin, cos := math.Sincos(2 * theta)
		cosField.Data[i] = cos
		sinField.Data[i] = sin
	}

	filledCos, err := FillMap(cosField, p)
	if err != nil {
		return nil, err
	}
	filledSin, err := FillMap(sinField, p)
	if err != nil {
		return nil, err
	}

	out := m.Clone()
	for i, theta := range m.Data {
		if !math.IsNaN(theta) {
			continue
		}
		a := 0.5 * math.Atan2(filledSin.Data[i], filledCos.Data[i])
		a = math.Mod(a, math.Pi)
		if a < 0 {
			a += math.Pi
		}
		out.Data[i] = a
	}
	return out, nil
}

// krige solves the ordinary-kriging system for one hole and returns the
// weighted estimate. A singular system (possible with a zero nugget and
// collinear neighbors) falls back to the arithmetic mean of the neighbors.
func krige(q samplePoint, neighbors []samplePoint, p Params) float64 {
	k := len(neighbors)

	// Semivariance matrix bordered with the unbiasedness constraint.
	a := mat.NewDense(k+1, k+1, nil)
	b := mat.NewVecDense(k+1, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			h := math.Sqrt(neighbors[i].Distance(neighbors[j]))
			a.Set(i, j, p.Model.semivariance(h, p.Range, p.Sill, p.Nugget))
		}
		a.Set(i, k, 1)
		a.Set(k, i, 1)
		b.SetVec(i, p.Model.semivariance(math.Sqrt(neighbors[i].Distance(q)), p.Range, p.Sill, p.Nugget))
	}
	b.SetVec(k, 1)

	var w mat.VecDense
	if err := w.SolveVec(a, b); err != nil {
		sum := 0.0
		for _, n := range neighbors {
			sum += n.value
		}
		return sum / float64(k)
	}

	est := 0.0
	for i, n := range neighbors {
		est += w.AtVec(i) * n.value
	}
	return est
}
