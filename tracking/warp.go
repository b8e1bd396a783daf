// Package tracking tracks planar image regions between frames by aligning a quad of one image
// with another image under a chosen motion model.
package tracking

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/autodiff"
	"go.viam.com/sfm/rimage/transform"
)

// Model names a warp parametrization.
type Model string

// The supported motion models.
const (
	TranslationModel              Model = "translation"
	TranslationRotationModel      Model = "translation_rotation"
	TranslationScaleModel         Model = "translation_scale"
	TranslationRotationScaleModel Model = "translation_rotation_scale"
	AffineModel                   Model = "affine"
	HomographyModel               Model = "homography"
)

// Models lists every supported model.
var Models = []Model{
	TranslationModel,
	TranslationRotationModel,
	TranslationScaleModel,
	TranslationRotationScaleModel,
	AffineModel,
	HomographyModel,
}

// NumParameters returns the size of the model's parameter vector, or 0 for an unknown model.
func (m Model) NumParameters() int {
	switch m {
	case TranslationModel:
		return 2
	case TranslationRotationModel, TranslationScaleModel:
		return 3
	case TranslationRotationScaleModel:
		return 4
	case AffineModel:
		return 6
	case HomographyModel:
		return 8
	}
	return 0
}

// Valid reports whether m is a known model.
func (m Model) Valid() bool {
	return m.NumParameters() > 0
}

// Quad is the four corners of a tracked region, in order around its boundary.
type Quad [4]r2.Point

// QuadFromPoints returns the first four points as a quad.
func QuadFromPoints(pts []r2.Point) (Quad, error) {
	var q Quad
	if len(pts) < 4 {
		return q, errors.Errorf("a quad needs 4 points, got %d", len(pts))
	}
	copy(q[:], pts[:4])
	return q, nil
}

// Centroid returns the mean of the corners.
func (q Quad) Centroid() r2.Point {
	var c r2.Point
	for _, p := range q {
		c = c.Add(p)
	}
	return c.Mul(0.25)
}

// AverageDistanceFromCentroid returns the mean corner distance to the centroid.
func (q Quad) AverageDistanceFromCentroid() float64 {
	c := q.Centroid()
	var d float64
	for _, p := range q {
		d += p.Sub(c).Norm()
	}
	return d / 4
}

// Contains reports whether p lies inside the quad, treating it as the two triangles (0, 1, 2)
// and (0, 2, 3).
func (q Quad) Contains(p r2.Point) bool {
	return inTriangle(q[0], q[1], q[2], p) || inTriangle(q[0], q[2], q[3], p)
}

func inTriangle(a, b, c, p r2.Point) bool {
	d1 := b.Sub(a).Cross(p.Sub(a))
	d2 := c.Sub(b).Cross(p.Sub(b))
	d3 := a.Sub(c).Cross(p.Sub(c))
	hasNeg := d1 < 0 || d2 < 0 || d3 < 0
	hasPos := d1 > 0 || d2 > 0 || d3 > 0
	return !(hasNeg && hasPos)
}

// Bounds returns the axis aligned bounding box of the corners.
func (q Quad) Bounds() (lo, hi r2.Point) {
	lo, hi = q[0], q[0]
	for _, p := range q[1:] {
		lo.X = math.Min(lo.X, p.X)
		lo.Y = math.Min(lo.Y, p.Y)
		hi.X = math.Max(hi.X, p.X)
		hi.Y = math.Max(hi.Y, p.Y)
	}
	return lo, hi
}

// A Warp maps points of a reference image into a target image. Rotation, scale and affine models
// act about the centroid of the reference quad so their parameters stay small.
type Warp interface {
	Model() Model
	NumParameters() int
	// Parameters returns a copy of the current parameters.
	Parameters() []float64
	SetParameters(params []float64) error
	Forward(pt r2.Point) r2.Point
}

// NewWarp returns the warp of the given model estimated from four corresponding corners.
func NewWarp(model Model, quad1, quad2 Quad) (Warp, error) {
	return newModelWarp(model, quad1, quad2)
}

type modelWarp struct {
	model    Model
	centroid r2.Point
	params   []float64
}

func newModelWarp(model Model, quad1, quad2 Quad) (*modelWarp, error) {
	if !model.Valid() {
		return nil, errors.Errorf("unknown warp model %q", model)
	}
	w := &modelWarp{
		model:    model,
		centroid: quad1.Centroid(),
		params:   make([]float64, model.NumParameters()),
	}
	offset := quad2.Centroid().Sub(quad1.Centroid())
	switch model {
	case TranslationModel:
		w.params[0], w.params[1] = offset.X, offset.Y
	case TranslationRotationModel:
		w.params[0], w.params[1] = offset.X, offset.Y
		w.params[2] = rotationBetween(quad1, quad2)
	case TranslationScaleModel:
		w.params[0], w.params[1] = offset.X, offset.Y
		w.params[2] = scaleBetween(quad1, quad2) - 1
	case TranslationRotationScaleModel:
		w.params[0], w.params[1] = offset.X, offset.Y
		w.params[2] = rotationBetween(quad1, quad2)
		w.params[3] = scaleBetween(quad1, quad2) - 1
	case AffineModel:
		if err := w.estimateAffine(quad1, quad2); err != nil {
			return nil, err
		}
	case HomographyModel:
		h, err := transform.EstimateHomography2D(quad1[:], quad2[:])
		if err != nil {
			return nil, err
		}
		if h[2][2] == 0 {
			return nil, errors.New("homography maps the origin to infinity")
		}
		h = h.Normalized()
		for i := range w.params {
			w.params[i] = h[i/3][i%3]
		}
		w.params[0]--
		w.params[4]--
	}
	for _, p := range w.params {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, errors.Errorf("degenerate %s warp", model)
		}
	}
	return w, nil
}

// scaleBetween is the ratio of the mean corner to centroid distances.
func scaleBetween(quad1, quad2 Quad) float64 {
	return quad2.AverageDistanceFromCentroid() / quad1.AverageDistanceFromCentroid()
}

// rotationBetween solves the orthogonal Procrustes problem for the centred corners and returns
// the rotation angle.
func rotationBetween(quad1, quad2 Quad) float64 {
	c1, c2 := quad1.Centroid(), quad2.Centroid()
	corr := mat.NewDense(2, 2, nil)
	for i := range quad1 {
		a := quad1[i].Sub(c1)
		b := quad2[i].Sub(c2)
		corr.Set(0, 0, corr.At(0, 0)+a.X*b.X)
		corr.Set(0, 1, corr.At(0, 1)+a.X*b.Y)
		corr.Set(1, 0, corr.At(1, 0)+a.Y*b.X)
		corr.Set(1, 1, corr.At(1, 1)+a.Y*b.Y)
	}
	var svd mat.SVD
	if !svd.Factorize(corr, mat.SVDFull) {
		return 0
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		v.Set(0, 1, -v.At(0, 1))
		v.Set(1, 1, -v.At(1, 1))
		r.Mul(&v, u.T())
	}
	return math.Atan2(r.At(1, 0), r.At(0, 0))
}

// estimateAffine fits the six affine parameters to the corners in the least squares sense.
func (w *modelWarp) estimateAffine(quad1, quad2 Quad) error {
	a := mat.NewDense(8, 6, nil)
	b := mat.NewVecDense(8, nil)
	for i := range quad1 {
		o := quad1[i].Sub(w.centroid)
		a.SetRow(2*i, []float64{1, 0, o.X, o.Y, 0, 0})
		a.SetRow(2*i+1, []float64{0, 1, 0, 0, o.X, o.Y})
		b.SetVec(2*i, quad2[i].X-w.centroid.X-o.X)
		b.SetVec(2*i+1, quad2[i].Y-w.centroid.Y-o.Y)
	}
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return errors.Wrap(err, "degenerate affine warp")
	}
	for i := range w.params {
		w.params[i] = x.AtVec(i)
	}
	return nil
}

func (w *modelWarp) Model() Model { return w.model }

func (w *modelWarp) NumParameters() int { return len(w.params) }

func (w *modelWarp) Parameters() []float64 {
	return append([]float64(nil), w.params...)
}

func (w *modelWarp) SetParameters(params []float64) error {
	if len(params) != len(w.params) {
		return errors.Errorf("%s warp takes %d parameters, got %d", w.model, len(w.params), len(params))
	}
	copy(w.params, params)
	return nil
}

func (w *modelWarp) Forward(pt r2.Point) r2.Point {
	x, y := forward(w, autodiff.Floats(w.params), pt.X, pt.Y)
	return r2.Point{X: x.Real(), Y: y.Real()}
}

func (w *modelWarp) String() string {
	return fmt.Sprintf("%s%v", w.model, w.params)
}

// forward maps (x, y) with the parameters p, which may carry derivatives.
func forward[T autodiff.Scalar[T]](w *modelWarp, p []T, x, y float64) (T, T) {
	ox, oy := x-w.centroid.X, y-w.centroid.Y
	switch w.model {
	case TranslationModel:
		return p[0].AddConst(x), p[1].AddConst(y)
	case TranslationRotationModel:
		return rotateScale(w, p[0], p[1], p[2], p[2].Const(1), ox, oy)
	case TranslationScaleModel:
		scale := p[2].AddConst(1)
		return scale.Scale(ox).Add(p[0]).AddConst(w.centroid.X),
			scale.Scale(oy).Add(p[1]).AddConst(w.centroid.Y)
	case TranslationRotationScaleModel:
		return rotateScale(w, p[0], p[1], p[2], p[3].AddConst(1), ox, oy)
	case AffineModel:
		x2 := p[2].AddConst(1).Scale(ox).Add(p[3].Scale(oy))
		y2 := p[4].Scale(ox).Add(p[5].AddConst(1).Scale(oy))
		return x2.Add(p[0]).AddConst(w.centroid.X), y2.Add(p[1]).AddConst(w.centroid.Y)
	case HomographyModel:
		u := p[0].AddConst(1).Scale(x).Add(p[1].Scale(y)).Add(p[2])
		v := p[3].Scale(x).Add(p[4].AddConst(1).Scale(y)).Add(p[5])
		s := p[6].Scale(x).Add(p[7].Scale(y)).AddConst(1)
		return u.Div(s), v.Div(s)
	}
	panic(fmt.Sprintf("unknown warp model %q", w.model))
}

func rotateScale[T autodiff.Scalar[T]](w *modelWarp, tx, ty, theta, scale T, ox, oy float64) (T, T) {
	c, s := theta.Cos().Mul(scale), theta.Sin().Mul(scale)
	x2 := c.Scale(ox).Sub(s.Scale(oy)).Add(tx).AddConst(w.centroid.X)
	y2 := s.Scale(ox).Add(c.Scale(oy)).Add(ty).AddConst(w.centroid.Y)
	return x2, y2
}
