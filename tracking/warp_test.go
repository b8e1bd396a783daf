package tracking

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"go.viam.com/sfm/autodiff"
)

var referenceQuad = Quad{{X: 10, Y: 12}, {X: 30, Y: 11}, {X: 31, Y: 29}, {X: 9, Y: 30}}

func mapQuad(q Quad, f func(r2.Point) r2.Point) Quad {
	var out Quad
	for i, p := range q {
		out[i] = f(p)
	}
	return out
}

func similarity(q Quad, theta, scale float64, shift r2.Point) Quad {
	c := q.Centroid()
	cos, sin := math.Cos(theta), math.Sin(theta)
	return mapQuad(q, func(p r2.Point) r2.Point {
		o := p.Sub(c)
		return r2.Point{
			X: scale*(cos*o.X-sin*o.Y) + c.X + shift.X,
			Y: scale*(sin*o.X+cos*o.Y) + c.Y + shift.Y,
		}
	})
}

func TestWarpRoundTrip(t *testing.T) {
	shift := r2.Point{X: 3.5, Y: -2}
	cases := []struct {
		model Model
		quad2 Quad
	}{
		{TranslationModel, similarity(referenceQuad, 0, 1, shift)},
		{TranslationRotationModel, similarity(referenceQuad, 0.3, 1, shift)},
		{TranslationScaleModel, similarity(referenceQuad, 0, 1.25, shift)},
		{TranslationRotationScaleModel, similarity(referenceQuad, -0.4, 0.8, shift)},
		{AffineModel, mapQuad(referenceQuad, func(p r2.Point) r2.Point {
			return r2.Point{X: 1.1*p.X + 0.2*p.Y - 4, Y: -0.1*p.X + 0.9*p.Y + 6}
		})},
		{HomographyModel, Quad{{X: 12, Y: 13}, {X: 33, Y: 10}, {X: 29, Y: 31}, {X: 8, Y: 27}}},
	}
	for _, tc := range cases {
		t.Run(string(tc.model), func(t *testing.T) {
			w, err := NewWarp(tc.model, referenceQuad, tc.quad2)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, w.Model(), test.ShouldEqual, tc.model)
			test.That(t, w.NumParameters(), test.ShouldEqual, tc.model.NumParameters())
			for i, p := range referenceQuad {
				got := w.Forward(p)
				test.That(t, got.X, test.ShouldAlmostEqual, tc.quad2[i].X, 1e-6)
				test.That(t, got.Y, test.ShouldAlmostEqual, tc.quad2[i].Y, 1e-6)
			}
		})
	}
}

func TestWarpIdentity(t *testing.T) {
	for _, model := range Models {
		w, err := NewWarp(model, referenceQuad, referenceQuad)
		test.That(t, err, test.ShouldBeNil)
		for _, p := range w.Parameters() {
			test.That(t, p, test.ShouldAlmostEqual, 0, 1e-9)
		}
	}
}

func TestWarpParameters(t *testing.T) {
	w, err := NewWarp(TranslationModel, referenceQuad, referenceQuad)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w.SetParameters([]float64{1, 2}), test.ShouldBeNil)
	test.That(t, w.Forward(r2.Point{X: 5, Y: 5}), test.ShouldResemble, r2.Point{X: 6, Y: 7})
	test.That(t, w.SetParameters([]float64{1}), test.ShouldNotBeNil)

	params := w.Parameters()
	params[0] = 100
	test.That(t, w.Parameters()[0], test.ShouldEqual, 1)

	_, err = NewWarp(Model("bogus"), referenceQuad, referenceQuad)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWarpDerivatives(t *testing.T) {
	w, err := newModelWarp(HomographyModel, referenceQuad,
		Quad{{X: 12, Y: 13}, {X: 33, Y: 10}, {X: 29, Y: 31}, {X: 8, Y: 27}})
	test.That(t, err, test.ShouldBeNil)
	params := w.Parameters()
	x, y := forward(w, autodiff.Variables(params, 0), 17, 21)

	const h = 1e-6
	for k := range params {
		plus := append([]float64(nil), params...)
		minus := append([]float64(nil), params...)
		plus[k] += h
		minus[k] -= h
		px, py := forward(w, autodiff.Floats(plus), 17, 21)
		mx, my := forward(w, autodiff.Floats(minus), 17, 21)
		test.That(t, x.V[k], test.ShouldAlmostEqual, float64(px-mx)/(2*h), 1e-3)
		test.That(t, y.V[k], test.ShouldAlmostEqual, float64(py-my)/(2*h), 1e-3)
	}
}

func TestQuad(t *testing.T) {
	q := Quad{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 2}, {X: 0, Y: 2}}
	test.That(t, q.Centroid(), test.ShouldResemble, r2.Point{X: 2, Y: 1})
	test.That(t, q.Contains(r2.Point{X: 1, Y: 1}), test.ShouldBeTrue)
	test.That(t, q.Contains(r2.Point{X: 4, Y: 2}), test.ShouldBeTrue)
	test.That(t, q.Contains(r2.Point{X: 5, Y: 1}), test.ShouldBeFalse)
	lo, hi := q.Bounds()
	test.That(t, lo, test.ShouldResemble, r2.Point{X: 0, Y: 0})
	test.That(t, hi, test.ShouldResemble, r2.Point{X: 4, Y: 2})

	_, err := QuadFromPoints([]r2.Point{{}, {}})
	test.That(t, err, test.ShouldNotBeNil)
}
