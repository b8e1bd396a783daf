package autodiff

import (
	"math"
	"testing"

	"go.viam.com/test"
)

// polynomial is written once and instantiated for both scalar kinds.
func polynomial[T Scalar[T]](x, y T) T {
	// f = x^2 y + sin(x) / y + sqrt(x*y)
	return x.Mul(x).Mul(y).Add(x.Sin().Div(y)).Add(x.Mul(y).Sqrt())
}

func TestJetDerivatives(t *testing.T) {
	x0, y0 := 0.7, 1.9
	x := Variable(x0, 0)
	y := Variable(y0, 1)

	f := polynomial(x, y)
	fv := polynomial(Float(x0), Float(y0))
	test.That(t, f.A, test.ShouldAlmostEqual, float64(fv), 1e-12)

	dfdx := 2*x0*y0 + math.Cos(x0)/y0 + 0.5*y0/math.Sqrt(x0*y0)
	dfdy := x0*x0 - math.Sin(x0)/(y0*y0) + 0.5*x0/math.Sqrt(x0*y0)
	test.That(t, f.V[0], test.ShouldAlmostEqual, dfdx, 1e-12)
	test.That(t, f.V[1], test.ShouldAlmostEqual, dfdy, 1e-12)
	for i := 2; i < JetSize; i++ {
		test.That(t, f.V[i], test.ShouldEqual, 0.0)
	}
}

func TestJetMatchesFiniteDifferences(t *testing.T) {
	fn := func(x, y float64) float64 { return float64(polynomial(Float(x), Float(y))) }
	x0, y0 := 1.3, 0.4
	const h = 1e-6
	f := polynomial(Variable(x0, 3), Variable(y0, 7))
	test.That(t, f.V[3], test.ShouldAlmostEqual, (fn(x0+h, y0)-fn(x0-h, y0))/(2*h), 1e-6)
	test.That(t, f.V[7], test.ShouldAlmostEqual, (fn(x0, y0+h)-fn(x0, y0-h))/(2*h), 1e-6)
}

func TestJetHelpers(t *testing.T) {
	j := Variable(2, 0).Scale(3).AddConst(1)
	test.That(t, j.A, test.ShouldEqual, 7.0)
	test.That(t, j.V[0], test.ShouldEqual, 3.0)

	j = j.WithReal(-5).ScaleDerivative(-0.5)
	test.That(t, j.A, test.ShouldEqual, -5.0)
	test.That(t, j.V[0], test.ShouldEqual, -1.5)

	abs := j.Abs()
	test.That(t, abs.A, test.ShouldEqual, 5.0)
	test.That(t, abs.V[0], test.ShouldEqual, 1.5)

	seeded := Variables([]float64{1, 2, 3}, 4)
	test.That(t, seeded[2].A, test.ShouldEqual, 3.0)
	test.That(t, seeded[2].V[6], test.ShouldEqual, 1.0)
	test.That(t, seeded[2].V[5], test.ShouldEqual, 0.0)

	c := Constant(4).Chain2(10, 2, 3, Variable(1, 1))
	test.That(t, c.A, test.ShouldEqual, 10.0)
	test.That(t, c.V[1], test.ShouldEqual, 3.0)
}

func TestJetSqrtAtZero(t *testing.T) {
	root := Variable(0, 2).Sqrt()
	test.That(t, root.A, test.ShouldEqual, 0.0)
	for _, d := range root.V {
		test.That(t, math.IsNaN(d) || math.IsInf(d, 0), test.ShouldBeFalse)
		test.That(t, d, test.ShouldEqual, 0.0)
	}

	// x*x through the origin keeps finite derivatives.
	x := Variable(0, 0)
	norm := x.Mul(x).Sqrt()
	test.That(t, norm.V[0], test.ShouldEqual, 0.0)

	root = Variable(4, 1).Sqrt()
	test.That(t, root.A, test.ShouldEqual, 2.0)
	test.That(t, root.V[1], test.ShouldEqual, 0.25)
}
