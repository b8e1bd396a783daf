package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/autodiff"
)

func TestAngleAxisRoundTrip(t *testing.T) {
	for _, aa := range []r3.Vector{
		{},
		{X: 0.1},
		{X: 0.3, Y: -0.2, Z: 0.5},
		{Y: math.Pi / 2},
		{X: 1, Y: 1, Z: 1},
		{Z: 3},
	} {
		R := AngleAxisToRotationMatrix(aa)
		test.That(t, IsRotation(R, 1e-9), test.ShouldBeTrue)
		back := RotationMatrixToAngleAxis(R)
		test.That(t, back.Sub(aa).Norm(), test.ShouldBeLessThan, 1e-9)
	}
}

func TestRotationMatrixValues(t *testing.T) {
	R := AngleAxisToRotationMatrix(r3.Vector{Z: math.Pi / 2})
	// x goes to y.
	test.That(t, R.At(1, 0), test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, R.At(0, 1), test.ShouldAlmostEqual, -1, 1e-12)

	q := RotationMatrixToQuat(R)
	test.That(t, q.Real, test.ShouldAlmostEqual, math.Cos(math.Pi/4), 1e-12)
	test.That(t, q.Kmag, test.ShouldAlmostEqual, math.Sin(math.Pi/4), 1e-12)

	test.That(t, RotationAngle(R, AngleAxisToRotationMatrix(r3.Vector{})), test.ShouldAlmostEqual, math.Pi/2, 1e-9)
}

func TestOrthonormalize(t *testing.T) {
	R := AngleAxisToRotationMatrix(r3.Vector{X: 0.2, Y: 0.4, Z: -0.1})
	noisy := mat.DenseCopyOf(R)
	noisy.Set(0, 1, noisy.At(0, 1)+1e-3)
	noisy.Set(2, 2, noisy.At(2, 2)-2e-3)
	test.That(t, IsRotation(noisy, 1e-6), test.ShouldBeFalse)
	fixed, err := Orthonormalize(noisy)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, IsRotation(fixed, 1e-9), test.ShouldBeTrue)
	test.That(t, RotationAngle(fixed, R), test.ShouldBeLessThan, 5e-3)

	reflection := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, -1})
	fixed, err = Orthonormalize(reflection)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Det(fixed), test.ShouldAlmostEqual, 1, 1e-9)
}

func TestAngleAxisRotatePoint(t *testing.T) {
	aa := r3.Vector{X: 0.3, Y: -0.2, Z: 0.5}
	p := r3.Vector{X: 1, Y: 2, Z: 3}
	R := AngleAxisToRotationMatrix(aa)
	want := mat.NewVecDense(3, nil)
	want.MulVec(R, mat.NewVecDense(3, []float64{p.X, p.Y, p.Z}))

	got := AngleAxisRotatePoint(
		[3]autodiff.Float{autodiff.Float(aa.X), autodiff.Float(aa.Y), autodiff.Float(aa.Z)},
		[3]autodiff.Float{autodiff.Float(p.X), autodiff.Float(p.Y), autodiff.Float(p.Z)},
	)
	for i := 0; i < 3; i++ {
		test.That(t, float64(got[i]), test.ShouldAlmostEqual, want.AtVec(i), 1e-12)
	}

	var r9 [9]float64
	for i := 0; i < 9; i++ {
		r9[i] = R.At(i/3, i%3)
	}
	viaMatrix := RotationMatrixRotatePoint(r9, [3]autodiff.Float{1, 2, 3})
	for i := 0; i < 3; i++ {
		test.That(t, float64(viaMatrix[i]), test.ShouldAlmostEqual, want.AtVec(i), 1e-12)
	}

	// Derivative with respect to the angle axis matches finite differences.
	jets := AngleAxisRotatePoint(
		[3]autodiff.Jet{autodiff.Variable(aa.X, 0), autodiff.Variable(aa.Y, 1), autodiff.Variable(aa.Z, 2)},
		[3]autodiff.Jet{autodiff.Constant(p.X), autodiff.Constant(p.Y), autodiff.Constant(p.Z)},
	)
	const h = 1e-6
	plus := AngleAxisToRotationMatrix(r3.Vector{X: aa.X, Y: aa.Y + h, Z: aa.Z})
	minus := AngleAxisToRotationMatrix(r3.Vector{X: aa.X, Y: aa.Y - h, Z: aa.Z})
	for i := 0; i < 3; i++ {
		fd := (plus.At(i, 0)*p.X + plus.At(i, 1)*p.Y + plus.At(i, 2)*p.Z -
			minus.At(i, 0)*p.X - minus.At(i, 1)*p.Y - minus.At(i, 2)*p.Z) / (2 * h)
		test.That(t, jets[i].V[1], test.ShouldAlmostEqual, fd, 1e-6)
	}

	// The small angle path is the identity at zero with the cross product derivative.
	zero := AngleAxisRotatePoint(
		[3]autodiff.Jet{autodiff.Variable(0, 0), autodiff.Variable(0, 1), autodiff.Variable(0, 2)},
		[3]autodiff.Jet{autodiff.Constant(1), autodiff.Constant(0), autodiff.Constant(0)},
	)
	test.That(t, zero[0].A, test.ShouldEqual, 1.0)
	// d(aa × p)_y / d aa_z = p_x.
	test.That(t, zero[1].V[2], test.ShouldEqual, 1.0)
}
