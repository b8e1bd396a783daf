package transform

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

// rotationFromAxisAngle is Rodrigues' formula.
func rotationFromAxisAngle(axis r3.Vector, theta float64) *mat.Dense {
	k := axis.Normalize()
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c
	return mat.NewDense(3, 3, []float64{
		c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s,
		k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s,
		k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v,
	})
}

func project(pose *CamPose, X r3.Vector) r2.Point {
	p := pose.Transform(X)
	return r2.Point{X: p.X / p.Z, Y: p.Y / p.Z}
}

// scenePoints returns points spread in depth in front of the identity camera.
func scenePoints() []r3.Vector {
	return []r3.Vector{
		{X: -1, Y: -1, Z: 5}, {X: 1, Y: -1, Z: 6}, {X: 1, Y: 1, Z: 5.5}, {X: -1, Y: 1, Z: 6.5},
		{X: 0, Y: 0, Z: 4}, {X: 0.5, Y: -0.3, Z: 7}, {X: -0.7, Y: 0.4, Z: 4.5}, {X: 0.2, Y: 0.8, Z: 5.2},
		{X: -0.4, Y: -0.6, Z: 6.1}, {X: 0.9, Y: 0.1, Z: 4.8},
	}
}

func matricesAlmostEqual(t *testing.T, a, b mat.Matrix, tol float64) {
	t.Helper()
	ra, ca := a.Dims()
	for r := 0; r < ra; r++ {
		for c := 0; c < ca; c++ {
			test.That(t, a.At(r, c), test.ShouldAlmostEqual, b.At(r, c), tol)
		}
	}
}

func TestEstimateRelativePose(t *testing.T) {
	truth := &CamPose{
		Rotation:    rotationFromAxisAngle(r3.Vector{X: 0.2, Y: 1, Z: 0.1}, 0.15),
		Translation: r3.Vector{X: -1, Y: 0.1, Z: 0.2}.Normalize(),
	}
	var pts1, pts2 []r2.Point
	for _, X := range scenePoints() {
		pts1 = append(pts1, project(IdentityCamPose(), X))
		pts2 = append(pts2, project(truth, X))
	}

	F, err := ComputeFundamentalMatrixAllPoints(pts1, pts2, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Norm(F, 2), test.ShouldAlmostEqual, 1, 1e-9)
	for i := range pts1 {
		x1 := mat.NewVecDense(3, []float64{pts1[i].X, pts1[i].Y, 1})
		x2 := mat.NewVecDense(3, []float64{pts2[i].X, pts2[i].Y, 1})
		var fx mat.VecDense
		fx.MulVec(F, x1)
		test.That(t, mat.Dot(x2, &fx), test.ShouldAlmostEqual, 0, 1e-9)
	}

	pose, err := EstimateRelativePose(pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	matricesAlmostEqual(t, pose.Rotation, truth.Rotation, 1e-6)
	test.That(t, pose.Translation.Sub(truth.Translation).Norm(), test.ShouldBeLessThan, 1e-6)

	_, err = EstimateRelativePose(pts1[:7], pts2[:7])
	test.That(t, err, test.ShouldNotBeNil)

	K := mat.NewDense(3, 3, []float64{500, 0, 320, 0, 500, 240, 0, 0, 1})
	toPixels := func(pts []r2.Point) []r2.Point {
		out := make([]r2.Point, len(pts))
		for i, p := range pts {
			out[i] = r2.Point{X: 500*p.X + 320, Y: 500*p.Y + 240}
		}
		return out
	}
	pixelPose, err := EstimateNewPose(toPixels(pts1), toPixels(pts2), K)
	test.That(t, err, test.ShouldBeNil)
	matricesAlmostEqual(t, pixelPose.Rotation, truth.Rotation, 1e-6)
}

func TestTriangulation(t *testing.T) {
	poses := []*CamPose{
		IdentityCamPose(),
		{Rotation: rotationFromAxisAngle(r3.Vector{Y: 1}, 0.1), Translation: r3.Vector{X: -0.5}},
		{Rotation: rotationFromAxisAngle(r3.Vector{X: 1}, -0.1), Translation: r3.Vector{Y: 0.4, Z: 0.1}},
	}
	Ps := make([]*mat.Dense, len(poses))
	for i, p := range poses {
		Ps[i] = p.PoseMat()
	}
	for _, X := range scenePoints() {
		xs := make([]r2.Point, len(poses))
		for i, p := range poses {
			xs[i] = project(p, X)
		}
		got, err := NViewTriangulateAlgebraic(Ps, xs)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Sub(X).Norm(), test.ShouldBeLessThan, 1e-8)

		got, err = TriangulateDLT(Ps[0], xs[0], Ps[1], xs[1])
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Sub(X).Norm(), test.ShouldBeLessThan, 1e-8)
	}
	_, err := NViewTriangulateAlgebraic(Ps[:1], []r2.Point{{}})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestResection(t *testing.T) {
	truth := &CamPose{
		Rotation:    rotationFromAxisAngle(r3.Vector{X: 0.3, Y: -1, Z: 0.2}, 0.3),
		Translation: r3.Vector{X: 0.4, Y: -0.2, Z: 0.5},
	}
	var xs []r2.Point
	Xs := scenePoints()
	for _, X := range Xs {
		xs = append(xs, project(truth, X))
	}

	pose, err := EuclideanResectionDLT(xs, Xs)
	test.That(t, err, test.ShouldBeNil)
	matricesAlmostEqual(t, pose.Rotation, truth.Rotation, 1e-6)
	test.That(t, pose.Translation.Sub(truth.Translation).Norm(), test.ShouldBeLessThan, 1e-6)
	test.That(t, pose.Center().Sub(truth.Center()).Norm(), test.ShouldBeLessThan, 1e-6)

	P, err := ProjectiveResection(xs, Xs)
	test.That(t, err, test.ShouldBeNil)
	K, krtPose, err := KRtFromProjection(P)
	test.That(t, err, test.ShouldBeNil)
	matricesAlmostEqual(t, krtPose.Rotation, truth.Rotation, 1e-6)
	test.That(t, K.At(2, 2), test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, K.At(0, 0), test.ShouldAlmostEqual, K.At(1, 1), 1e-6)
	test.That(t, K.At(0, 1), test.ShouldAlmostEqual, 0, 1e-6)

	_, err = EuclideanResectionDLT(xs[:5], Xs[:5])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCamPose(t *testing.T) {
	pose := &CamPose{Rotation: rotationFromAxisAngle(r3.Vector{Z: 1}, math.Pi/2), Translation: r3.Vector{X: 1}}
	back := NewCamPoseFromMat(pose.PoseMat())
	matricesAlmostEqual(t, back.Rotation, pose.Rotation, 1e-12)
	test.That(t, back.Translation, test.ShouldResemble, pose.Translation)
	// The center maps to the camera origin.
	test.That(t, pose.Transform(pose.Center()).Norm(), test.ShouldBeLessThan, 1e-12)
}
