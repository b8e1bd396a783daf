package reconstruction

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/autodiff"
	"go.viam.com/sfm/spatialmath"
)

// Indices into an intrinsics block.
const (
	intrinsicFocal = iota
	intrinsicPrincipalX
	intrinsicPrincipalY
	intrinsicK1
	intrinsicK2
	intrinsicK3
	numIntrinsics
)

// projectAngleAxis projects x through the camera with angle axis rotation aa and translation t
// into normalized image coordinates.
func projectAngleAxis[T autodiff.Scalar[T]](aa, t, x [3]T) (T, T) {
	p := spatialmath.AngleAxisRotatePoint(aa, x)
	z := p[2].Add(t[2])
	return p[0].Add(t[0]).Div(z), p[1].Add(t[1]).Div(z)
}

// projectRotation projects x through a camera with a fixed row major rotation.
func projectRotation[T autodiff.Scalar[T]](r [9]float64, t r3.Vector, x [3]T) (T, T) {
	p := spatialmath.RotationMatrixRotatePoint(r, x)
	z := p[2].AddConst(t.Z)
	return p[0].AddConst(t.X).Div(z), p[1].AddConst(t.Y).Div(z)
}

// applyIntrinsicsBlock maps normalized coordinates to distorted pixels.
func applyIntrinsicsBlock[T autodiff.Scalar[T]](in [numIntrinsics]T, x, y T) (T, T) {
	r2 := x.Mul(x).Add(y.Mul(y))
	factor := in[intrinsicK3].Mul(r2).Add(in[intrinsicK2]).Mul(r2).Add(in[intrinsicK1]).Mul(r2).AddConst(1)
	focal := in[intrinsicFocal]
	return x.Mul(factor).Mul(focal).Add(in[intrinsicPrincipalX]),
		y.Mul(factor).Mul(focal).Add(in[intrinsicPrincipalY])
}

func rowMajor(m mat.Matrix) [9]float64 {
	var out [9]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[3*r+c] = m.At(r, c)
		}
	}
	return out
}

func vec3[T autodiff.Scalar[T]](like T, v r3.Vector) [3]T {
	return [3]T{like.Const(v.X), like.Const(v.Y), like.Const(v.Z)}
}
