package spatialmath

import "go.viam.com/sfm/autodiff"

// AngleAxisRotatePoint rotates p by the angle axis vector aa. Near zero angles use the first order
// expansion p + aa × p so that derivatives stay finite.
func AngleAxisRotatePoint[T autodiff.Scalar[T]](aa, p [3]T) [3]T {
	theta2 := aa[0].Mul(aa[0]).Add(aa[1].Mul(aa[1])).Add(aa[2].Mul(aa[2]))
	if theta2.Real() > 1e-30 {
		theta := theta2.Sqrt()
		cosTheta := theta.Cos()
		sinTheta := theta.Sin()
		one := theta.Const(1)
		w := [3]T{aa[0].Div(theta), aa[1].Div(theta), aa[2].Div(theta)}

		wCrossP := cross(w, p)
		tmp := dot(w, p).Mul(one.Sub(cosTheta))
		var out [3]T
		for i := range out {
			out[i] = p[i].Mul(cosTheta).Add(wCrossP[i].Mul(sinTheta)).Add(w[i].Mul(tmp))
		}
		return out
	}
	wCrossP := cross(aa, p)
	return [3]T{p[0].Add(wCrossP[0]), p[1].Add(wCrossP[1]), p[2].Add(wCrossP[2])}
}

// RotationMatrixRotatePoint returns R * p for a row-major 3x3 rotation.
func RotationMatrixRotatePoint[T autodiff.Scalar[T]](r [9]float64, p [3]T) [3]T {
	var out [3]T
	for i := 0; i < 3; i++ {
		out[i] = p[0].Scale(r[3*i]).Add(p[1].Scale(r[3*i+1])).Add(p[2].Scale(r[3*i+2]))
	}
	return out
}

func cross[T autodiff.Scalar[T]](a, b [3]T) [3]T {
	return [3]T{
		a[1].Mul(b[2]).Sub(a[2].Mul(b[1])),
		a[2].Mul(b[0]).Sub(a[0].Mul(b[2])),
		a[0].Mul(b[1]).Sub(a[1].Mul(b[0])),
	}
}

func dot[T autodiff.Scalar[T]](a, b [3]T) T {
	return a[0].Mul(b[0]).Add(a[1].Mul(b[1])).Add(a[2].Mul(b[2]))
}
