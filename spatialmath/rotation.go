package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// QuatToRotationMatrix converts a unit quaternion to a rotation matrix.
func QuatToRotationMatrix(q quat.Number) *mat.Dense {
	n := quat.Abs(q)
	if n == 0 {
		return identity()
	}
	q = quat.Scale(1/n, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// RotationMatrixToQuat converts a rotation matrix to a unit quaternion with a non-negative real
// part.
func RotationMatrixToQuat(r mat.Matrix) quat.Number {
	m00, m11, m22 := r.At(0, 0), r.At(1, 1), r.At(2, 2)
	trace := m00 + m11 + m22
	var q quat.Number
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = quat.Number{
			Real: 0.25 / s,
			Imag: (r.At(2, 1) - r.At(1, 2)) * s,
			Jmag: (r.At(0, 2) - r.At(2, 0)) * s,
			Kmag: (r.At(1, 0) - r.At(0, 1)) * s,
		}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{
			Real: (r.At(2, 1) - r.At(1, 2)) / s,
			Imag: 0.25 * s,
			Jmag: (r.At(0, 1) + r.At(1, 0)) / s,
			Kmag: (r.At(0, 2) + r.At(2, 0)) / s,
		}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{
			Real: (r.At(0, 2) - r.At(2, 0)) / s,
			Imag: (r.At(0, 1) + r.At(1, 0)) / s,
			Jmag: 0.25 * s,
			Kmag: (r.At(1, 2) + r.At(2, 1)) / s,
		}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{
			Real: (r.At(1, 0) - r.At(0, 1)) / s,
			Imag: (r.At(0, 2) + r.At(2, 0)) / s,
			Jmag: (r.At(1, 2) + r.At(2, 1)) / s,
			Kmag: 0.25 * s,
		}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return quat.Scale(1/quat.Abs(q), q)
}

// AngleAxisToRotationMatrix converts an angle axis vector, whose norm is the angle, to a rotation
// matrix.
func AngleAxisToRotationMatrix(aa r3.Vector) *mat.Dense {
	r4 := R3ToR4(aa)
	return QuatToRotationMatrix(r4.ToQuat())
}

// RotationMatrixToAngleAxis converts a rotation matrix to an angle axis vector.
func RotationMatrixToAngleAxis(r mat.Matrix) r3.Vector {
	return QuatToR3AA(RotationMatrixToQuat(r))
}

// Orthonormalize returns the rotation closest to m in the Frobenius norm.
func Orthonormalize(m mat.Matrix) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize rotation")
	}
	var u, v, out mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	out.Mul(&u, v.T())
	if mat.Det(&out) < 0 {
		// Flip the axis of the smallest singular value.
		for r := 0; r < 3; r++ {
			u.Set(r, 2, -u.At(r, 2))
		}
		out.Mul(&u, v.T())
	}
	return &out, nil
}

// RotationAngle returns the angle of the relative rotation between a and b.
func RotationAngle(a, b mat.Matrix) float64 {
	var rel mat.Dense
	rel.Mul(a.T(), b)
	c := (mat.Trace(&rel) - 1) / 2
	return math.Acos(math.Max(-1, math.Min(1, c)))
}

// IsRotation reports whether m is orthonormal with a positive determinant within tol.
func IsRotation(m mat.Matrix, tol float64) bool {
	var mmt mat.Dense
	mmt.Mul(m, m.T())
	if !mat.EqualApprox(&mmt, identity(), tol) {
		return false
	}
	return math.Abs(mat.Det(m)-1) < tol
}

func identity() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}
