package transform

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MinResectionPoints is the number of 2D-3D correspondences the linear resection needs.
const MinResectionPoints = 6

// ProjectiveResection estimates a 3x4 projection matrix P with x ~ P X from at least six
// correspondences using the normalized DLT.
func ProjectiveResection(xs []r2.Point, Xs []r3.Vector) (*mat.Dense, error) {
	if len(xs) != len(Xs) {
		return nil, errors.New("number of image and world points differ")
	}
	if len(xs) < MinResectionPoints {
		return nil, errors.Errorf("resection needs at least %d points, got %d", MinResectionPoints, len(xs))
	}
	nxs, T2 := normalizePoints(xs)
	nXs, T3 := normalizePoints3D(Xs)

	A := mat.NewDense(2*len(xs), 12, nil)
	for i := range nxs {
		x, X := nxs[i], nXs[i]
		h := [4]float64{X.X, X.Y, X.Z, 1}
		for c := 0; c < 4; c++ {
			// row 2i:   [Xᵀ 0 -x Xᵀ]
			A.Set(2*i, c, h[c])
			A.Set(2*i, 8+c, -x.X*h[c])
			// row 2i+1: [0 Xᵀ -y Xᵀ]
			A.Set(2*i+1, 4+c, h[c])
			A.Set(2*i+1, 8+c, -x.Y*h[c])
		}
	}
	mats := performSVD(A)
	if mats == nil {
		return nil, errors.New("failed to factorize resection system")
	}
	Pn := mat.NewDense(3, 4, nullVector(mats.V))

	// P = T2⁻¹ Pn T3
	var T2inv mat.Dense
	if err := T2inv.Inverse(T2); err != nil {
		return nil, errors.Wrap(err, "degenerate image points")
	}
	var P mat.Dense
	P.Mul(&T2inv, Pn)
	P.Mul(&P, T3)
	return &P, nil
}

// EuclideanResectionDLT estimates the pose of a calibrated camera from at least six
// correspondences between normalized image points and world points. The left 3x3 block of the
// projective estimate is projected onto the closest rotation.
func EuclideanResectionDLT(xs []r2.Point, Xs []r3.Vector) (*CamPose, error) {
	P, err := ProjectiveResection(xs, Xs)
	if err != nil {
		return nil, err
	}
	M := mat.DenseCopyOf(P.Slice(0, 3, 0, 3))
	if mat.Det(M) < 0 {
		P.Scale(-1, P)
		M.Scale(-1, M)
	}
	mats := performSVD(M)
	if mats == nil {
		return nil, errors.New("failed to factorize rotation block")
	}
	var R mat.Dense
	R.Mul(mats.U, mats.VT)
	scale := (mats.S.At(0, 0) + mats.S.At(1, 1) + mats.S.At(2, 2)) / 3
	if scale == 0 {
		return nil, errors.New("degenerate resection")
	}
	t := r3.Vector{X: P.At(0, 3), Y: P.At(1, 3), Z: P.At(2, 3)}.Mul(1 / scale)
	return &CamPose{Rotation: &R, Translation: t}, nil
}

// KRtFromProjection splits P = K [R | t] with an RQ decomposition. K is upper triangular with a
// positive diagonal and K[2][2] = 1; R is a proper rotation.
func KRtFromProjection(P *mat.Dense) (*mat.Dense, *CamPose, error) {
	P = mat.DenseCopyOf(P)
	M := mat.DenseCopyOf(P.Slice(0, 3, 0, 3))
	if mat.Det(M) < 0 {
		P.Scale(-1, P)
		M.Scale(-1, M)
	}

	// RQ through the QR decomposition of (J M)ᵀ with J the row reversal.
	J := mat.NewDense(3, 3, []float64{0, 0, 1, 0, 1, 0, 1, 0, 0})
	var JM mat.Dense
	JM.Mul(J, M)
	var qr mat.QR
	qr.Factorize(JM.T())
	var Q, Rt mat.Dense
	qr.QTo(&Q)
	qr.RTo(&Rt)

	var K, R mat.Dense
	K.Mul(J, Rt.T())
	K.Mul(&K, J)
	R.Mul(J, Q.T())

	// Make the diagonal of K positive.
	for i := 0; i < 3; i++ {
		if K.At(i, i) < 0 {
			for r := 0; r < 3; r++ {
				K.Set(r, i, -K.At(r, i))
			}
			for c := 0; c < 3; c++ {
				R.Set(i, c, -R.At(i, c))
			}
		}
	}
	if K.At(2, 2) == 0 {
		return nil, nil, errors.New("degenerate projection matrix")
	}
	if mat.Det(&R) < 0 {
		return nil, nil, errors.New("projection does not decompose into a proper rotation")
	}

	var Kinv mat.Dense
	if err := Kinv.Inverse(&K); err != nil {
		return nil, nil, errors.Wrap(err, "intrinsic block is singular")
	}
	t := MulVec3(&Kinv, r3.Vector{X: P.At(0, 3), Y: P.At(1, 3), Z: P.At(2, 3)})
	K.Scale(1/K.At(2, 2), &K)
	return &K, &CamPose{Rotation: &R, Translation: t}, nil
}
