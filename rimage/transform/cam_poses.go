package transform

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// CamPose is a world to camera transform: x_cam = R * X + T.
type CamPose struct {
	Rotation    *mat.Dense
	Translation r3.Vector
}

// IdentityCamPose returns [I | 0].
func IdentityCamPose() *CamPose {
	return &CamPose{Rotation: eye(3), Translation: r3.Vector{}}
}

// NewCamPoseFromMat creates a pointer to a Camera pose from a 3x4 pose dense matrix.
func NewCamPoseFromMat(pose *mat.Dense) *CamPose {
	rot := mat.DenseCopyOf(pose.Slice(0, 3, 0, 3))
	return &CamPose{
		Rotation:    rot,
		Translation: r3.Vector{X: pose.At(0, 3), Y: pose.At(1, 3), Z: pose.At(2, 3)},
	}
}

// PoseMat returns [R | T].
func (cp *CamPose) PoseMat() *mat.Dense {
	var out mat.Dense
	out.Augment(cp.Rotation, mat.NewDense(3, 1, []float64{cp.Translation.X, cp.Translation.Y, cp.Translation.Z}))
	return &out
}

// Transform maps a world point into camera coordinates.
func (cp *CamPose) Transform(p r3.Vector) r3.Vector {
	return MulVec3(cp.Rotation, p).Add(cp.Translation)
}

// Center returns the camera center in world coordinates, -Rᵀ T.
func (cp *CamPose) Center() r3.Vector {
	return MulTransVec3(cp.Rotation, cp.Translation).Mul(-1)
}

// GetPossibleCameraPoses computes all 4 possible poses from the essential matrix.
func GetPossibleCameraPoses(essMat *mat.Dense) ([]*CamPose, error) {
	R1, R2, t, err := DecomposeEssentialMatrix(essMat)
	if err != nil {
		return nil, err
	}
	tOpp := t.Mul(-1)
	return []*CamPose{
		{R1, t},
		{R1, tOpp},
		{R2, t},
		{R2, tOpp},
	}, nil
}

// TriangulateDLT triangulates one point seen by two cameras with projection matrices P1 and P2.
func TriangulateDLT(P1 *mat.Dense, x1 r2.Point, P2 *mat.Dense, x2 r2.Point) (r3.Vector, error) {
	return NViewTriangulateAlgebraic([]*mat.Dense{P1, P2}, []r2.Point{x1, x2})
}

// NViewTriangulateAlgebraic triangulates a point from two or more projection matrices by finding
// the null vector of the stacked cross product constraints x × (P X) = 0.
func NViewTriangulateAlgebraic(Ps []*mat.Dense, xs []r2.Point) (r3.Vector, error) {
	if len(Ps) != len(xs) {
		return r3.Vector{}, errors.New("number of projections and observations differ")
	}
	if len(Ps) < 2 {
		return r3.Vector{}, errors.New("triangulation needs at least two views")
	}
	A := mat.NewDense(2*len(Ps), 4, nil)
	for i, P := range Ps {
		x := xs[i]
		for c := 0; c < 4; c++ {
			A.Set(2*i, c, x.X*P.At(2, c)-P.At(0, c))
			A.Set(2*i+1, c, x.Y*P.At(2, c)-P.At(1, c))
		}
	}
	var svd mat.SVD
	if ok := svd.Factorize(A, mat.SVDFull); !ok {
		return r3.Vector{}, errors.New("failed to factorize triangulation system")
	}
	var V mat.Dense
	svd.VTo(&V)
	h := nullVector(&V)
	if h[3] == 0 {
		return r3.Vector{}, errors.New("triangulated point at infinity")
	}
	return r3.Vector{X: h[0] / h[3], Y: h[1] / h[3], Z: h[2] / h[3]}, nil
}

// GetLinearTriangulatedPoints triangulates every correspondence between the identity camera and
// pose.
func GetLinearTriangulatedPoints(pose *CamPose, pts1, pts2 []r2.Point) ([]r3.Vector, error) {
	P1 := IdentityCamPose().PoseMat()
	P2 := pose.PoseMat()
	pts3d := make([]r3.Vector, len(pts1))
	for i := range pts1 {
		X, err := TriangulateDLT(P1, pts1[i], P2, pts2[i])
		if err != nil {
			return nil, err
		}
		pts3d[i] = X
	}
	return pts3d, nil
}

// GetNumberPositiveDepth counts the triangulated correspondences that lie in front of both the
// identity camera and pose.
func GetNumberPositiveDepth(pose *CamPose, pts1, pts2 []r2.Point) int {
	pts3D, err := GetLinearTriangulatedPoints(pose, pts1, pts2)
	if err != nil {
		return 0
	}
	nPositiveDepth := 0
	for _, pt := range pts3D {
		if pt.Z > 0 && pose.Transform(pt).Z > 0 {
			nPositiveDepth++
		}
	}
	return nPositiveDepth
}

// GetCorrectCameraPose returns the pose with the most points in front of both cameras.
func GetCorrectCameraPose(poses []*CamPose, pts1, pts2 []r2.Point) (*CamPose, int) {
	best := -1
	var correctPose *CamPose
	for _, pose := range poses {
		if n := GetNumberPositiveDepth(pose, pts1, pts2); n > best {
			best = n
			correctPose = pose
		}
	}
	return correctPose, best
}

// EstimateRelativePose estimates the pose of the second camera relative to the first one, which is
// placed at the identity, from correspondences in normalized (calibrated) image coordinates. The
// translation has unit norm.
func EstimateRelativePose(pts1, pts2 []r2.Point) (*CamPose, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("the 2 sets of points don't have the same number of elements")
	}
	fundamentalMatrix, err := ComputeFundamentalMatrixAllPoints(pts1, pts2, true)
	if err != nil {
		return nil, err
	}
	essentialMatrix, err := ProjectToEssential(fundamentalMatrix)
	if err != nil {
		return nil, err
	}
	poses, err := GetPossibleCameraPoses(essentialMatrix)
	if err != nil {
		return nil, err
	}
	pose, count := GetCorrectCameraPose(poses, pts1, pts2)
	if count == 0 {
		return nil, errors.New("no candidate motion places the points in front of both cameras")
	}
	return pose, nil
}

// EstimateNewPose is EstimateRelativePose for pixel coordinates of a camera with matrix k.
func EstimateNewPose(pts1, pts2 []r2.Point, k *mat.Dense) (*CamPose, error) {
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return nil, errors.Wrap(err, "camera matrix is not invertible")
	}
	normalize := func(pts []r2.Point) []r2.Point {
		out := make([]r2.Point, len(pts))
		for i, p := range pts {
			h := MulVec3(&kInv, r3.Vector{X: p.X, Y: p.Y, Z: 1})
			out[i] = r2.Point{X: h.X / h.Z, Y: h.Y / h.Z}
		}
		return out
	}
	return EstimateRelativePose(normalize(pts1), normalize(pts2))
}

// MulVec3 returns m * v for a 3x3 matrix.
func MulVec3(m mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}

// MulTransVec3 returns mᵀ * v for a 3x3 matrix.
func MulTransVec3(m mat.Matrix, v r3.Vector) r3.Vector {
	return MulVec3(m.T(), v)
}
