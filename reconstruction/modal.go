package reconstruction

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/tracks"
)

// markerRay returns the unit viewing direction of a normalized marker in camera coordinates.
func markerRay(m tracks.Marker) r3.Vector {
	return r3.Vector{X: m.X, Y: m.Y, Z: 1}.Normalize()
}

// rotationFromDirections returns the rotation R that best maps each from[i] onto to[i], using
// Horn's closed form quaternion solution.
func rotationFromDirections(from, to []r3.Vector) (*mat.Dense, error) {
	var s [3][3]float64
	for i := range from {
		a := [3]float64{from[i].X, from[i].Y, from[i].Z}
		b := [3]float64{to[i].X, to[i].Y, to[i].Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				s[r][c] += a[r] * b[c]
			}
		}
	}
	sxx, sxy, sxz := s[0][0], s[0][1], s[0][2]
	syx, syy, syz := s[1][0], s[1][1], s[1][2]
	szx, szy, szz := s[2][0], s[2][1], s[2][2]
	n := mat.NewSymDense(4, []float64{
		sxx + syy + szz, syz - szy, szx - sxz, sxy - syx,
		syz - szy, sxx - syy - szz, sxy + syx, szx + sxz,
		szx - sxz, sxy + syx, -sxx + syy - szz, syz + szy,
		sxy - syx, szx + sxz, syz + szy, -sxx - syy + szz,
	})
	var eig mat.EigenSym
	if !eig.Factorize(n, true) {
		return nil, errors.New("failed to factorize the orientation matrix")
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)
	// Eigenvalues are in ascending order.
	q := quat.Number{Real: vectors.At(0, 3), Imag: vectors.At(1, 3), Jmag: vectors.At(2, 3), Kmag: vectors.At(3, 3)}
	return spatialmath.QuatToRotationMatrix(q), nil
}

// ModalSolver reconstructs a rotation-only camera from normalized markers. Points are directions
// on the unit sphere. Each image is oriented against the points seen so far and then contributes
// points for its new tracks. Images sharing fewer than two tracks with the earlier ones keep the
// previous image's rotation.
func ModalSolver(ctx context.Context, normalized *tracks.Tracks, recon *EuclideanReconstruction, logger logging.Logger) error {
	rotation := transform.IdentityCamPose().Rotation
	for _, image := range normalized.Images() {
		if err := ctx.Err(); err != nil {
			return err
		}
		markers := normalized.MarkersInImage(image)
		var from, to []r3.Vector
		for _, m := range markers {
			if p := recon.PointForTrack(m.Track); p != nil && m.Weight != 0 {
				from = append(from, p.X)
				to = append(to, markerRay(m))
			}
		}
		if len(from) >= 2 {
			r, err := rotationFromDirections(from, to)
			if err != nil {
				return err
			}
			rotation = r
		} else if recon.NumCameras() > 0 {
			logger.WithImage(image).Debugw("too few known directions, keeping the previous rotation", "known", len(from))
		}
		recon.InsertCamera(image, rotation, r3.Vector{})
		for _, m := range markers {
			if recon.PointForTrack(m.Track) == nil {
				recon.InsertPoint(m.Track, transform.MulTransVec3(rotation, markerRay(m)))
			}
		}
	}
	return nil
}

// SolveModal reconstructs a tripod shot: cameras only rotate about a common center and the
// intrinsics are held fixed. The result is reported like Solve's.
func SolveModal(
	ctx context.Context,
	raw *tracks.Tracks,
	intrinsics *transform.CameraIntrinsics,
	opts ReconstructionOptions,
	progress ProgressFunc,
	logger logging.Logger,
) (*Result, error) {
	p, err := newPipeline(raw, intrinsics, opts, progress, logger)
	if err != nil {
		return nil, err
	}
	p.progress(0, "Initializing solver")
	p.normalized = NormalizeTracks(raw, intrinsics)
	p.advance(StageNormalized, 0.1, "Normalizing markers")

	if err := ModalSolver(ctx, p.normalized, p.recon, logger); err != nil {
		return nil, err
	}
	p.advance(StageCompleted, 0.5, "Solving modal reconstruction")

	if _, err := bundle(p.normalized, p.recon, nil, 0, BundleNoTranslation, logger); err != nil &&
		!errors.Is(err, ErrNothingToBundle) {
		return nil, err
	}
	p.advance(StageRefined, 0.9, "Refining rotations")

	res := p.result()
	res.finish(raw)
	p.advance(StageFinished, 1, "Finishing solution")
	res.Stage = p.stage
	logger.Infow("modal reconstruction finished", "cameras", p.recon.NumCameras(), "average_error", res.Error)
	return res, nil
}
