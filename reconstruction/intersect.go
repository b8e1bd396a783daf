package reconstruction

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/autodiff"
	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/solver"
	"go.viam.com/sfm/tracks"
	"go.viam.com/sfm/utils"
)

// minTriangulationAngle is the smallest ray angle at which a point is considered observable.
var minTriangulationAngle = utils.DegToRad(0.1)

// usableMarkers returns the markers with non-zero weight whose image has a camera.
func usableMarkers(markers []tracks.Marker, recon *EuclideanReconstruction) []tracks.Marker {
	out := make([]tracks.Marker, 0, len(markers))
	for _, m := range markers {
		if m.Weight != 0 && recon.CameraForImage(m.Image) != nil {
			out = append(out, m)
		}
	}
	return out
}

// EuclideanIntersect triangulates the track observed by markers from every image that has a
// camera, refines the point by minimizing its reprojection error, and adds it to recon. It fails
// when fewer than two cameras see the track, when the rays are nearly parallel, or when the point
// ends up behind one of the cameras.
func EuclideanIntersect(markers []tracks.Marker, recon *EuclideanReconstruction, logger logging.Logger) bool {
	markers = usableMarkers(markers, recon)
	if len(markers) < 2 {
		return false
	}
	track := markers[0].Track
	logger = logger.WithTrack(track)

	ps := make([]*mat.Dense, len(markers))
	xs := make([]r2.Point, len(markers))
	for i, m := range markers {
		ps[i] = recon.CameraForImage(m.Image).Pose().PoseMat()
		xs[i] = r2.Point{X: m.X, Y: m.Y}
	}
	x, err := transform.NViewTriangulateAlgebraic(ps, xs)
	if err != nil {
		logger.Debugw("algebraic triangulation failed", "error", err)
		return false
	}

	problem := newPointProblem(markers, recon)
	params := []float64{x.X, x.Y, x.Z}
	opts := solver.DefaultOptions()
	opts.FunctionTolerance = 1e-12
	opts.ParameterTolerance = 1e-12
	if _, err := solver.Solve(problem, params, opts); err != nil {
		logger.Debugw("point refinement failed", "error", err)
		return false
	}
	x = r3.Vector{X: params[0], Y: params[1], Z: params[2]}

	var maxAngle float64
	for i, m := range markers {
		camera := recon.CameraForImage(m.Image)
		if !(camera.ToCamera(x).Z > 0) {
			logger.WithImage(m.Image).Debugw("intersected point is behind a camera")
			return false
		}
		ray := x.Sub(camera.Center())
		for _, other := range markers[:i] {
			maxAngle = math.Max(maxAngle, ray.Angle(x.Sub(recon.CameraForImage(other.Image).Center())).Radians())
		}
	}
	if !(maxAngle >= minTriangulationAngle) {
		logger.Debugw("rays are nearly parallel", "angle", maxAngle)
		return false
	}

	recon.InsertPoint(track, x)
	return true
}

// pointProblem is the reprojection error of one point over fixed cameras.
type pointProblem struct {
	markers      []tracks.Marker
	rotations    [][9]float64
	translations []r3.Vector
}

func newPointProblem(markers []tracks.Marker, recon *EuclideanReconstruction) *pointProblem {
	p := &pointProblem{markers: markers}
	for _, m := range markers {
		camera := recon.CameraForImage(m.Image)
		p.rotations = append(p.rotations, rowMajor(camera.Rotation))
		p.translations = append(p.translations, camera.Translation)
	}
	return p
}

func (p *pointProblem) NumParameters() int { return 3 }

func (p *pointProblem) NumResiduals() int { return 2 * len(p.markers) }

func (p *pointProblem) Evaluate(params, residuals []float64, jacobian *solver.Jacobian) error {
	if jacobian == nil {
		pointResiduals(p, [3]autodiff.Float{autodiff.Float(params[0]), autodiff.Float(params[1]), autodiff.Float(params[2])},
			func(i int, r autodiff.Float) { residuals[i] = float64(r) })
		return nil
	}
	x := autodiff.Variables(params, 0)
	pointResiduals(p, [3]autodiff.Jet{x[0], x[1], x[2]}, func(i int, r autodiff.Jet) {
		residuals[i] = r.A
		for k := 0; k < 3; k++ {
			jacobian.Set(i, k, r.V[k])
		}
	})
	return nil
}

func pointResiduals[T autodiff.Scalar[T]](p *pointProblem, x [3]T, emit func(int, T)) {
	for i, m := range p.markers {
		u, v := projectRotation(p.rotations[i], p.translations[i], x)
		emit(2*i, u.AddConst(-m.X).Scale(m.Weight))
		emit(2*i+1, v.AddConst(-m.Y).Scale(m.Weight))
	}
}
