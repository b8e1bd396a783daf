package reconstruction

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/sfm/autodiff"
	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/tracks"
)

// MinResectionMarkers is the number of markers with known points needed to resect a camera.
const MinResectionMarkers = transform.MinResectionPoints

// maxDroppedFraction bounds how many markers the final pass may discard as outliers.
const maxDroppedFraction = 0.3

// resectionMarkers returns the markers with non-zero weight whose track has a point.
func resectionMarkers(markers []tracks.Marker, recon *EuclideanReconstruction) []tracks.Marker {
	out := make([]tracks.Marker, 0, len(markers))
	for _, m := range markers {
		if m.Weight != 0 && recon.PointForTrack(m.Track) != nil {
			out = append(out, m)
		}
	}
	return out
}

// EuclideanResect estimates the pose of the camera that observed markers, all from one image,
// from the points already reconstructed for their tracks, and inserts it into recon. The linear
// estimate is refined by minimizing reprojection error. When final is set the resection is more
// forgiving: a projective estimate is tried as well and the worst markers may be dropped before the
// last refinement.
func EuclideanResect(markers []tracks.Marker, recon *EuclideanReconstruction, final bool, logger logging.Logger) bool {
	markers = resectionMarkers(markers, recon)
	if len(markers) < MinResectionMarkers {
		return false
	}
	image := markers[0].Image
	logger = logger.WithImage(image)

	xs, points := correspondences(markers, recon)
	var candidates []*transform.CamPose
	pose, err := transform.EuclideanResectionDLT(xs, points)
	if err != nil {
		logger.Debugw("euclidean resection failed", "error", err)
	} else {
		candidates = append(candidates, pose)
	}
	if final {
		if projective, err := projectiveCandidate(xs, points); err != nil {
			logger.Debugw("projective resection failed", "error", err)
		} else {
			candidates = append(candidates, projective)
		}
	}

	var best *transform.CamPose
	bestErr := math.Inf(1)
	for _, candidate := range candidates {
		refined := refinePose(candidate, markers, points, logger)
		if rms := poseRMS(refined, markers, points); rms < bestErr {
			best, bestErr = refined, rms
		}
	}
	if best == nil {
		return false
	}

	if final {
		kept, keptPoints := dropWorstMarkers(best, markers, points)
		if len(kept) < len(markers) {
			logger.Debugw("dropping outlier markers", "dropped", len(markers)-len(kept))
			best = refinePose(best, kept, keptPoints, logger)
			markers, points = kept, keptPoints
		}
	}

	var inFront int
	for _, x := range points {
		if best.Transform(x).Z > 0 {
			inFront++
		}
	}
	if 2*inFront <= len(points) {
		logger.Debugw("resected camera faces away from its points")
		return false
	}

	recon.InsertCamera(image, best.Rotation, best.Translation)
	return true
}

func correspondences(markers []tracks.Marker, recon *EuclideanReconstruction) ([]r2.Point, []r3.Vector) {
	xs := make([]r2.Point, len(markers))
	points := make([]r3.Vector, len(markers))
	for i, m := range markers {
		xs[i] = r2.Point{X: m.X, Y: m.Y}
		points[i] = recon.PointForTrack(m.Track).X
	}
	return xs, points
}

func projectiveCandidate(xs []r2.Point, points []r3.Vector) (*transform.CamPose, error) {
	P, err := transform.ProjectiveResection(xs, points)
	if err != nil {
		return nil, err
	}
	_, pose, err := transform.KRtFromProjection(P)
	return pose, err
}

func markerResidual(pose *transform.CamPose, m tracks.Marker, x r3.Vector) (float64, float64) {
	p := pose.Transform(x)
	return m.Weight * (p.X/p.Z - m.X), m.Weight * (p.Y/p.Z - m.Y)
}

func poseRMS(pose *transform.CamPose, markers []tracks.Marker, points []r3.Vector) float64 {
	var sum float64
	for i, m := range markers {
		dx, dy := markerResidual(pose, m, points[i])
		sum += dx*dx + dy*dy
	}
	rms := math.Sqrt(sum / float64(len(markers)))
	if math.IsNaN(rms) {
		return math.Inf(1)
	}
	return rms
}

// dropWorstMarkers discards markers whose residual is far above the median, keeping at least the
// minimum needed for resection.
func dropWorstMarkers(pose *transform.CamPose, markers []tracks.Marker, points []r3.Vector) ([]tracks.Marker, []r3.Vector) {
	residuals := make([]float64, len(markers))
	order := make([]int, len(markers))
	for i, m := range markers {
		dx, dy := markerResidual(pose, m, points[i])
		residuals[i] = math.Hypot(dx, dy)
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return residuals[order[a]] < residuals[order[b]] })
	median := residuals[order[len(order)/2]]

	keep := len(markers)
	minKeep := max(MinResectionMarkers, int(math.Ceil(float64(len(markers))*(1-maxDroppedFraction))))
	for keep > minKeep && residuals[order[keep-1]] > 3*median && residuals[order[keep-1]] > 1e-9 {
		keep--
	}
	if keep == len(markers) {
		return markers, points
	}
	sort.Ints(order[:keep])
	kept := make([]tracks.Marker, keep)
	keptPoints := make([]r3.Vector, keep)
	for i, idx := range order[:keep] {
		kept[i] = markers[idx]
		keptPoints[i] = points[idx]
	}
	return kept, keptPoints
}

// refinePose minimizes the squared reprojection error over an angle axis rotation and a
// translation. The input pose is returned when the optimizer fails or makes no progress.
func refinePose(
	pose *transform.CamPose,
	markers []tracks.Marker,
	points []r3.Vector,
	logger logging.Logger,
) *transform.CamPose {
	aa := spatialmath.RotationMatrixToAngleAxis(pose.Rotation)
	x0 := []float64{aa.X, aa.Y, aa.Z, pose.Translation.X, pose.Translation.Y, pose.Translation.Z}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			var cost float64
			poseResiduals(autodiff.Floats(x), markers, points, func(r autodiff.Float) {
				cost += 0.5 * float64(r*r)
			})
			return cost
		},
		Grad: func(grad, x []float64) {
			for i := range grad {
				grad[i] = 0
			}
			poseResiduals(autodiff.Variables(x, 0), markers, points, func(r autodiff.Jet) {
				for i := range grad {
					grad[i] += r.A * r.V[i]
				}
			})
		},
	}
	initial := problem.Func(x0)
	settings := &optimize.Settings{
		GradientThreshold: 1e-12,
		Converger:         &optimize.FunctionConverge{Absolute: 1e-16, Iterations: 20},
		MajorIterations:   200,
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.BFGS{})
	switch {
	case err == nil:
	case stalledLinesearch(err) && result != nil:
		logger.Debugw("pose refinement stopped early", "error", err, "cost", result.F, "initial", initial)
	default:
		logger.Debugw("pose refinement failed, keeping the linear estimate", "error", err)
		return pose
	}
	if result == nil || !(result.F < initial) {
		return pose
	}
	x := result.X
	return &transform.CamPose{
		Rotation:    spatialmath.AngleAxisToRotationMatrix(r3.Vector{X: x[0], Y: x[1], Z: x[2]}),
		Translation: r3.Vector{X: x[3], Y: x[4], Z: x[5]},
	}
}

// stalledLinesearch reports whether err only means BFGS could not improve further from its last
// location, which is still a valid pose.
func stalledLinesearch(err error) bool {
	return errors.Is(err, optimize.ErrLinesearcherFailure) ||
		errors.Is(err, optimize.ErrNoProgress) ||
		errors.Is(err, optimize.ErrLinesearcherBound) ||
		errors.Is(err, optimize.ErrNonDescentDirection)
}

func poseResiduals[T autodiff.Scalar[T]](x []T, markers []tracks.Marker, points []r3.Vector, emit func(T)) {
	aa := [3]T{x[0], x[1], x[2]}
	t := [3]T{x[3], x[4], x[5]}
	for i, m := range markers {
		u, v := projectAngleAxis(aa, t, vec3(x[0], points[i]))
		emit(u.AddConst(-m.X).Scale(m.Weight))
		emit(v.AddConst(-m.Y).Scale(m.Weight))
	}
}
