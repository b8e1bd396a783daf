package reconstruction

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/tracks"
)

// Stage is a step of the reconstruction pipeline. A Result records the last stage reached.
type Stage int

// The pipeline stages, in order.
const (
	StageUninitialized Stage = iota
	StageNormalized
	StageTwoFrameInitialized
	StageBundleAdjusted
	StageCompleted
	StageRefined
	StageScaleNormalized
	StageFinished
)

var stageNames = map[Stage]string{
	StageUninitialized:       "uninitialized",
	StageNormalized:          "normalized",
	StageTwoFrameInitialized: "two_frame_initialized",
	StageBundleAdjusted:      "bundle_adjusted",
	StageCompleted:           "completed",
	StageRefined:             "refined",
	StageScaleNormalized:     "scale_normalized",
	StageFinished:            "finished",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// ProgressFunc receives coarse progress in [0, 1] and a short message.
type ProgressFunc func(progress float64, message string)

// ErrorStats summarizes per-marker reprojection errors in pixels.
type ErrorStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`
}

// Result is a finished reconstruction along with its diagnostics.
type Result struct {
	Reconstruction *EuclideanReconstruction
	// Intrinsics are the camera intrinsics after any refinement.
	Intrinsics *transform.CameraIntrinsics
	// Options are the options used, with automatically selected keyframes filled in.
	Options ReconstructionOptions
	Stage   Stage
	// Error is the average reprojection error over all markers in pixels.
	Error float64
	Stats ErrorStats
	// FailedImages are the images that could not be added to the reconstruction.
	FailedImages []int

	trackErrors map[int]float64
	imageErrors map[int]float64
}

// ReprojectionErrorForTrack returns the average pixel error of a track, or 0 when the track has no
// point or no marker in a reconstructed image.
func (r *Result) ReprojectionErrorForTrack(track int) float64 {
	return r.trackErrors[track]
}

// ReprojectionErrorForImage returns the average pixel error of an image, or 0 when the image has
// no camera or sees no reconstructed point.
func (r *Result) ReprojectionErrorForImage(image int) float64 {
	return r.imageErrors[image]
}

// PointForTrack returns the reconstructed position of track.
func (r *Result) PointForTrack(track int) (r3.Vector, bool) {
	p := r.Reconstruction.PointForTrack(track)
	if p == nil {
		return r3.Vector{}, false
	}
	return p.X, true
}

// CameraForImage returns the 4x4 camera to world transform of image.
func (r *Result) CameraForImage(image int) (*mat.Dense, bool) {
	c := r.Reconstruction.CameraForImage(image)
	if c == nil {
		return nil, false
	}
	return c.CameraToWorld(), true
}

// markerPixelError reprojects the point of m through its camera and intrinsics and returns the
// distance to m in pixels.
func markerPixelError(
	recon *EuclideanReconstruction,
	intrinsics *transform.CameraIntrinsics,
	m tracks.Marker,
) (float64, bool) {
	camera := recon.CameraForImage(m.Image)
	point := recon.PointForTrack(m.Track)
	if camera == nil || point == nil {
		return 0, false
	}
	projected, _ := camera.Project(point.X)
	x, y := intrinsics.ApplyIntrinsics(projected.X, projected.Y)
	return math.Hypot(x-m.X, y-m.Y), true
}

// imageRMSError is the root mean square pixel error of the reconstructed markers in markers.
func imageRMSError(
	recon *EuclideanReconstruction,
	intrinsics *transform.CameraIntrinsics,
	markers []tracks.Marker,
) float64 {
	var sum float64
	var n int
	for _, m := range markers {
		if m.Weight == 0 {
			continue
		}
		e, ok := markerPixelError(recon, intrinsics, m)
		if !ok {
			continue
		}
		sum += e * e
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

// finish computes the per track, per image and aggregate reprojection errors of raw markers.
func (r *Result) finish(raw *tracks.Tracks) {
	r.trackErrors = map[int]float64{}
	r.imageErrors = map[int]float64{}
	trackCounts := map[int]int{}
	imageCounts := map[int]int{}
	var all stats.Float64Data
	for _, m := range raw.AllMarkers() {
		e, ok := markerPixelError(r.Reconstruction, r.Intrinsics, m)
		if !ok {
			continue
		}
		all = append(all, e)
		r.trackErrors[m.Track] += e
		trackCounts[m.Track]++
		r.imageErrors[m.Image] += e
		imageCounts[m.Image]++
	}
	for track, n := range trackCounts {
		r.trackErrors[track] /= float64(n)
	}
	for image, n := range imageCounts {
		r.imageErrors[image] /= float64(n)
	}
	r.Stats = computeErrorStats(all)
	r.Error = r.Stats.Mean
	sort.Ints(r.FailedImages)
}

func computeErrorStats(errs stats.Float64Data) ErrorStats {
	if len(errs) == 0 {
		return ErrorStats{}
	}
	out := ErrorStats{Count: len(errs)}
	// The stats functions only fail on empty input.
	out.Mean, _ = stats.Mean(errs)
	out.Median, _ = stats.Median(errs)
	out.P95, _ = stats.Percentile(errs, 95)
	out.Max, _ = stats.Max(errs)
	return out
}

// ScaleToUnity rescales recon so that the camera farthest from the mean camera center is at
// distance one from it. Reconstructions with a single camera or coincident centers are left alone.
func ScaleToUnity(recon *EuclideanReconstruction) {
	cameras := recon.AllCameras()
	if len(cameras) == 0 {
		return
	}
	var mean r3.Vector
	for _, c := range cameras {
		mean = mean.Add(c.Center())
	}
	mean = mean.Mul(1 / float64(len(cameras)))

	var maxDistance float64
	for _, c := range cameras {
		maxDistance = math.Max(maxDistance, c.Center().Sub(mean).Norm())
	}
	if maxDistance == 0 {
		return
	}
	scale := 1 / maxDistance
	for _, c := range cameras {
		recon.InsertCamera(c.Image, c.Rotation, c.Translation.Mul(scale))
	}
	for _, p := range recon.AllPoints() {
		recon.InsertPoint(p.Track, p.X.Mul(scale))
	}
}
