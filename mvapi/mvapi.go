// Package mvapi is the flat boundary a host application uses to drive tracking and
// reconstruction. It takes raw buffers and plain values, and hands back the package types as
// opaque handles. Handles are garbage collected; there is nothing to destroy.
package mvapi

import (
	"context"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/rimage"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/tracking"
	"go.viam.com/sfm/tracks"
	"go.viam.com/sfm/vision/keypoints"
)

// InitLogging installs the process wide logger. Only the first call has an effect.
func InitLogging(programName string) logging.Logger {
	return logging.InitLogging(programName)
}

// SetVerbosity sets the process wide verbosity.
func SetVerbosity(level int) {
	logging.SetVerbosity(level)
}

// EnableDebugLogging turns on debug logging.
func EnableDebugLogging() {
	logging.EnableDebugLogging()
}

func logger(name string) logging.Logger {
	return logging.Global().Sublogger(name)
}

// TrackRegion tracks the quad of image1 given by the first four points of quad1 into image2,
// starting from quad2, which receives the tracked points whether or not tracking succeeded. The
// fifth point is warped along with the corners. Images are single channel float buffers.
func TrackRegion(
	options *tracking.TrackRegionOptions,
	image1 []float32, width1, height1 int,
	image2 []float32, width2, height2 int,
	quad1 [5]r2.Point,
	quad2 *[5]r2.Point,
) (bool, tracking.TrackRegionResult) {
	log := logger("track_region")
	result := tracking.TrackRegionResult{Termination: tracking.ConfigurationError}
	img1, err := rimage.FloatImageFromFloats(image1, width1, height1, 1)
	if err != nil {
		log.Warnw("invalid first image", "error", err)
		return false, result
	}
	img2, err := rimage.FloatImageFromFloats(image2, width2, height2, 1)
	if err != nil {
		log.Warnw("invalid second image", "error", err)
		return false, result
	}
	if options == nil || quad2 == nil {
		log.Warnw("track region needs options and a destination quad")
		return false, result
	}

	tracked, result := tracking.TrackRegion(img1, img2, quad1[:], quad2[:], *options, log)
	copy(quad2[:], tracked)
	return result.IsUsable(), result
}

// SamplePlanarPatch resamples the quad given by xs and ys into a numSamplesX by numSamplesY patch
// with the image's channel count. mask, when not nil, is a single channel weight image of the same
// size. The fifth point, when given, is returned in patch coordinates.
func SamplePlanarPatch(
	image []float32, width, height, channels int,
	xs, ys []float64,
	numSamplesX, numSamplesY int,
	mask []float32,
) ([]float32, r2.Point, error) {
	img, err := rimage.FloatImageFromFloats(image, width, height, channels)
	if err != nil {
		return nil, r2.Point{}, err
	}
	if len(xs) != len(ys) {
		return nil, r2.Point{}, errors.Errorf("got %d xs and %d ys", len(xs), len(ys))
	}
	var maskImage *rimage.FloatImage
	if mask != nil {
		if maskImage, err = rimage.FloatImageFromFloats(mask, width, height, 1); err != nil {
			return nil, r2.Point{}, errors.Wrap(err, "invalid mask")
		}
	}
	points := make([]r2.Point, len(xs))
	for i := range xs {
		points[i] = r2.Point{X: xs[i], Y: ys[i]}
	}
	patch, center, err := tracking.SamplePlanarPatch(img, points, numSamplesX, numSamplesY, maskImage)
	if err != nil {
		return nil, r2.Point{}, err
	}
	return patch.Data(), center, nil
}

// TracksNew returns an empty track database.
func TracksNew() *tracks.Tracks {
	return tracks.New()
}

// TracksInsert adds or replaces the marker of track in image.
func TracksInsert(t *tracks.Tracks, image, track int, x, y float64) {
	t.Insert(image, track, x, y)
}

// Reconstruction is the handle returned by the solvers.
type Reconstruction struct {
	*reconstruction.Result
}

// CameraForImage returns the camera to world transform of image as a row major 4x4 matrix.
func (r *Reconstruction) CameraForImage(image int) ([4][4]float64, bool) {
	var out [4][4]float64
	m, ok := r.Result.CameraForImage(image)
	if !ok {
		return out, false
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i][j] = m.At(i, j)
		}
	}
	return out, true
}

// PointForTrack returns the reconstructed position of track.
func (r *Reconstruction) PointForTrack(track int) ([3]float64, bool) {
	p, ok := r.Result.PointForTrack(track)
	return [3]float64{p.X, p.Y, p.Z}, ok
}

// RefinedIntrinsics returns the intrinsics after refinement.
func (r *Reconstruction) RefinedIntrinsics() transform.CameraIntrinsicsOptions {
	return r.Intrinsics.Options()
}

type solveFunc func(
	context.Context,
	*tracks.Tracks,
	*transform.CameraIntrinsics,
	reconstruction.ReconstructionOptions,
	reconstruction.ProgressFunc,
	logging.Logger,
) (*reconstruction.Result, error)

func solve(
	ctx context.Context,
	fn solveFunc,
	name string,
	t *tracks.Tracks,
	intrinsicsOptions transform.CameraIntrinsicsOptions,
	options *reconstruction.ReconstructionOptions,
	progress reconstruction.ProgressFunc,
) (*Reconstruction, error) {
	if options == nil {
		return nil, errors.New("reconstruction options are required")
	}
	if err := intrinsicsOptions.Validate("intrinsics"); err != nil {
		return nil, err
	}
	intrinsics := transform.NewCameraIntrinsicsFromOptions(intrinsicsOptions)
	res, err := fn(ctx, t, intrinsics, *options, progress, logger(name))
	if err != nil {
		return nil, err
	}
	// Selected keyframes are reported back to the caller.
	options.Keyframe1, options.Keyframe2 = res.Options.Keyframe1, res.Options.Keyframe2
	return &Reconstruction{res}, nil
}

// SolveReconstruction runs the full reconstruction on pixel markers. When keyframes are selected
// automatically they are written back to options.
func SolveReconstruction(
	ctx context.Context,
	t *tracks.Tracks,
	intrinsicsOptions transform.CameraIntrinsicsOptions,
	options *reconstruction.ReconstructionOptions,
	progress reconstruction.ProgressFunc,
) (*Reconstruction, error) {
	return solve(ctx, reconstruction.Solve, "solve_reconstruction", t, intrinsicsOptions, options, progress)
}

// SolveModal runs the rotation only reconstruction on pixel markers.
func SolveModal(
	ctx context.Context,
	t *tracks.Tracks,
	intrinsicsOptions transform.CameraIntrinsicsOptions,
	options *reconstruction.ReconstructionOptions,
	progress reconstruction.ProgressFunc,
) (*Reconstruction, error) {
	return solve(ctx, reconstruction.SolveModal, "solve_modal", t, intrinsicsOptions, options, progress)
}

// IntrinsicsNew builds intrinsics from options.
func IntrinsicsNew(options transform.CameraIntrinsicsOptions) *transform.CameraIntrinsics {
	return transform.NewCameraIntrinsicsFromOptions(options)
}

// IntrinsicsUpdate applies options, keeping cached distortion grids when nothing they depend on
// changed.
func IntrinsicsUpdate(ci *transform.CameraIntrinsics, options transform.CameraIntrinsicsOptions) {
	ci.Update(options)
}

// IntrinsicsExtract returns the current parameters.
func IntrinsicsExtract(ci *transform.CameraIntrinsics) transform.CameraIntrinsicsOptions {
	return ci.Options()
}

// IntrinsicsSetThreadCount sets the number of workers used to resample images.
func IntrinsicsSetThreadCount(ci *transform.CameraIntrinsics, n int) {
	ci.SetThreadCount(n)
}

// Features is the handle returned by the feature detectors.
type Features struct {
	features []keypoints.Feature
}

// Count returns the number of detected features.
func (f *Features) Count() int {
	return len(f.features)
}

// Get returns feature i. ok is false when i is not in [0, Count()).
func (f *Features) Get(i int) (x, y, score, size float64, ok bool) {
	if f == nil || i < 0 || i >= len(f.features) {
		return 0, 0, 0, 0, false
	}
	feature := f.features[i]
	return feature.X, feature.Y, feature.Score, feature.Size, true
}

// DetectFeaturesFAST finds FAST corners whose contrast exceeds minTrackness, at least margin pixels
// from the border and minDistance apart.
func DetectFeaturesFAST(data []byte, width, height, stride, margin, minTrackness int, minDistance float64) (*Features, error) {
	return detect(data, width, height, stride, &keypoints.DetectorConfig{
		Type:        keypoints.DetectorFAST,
		Margin:      margin,
		MinDistance: minDistance,
		FAST: &keypoints.FASTConfig{
			NMatchesCircle: 9,
			NMSWinSize:     3,
			Threshold:      float64(minTrackness),
		},
	})
}

// DetectFeaturesMoravec finds at most count Moravec interest points, at least margin pixels from
// the border and minDistance apart.
func DetectFeaturesMoravec(data []byte, width, height, stride, margin, count int, minDistance float64) (*Features, error) {
	return detect(data, width, height, stride, &keypoints.DetectorConfig{
		Type:        keypoints.DetectorMoravec,
		Margin:      margin,
		MinDistance: minDistance,
		MaxCount:    count,
	})
}

func detect(data []byte, width, height, stride int, config *keypoints.DetectorConfig) (*Features, error) {
	img, err := keypoints.GrayFromBytes(data, width, height, stride)
	if err != nil {
		return nil, err
	}
	features, err := keypoints.Detect(img, config)
	if err != nil {
		return nil, err
	}
	return &Features{features: features}, nil
}

// UndistortBytes removes lens distortion from a byte image.
func UndistortBytes(ci *transform.CameraIntrinsics, src, dst []byte, width, height int, overscan float64, channels int) error {
	return ci.UndistortBytes(src, dst, width, height, overscan, channels)
}

// UndistortFloats removes lens distortion from a float image.
func UndistortFloats(ci *transform.CameraIntrinsics, src, dst []float32, width, height int, overscan float64, channels int) error {
	return ci.UndistortFloats(src, dst, width, height, overscan, channels)
}

// DistortBytes applies lens distortion to a byte image.
func DistortBytes(ci *transform.CameraIntrinsics, src, dst []byte, width, height int, overscan float64, channels int) error {
	return ci.DistortBytes(src, dst, width, height, overscan, channels)
}

// DistortFloats applies lens distortion to a float image.
func DistortFloats(ci *transform.CameraIntrinsics, src, dst []float32, width, height int, overscan float64, channels int) error {
	return ci.DistortFloats(src, dst, width, height, overscan, channels)
}

// ApplyIntrinsics maps a normalized point to distorted pixel coordinates.
func ApplyIntrinsics(ci *transform.CameraIntrinsics, x, y float64) (float64, float64) {
	return ci.ApplyIntrinsics(x, y)
}

// InvertIntrinsics maps a distorted pixel to normalized coordinates.
func InvertIntrinsics(ci *transform.CameraIntrinsics, x, y float64) (float64, float64) {
	return ci.InvertIntrinsics(x, y)
}
