package reconstruction

import (
	"context"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/tracks"
)

// MinTwoFrameCorrespondences is the number of tracks the keyframes must share.
const MinTwoFrameCorrespondences = 8

// ErrTooFewCorrespondences is returned when the keyframes cannot seed a reconstruction.
var ErrTooFewCorrespondences = errors.New("too few correspondences between keyframes")

// NormalizeTracks maps every marker of raw into normalized camera coordinates.
func NormalizeTracks(raw *tracks.Tracks, intrinsics *transform.CameraIntrinsics) *tracks.Tracks {
	return raw.Map(func(m tracks.Marker) tracks.Marker {
		m.X, m.Y = intrinsics.InvertIntrinsics(m.X, m.Y)
		return m
	})
}

// EuclideanReconstructTwoFrames places the camera of image1 at the origin and the camera of image2
// at the relative pose estimated from their shared normalized markers, with a unit baseline.
func EuclideanReconstructTwoFrames(
	normalized *tracks.Tracks,
	image1, image2 int,
	recon *EuclideanReconstruction,
	logger logging.Logger,
) error {
	markers1, markers2 := normalized.MarkersForTracksInBothImages(image1, image2)
	if len(markers1) < MinTwoFrameCorrespondences {
		return errors.Wrapf(ErrTooFewCorrespondences, "images %d and %d share %d tracks, need %d",
			image1, image2, len(markers1), MinTwoFrameCorrespondences)
	}
	toPoint := func(m tracks.Marker, _ int) r2.Point { return r2.Point{X: m.X, Y: m.Y} }
	pose, err := transform.EstimateRelativePose(lo.Map(markers1, toPoint), lo.Map(markers2, toPoint))
	if err != nil {
		return errors.Wrapf(err, "cannot estimate the relative pose of images %d and %d", image1, image2)
	}
	identity := transform.IdentityCamPose()
	recon.InsertCamera(image1, identity.Rotation, identity.Translation)
	recon.InsertCamera(image2, pose.Rotation, pose.Translation)
	logger.Debugw("initialized from two frames", "image1", image1, "image2", image2, "correspondences", len(markers1))
	return nil
}

// pipeline carries the state of one Solve call.
type pipeline struct {
	raw        *tracks.Tracks
	normalized *tracks.Tracks
	intrinsics *transform.CameraIntrinsics
	opts       ReconstructionOptions
	recon      *EuclideanReconstruction
	stage      Stage
	failed     map[int]bool
	progress   ProgressFunc
	logger     logging.Logger
}

func newPipeline(
	raw *tracks.Tracks,
	intrinsics *transform.CameraIntrinsics,
	opts ReconstructionOptions,
	progress ProgressFunc,
	logger logging.Logger,
) (*pipeline, error) {
	if raw == nil {
		return nil, errors.New("tracks are required")
	}
	if intrinsics == nil {
		return nil, errors.New("intrinsics are required")
	}
	if err := opts.Validate("reconstruction"); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(float64, string) {}
	}
	return &pipeline{
		raw:        raw,
		intrinsics: intrinsics,
		opts:       opts,
		recon:      NewEuclideanReconstruction(),
		failed:     map[int]bool{},
		progress:   progress,
		logger:     logger,
	}, nil
}

func (p *pipeline) advance(stage Stage, progress float64, message string) {
	p.stage = stage
	p.logger.Debugw("reconstruction stage reached", "stage", stage)
	p.progress(progress, message)
}

func (p *pipeline) result() *Result {
	return &Result{
		Reconstruction: p.recon,
		Intrinsics:     p.intrinsics,
		Options:        p.opts,
		Stage:          p.stage,
		FailedImages:   lo.Keys(p.failed),
	}
}

// Solve reconstructs cameras and points from pixel markers. The intrinsics are refined in place
// when the options ask for it. Images that cannot be added are reported in Result.FailedImages
// rather than failing the whole call; only a failed initialization or a cancelled context returns
// an error.
func Solve(
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
	p.advance(StageNormalized, 0.05, "Normalizing markers")

	if p.opts.SelectKeyframes {
		k1, k2, err := SelectKeyframes(p.normalized)
		if err != nil {
			return nil, err
		}
		p.opts.Keyframe1, p.opts.Keyframe2 = k1, k2
		logger.Infow("selected keyframes", "keyframe1", k1, "keyframe2", k2)
	}

	if err := EuclideanReconstructTwoFrames(p.normalized, p.opts.Keyframe1, p.opts.Keyframe2, p.recon, logger); err != nil {
		return nil, err
	}
	p.intersectTracks(p.normalized.TrackIDs())
	p.advance(StageTwoFrameInitialized, 0.1, "Reconstructing keyframes")

	if _, err := EuclideanBundle(p.normalized, p.recon, logger); err != nil {
		return nil, err
	}
	p.advance(StageBundleAdjusted, 0.2, "Initial bundle adjustment")

	if err := p.complete(ctx, false); err != nil {
		return nil, err
	}
	if p.opts.UseFallbackReconstruction && len(p.failed) > 0 {
		p.progress(0.7, "Retrying failed frames")
		if err := p.complete(ctx, true); err != nil {
			return nil, err
		}
	}
	p.advance(StageCompleted, 0.8, "Completed reconstruction")

	if p.opts.RefineIntrinsics != 0 {
		p.progress(0.85, "Refining solution")
		if _, err := EuclideanBundleCommonIntrinsics(
			raw, p.opts.RefineIntrinsics, BundleNoConstraints, p.recon, intrinsics, logger,
		); err != nil {
			return nil, err
		}
	}
	p.advance(StageRefined, 0.9, "Refined solution")

	ScaleToUnity(p.recon)
	p.advance(StageScaleNormalized, 0.95, "Normalized scale")

	res := p.result()
	res.finish(raw)
	p.advance(StageFinished, 1, "Finishing solution")
	res.Stage = p.stage
	logger.Infow("reconstruction finished",
		"cameras", p.recon.NumCameras(),
		"points", p.recon.NumPoints(),
		"failed_images", res.FailedImages,
		"average_error", res.Error)
	return res, nil
}

// intersectTracks triangulates every listed track that has no point yet.
func (p *pipeline) intersectTracks(trackIDs []int) int {
	var added int
	for _, track := range trackIDs {
		if p.recon.PointForTrack(track) != nil {
			continue
		}
		if EuclideanIntersect(p.normalized.MarkersForTrack(track), p.recon, p.logger) {
			added++
		}
	}
	return added
}

// nextImage picks the image to resect next: the candidate seeing the most reconstructed points.
func (p *pipeline) nextImage(candidates []int) (int, bool) {
	best, bestCount := -1, MinResectionMarkers-1
	for _, image := range candidates {
		count := len(resectionMarkers(p.normalized.MarkersInImage(image), p.recon))
		if count > bestCount {
			best, bestCount = image, count
		}
	}
	return best, best >= 0
}

// candidates returns the images that may still be resected in this pass.
func (p *pipeline) candidates(final bool, attempted map[int]bool) []int {
	return lo.Filter(p.normalized.Images(), func(image int, _ int) bool {
		if p.recon.CameraForImage(image) != nil || attempted[image] {
			return false
		}
		return final || !p.failed[image]
	})
}

// complete adds images one at a time until none can be resected. A failing image is restored to
// the state before it was attempted and recorded; the final pass retries failed images once with
// the more tolerant resection.
func (p *pipeline) complete(ctx context.Context, final bool) error {
	attempted := map[int]bool{}
	total := len(p.normalized.Images())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		image, ok := p.nextImage(p.candidates(final, attempted))
		if !ok {
			break
		}
		attempted[image] = true
		p.progress(0.2+0.5*float64(p.recon.NumCameras())/float64(total), "Completing solution")

		if p.addImage(image, final) {
			delete(p.failed, image)
			continue
		}
		p.failed[image] = true
	}
	for _, image := range p.normalized.Images() {
		if p.recon.CameraForImage(image) == nil && !p.failed[image] {
			p.failed[image] = true
		}
	}
	return nil
}

// addImage resects image, intersects the tracks it makes visible and bundles. The reconstruction
// is rolled back when any step fails or the image error exceeds the success threshold.
func (p *pipeline) addImage(image int, final bool) bool {
	snapshot := p.recon.Clone()
	logger := p.logger.WithImage(image)
	rollback := func(reason string, fields ...interface{}) bool {
		p.recon = snapshot
		logger.Infow("failed to add image", append([]interface{}{"reason", reason}, fields...)...)
		return false
	}

	markers := p.normalized.MarkersInImage(image)
	if !EuclideanResect(markers, p.recon, final, logger) {
		return rollback("resection failed")
	}
	if err := p.checkThreshold(image); err != nil {
		return rollback(err.Error())
	}
	added := p.intersectTracks(lo.Map(markers, func(m tracks.Marker, _ int) int { return m.Track }))
	if _, err := EuclideanBundle(p.normalized, p.recon, logger); err != nil {
		return rollback("bundle adjustment failed", "error", err)
	}
	if err := p.checkThreshold(image); err != nil {
		return rollback(err.Error())
	}
	logger.Debugw("added image", "new_points", added)
	return true
}

func (p *pipeline) checkThreshold(image int) error {
	if p.opts.SuccessThreshold <= 0 {
		return nil
	}
	rms := imageRMSError(p.recon, p.intrinsics, p.raw.MarkersInImage(image))
	if !(rms <= p.opts.SuccessThreshold) {
		return errors.Errorf("reprojection error %.4g px exceeds threshold %.4g px", rms, p.opts.SuccessThreshold)
	}
	return nil
}
