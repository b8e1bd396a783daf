package tracking

import (
	"context"
	"math"
	"sync"

	"github.com/golang/geo/r2"

	"go.viam.com/sfm/autodiff"
	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/rimage"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/solver"
	"go.viam.com/sfm/utils"
)

const (
	// minPatternSamples is the smallest canonical grid worth aligning.
	minPatternSamples = 16
	// smallSearchMargin is how much larger than the destination quad image2 must be for the brute
	// force search to have anything to explore.
	smallSearchMargin = 2
)

// TrackRegion finds where the region of image1 bounded by the first four points of points1 lies in
// image2. points2 holds the initial guess for those points in image2; further points after the
// four corners are carried along by the same warp. Images are single channel; only channel 0 is
// used otherwise. The returned points are the tracked positions, or the initial guess when the
// track failed before solving.
func TrackRegion(
	image1, image2 *rimage.FloatImage,
	points1, points2 []r2.Point,
	opts TrackRegionOptions,
	logger logging.Logger,
) ([]r2.Point, TrackRegionResult) {
	out := append([]r2.Point(nil), points2...)
	result := TrackRegionResult{Termination: DidNotRun}

	if len(points1) < 4 || len(points1) != len(points2) {
		logger.Warnw("track region needs matching point lists with at least 4 corners",
			"points1", len(points1), "points2", len(points2))
		result.Termination = ConfigurationError
		return out, result
	}
	if err := opts.Validate(""); err != nil {
		logger.Warnw("invalid track region options", "error", err)
		result.Termination = ConfigurationError
		return out, result
	}
	quad1, _ := QuadFromPoints(points1)
	quad2, _ := QuadFromPoints(points2)
	if !cornersInBounds(image1, quad1) {
		result.Termination = SourceOutOfBounds
		return out, result
	}
	if !cornersInBounds(image2, quad2) {
		result.Termination = DestinationOutOfBounds
		return out, result
	}

	t := &regionTracker{
		image1: rimage.BlurredImageAndDerivativesChannels(image1, opts.Sigma),
		image2: rimage.BlurredImageAndDerivativesChannels(image2, opts.Sigma),
		opts:   opts,
		logger: logger,
	}

	if opts.UseBruteInitialization && opts.AttemptRefineBeforeBrute {
		refined, first := t.track(points1, points2, false)
		switch {
		case first.IsUsable():
			return refined, first
		case first.Termination == SourceOutOfBounds,
			first.Termination == DestinationOutOfBounds,
			first.Termination == InsufficientPatternArea,
			first.Termination == ConfigurationError:
			return refined, first
		}
		logger.Debugw("refinement failed, retrying with brute initialization", "termination", first.Termination)
	}
	return t.track(points1, points2, opts.UseBruteInitialization)
}

// regionTracker holds the blurred images and their gradients for one TrackRegion call.
type regionTracker struct {
	image1, image2 *rimage.FloatImage
	opts           TrackRegionOptions
	logger         logging.Logger
}

func (t *regionTracker) track(points1, points2 []r2.Point, brute bool) ([]r2.Point, TrackRegionResult) {
	out := append([]r2.Point(nil), points2...)
	result := TrackRegionResult{Termination: DidNotRun}
	quad1, _ := QuadFromPoints(points1)
	quad2, _ := QuadFromPoints(out)

	if brute && t.searchAreaTooBigForDescent(quad2) {
		if shift, ok := t.bruteTranslation(quad1, quad2); ok {
			for i := range out {
				out[i] = out[i].Add(shift)
			}
			quad2, _ = QuadFromPoints(out)
			result.UsedBruteTranslationInitialization = true
			t.logger.Debugw("brute force translation", "dx", shift.X, "dy", shift.Y)
		}
	}

	nx, ny := pickSampling(quad1, quad2)
	canonical, err := canonicalHomography(quad1, nx, ny)
	if err != nil {
		t.logger.Warnw("cannot build canonical homography", "error", err)
		result.Termination = ConfigurationError
		return out, result
	}
	warp, err := newModelWarp(t.opts.Mode, quad1, quad2)
	if err != nil {
		t.logger.Warnw("cannot initialize warp", "error", err)
		result.Termination = ConfigurationError
		return out, result
	}

	problem := newPixelDifferenceProblem(t, warp, canonical, nx, ny)
	if problem.numValid < max(minPatternSamples, warp.NumParameters()) {
		result.Termination = InsufficientPatternArea
		return out, result
	}

	fellOut := false
	var lastCorners Quad
	solverOpts := solver.DefaultOptions()
	solverOpts.MaxIterations = t.opts.MaxIterations
	solverOpts.Logger = t.logger
	solverOpts.Callbacks = []solver.Callback{
		func(it solver.IterationSummary) solver.CallbackResult {
			corners := warpCorners(warp, it.Parameters, quad1)
			if !cornersInBounds(t.image2, corners) {
				fellOut = true
				return solver.Abort
			}
			return solver.Continue
		},
		func(it solver.IterationSummary) solver.CallbackResult {
			corners := warpCorners(warp, it.Parameters, quad1)
			defer func() { lastCorners = corners }()
			if it.Iteration == 0 || !it.StepAccepted {
				return solver.Continue
			}
			var shift float64
			for i := range corners {
				shift = math.Max(shift, corners[i].Sub(lastCorners[i]).Norm())
			}
			if shift < t.opts.MinimumCornerShiftTolerancePixels {
				return solver.TerminateSuccessfully
			}
			return solver.Continue
		},
	}

	params := warp.Parameters()
	summary, err := solver.Solve(problem, params, solverOpts)
	result.Iterations = summary.Iterations
	if err != nil {
		t.logger.Warnw("region solve failed", "error", err)
		result.Termination = ConfigurationError
		return out, result
	}
	if fellOut {
		result.Termination = FellOutOfBounds
		return out, result
	}
	result.Termination = terminationFromSolver(summary.Termination)
	if err := warp.SetParameters(params); err != nil {
		result.Termination = ConfigurationError
		return out, result
	}

	result.Correlation = problem.correlation()
	// A NaN correlation is never above the threshold.
	if result.IsUsable() && t.opts.MinimumCorrelation > 0 && !(result.Correlation > t.opts.MinimumCorrelation) {
		result.Termination = InsufficientCorrelation
	}

	for i, p := range points1 {
		out[i] = warp.Forward(p)
	}
	t.logger.Debugw("tracked region",
		"termination", result.Termination,
		"iterations", result.Iterations,
		"correlation", result.Correlation,
		"warp", warp.String())
	return out, result
}

func terminationFromSolver(t solver.Termination) Termination {
	switch t {
	case solver.ParameterTolerance, solver.UserSuccess:
		return ParameterTolerance
	case solver.FunctionTolerance:
		return FunctionTolerance
	case solver.GradientTolerance:
		return GradientTolerance
	case solver.NoConvergence:
		return NoConvergence
	case solver.NumericalFailure:
		return NumericalFailure
	case solver.UserAbort:
		return FellOutOfBounds
	case solver.DidNotRun:
	}
	return DidNotRun
}

func warpCorners(w *modelWarp, params []float64, quad Quad) Quad {
	p := autodiff.Floats(params)
	var out Quad
	for i, c := range quad {
		x, y := forward(w, p, c.X, c.Y)
		out[i] = r2.Point{X: x.Real(), Y: y.Real()}
	}
	return out
}

func (t *regionTracker) searchAreaTooBigForDescent(quad2 Quad) bool {
	lo, hi := quad2.Bounds()
	return float64(t.image2.Width()) > hi.X-lo.X+2*smallSearchMargin ||
		float64(t.image2.Height()) > hi.Y-lo.Y+2*smallSearchMargin
}

// bruteTranslation resamples image1's region into the bounding box of quad2 and slides it over
// every integer position of image2, returning the shift with the lowest masked sum of absolute
// differences.
func (t *regionTracker) bruteTranslation(quad1, quad2 Quad) (r2.Point, bool) {
	toSource, err := transform.EstimateHomography2D(quad2[:], quad1[:])
	if err != nil {
		return r2.Point{}, false
	}
	lo, hi := quad2.Bounds()
	originX, originY := int(math.Floor(lo.X)), int(math.Floor(lo.Y))
	width := int(math.Ceil(hi.X)) - originX + 1
	height := int(math.Ceil(hi.Y)) - originY + 1
	w2, h2 := t.image2.Width(), t.image2.Height()
	if width > w2 || height > h2 {
		return r2.Point{}, false
	}

	pattern := make([]float64, width*height)
	mask := make([]float64, width*height)
	for r := 0; r < height; r++ {
		for c := 0; c < width; c++ {
			p := r2.Point{X: float64(originX + c), Y: float64(originY + r)}
			if !quad2.Contains(p) {
				continue
			}
			src := toSource.Apply(p)
			weight := 1.0
			if t.opts.Mask != nil {
				weight = rimage.SampleLinear(t.opts.Mask, src.X, src.Y, 0)
			}
			pattern[r*width+c] = rimage.SampleLinear(t.image1, src.X, src.Y, 0)
			mask[r*width+c] = weight
		}
	}

	bestSAD := math.Inf(1)
	bestR, bestC := -1, -1
	var bestMu sync.Mutex
	rows := h2 - height + 1
	if err := utils.GroupWorkParallel(context.Background(), rows, func(int) {},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			localSAD := math.Inf(1)
			localR, localC := -1, -1
			return func(memberNum, r int) {
					for c := 0; c+width <= w2; c++ {
						var sad float64
						for i := 0; i < height && sad < localSAD; i++ {
							for j := 0; j < width; j++ {
								m := mask[i*width+j]
								if m == 0 {
									continue
								}
								v := float64(t.image2.At(c+j, r+i, 0))
								sad += m * math.Abs(v-pattern[i*width+j])
							}
						}
						if sad < localSAD {
							localSAD, localR, localC = sad, r, c
						}
					}
				}, func() {
					bestMu.Lock()
					defer bestMu.Unlock()
					if localSAD < bestSAD || (localSAD == bestSAD && localR >= 0 && localR < bestR) {
						bestSAD, bestR, bestC = localSAD, localR, localC
					}
				}
		}); err != nil {
		return r2.Point{}, false
	}
	if bestR < 0 {
		return r2.Point{}, false
	}
	return r2.Point{X: float64(bestC - originX), Y: float64(bestR - originY)}, true
}
