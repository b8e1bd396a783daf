package reconstruction

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/sfm/autodiff"
	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/solver"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/tracks"
)

// BundleConstraints restricts which camera parameters bundle adjustment may change.
type BundleConstraints int

const (
	// BundleNoConstraints refines full camera poses.
	BundleNoConstraints BundleConstraints = iota
	// BundleNoTranslation refines camera rotations only.
	BundleNoTranslation
)

// Local jet variable layout for one residual.
const (
	jetCamera     = 0
	jetPoint      = 6
	jetIntrinsics = 9
)

// refinableIntrinsics maps refine flags to intrinsic indices, in parameter order.
var refinableIntrinsics = []struct {
	flag    RefineFlags
	indices []int
}{
	{RefineFocalLength, []int{intrinsicFocal}},
	{RefinePrincipalPoint, []int{intrinsicPrincipalX, intrinsicPrincipalY}},
	{RefineRadialK1, []int{intrinsicK1}},
	{RefineRadialK2, []int{intrinsicK2}},
}

// ErrNothingToBundle is returned when no marker connects a camera to a point.
var ErrNothingToBundle = errors.New("no markers observe both a reconstructed camera and point")

// EuclideanBundle refines every camera and point of recon by minimizing the reprojection error of
// the normalized markers in all. The camera with the lowest image index is held fixed.
func EuclideanBundle(all *tracks.Tracks, recon *EuclideanReconstruction, logger logging.Logger) (solver.Summary, error) {
	return bundle(all, recon, nil, 0, BundleNoConstraints, logger)
}

// EuclideanBundleCommonIntrinsics refines recon against pixel markers, optionally refining the
// intrinsics selected by flags, which all cameras share. Refined intrinsics are written back.
func EuclideanBundleCommonIntrinsics(
	all *tracks.Tracks,
	flags RefineFlags,
	constraints BundleConstraints,
	recon *EuclideanReconstruction,
	intrinsics *transform.CameraIntrinsics,
	logger logging.Logger,
) (solver.Summary, error) {
	if intrinsics == nil {
		return solver.Summary{}, errors.New("intrinsics are required")
	}
	return bundle(all, recon, intrinsics, flags, constraints, logger)
}

type bundleProblem struct {
	markers       []tracks.Marker
	cameras       []*EuclideanCamera
	cameraByImage map[int]*EuclideanCamera
	points        []*EuclideanPoint
	cameraOffset  map[int]int
	pointOffset   map[int]int
	fixedImage    int
	noTranslation bool
	// pixel residuals are used whenever intrinsics are given.
	pixel           bool
	intrinsics      [numIntrinsics]float64
	freeIntrinsics  []int
	intrinsicOffset int
	numParams       int
}

func newBundleProblem(
	all *tracks.Tracks,
	recon *EuclideanReconstruction,
	intrinsics *transform.CameraIntrinsics,
	flags RefineFlags,
	constraints BundleConstraints,
) *bundleProblem {
	p := &bundleProblem{
		cameraOffset:  map[int]int{},
		cameraByImage: map[int]*EuclideanCamera{},
		pointOffset:   map[int]int{},
		noTranslation: constraints == BundleNoTranslation,
		pixel:         intrinsics != nil,
		fixedImage:    -1,
	}
	cameraSize := 6
	if p.noTranslation {
		cameraSize = 3
	}

	p.cameras = recon.AllCameras()
	if len(p.cameras) > 0 {
		p.fixedImage = p.cameras[0].Image
	}
	for _, c := range p.cameras {
		p.cameraByImage[c.Image] = c
		if c.Image == p.fixedImage {
			continue
		}
		p.cameraOffset[c.Image] = p.numParams
		p.numParams += cameraSize
	}
	p.points = recon.AllPoints()
	for _, pt := range p.points {
		p.pointOffset[pt.Track] = p.numParams
		p.numParams += 3
	}
	if intrinsics != nil {
		f := intrinsics.FocalLength()
		cx, cy := intrinsics.PrincipalPoint()
		k1, k2, k3 := intrinsics.RadialDistortion()
		p.intrinsics = [numIntrinsics]float64{f, cx, cy, k1, k2, k3}
		p.intrinsicOffset = p.numParams
		for _, r := range refinableIntrinsics {
			if flags.Has(r.flag) {
				p.freeIntrinsics = append(p.freeIntrinsics, r.indices...)
			}
		}
		p.numParams += len(p.freeIntrinsics)
	}

	for _, m := range all.AllMarkers() {
		if recon.CameraForImage(m.Image) == nil || recon.PointForTrack(m.Track) == nil {
			continue
		}
		p.markers = append(p.markers, m)
	}
	return p
}

func (p *bundleProblem) NumParameters() int { return p.numParams }

func (p *bundleProblem) NumResiduals() int { return 2 * len(p.markers) }

// initialParameters packs the current state of recon.
func (p *bundleProblem) initialParameters(recon *EuclideanReconstruction) []float64 {
	params := make([]float64, p.numParams)
	for image, off := range p.cameraOffset {
		c := recon.CameraForImage(image)
		aa := spatialmath.RotationMatrixToAngleAxis(c.Rotation)
		copy(params[off:], []float64{aa.X, aa.Y, aa.Z})
		if !p.noTranslation {
			copy(params[off+3:], []float64{c.Translation.X, c.Translation.Y, c.Translation.Z})
		}
	}
	for track, off := range p.pointOffset {
		x := recon.PointForTrack(track).X
		copy(params[off:], []float64{x.X, x.Y, x.Z})
	}
	for i, idx := range p.freeIntrinsics {
		params[p.intrinsicOffset+i] = p.intrinsics[idx]
	}
	return params
}

// unpack writes params back into recon and intrinsics.
func (p *bundleProblem) unpack(params []float64, recon *EuclideanReconstruction, intrinsics *transform.CameraIntrinsics) {
	for image, off := range p.cameraOffset {
		c := recon.CameraForImage(image)
		rotation := spatialmath.AngleAxisToRotationMatrix(r3.Vector{X: params[off], Y: params[off+1], Z: params[off+2]})
		translation := c.Translation
		if !p.noTranslation {
			translation = r3.Vector{X: params[off+3], Y: params[off+4], Z: params[off+5]}
		}
		recon.InsertCamera(image, rotation, translation)
	}
	for track, off := range p.pointOffset {
		recon.InsertPoint(track, r3.Vector{X: params[off], Y: params[off+1], Z: params[off+2]})
	}
	if intrinsics == nil || len(p.freeIntrinsics) == 0 {
		return
	}
	values := p.intrinsics
	for i, idx := range p.freeIntrinsics {
		values[idx] = params[p.intrinsicOffset+i]
	}
	intrinsics.SetFocalLength(values[intrinsicFocal])
	intrinsics.SetPrincipalPoint(values[intrinsicPrincipalX], values[intrinsicPrincipalY])
	intrinsics.SetRadialDistortion(values[intrinsicK1], values[intrinsicK2], values[intrinsicK3])
}

// bundleLocals returns the inputs of one residual along with the global column of each local
// variable, or -1 for locals that are not parameters.
func bundleLocals[T autodiff.Scalar[T]](
	p *bundleProblem,
	params []float64,
	m tracks.Marker,
	camera *EuclideanCamera,
	variable func(v float64, local int) T,
	constant func(v float64) T,
	columns *[autodiff.JetSize]int,
) (aa, t, x [3]T, in [numIntrinsics]T) {
	for i := range columns {
		columns[i] = -1
	}
	if off, ok := p.cameraOffset[m.Image]; ok {
		for k := 0; k < 3; k++ {
			aa[k] = variable(params[off+k], jetCamera+k)
			columns[jetCamera+k] = off + k
		}
		if p.noTranslation {
			t = [3]T{constant(camera.Translation.X), constant(camera.Translation.Y), constant(camera.Translation.Z)}
		} else {
			for k := 0; k < 3; k++ {
				t[k] = variable(params[off+3+k], jetCamera+3+k)
				columns[jetCamera+3+k] = off + 3 + k
			}
		}
	} else {
		r := spatialmath.RotationMatrixToAngleAxis(camera.Rotation)
		aa = [3]T{constant(r.X), constant(r.Y), constant(r.Z)}
		t = [3]T{constant(camera.Translation.X), constant(camera.Translation.Y), constant(camera.Translation.Z)}
	}
	off := p.pointOffset[m.Track]
	for k := 0; k < 3; k++ {
		x[k] = variable(params[off+k], jetPoint+k)
		columns[jetPoint+k] = off + k
	}
	for k := range in {
		in[k] = constant(p.intrinsics[k])
	}
	for i, idx := range p.freeIntrinsics {
		in[idx] = variable(params[p.intrinsicOffset+i], jetIntrinsics+i)
		columns[jetIntrinsics+i] = p.intrinsicOffset + i
	}
	return aa, t, x, in
}

func bundleResidual[T autodiff.Scalar[T]](p *bundleProblem, m tracks.Marker, aa, t, x [3]T, in [numIntrinsics]T) (T, T) {
	u, v := projectAngleAxis(aa, t, x)
	if p.pixel {
		u, v = applyIntrinsicsBlock(in, u, v)
	}
	return u.AddConst(-m.X).Scale(m.Weight), v.AddConst(-m.Y).Scale(m.Weight)
}

func (p *bundleProblem) Evaluate(params, residuals []float64, jacobian *solver.Jacobian) error {
	var columns [autodiff.JetSize]int
	for i, m := range p.markers {
		camera := p.cameraByImage[m.Image]
		if jacobian == nil {
			aa, t, x, in := bundleLocals(p, params, m, camera,
				func(v float64, _ int) autodiff.Float { return autodiff.Float(v) },
				func(v float64) autodiff.Float { return autodiff.Float(v) },
				&columns)
			u, v := bundleResidual(p, m, aa, t, x, in)
			residuals[2*i], residuals[2*i+1] = float64(u), float64(v)
			continue
		}
		aa, t, x, in := bundleLocals(p, params, m, camera, autodiff.Variable, autodiff.Constant, &columns)
		u, v := bundleResidual(p, m, aa, t, x, in)
		residuals[2*i], residuals[2*i+1] = u.A, v.A
		for local, col := range columns {
			if col < 0 {
				continue
			}
			jacobian.Set(2*i, col, u.V[local])
			jacobian.Set(2*i+1, col, v.V[local])
		}
	}
	return nil
}

func bundleSolverOptions(logger logging.Logger) solver.Options {
	opts := solver.DefaultOptions()
	opts.MaxIterations = 100
	opts.FunctionTolerance = 1e-10
	opts.ParameterTolerance = 1e-10
	opts.GradientTolerance = 1e-12
	opts.Logger = logger
	return opts
}

func bundle(
	all *tracks.Tracks,
	recon *EuclideanReconstruction,
	intrinsics *transform.CameraIntrinsics,
	flags RefineFlags,
	constraints BundleConstraints,
	logger logging.Logger,
) (solver.Summary, error) {
	problem := newBundleProblem(all, recon, intrinsics, flags, constraints)
	if len(problem.markers) == 0 {
		return solver.Summary{}, ErrNothingToBundle
	}
	params := problem.initialParameters(recon)
	summary, err := solver.Solve(problem, params, bundleSolverOptions(logger))
	if err != nil {
		return summary, errors.Wrap(err, "bundle adjustment failed")
	}
	logger.Debugw("bundle adjustment finished",
		"termination", summary.Termination,
		"iterations", summary.Iterations,
		"initial_cost", summary.InitialCost,
		"final_cost", summary.FinalCost,
		"cameras", len(problem.cameras),
		"points", len(problem.points),
		"markers", len(problem.markers))
	if summary.FinalCost <= summary.InitialCost {
		problem.unpack(params, recon, intrinsics)
	}
	return summary, nil
}
