// Package transform provides camera models and multi-view geometry: intrinsics with radial
// distortion, homographies, two-view relative pose, triangulation and resection.
package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrapf(ErrNoIntrinsics, msg)
}

// CameraIntrinsicsOptions is the serializable form of CameraIntrinsics.
type CameraIntrinsicsOptions struct {
	FocalLength     float64 `json:"focal_length"`
	PrincipalPointX float64 `json:"principal_point_x"`
	PrincipalPointY float64 `json:"principal_point_y"`
	K1              float64 `json:"k1"`
	K2              float64 `json:"k2"`
	K3              float64 `json:"k3"`
	ImageWidth      int     `json:"image_width"`
	ImageHeight     int     `json:"image_height"`
}

// Validate ensures all parts of the options are valid.
func (opts *CameraIntrinsicsOptions) Validate(path string) error {
	var err error
	if opts.FocalLength <= 0 || math.IsNaN(opts.FocalLength) {
		err = multierr.Combine(err, utils.NewConfigValidationError(path,
			errors.Errorf("focal_length must be positive, got %v", opts.FocalLength)))
	}
	if opts.ImageWidth < 0 || opts.ImageHeight < 0 {
		err = multierr.Combine(err, utils.NewConfigValidationError(path,
			errors.Errorf("invalid image size (%d, %d)", opts.ImageWidth, opts.ImageHeight)))
	}
	return err
}

// LoadCameraIntrinsicsOptions reads intrinsics options from a JSON file.
func LoadCameraIntrinsicsOptions(path string) (*CameraIntrinsicsOptions, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	opts := &CameraIntrinsicsOptions{}
	if err := json.NewDecoder(f).Decode(opts); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	if err := opts.Validate(path); err != nil {
		return nil, err
	}
	return opts, nil
}

// CameraIntrinsics is a pinhole camera with a single focal length, a principal point and radial
// distortion. Full image distortion and undistortion use lookup grids that are built on first use
// and dropped whenever a parameter actually changes.
//
// CameraIntrinsics is not safe for concurrent mutation.
type CameraIntrinsics struct {
	focalLength float64
	principalX  float64
	principalY  float64
	distortion  RadialDistortion
	imageWidth  int
	imageHeight int
	threadCount int

	// Maps undistorted output pixels to distorted source pixels.
	undistortGrid *warpGrid
	// Maps distorted output pixels to undistorted source pixels.
	distortGrid *warpGrid
}

// NewCameraIntrinsics returns an identity camera: unit focal length, principal point at the origin
// and no distortion.
func NewCameraIntrinsics() *CameraIntrinsics {
	return &CameraIntrinsics{focalLength: 1, threadCount: 1}
}

// NewCameraIntrinsicsFromOptions builds intrinsics from options.
func NewCameraIntrinsicsFromOptions(opts CameraIntrinsicsOptions) *CameraIntrinsics {
	ci := NewCameraIntrinsics()
	ci.Update(opts)
	return ci
}

// Update applies options, only touching values that differ from the stored ones.
func (ci *CameraIntrinsics) Update(opts CameraIntrinsicsOptions) {
	ci.SetFocalLength(opts.FocalLength)
	ci.SetPrincipalPoint(opts.PrincipalPointX, opts.PrincipalPointY)
	ci.SetRadialDistortion(opts.K1, opts.K2, opts.K3)
	ci.SetImageSize(opts.ImageWidth, opts.ImageHeight)
}

// Options extracts the current parameters.
func (ci *CameraIntrinsics) Options() CameraIntrinsicsOptions {
	return CameraIntrinsicsOptions{
		FocalLength:     ci.focalLength,
		PrincipalPointX: ci.principalX,
		PrincipalPointY: ci.principalY,
		K1:              ci.distortion.K1,
		K2:              ci.distortion.K2,
		K3:              ci.distortion.K3,
		ImageWidth:      ci.imageWidth,
		ImageHeight:     ci.imageHeight,
	}
}

// Clone returns a copy without the cached grids.
func (ci *CameraIntrinsics) Clone() *CameraIntrinsics {
	out := *ci
	out.undistortGrid = nil
	out.distortGrid = nil
	return &out
}

func (ci *CameraIntrinsics) invalidate() {
	ci.undistortGrid = nil
	ci.distortGrid = nil
}

// FocalLength returns the focal length in pixels.
func (ci *CameraIntrinsics) FocalLength() float64 { return ci.focalLength }

// PrincipalPoint returns the principal point in pixels.
func (ci *CameraIntrinsics) PrincipalPoint() (float64, float64) { return ci.principalX, ci.principalY }

// RadialDistortion returns k1, k2 and k3.
func (ci *CameraIntrinsics) RadialDistortion() (float64, float64, float64) {
	return ci.distortion.K1, ci.distortion.K2, ci.distortion.K3
}

// ImageSize returns the calibrated image size.
func (ci *CameraIntrinsics) ImageSize() (int, int) { return ci.imageWidth, ci.imageHeight }

// ThreadCount returns the resampling parallelism.
func (ci *CameraIntrinsics) ThreadCount() int { return ci.threadCount }

// Distorter returns the lens model.
func (ci *CameraIntrinsics) Distorter() Distorter {
	d := ci.distortion
	return &d
}

// SetFocalLength sets the focal length.
func (ci *CameraIntrinsics) SetFocalLength(focal float64) {
	if focal == ci.focalLength {
		return
	}
	ci.focalLength = focal
	ci.invalidate()
}

// SetPrincipalPoint sets the principal point.
func (ci *CameraIntrinsics) SetPrincipalPoint(x, y float64) {
	if x == ci.principalX && y == ci.principalY {
		return
	}
	ci.principalX, ci.principalY = x, y
	ci.invalidate()
}

// SetRadialDistortion sets k1, k2 and k3.
func (ci *CameraIntrinsics) SetRadialDistortion(k1, k2, k3 float64) {
	if k1 == ci.distortion.K1 && k2 == ci.distortion.K2 && k3 == ci.distortion.K3 {
		return
	}
	ci.distortion = RadialDistortion{k1, k2, k3}
	ci.invalidate()
}

// SetImageSize sets the calibrated image size.
func (ci *CameraIntrinsics) SetImageSize(width, height int) {
	if width == ci.imageWidth && height == ci.imageHeight {
		return
	}
	ci.imageWidth, ci.imageHeight = width, height
	ci.invalidate()
}

// SetThreadCount sets how many goroutines resample full images. Values below one mean one.
func (ci *CameraIntrinsics) SetThreadCount(n int) {
	ci.threadCount = max(1, n)
}

// K returns the camera matrix.
// Camera matrix:
// [[f 0 ppx],
//
//	[0 f ppy],
//	[0 0  1]]
func (ci *CameraIntrinsics) K() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		ci.focalLength, 0, ci.principalX,
		0, ci.focalLength, ci.principalY,
		0, 0, 1,
	})
}

// ImageSpaceToNormalized removes the pinhole projection without touching distortion.
func (ci *CameraIntrinsics) ImageSpaceToNormalized(x, y float64) (float64, float64) {
	return (x - ci.principalX) / ci.focalLength, (y - ci.principalY) / ci.focalLength
}

// NormalizedToImageSpace applies the pinhole projection without distortion.
func (ci *CameraIntrinsics) NormalizedToImageSpace(x, y float64) (float64, float64) {
	return x*ci.focalLength + ci.principalX, y*ci.focalLength + ci.principalY
}

// ApplyIntrinsics maps an ideal normalized point to distorted pixel coordinates.
func (ci *CameraIntrinsics) ApplyIntrinsics(x, y float64) (float64, float64) {
	xd, yd := ci.distortion.Transform(x, y)
	return ci.NormalizedToImageSpace(xd, yd)
}

// InvertIntrinsics maps distorted pixel coordinates to an ideal normalized point.
func (ci *CameraIntrinsics) InvertIntrinsics(x, y float64) (float64, float64) {
	xd, yd := ci.ImageSpaceToNormalized(x, y)
	return ci.distortion.Inverse(xd, yd)
}

func (ci *CameraIntrinsics) String() string {
	return fmt.Sprintf("f=%.3f pp=(%.3f, %.3f) k=(%g, %g, %g) size=%dx%d",
		ci.focalLength, ci.principalX, ci.principalY,
		ci.distortion.K1, ci.distortion.K2, ci.distortion.K3, ci.imageWidth, ci.imageHeight)
}

// warpGrid holds, for every output pixel, the integer offset to the top left source pixel and the
// fixed point bilinear weights out of 256.
type warpGrid struct {
	width, height int
	overscan      float64
	offsets       []gridOffset
}

type gridOffset struct {
	ix, iy int32
	fx, fy uint16
}

func (g *warpGrid) matches(width, height int, overscan float64) bool {
	return g != nil && g.width == width && g.height == height && g.overscan == overscan
}

// computeLookupGrid samples warp at every pixel of a width x height image whose center
// 1/(1+overscan) part corresponds to the calibrated image.
func (ci *CameraIntrinsics) computeLookupGrid(
	width, height int,
	overscan float64,
	warp func(x, y float64) (float64, float64),
) *warpGrid {
	w := float64(width) / (1 + overscan)
	h := float64(height) / (1 + overscan)
	imageWidth, imageHeight := ci.imageWidth, ci.imageHeight
	if imageWidth <= 0 || imageHeight <= 0 {
		imageWidth, imageHeight = width, height
	}
	aspx := w / float64(imageWidth)
	aspy := h / float64(imageHeight)

	grid := &warpGrid{width: width, height: height, overscan: overscan, offsets: make([]gridOffset, width*height)}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			srcX := (float64(x) - 0.5*overscan*w) / aspx
			srcY := (float64(y) - 0.5*overscan*h) / aspy
			warpX, warpY := warp(srcX, srcY)
			warpX = warpX*aspx + 0.5*overscan*w
			warpY = warpY*aspy + 0.5*overscan*h

			ix, iy := int(math.Floor(warpX)), int(math.Floor(warpY))
			fx := int(math.Round((warpX - float64(ix)) * 256))
			fy := int(math.Round((warpY - float64(iy)) * 256))
			if fx == 256 {
				fx = 0
				ix++
			}
			if fy == 256 {
				fy = 0
				iy++
			}
			// Use the nearest border pixel.
			if ix < 0 {
				ix, fx = 0, 0
			}
			if iy < 0 {
				iy, fy = 0, 0
			}
			if ix >= width-1 {
				ix, fx = width-2, 256
			}
			if iy >= height-1 {
				iy, fy = height-2, 256
			}
			grid.offsets[y*width+x] = gridOffset{int32(ix - x), int32(iy - y), uint16(fx), uint16(fy)}
		}
	}
	return grid
}

func (ci *CameraIntrinsics) undistortLookup(width, height int, overscan float64) *warpGrid {
	if !ci.undistortGrid.matches(width, height, overscan) {
		ci.undistortGrid = ci.computeLookupGrid(width, height, overscan, func(x, y float64) (float64, float64) {
			nx, ny := ci.ImageSpaceToNormalized(x, y)
			return ci.ApplyIntrinsics(nx, ny)
		})
	}
	return ci.undistortGrid
}

func (ci *CameraIntrinsics) distortLookup(width, height int, overscan float64) *warpGrid {
	if !ci.distortGrid.matches(width, height, overscan) {
		ci.distortGrid = ci.computeLookupGrid(width, height, overscan, func(x, y float64) (float64, float64) {
			nx, ny := ci.InvertIntrinsics(x, y)
			return ci.NormalizedToImageSpace(nx, ny)
		})
	}
	return ci.distortGrid
}

// resample writes dst[y, x] = bilinear src at the grid location. Rows are spread over at most
// threads goroutines. A row whose grid reaches outside src fails the whole resample.
func resample[T uint8 | float32](grid *warpGrid, src, dst []T, channels, threads int) error {
	width, height := grid.width, grid.height
	if len(grid.offsets) != width*height || len(dst) < width*height*channels {
		return errors.Errorf("lookup grid of %d entries does not fit a %dx%dx%d output", len(grid.offsets), width, height, channels)
	}
	var group errgroup.Group
	group.SetLimit(max(1, threads))
	for y := 0; y < height; y++ {
		y := y
		group.Go(func() error {
			for x := 0; x < width; x++ {
				off := grid.offsets[y*width+x]
				base := ((y+int(off.iy))*width + (x + int(off.ix))) * channels
				if base < 0 || base+width*channels+channels+channels > len(src) {
					return errors.Errorf("row %d samples outside the %d value source at column %d", y, len(src), x)
				}
				fx, fy := float64(off.fx), float64(off.fy)
				for c := 0; c < channels; c++ {
					s00 := float64(src[base+c])
					s01 := float64(src[base+channels+c])
					s10 := float64(src[base+width*channels+c])
					s11 := float64(src[base+width*channels+channels+c])
					v := ((s00*(256-fx)+s01*fx)*(256-fy) + (s10*(256-fx)+s11*fx)*fy) / (256 * 256)
					dst[(y*width+x)*channels+c] = T(v)
				}
			}
			return nil
		})
	}
	return group.Wait()
}

func checkImageBuffers(srcLen, dstLen, width, height, channels int) error {
	if width < 2 || height < 2 || channels < 1 {
		return errors.Errorf("cannot resample a %dx%dx%d image", width, height, channels)
	}
	need := width * height * channels
	if srcLen < need || dstLen < need {
		return errors.Errorf("buffers of %d and %d values too small for %dx%dx%d", srcLen, dstLen, width, height, channels)
	}
	return nil
}

// UndistortBytes removes lens distortion from an interleaved byte image.
func (ci *CameraIntrinsics) UndistortBytes(src, dst []byte, width, height int, overscan float64, channels int) error {
	if err := checkImageBuffers(len(src), len(dst), width, height, channels); err != nil {
		return err
	}
	return resample(ci.undistortLookup(width, height, overscan), src, dst, channels, ci.threadCount)
}

// UndistortFloats removes lens distortion from an interleaved float image.
func (ci *CameraIntrinsics) UndistortFloats(src, dst []float32, width, height int, overscan float64, channels int) error {
	if err := checkImageBuffers(len(src), len(dst), width, height, channels); err != nil {
		return err
	}
	return resample(ci.undistortLookup(width, height, overscan), src, dst, channels, ci.threadCount)
}

// DistortBytes applies lens distortion to an interleaved byte image.
func (ci *CameraIntrinsics) DistortBytes(src, dst []byte, width, height int, overscan float64, channels int) error {
	if err := checkImageBuffers(len(src), len(dst), width, height, channels); err != nil {
		return err
	}
	return resample(ci.distortLookup(width, height, overscan), src, dst, channels, ci.threadCount)
}

// DistortFloats applies lens distortion to an interleaved float image.
func (ci *CameraIntrinsics) DistortFloats(src, dst []float32, width, height int, overscan float64, channels int) error {
	if err := checkImageBuffers(len(src), len(dst), width, height, channels); err != nil {
		return err
	}
	return resample(ci.distortLookup(width, height, overscan), src, dst, channels, ci.threadCount)
}
