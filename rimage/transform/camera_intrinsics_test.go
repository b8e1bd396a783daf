package transform

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func testIntrinsics() *CameraIntrinsics {
	return NewCameraIntrinsicsFromOptions(CameraIntrinsicsOptions{
		FocalLength:     120,
		PrincipalPointX: 32,
		PrincipalPointY: 24,
		K1:              -0.12,
		K2:              0.03,
		K3:              -0.004,
		ImageWidth:      64,
		ImageHeight:     48,
	})
}

func TestIntrinsicsRoundTrip(t *testing.T) {
	ci := testIntrinsics()
	for _, px := range [][2]float64{{0, 0}, {32, 24}, {63, 47}, {10.5, 40.25}, {60, 3}} {
		nx, ny := ci.InvertIntrinsics(px[0], px[1])
		x, y := ci.ApplyIntrinsics(nx, ny)
		test.That(t, x, test.ShouldAlmostEqual, px[0], 1e-8)
		test.That(t, y, test.ShouldAlmostEqual, px[1], 1e-8)
	}
	for _, n := range [][2]float64{{0, 0}, {-0.2, 0.1}, {0.25, -0.18}} {
		x, y := ci.ApplyIntrinsics(n[0], n[1])
		nx, ny := ci.InvertIntrinsics(x, y)
		test.That(t, nx, test.ShouldAlmostEqual, n[0], 1e-8)
		test.That(t, ny, test.ShouldAlmostEqual, n[1], 1e-8)
	}

	// Without distortion the mapping is the pinhole projection.
	ci.SetRadialDistortion(0, 0, 0)
	x, y := ci.ApplyIntrinsics(0.1, -0.2)
	test.That(t, x, test.ShouldAlmostEqual, 44, 1e-12)
	test.That(t, y, test.ShouldAlmostEqual, 0, 1e-12)
}

func TestIntrinsicsOptions(t *testing.T) {
	ci := testIntrinsics()
	opts := ci.Options()
	test.That(t, opts.FocalLength, test.ShouldEqual, 120.0)
	test.That(t, opts.K2, test.ShouldEqual, 0.03)
	test.That(t, NewCameraIntrinsicsFromOptions(opts).Options(), test.ShouldResemble, opts)

	bad := CameraIntrinsicsOptions{FocalLength: 0, ImageWidth: -1}
	test.That(t, bad.Validate("intrinsics"), test.ShouldNotBeNil)
	test.That(t, opts.Validate("intrinsics"), test.ShouldBeNil)

	dir := t.TempDir()
	path := filepath.Join(dir, "intrinsics.json")
	test.That(t, os.WriteFile(path, []byte(`{"focal_length": 800, "principal_point_x": 320, "k1": 0.1}`), 0o600),
		test.ShouldBeNil)
	loaded, err := LoadCameraIntrinsicsOptions(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.FocalLength, test.ShouldEqual, 800.0)
	test.That(t, loaded.PrincipalPointX, test.ShouldEqual, 320.0)
	test.That(t, loaded.K1, test.ShouldEqual, 0.1)

	_, err = LoadCameraIntrinsicsOptions(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func gradientBytes(w, h int) []byte {
	buf := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			buf[y*w+x] = byte((x*7 + y*3) % 256)
		}
	}
	return buf
}

func TestIntrinsicsGridCache(t *testing.T) {
	ci := testIntrinsics()
	w, h := 64, 48
	src := gradientBytes(w, h)
	dst := make([]byte, w*h)

	test.That(t, ci.UndistortBytes(src, dst, w, h, 0, 1), test.ShouldBeNil)
	grid := ci.undistortGrid
	test.That(t, grid, test.ShouldNotBeNil)

	// Same values are no-ops and keep the cached grid.
	ci.SetFocalLength(120)
	ci.SetPrincipalPoint(32, 24)
	ci.SetRadialDistortion(-0.12, 0.03, -0.004)
	ci.SetImageSize(64, 48)
	ci.Update(ci.Options())
	test.That(t, ci.undistortGrid, test.ShouldEqual, grid)
	again := make([]byte, w*h)
	test.That(t, ci.UndistortBytes(src, again, w, h, 0, 1), test.ShouldBeNil)
	test.That(t, again, test.ShouldResemble, dst)
	test.That(t, ci.undistortGrid, test.ShouldEqual, grid)

	// A different overscan needs a different grid.
	test.That(t, ci.UndistortBytes(src, again, w, h, 0.2, 1), test.ShouldBeNil)
	test.That(t, ci.undistortGrid, test.ShouldNotEqual, grid)

	// A real change invalidates and changes the output.
	test.That(t, ci.UndistortBytes(src, dst, w, h, 0, 1), test.ShouldBeNil)
	ci.SetFocalLength(60)
	test.That(t, ci.undistortGrid, test.ShouldBeNil)
	changed := make([]byte, w*h)
	test.That(t, ci.UndistortBytes(src, changed, w, h, 0, 1), test.ShouldBeNil)
	test.That(t, changed, test.ShouldNotResemble, dst)
}

func TestIntrinsicsIdentityResample(t *testing.T) {
	ci := NewCameraIntrinsicsFromOptions(CameraIntrinsicsOptions{
		FocalLength: 100, PrincipalPointX: 16, PrincipalPointY: 12, ImageWidth: 32, ImageHeight: 24,
	})
	ci.SetThreadCount(4)
	test.That(t, ci.ThreadCount(), test.ShouldEqual, 4)
	w, h, channels := 32, 24, 3
	src := make([]float32, w*h*channels)
	for i := range src {
		src[i] = float32(i%97) / 97
	}
	dst := make([]float32, len(src))
	test.That(t, ci.UndistortFloats(src, dst, w, h, 0, channels), test.ShouldBeNil)
	for i := range src {
		test.That(t, dst[i], test.ShouldAlmostEqual, src[i], 1e-5)
	}
	test.That(t, ci.DistortFloats(src, dst, w, h, 0, channels), test.ShouldBeNil)
	for i := range src {
		test.That(t, dst[i], test.ShouldAlmostEqual, src[i], 1e-5)
	}

	bytesSrc := gradientBytes(w, h)
	bytesDst := make([]byte, w*h)
	test.That(t, ci.DistortBytes(bytesSrc, bytesDst, w, h, 0, 1), test.ShouldBeNil)
	test.That(t, bytesDst, test.ShouldResemble, bytesSrc)

	test.That(t, ci.DistortBytes(bytesSrc[:10], bytesDst, w, h, 0, 1), test.ShouldNotBeNil)
}

func TestResampleWorkerErrors(t *testing.T) {
	ci := testIntrinsics()
	w, h := 16, 12
	identity := func(x, y float64) (float64, float64) { return x, y }
	src := make([]byte, w*h)
	dst := make([]byte, w*h)

	grid := ci.computeLookupGrid(w, h, 0, identity)
	test.That(t, resample(grid, src, dst, 1, 3), test.ShouldBeNil)

	broken := ci.computeLookupGrid(w, h, 0, identity)
	broken.offsets[(h-1)*w+5].iy = 3
	err := resample(broken, src, dst, 1, 3)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "row 11 samples outside")

	broken.offsets = broken.offsets[:10]
	test.That(t, resample(broken, src, dst, 1, 3), test.ShouldNotBeNil)
}

func TestIntrinsicsDistortUndistortConsistent(t *testing.T) {
	ci := testIntrinsics()
	w, h := 64, 48
	src := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src[y*w+x] = float32(x) / float32(w)
		}
	}
	undistorted := make([]float32, w*h)
	roundTrip := make([]float32, w*h)
	test.That(t, ci.UndistortFloats(src, undistorted, w, h, 0, 1), test.ShouldBeNil)
	test.That(t, ci.DistortFloats(undistorted, roundTrip, w, h, 0, 1), test.ShouldBeNil)
	// The center of a smooth image survives undistort followed by distort.
	for y := 16; y < 32; y++ {
		for x := 24; x < 40; x++ {
			test.That(t, roundTrip[y*w+x], test.ShouldAlmostEqual, src[y*w+x], 0.02)
		}
	}
}

func TestRadialDistorter(t *testing.T) {
	d, err := NewDistorter(RadialDistortionType, []float64{0.1, -0.05})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.ModelType(), test.ShouldEqual, RadialDistortionType)
	test.That(t, d.Parameters(), test.ShouldResemble, []float64{0.1, -0.05, 0})
	test.That(t, d.CheckValid(), test.ShouldBeNil)
	x, y := d.Inverse(d.Transform(0.3, -0.4))
	test.That(t, x, test.ShouldAlmostEqual, 0.3, 1e-10)
	test.That(t, y, test.ShouldAlmostEqual, -0.4, 1e-10)

	_, err = NewDistorter("fisheye", nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewRadialDistortion([]float64{1, 2, 3, 4})
	test.That(t, err, test.ShouldNotBeNil)
}
