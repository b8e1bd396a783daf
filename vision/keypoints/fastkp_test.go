package keypoints

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func createTestImage() *image.Gray {
	rectImage := image.NewGray(image.Rect(0, 0, 300, 200))
	whiteRect := image.Rect(50, 30, 100, 150)
	white := color.Gray{255}
	black := color.Gray{0}
	draw.Draw(rectImage, rectImage.Bounds(), &image.Uniform{black}, image.Point{0, 0}, draw.Src)
	draw.Draw(rectImage, whiteRect, &image.Uniform{white}, image.Point{0, 0}, draw.Src)
	return rectImage
}

var rectCorners = []image.Point{{50, 30}, {99, 30}, {50, 149}, {99, 149}}

func testFASTConfig() *FASTConfig {
	return &FASTConfig{NMatchesCircle: 9, NMSWinSize: 7, Threshold: 20}
}

func writeJSON(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
	return path
}

func TestLoadFASTConfiguration(t *testing.T) {
	path := writeJSON(t, "kpconfig.json", `{"n_matches": 9, "nms_win_size": 7, "threshold": 15}`)
	cfg, err := LoadFASTConfiguration(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Threshold, test.ShouldEqual, 15.)
	test.That(t, cfg.NMatchesCircle, test.ShouldEqual, 9)
	test.That(t, cfg.NMSWinSize, test.ShouldEqual, 7)

	_, err = LoadFASTConfiguration(writeJSON(t, "bad.json", `{"n_matches": 17, "nms_win_size": 0}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "n_matches")
	test.That(t, err.Error(), test.ShouldContainSubstring, "nms_win_size")

	_, err = LoadFASTConfiguration(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGetPointValuesInNeighborhood(t *testing.T) {
	// create test image
	rectImage := createTestImage()
	// testing cross neighborhood
	vals := GetPointValuesInNeighborhood(rectImage, image.Point{50, 30}, CrossIdx)
	// test length
	test.That(t, len(vals), test.ShouldEqual, 4)
	// test values at a corner of the rectangle
	test.That(t, vals[0], test.ShouldEqual, 255)
	test.That(t, vals[1], test.ShouldEqual, 255)
	test.That(t, vals[2], test.ShouldEqual, 0)
	test.That(t, vals[3], test.ShouldEqual, 0)
	// testing circle neighborhood
	valsCircle := GetPointValuesInNeighborhood(rectImage, image.Point{50, 30}, CircleIdx)
	// test length
	test.That(t, len(valsCircle), test.ShouldEqual, 16)
	// test values at a corner of the rectangle
	for i := 0; i < 4; i++ {
		test.That(t, valsCircle[i], test.ShouldEqual, 0)
	}
	for i := 4; i < 9; i++ {
		test.That(t, valsCircle[i], test.ShouldEqual, 255)
	}
	for i := 9; i < len(valsCircle); i++ {
		test.That(t, valsCircle[i], test.ShouldEqual, 0)
	}
}

func TestIsValidSlice(t *testing.T) {
	tests := []struct {
		s        []float64
		n        int
		expected bool
	}{
		{[]float64{0, 0, 0, 0, 0}, 9, false},
		{[]float64{1, 1, 1, 1, 1, 1, 1}, 3, true},
		{[]float64{0, 1, 1, 1, 0, 1, 1}, 2, true},
		{[]float64{0, 1, 0, 0, 0, 1, 0}, 2, false},
		// the run wraps around the end of the circle
		{[]float64{1, 1, 0, 0, 0, 1, 1}, 4, true},
	}
	for _, tst := range tests {
		test.That(t, isValidSliceVals(tst.s, tst.n), test.ShouldEqual, tst.expected)
	}
}

func TestSumPositiveValues(t *testing.T) {
	tests := []struct {
		s        []float64
		expected float64
	}{
		{[]float64{0, 0, 0, 0, 0}, 0},
		{[]float64{1, -1, -1, 0, 1, 1, 1}, 4},
		{[]float64{-1, -1, -1, 0, -1, -1, -1}, 0},
	}
	for _, tst := range tests {
		test.That(t, sumOfPositiveValuesSlice(tst.s), test.ShouldEqual, tst.expected)
	}
}

func TestSumNegativeValues(t *testing.T) {
	tests := []struct {
		s        []float64
		expected float64
	}{
		{[]float64{0, 0, 0, 0, 0}, 0},
		{[]float64{1, -1, -1, 0, 1, 1, 1}, -2},
		{[]float64{-1, -1, -1, 0, -1, -1, -1}, -6},
	}
	for _, tst := range tests {
		test.That(t, sumOfNegativeValuesSlice(tst.s), test.ShouldEqual, tst.expected)
	}
}

func TestGetBrighterValues(t *testing.T) {
	tests := []struct {
		s        []float64
		t        float64
		expected []float64
	}{
		{[]float64{1, 10, 3, 1, 20, 11}, 10, []float64{0, 0, 0, 0, 1, 1}},
		{[]float64{1, 1, 1, 1}, 1, []float64{0, 0, 0, 0}},
	}
	for _, tst := range tests {
		test.That(t, getBrighterValues(tst.s, tst.t), test.ShouldResemble, tst.expected)
	}
}

func TestGetDarkerValues(t *testing.T) {
	tests := []struct {
		s        []float64
		t        float64
		expected []float64
	}{
		{[]float64{1, 10, 3, 1, 20, 11}, 10, []float64{1, 0, 1, 1, 0, 0}},
		{[]float64{1, 1, 1, 1}, 1, []float64{0, 0, 0, 0}},
	}
	for _, tst := range tests {
		test.That(t, getDarkerValues(tst.s, tst.t), test.ShouldResemble, tst.expected)
	}
}

func TestComputeFAST(t *testing.T) {
	rectImage := createTestImage()
	kps, scores := ComputeFAST(rectImage, testFASTConfig())
	test.That(t, kps, test.ShouldResemble, KeyPoints(rectCorners))
	test.That(t, len(scores), test.ShouldEqual, 4)
	for _, s := range scores {
		test.That(t, s, test.ShouldEqual, 11*(255.-20))
	}

	// a uniform image has no corners
	flat := image.NewGray(image.Rect(0, 0, 40, 40))
	kps, _ = ComputeFAST(flat, testFASTConfig())
	test.That(t, kps, test.ShouldBeEmpty)
}

func TestDetectFAST(t *testing.T) {
	rectImage := createTestImage()
	features := DetectFAST(rectImage, 5, testFASTConfig(), 0)
	test.That(t, len(features), test.ShouldEqual, 4)
	for i, f := range features {
		test.That(t, f.X, test.ShouldEqual, float64(rectCorners[i].X))
		test.That(t, f.Y, test.ShouldEqual, float64(rectCorners[i].Y))
		test.That(t, f.Size, test.ShouldEqual, 7.)
	}

	// a margin excluding the bottom row of corners
	features = DetectFAST(rectImage, 51, testFASTConfig(), 0)
	test.That(t, len(features), test.ShouldEqual, 0)
	features = DetectFAST(rectImage, 30, testFASTConfig(), 0)
	test.That(t, len(features), test.ShouldEqual, 4)

	// two corners 49 pixels apart cannot both survive a larger minimum distance
	features = DetectFAST(rectImage, 0, testFASTConfig(), 60)
	test.That(t, len(features), test.ShouldEqual, 2)
	dist := math.Hypot(features[0].X-features[1].X, features[0].Y-features[1].Y)
	test.That(t, dist, test.ShouldBeGreaterThanOrEqualTo, 60)
}

func TestPlotFeatures(t *testing.T) {
	rectImage := createTestImage()
	features := DetectFAST(rectImage, 0, testFASTConfig(), 0)
	out := filepath.Join(t.TempDir(), "features.png")
	test.That(t, PlotFeatures(rectImage, features, out), test.ShouldBeNil)
	_, err := os.Stat(out)
	test.That(t, err, test.ShouldBeNil)
}
