package keypoints

import (
	"image"
	"math"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestDetectMoravec(t *testing.T) {
	rectImage := createTestImage()
	features := DetectMoravec(rectImage, 0, 4, 10)
	test.That(t, len(features), test.ShouldEqual, 4)

	matched := map[int]bool{}
	for _, f := range features {
		test.That(t, f.Score, test.ShouldBeGreaterThan, 0)
		test.That(t, f.Size, test.ShouldEqual, 5.)
		for i, c := range rectCorners {
			if math.Hypot(f.X-float64(c.X), f.Y-float64(c.Y)) <= 3 {
				matched[i] = true
			}
		}
	}
	test.That(t, len(matched), test.ShouldEqual, 4)
	for i := 1; i < len(features); i++ {
		test.That(t, features[i].Score, test.ShouldBeLessThanOrEqualTo, features[i-1].Score)
	}

	test.That(t, len(DetectMoravec(rectImage, 0, 2, 10)), test.ShouldEqual, 2)
	test.That(t, DetectMoravec(image.NewGray(image.Rect(0, 0, 30, 30)), 0, 10, 0), test.ShouldBeEmpty)
}

func TestDetect(t *testing.T) {
	rectImage := createTestImage()

	features, err := Detect(rectImage, &DetectorConfig{Type: DetectorFAST, FAST: testFASTConfig()})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(features), test.ShouldEqual, 4)

	features, err = Detect(rectImage, &DetectorConfig{Type: DetectorMoravec, MaxCount: 3, MinDistance: 10})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(features), test.ShouldEqual, 3)

	_, err = Detect(rectImage, &DetectorConfig{Type: "harris"})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Detect(rectImage, &DetectorConfig{Type: DetectorFAST})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Detect(rectImage, &DetectorConfig{Type: DetectorMoravec, Margin: -1})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLoadDetectorConfiguration(t *testing.T) {
	path := writeJSON(t, "detector.json", `{
		"type": "fast",
		"margin": 16,
		"min_distance": 120,
		"fast": {"n_matches": 9, "nms_win_size": 5, "threshold": 128}
	}`)
	cfg, err := LoadDetectorConfiguration(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Type, test.ShouldEqual, DetectorFAST)
	test.That(t, cfg.Margin, test.ShouldEqual, 16)
	test.That(t, cfg.MinDistance, test.ShouldEqual, 120.)
	test.That(t, cfg.FAST.NMSWinSize, test.ShouldEqual, 5)

	_, err = LoadDetectorConfiguration(writeJSON(t, "bad.json", `{"type": "moravec"}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "max_count")

	_, err = LoadDetectorConfiguration(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGrayFromBytes(t *testing.T) {
	data := make([]byte, 4*3)
	data[1*4+2] = 200
	img, err := GrayFromBytes(data, 3, 3, 4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.GrayAt(2, 1).Y, test.ShouldEqual, uint8(200))

	_, err = GrayFromBytes(data, 5, 3, 4)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = GrayFromBytes(data[:5], 3, 3, 4)
	test.That(t, err, test.ShouldNotBeNil)
}
