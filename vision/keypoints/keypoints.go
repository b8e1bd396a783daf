// Package keypoints contains feature detectors producing candidate markers for tracking:
// - FAST corners with non-maximum suppression
// - Moravec interest points with a count limit
package keypoints

import (
	"encoding/json"
	"image"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// KeyPoints is a set of keypoint locations.
type KeyPoints []image.Point

// Feature is a detected interest point. Size is the diameter of the neighborhood it was scored on.
type Feature struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Score float64 `json:"score"`
	Size  float64 `json:"size"`
}

// DetectorType selects a detection algorithm.
type DetectorType string

// The available detectors.
const (
	DetectorFAST    DetectorType = "fast"
	DetectorMoravec DetectorType = "moravec"
)

// DetectorConfig contains the parameters of Detect.
type DetectorConfig struct {
	Type DetectorType `json:"type"`
	// Margin is the border, in pixels, where no feature is reported.
	Margin int `json:"margin"`
	// MinDistance is the smallest distance between two reported features.
	MinDistance float64     `json:"min_distance"`
	FAST        *FASTConfig `json:"fast,omitempty"`
	// MaxCount caps the number of Moravec features.
	MaxCount int `json:"max_count"`
}

// Validate ensures all parts of the config are valid.
func (config *DetectorConfig) Validate(path string) error {
	var err error
	switch config.Type {
	case DetectorFAST:
		if config.FAST == nil {
			err = multierr.Combine(err, utils.NewConfigValidationFieldRequiredError(path, "fast"))
		} else {
			err = multierr.Combine(err, config.FAST.Validate(path))
		}
	case DetectorMoravec:
		if config.MaxCount <= 0 {
			err = multierr.Combine(err, utils.NewConfigValidationError(path, errors.New("max_count should be > 0")))
		}
	default:
		err = multierr.Combine(err, utils.NewConfigValidationError(path, errors.Errorf("unknown detector type %q", config.Type)))
	}
	if config.Margin < 0 {
		err = multierr.Combine(err, utils.NewConfigValidationError(path, errors.New("margin should be >= 0")))
	}
	if config.MinDistance < 0 || math.IsNaN(config.MinDistance) {
		err = multierr.Combine(err, utils.NewConfigValidationError(path, errors.New("min_distance should be >= 0")))
	}
	return err
}

// LoadDetectorConfiguration loads a DetectorConfig from a json file.
func LoadDetectorConfiguration(file string) (*DetectorConfig, error) {
	var config DetectorConfig
	configFile, err := os.Open(filepath.Clean(file))
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(configFile.Close)
	if err := json.NewDecoder(configFile).Decode(&config); err != nil {
		return nil, errors.Wrap(err, "error parsing detector config")
	}
	if err := config.Validate(file); err != nil {
		return nil, err
	}
	return &config, nil
}

// Detect runs the configured detector on img.
func Detect(img *image.Gray, config *DetectorConfig) ([]Feature, error) {
	if err := config.Validate("detector"); err != nil {
		return nil, err
	}
	switch config.Type {
	case DetectorFAST:
		return DetectFAST(img, config.Margin, config.FAST, config.MinDistance), nil
	case DetectorMoravec:
		return DetectMoravec(img, config.Margin, config.MaxCount, config.MinDistance), nil
	default:
		return nil, errors.Errorf("unknown detector type %q", config.Type)
	}
}

// GrayFromBytes wraps a single channel byte buffer with the given stride as a gray image without
// copying it.
func GrayFromBytes(data []byte, width, height, stride int) (*image.Gray, error) {
	if width <= 0 || height <= 0 || stride < width {
		return nil, errors.Errorf("invalid image layout %dx%d with stride %d", width, height, stride)
	}
	if len(data) < stride*(height-1)+width {
		return nil, errors.Errorf("buffer of %d bytes is too small for %dx%d with stride %d", len(data), width, height, stride)
	}
	return &image.Gray{Pix: data, Stride: stride, Rect: image.Rect(0, 0, width, height)}, nil
}

// sortByScore orders features by decreasing score, keeping raster order among ties.
func sortByScore(features []Feature) {
	sort.SliceStable(features, func(i, j int) bool { return features[i].Score > features[j].Score })
}

// filterByDistance greedily keeps the best scoring features that are at least minDistance away from
// every feature kept before them. A positive maxCount stops once that many are kept.
func filterByDistance(features []Feature, minDistance float64, maxCount int) []Feature {
	sortByScore(features)
	kept := make([]Feature, 0, len(features))
	minDistance2 := minDistance * minDistance
	for _, f := range features {
		if maxCount > 0 && len(kept) >= maxCount {
			break
		}
		ok := true
		for _, k := range kept {
			dx, dy := f.X-k.X, f.Y-k.Y
			if dx*dx+dy*dy < minDistance2 {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, f)
		}
	}
	return kept
}

// PlotFeatures draws features over img and saves the result as a PNG. Colors run from blue for the
// weakest features to red for the strongest.
func PlotFeatures(img image.Image, features []Feature, outName string) error {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	dc := gg.NewContext(w, h)
	dc.DrawImage(img, 0, 0)

	var maxScore float64
	for _, f := range features {
		maxScore = math.Max(maxScore, f.Score)
	}
	// draw features on image
	for _, f := range features {
		hue := 240.0
		if maxScore > 0 {
			hue *= 1 - f.Score/maxScore
		}
		c := colorful.Hsv(hue, 1, 1)
		dc.SetRGBA(c.R, c.G, c.B, 0.5)
		dc.DrawCircle(f.X, f.Y, math.Max(f.Size/2, 3))
		dc.Fill()
	}
	return dc.SavePNG(outName)
}
