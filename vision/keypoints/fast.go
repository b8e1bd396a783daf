package keypoints

import (
	"encoding/json"
	"image"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// FASTConfig holds the parameters for FAST keypoint detection.
type FASTConfig struct {
	// NMatchesCircle is the number of contiguous circle pixels that must all be brighter or all be
	// darker than the center.
	NMatchesCircle int `json:"n_matches"`
	// NMSWinSize is the side of the non-maximum suppression window.
	NMSWinSize int `json:"nms_win_size"`
	// Threshold is the intensity difference, on a 0-255 scale, for a circle pixel to count.
	Threshold float64 `json:"threshold"`
}

// Validate ensures all parts of the FASTConfig are valid.
func (config *FASTConfig) Validate(path string) error {
	var err error
	if config.NMatchesCircle < 1 || config.NMatchesCircle > len(CircleIdx) {
		err = multierr.Combine(err, utils.NewConfigValidationError(path,
			errors.Errorf("n_matches should be in [1, %d], got %d", len(CircleIdx), config.NMatchesCircle)))
	}
	if config.NMSWinSize < 1 {
		err = multierr.Combine(err, utils.NewConfigValidationError(path, errors.New("nms_win_size should be >= 1")))
	}
	if config.Threshold < 0 {
		err = multierr.Combine(err, utils.NewConfigValidationError(path, errors.New("threshold should be >= 0")))
	}
	return err
}

// LoadFASTConfiguration loads a FASTConfig from a json file.
func LoadFASTConfiguration(file string) (*FASTConfig, error) {
	var config FASTConfig
	configFile, err := os.Open(filepath.Clean(file))
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(configFile.Close)
	if err := json.NewDecoder(configFile).Decode(&config); err != nil {
		return nil, errors.Wrap(err, "error parsing FAST config")
	}
	if err := config.Validate(file); err != nil {
		return nil, err
	}
	return &config, nil
}

// fastRadius is the radius of the FAST circle.
const fastRadius = 3

var (
	// CrossIdx contains the neighbors coordinates in a 3-cross neighborhood.
	CrossIdx = []image.Point{{3, 0}, {0, 3}, {-3, 0}, {0, -3}}
	// CircleIdx contains the neighbors coordinates in a circle of radius 3 neighborhood, clockwise
	// from the top.
	CircleIdx = []image.Point{
		{0, -3}, {1, -3}, {2, -2}, {3, -1},
		{3, 0}, {3, 1}, {2, 2}, {1, 3},
		{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
		{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
	}
)

// GetPointValuesInNeighborhood returns a slice of floats containing the values of neighborhood
// pixels in image img.
func GetPointValuesInNeighborhood(img *image.Gray, coords image.Point, neighborhood []image.Point) []float64 {
	vals := make([]float64, len(neighborhood))
	for i := 0; i < len(neighborhood); i++ {
		c := img.GrayAt(coords.X+neighborhood[i].X, coords.Y+neighborhood[i].Y).Y
		vals[i] = float64(c)
	}
	return vals
}

// isValidSliceVals reports whether the binary slice s contains n contiguous ones, wrapping around.
func isValidSliceVals(s []float64, n int) bool {
	run := 0
	for i := 0; i < 2*len(s); i++ {
		if s[i%len(s)] > 0 {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

func sumOfPositiveValuesSlice(s []float64) float64 {
	sum := 0.
	for _, v := range s {
		if v > 0 {
			sum += v
		}
	}
	return sum
}

func sumOfNegativeValuesSlice(s []float64) float64 {
	sum := 0.
	for _, v := range s {
		if v < 0 {
			sum += v
		}
	}
	return sum
}

// getBrighterValues returns 1 for every value strictly above t, 0 otherwise.
func getBrighterValues(s []float64, t float64) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		if v > t {
			out[i] = 1
		}
	}
	return out
}

// getDarkerValues returns 1 for every value strictly below t, 0 otherwise.
func getDarkerValues(s []float64, t float64) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		if v < t {
			out[i] = 1
		}
	}
	return out
}

// fastScore returns the corner score of the pixel at p, or zero when it is not a corner. The score
// is the summed contrast beyond the threshold of the side (brighter or darker) forming the arc.
func fastScore(img *image.Gray, p image.Point, config *FASTConfig) float64 {
	center := float64(img.GrayAt(p.X, p.Y).Y)
	circle := GetPointValuesInNeighborhood(img, p, CircleIdx)
	// Reject quickly with the cross: an arc of n >= 9 always covers 2 of its points.
	if config.NMatchesCircle >= 9 {
		cross := GetPointValuesInNeighborhood(img, p, CrossIdx)
		brighter := sumOfPositiveValuesSlice(getBrighterValues(cross, center+config.Threshold))
		darker := sumOfPositiveValuesSlice(getDarkerValues(cross, center-config.Threshold))
		if brighter < 2 && darker < 2 {
			return 0
		}
	}
	diffs := make([]float64, len(circle))
	for i, v := range circle {
		diffs[i] = v - center
	}
	var score float64
	if isValidSliceVals(getBrighterValues(circle, center+config.Threshold), config.NMatchesCircle) {
		shifted := make([]float64, len(diffs))
		for i, d := range diffs {
			shifted[i] = d - config.Threshold
		}
		score = sumOfPositiveValuesSlice(shifted)
	}
	if isValidSliceVals(getDarkerValues(circle, center-config.Threshold), config.NMatchesCircle) {
		shifted := make([]float64, len(diffs))
		for i, d := range diffs {
			shifted[i] = d + config.Threshold
		}
		score = max(score, -sumOfNegativeValuesSlice(shifted))
	}
	return score
}

// ComputeFAST computes the location of FAST keypoints after non-maximum suppression, in raster
// order, along with their scores.
func ComputeFAST(img *image.Gray, config *FASTConfig) (KeyPoints, []float64) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	scores := make([]float64, w*h)
	for y := fastRadius; y < h-fastRadius; y++ {
		for x := fastRadius; x < w-fastRadius; x++ {
			scores[y*w+x] = fastScore(img, image.Point{x + bounds.Min.X, y + bounds.Min.Y}, config)
		}
	}

	half := config.NMSWinSize / 2
	var kps KeyPoints
	var kpScores []float64
	for y := fastRadius; y < h-fastRadius; y++ {
		for x := fastRadius; x < w-fastRadius; x++ {
			s := scores[y*w+x]
			if s <= 0 || !isLocalMaximum(scores, w, h, x, y, half) {
				continue
			}
			kps = append(kps, image.Point{x, y})
			kpScores = append(kpScores, s)
		}
	}
	return kps, kpScores
}

// isLocalMaximum reports whether the score at (x, y) beats its window. Ties go to the pixel that
// comes first in raster order.
func isLocalMaximum(scores []float64, w, h, x, y, half int) bool {
	s := scores[y*w+x]
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			nx, ny := x+dx, y+dy
			if (dx == 0 && dy == 0) || nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			other := scores[ny*w+nx]
			if other > s {
				return false
			}
			if other == s && (dy < 0 || (dy == 0 && dx < 0)) {
				return false
			}
		}
	}
	return true
}

// DetectFAST returns FAST corners at least margin pixels from the border, spaced by at least
// minDistance, best first.
func DetectFAST(img *image.Gray, margin int, config *FASTConfig, minDistance float64) []Feature {
	kps, scores := ComputeFAST(img, config)
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	features := make([]Feature, 0, len(kps))
	for i, kp := range kps {
		if kp.X < margin || kp.Y < margin || kp.X >= w-margin || kp.Y >= h-margin {
			continue
		}
		features = append(features, Feature{
			X:     float64(kp.X),
			Y:     float64(kp.Y),
			Score: scores[i],
			Size:  2*fastRadius + 1,
		})
	}
	return filterByDistance(features, minDistance, 0)
}
