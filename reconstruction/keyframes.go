package reconstruction

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/sfm/tracks"
)

// maxKeyframeGap bounds how far apart in the sequence two keyframes may be.
const maxKeyframeGap = 30

// SelectKeyframes picks the pair of images that best seeds a reconstruction from normalized
// markers. Pairs need at least MinTwoFrameCorrespondences shared tracks and are scored by the
// number of shared tracks times their median parallax, so that wide baselines win over nearby
// frames without giving up coverage.
func SelectKeyframes(normalized *tracks.Tracks) (int, int, error) {
	images := normalized.Images()
	best1, best2 := -1, -1
	bestScore := 0.0
	for i, image1 := range images {
		for _, image2 := range images[i+1:] {
			if image2-image1 > maxKeyframeGap {
				break
			}
			markers1, markers2 := normalized.MarkersForTracksInBothImages(image1, image2)
			if len(markers1) < MinTwoFrameCorrespondences {
				continue
			}
			parallax := lo.Map(markers1, func(m tracks.Marker, k int) float64 {
				return math.Hypot(markers2[k].X-m.X, markers2[k].Y-m.Y)
			})
			median, err := stats.Median(parallax)
			if err != nil {
				continue
			}
			if score := median * float64(len(markers1)); score > bestScore {
				best1, best2, bestScore = image1, image2, score
			}
		}
	}
	if best1 < 0 {
		return 0, 0, errors.Wrap(ErrTooFewCorrespondences, "no pair of images can seed the reconstruction")
	}
	return best1, best2, nil
}
