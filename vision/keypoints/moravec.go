package keypoints

import (
	"image"
	"math"
)

// moravecHalfWindow is the half side of the window compared between shifts.
const moravecHalfWindow = 2

var moravecShifts = []image.Point{{1, 0}, {0, 1}, {1, 1}, {1, -1}}

// moravecScore is the smallest sum of squared differences between the window around p and the
// same window shifted by one pixel in each direction. Edges score near zero; corners do not.
func moravecScore(img *image.Gray, p image.Point) float64 {
	best := math.Inf(1)
	for _, s := range moravecShifts {
		var ssd float64
		for dy := -moravecHalfWindow; dy <= moravecHalfWindow; dy++ {
			for dx := -moravecHalfWindow; dx <= moravecHalfWindow; dx++ {
				a := float64(img.GrayAt(p.X+dx, p.Y+dy).Y)
				b := float64(img.GrayAt(p.X+dx+s.X, p.Y+dy+s.Y).Y)
				ssd += (a - b) * (a - b)
			}
		}
		best = math.Min(best, ssd)
	}
	return best
}

// DetectMoravec returns at most maxCount Moravec interest points at least margin pixels from the
// border, spaced by at least minDistance, best first.
func DetectMoravec(img *image.Gray, margin, maxCount int, minDistance float64) []Feature {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	border := max(margin, moravecHalfWindow+1)
	scores := make([]float64, w*h)
	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			scores[y*w+x] = moravecScore(img, image.Point{x + bounds.Min.X, y + bounds.Min.Y})
		}
	}

	var features []Feature
	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			s := scores[y*w+x]
			if s <= 0 || !isLocalMaximum(scores, w, h, x, y, 1) {
				continue
			}
			features = append(features, Feature{
				X:     float64(x),
				Y:     float64(y),
				Score: s,
				Size:  2*moravecHalfWindow + 1,
			})
		}
	}
	return filterByDistance(features, minDistance, maxCount)
}
