package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 matrix (represented as a 2D array) used to transform a plane from the
// perspective of a 2D camera to the perspective of another 2D camera. Indices are [row][column].
type Homography [3][3]float64

// IdentityHomography returns the identity.
func IdentityHomography() Homography {
	return Homography{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// NewHomographyFromDense copies a 3x3 matrix.
func NewHomographyFromDense(m mat.Matrix) Homography {
	var h Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r][c] = m.At(r, c)
		}
	}
	return h
}

// At returns the entry at row, col.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Dense returns the homography as a gonum matrix.
func (h *Homography) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
}

// Apply maps a point through the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Inverse returns the inverse homography.
func (h *Homography) Inverse() (Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.Dense()); err != nil {
		return Homography{}, errors.Wrap(err, "homography is singular")
	}
	return NewHomographyFromDense(&inv), nil
}

// Normalized returns h scaled so that h[2][2] is one.
func (h Homography) Normalized() Homography {
	s := h[2][2]
	if s == 0 {
		return h
	}
	for r := range h {
		for c := range h[r] {
			h[r][c] /= s
		}
	}
	return h
}

// EstimateHomography2D estimates H with x2 ~ H x1 from four or more correspondences using the
// normalized direct linear transform.
func EstimateHomography2D(x1, x2 []r2.Point) (Homography, error) {
	if len(x1) != len(x2) {
		return Homography{}, errors.New("homography needs the same number of points in both sets")
	}
	if len(x1) < 4 {
		return Homography{}, errors.Errorf("homography needs at least 4 correspondences, got %d", len(x1))
	}
	n1, T1 := normalizePoints(x1)
	n2, T2 := normalizePoints(x2)

	rows := max(2*len(x1), 9)
	A := mat.NewDense(rows, 9, nil)
	for i := range n1 {
		p, q := n1[i], n2[i]
		A.SetRow(2*i, []float64{p.X, p.Y, 1, 0, 0, 0, -q.X * p.X, -q.X * p.Y, -q.X})
		A.SetRow(2*i+1, []float64{0, 0, 0, p.X, p.Y, 1, -q.Y * p.X, -q.Y * p.Y, -q.Y})
	}
	mats := performSVD(A)
	if mats == nil {
		return Homography{}, errors.New("failed to factorize homography system")
	}
	Hn := mat.NewDense(3, 3, nullVector(mats.V))

	// H = T2⁻¹ Hn T1
	var T2inv, H mat.Dense
	if err := T2inv.Inverse(T2); err != nil {
		return Homography{}, errors.Wrap(err, "degenerate destination points")
	}
	H.Mul(&T2inv, Hn)
	H.Mul(&H, T1)

	out := NewHomographyFromDense(&H)
	if math.Abs(out[2][2]) < 1e-12 {
		return Homography{}, errors.New("degenerate homography")
	}
	out = out.Normalized()
	for r := range out {
		for c := range out[r] {
			if math.IsNaN(out[r][c]) || math.IsInf(out[r][c], 0) {
				return Homography{}, errors.New("degenerate homography")
			}
		}
	}
	return out, nil
}
