package tracking

import (
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/sfm/autodiff"
	"go.viam.com/sfm/rimage"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/solver"
)

// pixelDifferenceProblem is the photometric alignment cost: one residual per canonical grid
// sample, the difference between image2 at the warped position and image1 at the source position.
type pixelDifferenceProblem struct {
	tracker *regionTracker
	warp    *modelWarp

	// Source positions and mask weights of the canonical samples, row major.
	positions []r2.Point
	weights   []float64
	// Image1 values at the source positions and their mask weighted mean.
	sourceValues []float64
	sourceMean   float64
	numValid     int
}

func newPixelDifferenceProblem(
	t *regionTracker,
	w *modelWarp,
	canonical transform.Homography,
	nx, ny int,
) *pixelDifferenceProblem {
	p := &pixelDifferenceProblem{
		tracker:      t,
		warp:         w,
		positions:    make([]r2.Point, 0, nx*ny),
		weights:      make([]float64, 0, nx*ny),
		sourceValues: make([]float64, 0, nx*ny),
	}
	var weightSum float64
	for r := 0; r < ny; r++ {
		for c := 0; c < nx; c++ {
			pos := canonical.Apply(r2.Point{X: float64(c), Y: float64(r)})
			weight := 1.0
			if t.opts.Mask != nil {
				weight = rimage.SampleLinear(t.opts.Mask, pos.X, pos.Y, 0)
			}
			value := rimage.SampleLinear(t.image1, pos.X, pos.Y, 0)
			p.positions = append(p.positions, pos)
			p.weights = append(p.weights, weight)
			p.sourceValues = append(p.sourceValues, value)
			if weight != 0 {
				p.numValid++
				weightSum += weight
				p.sourceMean += weight * value
			}
		}
	}
	if weightSum != 0 {
		p.sourceMean /= weightSum
	}
	return p
}

func (p *pixelDifferenceProblem) NumParameters() int { return p.warp.NumParameters() }

func (p *pixelDifferenceProblem) NumResiduals() int { return len(p.positions) }

func (p *pixelDifferenceProblem) Evaluate(params, residuals []float64, jacobian *solver.Jacobian) error {
	if jacobian == nil {
		pixelDifferences(p, autodiff.Floats(params), func(i int, r autodiff.Float) {
			residuals[i] = float64(r)
		})
		return nil
	}
	n := len(params)
	pixelDifferences(p, autodiff.Variables(params, 0), func(i int, r autodiff.Jet) {
		residuals[i] = r.A
		for k := 0; k < n; k++ {
			jacobian.Set(i, k, r.V[k])
		}
	})
	return nil
}

// pixelDifferences emits the weighted residual of every sample.
func pixelDifferences[T autodiff.Scalar[T]](p *pixelDifferenceProblem, params []T, emit func(int, T)) {
	opts := p.tracker.opts
	zero := params[0].Const(0)

	// The destination mean depends on the parameters, so it needs its own pass.
	dstMean := zero
	if opts.UseNormalizedIntensities {
		var weightSum float64
		for i, pos := range p.positions {
			weight := p.weights[i]
			if weight == 0 {
				continue
			}
			x, y := forward(p.warp, params, pos.X, pos.Y)
			dstMean = dstMean.Add(rimage.SampleLinearWithDerivative(p.tracker.image2, x, y).Scale(weight))
			weightSum += weight
		}
		if weightSum != 0 {
			dstMean = dstMean.Scale(1 / weightSum)
		}
	}

	for i, pos := range p.positions {
		weight := p.weights[i]
		if weight == 0 {
			emit(i, zero)
			continue
		}
		x, y := forward(p.warp, params, pos.X, pos.Y)
		dst := rimage.SampleLinearWithDerivative(p.tracker.image2, x, y)

		var src T
		if opts.UseESM {
			// The source gradient is carried through the warped position so the Jacobian becomes the
			// average of both image gradients.
			v, dx, dy := rimage.SampleWithDerivative(p.tracker.image1, pos.X, pos.Y)
			src = x.Chain2(v, dx, dy, y)
		} else {
			src = zero.Const(p.sourceValues[i])
		}

		if opts.UseNormalizedIntensities {
			dst = dst.Div(dstMean)
			if p.sourceMean != 0 {
				src = src.Scale(1 / p.sourceMean)
			}
		}
		if opts.UseESM {
			dst = dst.ScaleDerivative(0.5)
			src = src.ScaleDerivative(-0.5)
		}
		emit(i, dst.Sub(src).Scale(weight))
	}
}

// correlation is the mask weighted Pearson correlation between the source samples and image2 at
// the current warp.
func (p *pixelDifferenceProblem) correlation() float64 {
	dst := make([]float64, len(p.positions))
	for i, pos := range p.positions {
		q := p.warp.Forward(pos)
		dst[i] = rimage.SampleLinear(p.tracker.image2, q.X, q.Y, 0)
	}
	return stat.Correlation(p.sourceValues, dst, p.weights)
}
