package transform

import "github.com/pkg/errors"

// DistortionType is the name of the distortion model.
type DistortionType string

// RadialDistortionType is the three coefficient polynomial radial model.
const RadialDistortionType = DistortionType("radial")

// Distorter defines a Transform that takes an undistorted normalized point and distorts it
// according to the model. Inverse undoes Transform.
type Distorter interface {
	ModelType() DistortionType
	CheckValid() error
	Parameters() []float64
	Transform(x, y float64) (float64, float64)
	Inverse(x, y float64) (float64, float64)
}

// InvalidDistortionError is used when the distortion parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrapf(errors.New("invalid distortion parameters"), msg)
}

// NewDistorter returns a Distorter given a valid DistortionType and its parameters.
func NewDistorter(distortionType DistortionType, parameters []float64) (Distorter, error) {
	switch distortionType {
	case RadialDistortionType:
		return NewRadialDistortion(parameters)
	default:
		return nil, errors.Errorf("do not know how to parse %q distortion model", distortionType)
	}
}

// RadialDistortion scales a normalized point by 1 + k1*r² + k2*r⁴ + k3*r⁶.
type RadialDistortion struct {
	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
	K3 float64 `json:"k3"`
}

// NewRadialDistortion takes in up to three coefficients; missing ones are zero.
func NewRadialDistortion(inp []float64) (*RadialDistortion, error) {
	if len(inp) > 3 {
		return nil, errors.Errorf("list of parameters too long, expected max 3, got %d", len(inp))
	}
	var k [3]float64
	copy(k[:], inp)
	return &RadialDistortion{k[0], k[1], k[2]}, nil
}

// ModelType returns the type of distortion model.
func (rd *RadialDistortion) ModelType() DistortionType {
	return RadialDistortionType
}

// CheckValid checks if the fields for RadialDistortion have valid inputs.
func (rd *RadialDistortion) CheckValid() error {
	if rd == nil {
		return InvalidDistortionError("radial distortion parameters not provided")
	}
	return nil
}

// Parameters returns k1, k2 and k3.
func (rd *RadialDistortion) Parameters() []float64 {
	if rd == nil {
		return []float64{}
	}
	return []float64{rd.K1, rd.K2, rd.K3}
}

func (rd *RadialDistortion) factor(r2 float64) float64 {
	return 1 + r2*(rd.K1+r2*(rd.K2+r2*rd.K3))
}

// Transform distorts an ideal normalized point.
func (rd *RadialDistortion) Transform(x, y float64) (float64, float64) {
	if rd == nil {
		return x, y
	}
	f := rd.factor(x*x + y*y)
	return x * f, y * f
}

// Inverse finds the ideal point whose distortion is (xd, yd) with Newton-Raphson iterations
// started at the distorted point.
func (rd *RadialDistortion) Inverse(xd, yd float64) (float64, float64) {
	if rd == nil {
		return xd, yd
	}

	xu, yu := xd, yd

	const maxIterations = 20
	const tolerance = 1e-12

	for i := 0; i < maxIterations; i++ {
		r2 := xu*xu + yu*yu
		r4 := r2 * r2
		f := rd.factor(r2)

		errX := xu*f - xd
		errY := yu*f - yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		// d f / d r² drives the off-diagonal terms of the 2x2 Jacobian.
		dfdr2 := rd.K1 + 2*rd.K2*r2 + 3*rd.K3*r4
		dxdx := f + 2*xu*xu*dfdr2
		dxdy := 2 * xu * yu * dfdr2
		dydx := dxdy
		dydy := f + 2*yu*yu*dfdr2

		det := dxdx*dydy - dxdy*dydx
		if det == 0 {
			break
		}
		xu -= (dydy*errX - dxdy*errY) / det
		yu -= (-dydx*errX + dxdx*errY) / det
	}

	return xu, yu
}
