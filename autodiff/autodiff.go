// Package autodiff implements forward-mode automatic differentiation with dual numbers
// ("jets") that carry a fixed number of partial derivatives alongside their value.
//
// Cost functions are written once against the Scalar constraint and instantiated either with
// Float, when only the value is needed, or with Jet, when the Jacobian is needed as well.
package autodiff

import "math"

// JetSize is the number of partial derivatives carried by a Jet.
const JetSize = 16

// Scalar is the arithmetic needed by generic cost functions.
type Scalar[T any] interface {
	// Real returns the value, dropping derivatives.
	Real() float64
	// Const returns v as a constant of the receiver's type.
	Const(v float64) T

	Add(o T) T
	Sub(o T) T
	Mul(o T) T
	Div(o T) T
	Neg() T
	Scale(s float64) T
	AddConst(c float64) T

	Sqrt() T
	Sin() T
	Cos() T
	Abs() T

	// Chain1 returns f(x) given f and df/dx evaluated at the receiver's value.
	Chain1(f, dfdx float64) T
	// Chain2 returns f(x, y) given f, df/dx and df/dy evaluated at the receiver's and y's values.
	Chain2(f, dfdx, dfdy float64, y T) T
	// ScaleDerivative keeps the value and multiplies the derivatives by s.
	ScaleDerivative(s float64) T
}

// Float is a plain float64 Scalar. Its derivative arguments are ignored.
type Float float64

// Real returns the value.
func (f Float) Real() float64 { return float64(f) }

// Const returns v.
func (f Float) Const(v float64) Float { return Float(v) }

// Add returns f+o.
func (f Float) Add(o Float) Float { return f + o }

// Sub returns f-o.
func (f Float) Sub(o Float) Float { return f - o }

// Mul returns f*o.
func (f Float) Mul(o Float) Float { return f * o }

// Div returns f/o.
func (f Float) Div(o Float) Float { return f / o }

// Neg returns -f.
func (f Float) Neg() Float { return -f }

// Scale returns s*f.
func (f Float) Scale(s float64) Float { return Float(s) * f }

// AddConst returns f+c.
func (f Float) AddConst(c float64) Float { return f + Float(c) }

// Sqrt returns the square root.
func (f Float) Sqrt() Float { return Float(math.Sqrt(float64(f))) }

// Sin returns the sine.
func (f Float) Sin() Float { return Float(math.Sin(float64(f))) }

// Cos returns the cosine.
func (f Float) Cos() Float { return Float(math.Cos(float64(f))) }

// Abs returns |f|.
func (f Float) Abs() Float { return Float(math.Abs(float64(f))) }

// Chain1 returns v.
func (f Float) Chain1(v, _ float64) Float { return Float(v) }

// Chain2 returns v.
func (f Float) Chain2(v, _, _ float64, _ Float) Float { return Float(v) }

// ScaleDerivative returns f.
func (f Float) ScaleDerivative(_ float64) Float { return f }

// Floats converts a float64 slice.
func Floats(values []float64) []Float {
	out := make([]Float, len(values))
	for i, v := range values {
		out[i] = Float(v)
	}
	return out
}
