package autodiff

import "math"

// Jet is a dual number: a value A and its partial derivatives V with respect to up to JetSize
// variables.
type Jet struct {
	A float64
	V [JetSize]float64
}

// Variable returns a jet with value a whose derivative with respect to variable i is one.
func Variable(a float64, i int) Jet {
	j := Jet{A: a}
	j.V[i] = 1
	return j
}

// Constant returns a jet with value a and no derivatives.
func Constant(a float64) Jet {
	return Jet{A: a}
}

// Variables seeds one jet per value, with variable indices starting at offset.
func Variables(values []float64, offset int) []Jet {
	out := make([]Jet, len(values))
	for i, v := range values {
		out[i] = Variable(v, offset+i)
	}
	return out
}

// Real returns the value.
func (j Jet) Real() float64 { return j.A }

// Const returns v with no derivatives.
func (j Jet) Const(v float64) Jet { return Jet{A: v} }

// Add returns j+o.
func (j Jet) Add(o Jet) Jet {
	out := Jet{A: j.A + o.A}
	for i := range out.V {
		out.V[i] = j.V[i] + o.V[i]
	}
	return out
}

// Sub returns j-o.
func (j Jet) Sub(o Jet) Jet {
	out := Jet{A: j.A - o.A}
	for i := range out.V {
		out.V[i] = j.V[i] - o.V[i]
	}
	return out
}

// Mul returns j*o.
func (j Jet) Mul(o Jet) Jet {
	out := Jet{A: j.A * o.A}
	for i := range out.V {
		out.V[i] = j.V[i]*o.A + j.A*o.V[i]
	}
	return out
}

// Div returns j/o.
func (j Jet) Div(o Jet) Jet {
	inv := 1 / o.A
	a := j.A * inv
	out := Jet{A: a}
	for i := range out.V {
		out.V[i] = (j.V[i] - a*o.V[i]) * inv
	}
	return out
}

// Neg returns -j.
func (j Jet) Neg() Jet { return j.Scale(-1) }

// Scale returns s*j.
func (j Jet) Scale(s float64) Jet {
	out := Jet{A: s * j.A}
	for i := range out.V {
		out.V[i] = s * j.V[i]
	}
	return out
}

// AddConst returns j+c.
func (j Jet) AddConst(c float64) Jet {
	j.A += c
	return j
}

// Sqrt returns the square root. At 0 the derivative is taken as 0 rather than +Inf.
func (j Jet) Sqrt() Jet {
	s := math.Sqrt(j.A)
	if s == 0 {
		return j.Chain1(0, 0)
	}
	return j.Chain1(s, 0.5/s)
}

// Sin returns the sine.
func (j Jet) Sin() Jet { return j.Chain1(math.Sin(j.A), math.Cos(j.A)) }

// Cos returns the cosine.
func (j Jet) Cos() Jet { return j.Chain1(math.Cos(j.A), -math.Sin(j.A)) }

// Abs returns |j|.
func (j Jet) Abs() Jet {
	if j.A < 0 {
		return j.Neg()
	}
	return j
}

// Chain1 returns f(j).
func (j Jet) Chain1(f, dfdx float64) Jet {
	out := Jet{A: f}
	for i := range out.V {
		out.V[i] = dfdx * j.V[i]
	}
	return out
}

// Chain2 returns f(j, y).
func (j Jet) Chain2(f, dfdx, dfdy float64, y Jet) Jet {
	out := Jet{A: f}
	for i := range out.V {
		out.V[i] = dfdx*j.V[i] + dfdy*y.V[i]
	}
	return out
}

// WithReal returns a copy of j whose value is replaced by a.
func (j Jet) WithReal(a float64) Jet {
	j.A = a
	return j
}

// ScaleDerivative returns a copy of j whose derivatives are multiplied by s.
func (j Jet) ScaleDerivative(s float64) Jet {
	for i := range j.V {
		j.V[i] *= s
	}
	return j
}
