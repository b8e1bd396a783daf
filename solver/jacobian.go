package solver

import (
	"gonum.org/v1/gonum/mat"
)

type entry struct {
	col int
	val float64
}

// Jacobian is a row-sparse residual Jacobian. Each row only stores the parameters its residual
// depends on.
type Jacobian struct {
	rows [][]entry
	cols int
}

// NewJacobian returns an empty rows x cols Jacobian.
func NewJacobian(rows, cols int) *Jacobian {
	return &Jacobian{rows: make([][]entry, rows), cols: cols}
}

// Dims returns the number of rows and columns.
func (j *Jacobian) Dims() (int, int) {
	return len(j.rows), j.cols
}

// Reset clears every entry while keeping the allocated storage.
func (j *Jacobian) Reset() {
	for i := range j.rows {
		j.rows[i] = j.rows[i][:0]
	}
}

// Set stores d residual[row] / d parameter[col]. Zero values are skipped.
func (j *Jacobian) Set(row, col int, v float64) {
	if v == 0 {
		return
	}
	r := j.rows[row]
	for i := range r {
		if r[i].col == col {
			r[i].val = v
			return
		}
	}
	j.rows[row] = append(r, entry{col, v})
}

// At returns the stored derivative or zero.
func (j *Jacobian) At(row, col int) float64 {
	for _, e := range j.rows[row] {
		if e.col == col {
			return e.val
		}
	}
	return 0
}

// Dense materializes the Jacobian.
func (j *Jacobian) Dense() *mat.Dense {
	out := mat.NewDense(len(j.rows), j.cols, nil)
	for r, row := range j.rows {
		for _, e := range row {
			out.Set(r, e.col, e.val)
		}
	}
	return out
}

// normalEquations returns JᵀJ and Jᵀr.
func (j *Jacobian) normalEquations(residuals []float64) (*mat.SymDense, []float64) {
	jtj := mat.NewSymDense(j.cols, nil)
	jtr := make([]float64, j.cols)
	for r, row := range j.rows {
		for a, ea := range row {
			jtr[ea.col] += ea.val * residuals[r]
			for _, eb := range row[a:] {
				jtj.SetSym(ea.col, eb.col, jtj.At(ea.col, eb.col)+ea.val*eb.val)
			}
		}
	}
	return jtj, jtr
}

// mulVec returns J*x.
func (j *Jacobian) mulVec(x []float64) []float64 {
	out := make([]float64, len(j.rows))
	for r, row := range j.rows {
		var sum float64
		for _, e := range row {
			sum += e.val * x[e.col]
		}
		out[r] = sum
	}
	return out
}
