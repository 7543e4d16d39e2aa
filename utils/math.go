package utils

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Matrix functions I'm going to use for the calculations in the program

// r = rows of matrix
// c = columns of matrix
// o = output
// m = matrix input number 1
// n = matrix input number 2

func Dot(m, n mat.Matrix) mat.Matrix {
	r, _ := m.Dims()
	_, c := n.Dims()
	o := mat.NewDense(r, c, nil)
	o.Product(m, n)
	return o
}

func Apply(fn func(i, j int, v float64) float64, m mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Apply(fn, m)
	return o
}

func ToDense(m mat.Matrix) *mat.Dense {
	if d, ok := m.(*mat.Dense); ok {
		return d
	}
	return mat.DenseCopyOf(m)
}

func ZerosLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}

// RandomArray returns 'size' samples from U(-1/sqrt(v), 1/sqrt(v)) for
// fan-in scaled weight initialization.
func RandomArray(size int, v float64) []float64 {
	dist := distuv.Uniform{
		Min: -1 / math.Sqrt(v+1e-12),
		Max: 1 / math.Sqrt(v+1e-12),
	}
	out := make([]float64, size)
	for i := 0; i < size; i++ {
		out[i] = dist.Rand()
	}
	return out
}

// HStack concatenates matrices left to right. All inputs must share the same
// number of rows.
func HStack(ms ...*mat.Dense) *mat.Dense {
	rows, cols := 0, 0
	for i, m := range ms {
		r, c := m.Dims()
		if i == 0 {
			rows = r
		} else if r != rows {
			panic("HStack: row count mismatch")
		}
		cols += c
	}
	out := mat.NewDense(rows, cols, nil)
	off := 0
	for _, m := range ms {
		_, c := m.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < c; j++ {
				out.Set(i, off+j, m.At(i, j))
			}
		}
		off += c
	}
	return out
}

// AddRow adds the same row vector to every row of m, in place.
func AddRow(m *mat.Dense, row []float64) {
	r, c := m.Dims()
	if len(row) != c {
		panic("AddRow: row width mismatch")
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, m.At(i, j)+row[j])
		}
	}
}

func Sigmoid(z float64) float64 {
	return 1.0 / (1 + math.Exp(-1*z))
}

// LogSumExp computes log(sum(exp(xs))) without overflow.
func LogSumExp(xs []float64) float64 {
	mx := math.Inf(-1)
	for _, v := range xs {
		if v > mx {
			mx = v
		}
	}
	if math.IsInf(mx, -1) {
		return mx
	}
	sum := 0.0
	for _, v := range xs {
		sum += math.Exp(v - mx)
	}
	return mx + math.Log(sum)
}

// LogSoftmaxRows applies a log-softmax independently to each row.
func LogSoftmaxRows(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			row[j] = m.At(i, j)
		}
		lse := LogSumExp(row)
		for j := 0; j < c; j++ {
			out.Set(i, j, row[j]-lse)
		}
	}
	return out
}
