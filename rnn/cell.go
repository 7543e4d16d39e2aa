// Package rnn provides the batched LSTM cell shared by the decoder stack and
// the bidirectional character encoder.
package rnn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/LegendTianjin/handwriting-synthesis/pkg/errors"
	"github.com/LegendTianjin/handwriting-synthesis/utils"
)

// LSTMCell is a single recurrent cell. Weights are laid out so a batched step
// is two matrix products: gates = x*Wx + h*Wh + b, with the four gate blocks
// (input, forget, cell, output) side by side along the columns.
type LSTMCell struct {
	InputSize  int
	HiddenSize int

	Wx *mat.Dense // InputSize x 4H
	Wh *mat.Dense // HiddenSize x 4H
	B  []float64  // 4H
}

// NewLSTMCell builds a cell with uniform fan-in scaled initial weights.
func NewLSTMCell(inputSize, hiddenSize int) *LSTMCell {
	return &LSTMCell{
		InputSize:  inputSize,
		HiddenSize: hiddenSize,
		Wx:         mat.NewDense(inputSize, 4*hiddenSize, utils.RandomArray(inputSize*4*hiddenSize, float64(inputSize))),
		Wh:         mat.NewDense(hiddenSize, 4*hiddenSize, utils.RandomArray(hiddenSize*4*hiddenSize, float64(hiddenSize))),
		B:          make([]float64, 4*hiddenSize),
	}
}

// Step advances the cell one time step for a whole batch.
// x is (B x InputSize); hPrev and cPrev are (B x HiddenSize).
func (l *LSTMCell) Step(x, hPrev, cPrev *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	bsz, xc := x.Dims()
	if xc != l.InputSize {
		return nil, nil, errors.NewDimensionError("CELL_INPUT_WIDTH",
			fmt.Sprintf("input width %d, cell expects %d", xc, l.InputSize))
	}
	hr, hc := hPrev.Dims()
	cr, cc := cPrev.Dims()
	if hr != bsz || cr != bsz || hc != l.HiddenSize || cc != l.HiddenSize {
		return nil, nil, errors.NewDimensionError("CELL_STATE_SHAPE",
			fmt.Sprintf("state is (%d x %d)/(%d x %d), want (%d x %d)", hr, hc, cr, cc, bsz, l.HiddenSize))
	}

	H := l.HiddenSize
	gates := utils.ToDense(utils.Dot(x, l.Wx))
	gates.Add(gates, utils.Dot(hPrev, l.Wh))
	utils.AddRow(gates, l.B)

	h := mat.NewDense(bsz, H, nil)
	c := mat.NewDense(bsz, H, nil)
	for b := 0; b < bsz; b++ {
		for j := 0; j < H; j++ {
			in := utils.Sigmoid(gates.At(b, j))
			fg := utils.Sigmoid(gates.At(b, H+j))
			g := math.Tanh(gates.At(b, 2*H+j))
			out := utils.Sigmoid(gates.At(b, 3*H+j))

			cv := fg*cPrev.At(b, j) + in*g
			c.Set(b, j, cv)
			h.Set(b, j, out*math.Tanh(cv))
		}
	}
	return h, c, nil
}
