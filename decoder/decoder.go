// Package decoder drives the autoregressive stroke decoder: a stack of LSTM
// cells with a Gaussian attention window spliced in after the first layer.
package decoder

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/LegendTianjin/handwriting-synthesis/attention"
	"github.com/LegendTianjin/handwriting-synthesis/pkg/errors"
	"github.com/LegendTianjin/handwriting-synthesis/rnn"
	"github.com/LegendTianjin/handwriting-synthesis/utils"
)

// StrokeWidth is the per-step input width: dx, dy, pen lift.
const StrokeWidth = 3

// StepDecoder owns the learned parameters of the decoder stack. Per-call
// state lives in State, which the caller threads between invocations.
//
// Layer 0 consumes [stroke ; previous context vector]; the attention window
// then recomputes the context vector from layer 0's fresh hidden state; every
// later layer consumes [stroke ; new context vector ; previous layer's fresh
// hidden state]. The output projection reads all layer hidden states.
type StepDecoder struct {
	EncSize    int
	HiddenSize int
	NumLayers  int
	KOut       int

	Cells  []*rnn.LSTMCell
	Window *attention.GaussianWindow

	Wout *mat.Dense // NumLayers*HiddenSize x 6*KOut+1
	Bout []float64

	// Learned sequence-start state.
	H0 *mat.Dense // NumLayers x HiddenSize
	C0 *mat.Dense // NumLayers x HiddenSize
	W0 []float64  // EncSize
	K0 []float64  // attention K
}

// State is the carried decoder state. It is exclusively owned by a single
// in-flight call sequence; build a fresh one with StartState per sequence.
type State struct {
	H     []*mat.Dense // per layer, B x HiddenSize
	C     []*mat.Dense // per layer, B x HiddenSize
	W     *mat.Dense   // B x EncSize, last context vector
	Kappa *mat.Dense   // B x K, monotone attention position
	Phi   *mat.Dense   // B x T, last step's raw attention weights

	batch  int
	ctxLen int // fixed by the first Forward call over this state
}

// Batch returns the batch size this state was started with.
func (s *State) Batch() int { return s.batch }

// NewStepDecoder builds a decoder with nLayers LSTM cells of width
// hiddenSize over an encoder output of width encSize.
func NewStepDecoder(encSize, hiddenSize, nLayers, kAttention, kOutput int) *StepDecoder {
	cells := make([]*rnn.LSTMCell, nLayers)
	cells[0] = rnn.NewLSTMCell(StrokeWidth+encSize, hiddenSize)
	for i := 1; i < nLayers; i++ {
		cells[i] = rnn.NewLSTMCell(StrokeWidth+encSize+hiddenSize, hiddenSize)
	}
	outWidth := 6*kOutput + 1
	return &StepDecoder{
		EncSize:    encSize,
		HiddenSize: hiddenSize,
		NumLayers:  nLayers,
		KOut:       kOutput,
		Cells:      cells,
		Window:     attention.NewGaussianWindow(hiddenSize, kAttention),
		Wout:       mat.NewDense(nLayers*hiddenSize, outWidth, utils.RandomArray(nLayers*hiddenSize*outWidth, float64(nLayers*hiddenSize))),
		Bout:       make([]float64, outWidth),
		H0:         mat.NewDense(nLayers, hiddenSize, nil),
		C0:         mat.NewDense(nLayers, hiddenSize, nil),
		W0:         make([]float64, encSize),
		K0:         make([]float64, kAttention),
	}
}

// StartState tiles the learned initial vectors across a batch. This replaces
// the nil-previous-state convention: a sequence always begins here.
func (d *StepDecoder) StartState(batch int) *State {
	st := &State{
		H:     make([]*mat.Dense, d.NumLayers),
		C:     make([]*mat.Dense, d.NumLayers),
		W:     mat.NewDense(batch, d.EncSize, nil),
		Kappa: mat.NewDense(batch, d.Window.K, nil),
		batch: batch,
	}
	for l := 0; l < d.NumLayers; l++ {
		st.H[l] = mat.NewDense(batch, d.HiddenSize, nil)
		st.C[l] = mat.NewDense(batch, d.HiddenSize, nil)
		for b := 0; b < batch; b++ {
			for j := 0; j < d.HiddenSize; j++ {
				st.H[l].Set(b, j, d.H0.At(l, j))
				st.C[l].Set(b, j, d.C0.At(l, j))
			}
		}
	}
	for b := 0; b < batch; b++ {
		for j := 0; j < d.EncSize; j++ {
			st.W.Set(b, j, d.W0[j])
		}
		for j := 0; j < d.Window.K; j++ {
			st.Kappa.Set(b, j, d.K0[j])
		}
	}
	return st
}

// Forward runs the decoder over a sequence of steps. steps holds one
// (B x StrokeWidth) matrix per time step; during generation it has length 1.
// ctx holds one (T x EncSize) context matrix per batch element. The returned
// state carries into the next call over the same sequence.
func (d *StepDecoder) Forward(steps []*mat.Dense, ctx []*mat.Dense, st *State) ([]*mat.Dense, *State, error) {
	if len(steps) == 0 {
		return nil, st, errors.NewValidationError("EMPTY_SEQUENCE", "at least one decoder step is required")
	}
	bsz := st.batch
	if len(ctx) != bsz {
		return nil, st, errors.NewDimensionError("CTX_BATCH",
			fmt.Sprintf("context has %d sequences, state batch is %d", len(ctx), bsz))
	}
	for i, x := range steps {
		r, c := x.Dims()
		if r != bsz || c != StrokeWidth {
			return nil, st, errors.NewDimensionError("STEP_SHAPE",
				fmt.Sprintf("step %d is (%d x %d), want (%d x %d)", i, r, c, bsz, StrokeWidth))
		}
	}
	ctxLen, ctxWidth := ctx[0].Dims()
	if ctxWidth != d.EncSize {
		return nil, st, errors.NewDimensionError("CTX_WIDTH",
			fmt.Sprintf("context width %d, decoder expects %d", ctxWidth, d.EncSize))
	}
	// The carried kappa indexes positions of one fixed context sequence; a
	// different length on a later call over the same state is a caller bug.
	if st.ctxLen == 0 {
		st.ctxLen = ctxLen
	} else if st.ctxLen != ctxLen {
		return nil, st, errors.NewDimensionError("CTX_LEN_CHANGED",
			fmt.Sprintf("context length %d, state was started over length %d", ctxLen, st.ctxLen))
	}

	outs := make([]*mat.Dense, 0, len(steps))
	for _, x := range steps {
		h0, c0, err := d.Cells[0].Step(utils.HStack(x, st.W), st.H[0], st.C[0])
		if err != nil {
			return nil, st, err
		}
		st.H[0], st.C[0] = h0, c0

		w, phi, kappa, err := d.Window.Step(st.H[0], st.Kappa, ctx)
		if err != nil {
			return nil, st, err
		}
		st.W, st.Phi, st.Kappa = w, phi, kappa

		for l := 1; l < d.NumLayers; l++ {
			h, c, err := d.Cells[l].Step(utils.HStack(x, st.W, st.H[l-1]), st.H[l], st.C[l])
			if err != nil {
				return nil, st, err
			}
			st.H[l], st.C[l] = h, c
		}

		out := utils.ToDense(utils.Dot(utils.HStack(st.H...), d.Wout))
		utils.AddRow(out, d.Bout)
		outs = append(outs, out)
	}
	return outs, st, nil
}
