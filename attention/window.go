// Package attention implements the Graves-style Gaussian window over a
// character context sequence. The window position only moves forward: each
// step adds a non-negative increment to the carried kappa vector.
package attention

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/LegendTianjin/handwriting-synthesis/pkg/errors"
	"github.com/LegendTianjin/handwriting-synthesis/utils"
)

// GaussianWindow projects a hidden state to K triples (alpha, beta, dkappa)
// and mixes K unnormalized Gaussian bumps over the context positions. The
// per-position weights phi are deliberately not normalized to sum to 1.
type GaussianWindow struct {
	K int

	W *mat.Dense // HiddenSize x 3K
	B []float64  // 3K
}

// NewGaussianWindow builds a window with K mixture components reading from a
// hidden state of the given width.
func NewGaussianWindow(hiddenSize, k int) *GaussianWindow {
	return &GaussianWindow{
		K: k,
		W: mat.NewDense(hiddenSize, 3*k, utils.RandomArray(hiddenSize*3*k, float64(hiddenSize))),
		B: make([]float64, 3*k),
	}
}

// Step computes the attended context vector for one decoder step.
//
// h is (B x hidden), kappaPrev is (B x K), ctx holds one (T x enc) matrix per
// batch element, all with the same T. Returns the context vector (B x enc),
// the raw weights phi (B x T) for diagnostics, and the advanced kappa (B x K).
func (g *GaussianWindow) Step(h, kappaPrev *mat.Dense, ctx []*mat.Dense) (*mat.Dense, *mat.Dense, *mat.Dense, error) {
	bsz, _ := h.Dims()
	if len(ctx) != bsz {
		return nil, nil, nil, errors.NewDimensionError("CTX_BATCH",
			fmt.Sprintf("context has %d sequences, batch is %d", len(ctx), bsz))
	}
	kr, kc := kappaPrev.Dims()
	if kr != bsz || kc != g.K {
		return nil, nil, nil, errors.NewDimensionError("KAPPA_SHAPE",
			fmt.Sprintf("kappa is (%d x %d), want (%d x %d)", kr, kc, bsz, g.K))
	}
	T, encSize := ctx[0].Dims()
	for b := 1; b < bsz; b++ {
		if r, c := ctx[b].Dims(); r != T || c != encSize {
			return nil, nil, nil, errors.NewDimensionError("CTX_RAGGED",
				fmt.Sprintf("context[%d] is (%d x %d), context[0] is (%d x %d)", b, r, c, T, encSize))
		}
	}

	// (alpha, beta, dkappa) = exp of the linear projection; exp keeps the
	// weights and widths positive and the kappa increment non-negative.
	proj := utils.ToDense(utils.Dot(h, g.W))
	utils.AddRow(proj, g.B)
	proj = utils.ToDense(utils.Apply(func(_, _ int, v float64) float64 { return math.Exp(v) }, proj))

	kappa := mat.NewDense(bsz, g.K, nil)
	for b := 0; b < bsz; b++ {
		for k := 0; k < g.K; k++ {
			kappa.Set(b, k, kappaPrev.At(b, k)+proj.At(b, 2*g.K+k))
		}
	}

	// phi(u) = sum_k alpha_k * exp(-beta_k * (kappa_k - u)^2)
	phi := mat.NewDense(bsz, T, nil)
	for b := 0; b < bsz; b++ {
		for u := 0; u < T; u++ {
			s := 0.0
			for k := 0; k < g.K; k++ {
				alpha := proj.At(b, k)
				beta := proj.At(b, g.K+k)
				d := kappa.At(b, k) - float64(u)
				s += alpha * math.Exp(-beta*d*d)
			}
			phi.Set(b, u, s)
		}
	}

	w := mat.NewDense(bsz, encSize, nil)
	for b := 0; b < bsz; b++ {
		row := utils.Dot(phi.Slice(b, b+1, 0, T), ctx[b])
		for j := 0; j < encSize; j++ {
			w.Set(b, j, row.At(0, j))
		}
	}
	return w, phi, kappa, nil
}
