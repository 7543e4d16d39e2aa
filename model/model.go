// Package model wires the character encoder, the step decoder and the
// mixture density into the two entry points: a teacher-forced training pass
// and an autoregressive sampling rollout.
package model

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/LegendTianjin/handwriting-synthesis/decoder"
	"github.com/LegendTianjin/handwriting-synthesis/mixture"
	"github.com/LegendTianjin/handwriting-synthesis/params"
	"github.com/LegendTianjin/handwriting-synthesis/pkg/errors"
	"github.com/LegendTianjin/handwriting-synthesis/utils"
)

// rhoMax keeps tanh-transformed correlations strictly inside (-1, 1) even
// when float64 tanh saturates to exactly +-1.
const rhoMax = 1 - 1e-12

// Encoder produces one (T x Size) context matrix per batch element, aligned
// position-for-position with the input ids. Padding positions are identified
// by the mask and zeroed by the model before attention.
type Encoder interface {
	Encode(chars [][]int, mask *mat.Dense) ([]*mat.Dense, error)
	Size() int
}

// Seq2Seq is the handwriting synthesis model.
type Seq2Seq struct {
	enc Encoder
	dec *decoder.StepDecoder

	kOut   int
	logger *logrus.Logger
	src    xrand.Source
}

// NewSeq2Seq builds a model from hyperparameters. A nil logger falls back to
// a fresh logrus instance. Seed 0 means a time-derived seed.
func NewSeq2Seq(enc Encoder, cfg params.HyperParams, logger *logrus.Logger) (*Seq2Seq, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.HiddenSize <= 0 || cfg.NumLayers <= 0 {
		return nil, errors.NewValidationError("INVALID_DECODER_SIZE",
			fmt.Sprintf("hidden size %d, layers %d; both must be positive", cfg.HiddenSize, cfg.NumLayers))
	}
	if cfg.AttentionMixtures <= 0 || cfg.OutputMixtures <= 0 {
		return nil, errors.NewValidationError("INVALID_MIXTURE_COUNT",
			fmt.Sprintf("attention mixtures %d, output mixtures %d; both must be positive",
				cfg.AttentionMixtures, cfg.OutputMixtures))
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Seq2Seq{
		enc:    enc,
		dec:    decoder.NewStepDecoder(enc.Size(), cfg.HiddenSize, cfg.NumLayers, cfg.AttentionMixtures, cfg.OutputMixtures),
		kOut:   cfg.OutputMixtures,
		logger: logger,
		src:    xrand.NewSource(seed),
	}, nil
}

// Decoder exposes the underlying step decoder (weight loading, inspection).
func (s *Seq2Seq) Decoder() *decoder.StepDecoder { return s.dec }

// Reseed resets the model's random source. Sampling after identical reseeds
// with identical inputs produces identical strokes.
func (s *Seq2Seq) Reseed(seed uint64) {
	s.src = xrand.NewSource(seed)
}

// Forward runs one teacher-forced pass and returns the two losses: the mean
// negative log-likelihood of the (dx, dy) offsets under the mixture, and the
// mean binary cross-entropy of the pen-lift logit. The caller combines them.
//
// strokes holds one (B x 3) matrix per time step.
func (s *Seq2Seq) Forward(strokes []*mat.Dense, chars [][]int, mask *mat.Dense) (float64, float64, error) {
	if len(strokes) == 0 {
		return 0, 0, errors.NewValidationError("EMPTY_SEQUENCE", "at least one stroke step is required")
	}
	bsz, _ := strokes[0].Dims()
	ctx, err := s.encodeMasked(chars, mask, bsz)
	if err != nil {
		return 0, 0, err
	}

	outs, _, err := s.dec.Forward(strokes, ctx, s.dec.StartState(bsz))
	if err != nil {
		return 0, 0, err
	}

	var nll, bce float64
	n := 0
	for t, out := range outs {
		mix, eos, err := s.splitOutput(out)
		if err != nil {
			return 0, 0, err
		}
		target := utils.ToDense(strokes[t].Slice(0, bsz, 0, 2))
		lp, err := mix.LogProb(target)
		if err != nil {
			return 0, 0, err
		}
		for b := 0; b < bsz; b++ {
			nll -= lp.AtVec(b)
			bce += bceWithLogits(eos[b], strokes[t].At(b, 2))
			n++
		}
	}
	strokeLoss := nll / float64(n)
	eosLoss := bce / float64(n)
	s.logger.WithFields(logrus.Fields{
		"batch":       bsz,
		"steps":       len(outs),
		"stroke_loss": strokeLoss,
		"eos_loss":    eosLoss,
	}).Debug("Teacher-forced pass")
	return strokeLoss, eosLoss, nil
}

// Sample rolls the decoder forward for exactly maxlen steps, feeding each
// sampled point back in as the next input. The first emitted point is the
// all-zero start point. No early stop: callers wanting one must post-process.
// Returns one (maxlen x 3) stroke matrix per batch element.
func (s *Seq2Seq) Sample(chars [][]int, mask *mat.Dense, maxlen int) ([]*mat.Dense, error) {
	strokes, _, err := s.SampleWithAttention(chars, mask, maxlen)
	return strokes, err
}

// SampleWithAttention additionally returns one (maxlen x T) matrix of raw
// attention weights per batch element, for diagnostics and rendering.
func (s *Seq2Seq) SampleWithAttention(chars [][]int, mask *mat.Dense, maxlen int) ([]*mat.Dense, []*mat.Dense, error) {
	if maxlen <= 0 {
		return nil, nil, errors.NewValidationError("INVALID_MAXLEN",
			fmt.Sprintf("maxlen %d must be positive", maxlen))
	}
	bsz := len(chars)
	ctx, err := s.encodeMasked(chars, mask, bsz)
	if err != nil {
		return nil, nil, err
	}
	ctxLen, _ := ctx[0].Dims()

	s.logger.WithFields(logrus.Fields{
		"batch":   bsz,
		"maxlen":  maxlen,
		"ctx_len": ctxLen,
	}).Info("Sampling strokes")
	start := time.Now()

	strokes := make([]*mat.Dense, bsz)
	phis := make([]*mat.Dense, bsz)
	for b := range strokes {
		strokes[b] = mat.NewDense(maxlen, decoder.StrokeWidth, nil)
		phis[b] = mat.NewDense(maxlen, ctxLen, nil)
	}

	st := s.dec.StartState(bsz)
	x := mat.NewDense(bsz, decoder.StrokeWidth, nil)
	for i := 0; i < maxlen; i++ {
		for b := 0; b < bsz; b++ {
			for j := 0; j < decoder.StrokeWidth; j++ {
				strokes[b].Set(i, j, x.At(b, j))
			}
		}

		var outs []*mat.Dense
		outs, st, err = s.dec.Forward([]*mat.Dense{x}, ctx, st)
		if err != nil {
			return nil, nil, err
		}
		for b := 0; b < bsz; b++ {
			for u := 0; u < ctxLen; u++ {
				phis[b].Set(i, u, st.Phi.At(b, u))
			}
		}

		mix, eos, err := s.splitOutput(outs[0])
		if err != nil {
			return nil, nil, err
		}
		xy := mix.Sample(s.src)
		x = utils.ZerosLike(x)
		for b := 0; b < bsz; b++ {
			pen := distuv.Bernoulli{P: utils.Sigmoid(eos[b]), Src: s.src}.Rand()
			x.Set(b, 0, xy.At(b, 0))
			x.Set(b, 1, xy.At(b, 1))
			x.Set(b, 2, pen)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"batch":    bsz,
		"duration": time.Since(start),
	}).Info("Sampling complete")
	return strokes, phis, nil
}

// encodeMasked calls the encoder and zeroes padding rows so they contribute
// nothing to the attention-weighted sums.
func (s *Seq2Seq) encodeMasked(chars [][]int, mask *mat.Dense, bsz int) ([]*mat.Dense, error) {
	if len(chars) != bsz {
		return nil, errors.NewDimensionError("CHARS_BATCH",
			fmt.Sprintf("chars batch %d, stroke batch %d", len(chars), bsz))
	}
	ctx, err := s.enc.Encode(chars, mask)
	if err != nil {
		t := errors.ErrorTypeValidation
		if ae, ok := err.(*errors.AppError); ok {
			t = ae.Type
		}
		return nil, errors.WrapError(err, t, "ENCODE_FAILED", "encoding transcription")
	}
	for b, m := range ctx {
		T, enc := m.Dims()
		for t := 0; t < T; t++ {
			if mask.At(b, t) == 0 {
				for j := 0; j < enc; j++ {
					m.Set(t, j, 0)
				}
			}
		}
	}
	return ctx, nil
}

// splitOutput slices a raw (B x 6K+1) decoder output into mixture parameters
// with fixed widths (2K, 2K, K, K, 1) and applies the documented transforms:
// exp for standard deviations, tanh for correlations, log-softmax for the
// mixture weights. The single trailing pen-lift logit is shared across the
// step, not per component.
func (s *Seq2Seq) splitOutput(out *mat.Dense) (*mixture.BivariateMixture, []float64, error) {
	bsz, width := out.Dims()
	K := s.kOut
	if width != 6*K+1 {
		return nil, nil, errors.NewDimensionError("OUTPUT_WIDTH",
			fmt.Sprintf("decoder output width %d, want %d", width, 6*K+1))
	}

	mu1 := mat.NewDense(bsz, K, nil)
	mu2 := mat.NewDense(bsz, K, nil)
	s1 := mat.NewDense(bsz, K, nil)
	s2 := mat.NewDense(bsz, K, nil)
	piLogits := mat.NewDense(bsz, K, nil)
	rho := mat.NewDense(bsz, K, nil)
	eos := make([]float64, bsz)

	for b := 0; b < bsz; b++ {
		for k := 0; k < K; k++ {
			mu1.Set(b, k, out.At(b, 2*k))
			mu2.Set(b, k, out.At(b, 2*k+1))
			s1.Set(b, k, math.Exp(out.At(b, 2*K+2*k)))
			s2.Set(b, k, math.Exp(out.At(b, 2*K+2*k+1)))
			piLogits.Set(b, k, out.At(b, 4*K+k))
			rho.Set(b, k, clampRho(math.Tanh(out.At(b, 5*K+k))))
		}
		eos[b] = out.At(b, 6*K)
	}

	mix, err := mixture.New(utils.LogSoftmaxRows(piLogits), mu1, mu2, s1, s2, rho)
	if err != nil {
		return nil, nil, err
	}
	return mix, eos, nil
}

func clampRho(v float64) float64 {
	if v > rhoMax {
		return rhoMax
	}
	if v < -rhoMax {
		return -rhoMax
	}
	return v
}

// bceWithLogits is the numerically stable binary cross-entropy:
// max(z,0) - z*y + log(1 + exp(-|z|)).
func bceWithLogits(z, y float64) float64 {
	return math.Max(z, 0) - z*y + math.Log1p(math.Exp(-math.Abs(z)))
}
