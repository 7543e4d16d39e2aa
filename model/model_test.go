package model

import (
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/LegendTianjin/handwriting-synthesis/encoder"
	"github.com/LegendTianjin/handwriting-synthesis/params"
	"github.com/LegendTianjin/handwriting-synthesis/pkg/errors"
)

func testConfig() params.HyperParams {
	return params.HyperParams{
		VocabSize:         12,
		EmbSize:           6,
		HiddenSize:        8,
		NumLayers:         2,
		AttentionMixtures: 2,
		OutputMixtures:    3,
		Seed:              7,
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestModel(t *testing.T) *Seq2Seq {
	t.Helper()
	cfg := testConfig()
	s, err := NewSeq2Seq(encoder.NewSimpleEncoder(cfg.VocabSize, cfg.EmbSize), cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewSeq2Seq: %v", err)
	}
	return s
}

func testInputs(rng *xrand.Rand, bsz, T, ctxLen int) ([]*mat.Dense, [][]int, *mat.Dense) {
	strokes := make([]*mat.Dense, T)
	for t := range strokes {
		m := mat.NewDense(bsz, 3, nil)
		for b := 0; b < bsz; b++ {
			m.Set(b, 0, rng.NormFloat64())
			m.Set(b, 1, rng.NormFloat64())
			m.Set(b, 2, float64(rng.Intn(2)))
		}
		strokes[t] = m
	}
	chars := make([][]int, bsz)
	mask := mat.NewDense(bsz, ctxLen, nil)
	for b := range chars {
		chars[b] = make([]int, ctxLen)
		for t := 0; t < ctxLen; t++ {
			chars[b][t] = rng.Intn(12)
			mask.Set(b, t, 1)
		}
	}
	// Last position of the last batch element is padding.
	mask.Set(bsz-1, ctxLen-1, 0)
	return strokes, chars, mask
}

// Scenario: batch=2, T=5, K_out=3, K_attn=2, context length=4.
func TestForwardLossesFinite(t *testing.T) {
	s := newTestModel(t)
	rng := xrand.New(xrand.NewSource(21))
	strokes, chars, mask := testInputs(rng, 2, 5, 4)

	strokeLoss, eosLoss, err := s.Forward(strokes, chars, mask)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if math.IsNaN(strokeLoss) || math.IsInf(strokeLoss, 0) {
		t.Fatalf("stroke loss not finite: %g", strokeLoss)
	}
	if math.IsNaN(eosLoss) || math.IsInf(eosLoss, 0) || eosLoss < 0 {
		t.Fatalf("eos loss not finite non-negative: %g", eosLoss)
	}
}

func TestSampleShapeAndPenChannel(t *testing.T) {
	s := newTestModel(t)
	rng := xrand.New(xrand.NewSource(22))
	_, chars, mask := testInputs(rng, 2, 1, 4)

	strokes, err := s.Sample(chars, mask, 10)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(strokes) != 2 {
		t.Fatalf("got %d stroke sequences, want 2", len(strokes))
	}
	for b, m := range strokes {
		r, c := m.Dims()
		if r != 10 || c != 3 {
			t.Fatalf("strokes[%d] is (%d x %d), want (10 x 3)", b, r, c)
		}
		for i := 0; i < r; i++ {
			if pen := m.At(i, 2); pen != 0 && pen != 1 {
				t.Fatalf("pen channel at [%d,%d] is %g, want 0 or 1", b, i, pen)
			}
		}
	}
}

func TestSampleDeterministicAfterReseed(t *testing.T) {
	s := newTestModel(t)
	rng := xrand.New(xrand.NewSource(23))
	_, chars, mask := testInputs(rng, 2, 1, 4)

	s.Reseed(555)
	a, err := s.Sample(chars, mask, 8)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	s.Reseed(555)
	b, err := s.Sample(chars, mask, 8)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	for i := range a {
		if !mat.Equal(a[i], b[i]) {
			t.Fatalf("reseeded sampling diverged for batch element %d", i)
		}
	}
}

func TestSampleAttentionCoversContext(t *testing.T) {
	s := newTestModel(t)
	rng := xrand.New(xrand.NewSource(24))
	_, chars, mask := testInputs(rng, 1, 1, 4)

	_, phis, err := s.SampleWithAttention(chars, mask, 6)
	if err != nil {
		t.Fatalf("SampleWithAttention: %v", err)
	}
	if r, c := phis[0].Dims(); r != 6 || c != 4 {
		t.Fatalf("phi trace is (%d x %d), want (6 x 4)", r, c)
	}
	for i := 0; i < 6; i++ {
		for u := 0; u < 4; u++ {
			if phis[0].At(i, u) < 0 {
				t.Fatalf("negative attention weight at [%d,%d]", i, u)
			}
		}
	}
}

func TestForwardRejectsBatchMismatch(t *testing.T) {
	s := newTestModel(t)
	rng := xrand.New(xrand.NewSource(25))
	strokes, _, _ := testInputs(rng, 2, 3, 4)
	_, chars, mask := testInputs(rng, 3, 1, 4)

	_, _, err := s.Forward(strokes, chars, mask)
	if !errors.IsType(err, errors.ErrorTypeDimension) {
		t.Fatalf("expected dimension error, got %v", err)
	}
}

// Encoder failures surface with their original category intact and the
// underlying error reachable through Unwrap.
func TestForwardWrapsEncoderErrors(t *testing.T) {
	s := newTestModel(t)
	rng := xrand.New(xrand.NewSource(26))
	strokes, chars, mask := testInputs(rng, 2, 2, 4)
	chars[0][0] = 99 // outside the vocabulary

	_, _, err := s.Forward(strokes, chars, mask)
	if !errors.IsType(err, errors.ErrorTypeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	ae := err.(*errors.AppError)
	if ae.Code != "ENCODE_FAILED" || ae.Unwrap() == nil {
		t.Fatalf("expected wrapped encoder error, got %v", err)
	}
}

func TestNewSeq2SeqValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.OutputMixtures = 0
	_, err := NewSeq2Seq(encoder.NewSimpleEncoder(cfg.VocabSize, cfg.EmbSize), cfg, quietLogger())
	if !errors.IsType(err, errors.ErrorTypeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
