// Package encoder turns character token ids into a context sequence for the
// attention window. Two variants: a plain embedding lookup and a
// bidirectional LSTM over the embeddings.
package encoder

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/LegendTianjin/handwriting-synthesis/pkg/errors"
	"github.com/LegendTianjin/handwriting-synthesis/rnn"
	"github.com/LegendTianjin/handwriting-synthesis/utils"
)

// SimpleEncoder is an embedding table lookup. Output width equals EmbSize.
type SimpleEncoder struct {
	VocabSize int
	EmbSize   int
	Emb       *mat.Dense // VocabSize x EmbSize
}

func NewSimpleEncoder(vocabSize, embSize int) *SimpleEncoder {
	return &SimpleEncoder{
		VocabSize: vocabSize,
		EmbSize:   embSize,
		Emb:       mat.NewDense(vocabSize, embSize, utils.RandomArray(vocabSize*embSize, float64(embSize))),
	}
}

func (e *SimpleEncoder) Size() int { return e.EmbSize }

// Encode looks up one embedding row per token. chars is a batch of id
// sequences, all the same length; mask is (B x T) with 1 for real characters.
// Time-step alignment with the input is preserved.
func (e *SimpleEncoder) Encode(chars [][]int, mask *mat.Dense) ([]*mat.Dense, error) {
	if err := checkCharsMask(chars, mask, e.VocabSize); err != nil {
		return nil, err
	}
	out := make([]*mat.Dense, len(chars))
	for b, seq := range chars {
		m := mat.NewDense(len(seq), e.EmbSize, nil)
		for t, id := range seq {
			for j := 0; j < e.EmbSize; j++ {
				m.Set(t, j, e.Emb.At(id, j))
			}
		}
		out[b] = m
	}
	return out, nil
}

// RNNEncoder runs a forward and a backward LSTM over the embeddings and
// concatenates their hidden states per position. Output width is 2*Hidden.
type RNNEncoder struct {
	VocabSize int
	EmbSize   int
	Hidden    int

	Emb *mat.Dense // VocabSize x EmbSize
	Fwd *rnn.LSTMCell
	Bwd *rnn.LSTMCell
}

func NewRNNEncoder(vocabSize, embSize, hiddenSize int) *RNNEncoder {
	return &RNNEncoder{
		VocabSize: vocabSize,
		EmbSize:   embSize,
		Hidden:    hiddenSize,
		Emb:       mat.NewDense(vocabSize, embSize, utils.RandomArray(vocabSize*embSize, float64(embSize))),
		Fwd:       rnn.NewLSTMCell(embSize, hiddenSize),
		Bwd:       rnn.NewLSTMCell(embSize, hiddenSize),
	}
}

func (e *RNNEncoder) Size() int { return 2 * e.Hidden }

func (e *RNNEncoder) Encode(chars [][]int, mask *mat.Dense) ([]*mat.Dense, error) {
	if err := checkCharsMask(chars, mask, e.VocabSize); err != nil {
		return nil, err
	}
	out := make([]*mat.Dense, len(chars))
	for b, seq := range chars {
		T := len(seq)
		emb := mat.NewDense(T, e.EmbSize, nil)
		for t, id := range seq {
			for j := 0; j < e.EmbSize; j++ {
				emb.Set(t, j, e.Emb.At(id, j))
			}
		}

		ctx := mat.NewDense(T, 2*e.Hidden, nil)
		h := mat.NewDense(1, e.Hidden, nil)
		c := mat.NewDense(1, e.Hidden, nil)
		for t := 0; t < T; t++ {
			var err error
			h, c, err = e.Fwd.Step(utils.ToDense(emb.Slice(t, t+1, 0, e.EmbSize)), h, c)
			if err != nil {
				return nil, err
			}
			for j := 0; j < e.Hidden; j++ {
				ctx.Set(t, j, h.At(0, j))
			}
		}
		h = mat.NewDense(1, e.Hidden, nil)
		c = mat.NewDense(1, e.Hidden, nil)
		for t := T - 1; t >= 0; t-- {
			var err error
			h, c, err = e.Bwd.Step(utils.ToDense(emb.Slice(t, t+1, 0, e.EmbSize)), h, c)
			if err != nil {
				return nil, err
			}
			for j := 0; j < e.Hidden; j++ {
				ctx.Set(t, e.Hidden+j, h.At(0, j))
			}
		}
		out[b] = ctx
	}
	return out, nil
}

func checkCharsMask(chars [][]int, mask *mat.Dense, vocabSize int) error {
	if len(chars) == 0 {
		return errors.NewValidationError("EMPTY_BATCH", "at least one character sequence is required")
	}
	T := len(chars[0])
	if T == 0 {
		return errors.NewValidationError("EMPTY_TRANSCRIPTION", "character sequences must not be empty")
	}
	for b, seq := range chars {
		if len(seq) != T {
			return errors.NewDimensionError("CHARS_RAGGED",
				fmt.Sprintf("sequence %d has length %d, sequence 0 has %d", b, len(seq), T))
		}
		for t, id := range seq {
			if id < 0 || id >= vocabSize {
				return errors.NewValidationError("TOKEN_RANGE",
					fmt.Sprintf("token id %d at [%d,%d] outside vocab of %d", id, b, t, vocabSize))
			}
		}
	}
	if mr, mc := mask.Dims(); mr != len(chars) || mc != T {
		return errors.NewDimensionError("MASK_SHAPE",
			fmt.Sprintf("mask is (%d x %d), want (%d x %d)", mr, mc, len(chars), T))
	}
	return nil
}
