// Package text maps transcriptions to the token ids the encoder consumes.
// The default is a fixed printable-ASCII charset; a trained subword codec is
// available for corpora with richer alphabets.
package text

import (
	"fmt"
	"os"
	"path/filepath"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/models"
	"github.com/sugarme/tokenizer/pretokenizers"
	"github.com/sugarme/tokenizer/trainers"
)

// EncodeASCII maps each byte of a transcription onto [0, vocabSize). The
// charset starts at space (0x20); anything below maps to 0 and anything past
// the vocabulary folds onto the last id.
func EncodeASCII(s string, vocabSize int) []int {
	ids := make([]int, len(s))
	for i := 0; i < len(s); i++ {
		id := int(s[i]) - 0x20
		if id < 0 {
			id = 0
		}
		if id >= vocabSize {
			id = vocabSize - 1
		}
		ids[i] = id
	}
	return ids
}

// Codec wraps a trained tokenizer for transcriptions that need more than the
// ASCII charset.
type Codec struct {
	tok *tk.Tokenizer
}

// TrainOrLoad trains a small BPE codec on corpusPath if tokPath does not
// exist yet, otherwise loads it.
func TrainOrLoad(corpusPath, tokPath string, vocabSize int) (*Codec, error) {
	if _, err := os.Stat(tokPath); err == nil {
		t, err := tk.FromFile(tokPath)
		if err != nil {
			return nil, err
		}
		return &Codec{tok: t}, nil
	}

	bpe := models.NewBPE()
	t := tk.NewTokenizer(bpe)
	t.WithPreTokenizer(pretokenizers.NewWhitespaceSplit())

	tr := trainers.NewBpeTrainer()
	tr.VocabSize = vocabSize
	tr.SpecialTokens = []string{"<pad>", "<unk>"}

	if err := t.Train(tr, []string{corpusPath}); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(tokPath), 0o755); err != nil {
		return nil, err
	}
	if err := t.Save(tokPath); err != nil {
		return nil, err
	}
	return &Codec{tok: t}, nil
}

// Encode turns a transcription into token ids.
func (c *Codec) Encode(s string) ([]int, error) {
	if c.tok == nil {
		return nil, fmt.Errorf("codec not initialized")
	}
	enc, err := c.tok.EncodeSingle(s)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(enc.Ids))
	for i, v := range enc.Ids {
		out[i] = int(v)
	}
	return out, nil
}

// VocabSize reports the codec's vocabulary size.
func (c *Codec) VocabSize() int {
	if c.tok == nil {
		return 0
	}
	return len(c.tok.GetVocab(true))
}
