package main

import (
	"flag"
	"os"

	"github.com/sirupsen/logrus"
	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/LegendTianjin/handwriting-synthesis/encoder"
	"github.com/LegendTianjin/handwriting-synthesis/model"
	"github.com/LegendTianjin/handwriting-synthesis/params"
	"github.com/LegendTianjin/handwriting-synthesis/render"
	"github.com/LegendTianjin/handwriting-synthesis/text"
)

var (
	textFlag   string
	maxlenFlag int
	seedFlag   uint64
	rnnFlag    bool
	outFlag    string
	phiFlag    string
	smokeFlag  bool
)

func init() {
	flag.StringVar(&textFlag, "text", "the quick brown fox", "Transcription to synthesize")
	flag.IntVar(&maxlenFlag, "maxlen", 0, "Sampling steps (0 = config default)")
	flag.Uint64Var(&seedFlag, "seed", 0, "Random seed (0 = time-derived)")
	flag.BoolVar(&rnnFlag, "rnn", false, "Use the bidirectional LSTM encoder")
	flag.StringVar(&outFlag, "out", "sample.png", "Output image for the sampled strokes")
	flag.StringVar(&phiFlag, "phi", "", "Optional output image for the attention weights")
	flag.BoolVar(&smokeFlag, "smoke", false, "Also run a teacher-forced pass on random strokes and log the losses")
}

func main() {
	flag.Parse()
	log := logrus.New()

	cfg := params.Config
	cfg.Seed = seedFlag
	if maxlenFlag > 0 {
		cfg.MaxLen = maxlenFlag
	}

	var enc model.Encoder
	if rnnFlag {
		enc = encoder.NewRNNEncoder(cfg.VocabSize, cfg.EmbSize, cfg.EmbSize/2)
	} else {
		enc = encoder.NewSimpleEncoder(cfg.VocabSize, cfg.EmbSize)
	}

	m, err := model.NewSeq2Seq(enc, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Building model")
	}

	ids := text.EncodeASCII(textFlag, cfg.VocabSize)
	chars := [][]int{ids}
	mask := mat.NewDense(1, len(ids), nil)
	for t := range ids {
		mask.Set(0, t, 1)
	}

	if smokeFlag {
		runSmoke(log, m, chars, mask)
	}

	strokes, phis, err := m.SampleWithAttention(chars, mask, cfg.MaxLen)
	if err != nil {
		log.WithError(err).Fatal("Sampling")
	}
	if err := render.Draw(strokes[0], textFlag, outFlag); err != nil {
		log.WithError(err).Fatal("Rendering strokes")
	}
	log.WithFields(logrus.Fields{"path": outFlag, "steps": cfg.MaxLen}).Info("Wrote strokes")

	if phiFlag != "" {
		if err := render.HeatMap(phis[0], "attention", phiFlag); err != nil {
			log.WithError(err).Fatal("Rendering attention")
		}
		log.WithField("path", phiFlag).Info("Wrote attention weights")
	}
}

// runSmoke mirrors the training entry point on random data: the losses of an
// untrained model should be finite, nothing more.
func runSmoke(log *logrus.Logger, m *model.Seq2Seq, chars [][]int, mask *mat.Dense) {
	rng := xrand.New(xrand.NewSource(1))
	const T = 50
	strokes := make([]*mat.Dense, T)
	for t := range strokes {
		s := mat.NewDense(len(chars), 3, nil)
		for b := range chars {
			s.Set(b, 0, rng.NormFloat64())
			s.Set(b, 1, rng.NormFloat64())
			s.Set(b, 2, float64(rng.Intn(2)))
		}
		strokes[t] = s
	}
	strokeLoss, eosLoss, err := m.Forward(strokes, chars, mask)
	if err != nil {
		log.WithError(err).Error("Teacher-forced pass failed")
		os.Exit(1)
	}
	log.WithFields(logrus.Fields{
		"stroke_loss": strokeLoss,
		"eos_loss":    eosLoss,
		"steps":       T,
	}).Info("Teacher-forced smoke pass")
}
