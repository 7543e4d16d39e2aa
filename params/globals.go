package params

// HyperParams collects the sizes that shape the whole model. One instance is
// passed around at construction time; nothing reads Config after that.
type HyperParams struct {
	VocabSize int `json:"vocab_size"` // |V| for the character embedding
	EmbSize   int `json:"emb_size"`   // encoder output width per position

	HiddenSize int `json:"hidden_size"` // decoder LSTM width
	NumLayers  int `json:"num_layers"`  // decoder LSTM stack depth

	AttentionMixtures int `json:"attention_mixtures"` // K for the Gaussian window
	OutputMixtures    int `json:"output_mixtures"`    // K for the stroke mixture

	MaxLen int    `json:"max_len"` // sampling rollout length
	Seed   uint64 `json:"seed"`    // 0 = nondeterministic
}

// Reasonable defaults for small experiments
var Config = HyperParams{
	VocabSize: 60,
	EmbSize:   128,

	HiddenSize: 256,
	NumLayers:  3,

	AttentionMixtures: 10,
	OutputMixtures:    20,

	MaxLen: 1000,
	Seed:   0,
}
