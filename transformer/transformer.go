package transformer

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/ArabicASR/params"
)

// Transformer is the speech encoder-decoder. Features go through the
// convolutional embedding and the encoder blocks; the token prefix goes
// through the token embedding and the decoder blocks, which cross-attend to
// the encoder output; the classifier turns each decoder column into logits.
//
// Forward passes only read the weights, so one *Transformer can be shared by
// any number of goroutines.
type Transformer struct {
	Params params.ModelParams
	Vocab  []string // id -> symbol, stored with the weights

	EncInput      *SpeechFeatureEmbedding
	EncoderBlocks []*EncoderBlock
	DecInput      *TokenEmbedding
	DecoderBlocks []*DecoderBlock
	Classifier    *Linear

	// Digest identifies the artifact the weights were loaded from. Zero for a
	// freshly initialized model.
	Digest uint64

	encoder []Layer
}

// CreateTransformer builds a randomly initialized model for p. vocab must
// have exactly p.NumClasses entries.
func CreateTransformer(p params.ModelParams, vocab []string, rng *rand.Rand) (*Transformer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(vocab) != p.NumClasses {
		return nil, fmt.Errorf("vocabulary has %d symbols, model expects %d", len(vocab), p.NumClasses)
	}
	m := &Transformer{
		Params:   p,
		Vocab:    append([]string(nil), vocab...),
		EncInput: NewSpeechFeatureEmbedding(p, rng),
		DecInput: NewTokenEmbedding(p.NumClasses, p.TargetMaxlen, p.NumHid, rng),
	}
	m.EncoderBlocks = make([]*EncoderBlock, p.NumLayersEnc)
	for i := range m.EncoderBlocks {
		m.EncoderBlocks[i] = NewEncoderBlock(p, rng)
	}
	m.DecoderBlocks = make([]*DecoderBlock, p.NumLayersDec)
	for i := range m.DecoderBlocks {
		m.DecoderBlocks[i] = NewDecoderBlock(p, rng)
	}
	m.Classifier = NewLinear(p.NumHid, p.NumClasses, rng)
	m.buildEncoder()
	return m, nil
}

func (m *Transformer) buildEncoder() {
	m.encoder = make([]Layer, 0, 1+len(m.EncoderBlocks))
	m.encoder = append(m.encoder, m.EncInput)
	for _, b := range m.EncoderBlocks {
		m.encoder = append(m.encoder, b)
	}
}

// Encode runs the encoder over a (frames x bins) feature matrix and returns
// (hidden x T') states.
func (m *Transformer) Encode(features *mat.Dense) *mat.Dense {
	return m.encode(features, nil)
}

func (m *Transformer) encode(features *mat.Dense, drop *Dropout) *mat.Dense {
	if _, bins := features.Dims(); bins != m.Params.FeatureBins {
		panic(fmt.Sprintf("Encode: features have %d bins, model expects %d", bins, m.Params.FeatureBins))
	}
	x := mat.DenseCopyOf(features.T())
	for _, l := range m.encoder {
		x = l.Forward(x, drop)
	}
	return x
}

// Decode runs the decoder stack over a token prefix and returns
// (hidden x len(target)) states.
func (m *Transformer) Decode(enc *mat.Dense, target []int) *mat.Dense {
	return m.decode(enc, target, nil)
}

func (m *Transformer) decode(enc *mat.Dense, target []int, drop *Dropout) *mat.Dense {
	y := m.DecInput.Forward(target)
	for _, b := range m.DecoderBlocks {
		y = b.Forward(enc, y, drop)
	}
	return y
}

// Forward returns (vocab x len(target)) logits for target given features.
func (m *Transformer) Forward(features *mat.Dense, target []int) *mat.Dense {
	return m.Classifier.Forward(m.Decode(m.Encode(features), target))
}
