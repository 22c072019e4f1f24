package transformer

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/ArabicASR/params"
)

// ArtifactVersion is written into every saved model.
const ArtifactVersion = 1

var (
	ErrUnsupportedVersion   = errors.New("unsupported model artifact version")
	ErrArchitectureMismatch = errors.New("model artifact does not match its architecture")
)

type tensorData struct {
	Name string    `msgpack:"name"`
	Rows int       `msgpack:"rows"`
	Cols int       `msgpack:"cols"`
	Data []float64 `msgpack:"data"`
}

type modelData struct {
	Version int                `msgpack:"version"`
	Params  params.ModelParams `msgpack:"params"`
	Vocab   []string           `msgpack:"vocab"`
	Tensors []tensorData       `msgpack:"tensors"`
}

type namedTensor struct {
	name string
	m    *mat.Dense
}

// tensors lists every weight in a fixed order with a stable name.
func (m *Transformer) tensors() []namedTensor {
	var out []namedTensor
	add := func(name string, d *mat.Dense) {
		out = append(out, namedTensor{name, d})
	}
	attn := func(prefix string, a *Attention) {
		for h := 0; h < a.H; h++ {
			add(fmt.Sprintf("%s.head%d.query.w", prefix, h), a.Wquery[h])
			add(fmt.Sprintf("%s.head%d.query.b", prefix, h), a.Bquery[h])
			add(fmt.Sprintf("%s.head%d.key.w", prefix, h), a.Wkey[h])
			add(fmt.Sprintf("%s.head%d.key.b", prefix, h), a.Bkey[h])
			add(fmt.Sprintf("%s.head%d.value.w", prefix, h), a.Wvalue[h])
			add(fmt.Sprintf("%s.head%d.value.b", prefix, h), a.Bvalue[h])
		}
		add(prefix+".output.w", a.Woutput)
		add(prefix+".output.b", a.Boutput)
	}
	ffn := func(prefix string, f *MLP) {
		add(prefix+".hidden.w", f.HiddenWeights)
		add(prefix+".hidden.b", f.HiddenBias)
		add(prefix+".output.w", f.OutputWeights)
		add(prefix+".output.b", f.OutputBias)
	}
	ln := func(prefix string, gamma, beta *mat.Dense) {
		add(prefix+".gamma", gamma)
		add(prefix+".beta", beta)
	}

	for i, c := range m.EncInput.Convs {
		add(fmt.Sprintf("enc_input.conv%d.w", i), c.W)
		add(fmt.Sprintf("enc_input.conv%d.b", i), c.B)
	}
	for i, b := range m.EncoderBlocks {
		p := fmt.Sprintf("encoder%d", i)
		attn(p+".att", b.Att)
		ffn(p+".ffn", b.FFN)
		ln(p+".ln1", b.Ln1.Gamma, b.Ln1.Beta)
		ln(p+".ln2", b.Ln2.Gamma, b.Ln2.Beta)
	}
	add("dec_input.emb", m.DecInput.Emb)
	add("dec_input.pos_emb", m.DecInput.PosEmb)
	for i, b := range m.DecoderBlocks {
		p := fmt.Sprintf("decoder%d", i)
		attn(p+".self_att", b.SelfAtt)
		attn(p+".enc_att", b.EncAtt)
		ffn(p+".ffn", b.FFN)
		ln(p+".ln1", b.Ln1.Gamma, b.Ln1.Beta)
		ln(p+".ln2", b.Ln2.Gamma, b.Ln2.Beta)
		ln(p+".ln3", b.Ln3.Gamma, b.Ln3.Beta)
	}
	add("classifier.w", m.Classifier.W)
	add("classifier.b", m.Classifier.B)
	return out
}

// Marshal encodes the model as a versioned msgpack artifact.
func (m *Transformer) Marshal() ([]byte, error) {
	data := modelData{
		Version: ArtifactVersion,
		Params:  m.Params,
		Vocab:   append([]string(nil), m.Vocab...),
	}
	for _, t := range m.tensors() {
		r, c := t.m.Dims()
		raw := mat.DenseCopyOf(t.m).RawMatrix()
		data.Tensors = append(data.Tensors, tensorData{
			Name: t.name,
			Rows: r,
			Cols: c,
			Data: append([]float64(nil), raw.Data...),
		})
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(&data); err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the model to path, creating parent directories, and records
// the artifact digest on m.
func Save(m *Transformer, path string) error {
	raw, err := m.Marshal()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create model dir: %w", err)
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	m.Digest = xxhash.Sum64(raw)
	return nil
}

// Load reads an artifact written by Save.
func Load(path string) (*Transformer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	m, err := Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return m, nil
}

// Unmarshal rebuilds the architecture from the stored parameters and copies
// every tensor in, rejecting missing, extra or misshaped tensors.
func Unmarshal(raw []byte) (*Transformer, error) {
	var data modelData
	if err := msgpack.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if data.Version != ArtifactVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, data.Version)
	}
	m, err := CreateTransformer(data.Params, data.Vocab, rand.New(rand.NewPCG(0, 0)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchitectureMismatch, err)
	}

	stored := make(map[string]tensorData, len(data.Tensors))
	for _, t := range data.Tensors {
		stored[t.Name] = t
	}
	want := m.tensors()
	if len(stored) != len(want) {
		return nil, fmt.Errorf("%w: artifact has %d tensors, architecture needs %d",
			ErrArchitectureMismatch, len(stored), len(want))
	}
	for _, t := range want {
		s, ok := stored[t.name]
		if !ok {
			return nil, fmt.Errorf("%w: missing tensor %s", ErrArchitectureMismatch, t.name)
		}
		r, c := t.m.Dims()
		if s.Rows != r || s.Cols != c || len(s.Data) != r*c {
			return nil, fmt.Errorf("%w: tensor %s is %dx%d, want %dx%d",
				ErrArchitectureMismatch, t.name, s.Rows, s.Cols, r, c)
		}
		t.m.Copy(mat.NewDense(r, c, s.Data))
	}
	m.Digest = xxhash.Sum64(raw)
	return m, nil
}
