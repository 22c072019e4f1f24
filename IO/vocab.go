package IO

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/manningwu07/ArabicASR/params"
)

// Sentinel ids, fixed by vocabulary order.
const (
	PadID   = 0
	UnkID   = 1
	StartID = 2
	EndID   = 3
)

// Vocabulary is the character codec between text and fixed-length id
// sequences.
type Vocabulary struct {
	TokenToID map[string]int
	IDToToken []string
	MaxLen    int

	// Start and End frame encoded sequences and bound transcripts.
	Start, End int
}

// NewArabicVocabulary returns the four sentinels followed by the Arabic
// alphabet.
func NewArabicVocabulary(maxLen int) *Vocabulary {
	symbols := append([]string{params.PadSymbol, params.UnkSymbol, params.StartSymbol, params.EndSymbol},
		params.ArabicAlphabet...)
	v, err := NewVocabulary(symbols, maxLen)
	if err != nil {
		panic(err)
	}
	return v
}

// NewVocabulary builds a codec from an id-ordered symbol list, as stored in a
// model artifact. The first four symbols are the sentinels.
func NewVocabulary(symbols []string, maxLen int) (*Vocabulary, error) {
	if len(symbols) < 4 {
		return nil, fmt.Errorf("vocabulary needs the 4 sentinels, got %d symbols", len(symbols))
	}
	if maxLen < 2 {
		return nil, fmt.Errorf("vocabulary max length must be >= 2, got %d", maxLen)
	}
	v := &Vocabulary{
		TokenToID: make(map[string]int, len(symbols)),
		IDToToken: append([]string(nil), symbols...),
		MaxLen:    maxLen,
		Start:     StartID,
		End:       EndID,
	}
	for i, s := range symbols {
		if _, dup := v.TokenToID[s]; dup {
			return nil, fmt.Errorf("vocabulary symbol %q appears twice", s)
		}
		v.TokenToID[s] = i
	}
	return v, nil
}

func (v *Vocabulary) Size() int { return len(v.IDToToken) }

// SetSentinels replaces the start and end ids, e.g. with the decode config.
func (v *Vocabulary) SetSentinels(start, end int) error {
	for _, id := range []int{start, end} {
		if id < 0 || id >= v.Size() {
			return fmt.Errorf("sentinel id %d outside vocabulary [0,%d)", id, v.Size())
		}
	}
	if start == end {
		return fmt.Errorf("start and end sentinel are both %d", start)
	}
	v.Start, v.End = start, end
	return nil
}

// Encode maps text to exactly MaxLen ids: start, up to MaxLen-2 characters,
// end, then padding. Text is NFC-normalized first; characters outside the
// vocabulary become the unknown id.
func (v *Vocabulary) Encode(text string) []int {
	runes := []rune(norm.NFC.String(text))
	if len(runes) > v.MaxLen-2 {
		runes = runes[:v.MaxLen-2]
	}
	ids := make([]int, v.MaxLen)
	ids[0] = v.Start
	for i, r := range runes {
		id, ok := v.TokenToID[string(r)]
		if !ok {
			id = UnkID
		}
		ids[i+1] = id
	}
	ids[len(runes)+1] = v.End
	return ids
}

// Decode maps ids to symbols. Out-of-range ids decode as the unknown symbol.
func (v *Vocabulary) Decode(ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(v.IDToToken) {
			id = UnkID
		}
		out[i] = v.IDToToken[id]
	}
	return out
}

// Transcript turns a generated id sequence into text: it stops at the first
// end token and drops start and pad tokens wherever they occur.
func (v *Vocabulary) Transcript(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		if id == v.End {
			break
		}
		if id == v.Start || id == PadID {
			continue
		}
		if id < 0 || id >= len(v.IDToToken) {
			id = UnkID
		}
		sb.WriteString(v.IDToToken[id])
	}
	return sb.String()
}
