package IO

import (
	"slices"
	"testing"

	"github.com/manningwu07/ArabicASR/params"
)

func TestArabicVocabularyLayout(t *testing.T) {
	v := NewArabicVocabulary(params.MaxTargetLen)
	if v.Size() != 41 {
		t.Fatalf("size = %d, want 41", v.Size())
	}
	for id, sym := range []string{"-", "#", "<", ">"} {
		if v.IDToToken[id] != sym {
			t.Fatalf("id %d = %q, want %q", id, v.IDToToken[id], sym)
		}
	}
	if v.TokenToID[" "] != 4 {
		t.Fatalf("space id = %d, want 4", v.TokenToID[" "])
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	v := NewArabicVocabulary(params.MaxTargetLen)
	for _, s := range []string{"مرحبا", "", "السلام عليكم", "ء آ ى"} {
		ids := v.Encode(s)
		if len(ids) != params.MaxTargetLen {
			t.Fatalf("%q: len %d, want %d", s, len(ids), params.MaxTargetLen)
		}
		n := len([]rune(s))
		want := append([]string{"<"}, splitRunes(s)...)
		want = append(want, ">")
		for len(want) < params.MaxTargetLen {
			want = append(want, "-")
		}
		if got := v.Decode(ids); !slices.Equal(got, want) {
			t.Fatalf("%q: decode = %v", s, got[:n+2])
		}
		if got := v.Transcript(ids); got != s {
			t.Fatalf("transcript = %q, want %q", got, s)
		}
	}
}

func TestEncodeUnknownAndTruncation(t *testing.T) {
	v := NewArabicVocabulary(6)
	ids := v.Encode("مxرحبا")
	want := []int{StartID, v.TokenToID["م"], UnkID, v.TokenToID["ر"], v.TokenToID["ح"], EndID}
	if !slices.Equal(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
}

func TestEncodeNormalizesToNFC(t *testing.T) {
	v := NewArabicVocabulary(8)
	// alef followed by combining madda composes to U+0622
	ids := v.Encode("\u0627\u0653")
	if ids[1] != v.TokenToID["\u0622"] || ids[2] != EndID {
		t.Fatalf("ids = %v, want precomposed alef madda", ids)
	}
}

func TestDecodeOutOfRange(t *testing.T) {
	v := NewArabicVocabulary(8)
	got := v.Decode([]int{-1, 99, 4})
	if !slices.Equal(got, []string{"#", "#", " "}) {
		t.Fatalf("decode = %q", got)
	}
}

func TestTranscriptStopsAtEnd(t *testing.T) {
	v := NewArabicVocabulary(10)
	b, a := v.TokenToID["ب"], v.TokenToID["ا"]
	got := v.Transcript([]int{StartID, b, a, EndID, b, b, PadID})
	if got != "با" {
		t.Fatalf("transcript = %q, want %q", got, "با")
	}
	if got := v.Transcript([]int{StartID, b, PadID, a}); got != "با" {
		t.Fatalf("no end token: %q", got)
	}
}

func TestSetSentinelsMovesEnd(t *testing.T) {
	v := NewArabicVocabulary(10)
	b, a := v.TokenToID["ب"], v.TokenToID["ا"]
	if err := v.SetSentinels(StartID, UnkID); err != nil {
		t.Fatalf("SetSentinels: %v", err)
	}
	if got := v.Transcript([]int{StartID, b, EndID, a, UnkID, b}); got != "ب>ا" {
		t.Fatalf("transcript = %q, want %q", got, "ب>ا")
	}
	if ids := v.Encode("ب"); ids[0] != StartID || ids[2] != UnkID {
		t.Fatalf("encode framing = %v", ids)
	}
	for _, ids := range [][2]int{{StartID, v.Size()}, {-1, EndID}, {EndID, EndID}} {
		if err := v.SetSentinels(ids[0], ids[1]); err == nil {
			t.Errorf("SetSentinels(%d, %d): expected error", ids[0], ids[1])
		}
	}
}

func TestNewVocabularyRejectsDuplicates(t *testing.T) {
	if _, err := NewVocabulary([]string{"-", "#", "<", ">", "a", "a"}, 10); err == nil {
		t.Fatal("expected duplicate symbol error")
	}
	if _, err := NewVocabulary([]string{"-", "#"}, 10); err == nil {
		t.Fatal("expected error for missing sentinels")
	}
}

func splitRunes(s string) []string {
	var out []string
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
