package textseg

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSegment_Empty(t *testing.T) {
	if got := Segment("", 100); len(got) != 0 {
		t.Errorf("Expected no chunks for empty text, got %q", got)
	}
	if got := Segment("   \n\t ", 100); len(got) != 0 {
		t.Errorf("Expected no chunks for whitespace-only text, got %q", got)
	}
}

func TestSegment_Sentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"single", "Hello world", []string{"Hello world"}},
		{"two sentences", "Hello. World.", []string{"Hello.", " World."}},
		{"mixed terminals", "Really?! Yes... ok", []string{"Really?!", " Yes...", " ok"}},
		{"danda", "नमस्ते। आप कैसे हैं?", []string{"नमस्ते।", " आप कैसे हैं?"}},
		{"double danda", "श्लोक॥ अगला", []string{"श्लोक॥", " अगला"}},
		{"cjk", "你好。再见！", []string{"你好。", "再见！"}},
		{"newline", "Line one\nLine two", []string{"Line one\n", "Line two"}},
		{"closing quote", `He said "stop." Then left.`, []string{`He said "stop."`, " Then left."}},
		{"trailing whitespace dropped", "Done.   ", []string{"Done."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Segment(tt.text, 200)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Segment(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestSegment_SlicesLongSentences(t *testing.T) {
	text := "A short sentence. Then a very long sentence that exceeds one hundred characters in total length so it must be sliced into multiple fixed-size pieces for the synthesis backend."

	got := Segment(text, 100)

	if len(got) < 3 {
		t.Fatalf("Expected at least 3 chunks, got %d: %q", len(got), got)
	}
	if got[0] != "A short sentence." {
		t.Errorf("Expected first chunk %q, got %q", "A short sentence.", got[0])
	}
	for i, c := range got {
		if n := utf8.RuneCountInString(c); n > 100 {
			t.Errorf("Chunk %d has %d runes, exceeds limit", i, n)
		}
	}
	if joined := strings.Join(got, ""); joined != text {
		t.Errorf("Concatenation does not reconstruct input:\n got %q\nwant %q", joined, text)
	}
	if n := utf8.RuneCountInString(got[1]); n != 100 {
		t.Errorf("Expected full-size slice of 100 runes, got %d", n)
	}
}

func TestSegment_SlicesByRunes(t *testing.T) {
	text := strings.Repeat("क", 25)

	got := Segment(text, 10)

	want := []int{10, 10, 5}
	if len(got) != len(want) {
		t.Fatalf("Expected %d chunks, got %d", len(want), len(got))
	}
	for i, n := range want {
		if c := utf8.RuneCountInString(got[i]); c != n {
			t.Errorf("Chunk %d: expected %d runes, got %d", i, n, c)
		}
		if !utf8.ValidString(got[i]) {
			t.Errorf("Chunk %d is not valid UTF-8", i)
		}
	}
}

func TestSegment_Properties(t *testing.T) {
	inputs := []string{
		"One. Two! Three? Four",
		"No terminal at all but quite a lot of words that go on and on and on without stopping",
		"Mixed। Scripts? 和。 Done.\n\nNext paragraph here.",
		"....",
		"a.b.c.d.e.f.g",
	}

	for _, in := range inputs {
		for _, max := range []int{1, 5, 17, 200} {
			got := Segment(in, max)
			for _, c := range got {
				if utf8.RuneCountInString(c) > max {
					t.Errorf("Segment(%q, %d) produced overlong chunk %q", in, max, c)
				}
				if strings.TrimSpace(c) == "" {
					t.Errorf("Segment(%q, %d) produced blank chunk", in, max)
				}
			}
			if joined := strings.Join(got, ""); strings.Join(strings.Fields(joined), "") != strings.Join(strings.Fields(in), "") {
				t.Errorf("Segment(%q, %d) lost content: %q", in, max, joined)
			}
		}
	}
}

func TestSegment_NoLimit(t *testing.T) {
	text := strings.Repeat("word ", 100)
	got := Segment(text, 0)
	if len(got) != 1 || got[0] != text {
		t.Errorf("Expected single unsliced chunk when maxLen is 0, got %d chunks", len(got))
	}
}

func TestTag(t *testing.T) {
	got := Tag(Segment("Hello. World.", 100), "en")

	if len(got) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(got))
	}
	for i, c := range got {
		if c.Index != i {
			t.Errorf("Expected index %d, got %d", i, c.Index)
		}
		if c.Language != "en" {
			t.Errorf("Expected language en, got %s", c.Language)
		}
	}
	if got[1].Text != " World." {
		t.Errorf("Expected second chunk %q, got %q", " World.", got[1].Text)
	}

	if empty := Tag(nil, "en"); len(empty) != 0 {
		t.Errorf("Expected no chunks for no parts, got %d", len(empty))
	}
}

func TestCoalesce(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		max   int
		want  []string
	}{
		{"empty", nil, 10, nil},
		{"packs short parts", []string{"Hi.", " Yo.", " Ok."}, 8, []string{"Hi. Yo.", " Ok."}},
		{"all fit", []string{"a", "b", "c"}, 10, []string{"abc"}},
		{"oversized passes through", []string{"abcdefghijkl", "x"}, 5, []string{"abcdefghijkl", "x"}},
		{"disabled", []string{"a", "b"}, 0, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Coalesce(tt.parts, tt.max)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Coalesce(%q, %d) = %q, want %q", tt.parts, tt.max, got, tt.want)
			}
		})
	}
}
