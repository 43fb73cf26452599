// Package textseg splits narration text into bounded chunks for speech synthesis.
package textseg

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxLength matches the hard input limit of the strictest upstream engine.
const DefaultMaxLength = 200

// Chunk is one ordered unit of synthesis and playback.
type Chunk struct {
	Index    int
	Text     string
	Language string
}

// Segment splits text at sentence terminals, keeping the terminal with its sentence,
// and slices any sentence longer than maxLen runes into maxLen-rune pieces.
// Whitespace-only pieces are dropped, so the concatenation of the result equals
// text except for dropped whitespace. maxLen <= 0 disables slicing.
func Segment(text string, maxLen int) []string {
	var out []string
	for _, sentence := range Sentences(text) {
		out = append(out, slice(sentence, maxLen)...)
	}
	return out
}

// Tag numbers segmented pieces in order and attaches their language
func Tag(parts []string, lang string) []Chunk {
	chunks := make([]Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = Chunk{Index: i, Text: p, Language: lang}
	}
	return chunks
}

// Sentences splits text after each run of terminals (plus any closing quotes or
// brackets that follow it). Whitespace-only sentences are dropped.
func Sentences(text string) []string {
	var out []string
	start := 0
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if !isTerminal(r) {
			continue
		}
		for i < len(text) {
			next, n := utf8.DecodeRuneInString(text[i:])
			if !isTerminal(next) && !isCloser(next) {
				break
			}
			i += n
		}
		out = appendNonBlank(out, text[start:i])
		start = i
	}
	if start < len(text) {
		out = appendNonBlank(out, text[start:])
	}
	return out
}

// Coalesce packs adjacent parts into pieces of at most max runes. A part that is
// already longer than max is passed through on its own.
func Coalesce(parts []string, max int) []string {
	if max <= 0 {
		return parts
	}
	var out []string
	var cur strings.Builder
	curLen := 0
	for _, p := range parts {
		n := utf8.RuneCountInString(p)
		if curLen > 0 && curLen+n > max {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
		cur.WriteString(p)
		curLen += n
	}
	if curLen > 0 {
		out = append(out, cur.String())
	}
	return out
}

func slice(s string, maxLen int) []string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return []string{s}
	}
	var out []string
	count := 0
	start := 0
	for i := range s {
		if count == maxLen {
			out = appendNonBlank(out, s[start:i])
			start = i
			count = 0
		}
		count++
	}
	return appendNonBlank(out, s[start:])
}

func appendNonBlank(out []string, s string) []string {
	if strings.TrimFunc(s, unicode.IsSpace) == "" {
		return out
	}
	return append(out, s)
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '\n',
		'।', '॥', // Devanagari danda, double danda
		'。', '！', '？':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}
