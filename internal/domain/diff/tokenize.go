package diff

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenize splits text into units at the given granularity. The split is
// lossless: concatenating the units yields text. Each unit carries its
// trailing whitespace.
func Tokenize(text string, g Granularity) []string {
	if text == "" {
		return nil
	}
	if g == GranularityLine {
		return splitLines(text)
	}
	return splitSentences(text)
}

func splitLines(text string) []string {
	var units []string
	for text != "" {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			units = append(units, text)
			break
		}
		units = append(units, text[:i+1])
		text = text[i+1:]
	}
	return units
}

// splitSentences cuts after a terminator (. ! ?), optionally followed by
// closing quotes or brackets, when whitespace or end of input follows. A
// newline also ends a unit so headings and list items stand alone.
func splitSentences(text string) []string {
	var units []string
	start := 0
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size

		cut := false
		switch {
		case r == '\n':
			cut = true
		case isTerminator(r):
			for i < len(text) {
				nr, ns := utf8.DecodeRuneInString(text[i:])
				if !isTerminator(nr) && !isCloser(nr) {
					break
				}
				i += ns
			}
			if i == len(text) {
				cut = true
				break
			}
			nr, _ := utf8.DecodeRuneInString(text[i:])
			cut = unicode.IsSpace(nr)
		}
		if !cut {
			continue
		}
		for i < len(text) {
			nr, ns := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(nr) {
				break
			}
			i += ns
		}
		units = append(units, text[start:i])
		start = i
	}
	if start < len(text) {
		units = append(units, text[start:])
	}
	return units
}

func isTerminator(r rune) bool { return r == '.' || r == '!' || r == '?' }

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’':
		return true
	}
	return false
}
