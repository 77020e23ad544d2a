// Package qtext provides the language-agnostic tokenization shared by the
// lexical index, the static embedder, and the prefix-completion engine.
//
// Query text mixes CJK and Latin scripts (see spec example "销售额趋势分析").
// CJK has no whitespace between words, so each CJK rune is treated as its
// own token (a documented, if crude, segmenter); Latin/digit runs are
// grouped on whitespace and punctuation boundaries, the way the teacher's
// internal/store/tokenizer.go splits identifiers, but without the
// camelCase/snake_case rules that only make sense for code.
package qtext

import "unicode"

// Token is a single tokenized unit together with its byte offsets in the
// original string, so callers (PrefixCompletionEngine) can reconstruct the
// separator-preserving prefix around it.
type Token struct {
	Text  string
	Start int
	End   int
}

// IsCJK reports whether r belongs to a CJK (Chinese/Japanese/Korean) block
// that is conventionally segmented rune-by-rune rather than by whitespace.
func IsCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // CJK Extension A
		return true
	case r >= 0x3040 && r <= 0x30FF: // Hiragana + Katakana
		return true
	case r >= 0xAC00 && r <= 0xD7A3: // Hangul syllables
		return true
	default:
		return false
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Tokenize splits text into tokens: each CJK rune is its own token, each
// maximal run of non-CJK word runes (letters/digits) is one token, and
// whitespace/punctuation separates tokens without producing tokens of its
// own. Tokens are returned in input order with original casing preserved;
// callers that need case-insensitive matching should lowercase themselves.
func Tokenize(text string) []Token {
	var tokens []Token
	runes := []rune(text)

	byteOffset := make([]int, len(runes)+1)
	off := 0
	for i, r := range runes {
		byteOffset[i] = off
		off += len(string(r))
	}
	byteOffset[len(runes)] = off

	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case IsCJK(r):
			tokens = append(tokens, Token{
				Text:  string(r),
				Start: byteOffset[i],
				End:   byteOffset[i+1],
			})
			i++
		case isWordRune(r):
			j := i + 1
			for j < len(runes) && isWordRune(runes[j]) && !IsCJK(runes[j]) {
				j++
			}
			tokens = append(tokens, Token{
				Text:  string(runes[i:j]),
				Start: byteOffset[i],
				End:   byteOffset[j],
			})
			i = j
		default:
			i++
		}
	}

	return tokens
}

// Words returns just the token text, discarding offsets.
func Words(text string) []string {
	toks := Tokenize(text)
	words := make([]string, len(toks))
	for i, t := range toks {
		words[i] = t.Text
	}
	return words
}
