package index

import (
	"strings"
	"unicode"

	"bitbucket.org/creachadair/stringset"
)

// stopWords are dropped from indexed and queried text. Besides common
// English words they cover words that appear in most vendor and product
// names and so carry no signal.
var stopWords = stringset.New(
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "if", "in",
	"into", "is", "it", "no", "not", "of", "on", "or", "such", "that", "the",
	"their", "then", "there", "these", "they", "this", "to", "was", "will", "with",
	"software", "framework", "inc", "com", "org", "net", "www", "consulting",
	"ltd", "foundation", "project",
)

// IsStopWord reports whether word (compared lower-cased) is a stop word.
func IsStopWord(word string) bool {
	return stopWords.Contains(strings.ToLower(word))
}

// Analyze turns text into index tokens:
//   - words are split on anything that is not a letter or digit and lower cased
//   - stop words are dropped
//   - each word is also split on letter/digit and case changes
//     ("struts2" -> "struts", "2"; "SpringBoot" -> "spring", "boot")
//   - adjacent words are concatenated ("spring core" -> "springcore")
func Analyze(text string) []string {
	var words []string
	for _, raw := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if IsStopWord(raw) {
			continue
		}
		words = append(words, raw)
	}

	seen := stringset.New()
	var tokens []string
	emit := func(tok string) {
		if tok == "" || seen.Contains(tok) {
			return
		}
		seen.Add(tok)
		tokens = append(tokens, tok)
	}
	for i, w := range words {
		lw := strings.ToLower(w)
		emit(lw)
		if parts := splitWord(w); len(parts) > 1 {
			for _, p := range parts {
				if !IsStopWord(p) {
					emit(strings.ToLower(p))
				}
			}
		}
		if i > 0 {
			emit(strings.ToLower(words[i-1]) + lw)
		}
	}
	return tokens
}

// splitWord splits on letter/digit transitions and lower-to-upper case
// changes.
func splitWord(w string) []string {
	runes := []rune(w)
	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := unicode.IsDigit(prev) != unicode.IsDigit(cur) ||
			(unicode.IsLower(prev) && unicode.IsUpper(cur))
		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}
