// Package matcher resolves free-text vision-model replies against candidate
// taxonomy labels.
//
// All comparisons run over normalized text so that label variants like
// "Ar-Condicionado", "AR CONDICIONADO" and "arcondicionado" are equivalent.
package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopWords are filler tokens ignored during keyword extraction. The model
// replies in Portuguese, so the set is Portuguese-heavy.
var stopWords = map[string]struct{}{
	"parece":    {},
	"ser":       {},
	"uma":       {},
	"essa":      {},
	"esse":      {},
	"esta":      {},
	"este":      {},
	"que":       {},
	"com":       {},
	"por":       {},
	"para":      {},
	"imagem":    {},
	"foto":      {},
	"mostra":    {},
	"aparenta":  {},
	"trata":     {},
	"the":       {},
	"and":       {},
	"this":      {},
	"image":     {},
	"shows":     {},
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// deaccent lowercases text and strips combining diacritical marks.
func deaccent(text string) string {
	out, _, err := transform.String(stripMarks, strings.ToLower(text))
	if err != nil {
		// Transform only fails on malformed UTF-8; fall back to the
		// lowercased input rather than dropping the text.
		return strings.ToLower(text)
	}
	return out
}

// Normalize collapses a label or reply into its canonical comparison form:
// lowercased, diacritics stripped, hyphens and underscores folded to spaces,
// and finally all whitespace removed.
func Normalize(text string) string {
	s := deaccent(text)
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	return strings.Join(strings.Fields(s), "")
}

// Keywords extracts the meaningful tokens of a reply: punctuation stripped,
// split on whitespace, with short tokens and stop words dropped.
func Keywords(text string) []string {
	s := deaccent(text)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, s)

	var keywords []string
	for _, token := range strings.Fields(s) {
		if len([]rune(token)) <= 2 {
			continue
		}
		if _, skip := stopWords[token]; skip {
			continue
		}
		keywords = append(keywords, token)
	}
	return keywords
}

// Resolve decides which candidate label, if any, a model reply refers to.
// Matching runs in priority order: exact normalized equality, then the first
// candidate whose normalized form equals an extracted keyword, then the first
// candidate where one normalized form contains the other. Returns the matched
// candidate and true, or "" and false when nothing resolves.
func Resolve(reply string, candidates []string) (string, bool) {
	normReply := Normalize(reply)
	if normReply == "" {
		return "", false
	}

	for _, c := range candidates {
		if Normalize(c) == normReply {
			return c, true
		}
	}

	keywords := Keywords(reply)
	for _, c := range candidates {
		normCandidate := Normalize(c)
		for _, kw := range keywords {
			if normCandidate == kw {
				return c, true
			}
		}
	}

	for _, c := range candidates {
		normCandidate := Normalize(c)
		if normCandidate == "" {
			continue
		}
		if strings.Contains(normReply, normCandidate) || strings.Contains(normCandidate, normReply) {
			return c, true
		}
	}

	return "", false
}
