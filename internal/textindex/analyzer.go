// Package textindex turns Portuguese legal text into the token stream stored
// in the full-text index. Documents and queries must go through the same
// Analyzer so stems line up.
package textindex

import (
	"strings"
	"unicode"

	"github.com/blevesearch/snowballstem"
	"github.com/blevesearch/snowballstem/portuguese"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Version identifies the analysis pipeline. Changing tokenisation, stemming
// or the stopword list must bump it so existing indexes are reported stale.
const Version = "pt-snowball-1"

const minTokenLen = 2

type Analyzer struct {
	stopwords map[string]struct{}
}

func New() *Analyzer {
	stop := make(map[string]struct{}, len(portugueseStopwords)+len(legalStopwords))
	for _, w := range portugueseStopwords {
		stop[Fold(w)] = struct{}{}
	}
	for _, w := range legalStopwords {
		stop[Fold(w)] = struct{}{}
	}
	return &Analyzer{stopwords: stop}
}

// Tokens returns the stemmed, accent-folded tokens of text in order.
func (a *Analyzer) Tokens(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(words))
	for _, w := range words {
		if a.IsStopword(w) {
			continue
		}
		tok := Fold(stem(w))
		if len([]rune(tok)) < minTokenLen {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// Analyze returns the tokens of text joined by single spaces.
func (a *Analyzer) Analyze(text string) string {
	return strings.Join(a.Tokens(text), " ")
}

func (a *Analyzer) IsStopword(word string) bool {
	_, ok := a.stopwords[Fold(strings.ToLower(word))]
	return ok
}

// MatchQuery builds an FTS5 MATCH expression requiring every analysed term.
// It returns "" when nothing indexable is left.
func (a *Analyzer) MatchQuery(term string) string {
	toks := a.Tokens(term)
	if len(toks) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(toks))
	parts := make([]string, 0, len(toks))
	for _, t := range toks {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		parts = append(parts, `"`+t+`"`)
	}
	return strings.Join(parts, " ")
}

func stem(word string) string {
	if !hasLetter(word) {
		return word
	}
	env := snowballstem.NewEnv(word)
	portuguese.Stem(env)
	return env.Current()
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// Fold strips diacritics: "decisão" becomes "decisao".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
