// Package phonetic corrects misrecognised vocabulary terms (product names,
// people, places) in transcript text.
//
// Matching proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     the candidate phrase (with its words joined) and for each vocabulary
//     term. A shared code makes the term a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the term with the
//     highest Jaro-Winkler similarity is selected, provided its score reaches
//     the phonetic threshold. When no phonetic candidate qualifies, a
//     secondary pass accepts pure Jaro-Winkler similarity at the higher fuzzy
//     threshold (default 0.85).
//
// Phrases whose letter count differs from the term's by more than a fixed
// ratio are never compared, which keeps a term from swallowing neighbouring
// words.
package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// maxLengthRatio bounds longer/shorter letter counts of phrase and term.
	maxLengthRatio = 1.3

	// minPhraseLen is the shortest phrase, in letters, considered at all.
	minPhraseLen = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Correction records one replacement made by [Matcher.Correct].
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

type term struct {
	text   string
	lower  string
	concat string
	words  int
	codes  map[string]struct{}
}

// Matcher holds a prepared vocabulary. It is read-only after construction
// and safe for concurrent use.
type Matcher struct {
	terms             []term
	maxWords          int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New prepares vocabulary for matching. Blank entries are ignored.
func New(vocabulary []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, v := range vocabulary {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		lower := strings.ToLower(v)
		words := strings.Fields(lower)
		concat := strings.Join(words, "")
		m.terms = append(m.terms, term{
			text:   v,
			lower:  strings.Join(words, " "),
			concat: concat,
			words:  len(words),
			codes:  codes(concat),
		})
		m.maxWords = max(m.maxWords, len(words))
	}
	return m
}

// Len returns the number of vocabulary terms.
func (m *Matcher) Len() int { return len(m.terms) }

// Match returns the vocabulary term most similar to phrase. When matched is
// false, corrected equals phrase and confidence is 0.
func (m *Matcher) Match(phrase string) (corrected string, confidence float64, matched bool) {
	words := strings.Fields(strings.ToLower(phrase))
	if len(words) == 0 || len(m.terms) == 0 {
		return phrase, 0, false
	}
	t, score, ok := m.best(words)
	if !ok {
		return phrase, 0, false
	}
	return t.text, score, true
}

func (m *Matcher) best(words []string) (term, float64, bool) {
	lower := strings.Join(words, " ")
	concat := strings.Join(words, "")
	n := utf8.RuneCountInString(concat)
	if n < minPhraseLen {
		return term{}, 0, false
	}
	in := codes(concat)

	var (
		best         term
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range m.terms {
		if !lengthsCompatible(n, utf8.RuneCountInString(t.concat)) {
			continue
		}
		score := max(
			matchr.JaroWinkler(lower, t.lower, false),
			matchr.JaroWinkler(concat, t.concat, false),
		)
		if overlap(in, t.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t, score
		}
	}
	return best, bestScore, best.text != ""
}

// Correct scans text for phrases resembling vocabulary terms and replaces
// them, preserving surrounding punctuation. At every position the longest
// matching phrase wins; phrases span up to one word more than the longest
// term so that a term split in two by the recognizer is still found.
func (m *Matcher) Correct(text string) (string, []Correction) {
	if len(m.terms) == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}
	cleaned := make([]string, len(tokens))
	for i, tok := range tokens {
		cleaned[i] = strings.ToLower(strings.TrimFunc(tok, unicode.IsPunct))
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		consumed := 0
		for n := min(m.maxWords+1, len(tokens)-i); n >= 1; n-- {
			window := nonEmpty(cleaned[i : i+n])
			if len(window) == 0 {
				continue
			}
			t, score, ok := m.best(window)
			if !ok {
				continue
			}
			original := strings.Join(tokens[i:i+n], " ")
			lead := leadingPunct(tokens[i])
			trail := trailingPunct(tokens[i+n-1])
			replacement := lead + t.text + trail
			if replacement != original {
				corrections = append(corrections, Correction{
					Original:   strings.TrimFunc(original, unicode.IsPunct),
					Corrected:  t.text,
					Confidence: score,
				})
			}
			out = append(out, replacement)
			consumed = n
			break
		}
		if consumed == 0 {
			out = append(out, tokens[i])
			consumed = 1
		}
		i += consumed
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// codes returns the Double Metaphone codes of s, excluding empty ones.
func codes(s string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	p, sec := matchr.DoubleMetaphone(s)
	if p != "" {
		out[p] = struct{}{}
	}
	if sec != "" {
		out[sec] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

func lengthsCompatible(a, b int) bool {
	if a == 0 || b == 0 {
		return false
	}
	lo, hi := min(a, b), max(a, b)
	return float64(hi)/float64(lo) <= maxLengthRatio
}

func nonEmpty(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func leadingPunct(tok string) string {
	trimmed := strings.TrimLeftFunc(tok, unicode.IsPunct)
	return tok[:len(tok)-len(trimmed)]
}

func trailingPunct(tok string) string {
	trimmed := strings.TrimRightFunc(tok, unicode.IsPunct)
	return tok[len(trimmed):]
}
