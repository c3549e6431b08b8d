// Package phonetic matches misheard transcript fragments against a fixed
// keyword vocabulary. A [Matcher] is built once per session from the
// configured boost keywords; lookups combine Double Metaphone sound codes
// with Jaro-Winkler string similarity.
//
// A fragment matches a keyword when the two share a Metaphone code and their
// Jaro-Winkler score clears the phonetic threshold (default 0.70). Fragments
// with no sound-alike keyword get a second chance against a stricter pure
// similarity threshold (default 0.85), which catches single-letter
// mishearings like "boxgate" for "Voxgate" whose leading consonants encode
// differently.
//
// Multi-word keywords work on both sides: codes are computed per token and
// similarity considers the full strings, the strings with spaces removed,
// and every token pair.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum similarity score for a sound-alike
// keyword to be accepted. Default: 0.70.
func WithPhoneticThreshold(v float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = v }
}

// WithFuzzyThreshold sets the minimum similarity score for keywords with no
// sound overlap. Default: 0.85.
func WithFuzzyThreshold(v float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = v }
}

// keyword is one vocabulary entry with its precomputed lookup data.
type keyword struct {
	canonical string
	lowered   string
	tokens    []string
	codes     map[string]struct{}
}

// Matcher looks up transcript fragments in a fixed keyword vocabulary.
// It is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	vocabulary        []keyword
}

// New builds a [Matcher] over the given keywords. Blank entries are skipped;
// sound codes are computed once here rather than on every lookup.
func New(keywords []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, kw := range keywords {
		lowered := strings.ToLower(strings.TrimSpace(kw))
		if lowered == "" {
			continue
		}
		tokens := strings.Fields(lowered)
		m.vocabulary = append(m.vocabulary, keyword{
			canonical: strings.TrimSpace(kw),
			lowered:   lowered,
			tokens:    tokens,
			codes:     soundCodes(tokens),
		})
	}
	return m
}

// Match finds the vocabulary keyword closest to phrase. phrase may span
// several tokens when the caller tries n-gram windows. When no keyword
// clears its threshold, ok is false and canonical echoes the phrase.
func (m *Matcher) Match(phrase string) (canonical string, score float64, ok bool) {
	lowered := strings.ToLower(strings.TrimSpace(phrase))
	if lowered == "" || len(m.vocabulary) == 0 {
		return phrase, 0, false
	}
	tokens := strings.Fields(lowered)
	codes := soundCodes(tokens)

	var (
		best         *keyword
		bestScore    float64
		bestPhonetic bool
	)
	for i := range m.vocabulary {
		kw := &m.vocabulary[i]
		s := similarity(tokens, lowered, kw)
		if sharesCode(codes, kw.codes) {
			if s >= m.phoneticThreshold && (!bestPhonetic || s > bestScore) {
				best, bestScore, bestPhonetic = kw, s, true
			}
		} else if !bestPhonetic && s >= m.fuzzyThreshold && s > bestScore {
			best, bestScore = kw, s
		}
	}

	if best == nil {
		return phrase, 0, false
	}
	return best.canonical, bestScore, true
}

// soundCodes returns the union of Double Metaphone codes over the tokens.
// Tokens that yield no code (too short, all vowels) contribute nothing.
func soundCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, 2*len(tokens))
	for _, tok := range tokens {
		primary, secondary := matchr.DoubleMetaphone(tok)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

func sharesCode(a, b map[string]struct{}) bool {
	if len(b) < len(a) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity scores a fragment against one keyword, taking the best of the
// full strings, the space-stripped strings, and every token pair. The
// space-stripped pass handles splits like "deep gram" for "Deepgram"; the
// pairwise pass handles one spoken word landing on one keyword word.
func similarity(tokens []string, lowered string, kw *keyword) float64 {
	score := matchr.JaroWinkler(lowered, kw.lowered, false)

	if len(tokens) > 1 || len(kw.tokens) > 1 {
		joined := strings.Join(tokens, "")
		if s := matchr.JaroWinkler(joined, strings.Join(kw.tokens, ""), false); s > score {
			score = s
		}
	}
	for _, t := range tokens {
		for _, kt := range kw.tokens {
			if s := matchr.JaroWinkler(t, kt, false); s > score {
				score = s
			}
		}
	}
	return score
}
