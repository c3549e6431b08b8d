// Package transcript fixes speech-recognition errors in domain-specific
// vocabulary before a final transcript triggers a chat turn.
//
// Recognizers frequently mishear proper nouns that the deployment cares
// about — product names, brand names, commands. The [Corrector] aligns final
// transcript text against the configured boost keywords using phonetic
// matching ([phonetic.Matcher]); partial transcripts are left untouched
// because they are superseded anyway.
//
// Each [Correction] records the substitution and its confidence so callers
// can audit or log the changes.
package transcript

import (
	"strings"

	"github.com/MrWong99/voxgate/internal/transcript/phonetic"
	"github.com/MrWong99/voxgate/pkg/types"
)

// Correction captures a single substitution made by the corrector.
type Correction struct {
	// Original is the text as produced by the recognizer.
	Original string

	// Corrected is the replacement keyword.
	Corrected string

	// Confidence is the match score that selected the replacement (0.0–1.0).
	Confidence float64
}

// Corrector aligns transcript text against a fixed keyword list. It is
// read-only after construction and safe for concurrent use. A Corrector with
// no keywords is valid and passes text through unchanged.
type Corrector struct {
	matcher  *phonetic.Matcher
	keywords []string
	maxWords int
}

// New creates a [Corrector] for the given boost keywords. Matcher options
// tune the phonetic and fuzzy acceptance thresholds.
func New(keywords []types.KeywordBoost, opts ...phonetic.Option) *Corrector {
	c := &Corrector{maxWords: 1}
	for _, k := range keywords {
		kw := strings.TrimSpace(k.Keyword)
		if kw == "" {
			continue
		}
		c.keywords = append(c.keywords, kw)
		if n := len(strings.Fields(kw)); n > c.maxWords {
			c.maxWords = n
		}
	}
	c.matcher = phonetic.New(c.keywords, opts...)
	return c
}

// Enabled reports whether the corrector has any keywords to match against.
func (c *Corrector) Enabled() bool {
	return len(c.keywords) > 0
}

// Correct applies phonetic keyword alignment to text. At each token position
// n-gram windows are tried from the longest keyword length down to one token,
// so multi-word keywords take precedence over partial single-word matches.
// Returns the corrected text and the list of substitutions made.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if !c.Enabled() {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		maxN := c.maxWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			keyword, conf, ok := c.matcher.Match(window)
			if !ok {
				continue
			}
			// Identical text is not a correction worth recording.
			if strings.EqualFold(window, keyword) {
				output = append(output, tokens[i:i+n]...)
				i += n
				matched = true
				break
			}
			output = append(output, strings.Fields(keyword)...)
			corrections = append(corrections, Correction{
				Original:   window,
				Corrected:  keyword,
				Confidence: conf,
			})
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}
