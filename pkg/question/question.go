package question

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind tags a question for downstream provider and model routing.
type Kind string

const (
	KindUnknown  Kind = "unknown"
	KindQuestion Kind = "question"
	KindCode     Kind = "code"
)

// Question is recognized text that passed the filter.
// Text is the original, unmodified recognizer output used for display.
type Question struct {
	Text string `json:"text"`
	Kind Kind   `json:"kind"`
}

// Normalized returns the lower-cased, whitespace-collapsed form of the text.
func (q Question) Normalized() string {
	return Normalize(q.Text)
}

// Normalize lower-cases text and collapses every run of whitespace into a
// single space. It is the canonical form used for matching and dedup.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range strings.TrimSpace(text) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Verdict is the result of classifying a piece of text.
type Verdict string

const (
	Accepted Verdict = "accepted"
	// RejectTooShort marks text below the minimum character length.
	RejectTooShort Verdict = "too_short"
	// RejectTooFewWords marks text with an indicator but too few words.
	RejectTooFewWords Verdict = "too_few_words"
	// RejectNoIndicator marks text with no interrogative, technical or code marker.
	RejectNoIndicator Verdict = "no_indicator"
)

// Rejected reports whether the verdict drops the text.
func (v Verdict) Rejected() bool {
	return v != Accepted
}

func runeLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}
