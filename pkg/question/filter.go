package question

import (
	"strings"
	"unicode"
)

// Default thresholds applied when no option overrides them.
const (
	DefaultMinLength    = 10
	DefaultMinWordCount = 4
)

var defaultInterrogatives = []string{
	"what", "why", "how", "when", "where", "which", "who",
	"explain", "solve", "find", "implement", "calculate",
	"describe", "define", "write", "compare",
}

var defaultTechnicalTerms = []string{
	"algorithm", "array", "api", "class", "code", "complexity", "css",
	"database", "difference", "docker", "function", "git", "html",
	"java", "javascript", "linked list", "loop", "method", "object",
	"pointer", "program", "python", "query", "react", "recursion",
	"sort", "sql", "string", "variable",
}

var defaultCodeMarkers = []string{
	"def ", "class ", "import ", "public ", "console.log",
	"system.out.println", "printf(", "function ", "void ",
	"int main", "cout", "#include", "=>", "func ",
}

// Option configures a Filter.
type Option func(*Filter)

// WithMinLength sets the minimum number of characters.
func WithMinLength(n int) Option {
	return func(f *Filter) {
		if n > 0 {
			f.minLength = n
		}
	}
}

// WithMinWordCount sets the minimum number of whitespace-separated tokens
// required when the text is admitted on an indicator word.
func WithMinWordCount(n int) Option {
	return func(f *Filter) {
		if n > 0 {
			f.minWords = n
		}
	}
}

// WithInterrogatives replaces the interrogative word list.
func WithInterrogatives(words ...string) Option {
	return func(f *Filter) { f.interrogatives = lowerAll(words) }
}

// WithTechnicalTerms replaces the technical term list.
func WithTechnicalTerms(terms ...string) Option {
	return func(f *Filter) { f.technical = lowerAll(terms) }
}

// WithCodeMarkers replaces the code marker list.
func WithCodeMarkers(markers ...string) Option {
	return func(f *Filter) { f.codeMarkers = lowerAll(markers) }
}

// Filter decides whether recognized text is an actionable question or
// code snippet. It holds no mutable state and is safe for concurrent use.
type Filter struct {
	minLength      int
	minWords       int
	interrogatives []string
	technical      []string
	codeMarkers    []string
}

// NewFilter creates a filter with the default term lists.
func NewFilter(opts ...Option) *Filter {
	f := &Filter{
		minLength:      DefaultMinLength,
		minWords:       DefaultMinWordCount,
		interrogatives: defaultInterrogatives,
		technical:      defaultTechnicalTerms,
		codeMarkers:    defaultCodeMarkers,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Classify inspects text and returns the derived Question when it is
// accepted. Matching is case-insensitive on a normalized copy; the
// returned Question carries the original text.
//
// Rules, in order: too short rejects; a code marker tags KindCode; a
// question mark tags KindQuestion; an interrogative word tags
// KindQuestion and a technical term tags KindUnknown, both subject to
// the minimum word count.
func (f *Filter) Classify(text string) (Question, Verdict) {
	if runeLen(text) < f.minLength {
		return Question{}, RejectTooShort
	}

	norm := Normalize(text)
	for _, m := range f.codeMarkers {
		if strings.Contains(norm, m) {
			return Question{Text: text, Kind: KindCode}, Accepted
		}
	}

	if strings.Contains(norm, "?") {
		return Question{Text: text, Kind: KindQuestion}, Accepted
	}

	words := tokens(norm)
	enough := len(words) >= f.minWords

	if containsWord(words, f.interrogatives) {
		if !enough {
			return Question{}, RejectTooFewWords
		}
		return Question{Text: text, Kind: KindQuestion}, Accepted
	}

	for _, term := range f.technical {
		if containsTerm(norm, words, term) {
			if !enough {
				return Question{}, RejectTooFewWords
			}
			return Question{Text: text, Kind: KindUnknown}, Accepted
		}
	}

	return Question{}, RejectNoIndicator
}

// tokens splits normalized text into words stripped of surrounding punctuation.
func tokens(norm string) []string {
	fields := strings.Fields(norm)
	out := make([]string, 0, len(fields))
	for _, w := range fields {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func containsWord(words, set []string) bool {
	for _, w := range words {
		for _, s := range set {
			if w == s {
				return true
			}
		}
	}
	return false
}

// containsTerm matches single-word terms against tokens and multi-word
// terms as substrings of the normalized text.
func containsTerm(norm string, words []string, term string) bool {
	if strings.Contains(term, " ") {
		return strings.Contains(norm, term)
	}
	for _, w := range words {
		if w == term {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
