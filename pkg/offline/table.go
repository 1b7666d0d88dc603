package offline

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/screenqa/screenqa/pkg/question"
)

// GenericAnswer is returned when neither a provider nor the offline table
// can answer a question.
const GenericAnswer = "This looks like a technical question, but no answer service is reachable right now. " +
	"Official documentation or a focused tutorial on the topic is the best next step."

// ErrNotFound is returned by Lookup when no entry matches.
var ErrNotFound = errors.New("offline: no matching answer")

//go:embed answers.yaml
var defaultAnswers []byte

// Entry maps a set of patterns to a canned answer.
type Entry struct {
	Patterns []string `yaml:"patterns"`
	Answer   string   `yaml:"answer"`
}

// Table is an ordered list of entries. The zero value matches nothing.
type Table struct {
	Entries []Entry `yaml:"entries"`
}

// Lookup returns the answer of the first entry with a pattern contained in
// the normalized text. It performs no I/O.
func (t *Table) Lookup(text string) (string, error) {
	if t == nil {
		return "", ErrNotFound
	}
	norm := question.Normalize(text)
	for _, e := range t.Entries {
		for _, p := range e.Patterns {
			if p != "" && strings.Contains(norm, p) {
				return e.Answer, nil
			}
		}
	}
	return "", ErrNotFound
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Entries)
}

// Parse decodes a YAML table and normalizes its patterns.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	for i := range t.Entries {
		e := &t.Entries[i]
		if strings.TrimSpace(e.Answer) == "" {
			return nil, fmt.Errorf("entry %d: empty answer", i)
		}
		if len(e.Patterns) == 0 {
			return nil, fmt.Errorf("entry %d: no patterns", i)
		}
		for j, p := range e.Patterns {
			e.Patterns[j] = question.Normalize(p)
		}
	}
	return &t, nil
}

// Default returns the built-in table.
func Default() *Table {
	t, err := Parse(defaultAnswers)
	if err != nil {
		panic(fmt.Sprintf("offline: invalid built-in answers: %v", err))
	}
	return t
}
