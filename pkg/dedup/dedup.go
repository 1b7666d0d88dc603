package dedup

import (
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/cespare/xxhash/v2"

	"github.com/screenqa/screenqa/pkg/question"
)

// DefaultCooldown is the suppression window applied when none is configured.
const DefaultCooldown = 15 * time.Second

// Verdict is the outcome of checking a text against recent acceptances.
type Verdict string

const (
	Accepted   Verdict = "accepted"
	Suppressed Verdict = "suppressed"
)

// Config holds the parameters for a Deduplicator.
type Config struct {
	// Cooldown is how long an accepted text suppresses its repeats.
	Cooldown time.Duration
	// HistorySize bounds the number of recent acceptances remembered.
	// A value of 1 compares against the most recent acceptance only.
	HistorySize int
	// Similarity, when in (0, 1], also suppresses texts whose edit-distance
	// ratio to a remembered text is at least this value. Zero means exact
	// normalized equality only.
	Similarity float64
}

type entry struct {
	fingerprint uint64
	text        string
	acceptedAt  time.Time
}

// Deduplicator suppresses repeated processing of the same normalized text
// within a cool-down window. It is safe for concurrent use.
type Deduplicator struct {
	mu      sync.Mutex
	cfg     Config
	history []entry
	next    int
	held    *entry
	now     func() time.Time
}

// New creates a deduplicator.
func New(cfg Config) *Deduplicator {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1
	}
	if cfg.Similarity < 0 || cfg.Similarity > 1 {
		cfg.Similarity = 0
	}
	return &Deduplicator{
		cfg:     cfg,
		history: make([]entry, 0, cfg.HistorySize),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (d *Deduplicator) SetClock(now func() time.Time) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

// Check reports whether text is a repeat of a recent acceptance. An
// accepted text is recorded with the current time; a suppressed text
// leaves the state untouched so the window is measured from the first
// acceptance.
func (d *Deduplicator) Check(text string) Verdict {
	norm := question.Normalize(text)
	fp := xxhash.Sum64String(norm)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if h := d.held; h != nil && h.fingerprint == fp && h.text == norm {
		if now.Sub(h.acceptedAt) < d.cfg.Cooldown {
			h.acceptedAt = now
			return Suppressed
		}
		d.held = nil
	}
	for _, e := range d.history {
		if now.Sub(e.acceptedAt) >= d.cfg.Cooldown {
			continue
		}
		if e.fingerprint == fp && e.text == norm {
			return Suppressed
		}
		if d.cfg.Similarity > 0 && similarity(e.text, norm) >= d.cfg.Similarity {
			return Suppressed
		}
	}

	d.held = nil
	d.record(entry{fingerprint: fp, text: norm, acceptedAt: now})
	return Accepted
}

// Release undoes the acceptance of text recorded by the latest Check, so
// a question that could not be dispatched is accepted again next time.
func (d *Deduplicator) Release(text string) {
	norm := question.Normalize(text)
	fp := xxhash.Sum64String(norm)

	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.history {
		if d.history[i].fingerprint == fp && d.history[i].text == norm {
			d.history[i].acceptedAt = time.Time{}
			return
		}
	}
}

// Hold marks text as still on screen after its answer was cleared. Until
// a different text is accepted, a sighting of text within one cool-down
// of the previous sighting is suppressed and extends the hold, so an
// unchanged screen is not answered twice. The hold lapses once the text
// goes unseen for a full cool-down.
func (d *Deduplicator) Hold(text string) {
	norm := question.Normalize(text)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.held = &entry{fingerprint: xxhash.Sum64String(norm), text: norm, acceptedAt: d.now()}
}

// Forget drops every remembered acceptance.
func (d *Deduplicator) Forget() {
	d.mu.Lock()
	d.history = d.history[:0]
	d.next = 0
	d.held = nil
	d.mu.Unlock()
}

// Len returns the number of remembered acceptances, including expired ones.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.history)
}

// record stores e, replacing an existing entry for the same text or the
// oldest slot once the history is full.
func (d *Deduplicator) record(e entry) {
	for i := range d.history {
		if d.history[i].fingerprint == e.fingerprint && d.history[i].text == e.text {
			d.history[i] = e
			return
		}
	}
	if len(d.history) < d.cfg.HistorySize {
		d.history = append(d.history, e)
		return
	}
	d.history[d.next] = e
	d.next = (d.next + 1) % d.cfg.HistorySize
}

// similarity returns 1 - distance/maxLen over runes.
func similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}
