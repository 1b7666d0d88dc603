package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pitabwire/util"
)

// Journal implements queue.SubscribeWorker and keeps the most recent
// envelopes read back from the event queue.
type Journal struct {
	mu   sync.Mutex
	ring []Envelope
	next int
	full bool
}

// NewJournal creates a journal holding up to size envelopes.
func NewJournal(size int) *Journal {
	if size <= 0 {
		size = 100
	}
	return &Journal{ring: make([]Envelope, size)}
}

// Handle is called by frame's pub/sub for each event message.
func (j *Journal) Handle(ctx context.Context, _ map[string]string, message []byte) error {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		util.Log(ctx).WithError(err).Error("event journal: unmarshal envelope")
		return err
	}
	j.Append(env)
	slog.DebugContext(ctx, "event journal: recorded",
		slog.String("event_id", env.ID), slog.String("event_type", string(env.Type)))
	return nil
}

// Append records an envelope, evicting the oldest when full.
func (j *Journal) Append(env Envelope) {
	j.mu.Lock()
	j.ring[j.next] = env
	j.next = (j.next + 1) % len(j.ring)
	if j.next == 0 {
		j.full = true
	}
	j.mu.Unlock()
}

// Recent returns up to n envelopes, newest first.
func (j *Journal) Recent(n int) []Envelope {
	j.mu.Lock()
	defer j.mu.Unlock()

	count := j.next
	if j.full {
		count = len(j.ring)
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]Envelope, 0, n)
	for i := 1; i <= n; i++ {
		idx := (j.next - i + len(j.ring)) % len(j.ring)
		out = append(out, j.ring[idx])
	}
	return out
}
