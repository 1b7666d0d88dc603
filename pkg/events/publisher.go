package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pitabwire/frame/queue"
	"github.com/rs/xid"
)

const defaultWatchBuffer = 64

type questionIDKey struct{}

// NewQuestionID returns a fresh, time-ordered question id.
func NewQuestionID() string {
	return xid.New().String()
}

// WithQuestionID returns a context whose events are stamped with id.
func WithQuestionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, questionIDKey{}, id)
}

// QuestionID returns the id stored by WithQuestionID, or "".
func QuestionID(ctx context.Context) string {
	id, _ := ctx.Value(questionIDKey{}).(string)
	return id
}

// Publisher stamps pipeline events into envelopes, hands them to any
// in-process watchers and publishes them on the frame queue. A nil queue
// manager keeps delivery in-process.
type Publisher struct {
	queue  queue.Manager
	ref    string
	source string

	mu       sync.RWMutex
	watchers map[uint64]chan Envelope
	nextID   uint64
	dropped  atomic.Uint64
}

// NewPublisher creates a publisher that tags envelopes with source and
// publishes to the queue registered under ref.
func NewPublisher(qm queue.Manager, source, ref string) *Publisher {
	return &Publisher{
		queue:    qm,
		ref:      ref,
		source:   source,
		watchers: make(map[uint64]chan Envelope),
	}
}

// Emit records one event. Watchers that cannot keep up miss the event;
// the queue publish error, if any, is returned. Emit on a nil publisher
// is a no-op.
func (p *Publisher) Emit(ctx context.Context, eventType EventType, data any) error {
	if p == nil {
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	env := Envelope{
		ID:         xid.New().String(),
		Type:       eventType,
		Source:     p.source,
		QuestionID: QuestionID(ctx),
		Timestamp:  time.Now().UTC(),
		Data:       raw,
	}

	p.notify(ctx, env)

	if p.queue == nil || p.ref == "" {
		return nil
	}
	if err := p.queue.Publish(ctx, p.ref, env); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

func (p *Publisher) notify(ctx context.Context, env Envelope) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for id, ch := range p.watchers {
		select {
		case ch <- env:
		default:
			p.dropped.Add(1)
			slog.WarnContext(ctx, "events: watcher too slow, event dropped",
				slog.Uint64("watcher", id), slog.String("event_type", string(env.Type)))
		}
	}
}

// Watch streams every emitted envelope until ctx is done, then closes the
// channel. buf <= 0 uses a default buffer.
func (p *Publisher) Watch(ctx context.Context, buf int) <-chan Envelope {
	if buf <= 0 {
		buf = defaultWatchBuffer
	}
	ch := make(chan Envelope, buf)

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.watchers[id] = ch
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.watchers, id)
		close(ch)
		p.mu.Unlock()
	}()
	return ch
}

// Dropped reports how many envelopes watchers have missed.
func (p *Publisher) Dropped() uint64 {
	if p == nil {
		return 0
	}
	return p.dropped.Load()
}
