package capture

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mailbox is a single-slot buffer between a frame producer and a slower
// consumer. Put never blocks: a frame still waiting in the slot is
// closed and replaced by the newer one.
type Mailbox struct {
	mu    sync.Mutex
	slot  chan *Frame
	drops atomic.Uint64
	puts  atomic.Uint64
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{slot: make(chan *Frame, 1)}
}

// Put stores f, evicting any frame not yet taken.
func (m *Mailbox) Put(f *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case old := <-m.slot:
		old.Close()
		m.drops.Add(1)
	default:
	}
	m.slot <- f
	m.puts.Add(1)
}

// Take blocks until a frame is available or ctx is done.
func (m *Mailbox) Take(ctx context.Context) (*Frame, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case f := <-m.slot:
		return f, true
	}
}

// Drain closes any frame left in the slot.
func (m *Mailbox) Drain() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case old := <-m.slot:
		old.Close()
	default:
	}
}

// Drops returns the number of frames evicted before being taken.
func (m *Mailbox) Drops() uint64 { return m.drops.Load() }

// Puts returns the number of frames stored.
func (m *Mailbox) Puts() uint64 { return m.puts.Load() }

// Latest adapts a frame channel into latest-frame-wins delivery: the
// returned channel always yields the newest frame received from in while
// the consumer was busy. It closes when in closes or ctx is done.
func Latest(ctx context.Context, in <-chan *Frame) (<-chan *Frame, *Mailbox) {
	box := NewMailbox()
	out := make(chan *Frame)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-in:
				if !ok {
					return
				}
				box.Put(f)
			}
		}
	}()

	go func() {
		defer close(out)
		defer box.Drain()
		for {
			select {
			case <-ctx.Done():
				return
			case f := <-box.slot:
				select {
				case out <- f:
				case <-ctx.Done():
					f.Close()
					return
				}
			case <-done:
				// Flush the last pending frame before closing.
				select {
				case f := <-box.slot:
					select {
					case out <- f:
					case <-ctx.Done():
						f.Close()
					}
				default:
				}
				return
			}
		}
	}()

	return out, box
}
