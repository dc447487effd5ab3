package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by stoerbot components.
const (
	TypePassStarted   = "pass.started"
	TypePassCompleted = "pass.completed"
	TypePassSkipped   = "pass.skipped"
	TypeScheduleSkip  = "schedule.skipped"
	TypeNotifySent    = "notifier.sent"
	TypeNotifyFailed  = "notifier.failed"
	TypeConfigApplied = "config.applied"
)

// Event is an in-memory signal between components: pass lifecycle,
// notification outcomes, config changes. Publish never blocks; a subscriber
// whose buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// MemBus fans events out to buffered channels. It owns no goroutines.
type MemBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan Event

	dropped atomic.Uint64
}

func New() *MemBus {
	return &MemBus{subs: make(map[uint64]chan Event)}
}

// Publish stamps e with the current time if unset and offers it to every
// subscriber. The read lock is held while sending so unsubscribe cannot
// close a channel under a send.
func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a channel with the given buffer (default 8). The
// returned func unsubscribes and closes the channel; calling it twice is fine.
func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; !ok {
			return
		}
		delete(b.subs, id)
		close(ch)
	}
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }
