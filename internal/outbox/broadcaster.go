package outbox

import (
	"sync"

	"github.com/eigerco/cloudberry/pkg/log"
)

// Broadcaster fans committed events out to live subscribers: network event
// streams, the WebSocket feed and metrics. Publishing never blocks on a
// subscriber; a subscriber whose buffer is full misses the event and is
// expected to catch up from the persisted log using sequence numbers.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel function removes the subscription and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers events to every subscriber, dropping for those whose
// buffers are full.
func (b *Broadcaster) Publish(events ...Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, e := range events {
		for id, ch := range b.subs {
			select {
			case ch <- e:
			default:
				log.Hub.Debug().Uint64("subscriber", id).Uint64("seq", e.Seq).
					Msg("dropping event for slow subscriber")
			}
		}
	}
}
