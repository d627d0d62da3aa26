package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
//
// Publishing never blocks. When a subscriber's buffer is full the oldest queued
// event is discarded to make room, so a slow reader always ends up holding the
// most recent state.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	key       string
	ch        chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

func (s *subscription) matches(evt Event) bool {
	if !strings.HasPrefix(evt.Kind, s.namespace) {
		return false
	}
	return s.key == "" || evt.Key == "" || evt.Key == s.key
}

// Publish sends an event to all subscribers whose namespace is a prefix of
// event.Kind and whose key (if any) matches event.Key.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.matches(evt) {
			continue
		}
		for range 2 {
			select {
			case sub.ch <- evt:
			default:
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribe returns a channel that receives events matching the given namespace
// prefix and key. An empty key receives events for every key.
// bufSize controls the channel buffer (minimum 1). Returns the channel and an
// unsubscribe function.
func (b *Bus) Subscribe(namespace, key string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, max(bufSize, 1))
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, key: key, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}
